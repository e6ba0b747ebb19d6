package security

import (
	"strings"
	"time"
)

type TokenClaims struct {
	UserID  string
	Role    string
	Ver     int64
	Exp     time.Time
	Issuer  string
	Subject string
}

// ViewerID is the identity recorded on a view: uid, or sub when uid is absent.
func (c TokenClaims) ViewerID() string {
	if id := strings.TrimSpace(c.UserID); id != "" {
		return id
	}
	return strings.TrimSpace(c.Subject)
}

func (c TokenClaims) IsAdmin() bool {
	return strings.EqualFold(strings.TrimSpace(c.Role), "admin")
}
