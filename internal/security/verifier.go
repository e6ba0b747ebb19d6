package security

import (
	"errors"
	"strings"
)

var (
	ErrTokenMissing = errors.New("token missing")
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
)

// AccessTokenVerifier checks a raw access token and returns its claims.
type AccessTokenVerifier interface {
	VerifyAccessToken(token string) (TokenClaims, error)
}

// BearerToken extracts the token from an Authorization header value.
// An empty header is ErrTokenMissing; any other scheme or an empty token is ErrTokenInvalid.
func BearerToken(header string) (string, error) {
	h := strings.TrimSpace(header)
	if h == "" {
		return "", ErrTokenMissing
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrTokenInvalid
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrTokenInvalid
	}
	return token, nil
}
