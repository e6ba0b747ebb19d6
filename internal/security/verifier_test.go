package security_test

import (
	"testing"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/security"
	"github.com/stretchr/testify/assert"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{"ok", "Bearer abc", "abc", nil},
		{"scheme is case insensitive", "bearer  abc ", "abc", nil},
		{"missing", "   ", "", security.ErrTokenMissing},
		{"basic scheme", "Basic abc", "", security.ErrTokenInvalid},
		{"no token", "Bearer ", "", security.ErrTokenInvalid},
		{"no separator", "Bearerabc", "", security.ErrTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := security.BearerToken(tt.header)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
