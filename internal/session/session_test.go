package session_test

import (
	"testing"
	"time"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/session"
	"github.com/stretchr/testify/assert"
)

func TestFingerprintResolver_Resolve(t *testing.T) {
	r := session.NewFingerprintResolver(30 * time.Minute)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("supplied id wins", func(t *testing.T) {
		sid := "  cookie-123 "
		assert.Equal(t, "cookie-123", r.Resolve("1.2.3.4", "ua", &sid, base))
	})

	t.Run("blank supplied id falls back to fingerprint", func(t *testing.T) {
		blank := "   "
		got := r.Resolve("1.2.3.4", "ua", &blank, base)
		assert.Equal(t, r.Resolve("1.2.3.4", "ua", nil, base), got)
	})

	t.Run("same context same bucket collapses", func(t *testing.T) {
		a := r.Resolve("1.2.3.4", "Mozilla/5.0", nil, base)
		b := r.Resolve("1.2.3.4", "Mozilla/5.0", nil, base.Add(10*time.Minute))
		assert.Equal(t, a, b)
		assert.Len(t, a, len("fp_")+32)
	})

	t.Run("different signature differs", func(t *testing.T) {
		a := r.Resolve("1.2.3.4", "Mozilla/5.0", nil, base)
		b := r.Resolve("1.2.3.4", "curl/8.0", nil, base)
		assert.NotEqual(t, a, b)
	})

	t.Run("next bucket differs", func(t *testing.T) {
		a := r.Resolve("1.2.3.4", "Mozilla/5.0", nil, base)
		b := r.Resolve("1.2.3.4", "Mozilla/5.0", nil, base.Add(30*time.Minute))
		assert.NotEqual(t, a, b)
	})
}

func TestNewFingerprintResolver_DefaultBucket(t *testing.T) {
	r := session.NewFingerprintResolver(0)
	assert.Equal(t, 30*time.Minute, r.Bucket)
}
