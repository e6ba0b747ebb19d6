// Package session derives the session id used to collapse repeated views.
//
// The fingerprint derivation is a heuristic for clients without durable state, not an
// identity. A cookie-backed Resolver can replace it without touching the recorder.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

type Resolver interface {
	// Resolve returns the caller-supplied session id when present, otherwise a derived one.
	Resolve(originAddress, clientSignature string, supplied *string, now time.Time) string
}

// FingerprintResolver hashes origin, client signature and a coarse time bucket.
// Requests from one browsing context inside the same bucket map to the same id.
type FingerprintResolver struct {
	Bucket time.Duration
}

func NewFingerprintResolver(bucket time.Duration) FingerprintResolver {
	if bucket <= 0 {
		bucket = 30 * time.Minute
	}
	return FingerprintResolver{Bucket: bucket}
}

func (r FingerprintResolver) Resolve(originAddress, clientSignature string, supplied *string, now time.Time) string {
	if supplied != nil {
		if s := strings.TrimSpace(*supplied); s != "" {
			return s
		}
	}

	bucket := r.Bucket
	if bucket <= 0 {
		bucket = 30 * time.Minute
	}
	slot := now.UTC().UnixNano() / int64(bucket)

	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(originAddress)))
	h.Write([]byte{'\n'})
	h.Write([]byte(strings.TrimSpace(clientSignature)))
	h.Write([]byte{'\n'})
	h.Write([]byte(strconv.FormatInt(slot, 10)))
	return "fp_" + hex.EncodeToString(h.Sum(nil))[:32]
}
