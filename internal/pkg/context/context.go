// Package context carries request-scoped values that outlive the HTTP layer:
// the request id doubles as the trace id of events written while serving it.
package context

import (
	"context"
	"strings"
)

type requestIDKey struct{}

// WithRequestID stores id on ctx. A blank id leaves ctx untouched.
func WithRequestID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(requestIDKey{}).(string)
	return s
}

// TraceID is the id stamped on audit lines and outbox envelopes. Background work
// without a request gets fallback.
func TraceID(ctx context.Context, fallback string) string {
	if rid := GetRequestID(ctx); rid != "" {
		return rid
	}
	return fallback
}
