package rest

import "context"

type ctxKeyAuth struct{}

// AuthContext is present only for requests that carried a valid bearer token.
type AuthContext struct {
	ViewerID string
	Role     string
	Admin    bool
}

func withAuth(ctx context.Context, a AuthContext) context.Context {
	return context.WithValue(ctx, ctxKeyAuth{}, a)
}

func GetAuth(ctx context.Context) (AuthContext, bool) {
	a, ok := ctx.Value(ctxKeyAuth{}).(AuthContext)
	return a, ok
}
