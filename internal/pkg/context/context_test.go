package context_test

import (
	"context"
	"testing"

	appCtx "github.com/baechuer/real-time-ressys/services/view-service/internal/pkg/context"
	"github.com/stretchr/testify/assert"
)

func TestRequestID(t *testing.T) {
	ctx := appCtx.WithRequestID(context.Background(), " rid-1 ")
	assert.Equal(t, "rid-1", appCtx.GetRequestID(ctx))
	assert.Equal(t, "rid-1", appCtx.TraceID(ctx, "sweep"))
}

func TestRequestID_BlankAndMissing(t *testing.T) {
	base := context.Background()
	assert.Equal(t, base, appCtx.WithRequestID(base, "  "))
	assert.Equal(t, "", appCtx.GetRequestID(base))
	assert.Equal(t, "", appCtx.GetRequestID(nil))
	assert.Equal(t, "sweep", appCtx.TraceID(base, "sweep"))
}
