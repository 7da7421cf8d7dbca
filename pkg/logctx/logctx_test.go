package logctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromCtx_EnrichesBaseWithTraceAndUser(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core).Sugar()

	ctx := WithUserID(WithTraceID(context.Background(), "trace-1"), "user-1")
	FromCtx(ctx, base).Infow("hello")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "trace-1", fields["trace_id"])
	require.Equal(t, "user-1", fields["user_id"])
}

func TestFromCtx_PrefersAttachedLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zap.InfoLevel)
	reqCore, reqLogs := observer.New(zap.InfoLevel)

	ctx := WithLogger(context.Background(), zap.New(reqCore).Sugar())
	FromCtx(ctx, zap.New(baseCore).Sugar()).Info("x")

	require.Zero(t, baseLogs.Len())
	require.Equal(t, 1, reqLogs.Len())
	require.Equal(t, "", TraceID(ctx))
}
