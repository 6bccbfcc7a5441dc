package ctxlogger

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingledger/pkg/telemetry/correlation"
	"github.com/smallbiznis/billingledger/pkg/tenantctx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsTenantAndCorrelation(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := tenantctx.WithTenantID(context.Background(), snowflake.ID(7))
	ctx = correlation.ContextWithCorrelationID(ctx, "cid-1")

	WithContext(ctx, base).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	require.Equal(t, "7", fields["tenant_id"])
	require.Equal(t, "cid-1", fields["correlation_id"])
	require.NotContains(t, fields, "trace_id")
}
