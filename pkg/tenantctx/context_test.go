package tenantctx

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
)

func TestTenantIDRoundTrip(t *testing.T) {
	_, ok := TenantID(context.Background())
	require.False(t, ok)

	ctx := WithTenantID(context.Background(), snowflake.ID(42))
	id, ok := TenantID(ctx)
	require.True(t, ok)
	require.Equal(t, snowflake.ID(42), id)

	_, ok = TenantID(WithTenantID(context.Background(), 0))
	require.False(t, ok)
}
