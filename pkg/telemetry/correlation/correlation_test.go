package correlation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureCorrelationID(t *testing.T) {
	ctx, cid := EnsureCorrelationID(context.Background())
	require.NotEmpty(t, cid)
	require.Equal(t, cid, ExtractCorrelationID(ctx))

	again, same := EnsureCorrelationID(ctx)
	require.Equal(t, cid, same)
	require.Equal(t, cid, ExtractCorrelationID(again))
}
