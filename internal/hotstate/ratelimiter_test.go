package hotstate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRateLimit_BlocksOverCeiling(t *testing.T) {
	client, cleanup := setupTestHotstate(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := client.AcquireRateLimit(ctx, "sc-1", 3)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "call %d should be allowed within the ceiling", i)
	}

	res, err := client.AcquireRateLimit(ctx, "sc-1", 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestAcquireRateLimit_IsolatedPerSendConfig(t *testing.T) {
	client, cleanup := setupTestHotstate(t)
	defer cleanup()
	ctx := context.Background()

	res, err := client.AcquireRateLimit(ctx, "sc-a", 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = client.AcquireRateLimit(ctx, "sc-b", 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "a distinct sendConfigId must have its own bucket")
}
