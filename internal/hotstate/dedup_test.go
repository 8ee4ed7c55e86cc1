package hotstate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAndMarkWebhookEvent_FirstSeenThenDuplicate(t *testing.T) {
	client, cleanup := setupTestHotstate(t)
	defer cleanup()
	ctx := context.Background()

	first, err := client.CheckAndMarkWebhookEvent(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := client.CheckAndMarkWebhookEvent(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, second, "republishing the same event id must be a no-op")

	third, err := client.CheckAndMarkWebhookEvent(ctx, "evt-2")
	require.NoError(t, err)
	assert.True(t, third)
}
