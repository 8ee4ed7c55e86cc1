package hotstate_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outboundhq/engine/internal/domain"
	"github.com/outboundhq/engine/internal/hotstate"
)

func setupTestHotstate(t *testing.T) (*hotstate.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := hotstate.NewFromRedis(rdb)

	return client, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestInitCounters_IsIdempotent(t *testing.T) {
	client, cleanup := setupTestHotstate(t)
	defer cleanup()
	ctx := context.Background()

	c1, err := client.InitCounters(ctx, "batch-1", 10)
	require.NoError(t, err)
	assert.Equal(t, hotstate.Counters{Sent: 0, Failed: 0, Total: 10}, c1)

	_, err = client.RecordOutcome(ctx, "batch-1", "r1", hotstate.OutcomeRecord{Status: domain.RecipientSent})
	require.NoError(t, err)

	// Redelivery of the "batch queued" notification must not reset progress.
	c2, err := client.InitCounters(ctx, "batch-1", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, c2.Sent)
	assert.Equal(t, 10, c2.Total)
}

func TestRecordOutcome_IncrementsAndDetectsCompletion(t *testing.T) {
	client, cleanup := setupTestHotstate(t)
	defer cleanup()
	ctx := context.Background()

	_, err := client.InitCounters(ctx, "batch-2", 2)
	require.NoError(t, err)

	c, err := client.RecordOutcome(ctx, "batch-2", "r1", hotstate.OutcomeRecord{Status: domain.RecipientSent})
	require.NoError(t, err)
	assert.False(t, c.IsComplete())

	c, err = client.RecordOutcome(ctx, "batch-2", "r2", hotstate.OutcomeRecord{Status: domain.RecipientFailed})
	require.NoError(t, err)
	assert.True(t, c.IsComplete())
	assert.Equal(t, 1, c.Sent)
	assert.Equal(t, 1, c.Failed)
}

func TestIdempotencySweep_DropsTerminalRecipients(t *testing.T) {
	client, cleanup := setupTestHotstate(t)
	defer cleanup()
	ctx := context.Background()

	_, err := client.InitCounters(ctx, "batch-3", 3)
	require.NoError(t, err)
	_, err = client.RecordOutcome(ctx, "batch-3", "r1", hotstate.OutcomeRecord{Status: domain.RecipientSent})
	require.NoError(t, err)

	survivors, err := client.IdempotencySweep(ctx, "batch-3", []string{"r1", "r2", "r3"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"r2", "r3"}, survivors)
}

func TestPendingSync_DrainAndRemove(t *testing.T) {
	client, cleanup := setupTestHotstate(t)
	defer cleanup()
	ctx := context.Background()

	_, err := client.InitCounters(ctx, "batch-4", 2)
	require.NoError(t, err)
	_, err = client.RecordOutcome(ctx, "batch-4", "r1", hotstate.OutcomeRecord{Status: domain.RecipientSent})
	require.NoError(t, err)
	_, err = client.RecordOutcome(ctx, "batch-4", "r2", hotstate.OutcomeRecord{Status: domain.RecipientFailed})
	require.NoError(t, err)

	n, err := client.PendingCount(ctx, "batch-4")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	ids, err := client.DrainPending(ctx, "batch-4", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"r1", "r2"}, ids)

	require.NoError(t, client.RemovePending(ctx, "batch-4", ids))
	n, err = client.PendingCount(ctx, "batch-4")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}
