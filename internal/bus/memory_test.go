package bus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outboundhq/engine/internal/bus"
)

func TestMemoryBus_PublishDedup(t *testing.T) {
	b := bus.NewMemoryBus()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, "sys.batch.process", "batch:1:chunk:0", []byte("a")))
	require.NoError(t, b.Publish(ctx, "sys.batch.process", "batch:1:chunk:0", []byte("b")))

	assert.Equal(t, 1, b.Len("sys.batch.process"), "republish with the same msgID must be a no-op")
}

func TestMemoryBus_FetchAndNackRedelivers(t *testing.T) {
	b := bus.NewMemoryBus()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, "user.u1.chunk", "batch:1:chunk:0", []byte("payload")))

	sub, err := b.PullSubscribe(ctx, "user.u1.chunk", "durable-1", 30*time.Second, 5)
	require.NoError(t, err)

	msgs, err := sub.Fetch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, msgs[0].Delivered())

	require.NoError(t, msgs[0].Nack(0))
	assert.Equal(t, 1, b.Len("user.u1.chunk"))

	msgs2, err := sub.Fetch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs2, 1)
	assert.Equal(t, 2, msgs2[0].Delivered(), "redelivery must increment the delivery count")
}
