package senderworker_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outboundhq/engine/internal/batchprocessor"
	"github.com/outboundhq/engine/internal/domain"
	"github.com/outboundhq/engine/internal/eventstore"
	"github.com/outboundhq/engine/internal/hotstate"
	"github.com/outboundhq/engine/internal/modules"
	"github.com/outboundhq/engine/internal/modules/mock"
	"github.com/outboundhq/engine/internal/senderworker"
)

type fakeRecipientLoader struct {
	recs map[string]domain.Recipient
}

func (f *fakeRecipientLoader) GetBatch(_ context.Context, ids []string) ([]domain.Recipient, error) {
	var out []domain.Recipient
	for _, id := range ids {
		out = append(out, f.recs[id])
	}
	return out, nil
}

type fakeIndexer struct {
	entries []eventstore.IndexEntry
}

func (f *fakeIndexer) IndexMessage(_ context.Context, _ string, entry eventstore.IndexEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func setupHotstate(t *testing.T) *hotstate.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return hotstate.NewFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestWorker_HandleChunk_DryRunRecordsSent(t *testing.T) {
	hot := setupHotstate(t)
	ctx := context.Background()
	_, err := hot.InitCounters(ctx, "b1", 2)
	require.NoError(t, err)

	loader := &fakeRecipientLoader{recs: map[string]domain.Recipient{
		"r1": {ID: "r1", BatchID: "b1", Identifier: "a@example.com"},
		"r2": {ID: "r2", BatchID: "b1", Identifier: "b@example.com"},
	}}
	registry := modules.NewRegistry()
	registry.RegisterMock(mock.NewModule(domain.ModuleEmail, 0))

	indexer := &fakeIndexer{}
	w := senderworker.New(hot, loader, registry, indexer)

	msg := batchprocessor.ChunkMessage{
		BatchID: "b1", UserID: "u1", ChunkIndex: 0,
		RecipientIDs: []string{"r1", "r2"},
		SendConfig: domain.SendConfig{
			ID: "sc1", Module: domain.ModuleEmail,
			ConfigJSON: json.RawMessage(`{"provider":"mock","from_email":"from@example.com"}`),
		},
		Payload: domain.Payload{Subject: "Welcome", HTMLContent: "<p>hi</p>"},
		DryRun:  true,
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	require.NoError(t, w.HandleChunk(ctx, data))

	counters, err := hot.GetCounters(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 2, counters.Sent)
	assert.True(t, counters.IsComplete())
	assert.Len(t, indexer.entries, 2)
}

func TestWorker_HandleChunk_MissingPayloadFailsValidation(t *testing.T) {
	hot := setupHotstate(t)
	ctx := context.Background()
	_, err := hot.InitCounters(ctx, "b1", 1)
	require.NoError(t, err)

	loader := &fakeRecipientLoader{recs: map[string]domain.Recipient{
		"r1": {ID: "r1", BatchID: "b1", Identifier: "a@example.com"},
	}}
	registry := modules.NewRegistry()
	registry.RegisterMock(mock.NewModule(domain.ModuleEmail, 0))
	w := senderworker.New(hot, loader, registry, nil)

	msg := batchprocessor.ChunkMessage{
		BatchID: "b1", UserID: "u1", ChunkIndex: 0,
		RecipientIDs: []string{"r1"},
		SendConfig: domain.SendConfig{
			ID: "sc1", Module: domain.ModuleEmail,
			ConfigJSON: json.RawMessage(`{"provider":"mock","from_email":"from@example.com"}`),
		},
		DryRun: true,
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	require.NoError(t, w.HandleChunk(ctx, data))

	counters, err := hot.GetCounters(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Failed)
}

func TestWorker_HandleChunk_DropsIdempotentRecipients(t *testing.T) {
	hot := setupHotstate(t)
	ctx := context.Background()
	_, err := hot.InitCounters(ctx, "b1", 1)
	require.NoError(t, err)
	_, err = hot.RecordOutcome(ctx, "b1", "r1", hotstate.OutcomeRecord{Status: domain.RecipientDelivered})
	require.NoError(t, err)

	loader := &fakeRecipientLoader{}
	registry := modules.NewRegistry()
	w := senderworker.New(hot, loader, registry, nil)

	msg := batchprocessor.ChunkMessage{
		BatchID: "b1", UserID: "u1",
		RecipientIDs: []string{"r1"},
		SendConfig:   domain.SendConfig{ID: "sc1", Module: domain.ModuleEmail},
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	require.NoError(t, w.HandleChunk(ctx, data))
}
