package batchprocessor_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outboundhq/engine/internal/batchprocessor"
	"github.com/outboundhq/engine/internal/bus"
	"github.com/outboundhq/engine/internal/domain"
	"github.com/outboundhq/engine/internal/hotstate"
	"github.com/outboundhq/engine/internal/service/batch"
)

type fakeRepo struct {
	mu           sync.Mutex
	batches      map[string]*domain.Batch
	sendConfig   *domain.SendConfig
	pendingIDs   []string
	queuedCalled []string
}

func (f *fakeRepo) Get(_ context.Context, id string) (*domain.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.batches[id]
	cp := *b
	return &cp, nil
}
func (f *fakeRepo) ListByStatus(context.Context, domain.BatchStatus, int) ([]domain.Batch, error) {
	return nil, nil
}
func (f *fakeRepo) ListScheduledDue(context.Context, time.Time, int) ([]domain.Batch, error) {
	return nil, nil
}
func (f *fakeRepo) ListStuck(context.Context, time.Time, int) ([]domain.Batch, error) { return nil, nil }
func (f *fakeRepo) UpdateStatus(_ context.Context, id string, from, to domain.BatchStatus, fields batch.TransitionFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.batches[id]
	if b.Status != from {
		return batch.ErrInvalidTransition
	}
	b.Status = to
	if fields.StartedAt != nil {
		b.StartedAt = fields.StartedAt
	}
	if fields.CompletedAt != nil {
		b.CompletedAt = fields.CompletedAt
	}
	return nil
}
func (f *fakeRepo) PendingRecipientIDs(context.Context, string) ([]string, error) {
	return f.pendingIDs, nil
}
func (f *fakeRepo) MarkRecipientsQueued(_ context.Context, _ string, recipientIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queuedCalled = append(f.queuedCalled, recipientIDs...)
	return nil
}
func (f *fakeRepo) CountQueuedRecipients(context.Context, string) (int, error) { return 0, nil }
func (f *fakeRepo) CountTerminalRecipients(context.Context, string) (int, int, error) {
	return 0, 0, nil
}
func (f *fakeRepo) GetSendConfig(context.Context, string) (*domain.SendConfig, error) {
	return f.sendConfig, nil
}

func TestProcessor_FansBatchIntoChunks(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	hot := hotstate.NewFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	scID := "sc1"
	payloadJSON, err := json.Marshal(domain.Payload{Subject: "Hello", HTMLContent: "<p>hi</p>"})
	require.NoError(t, err)
	repo := &fakeRepo{
		batches: map[string]*domain.Batch{
			"b1": {ID: "b1", UserID: "u1", Status: domain.BatchQueued, SendConfigID: &scID, PayloadJSON: payloadJSON},
		},
		sendConfig: &domain.SendConfig{
			ID: scID, Module: domain.ModuleWebhook,
			RateLimit: &domain.RateLimit{RecipientsPerRequest: 2},
		},
		pendingIDs: []string{"r1", "r2", "r3"},
	}
	svc := batch.NewService(repo)
	memBus := bus.NewMemoryBus()
	proc := batchprocessor.New(svc, hot, memBus)

	note, err := json.Marshal(map[string]string{"batchId": "b1", "userId": "u1"})
	require.NoError(t, err)

	require.NoError(t, proc.HandleNotification(context.Background(), note))

	b, _ := repo.Get(context.Background(), "b1")
	assert.Equal(t, domain.BatchProcessing, b.Status)
	assert.Equal(t, 2, memBus.Len("user.u1.chunk")) // 3 recipients / chunkSize 2 -> 2 chunks

	counters, err := hot.GetCounters(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, 3, counters.Total)

	assert.ElementsMatch(t, []string{"r1", "r2", "r3"}, repo.queuedCalled)

	sub, err := memBus.PullSubscribe(context.Background(), "user.u1.chunk", "test", 0, 1)
	require.NoError(t, err)
	msgs, err := sub.Fetch(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	var chunk batchprocessor.ChunkMessage
	require.NoError(t, json.Unmarshal(msgs[0].Data(), &chunk))
	assert.Equal(t, "Hello", chunk.Payload.Subject)
	assert.Equal(t, "<p>hi</p>", chunk.Payload.HTMLContent)
}

func TestProcessor_SkipsAlreadyClaimedBatch(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	hot := hotstate.NewFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	repo := &fakeRepo{
		batches: map[string]*domain.Batch{
			"b1": {ID: "b1", UserID: "u1", Status: domain.BatchProcessing},
		},
	}
	svc := batch.NewService(repo)
	memBus := bus.NewMemoryBus()
	proc := batchprocessor.New(svc, hot, memBus)

	note, _ := json.Marshal(map[string]string{"batchId": "b1", "userId": "u1"})
	require.NoError(t, proc.HandleNotification(context.Background(), note))
	assert.Equal(t, 0, memBus.Len("user.u1.chunk"))
}
