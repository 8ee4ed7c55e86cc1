package reconciler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outboundhq/engine/internal/domain"
	"github.com/outboundhq/engine/internal/hotstate"
	"github.com/outboundhq/engine/internal/reconciler"
	"github.com/outboundhq/engine/internal/service/batch"
)

type fakeRepo struct {
	mu             sync.Mutex
	batches        map[string]*domain.Batch
	queuedCounts   map[string]int
	terminalCounts map[string][2]int // batchID -> [terminal, total]; absent means "fully terminal"
}

func (f *fakeRepo) Get(_ context.Context, id string) (*domain.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.batches[id]
	return &cp, nil
}
func (f *fakeRepo) ListByStatus(context.Context, domain.BatchStatus, int) ([]domain.Batch, error) {
	return nil, nil
}
func (f *fakeRepo) ListScheduledDue(context.Context, time.Time, int) ([]domain.Batch, error) {
	return nil, nil
}
func (f *fakeRepo) ListStuck(_ context.Context, olderThan time.Time, limit int) ([]domain.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Batch
	for _, b := range f.batches {
		if b.Status == domain.BatchProcessing && b.StartedAt != nil && b.StartedAt.Before(olderThan) {
			out = append(out, *b)
		}
	}
	return out, nil
}
func (f *fakeRepo) UpdateStatus(_ context.Context, id string, from, to domain.BatchStatus, fields batch.TransitionFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.batches[id]
	if b.Status != from {
		return batch.ErrInvalidTransition
	}
	b.Status = to
	if fields.CompletedAt != nil {
		b.CompletedAt = fields.CompletedAt
	}
	if fields.ClearStartedAt {
		b.StartedAt = nil
	}
	return nil
}
func (f *fakeRepo) PendingRecipientIDs(context.Context, string) ([]string, error) { return nil, nil }
func (f *fakeRepo) MarkRecipientsQueued(context.Context, string, []string) error  { return nil }
func (f *fakeRepo) CountQueuedRecipients(_ context.Context, batchID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queuedCounts[batchID], nil
}
func (f *fakeRepo) CountTerminalRecipients(_ context.Context, batchID string) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tc, ok := f.terminalCounts[batchID]; ok {
		return tc[0], tc[1], nil
	}
	return 2, 2, nil
}
func (f *fakeRepo) GetSendConfig(context.Context, string) (*domain.SendConfig, error) { return nil, nil }

type recordingSyncer struct {
	synced map[string][]string
}

func (s *recordingSyncer) SyncRecipients(_ context.Context, batchID string, ids []string) error {
	s.synced[batchID] = append(s.synced[batchID], ids...)
	return nil
}

func TestReconciler_DrainOnceFinalizesCompleteBatch(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	hot := hotstate.NewFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	_, err = hot.InitCounters(ctx, "b1", 1)
	require.NoError(t, err)
	_, err = hot.RecordOutcome(ctx, "b1", "r1", hotstate.OutcomeRecord{Status: domain.RecipientSent})
	require.NoError(t, err)

	repo := &fakeRepo{batches: map[string]*domain.Batch{
		"b1": {ID: "b1", Status: domain.BatchProcessing},
	}}
	svc := batch.NewService(repo)
	syncer := &recordingSyncer{synced: map[string][]string{}}
	rec := reconciler.New(hot, svc, syncer, 500, 15*time.Minute, func() bool { return true })

	require.NoError(t, rec.DrainOnce(ctx))

	assert.Equal(t, []string{"r1"}, syncer.synced["b1"])
	b, _ := repo.Get(ctx, "b1")
	assert.Equal(t, domain.BatchCompleted, b.Status)
}

func TestReconciler_ScanStuckBatchesFinalizesAllTerminal(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	hot := hotstate.NewFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	old := time.Now().Add(-20 * time.Minute)
	repo := &fakeRepo{batches: map[string]*domain.Batch{
		"b1": {ID: "b1", Status: domain.BatchProcessing, StartedAt: &old},
	}}
	svc := batch.NewService(repo)
	rec := reconciler.New(hot, svc, nil, 500, 15*time.Minute, func() bool { return true })

	require.NoError(t, rec.ScanStuckBatches(ctx))

	b, _ := repo.Get(ctx, "b1")
	assert.Equal(t, domain.BatchCompleted, b.Status)
}

func TestReconciler_ScanStuckBatchesResetsWhenRecipientsStillQueued(t *testing.T) {
	hot := hotstate.NewFromRedis(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}))
	old := time.Now().Add(-15 * time.Minute)
	repo := &fakeRepo{
		batches: map[string]*domain.Batch{
			"b1": {ID: "b1", Status: domain.BatchProcessing, StartedAt: &old},
		},
		terminalCounts: map[string][2]int{"b1": {0, 2}},
		queuedCounts:   map[string]int{"b1": 1},
	}
	svc := batch.NewService(repo)
	rec := reconciler.New(hot, svc, nil, 500, 5*time.Minute, func() bool { return true })

	require.NoError(t, rec.ScanStuckBatches(context.Background()))

	b, _ := repo.Get(context.Background(), "b1")
	assert.Equal(t, domain.BatchQueued, b.Status)
	assert.Nil(t, b.StartedAt)
}

func TestReconciler_ScanStuckBatchesLeavesBatchWhenNoRecipientsQueued(t *testing.T) {
	hot := hotstate.NewFromRedis(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}))
	old := time.Now().Add(-15 * time.Minute)
	repo := &fakeRepo{
		batches: map[string]*domain.Batch{
			"b1": {ID: "b1", Status: domain.BatchProcessing, StartedAt: &old},
		},
		terminalCounts: map[string][2]int{"b1": {0, 2}},
		queuedCounts:   map[string]int{"b1": 0},
	}
	svc := batch.NewService(repo)
	rec := reconciler.New(hot, svc, nil, 500, 5*time.Minute, func() bool { return true })

	require.NoError(t, rec.ScanStuckBatches(context.Background()))

	b, _ := repo.Get(context.Background(), "b1")
	assert.Equal(t, domain.BatchProcessing, b.Status)
}

func TestReconciler_ScanStuckBatchesSkipsWhenNotLeader(t *testing.T) {
	hot := hotstate.NewFromRedis(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}))
	repo := &fakeRepo{batches: map[string]*domain.Batch{}}
	svc := batch.NewService(repo)
	rec := reconciler.New(hot, svc, nil, 500, 15*time.Minute, func() bool { return false })

	require.NoError(t, rec.ScanStuckBatches(context.Background()))
}
