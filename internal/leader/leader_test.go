package leader_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outboundhq/engine/internal/bus"
	"github.com/outboundhq/engine/internal/domain"
	"github.com/outboundhq/engine/internal/leader"
	"github.com/outboundhq/engine/internal/service/batch"
)

type fixedLeader bool

func (f fixedLeader) IsLeader() bool { return bool(f) }

type fakeRepo struct {
	mu      sync.Mutex
	batches map[string]*domain.Batch
}

func (f *fakeRepo) Get(_ context.Context, id string) (*domain.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.batches[id]
	return &cp, nil
}
func (f *fakeRepo) ListByStatus(_ context.Context, status domain.BatchStatus, _ int) ([]domain.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Batch
	for _, b := range f.batches {
		if b.Status == status {
			out = append(out, *b)
		}
	}
	return out, nil
}
func (f *fakeRepo) ListScheduledDue(_ context.Context, now time.Time, _ int) ([]domain.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Batch
	for _, b := range f.batches {
		if b.Status == domain.BatchScheduled && b.ScheduledAt != nil && !b.ScheduledAt.After(now) {
			out = append(out, *b)
		}
	}
	return out, nil
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
	return nil
}
func (f *fakeRepo) PendingRecipientIDs(context.Context, string) ([]string, error) { return nil, nil }
func (f *fakeRepo) MarkRecipientsQueued(context.Context, string, []string) error  { return nil }
func (f *fakeRepo) CountQueuedRecipients(context.Context, string) (int, error)    { return 0, nil }
func (f *fakeRepo) CountTerminalRecipients(context.Context, string) (int, int, error) {
	return 0, 0, nil
}
func (f *fakeRepo) GetSendConfig(context.Context, string) (*domain.SendConfig, error) { return nil, nil }

func TestScheduler_PromotesDueBatchesWhenLeader(t *testing.T) {
	due := time.Now().Add(-time.Minute)
	repo := &fakeRepo{batches: map[string]*domain.Batch{
		"b1": {ID: "b1", Status: domain.BatchScheduled, ScheduledAt: &due},
	}}
	svc := batch.NewService(repo)
	sched := leader.NewScheduler(svc, fixedLeader(true))

	require.NoError(t, sched.Tick(context.Background()))

	b, _ := repo.Get(context.Background(), "b1")
	assert.Equal(t, domain.BatchQueued, b.Status)
}

func TestScheduler_SkipsWhenNotLeader(t *testing.T) {
	due := time.Now().Add(-time.Minute)
	repo := &fakeRepo{batches: map[string]*domain.Batch{
		"b1": {ID: "b1", Status: domain.BatchScheduled, ScheduledAt: &due},
	}}
	svc := batch.NewService(repo)
	sched := leader.NewScheduler(svc, fixedLeader(false))

	require.NoError(t, sched.Tick(context.Background()))

	b, _ := repo.Get(context.Background(), "b1")
	assert.Equal(t, domain.BatchScheduled, b.Status)
}

func TestQueuedBus_PublishesForQueuedBatches(t *testing.T) {
	repo := &fakeRepo{batches: map[string]*domain.Batch{
		"b1": {ID: "b1", UserID: "u1", Status: domain.BatchQueued},
	}}
	svc := batch.NewService(repo)
	memBus := bus.NewMemoryBus()
	qb := leader.NewQueuedBus(svc, memBus, fixedLeader(true))

	require.NoError(t, qb.Tick(context.Background()))

	assert.Equal(t, 1, memBus.Len(bus.SubjectBatchProcess))
}

func TestQueuedBus_RepublishIsDedupedByMsgID(t *testing.T) {
	repo := &fakeRepo{batches: map[string]*domain.Batch{
		"b1": {ID: "b1", UserID: "u1", Status: domain.BatchQueued},
	}}
	svc := batch.NewService(repo)
	memBus := bus.NewMemoryBus()
	qb := leader.NewQueuedBus(svc, memBus, fixedLeader(true))

	require.NoError(t, qb.Tick(context.Background()))
	require.NoError(t, qb.Tick(context.Background()))

	assert.Equal(t, 1, memBus.Len(bus.SubjectBatchProcess))
}

func TestQueuedBus_SkipsWhenNotLeader(t *testing.T) {
	repo := &fakeRepo{batches: map[string]*domain.Batch{
		"b1": {ID: "b1", UserID: "u1", Status: domain.BatchQueued},
	}}
	svc := batch.NewService(repo)
	memBus := bus.NewMemoryBus()
	qb := leader.NewQueuedBus(svc, memBus, fixedLeader(false))

	require.NoError(t, qb.Tick(context.Background()))

	assert.Equal(t, 0, memBus.Len(bus.SubjectBatchProcess))
}
