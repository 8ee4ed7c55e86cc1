package batch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outboundhq/engine/internal/domain"
	"github.com/outboundhq/engine/internal/service/batch"
)

// memRepo is an in-memory batch repository for unit testing, mirroring
// the teacher's service/campaign/service_test.go memRepo fake.
type memRepo struct {
	mu      sync.Mutex
	batches map[string]*domain.Batch
}

func newMemRepo() *memRepo {
	return &memRepo{batches: make(map[string]*domain.Batch)}
}

func (m *memRepo) Get(_ context.Context, id string) (*domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, batch.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memRepo) ListByStatus(_ context.Context, status domain.BatchStatus, limit int) ([]domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Batch
	for _, b := range m.batches {
		if b.Status == status {
			out = append(out, *b)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memRepo) ListScheduledDue(_ context.Context, now time.Time, limit int) ([]domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Batch
	for _, b := range m.batches {
		if b.Status == domain.BatchScheduled && b.ScheduledAt != nil && !b.ScheduledAt.After(now) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memRepo) ListStuck(_ context.Context, olderThan time.Time, limit int) ([]domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Batch
	for _, b := range m.batches {
		if b.Status == domain.BatchProcessing && b.StartedAt != nil && b.StartedAt.Before(olderThan) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memRepo) UpdateStatus(_ context.Context, id string, from, to domain.BatchStatus, fields batch.TransitionFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return batch.ErrNotFound
	}
	if b.Status != from {
		return batch.ErrInvalidTransition
	}
	b.Status = to
	if fields.StartedAt != nil {
		b.StartedAt = fields.StartedAt
	}
	if fields.ClearStartedAt {
		b.StartedAt = nil
	}
	if fields.CompletedAt != nil {
		b.CompletedAt = fields.CompletedAt
	}
	return nil
}

func (m *memRepo) PendingRecipientIDs(context.Context, string) ([]string, error) { return nil, nil }
func (m *memRepo) MarkRecipientsQueued(context.Context, string, []string) error  { return nil }
func (m *memRepo) CountQueuedRecipients(context.Context, string) (int, error)    { return 0, nil }
func (m *memRepo) CountTerminalRecipients(context.Context, string) (int, int, error) {
	return 0, 0, nil
}
func (m *memRepo) GetSendConfig(context.Context, string) (*domain.SendConfig, error) { return nil, nil }

func TestService_QueueAndProcessLifecycle(t *testing.T) {
	repo := newMemRepo()
	repo.batches["b1"] = &domain.Batch{ID: "b1", Status: domain.BatchDraft}
	svc := batch.NewService(repo)
	ctx := context.Background()

	require.NoError(t, svc.Queue(ctx, "b1"))
	b, err := svc.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.BatchQueued, b.Status)

	now := time.Now()
	require.NoError(t, svc.MarkProcessing(ctx, "b1", now))
	b, _ = svc.Get(ctx, "b1")
	assert.Equal(t, domain.BatchProcessing, b.Status)
	require.NotNil(t, b.StartedAt)

	require.NoError(t, svc.MarkCompleted(ctx, "b1", now.Add(time.Minute)))
	b, _ = svc.Get(ctx, "b1")
	assert.Equal(t, domain.BatchCompleted, b.Status)
	assert.True(t, b.Status.IsTerminal())
}

func TestService_RejectsInvalidTransition(t *testing.T) {
	repo := newMemRepo()
	repo.batches["b1"] = &domain.Batch{ID: "b1", Status: domain.BatchCompleted}
	svc := batch.NewService(repo)

	err := svc.Queue(context.Background(), "b1")
	assert.ErrorIs(t, err, batch.ErrInvalidTransition)
}

func TestService_ResetToQueuedClearsStartedAt(t *testing.T) {
	now := time.Now()
	repo := newMemRepo()
	repo.batches["b1"] = &domain.Batch{ID: "b1", Status: domain.BatchProcessing, StartedAt: &now}
	svc := batch.NewService(repo)
	ctx := context.Background()

	require.NoError(t, svc.ResetToQueued(ctx, "b1"))
	b, _ := svc.Get(ctx, "b1")
	assert.Equal(t, domain.BatchQueued, b.Status)
	assert.Nil(t, b.StartedAt)
}
