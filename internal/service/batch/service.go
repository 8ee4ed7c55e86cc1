package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/outboundhq/engine/internal/domain"
)

// Service implements the batch state machine of spec §4.1. Every
// transition goes through CanTransition so user-driven and
// system-driven callers share one source of truth; none of them mutate
// domain.Batch.Status directly.
type Service struct {
	repo Repository
}

// NewService creates a batch service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Batch, error) {
	return s.repo.Get(ctx, id)
}

// Repo exposes the underlying repository for callers (the batch
// processor, reconciler) that need read operations service.go doesn't
// wrap directly, such as PendingRecipientIDs and GetSendConfig.
func (s *Service) Repo() Repository {
	return s.repo
}

// transition validates and applies a single state machine edge.
func (s *Service) transition(ctx context.Context, id string, from, to domain.BatchStatus, fields TransitionFields) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if err := s.repo.UpdateStatus(ctx, id, from, to, fields); err != nil {
		return err
	}
	return nil
}

// Queue moves a draft, scheduled, or paused batch to queued. The
// queued-to-bus adapter (internal/leader) picks it up from there.
func (s *Service) Queue(ctx context.Context, id string) error {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.transition(ctx, id, b.Status, domain.BatchQueued, TransitionFields{})
}

// Schedule moves a draft batch to scheduled.
func (s *Service) Schedule(ctx context.Context, id string) error {
	return s.transition(ctx, id, domain.BatchDraft, domain.BatchScheduled, TransitionFields{})
}

// Pause moves a processing batch to paused.
func (s *Service) Pause(ctx context.Context, id string) error {
	return s.transition(ctx, id, domain.BatchProcessing, domain.BatchPaused, TransitionFields{})
}

// Resume moves a paused batch back to queued.
func (s *Service) Resume(ctx context.Context, id string) error {
	return s.transition(ctx, id, domain.BatchPaused, domain.BatchQueued, TransitionFields{})
}

// MarkProcessing is called by the batch processor when it claims a
// queued batch (spec §4.2 step 4): sets startedAt = now.
func (s *Service) MarkProcessing(ctx context.Context, id string, now time.Time) error {
	return s.transition(ctx, id, domain.BatchQueued, domain.BatchProcessing, TransitionFields{
		StartedAt: &now,
	})
}

// MarkCompleted is called by the reconciler once sent+failed >= total
// (spec §4.6 step 5): sets completedAt = now.
func (s *Service) MarkCompleted(ctx context.Context, id string, now time.Time) error {
	return s.transition(ctx, id, domain.BatchProcessing, domain.BatchCompleted, TransitionFields{
		CompletedAt: &now,
	})
}

// MarkFailed transitions a processing batch to failed (a chunk reported
// a fatal, non-recoverable condition for the whole batch).
func (s *Service) MarkFailed(ctx context.Context, id string) error {
	return s.transition(ctx, id, domain.BatchProcessing, domain.BatchFailed, TransitionFields{})
}

// ResetToQueued is the reconciler's stuck-batch recovery transition
// (spec §4.6): processing -> queued, clearing startedAt so the
// queued-to-bus adapter re-enqueues it without double-publishing
// (chunk msgId idempotency protects the race).
func (s *Service) ResetToQueued(ctx context.Context, id string) error {
	return s.transition(ctx, id, domain.BatchProcessing, domain.BatchQueued, TransitionFields{
		ClearStartedAt: true,
	})
}

// DueScheduledBatches returns scheduled batches ready for promotion
// (spec §4.8 scheduler tick).
func (s *Service) DueScheduledBatches(ctx context.Context, now time.Time, limit int) ([]domain.Batch, error) {
	return s.repo.ListScheduledDue(ctx, now, limit)
}

// StuckBatches returns processing batches whose startedAt predates
// olderThan (spec §4.6 stuck-batch scanner).
func (s *Service) StuckBatches(ctx context.Context, olderThan time.Time, limit int) ([]domain.Batch, error) {
	return s.repo.ListStuck(ctx, olderThan, limit)
}

// QueuedBatches returns batches ready for the queued-to-bus adapter.
func (s *Service) QueuedBatches(ctx context.Context, limit int) ([]domain.Batch, error) {
	return s.repo.ListByStatus(ctx, domain.BatchQueued, limit)
}
