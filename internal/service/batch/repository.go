package batch

import (
	"context"
	"time"

	"github.com/outboundhq/engine/internal/domain"
)

// Repository defines the data access contract for batches against the
// relational store R. Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single batch. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Batch, error)

	// ListByStatus returns up to limit batches in the given status,
	// ordered by createdAt ascending (oldest first), used by the
	// scheduler and queued-to-bus adapter (spec §4.8).
	ListByStatus(ctx context.Context, status domain.BatchStatus, limit int) ([]domain.Batch, error)

	// ListScheduledDue returns scheduled batches whose scheduledAt has
	// passed.
	ListScheduledDue(ctx context.Context, now time.Time, limit int) ([]domain.Batch, error)

	// ListStuck returns processing batches whose startedAt is older
	// than olderThan (spec §4.6 stuck-batch recovery).
	ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]domain.Batch, error)

	// UpdateStatus applies a status transition plus optional timestamp
	// fields. Returns ErrNotFound if the batch row doesn't exist, or
	// ErrInvalidTransition if the row's current status no longer
	// matches `from` (a concurrent writer beat us to it).
	UpdateStatus(ctx context.Context, id string, from, to domain.BatchStatus, fields TransitionFields) error

	// PendingRecipientIDs returns recipient IDs still in `pending`
	// status for a batch, used by the batch processor to build chunks
	// (spec §4.2 step 2).
	PendingRecipientIDs(ctx context.Context, batchID string) ([]string, error)

	// MarkRecipientsQueued transitions the given recipients from
	// pending to queued, called by the batch processor at chunk-fanout
	// time (spec §4.2 step 5, §4.3 monotonic lifecycle).
	MarkRecipientsQueued(ctx context.Context, batchID string, recipientIDs []string) error

	// CountQueuedRecipients reports how many of a batch's recipients
	// are still queued (fanned out but not yet dispatched/reconciled),
	// used by the stuck-batch scan's "a recipient remains queued"
	// condition (spec §4.6).
	CountQueuedRecipients(ctx context.Context, batchID string) (int, error)

	// CountTerminalRecipients reports how many of a batch's recipients
	// have reached a terminal status, used by stuck-batch recovery.
	CountTerminalRecipients(ctx context.Context, batchID string) (terminal, total int, err error)

	// GetSendConfig loads the send-config referenced by a batch, or nil
	// if the batch has none (e.g. module determined per-recipient).
	GetSendConfig(ctx context.Context, sendConfigID string) (*domain.SendConfig, error)
}

// TransitionFields carries the optional timestamp mutations that
// accompany a status transition (e.g. startedAt on queued->processing).
// A nil pointer leaves the column untouched; Clear* flags null it out.
type TransitionFields struct {
	StartedAt   *time.Time
	CompletedAt *time.Time
	ClearStartedAt bool
}
