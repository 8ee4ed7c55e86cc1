package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/outboundhq/engine/internal/domain"
	"github.com/outboundhq/engine/internal/service/batch"
)

// BatchRepo implements batch.Repository against PostgreSQL.
type BatchRepo struct{ db *sql.DB }

// NewBatchRepo creates a Postgres-backed batch repository.
func NewBatchRepo(db *sql.DB) *BatchRepo { return &BatchRepo{db: db} }

func (r *BatchRepo) Get(ctx context.Context, id string) (*domain.Batch, error) {
	b := &domain.Batch{}
	var sendConfigID sql.NullString
	var payload []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, send_config_id, name, status, payload,
		       total_recipients, sent_count, failed_count, delivered_count, bounced_count,
		       scheduled_at, started_at, completed_at, dry_run, created_at, updated_at
		FROM batches
		WHERE id = $1
	`, id).Scan(
		&b.ID, &b.UserID, &sendConfigID, &b.Name, &b.Status, &payload,
		&b.TotalRecipients, &b.SentCount, &b.FailedCount, &b.DeliveredCount, &b.BouncedCount,
		&b.ScheduledAt, &b.StartedAt, &b.CompletedAt, &b.DryRun, &b.CreatedAt, &b.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, batch.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	if sendConfigID.Valid {
		b.SendConfigID = &sendConfigID.String
	}
	b.PayloadJSON = json.RawMessage(payload)
	return b, nil
}

func (r *BatchRepo) ListByStatus(ctx context.Context, status domain.BatchStatus, limit int) ([]domain.Batch, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, send_config_id, name, status, total_recipients,
		       sent_count, failed_count, created_at
		FROM batches
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches by status: %w", err)
	}
	defer rows.Close()
	return scanBatchSummaries(rows)
}

func (r *BatchRepo) ListScheduledDue(ctx context.Context, now time.Time, limit int) ([]domain.Batch, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, send_config_id, name, status, total_recipients,
		       sent_count, failed_count, created_at
		FROM batches
		WHERE status = $1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
		ORDER BY scheduled_at ASC
		LIMIT $3
	`, domain.BatchScheduled, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list scheduled due: %w", err)
	}
	defer rows.Close()
	return scanBatchSummaries(rows)
}

func (r *BatchRepo) ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]domain.Batch, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, send_config_id, name, status, total_recipients,
		       sent_count, failed_count, created_at
		FROM batches
		WHERE status = $1 AND started_at IS NOT NULL AND started_at < $2
		ORDER BY started_at ASC
		LIMIT $3
	`, domain.BatchProcessing, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stuck batches: %w", err)
	}
	defer rows.Close()
	return scanBatchSummaries(rows)
}

func scanBatchSummaries(rows *sql.Rows) ([]domain.Batch, error) {
	var out []domain.Batch
	for rows.Next() {
		var b domain.Batch
		var sendConfigID sql.NullString
		if err := rows.Scan(
			&b.ID, &b.UserID, &sendConfigID, &b.Name, &b.Status,
			&b.TotalRecipients, &b.SentCount, &b.FailedCount, &b.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		if sendConfigID.Valid {
			b.SendConfigID = &sendConfigID.String
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpdateStatus applies a compare-and-set transition: the WHERE clause
// requires the row's current status to match `from`, so a concurrent
// writer that already moved it past `from` fails this update rather
// than racing it (spec §4.1 "system-driven transitions are validated
// the same way").
func (r *BatchRepo) UpdateStatus(ctx context.Context, id string, from, to domain.BatchStatus, fields batch.TransitionFields) error {
	sets := []string{"status = $1", "updated_at = NOW()"}
	args := []interface{}{to}
	idx := 2

	if fields.StartedAt != nil {
		sets = append(sets, fmt.Sprintf("started_at = $%d", idx))
		args = append(args, *fields.StartedAt)
		idx++
	}
	if fields.ClearStartedAt {
		sets = append(sets, "started_at = NULL")
	}
	if fields.CompletedAt != nil {
		sets = append(sets, fmt.Sprintf("completed_at = $%d", idx))
		args = append(args, *fields.CompletedAt)
		idx++
	}

	q := fmt.Sprintf(
		"UPDATE batches SET %s WHERE id = $%d AND status = $%d",
		joinComma(sets), idx, idx+1,
	)
	args = append(args, id, from)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update batch status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, getErr := r.Get(ctx, id); getErr == batch.ErrNotFound {
			return batch.ErrNotFound
		}
		return batch.ErrInvalidTransition
	}
	return nil
}

func (r *BatchRepo) PendingRecipientIDs(ctx context.Context, batchID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM recipients WHERE batch_id = $1 AND status = $2
	`, batchID, domain.RecipientPending)
	if err != nil {
		return nil, fmt.Errorf("pending recipient ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkRecipientsQueued applies the pending->queued transition to the
// given recipients in one statement, joining the id list the same way
// GetBatch does rather than building an IN-list with interpolated
// values (spec §4.2 step 5).
func (r *BatchRepo) MarkRecipientsQueued(ctx context.Context, batchID string, recipientIDs []string) error {
	if len(recipientIDs) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE recipients r SET status = $1
		FROM jsonb_array_elements_text($2::jsonb) AS want(id)
		WHERE r.batch_id = $3 AND r.id = want.id AND r.status = $4
	`, domain.RecipientQueued, mustMarshal(recipientIDs), batchID, domain.RecipientPending)
	if err != nil {
		return fmt.Errorf("mark recipients queued: %w", err)
	}
	return nil
}

func (r *BatchRepo) CountQueuedRecipients(ctx context.Context, batchID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM recipients WHERE batch_id = $1 AND status = $2
	`, batchID, domain.RecipientQueued).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queued recipients: %w", err)
	}
	return n, nil
}

func (r *BatchRepo) CountTerminalRecipients(ctx context.Context, batchID string) (terminal, total int, err error) {
	err = r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN ('delivered','bounced','complained','failed')),
			COUNT(*)
		FROM recipients WHERE batch_id = $1
	`, batchID).Scan(&terminal, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("count terminal recipients: %w", err)
	}
	return terminal, total, nil
}

func (r *BatchRepo) GetSendConfig(ctx context.Context, sendConfigID string) (*domain.SendConfig, error) {
	return getSendConfig(ctx, r.db, sendConfigID)
}

// IncrementCounters applies webhook-consumer deltas to a batch's
// denormalized counts (spec §4.7 "UPDATE batches SET deliveredCount =
// deliveredCount + :k"). Deltas may be zero or negative is never
// expected but isn't special-cased; callers only ever pass counts of
// events grouped by effect in one flush.
func (r *BatchRepo) IncrementCounters(ctx context.Context, batchID string, deliveredDelta, bouncedDelta int) error {
	if deliveredDelta == 0 && bouncedDelta == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE batches SET
			delivered_count = delivered_count + $2,
			bounced_count = bounced_count + $3,
			updated_at = NOW()
		WHERE id = $1
	`, batchID, deliveredDelta, bouncedDelta)
	if err != nil {
		return fmt.Errorf("increment batch counters: %w", err)
	}
	return nil
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
