package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/outboundhq/engine/internal/domain"
)

// RecipientRepo manages the per-batch recipient rows in R.
type RecipientRepo struct{ db *sql.DB }

// NewRecipientRepo creates a Postgres-backed recipient repository.
func NewRecipientRepo(db *sql.DB) *RecipientRepo { return &RecipientRepo{db: db} }

func (r *RecipientRepo) Get(ctx context.Context, id string) (*domain.Recipient, error) {
	rec := &domain.Recipient{}
	var variables []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, batch_id, identifier, name, variables, status,
		       COALESCE(provider_message_id,''), COALESCE(error_message,''),
		       sent_at, delivered_at, bounced_at
		FROM recipients WHERE id = $1
	`, id).Scan(
		&rec.ID, &rec.BatchID, &rec.Identifier, &rec.Name, &variables, &rec.Status,
		&rec.ProviderMessageID, &rec.ErrorMessage, &rec.SentAt, &rec.DeliveredAt, &rec.BouncedAt,
	)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("get recipient: %w", err)
	}
	if len(variables) > 0 {
		_ = json.Unmarshal(variables, &rec.Variables)
	}
	return rec, nil
}

// GetBatch returns every recipient row matching the given IDs, in no
// particular order; the caller indexes by ID as needed (spec §4.3 step 2).
func (r *RecipientRepo) GetBatch(ctx context.Context, ids []string) ([]domain.Recipient, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT r.id, r.batch_id, r.identifier, r.name, r.variables, r.status,
		       COALESCE(r.provider_message_id,''), COALESCE(r.error_message,'')
		FROM recipients r
		JOIN jsonb_array_elements_text($1::jsonb) AS want(id) ON r.id = want.id
	`, mustMarshal(ids))
	if err != nil {
		return nil, fmt.Errorf("get recipient batch: %w", err)
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		var rec domain.Recipient
		var variables []byte
		if err := rows.Scan(&rec.ID, &rec.BatchID, &rec.Identifier, &rec.Name, &variables,
			&rec.Status, &rec.ProviderMessageID, &rec.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		if len(variables) > 0 {
			_ = json.Unmarshal(variables, &rec.Variables)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CreateBatch inserts all recipients for a newly created batch in one
// statement, generating IDs that weren't supplied.
func (r *RecipientRepo) CreateBatch(ctx context.Context, recipients []domain.Recipient) error {
	if len(recipients) == 0 {
		return nil
	}
	type row struct {
		ID         string         `json:"id"`
		BatchID    string         `json:"batch_id"`
		Identifier string         `json:"identifier"`
		Name       string         `json:"name"`
		Variables  map[string]any `json:"variables"`
		Status     string         `json:"status"`
	}
	rows := make([]row, len(recipients))
	for i, rec := range recipients {
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		status := rec.Status
		if status == "" {
			status = domain.RecipientPending
		}
		rows[i] = row{ID: rec.ID, BatchID: rec.BatchID, Identifier: rec.Identifier,
			Name: rec.Name, Variables: rec.Variables, Status: string(status)}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recipients (id, batch_id, identifier, name, variables, status, created_at)
		SELECT x.id, x.batch_id, x.identifier, x.name, x.variables, x.status, NOW()
		FROM jsonb_to_recordset($1::jsonb) AS x(
			id text, batch_id text, identifier text, name text, variables jsonb, status text
		)
	`, mustMarshal(rows))
	if err != nil {
		return fmt.Errorf("create recipient batch: %w", err)
	}
	return nil
}

// RecipientOutcome is the shape the reconciler and webhook consumer
// pass per recipient they sync into R (spec §4.6 step 2, §4.7 "group by
// effect").
type RecipientOutcome struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	ErrorMessage      string `json:"error_message,omitempty"`
}

// BulkUpdateStatus applies a single status class (e.g. all "sent", or
// all "failed") to many recipients in one server-side statement, joining
// a JSON array parameter to the table rather than building a per-row
// query or an IN-list with interpolated values (spec §4.6 step 2). The
// WHERE clause is conditional on the recipient not already being
// terminal, satisfying webhook-intake's Layer 3 dedup too.
func (r *RecipientRepo) BulkUpdateStatus(ctx context.Context, status domain.RecipientStatus, rows []RecipientOutcome) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	var timestampCol string
	switch status {
	case domain.RecipientSent:
		timestampCol = "sent_at"
	case domain.RecipientDelivered:
		timestampCol = "delivered_at"
	case domain.RecipientBounced, domain.RecipientComplained:
		timestampCol = "bounced_at"
	default:
		timestampCol = ""
	}

	setClause := fmt.Sprintf("status = $1, %s = COALESCE(r.%s, NOW())", timestampCol, timestampCol)
	if timestampCol == "" {
		setClause = "status = $1"
	}

	q := fmt.Sprintf(`
		UPDATE recipients r SET
			%s,
			provider_message_id = NULLIF(x.provider_message_id, ''),
			error_message = NULLIF(x.error_message, '')
		FROM jsonb_to_recordset($2::jsonb) AS x(
			id text, provider_message_id text, error_message text
		)
		WHERE r.id = x.id AND r.status NOT IN ('delivered','bounced','complained','failed')
	`, setClause)

	res, err := r.db.ExecContext(ctx, q, string(status), mustMarshal(rows))
	if err != nil {
		return 0, fmt.Errorf("bulk update recipient status: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("postgres: marshal parameter: %v", err))
	}
	return b
}
