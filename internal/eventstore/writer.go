// Package eventstore implements the append-only event store (E) of
// spec §6: email_events (partitioned monthly, TTL 90 days) and
// email_message_index (provider_message_id -> recipient/batch/user,
// TTL 30 days), grounded on the teacher's datanorm.EventWriter
// multi-row batched insert pattern.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/outboundhq/engine/internal/domain"
)

// batchInsertSize mirrors datanorm.EventWriter's 500-row chunking for a
// single multi-value INSERT.
const batchInsertSize = 500

// Writer appends normalized webhook events to E and maintains the
// provider-message-id lookup index.
type Writer struct {
	db *sql.DB
}

// NewWriter builds an event store writer over the relational store.
func NewWriter(db *sql.DB) *Writer { return &Writer{db: db} }

// IndexEntry is what the provider-message-id index resolves to: the
// recipient/batch/user triple the sender worker recorded when it first
// dispatched to this provider message id.
type IndexEntry struct {
	RecipientID string
	BatchID     string
	UserID      string
}

// IndexMessage records a provider message id the first time a
// recipient is sent, so the webhook consumer can later resolve
// providerMessageId -> (recipientId, batchId, userId) without touching
// the recipients table on the hot path.
func (w *Writer) IndexMessage(ctx context.Context, providerMessageID string, entry IndexEntry) error {
	if providerMessageID == "" {
		return nil
	}
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO email_message_index (provider_message_id, recipient_id, batch_id, user_id, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (provider_message_id) DO NOTHING
	`, providerMessageID, entry.RecipientID, entry.BatchID, entry.UserID)
	if err != nil {
		return fmt.Errorf("eventstore: index message: %w", err)
	}
	return nil
}

// ResolveIndex looks up the recipient/batch/user triple for a set of
// provider message ids, the webhook consumer's enrichment step (spec
// §4.7 "resolve providerMessageId -> (recipientId, batchId, userId) via
// a cached index in E").
func (w *Writer) ResolveIndex(ctx context.Context, providerMessageIDs []string) (map[string]IndexEntry, error) {
	out := make(map[string]IndexEntry, len(providerMessageIDs))
	if len(providerMessageIDs) == 0 {
		return out, nil
	}
	placeholders := make([]string, len(providerMessageIDs))
	args := make([]interface{}, len(providerMessageIDs))
	for i, id := range providerMessageIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	rows, err := w.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT provider_message_id, recipient_id, batch_id, user_id
		FROM email_message_index
		WHERE provider_message_id IN (%s)
	`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, fmt.Errorf("eventstore: resolve index: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pmid string
		var entry IndexEntry
		if err := rows.Scan(&pmid, &entry.RecipientID, &entry.BatchID, &entry.UserID); err != nil {
			return nil, fmt.Errorf("eventstore: scan index row: %w", err)
		}
		out[pmid] = entry
	}
	return out, rows.Err()
}

// EnrichedEvent pairs a normalized webhook event with the index entry
// resolved for it, ready to append to E.
type EnrichedEvent struct {
	Event domain.WebhookEvent
	Index IndexEntry
}

// AppendEvents writes a batch of enriched events to email_events in
// chunks of batchInsertSize, one multi-row INSERT per chunk.
func (w *Writer) AppendEvents(ctx context.Context, events []EnrichedEvent) error {
	for i := 0; i < len(events); i += batchInsertSize {
		end := i + batchInsertSize
		if end > len(events) {
			end = len(events)
		}
		if err := w.insertChunk(ctx, events[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) insertChunk(ctx context.Context, chunk []EnrichedEvent) error {
	if len(chunk) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO email_events
		(event_id, event_type, batch_id, recipient_id, user_id, provider_message_id, metadata_json, error_message, created_at, event_date)
		VALUES `)

	args := make([]interface{}, 0, len(chunk)*8)
	for i, ee := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 8
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, NOW(), CURRENT_DATE)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)

		errMsg := ""
		if ee.Event.EventType == domain.EventFailed {
			errMsg = string(ee.Event.RawEvent)
		}
		args = append(args,
			ee.Event.ID, string(ee.Event.EventType), ee.Index.BatchID, ee.Index.RecipientID,
			ee.Index.UserID, ee.Event.ProviderMessageID, metadataJSON(ee.Event.Metadata), errMsg,
		)
	}
	sb.WriteString(` ON CONFLICT (event_id) DO NOTHING`)

	if _, err := w.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("eventstore: append events: %w", err)
	}
	return nil
}

func metadataJSON(m map[string]any) []byte {
	if m == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}
	return b
}
