package domain

import (
	"encoding/json"
	"time"
)

// BatchStatus enumerates the lifecycle states of a batch (spec §4.1).
type BatchStatus string

const (
	BatchDraft      BatchStatus = "draft"
	BatchScheduled  BatchStatus = "scheduled"
	BatchQueued     BatchStatus = "queued"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchPaused     BatchStatus = "paused"
)

// IsTerminal reports whether status is a final state that never transitions.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchCompleted || s == BatchFailed
}

// transitions enumerates the allowed batch state machine edges from §4.1.
// System-driven transitions (processing->completed, processing->queued
// reset) are validated the same way as user-driven ones so every caller
// shares one source of truth.
var transitions = map[BatchStatus]map[BatchStatus]bool{
	BatchDraft:      {BatchQueued: true, BatchScheduled: true},
	BatchScheduled:  {BatchQueued: true},
	BatchQueued:     {BatchProcessing: true},
	BatchProcessing: {BatchCompleted: true, BatchPaused: true, BatchQueued: true, BatchFailed: true},
	BatchPaused:     {BatchQueued: true},
	BatchCompleted:  {},
	BatchFailed:     {},
}

// CanTransition reports whether moving from `from` to `to` is a legal edge
// of the batch state machine.
func CanTransition(from, to BatchStatus) bool {
	edges, ok := transitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Batch is a user-submitted job binding one payload template to N recipients.
type Batch struct {
	ID               string          `json:"id" db:"id"`
	UserID           string          `json:"user_id" db:"user_id"`
	SendConfigID     *string         `json:"send_config_id,omitempty" db:"send_config_id"`
	Name             string          `json:"name" db:"name"`
	Status           BatchStatus     `json:"status" db:"status"`
	PayloadJSON      json.RawMessage `json:"payload" db:"payload"`
	TotalRecipients  int             `json:"total_recipients" db:"total_recipients"`
	SentCount        int             `json:"sent_count" db:"sent_count"`
	FailedCount      int             `json:"failed_count" db:"failed_count"`
	DeliveredCount   int             `json:"delivered_count" db:"delivered_count"`
	BouncedCount     int             `json:"bounced_count" db:"bounced_count"`
	ScheduledAt      *time.Time      `json:"scheduled_at,omitempty" db:"scheduled_at"`
	StartedAt        *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	DryRun           bool            `json:"dry_run" db:"dry_run"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// IsComplete reports whether every recipient that will ever reach a
// terminal state has done so (spec §8 property 2/3).
func (b *Batch) IsComplete() bool {
	return b.SentCount+b.FailedCount >= b.TotalRecipients
}

// Payload carries the send-time template: request-level overrides are
// applied by the sender worker on top of this at build time, in the
// priority order overrides < batch payload < send-config defaults (§4.3).
// It is intentionally a flat map plus a few typed conveniences because the
// fields that matter differ per module; module-specific builders enforce
// required fields.
type Payload struct {
	Subject     string         `json:"subject,omitempty"`
	HTMLContent string         `json:"html_content,omitempty"`
	TextContent string         `json:"text_content,omitempty"`
	Title       string         `json:"title,omitempty"`
	Body        string         `json:"body,omitempty"`
	Message     string         `json:"message,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}
