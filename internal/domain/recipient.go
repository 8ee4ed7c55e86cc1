package domain

import "time"

// RecipientStatus is monotonic: pending->queued->sent->{delivered|bounced|
// complained}, or pending->queued->failed. Any terminal status remains.
type RecipientStatus string

const (
	RecipientPending    RecipientStatus = "pending"
	RecipientQueued     RecipientStatus = "queued"
	RecipientSent       RecipientStatus = "sent"
	RecipientDelivered  RecipientStatus = "delivered"
	RecipientBounced    RecipientStatus = "bounced"
	RecipientComplained RecipientStatus = "complained"
	RecipientFailed     RecipientStatus = "failed"
)

// IsTerminal reports whether the status will never change again under
// normal operation (spec §4.3 idempotency sweep relies on this).
func (s RecipientStatus) IsTerminal() bool {
	switch s {
	case RecipientDelivered, RecipientBounced, RecipientComplained, RecipientFailed:
		return true
	}
	return false
}

// statusRank gives each status a monotonic ordinal so a proposed transition
// can be checked against "never moves backwards" (spec §8 property 6).
// pending/queued/sent form the happy-path prefix; delivered/bounced/
// complained/failed are siblings at the terminal rank — once any of them is
// reached no further transition is accepted.
var statusRank = map[RecipientStatus]int{
	RecipientPending:    0,
	RecipientQueued:     1,
	RecipientSent:       2,
	RecipientDelivered:  3,
	RecipientBounced:    3,
	RecipientComplained: 3,
	RecipientFailed:     3,
}

// CanAdvance reports whether moving a recipient from `from` to `to` respects
// monotonicity: a terminal status never transitions, and rank must not
// decrease.
func CanAdvance(from, to RecipientStatus) bool {
	if from.IsTerminal() {
		return false
	}
	return statusRank[to] >= statusRank[from]
}

// Recipient belongs to exactly one batch.
type Recipient struct {
	ID                string          `json:"id" db:"id"`
	BatchID           string          `json:"batch_id" db:"batch_id"`
	Identifier        string          `json:"identifier" db:"identifier"` // email, phone, device token, or URL
	Name              string          `json:"name,omitempty" db:"name"`
	Variables         map[string]any  `json:"variables,omitempty" db:"variables"`
	Status            RecipientStatus `json:"status" db:"status"`
	ProviderMessageID string          `json:"provider_message_id,omitempty" db:"provider_message_id"`
	ErrorMessage      string          `json:"error_message,omitempty" db:"error_message"`
	SentAt            *time.Time      `json:"sent_at,omitempty" db:"sent_at"`
	DeliveredAt       *time.Time      `json:"delivered_at,omitempty" db:"delivered_at"`
	BouncedAt         *time.Time      `json:"bounced_at,omitempty" db:"bounced_at"`
}
