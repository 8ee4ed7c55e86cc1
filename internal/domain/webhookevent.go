package domain

import "time"

// WebhookEventType is the internal, normalized event vocabulary every
// provider's payload is mapped onto (spec §4.7).
type WebhookEventType string

const (
	EventDelivered   WebhookEventType = "delivered"
	EventBounced     WebhookEventType = "bounced"
	EventSoftBounced WebhookEventType = "soft_bounced"
	EventComplained  WebhookEventType = "complained"
	EventOpened      WebhookEventType = "opened"
	EventClicked     WebhookEventType = "clicked"
	EventSent        WebhookEventType = "sent"
	EventFailed      WebhookEventType = "failed"
	EventCustom      WebhookEventType = "custom.event"
)

// WebhookEvent is the normalized shape every provider webhook is mapped
// into before it crosses the message bus. Timestamps never participate in
// the deterministic ID (spec §4.7 step 3).
type WebhookEvent struct {
	ID                string           `json:"id"`
	Provider          string           `json:"provider"` // resend | ses | telnyx | custom
	EventType         WebhookEventType `json:"event_type"`
	ProviderMessageID string           `json:"provider_message_id"`
	Timestamp         time.Time        `json:"timestamp"`
	Metadata          map[string]any   `json:"metadata,omitempty"`
	RawEvent          []byte           `json:"raw_event,omitempty"`
	ModuleID          string           `json:"module_id,omitempty"` // only for custom/{moduleId}
}

// EventStatusEffect describes the recipient/batch mutation a webhook event
// type causes in R. Events with no status effect (opened, clicked,
// custom.event) still append to E but never mutate recipient status.
func (t WebhookEventType) EventStatusEffect() (RecipientStatus, bool) {
	switch t {
	case EventDelivered:
		return RecipientDelivered, true
	case EventBounced:
		return RecipientBounced, true
	case EventComplained:
		return RecipientComplained, true
	case EventFailed:
		return RecipientFailed, true
	case EventSoftBounced:
		// soft bounces are recorded in E but do not move status to a
		// terminal state — the provider may still deliver on retry.
		return "", false
	default:
		return "", false
	}
}
