package webhookintake

import (
	"encoding/json"
	"strings"

	"github.com/outboundhq/engine/internal/domain"
)

// parsedEvent is the provider-agnostic shape every mapper produces
// before eventID and the enclosing domain.WebhookEvent are built.
type parsedEvent struct {
	ProviderMessageID string
	EventType         domain.WebhookEventType
	Metadata          map[string]any
}

// resendEvent mirrors the subset of Resend's webhook body intake cares
// about; the rest of the payload is kept as Metadata.
type resendEvent struct {
	Type string `json:"type"`
	Data struct {
		EmailID string `json:"email_id"`
	} `json:"data"`
}

// mapResendEvent implements spec §4.7's mapping table: "email.delivered
// -> delivered, email.bounced -> bounced, email.complained ->
// complained, email.opened -> opened, email.clicked -> clicked, unknown
// -> failed."
func mapResendEvent(body []byte) (parsedEvent, error) {
	var ev resendEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return parsedEvent{}, err
	}
	eventType := domain.EventFailed
	switch ev.Type {
	case "email.delivered":
		eventType = domain.EventDelivered
	case "email.bounced":
		eventType = domain.EventBounced
	case "email.complained":
		eventType = domain.EventComplained
	case "email.opened":
		eventType = domain.EventOpened
	case "email.clicked":
		eventType = domain.EventClicked
	}
	return parsedEvent{
		ProviderMessageID: ev.Data.EmailID,
		EventType:         eventType,
		Metadata:          map[string]any{"resend_type": ev.Type},
	}, nil
}

// sesNotification is the event carried inside an SNS "Notification"
// message's Message field, once unwrapped by handleSES.
type sesNotification struct {
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID string `json:"messageId"`
	} `json:"mail"`
	Bounce *struct {
		BounceType string `json:"bounceType"`
	} `json:"bounce,omitempty"`
}

// mapSESEvent implements "Delivery -> delivered, Bounce.Permanent ->
// bounced, Bounce.Transient -> soft_bounced, Complaint -> complained."
func mapSESEvent(body []byte) (parsedEvent, error) {
	var n sesNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return parsedEvent{}, err
	}
	eventType := domain.EventFailed
	switch n.NotificationType {
	case "Delivery":
		eventType = domain.EventDelivered
	case "Bounce":
		if n.Bounce != nil && n.Bounce.BounceType == "Permanent" {
			eventType = domain.EventBounced
		} else {
			eventType = domain.EventSoftBounced
		}
	case "Complaint":
		eventType = domain.EventComplained
	}
	return parsedEvent{
		ProviderMessageID: n.Mail.MessageID,
		EventType:         eventType,
		Metadata:          map[string]any{"ses_notification_type": n.NotificationType},
	}, nil
}

// telnyxEvent mirrors Telnyx's message-webhook payload shape.
type telnyxEvent struct {
	Data struct {
		EventType string `json:"event_type"`
		Payload   struct {
			ID string `json:"id"`
			To []struct {
				Status string `json:"status"`
			} `json:"to"`
		} `json:"payload"`
	} `json:"data"`
}

// mapTelnyxEvent implements "message.finalized with status=delivered ->
// sms.delivered else sms.failed; message.sent -> sent."
func mapTelnyxEvent(body []byte) (parsedEvent, error) {
	var ev telnyxEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return parsedEvent{}, err
	}
	var eventType domain.WebhookEventType
	switch ev.Data.EventType {
	case "message.sent":
		eventType = domain.EventSent
	case "message.finalized":
		eventType = domain.EventFailed
		for _, to := range ev.Data.Payload.To {
			if to.Status == "delivered" {
				eventType = domain.EventDelivered
				break
			}
		}
	default:
		eventType = domain.EventCustom
	}
	return parsedEvent{
		ProviderMessageID: ev.Data.Payload.ID,
		EventType:         eventType,
		Metadata:          map[string]any{"telnyx_event_type": ev.Data.EventType},
	}, nil
}

// customEvent is the shape intake expects for custom/{moduleId}
// webhooks: free-form, with the provider's own message id and a status
// string to pattern-match.
type customEvent struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// mapCustomEvent implements "pattern-match on the string for
// delivered|bounced|failed|sent|opened|clicked|complained, else
// custom.event."
func mapCustomEvent(body []byte) (parsedEvent, error) {
	var ev customEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return parsedEvent{}, err
	}
	status := strings.ToLower(ev.Status)
	eventType := domain.EventCustom
	switch {
	case strings.Contains(status, "delivered"):
		eventType = domain.EventDelivered
	case strings.Contains(status, "bounced"):
		eventType = domain.EventBounced
	case strings.Contains(status, "failed"):
		eventType = domain.EventFailed
	case strings.Contains(status, "sent"):
		eventType = domain.EventSent
	case strings.Contains(status, "opened"):
		eventType = domain.EventOpened
	case strings.Contains(status, "clicked"):
		eventType = domain.EventClicked
	case strings.Contains(status, "complained"):
		eventType = domain.EventComplained
	}
	return parsedEvent{
		ProviderMessageID: ev.MessageID,
		EventType:         eventType,
		Metadata:          map[string]any{"custom_status": ev.Status},
	}, nil
}
