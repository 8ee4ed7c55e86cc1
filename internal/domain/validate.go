package domain

import (
	"fmt"
	"strings"
)

// ValidateRecipientForModule applies the module-appropriate sanity checks
// from spec §4.4/§6: "to" must contain "@" for email, "message" required
// for sms (from the composed payload), "title" or "body" required for push,
// webhook payloads are arbitrary.
func ValidateRecipientForModule(module ModuleType, identifier string, p Payload) error {
	switch module {
	case ModuleEmail:
		if !strings.Contains(identifier, "@") {
			return fmt.Errorf("email recipient identifier %q must contain '@'", identifier)
		}
		if p.Subject == "" {
			return fmt.Errorf("email payload requires subject")
		}
		if p.HTMLContent == "" && p.TextContent == "" {
			return fmt.Errorf("email payload requires htmlContent or textContent")
		}
	case ModuleSMS:
		if p.Message == "" {
			return fmt.Errorf("sms payload requires message")
		}
	case ModulePush:
		if p.Title == "" && p.Body == "" {
			return fmt.Errorf("push payload requires title or body")
		}
	case ModuleWebhook:
		// arbitrary payload, no required fields
	default:
		return fmt.Errorf("unknown module %q", module)
	}
	return nil
}

// MergePayload returns base with every non-empty field of override
// applied on top, so override wins on conflicts; override's Extra keys
// are added to (or replace) base's in a new map, and base itself is not
// modified. Only these two layers are merged: no send-config defaults
// are applied. The sender worker passes the batch payload as base and
// the recipient's variables as override.Extra.
func MergePayload(base, override Payload) Payload {
	out := base
	if override.Subject != "" {
		out.Subject = override.Subject
	}
	if override.HTMLContent != "" {
		out.HTMLContent = override.HTMLContent
	}
	if override.TextContent != "" {
		out.TextContent = override.TextContent
	}
	if override.Title != "" {
		out.Title = override.Title
	}
	if override.Body != "" {
		out.Body = override.Body
	}
	if override.Message != "" {
		out.Message = override.Message
	}
	if len(override.Extra) > 0 {
		extra := make(map[string]any, len(base.Extra)+len(override.Extra))
		for k, v := range base.Extra {
			extra[k] = v
		}
		for k, v := range override.Extra {
			extra[k] = v
		}
		out.Extra = extra
	}
	return out
}
