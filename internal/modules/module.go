// Package modules implements the per-channel delivery adapters invoked
// by the sender worker (spec §4.4): email, webhook, sms, push, plus a
// mock adapter for dry runs and tests.
package modules

import (
	"context"
	"time"

	"github.com/outboundhq/engine/internal/domain"
)

// RecipientPayload is one recipient's fully-merged send-time payload,
// built by the sender worker via domain.MergePayload before dispatch.
type RecipientPayload struct {
	RecipientID string
	Identifier  string
	Payload     domain.Payload
}

// Result is the per-recipient outcome of a dispatch attempt.
type Result struct {
	RecipientID       string
	Success           bool
	ProviderMessageID string
	Err               error
}

// Module executes a chunk of recipients against one provider. Resend
// and webhook send a single request per chunk and explode the response
// into per-recipient results; SES sends one request per recipient in
// sequence, and mock produces synthetic results without a request; a
// module with no batch API (SMS, push) fans out with bounded parallelism.
type Module interface {
	Type() domain.ModuleType
	ExecuteBatch(ctx context.Context, cfg domain.ModuleConfig, recipients []RecipientPayload) ([]Result, error)
}

// DefaultTimeout is used by modules that don't have an explicit
// per-send-config override.
const DefaultTimeout = 30 * time.Second
