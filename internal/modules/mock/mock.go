// Package mock implements a dry-run adapter used for batches with
// dryRun=true and for tests: it never calls a real provider, records a
// synthetic provider message ID, and sleeps briefly to emulate network
// latency (spec §4.3 dry-run mode).
package mock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/outboundhq/engine/internal/domain"
	"github.com/outboundhq/engine/internal/modules"
)

// Module is the mock adapter. It accepts any ModuleConfig variant so it
// can stand in for email, webhook, sms, or push.
type Module struct {
	forModule domain.ModuleType
	delay     time.Duration
}

// NewModule builds a mock module for the given channel, with a
// synthetic per-recipient delay (default 10ms) to emulate a real
// provider round trip without making network calls.
func NewModule(forModule domain.ModuleType, delay time.Duration) *Module {
	if delay <= 0 {
		delay = 10 * time.Millisecond
	}
	return &Module{forModule: forModule, delay: delay}
}

func (m *Module) Type() domain.ModuleType { return m.forModule }

func (m *Module) ExecuteBatch(ctx context.Context, _ domain.ModuleConfig, recipients []modules.RecipientPayload) ([]modules.Result, error) {
	results := make([]modules.Result, len(recipients))
	for i, rp := range recipients {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.delay):
		}
		results[i] = modules.Result{
			RecipientID:       rp.RecipientID,
			Success:           true,
			ProviderMessageID: fmt.Sprintf("mock-%s", uuid.New().String()),
		}
	}
	return results, nil
}
