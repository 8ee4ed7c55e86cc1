// Package senderworker implements the sender worker of spec §4.3: the
// atomic per-chunk pipeline that sweeps idempotency, loads recipients,
// builds payloads, rate-limits, dispatches through a module, and
// records outcomes in hot-state.
package senderworker

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/outboundhq/engine/internal/batchprocessor"
	"github.com/outboundhq/engine/internal/domain"
	"github.com/outboundhq/engine/internal/eventstore"
	"github.com/outboundhq/engine/internal/hotstate"
	"github.com/outboundhq/engine/internal/modules"
	"github.com/outboundhq/engine/internal/pkg/logger"
)

// RecipientLoader loads full recipient rows for a surviving ID set
// (spec §4.3 step 2), implemented by repository/postgres.RecipientRepo.
type RecipientLoader interface {
	GetBatch(ctx context.Context, ids []string) ([]domain.Recipient, error)
}

// Indexer records the provider-message-id a dispatch produced, so the
// webhook consumer can later resolve it back to (recipientId, batchId,
// userId) without touching R on the hot path (spec §4.7), implemented
// by eventstore.Writer.
type Indexer interface {
	IndexMessage(ctx context.Context, providerMessageID string, entry eventstore.IndexEntry) error
}

// ErrNack signals the caller should nack the chunk with a backoff hint
// rather than ack it — used for fail-safe idempotency-breaker-open and
// rate-limit-unavailable conditions (spec §4.3 steps 1 and 4).
type ErrNack struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *ErrNack) Error() string {
	return fmt.Sprintf("senderworker: nack (%s), retry after %s", e.Reason, e.RetryAfter)
}

// DryRunLatencyMin/Max bound the synthetic per-recipient delay used in
// dry-run mode (spec §4.3 "Dry-run mode").
const (
	DryRunLatencyMin = 50 * time.Millisecond
	DryRunLatencyMax = 200 * time.Millisecond
)

// Worker runs the per-chunk pipeline for one sender worker instance.
type Worker struct {
	hot        *hotstate.Client
	recipients RecipientLoader
	registry   *modules.Registry
	indexer    Indexer
}

// New builds a sender worker. indexer may be nil, in which case
// dispatched provider message ids are not indexed (tests only — the
// webhook consumer's enrichment step depends on this in production).
func New(hot *hotstate.Client, recipients RecipientLoader, registry *modules.Registry, indexer Indexer) *Worker {
	return &Worker{hot: hot, recipients: recipients, registry: registry, indexer: indexer}
}

// HandleChunk runs the full atomic pipeline for one chunk message. A
// nil return means the caller should ack; an *ErrNack return means nack
// with the given backoff; any other error is a non-recoverable failure
// that should also nack (bus redelivery + max_deliver dead-letters it).
func (w *Worker) HandleChunk(ctx context.Context, data []byte) error {
	var msg batchprocessor.ChunkMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("senderworker: decode chunk: %w", err)
	}

	// Step 1: idempotency sweep, fail-safe on an open circuit breaker.
	surviving, err := w.hot.IdempotencySweep(ctx, msg.BatchID, msg.RecipientIDs)
	if err != nil {
		return &ErrNack{Reason: "idempotency sweep unavailable: " + err.Error(), RetryAfter: time.Second}
	}
	if len(surviving) == 0 {
		logger.Info("chunk fully idempotent, nothing to send", "batchId", msg.BatchID, "chunkIndex", msg.ChunkIndex)
		return nil
	}

	// Step 2: load recipient rows for survivors.
	recs, err := w.recipients.GetBatch(ctx, surviving)
	if err != nil {
		return fmt.Errorf("senderworker: load recipients: %w", err)
	}

	// Step 3: build payloads. msg.Payload is the batch's template
	// (spec.md's "one payload template" bound to the batch); only the
	// per-recipient variables come from the recipient row itself.
	payloads := make([]modules.RecipientPayload, 0, len(recs))
	invalidCount := 0
	for _, rec := range recs {
		merged := domain.MergePayload(msg.Payload, domain.Payload{Extra: rec.Variables})
		if err := domain.ValidateRecipientForModule(msg.SendConfig.Module, rec.Identifier, merged); err != nil {
			// An individually invalid recipient is recorded as failed
			// without blocking the rest of the chunk.
			if _, recErr := w.hot.RecordOutcome(ctx, msg.BatchID, rec.ID, hotstate.OutcomeRecord{
				Status: domain.RecipientFailed, ErrorMessage: err.Error(),
			}); recErr != nil {
				return &ErrNack{Reason: "record outcome unavailable: " + recErr.Error(), RetryAfter: time.Second}
			}
			invalidCount++
			continue
		}
		payloads = append(payloads, modules.RecipientPayload{RecipientID: rec.ID, Identifier: rec.Identifier, Payload: merged})
	}
	if len(payloads) == 0 {
		return w.hot.DecrementGlobalPending(ctx, invalidCount)
	}

	// Step 4: acquire one rate-limit token for the whole API call.
	perSecond := msg.SendConfig.EffectivePerSecond(defaultPerSecond(msg.SendConfig.Module))
	rl, err := w.hot.AcquireRateLimit(ctx, msg.SendConfig.ID, perSecond)
	if err != nil {
		return &ErrNack{Reason: "rate limiter unavailable: " + err.Error(), RetryAfter: time.Second}
	}
	if !rl.Allowed {
		return &ErrNack{Reason: "rate limit exceeded", RetryAfter: rl.RetryAfter}
	}

	// Step 5: dispatch.
	results, err := w.dispatch(ctx, msg, payloads)
	if err != nil {
		return fmt.Errorf("senderworker: dispatch: %w", err)
	}

	// Steps 6-7: record outcomes, decrement global pending.
	for _, res := range results {
		status := domain.RecipientSent
		errMsg := ""
		if !res.Success {
			status = domain.RecipientFailed
			if res.Err != nil {
				errMsg = res.Err.Error()
			}
		}
		if _, err := w.hot.RecordOutcome(ctx, msg.BatchID, res.RecipientID, hotstate.OutcomeRecord{
			Status: status, ProviderMessageID: res.ProviderMessageID, ErrorMessage: errMsg,
		}); err != nil {
			return &ErrNack{Reason: "record outcome unavailable: " + err.Error(), RetryAfter: time.Second}
		}
		if w.indexer != nil && res.Success && res.ProviderMessageID != "" {
			entry := eventstore.IndexEntry{RecipientID: res.RecipientID, BatchID: msg.BatchID, UserID: msg.UserID}
			if err := w.indexer.IndexMessage(ctx, res.ProviderMessageID, entry); err != nil {
				logger.Warn("senderworker: index message failed", "recipientId", res.RecipientID, "error", err.Error())
			}
		}
	}
	if err := w.hot.DecrementGlobalPending(ctx, invalidCount+len(results)); err != nil {
		return fmt.Errorf("senderworker: decrement global pending: %w", err)
	}

	// Step 8: ack is the caller's responsibility on nil return.
	return nil
}

func (w *Worker) dispatch(ctx context.Context, msg batchprocessor.ChunkMessage, payloads []modules.RecipientPayload) ([]modules.Result, error) {
	if msg.DryRun {
		return dryRunDispatch(ctx, payloads), nil
	}
	m, err := w.registry.Resolve(&msg.SendConfig, false)
	if err != nil {
		return nil, err
	}
	cfg, err := msg.SendConfig.DecodeConfig()
	if err != nil {
		return nil, fmt.Errorf("decode send config: %w", err)
	}
	results, err := m.ExecuteBatch(ctx, cfg, payloads)
	if err != nil {
		// A transient error on the whole call fails every recipient in
		// the chunk rather than leaving it unrecorded (spec §4.3
		// "Transient provider error on an entire batch call").
		out := make([]modules.Result, len(payloads))
		for i, rp := range payloads {
			out[i] = modules.Result{RecipientID: rp.RecipientID, Success: false, Err: err}
		}
		return out, nil
	}
	return results, nil
}

func dryRunDispatch(ctx context.Context, payloads []modules.RecipientPayload) []modules.Result {
	results := make([]modules.Result, len(payloads))
	for i, rp := range payloads {
		delay := DryRunLatencyMin + time.Duration(rand.Int63n(int64(DryRunLatencyMax-DryRunLatencyMin)+1))
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
		results[i] = modules.Result{
			RecipientID:       rp.RecipientID,
			Success:           true,
			ProviderMessageID: "dry-run-" + rp.RecipientID,
		}
	}
	return results
}

func defaultPerSecond(module domain.ModuleType) int {
	switch module {
	case domain.ModuleEmail:
		return 14 // SES default sandbox-ish ceiling; real accounts override via RateLimit
	case domain.ModuleSMS:
		return 10
	case domain.ModulePush:
		return 50
	case domain.ModuleWebhook:
		return 20
	default:
		return 10
	}
}
