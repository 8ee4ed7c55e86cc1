package hotstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/outboundhq/engine/internal/domain"
)

// Counters is the {sent, failed, total} tuple for one batch.
type Counters struct {
	Sent   int
	Failed int
	Total  int
}

// IsComplete reports sent+failed >= total (spec §8 property 2).
func (c Counters) IsComplete() bool { return c.Sent+c.Failed >= c.Total }

// OutcomeRecord is the per-recipient value stored under
// hs:batch:{batchId}:recipients, serialized as JSON (spec §3).
type OutcomeRecord struct {
	Status            domain.RecipientStatus `json:"status"`
	SentAt            *time.Time             `json:"sentAt,omitempty"`
	ProviderMessageID string                 `json:"providerMessageId,omitempty"`
	ErrorMessage      string                 `json:"errorMessage,omitempty"`
}

// InitCounters initializes {sent:0, failed:0, total} for a batch if the
// counters hash does not already exist (spec §4.2 step 4), and also
// increments the global pending gauge by total. Safe to call more than
// once for the same batch under at-least-once redelivery.
func (c *Client) InitCounters(ctx context.Context, batchID string, total int) (Counters, error) {
	if !c.breaker.Allow() {
		return Counters{}, ErrCircuitOpen
	}
	res, err := compiled.initCounters.Run(ctx, c.rdb,
		[]string{countersKey(batchID), globalPendingKey()}, total, activeTTLSeconds).Slice()
	if err != nil {
		c.breaker.RecordFailure()
		return Counters{}, fmt.Errorf("hotstate: init counters: %w", err)
	}
	c.breaker.RecordSuccess()

	return parseCounterSlice(res)
}

// RecordOutcome atomically increments the sent/failed counter, writes
// the recipient's outcome record, and adds it to the pending-sync set
// (spec §4.3 step 6), returning the batch's updated counters. It does
// not touch the global pending gauge; callers decrement that separately
// with DecrementGlobalPending (step 7).
func (c *Client) RecordOutcome(ctx context.Context, batchID, recipientID string, rec OutcomeRecord) (Counters, error) {
	if !c.breaker.Allow() {
		return Counters{}, ErrCircuitOpen
	}

	field := "sent"
	if rec.Status == domain.RecipientFailed {
		field = "failed"
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return Counters{}, fmt.Errorf("hotstate: marshal outcome record: %w", err)
	}

	res, err := compiled.recordOutcome.Run(ctx, c.rdb,
		[]string{countersKey(batchID), recipientsKey(batchID), pendingKey(batchID)},
		recipientID, field, string(payload), activeTTLSeconds,
	).Slice()
	if err != nil {
		c.breaker.RecordFailure()
		return Counters{}, fmt.Errorf("hotstate: record outcome: %w", err)
	}
	c.breaker.RecordSuccess()

	if len(res) != 4 {
		return Counters{}, fmt.Errorf("hotstate: record outcome: unexpected script result %v", res)
	}
	return Counters{
		Sent:   int(res[0].(int64)),
		Failed: int(res[1].(int64)),
		Total:  int(res[2].(int64)),
	}, nil
}

// DecrementGlobalPending decrements the process-wide pending gauge by n
// newly-terminal recipients (spec §4.3 step 7).
func (c *Client) DecrementGlobalPending(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	return c.rdb.DecrBy(ctx, globalPendingKey(), int64(n)).Err()
}

// GetCounters reads the current {sent,failed,total} for a batch without
// mutating it. Used by the reconciler's sync loop.
func (c *Client) GetCounters(ctx context.Context, batchID string) (Counters, error) {
	res, err := c.rdb.HMGet(ctx, countersKey(batchID), "sent", "failed", "total").Result()
	if err != nil {
		return Counters{}, fmt.Errorf("hotstate: get counters: %w", err)
	}
	return parseCounterSlice(res)
}

// RetireCounters shrinks a completed batch's TTLs to the 48h
// completed-retention window (spec §4.6 step 5).
func (c *Client) RetireCounters(ctx context.Context, batchID string) error {
	_, err := compiled.retireCounters.Run(ctx, c.rdb,
		[]string{countersKey(batchID), recipientsKey(batchID), pendingKey(batchID)},
		completedTTLSeconds,
	).Result()
	if err != nil {
		return fmt.Errorf("hotstate: retire counters: %w", err)
	}
	return nil
}

func parseCounterSlice(res []interface{}) (Counters, error) {
	if len(res) != 3 {
		return Counters{}, fmt.Errorf("hotstate: unexpected counters result %v", res)
	}
	sent, err1 := toInt(res[0])
	failed, err2 := toInt(res[1])
	total, err3 := toInt(res[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return Counters{}, fmt.Errorf("hotstate: malformed counters result %v", res)
	}
	return Counters{Sent: sent, Failed: failed, Total: total}, nil
}

func toInt(v interface{}) (int, error) {
	switch t := v.(type) {
	case int64:
		return int(t), nil
	case string:
		var n int
		_, err := fmt.Sscanf(t, "%d", &n)
		return n, err
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
