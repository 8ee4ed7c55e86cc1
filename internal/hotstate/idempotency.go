package hotstate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/outboundhq/engine/internal/domain"
)

// IdempotencySweep looks up the outcome record for each recipientId and
// returns the subset that has neither been sent nor reached a terminal
// status — i.e. the ones still safe to dispatch (spec §4.3 step 1). It fails closed:
// if the breaker is open, it returns ErrCircuitOpen and an empty slice
// so the caller nacks rather than processing blind.
func (c *Client) IdempotencySweep(ctx context.Context, batchID string, recipientIDs []string) ([]string, error) {
	if len(recipientIDs) == 0 {
		return nil, nil
	}
	if !c.breaker.Allow() {
		return nil, ErrCircuitOpen
	}

	raw, err := c.rdb.HMGet(ctx, recipientsKey(batchID), recipientIDs...).Result()
	if err != nil {
		c.breaker.RecordFailure()
		return nil, fmt.Errorf("hotstate: idempotency sweep: %w", err)
	}
	c.breaker.RecordSuccess()

	survivors := make([]string, 0, len(recipientIDs))
	for i, id := range recipientIDs {
		if raw[i] == nil {
			survivors = append(survivors, id)
			continue
		}
		s, ok := raw[i].(string)
		if !ok {
			survivors = append(survivors, id)
			continue
		}
		var rec OutcomeRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			// Malformed record: fail safe by treating as not-yet-terminal
			// rather than silently dropping a recipient from the chunk.
			survivors = append(survivors, id)
			continue
		}
		if !rec.Status.IsTerminal() && rec.Status != domain.RecipientSent {
			survivors = append(survivors, id)
		}
	}
	return survivors, nil
}

// GetOutcome fetches a single recipient's outcome record, used by the
// reconciler's pending-sync drain. It returns nil and no error when no
// outcome is recorded for the recipient.
func (c *Client) GetOutcome(ctx context.Context, batchID, recipientID string) (*OutcomeRecord, error) {
	s, err := c.rdb.HGet(ctx, recipientsKey(batchID), recipientID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hotstate: get outcome: %w", err)
	}
	var rec OutcomeRecord
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		return nil, fmt.Errorf("hotstate: decode outcome record: %w", err)
	}
	return &rec, nil
}
