package hotstate

import (
	"context"
	"fmt"
)

// CheckAndMarkWebhookEvent is Layer 1's hot-state complement: it is NOT
// the bus's own publish-time dedup window (that lives in internal/bus),
// but a short-TTL marker a webhook consumer can check before processing
// a message pulled off the bus. The consumer in internal/webhookconsumer
// does not call it; it relies on its in-process LRU (Layer 2) alone.
// Returns true the first time eventID is seen within the TTL window,
// false on every repeat.
func (c *Client) CheckAndMarkWebhookEvent(ctx context.Context, eventID string) (firstSeen bool, err error) {
	res, err := compiled.dedupCheck.Run(ctx, c.rdb, []string{dedupKey(eventID)}, dedupTTLSeconds).Int64()
	if err != nil {
		return false, fmt.Errorf("hotstate: webhook dedup check: %w", err)
	}
	return res == 1, nil
}
