package hotstate

import (
	"context"
	"fmt"
	"time"
)

// RateLimitResult is the outcome of a token-bucket acquisition attempt.
type RateLimitResult struct {
	Allowed      bool
	RetryAfter   time.Duration
	CurrentCount int
}

// AcquireRateLimit implements the per-(sendConfigId, 1s window) token
// bucket of spec §4.5. One token is consumed per API call (cost=1),
// never per recipient, because true-batch providers fold many
// recipients into one call. Bounded [1,500] enforcement is the caller's
// responsibility (domain.SendConfig.EffectivePerSecond already clamps).
func (c *Client) AcquireRateLimit(ctx context.Context, sendConfigID string, perSecond int) (RateLimitResult, error) {
	now := time.Now()
	key := rateLimitKey(sendConfigID, now.Unix())

	res, err := compiled.tokenBucket.Run(ctx, c.rdb, []string{key}, perSecond, 1).Slice()
	if err != nil {
		return RateLimitResult{}, fmt.Errorf("hotstate: acquire rate limit: %w", err)
	}
	if len(res) != 2 {
		return RateLimitResult{}, fmt.Errorf("hotstate: unexpected rate limit result %v", res)
	}

	allowed := res[0].(int64) == 1
	current := int(res[1].(int64))

	result := RateLimitResult{Allowed: allowed, CurrentCount: current}
	if !allowed {
		result.RetryAfter = time.Duration(1e9-now.Nanosecond()) * time.Nanosecond
	}
	return result, nil
}
