// Package hotstate is the engine's hot-state store (H): per-batch
// counters, per-recipient idempotency records, the pending-sync set,
// rate-limit token buckets, the leader lock, and the webhook dedup
// cache. Every mutation on the critical path goes through a named
// atomic Lua script so the increment and the recipient write it
// accompanies are indivisible, mirroring the teacher's
// internal/worker/rate_limiter.go and internal/pkg/distlock/redis_lock.go.
package hotstate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps a Redis connection plus the circuit breaker guarding it.
// All named operations (counters, idempotency, pending-sync, rate
// limiter, leader lock, dedup) are methods on Client so callers share
// one breaker and one connection pool.
type Client struct {
	rdb     *redis.Client
	breaker *CircuitBreaker
}

// New connects to Redis at url and verifies the connection with a ping.
func New(url string, dialTimeout time.Duration, poolSize int) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("hotstate: invalid redis url: %w", err)
	}
	opts.DialTimeout = dialTimeout
	opts.PoolSize = poolSize

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("hotstate: redis connection failed: %w", err)
	}

	return &Client{rdb: rdb, breaker: NewCircuitBreaker()}, nil
}

// NewFromRedis wraps an already-constructed *redis.Client. Used by tests
// running against miniredis and by callers that manage their own pool.
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb, breaker: NewCircuitBreaker()}
}

// Raw exposes the underlying redis.Client for call sites that need
// primitives this package doesn't wrap (e.g. reconciler SCAN cursors).
func (c *Client) Raw() *redis.Client { return c.rdb }

func (c *Client) Close() error { return c.rdb.Close() }

// ErrCircuitOpen is returned by idempotency-critical operations when the
// breaker is open; callers must nack rather than proceed blind (spec
// §4.3 step 1).
var ErrCircuitOpen = fmt.Errorf("hotstate: circuit breaker open")
