// Package leader runs the single-elected-worker services of spec §4.8:
// the scheduler (promote scheduled batches), the queued-to-bus adapter
// (publish sys.batch.process for queued batches), and the stuck-batch
// scanner (spec §4.6). Leadership is held by hotstate.LeaderLock's
// set-if-absent-with-TTL plus compare-and-refresh heartbeat; every
// leader-only tick checks IsCurrentLeader() first and short-circuits if
// false, so a process can keep its timers running across lost/regained
// leadership without re-registering them.
package leader

import (
	"context"
	"time"

	"github.com/outboundhq/engine/internal/hotstate"
	"github.com/outboundhq/engine/internal/pkg/logger"
)

// DefaultLockTTL and DefaultHeartbeat match spec §4.8: "Lock TTL 30s,
// heartbeat 10s."
const (
	DefaultLockTTL   = 30 * time.Second
	DefaultHeartbeat = 10 * time.Second
	DefaultLockKey   = "leader:engine"
)

// LeaderChecker is the narrow interface Scheduler and QueuedBus depend
// on, so tests can substitute a fixed true/false check instead of
// driving a real election over miniredis.
type LeaderChecker interface {
	IsLeader() bool
}

// Election wraps a hotstate.LeaderLock and owns the goroutine that runs
// its acquire/renew loop.
type Election struct {
	lock *hotstate.LeaderLock
}

// New builds the election loop. lockKey, ttl, and heartbeat come from
// config; pass zero values to use the spec's defaults.
func New(hot *hotstate.Client, lockKey string, ttl, heartbeat time.Duration) *Election {
	if lockKey == "" {
		lockKey = DefaultLockKey
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	lock := hot.NewLeaderLock(lockKey, ttl, heartbeat)
	lock.OnBecomeLeader(func() { logger.Info("leader: acquired election lock") })
	lock.OnLostLeadership(func() { logger.Info("leader: lost election lock") })
	return &Election{lock: lock}
}

// IsLeader reports this process's last-known election status.
func (e *Election) IsLeader() bool {
	return e.lock.IsCurrentLeader()
}

// Run blocks, running the acquire/renew loop until ctx is cancelled.
func (e *Election) Run(ctx context.Context) {
	e.lock.Run(ctx)
}

// Release gives up leadership immediately, for graceful shutdown.
func (e *Election) Release(ctx context.Context) error {
	return e.lock.Release(ctx)
}
