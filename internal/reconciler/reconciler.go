// Package reconciler implements the background sync and recovery loop
// of spec §4.6: it drains hot-state's pending-sync set into R, finalizes
// completed batches, and recovers stuck batches (leader-only). It does
// not copy hot-state counters into the batches row's sent_count and
// failed_count, and it has no startup sweep for state left behind by a
// crashed worker.
package reconciler

import (
	"context"
	"time"

	"github.com/outboundhq/engine/internal/domain"
	"github.com/outboundhq/engine/internal/hotstate"
	"github.com/outboundhq/engine/internal/pkg/logger"
	"github.com/outboundhq/engine/internal/service/batch"
)

// Syncer applies bulk status updates to R for the recipients the
// reconciler drains out of hot-state's pending-sync set, grounded on
// repository/postgres.RecipientRepo.BulkUpdateStatus (spec §4.6 step
// 2: a single data-driven statement per status class).
type Syncer interface {
	SyncRecipients(ctx context.Context, batchID string, recipientIDs []string) error
}

// Reconciler runs the drain-and-recover loop. One instance runs in
// every sender worker process; the stuck-batch scan additionally
// checks leadership before acting.
type Reconciler struct {
	hot        *hotstate.Client
	svc        *batch.Service
	syncer     Syncer
	drainLimit int64
	stuckAfter time.Duration
	isLeader   func() bool
}

// New builds a reconciler. isLeader is consulted before the
// leader-only stuck-batch scan runs each tick; pass a function
// returning true for a single-process deployment with no leader
// election configured.
func New(hot *hotstate.Client, svc *batch.Service, syncer Syncer, drainLimit int64, stuckAfter time.Duration, isLeader func() bool) *Reconciler {
	if drainLimit <= 0 {
		drainLimit = 500
	}
	if stuckAfter <= 0 {
		stuckAfter = 15 * time.Minute
	}
	return &Reconciler{hot: hot, svc: svc, syncer: syncer, drainLimit: drainLimit, stuckAfter: stuckAfter, isLeader: isLeader}
}

// Run blocks, ticking the drain loop at the given interval until ctx is
// cancelled. A separate, longer-period goroutine should call
// ScanStuckBatches for the leader-only recovery pass (spec §4.6).
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.DrainOnce(ctx); err != nil {
				logger.Error("reconciler drain failed", "error", err.Error())
			}
		}
	}
}

// DrainOnce performs one pass of spec §4.6 steps 1-5 across every
// active batch.
func (r *Reconciler) DrainOnce(ctx context.Context) error {
	batchIDs, err := r.hot.ActiveBatchIDs(ctx)
	if err != nil {
		return err
	}
	for _, batchID := range batchIDs {
		if err := r.syncBatch(ctx, batchID); err != nil {
			logger.Error("reconciler: sync batch failed", "batchId", batchID, "error", err.Error())
		}
	}
	return nil
}

func (r *Reconciler) syncBatch(ctx context.Context, batchID string) error {
	ids, err := r.hot.DrainPending(ctx, batchID, r.drainLimit)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return r.maybeFinalize(ctx, batchID)
	}

	if r.syncer != nil {
		if err := r.syncer.SyncRecipients(ctx, batchID, ids); err != nil {
			return err
		}
	}
	if err := r.hot.RemovePending(ctx, batchID, ids); err != nil {
		return err
	}
	return r.maybeFinalize(ctx, batchID)
}

func (r *Reconciler) maybeFinalize(ctx context.Context, batchID string) error {
	counters, err := r.hot.GetCounters(ctx, batchID)
	if err != nil {
		return err
	}
	if !counters.IsComplete() {
		return nil
	}
	b, err := r.svc.Get(ctx, batchID)
	if err != nil {
		return err
	}
	if b.Status.IsTerminal() {
		return nil
	}
	if err := r.svc.MarkCompleted(ctx, batchID, time.Now()); err != nil {
		return err
	}
	return r.hot.RetireCounters(ctx, batchID)
}

// ScanStuckBatches implements the leader-only stuck-batch recovery of
// spec §4.6: batches processing longer than stuckAfter are either
// finalized (every recipient reached a final state) or reset to
// queued so the queued-to-bus adapter re-enqueues them.
func (r *Reconciler) ScanStuckBatches(ctx context.Context) error {
	if r.isLeader != nil && !r.isLeader() {
		return nil
	}
	cutoff := time.Now().Add(-r.stuckAfter)
	stuck, err := r.svc.StuckBatches(ctx, cutoff, 100)
	if err != nil {
		return err
	}
	for _, b := range stuck {
		if err := r.recoverOne(ctx, b); err != nil {
			logger.Error("reconciler: recover stuck batch failed", "batchId", b.ID, "error", err.Error())
		}
	}
	return nil
}

func (r *Reconciler) recoverOne(ctx context.Context, b domain.Batch) error {
	terminal, total, err := r.svc.Repo().CountTerminalRecipients(ctx, b.ID)
	if err != nil {
		return err
	}
	if total > 0 && terminal == total {
		return r.svc.MarkCompleted(ctx, b.ID, time.Now())
	}

	// Only reset if stuck well past the threshold and a recipient is
	// still queued (spec §4.6's literal condition) — otherwise leave
	// it, another tick may still finish it.
	if time.Since(*b.StartedAt) < 2*r.stuckAfter {
		return nil
	}
	queued, err := r.svc.Repo().CountQueuedRecipients(ctx, b.ID)
	if err != nil {
		return err
	}
	if queued == 0 {
		return nil
	}
	return r.svc.ResetToQueued(ctx, b.ID)
}
