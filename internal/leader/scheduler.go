package leader

import (
	"context"
	"time"

	"github.com/outboundhq/engine/internal/pkg/logger"
	"github.com/outboundhq/engine/internal/service/batch"
)

// SchedulerInterval and SchedulerBatchLimit match spec §4.8: "every
// ~30s, select batches with status=scheduled AND scheduledAt <= now."
const (
	SchedulerInterval   = 30 * time.Second
	SchedulerBatchLimit = 200
)

// Scheduler promotes due scheduled batches to queued. It only acts
// while this process holds the election lock.
type Scheduler struct {
	svc      *batch.Service
	election LeaderChecker
}

// NewScheduler builds the scheduler tick.
func NewScheduler(svc *batch.Service, election LeaderChecker) *Scheduler {
	return &Scheduler{svc: svc, election: election}
}

// Run blocks, ticking every SchedulerInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(SchedulerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				logger.Error("scheduler tick failed", "error", err.Error())
			}
		}
	}
}

// Tick runs one scheduling pass: short-circuits if this process isn't
// the elected leader, otherwise promotes every due batch to queued.
func (s *Scheduler) Tick(ctx context.Context) error {
	if !s.election.IsLeader() {
		return nil
	}
	due, err := s.svc.DueScheduledBatches(ctx, time.Now(), SchedulerBatchLimit)
	if err != nil {
		return err
	}
	for _, b := range due {
		if err := s.svc.Queue(ctx, b.ID); err != nil {
			logger.Error("scheduler: queue batch failed", "batchId", b.ID, "error", err.Error())
			continue
		}
		logger.Info("scheduler: promoted batch to queued", "batchId", b.ID)
	}
	return nil
}
