package leader

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/outboundhq/engine/internal/bus"
	"github.com/outboundhq/engine/internal/pkg/logger"
	"github.com/outboundhq/engine/internal/service/batch"
)

// QueuedBusInterval and QueuedBusBatchLimit match spec §4.8: "every
// ~5s, find status=queued batches with no in-flight chunk
// notification."
const (
	QueuedBusInterval   = 5 * time.Second
	QueuedBusBatchLimit = 200
)

type batchNotification struct {
	BatchID string `json:"batchId"`
	UserID  string `json:"userId"`
}

// QueuedBus publishes sys.batch.process for queued batches. The
// publish msgID is deterministic per batch ("batch:{id}:notify"), so a
// republish within the bus's dedup window is a no-op at the consumer
// end — this is what makes re-scanning every tick safe without a
// separate "no in-flight notification" marker of our own.
type QueuedBus struct {
	svc      *batch.Service
	bus      bus.Bus
	election LeaderChecker
}

// NewQueuedBus builds the queued-to-bus adapter.
func NewQueuedBus(svc *batch.Service, b bus.Bus, election LeaderChecker) *QueuedBus {
	return &QueuedBus{svc: svc, bus: b, election: election}
}

// Run blocks, ticking every QueuedBusInterval until ctx is cancelled.
func (q *QueuedBus) Run(ctx context.Context) {
	ticker := time.NewTicker(QueuedBusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.Tick(ctx); err != nil {
				logger.Error("queued-to-bus tick failed", "error", err.Error())
			}
		}
	}
}

// Tick runs one scan-and-publish pass: short-circuits if this process
// isn't the elected leader.
func (q *QueuedBus) Tick(ctx context.Context) error {
	if !q.election.IsLeader() {
		return nil
	}
	queued, err := q.svc.QueuedBatches(ctx, QueuedBusBatchLimit)
	if err != nil {
		return err
	}
	for _, b := range queued {
		data, err := json.Marshal(batchNotification{BatchID: b.ID, UserID: b.UserID})
		if err != nil {
			return fmt.Errorf("leader: marshal notification for %s: %w", b.ID, err)
		}
		msgID := fmt.Sprintf("batch:%s:notify", b.ID)
		if err := q.bus.Publish(ctx, bus.SubjectBatchProcess, msgID, data); err != nil {
			logger.Error("queued-to-bus: publish failed", "batchId", b.ID, "error", err.Error())
			continue
		}
	}
	return nil
}
