// Package webhookconsumer drains the webhook.> subjects in batches,
// applies spec §4.7's three-layer dedup (Layer 2 here; Layers 1 and 3
// live in the bus and the relational store respectively), enriches
// events against the provider-message-id index, groups them by effect,
// and bulk-updates recipients/batches before appending to the event
// store.
package webhookconsumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/outboundhq/engine/internal/bus"
	"github.com/outboundhq/engine/internal/domain"
	"github.com/outboundhq/engine/internal/eventstore"
	"github.com/outboundhq/engine/internal/pkg/logger"
	"github.com/outboundhq/engine/internal/repository/postgres"
)

// FetchBatchSize and FlushInterval match spec §4.7: "Pull messages in
// batches of <=100, flush every 1s or when full."
const (
	FetchBatchSize = 100
	FlushInterval  = time.Second
	dedupTTL       = 5 * time.Minute
)

// Enricher resolves provider message ids to the recipient/batch/user
// they belong to, backed by eventstore.Writer.
type Enricher interface {
	ResolveIndex(ctx context.Context, providerMessageIDs []string) (map[string]eventstore.IndexEntry, error)
}

// EventAppender writes enriched events to E, backed by eventstore.Writer.
type EventAppender interface {
	AppendEvents(ctx context.Context, events []eventstore.EnrichedEvent) error
}

// RecipientUpdater applies a bulk status update to R for one status
// class, backed by repository/postgres.RecipientRepo.
type RecipientUpdater interface {
	BulkUpdateStatus(ctx context.Context, status domain.RecipientStatus, rows []postgres.RecipientOutcome) (int, error)
}

// BatchCounterUpdater increments a batch's denormalized delivered/bounced
// counts, backed by repository/postgres.BatchRepo.
type BatchCounterUpdater interface {
	IncrementCounters(ctx context.Context, batchID string, deliveredDelta, bouncedDelta int) error
}

// Consumer runs the pull-batch-flush loop for one subscription.
type Consumer struct {
	sub        bus.Subscription
	enricher   Enricher
	appender   EventAppender
	recipients RecipientUpdater
	batches    BatchCounterUpdater
	dedup      *lruDedup
}

// New builds a webhook event consumer over an already-created pull
// subscription (typically on the wildcard subject "webhook.>").
func New(sub bus.Subscription, enricher Enricher, appender EventAppender, recipients RecipientUpdater, batches BatchCounterUpdater) *Consumer {
	return &Consumer{
		sub: sub, enricher: enricher, appender: appender,
		recipients: recipients, batches: batches,
		dedup: newLRUDedup(dedupTTL, 0),
	}
}

// Run blocks, pulling and flushing batches until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msgs, err := c.sub.Fetch(ctx, FetchBatchSize)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Error("webhookconsumer: fetch failed", "error", err.Error())
				continue
			}
			if len(msgs) == 0 {
				continue
			}
			if err := c.ProcessMessages(ctx, msgs); err != nil {
				logger.Error("webhookconsumer: process batch failed", "error", err.Error())
			}
		}
	}
}

// ProcessMessages runs one full flush over a fetched batch: decode,
// Layer-2 dedup, enrich, group by effect, write, ack. Exposed
// separately from Run so tests can drive it without a real subscription.
func (c *Consumer) ProcessMessages(ctx context.Context, msgs []bus.Msg) error {
	type decoded struct {
		msg bus.Msg
		evt domain.WebhookEvent
	}

	var fresh []decoded
	for _, m := range msgs {
		var evt domain.WebhookEvent
		if err := json.Unmarshal(m.Data(), &evt); err != nil {
			logger.Error("webhookconsumer: bad message, acking to drop", "error", err.Error())
			_ = m.Ack()
			continue
		}
		if c.dedup.Seen(evt.ID) {
			_ = m.Ack()
			continue
		}
		fresh = append(fresh, decoded{msg: m, evt: evt})
	}
	if len(fresh) == 0 {
		return nil
	}

	pmids := make([]string, 0, len(fresh))
	seenPMID := make(map[string]bool)
	for _, d := range fresh {
		if d.evt.ProviderMessageID != "" && !seenPMID[d.evt.ProviderMessageID] {
			seenPMID[d.evt.ProviderMessageID] = true
			pmids = append(pmids, d.evt.ProviderMessageID)
		}
	}
	index, err := c.enricher.ResolveIndex(ctx, pmids)
	if err != nil {
		return fmt.Errorf("webhookconsumer: resolve index: %w", err)
	}

	byStatus := make(map[domain.RecipientStatus][]postgres.RecipientOutcome)
	type counterDelta struct{ delivered, bounced int }
	batchDeltas := make(map[string]counterDelta)
	var toAppend []eventstore.EnrichedEvent

	for _, d := range fresh {
		entry := index[d.evt.ProviderMessageID]
		toAppend = append(toAppend, eventstore.EnrichedEvent{Event: d.evt, Index: entry})

		status, hasEffect := d.evt.EventType.EventStatusEffect()
		if !hasEffect || entry.RecipientID == "" {
			continue
		}
		byStatus[status] = append(byStatus[status], postgres.RecipientOutcome{
			ID: entry.RecipientID, Status: string(status), ProviderMessageID: d.evt.ProviderMessageID,
		})
		delta := batchDeltas[entry.BatchID]
		switch status {
		case domain.RecipientDelivered:
			delta.delivered++
		case domain.RecipientBounced, domain.RecipientComplained:
			delta.bounced++
		}
		batchDeltas[entry.BatchID] = delta
	}

	for status, rows := range byStatus {
		if _, err := c.recipients.BulkUpdateStatus(ctx, status, rows); err != nil {
			return fmt.Errorf("webhookconsumer: bulk update %s: %w", status, err)
		}
	}
	for batchID, delta := range batchDeltas {
		if err := c.batches.IncrementCounters(ctx, batchID, delta.delivered, delta.bounced); err != nil {
			logger.Error("webhookconsumer: increment batch counters failed", "batchId", batchID, "error", err.Error())
		}
	}
	if err := c.appender.AppendEvents(ctx, toAppend); err != nil {
		return fmt.Errorf("webhookconsumer: append events: %w", err)
	}

	for _, d := range fresh {
		if err := d.msg.Ack(); err != nil {
			logger.Error("webhookconsumer: ack failed", "error", err.Error())
			continue
		}
		// Layer 2 is marked after ack so a failed write redelivers and
		// reprocesses rather than silently dropping (spec §4.7).
		c.dedup.Mark(d.evt.ID)
	}
	return nil
}
