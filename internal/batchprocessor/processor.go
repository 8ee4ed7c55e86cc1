// Package batchprocessor implements the batch processor service of
// spec §4.2: it consumes one notification per queued batch and fans it
// out into per-user chunk messages on the bus.
package batchprocessor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/outboundhq/engine/internal/bus"
	"github.com/outboundhq/engine/internal/domain"
	"github.com/outboundhq/engine/internal/hotstate"
	"github.com/outboundhq/engine/internal/pkg/logger"
	"github.com/outboundhq/engine/internal/service/batch"
)

// ChunkMessage is the wire body published to user.{userId}.chunk.
// The send-config and the batch's payload template are both embedded
// by value so sender workers never re-query R for them (spec §4.2
// step 5, §4.3 step 3).
type ChunkMessage struct {
	BatchID      string            `json:"batchId"`
	UserID       string            `json:"userId"`
	ChunkIndex   int               `json:"chunkIndex"`
	RecipientIDs []string          `json:"recipientIds"`
	SendConfig   domain.SendConfig `json:"sendConfigSnapshot"`
	Payload      domain.Payload    `json:"payload"`
	DryRun       bool              `json:"dryRun"`
}

// batchNotification is the wire body consumed from sys.batch.process.
type batchNotification struct {
	BatchID string `json:"batchId"`
	UserID  string `json:"userId"`
}

// Processor fans a queued batch out into chunk messages.
type Processor struct {
	svc *batch.Service
	hot *hotstate.Client
	bus bus.Bus
}

// New builds a batch processor.
func New(svc *batch.Service, hot *hotstate.Client, b bus.Bus) *Processor {
	return &Processor{svc: svc, hot: hot, bus: b}
}

// HandleNotification implements the per-message logic of spec §4.2. The
// caller acks msg on nil error and nacks otherwise; this function never
// calls Ack/Nack itself so it stays testable without a real bus message.
func (p *Processor) HandleNotification(ctx context.Context, data []byte) error {
	var note batchNotification
	if err := json.Unmarshal(data, &note); err != nil {
		return fmt.Errorf("batchprocessor: decode notification: %w", err)
	}

	b, err := p.svc.Get(ctx, note.BatchID)
	if err != nil {
		return fmt.Errorf("batchprocessor: load batch %s: %w", note.BatchID, err)
	}

	// Already past processing (a redelivered notification for a batch
	// another worker already claimed) — nothing to do, ack cleanly.
	if b.Status != domain.BatchQueued {
		logger.Info("batch already claimed, skipping", "batchId", b.ID, "status", string(b.Status))
		return nil
	}

	var sc domain.SendConfig
	if b.SendConfigID != nil {
		loaded, err := p.svc.Repo().GetSendConfig(ctx, *b.SendConfigID)
		if err != nil {
			return fmt.Errorf("batchprocessor: load send config: %w", err)
		}
		if loaded != nil {
			sc = *loaded
		}
	}

	var payload domain.Payload
	if len(b.PayloadJSON) > 0 {
		if err := json.Unmarshal(b.PayloadJSON, &payload); err != nil {
			return fmt.Errorf("batchprocessor: decode batch payload: %w", err)
		}
	}

	ids, err := p.svc.Repo().PendingRecipientIDs(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("batchprocessor: load pending recipients: %w", err)
	}
	if len(ids) == 0 {
		logger.Info("batch has no pending recipients, marking completed", "batchId", b.ID)
		return p.svc.MarkCompleted(ctx, b.ID, time.Now())
	}

	chunkSize := sc.EffectiveChunkSize()
	if chunkSize <= 0 {
		chunkSize = 100
	}

	now := time.Now()
	if err := p.svc.MarkProcessing(ctx, b.ID, now); err != nil {
		return fmt.Errorf("batchprocessor: mark processing: %w", err)
	}

	if _, err := p.hot.InitCounters(ctx, b.ID, len(ids)); err != nil {
		return fmt.Errorf("batchprocessor: init counters: %w", err)
	}

	// Fan-out is the pending->queued transition of spec §4.1/§4.3: a
	// recipient is "queued" the moment its chunk is about to be
	// published, so the stuck-batch scan (spec §4.6) can tell a batch
	// that never got dispatched apart from one that finished dispatch
	// but is still waiting on terminal outcomes.
	if err := p.svc.Repo().MarkRecipientsQueued(ctx, b.ID, ids); err != nil {
		return fmt.Errorf("batchprocessor: mark recipients queued: %w", err)
	}

	chunks := chunkIDs(ids, chunkSize)
	for i, chunk := range chunks {
		msg := ChunkMessage{
			BatchID:      b.ID,
			UserID:       note.UserID,
			ChunkIndex:   i,
			RecipientIDs: chunk,
			SendConfig:   sc,
			Payload:      payload,
			DryRun:       b.DryRun,
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("batchprocessor: marshal chunk %d: %w", i, err)
		}
		subject := fmt.Sprintf(bus.SubjectUserChunkFmt, note.UserID)
		msgID := fmt.Sprintf("batch:%s:chunk:%d", b.ID, i)
		if err := p.bus.Publish(ctx, subject, msgID, payload); err != nil {
			return fmt.Errorf("batchprocessor: publish chunk %d: %w", i, err)
		}
	}

	logger.Info("fanned batch out into chunks", "batchId", b.ID, "chunks", len(chunks), "recipients", len(ids))
	return nil
}

// chunkIDs splits ids into stable-order chunks of at most size each.
func chunkIDs(ids []string, size int) [][]string {
	var out [][]string
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[i:end])
	}
	return out
}
