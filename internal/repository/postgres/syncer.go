package postgres

import (
	"context"
	"fmt"

	"github.com/outboundhq/engine/internal/domain"
	"github.com/outboundhq/engine/internal/hotstate"
)

// outcomeReader is the narrow slice of hotstate.Client the syncer needs,
// so tests can substitute a fake instead of a real Redis connection.
type outcomeReader interface {
	GetOutcome(ctx context.Context, batchID, recipientID string) (*hotstate.OutcomeRecord, error)
}

// HotStateSyncer implements reconciler.Syncer by reading each drained
// recipient's recorded outcome out of hot-state and applying it to R
// with one data-driven statement per status class (spec §4.6 step 2).
type HotStateSyncer struct {
	hot        outcomeReader
	recipients *RecipientRepo
}

// NewHotStateSyncer builds the reconciler's sync adapter.
func NewHotStateSyncer(hot *hotstate.Client, recipients *RecipientRepo) *HotStateSyncer {
	return &HotStateSyncer{hot: hot, recipients: recipients}
}

// SyncRecipients implements reconciler.Syncer.
func (s *HotStateSyncer) SyncRecipients(ctx context.Context, batchID string, recipientIDs []string) error {
	byStatus := make(map[domain.RecipientStatus][]RecipientOutcome)
	for _, id := range recipientIDs {
		rec, err := s.hot.GetOutcome(ctx, batchID, id)
		if err != nil {
			return fmt.Errorf("syncer: get outcome for %s: %w", id, err)
		}
		if rec == nil {
			continue // recorded in pending-sync but no outcome yet; next drain picks it up
		}
		byStatus[rec.Status] = append(byStatus[rec.Status], RecipientOutcome{
			ID: id, Status: string(rec.Status),
			ProviderMessageID: rec.ProviderMessageID, ErrorMessage: rec.ErrorMessage,
		})
	}
	for status, rows := range byStatus {
		if _, err := s.recipients.BulkUpdateStatus(ctx, status, rows); err != nil {
			return fmt.Errorf("syncer: bulk update %s: %w", status, err)
		}
	}
	return nil
}
