package webhookconsumer_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outboundhq/engine/internal/bus"
	"github.com/outboundhq/engine/internal/domain"
	"github.com/outboundhq/engine/internal/eventstore"
	"github.com/outboundhq/engine/internal/repository/postgres"
	"github.com/outboundhq/engine/internal/webhookconsumer"
)

type fakeMsg struct {
	data   []byte
	acked  bool
	nacked bool
}

func (m *fakeMsg) Subject() string          { return "webhook.resend.delivered" }
func (m *fakeMsg) Data() []byte             { return m.data }
func (m *fakeMsg) Delivered() int           { return 1 }
func (m *fakeMsg) Ack() error               { m.acked = true; return nil }
func (m *fakeMsg) Nack(time.Duration) error { m.nacked = true; return nil }

type fakeEnricher struct {
	index map[string]eventstore.IndexEntry
}

func (f *fakeEnricher) ResolveIndex(_ context.Context, ids []string) (map[string]eventstore.IndexEntry, error) {
	out := make(map[string]eventstore.IndexEntry)
	for _, id := range ids {
		if e, ok := f.index[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

type fakeAppender struct {
	appended []eventstore.EnrichedEvent
}

func (f *fakeAppender) AppendEvents(_ context.Context, events []eventstore.EnrichedEvent) error {
	f.appended = append(f.appended, events...)
	return nil
}

type fakeRecipients struct {
	updates map[domain.RecipientStatus][]postgres.RecipientOutcome
}

func (f *fakeRecipients) BulkUpdateStatus(_ context.Context, status domain.RecipientStatus, rows []postgres.RecipientOutcome) (int, error) {
	if f.updates == nil {
		f.updates = make(map[domain.RecipientStatus][]postgres.RecipientOutcome)
	}
	f.updates[status] = append(f.updates[status], rows...)
	return len(rows), nil
}

type fakeBatches struct {
	deltas map[string][2]int
}

func (f *fakeBatches) IncrementCounters(_ context.Context, batchID string, delivered, bounced int) error {
	if f.deltas == nil {
		f.deltas = make(map[string][2]int)
	}
	f.deltas[batchID] = [2]int{delivered, bounced}
	return nil
}

func TestConsumer_ProcessMessagesUpdatesAndAcks(t *testing.T) {
	evt := domain.WebhookEvent{
		ID: "evt-1", Provider: "resend", EventType: domain.EventDelivered,
		ProviderMessageID: "pmid-1",
	}
	data, err := json.Marshal(evt)
	require.NoError(t, err)
	msg := &fakeMsg{data: data}

	enricher := &fakeEnricher{index: map[string]eventstore.IndexEntry{
		"pmid-1": {RecipientID: "r1", BatchID: "b1", UserID: "u1"},
	}}
	appender := &fakeAppender{}
	recipients := &fakeRecipients{}
	batches := &fakeBatches{}

	c := webhookconsumer.New(nil, enricher, appender, recipients, batches)
	require.NoError(t, c.ProcessMessages(context.Background(), []bus.Msg{msg}))

	assert.True(t, msg.acked)
	assert.Len(t, appender.appended, 1)
	assert.Equal(t, []postgres.RecipientOutcome{{ID: "r1", Status: "delivered", ProviderMessageID: "pmid-1"}}, recipients.updates[domain.RecipientDelivered])
	assert.Equal(t, [2]int{1, 0}, batches.deltas["b1"])
}

func TestConsumer_DedupsRepeatedEventID(t *testing.T) {
	evt := domain.WebhookEvent{ID: "evt-dup", Provider: "resend", EventType: domain.EventOpened}
	data, _ := json.Marshal(evt)

	enricher := &fakeEnricher{index: map[string]eventstore.IndexEntry{}}
	appender := &fakeAppender{}
	recipients := &fakeRecipients{}
	batches := &fakeBatches{}
	c := webhookconsumer.New(nil, enricher, appender, recipients, batches)

	msg1 := &fakeMsg{data: data}
	require.NoError(t, c.ProcessMessages(context.Background(), []bus.Msg{msg1}))
	assert.Len(t, appender.appended, 1)

	msg2 := &fakeMsg{data: data}
	require.NoError(t, c.ProcessMessages(context.Background(), []bus.Msg{msg2}))
	assert.True(t, msg2.acked)
	assert.Len(t, appender.appended, 1) // not reprocessed
}
