package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NatsBus is the JetStream-backed Bus. One stream (configurable name,
// default "ENGINE") carries all three subjects of spec §6; JetStream's
// per-subject Nats-Msg-Id deduplication window implements Layer 1 of the
// webhook dedup strategy and doubles as the batch-processor's chunk
// dedup (spec §4.2 step 6).
type NatsBus struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// NewNatsBus connects to url and ensures the stream covering
// sys.>, user.>, webhook.> exists with the given dedup window.
func NewNatsBus(ctx context.Context, url, streamName string, dedupWindow time.Duration) (*NatsBus, error) {
	conn, err := nats.Connect(url, nats.Name("outboundhq-engine"))
	if err != nil {
		return nil, fmt.Errorf("bus: connect: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: jetstream: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{"sys.>", "user.>", "webhook.>"},
		Duplicates: dedupWindow,
		Storage:    jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: create stream: %w", err)
	}

	return &NatsBus{conn: conn, js: js}, nil
}

func (b *NatsBus) Publish(ctx context.Context, subject, msgID string, data []byte) error {
	_, err := b.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID))
	if err != nil {
		return fmt.Errorf("bus: publish %s: %w", subject, err)
	}
	return nil
}

func (b *NatsBus) PullSubscribe(ctx context.Context, subject, durable string, ackWait time.Duration, maxDeliver int) (Subscription, error) {
	streamName, err := b.js.StreamNameBySubject(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("bus: resolve stream for %s: %w", subject, err)
	}

	cons, err := b.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    maxDeliver,
	})
	if err != nil {
		return nil, fmt.Errorf("bus: create consumer %s: %w", durable, err)
	}

	return &natsSubscription{cons: cons}, nil
}

func (b *NatsBus) Close() error {
	b.conn.Close()
	return nil
}

type natsSubscription struct {
	cons jetstream.Consumer
}

func (s *natsSubscription) Fetch(ctx context.Context, max int) ([]Msg, error) {
	batch, err := s.cons.Fetch(max, jetstream.FetchMaxWait(10*time.Second))
	if err != nil {
		return nil, fmt.Errorf("bus: fetch: %w", err)
	}

	var out []Msg
	for m := range batch.Messages() {
		out = append(out, &natsMsg{m: m})
	}
	if err := batch.Error(); err != nil && len(out) == 0 {
		return nil, fmt.Errorf("bus: fetch batch: %w", err)
	}
	return out, nil
}

func (s *natsSubscription) Unsubscribe() error { return nil }

type natsMsg struct {
	m jetstream.Msg
}

func (m *natsMsg) Subject() string { return m.m.Subject() }
func (m *natsMsg) Data() []byte    { return m.m.Data() }
func (m *natsMsg) Ack() error      { return m.m.Ack() }
func (m *natsMsg) Nack(delay time.Duration) error {
	if delay <= 0 {
		return m.m.Nak()
	}
	return m.m.NakWithDelay(delay)
}
func (m *natsMsg) Delivered() int {
	meta, err := m.m.Metadata()
	if err != nil {
		return 1
	}
	return int(meta.NumDelivered)
}
