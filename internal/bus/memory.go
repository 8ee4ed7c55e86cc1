package bus

import (
	"context"
	"sync"
	"time"
)

// MemoryBus is an in-process Bus fake for unit tests, mirroring the
// teacher's in-package mem* fakes (internal/service/campaign/service_test.go)
// rather than a generic mock library. It honors publish-time
// deduplication (by msgID, no TTL eviction — tests are short-lived) and
// at-least-once redelivery semantics closely enough to exercise
// consumer logic without a real NATS server.
type MemoryBus struct {
	mu       sync.Mutex
	seenMsgs map[string]bool
	queues   map[string][]*memMsg
	closed   bool
}

// NewMemoryBus constructs an empty fake bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		seenMsgs: make(map[string]bool),
		queues:   make(map[string][]*memMsg),
	}
}

func (b *MemoryBus) Publish(_ context.Context, subject, msgID string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.seenMsgs[msgID] {
		return nil // publish-time dedup, spec §4.7 Layer 1
	}
	b.seenMsgs[msgID] = true

	cp := make([]byte, len(data))
	copy(cp, data)
	b.queues[subject] = append(b.queues[subject], &memMsg{subject: subject, data: cp, delivered: 1})
	return nil
}

func (b *MemoryBus) PullSubscribe(_ context.Context, subject, _ string, _ time.Duration, maxDeliver int) (Subscription, error) {
	return &memSubscription{bus: b, subject: subject, maxDeliver: maxDeliver}, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Len reports how many undelivered messages remain queued on subject —
// a test assertion hook, not part of the Bus interface.
func (b *MemoryBus) Len(subject string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[subject])
}

type memSubscription struct {
	bus        *MemoryBus
	subject    string
	maxDeliver int
}

func (s *memSubscription) Fetch(_ context.Context, max int) ([]Msg, error) {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	q := s.bus.queues[s.subject]
	n := max
	if n > len(q) {
		n = len(q)
	}
	out := make([]Msg, 0, n)
	for i := 0; i < n; i++ {
		m := q[i]
		subject := s.subject
		bus := s.bus
		m.requeue = func() {
			bus.mu.Lock()
			defer bus.mu.Unlock()
			requeued := &memMsg{subject: subject, data: m.data, delivered: m.delivered + 1}
			bus.queues[subject] = append(bus.queues[subject], requeued)
		}
		out = append(out, m)
	}
	s.bus.queues[s.subject] = q[n:]
	return out, nil
}

func (s *memSubscription) Unsubscribe() error { return nil }

type memMsg struct {
	subject   string
	data      []byte
	delivered int
	acked     bool
	nacked    bool
	// requeue is set by the owning bus on Nack so the message becomes
	// fetchable again, incrementing delivered each time.
	requeue func()
}

func (m *memMsg) Subject() string { return m.subject }
func (m *memMsg) Data() []byte    { return m.data }
func (m *memMsg) Delivered() int  { return m.delivered }

func (m *memMsg) Ack() error {
	m.acked = true
	return nil
}

func (m *memMsg) Nack(time.Duration) error {
	m.nacked = true
	if m.requeue != nil {
		m.requeue()
	}
	return nil
}
