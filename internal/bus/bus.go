// Package bus is the engine's durable message bus (B): at-least-once
// delivery, per-subject publish-time deduplication, explicit
// acknowledgement, and redelivery on nack or timeout (spec §2, §6).
// The NATS JetStream implementation lives in nats.go; memory.go is an
// in-process fake used by every other package's tests, following the
// teacher's hand-written mem* fake pattern
// (internal/service/campaign/service_test.go).
package bus

import (
	"context"
	"time"
)

// Subjects are the three fixed wire-level channels spec §6 defines.
const (
	SubjectBatchProcess = "sys.batch.process"
	SubjectUserChunkFmt = "user.%s.chunk"
	SubjectWebhookFmt   = "webhook.%s.%s"
)

// Msg is a single delivered message. Ack/Nack are mutually exclusive and
// each may be called at most once.
type Msg interface {
	Subject() string
	Data() []byte
	// Ack acknowledges successful processing; the message will not be
	// redelivered.
	Ack() error
	// Nack asks for redelivery after delay, or immediately if delay is 0.
	Nack(delay time.Duration) error
	// Delivered reports how many times this message has been delivered,
	// used to detect max_deliver exhaustion (spec's dead-lettering
	// analog, SPEC_FULL §4).
	Delivered() int
}

// Subscription is a pull consumer bound to one subject.
type Subscription interface {
	// Fetch blocks until at least one message is available or ctx is
	// done, returning up to max messages.
	Fetch(ctx context.Context, max int) ([]Msg, error)
	Unsubscribe() error
}

// Bus is the interface every service depends on; internal/senderworker,
// internal/batchprocessor, internal/webhookintake, and
// internal/webhookconsumer only ever see this, never the concrete NATS
// client, so unit tests substitute MemoryBus.
type Bus interface {
	// Publish sends data to subject with deduplication key msgID. A
	// republish with the same msgID within the dedup window is a no-op
	// from the consumer's point of view (Layer 1 of spec §4.7's three
	// dedup layers).
	Publish(ctx context.Context, subject, msgID string, data []byte) error

	// PullSubscribe creates (or reuses) a durable pull consumer named
	// durable on subject, with the given ack-wait and max-deliver
	// policy.
	PullSubscribe(ctx context.Context, subject, durable string, ackWait time.Duration, maxDeliver int) (Subscription, error)

	Close() error
}

// ErrTransient marks an error as bus-redelivery-worthy (spec §7's
// Transient taxonomy entry): hot-state or bus unavailable, provider
// 5xx/timeout. No caller in this module returns or checks it; the
// sender worker signals a nack with senderworker.ErrNack instead.
type ErrTransient struct{ Err error }

func (e *ErrTransient) Error() string { return "transient: " + e.Err.Error() }
func (e *ErrTransient) Unwrap() error { return e.Err }
