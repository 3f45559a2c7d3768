// Package queue abstracts the durable message substrate (DQ) behind two
// small interfaces so the gateway, processor, and CDC consumer depend on
// contracts, not on nats.go directly. nats.go is the sole adapter that
// imports the NATS JetStream client; see nats.go in this package.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrNoMessage signals that no message is currently available. The
// Consumer implementations in this package block in Consume and do not
// return it.
var ErrNoMessage = errors.New("queue: no message available")

// Message is a single delivered message with explicit ack/nak/term
// primitives and its redelivery count, matching the durable queue
// contract's required per-message capabilities.
type Message interface {
	// Subject is the subject the message was published to.
	Subject() string
	// Data is the raw message payload.
	Data() []byte
	// DeliveryAttempt is the 1-based count of delivery attempts for this
	// message, including the current one.
	DeliveryAttempt() int
	// Ack acknowledges successful processing.
	Ack() error
	// Nak signals transient failure; the message becomes available for
	// redelivery after delay.
	Nak(delay time.Duration) error
	// Term signals permanent failure; the message is not redelivered.
	Term() error
}

// MessageHandler processes one delivered message. Handlers are
// responsible for calling exactly one of Ack, Nak, or Term on the message
// before returning.
type MessageHandler func(ctx context.Context, msg Message)

// Publisher publishes a single message to a subject with a caller-supplied
// dedup id. Implementations must honor publisher-side deduplication within
// the underlying substrate's configured window.
type Publisher interface {
	// Publish enqueues data on subject, deduplicated by dedupID within the
	// stream's duplicate window. It blocks until the broker acknowledges
	// durable receipt.
	Publish(ctx context.Context, subject string, data []byte, dedupID string) error
	// Close releases the publisher's underlying connection.
	Close() error
}

// Consumer drives a durable, filtered subscription, invoking handler for
// each delivered message until the context is canceled.
type Consumer interface {
	// Consume blocks, dispatching deliveries to handler, until ctx is
	// canceled.
	Consume(ctx context.Context, handler MessageHandler) error
	// Stop halts delivery and releases the underlying subscription. It
	// does not make a running Consume return; that happens only when its
	// ctx is canceled.
	Stop() error
}
