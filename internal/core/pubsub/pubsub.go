// Package pubsub abstracts the durable job queue behind small publisher and
// consumer interfaces, so the reindex pipeline does not care whether it runs
// on NATS JetStream or the in-process queue used in tests.
package pubsub

import (
	"context"
	"time"
)

// Message is a received job with acknowledgment controls.
type Message interface {
	// Data returns the raw payload.
	Data() []byte

	// Subject returns the subject the message was published on.
	Subject() string

	// Ack acknowledges successful processing.
	Ack() error

	// Nak signals failure and requests redelivery.
	Nak() error

	// NakWithDelay requests redelivery after a delay.
	NakWithDelay(delay time.Duration) error

	// Term drops the message permanently (no redelivery).
	Term() error

	// Metadata returns delivery metadata; NumDelivered drives retry budgets.
	Metadata() (MessageMetadata, error)
}

// MessageMetadata describes how a message was delivered.
type MessageMetadata struct {
	NumDelivered uint64
	Timestamp    time.Time
	Subject      string
}

// Publisher publishes messages to a stream.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close() error
}

// Consumer consumes messages from a stream. The returned channel closes when
// the context is cancelled. Callers must Ack, Nak or Term every message.
type Consumer interface {
	Subscribe(ctx context.Context) (<-chan Message, error)
}

// PublisherOptions configures a publisher.
type PublisherOptions struct {
	// StreamName is the stream to publish into.
	StreamName string

	// RetryAttempts is the publish retry budget. Zero means no retry.
	RetryAttempts int
}

// ConsumerOptions configures a consumer.
type ConsumerOptions struct {
	// StreamName is the stream to consume from.
	StreamName string

	// ConsumerName is the durable consumer name.
	ConsumerName string

	// MaxDeliveries bounds redeliveries per message. Zero means unbounded
	// at the queue level; the worker still enforces its own budget.
	MaxDeliveries int

	// ChannelBufSize is the delivery channel buffer. Defaults to 64.
	ChannelBufSize int
}
