// Package memory is an in-process pubsub queue with redelivery, used by tests
// and single-node setups. It is a single stream: every published message goes
// to the one subscriber.
package memory

import (
	"context"
	"sync"
	"time"

	"pressd/internal/core/pubsub"
)

// Queue implements pubsub.Publisher and pubsub.Consumer over a channel.
type Queue struct {
	mu     sync.Mutex
	ch     chan *queuedMsg
	closed bool
}

// NewQueue creates a queue with the given buffer size.
func NewQueue(buf int) *Queue {
	if buf <= 0 {
		buf = 64
	}
	return &Queue{ch: make(chan *queuedMsg, buf)}
}

func (q *Queue) Publish(_ context.Context, subject string, data []byte) error {
	return q.enqueue(&queuedMsg{queue: q, subject: subject, data: data, deliveries: 0, published: time.Now()})
}

func (q *Queue) enqueue(m *queuedMsg) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	m.deliveries++
	q.ch <- m
	return nil
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}

func (q *Queue) Subscribe(ctx context.Context) (<-chan pubsub.Message, error) {
	out := make(chan pubsub.Message)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-q.ch:
				if !ok {
					return
				}
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

type queuedMsg struct {
	queue      *Queue
	subject    string
	data       []byte
	deliveries uint64
	published  time.Time
}

func (m *queuedMsg) Data() []byte    { return m.data }
func (m *queuedMsg) Subject() string { return m.subject }
func (m *queuedMsg) Ack() error      { return nil }
func (m *queuedMsg) Term() error     { return nil }

func (m *queuedMsg) Nak() error {
	return m.queue.enqueue(m)
}

func (m *queuedMsg) NakWithDelay(delay time.Duration) error {
	time.AfterFunc(delay, func() { m.queue.enqueue(m) })
	return nil
}

func (m *queuedMsg) Metadata() (pubsub.MessageMetadata, error) {
	return pubsub.MessageMetadata{
		NumDelivered: m.deliveries,
		Timestamp:    m.published,
		Subject:      m.subject,
	}, nil
}
