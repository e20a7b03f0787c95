// Package nats implements the pubsub interfaces on NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"pressd/internal/core/pubsub"
)

// Provider owns the NATS connection and hands out publishers and consumers
// that share it.
type Provider struct {
	url string
	nc  *nats.Conn
	js  jetstream.JetStream
}

// NewProvider creates a provider for the given server URL. Connect must be
// called before building publishers or consumers.
func NewProvider(url string) *Provider {
	return &Provider{url: url}
}

// Connect establishes the connection and the JetStream context.
func (p *Provider) Connect() error {
	nc, err := nats.Connect(p.url)
	if err != nil {
		return fmt.Errorf("connect to NATS at %s: %w", p.url, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("create jetstream context: %w", err)
	}
	p.nc = nc
	p.js = js
	return nil
}

// Close drains the connection.
func (p *Provider) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}

// NewPublisher creates a publisher, ensuring the stream exists.
func (p *Provider) NewPublisher(ctx context.Context, opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	if p.js == nil {
		return nil, fmt.Errorf("provider is not connected")
	}
	if opts.StreamName == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	_, err := p.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     opts.StreamName,
		Subjects: []string{opts.StreamName + ".>"},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", opts.StreamName, err)
	}
	return &publisher{js: p.js, opts: opts}, nil
}

type publisher struct {
	js   jetstream.JetStream
	opts pubsub.PublisherOptions
}

func (p *publisher) Publish(ctx context.Context, subject string, data []byte) error {
	var opts []jetstream.PublishOpt
	if p.opts.RetryAttempts > 0 {
		opts = append(opts, jetstream.WithRetryAttempts(p.opts.RetryAttempts))
	}
	if _, err := p.js.Publish(ctx, subject, data, opts...); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

func (p *publisher) Close() error {
	// The provider owns the connection.
	return nil
}

// NewConsumer creates a durable consumer on the stream.
func (p *Provider) NewConsumer(opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	if p.js == nil {
		return nil, fmt.Errorf("provider is not connected")
	}
	if opts.StreamName == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	if opts.ConsumerName == "" {
		opts.ConsumerName = "worker"
	}
	if opts.ChannelBufSize <= 0 {
		opts.ChannelBufSize = 64
	}
	return &consumer{js: p.js, opts: opts}, nil
}

type consumer struct {
	js   jetstream.JetStream
	opts pubsub.ConsumerOptions
}

func (c *consumer) Subscribe(ctx context.Context) (<-chan pubsub.Message, error) {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     c.opts.StreamName,
		Subjects: []string{c.opts.StreamName + ".>"},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", c.opts.StreamName, err)
	}

	cfg := jetstream.ConsumerConfig{
		Durable:   c.opts.ConsumerName,
		AckPolicy: jetstream.AckExplicitPolicy,
	}
	if c.opts.MaxDeliveries > 0 {
		cfg.MaxDeliver = c.opts.MaxDeliveries
	}
	cons, err := c.js.CreateOrUpdateConsumer(ctx, c.opts.StreamName, cfg)
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", c.opts.ConsumerName, err)
	}

	msgCh := make(chan pubsub.Message, c.opts.ChannelBufSize)
	var closing atomic.Bool

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		if closing.Load() {
			msg.Nak()
			return
		}
		select {
		case msgCh <- &message{msg: msg}:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		close(msgCh)
		return nil, fmt.Errorf("start consumer: %w", err)
	}

	go func() {
		<-ctx.Done()
		closing.Store(true)
		cc.Stop()
		close(msgCh)
		slog.Debug("pubsub consumer stopped", "stream", c.opts.StreamName)
	}()

	return msgCh, nil
}

type message struct {
	msg jetstream.Msg
}

func (m *message) Data() []byte    { return m.msg.Data() }
func (m *message) Subject() string { return m.msg.Subject() }
func (m *message) Ack() error      { return m.msg.Ack() }
func (m *message) Nak() error      { return m.msg.Nak() }
func (m *message) Term() error     { return m.msg.Term() }

func (m *message) NakWithDelay(delay time.Duration) error {
	return m.msg.NakWithDelay(delay)
}

func (m *message) Metadata() (pubsub.MessageMetadata, error) {
	md, err := m.msg.Metadata()
	if err != nil {
		return pubsub.MessageMetadata{}, err
	}
	return pubsub.MessageMetadata{
		NumDelivered: md.NumDelivered,
		Timestamp:    md.Timestamp,
		Subject:      m.msg.Subject(),
	}, nil
}
