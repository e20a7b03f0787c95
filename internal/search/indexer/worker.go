package indexer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"pressd/internal/core/pubsub"
)

// WorkerConfig configures the reindex job worker.
type WorkerConfig struct {
	// MaxDeliveries is the per-job attempt budget. Default 3.
	MaxDeliveries int `yaml:"max_deliveries"`

	// RetryDelay is the redelivery delay after a failed attempt. Default 10s.
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// DefaultWorkerConfig returns the default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		MaxDeliveries: 3,
		RetryDelay:    10 * time.Second,
	}
}

type rotator interface {
	Rotate(ctx context.Context, index string) error
}

// Worker consumes reindex jobs and runs the indexer. Processing is
// at-least-once: a failed rotation is redelivered with a delay until the
// attempt budget runs out, then dropped. Rotation rebuilds from current
// state, so duplicate or reordered jobs are harmless.
type Worker struct {
	cfg      WorkerConfig
	consumer pubsub.Consumer
	runner   rotator
	done     chan struct{}
}

// NewWorker creates a Worker.
func NewWorker(cfg WorkerConfig, consumer pubsub.Consumer, runner rotator) *Worker {
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	return &Worker{
		cfg:      cfg,
		consumer: consumer,
		runner:   runner,
		done:     make(chan struct{}),
	}
}

// Start subscribes and processes jobs until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	msgs, err := w.consumer.Subscribe(ctx)
	if err != nil {
		return err
	}
	go func() {
		defer close(w.done)
		for msg := range msgs {
			w.handle(ctx, msg)
		}
	}()
	return nil
}

// Done is closed once the worker has drained after cancellation.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) handle(ctx context.Context, msg pubsub.Message) {
	var job Job
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		slog.Error("malformed reindex job", "subject", msg.Subject(), "error", err)
		msg.Term()
		return
	}

	if err := w.runner.Rotate(ctx, job.Index); err != nil {
		deliveries := uint64(1)
		if md, mdErr := msg.Metadata(); mdErr == nil {
			deliveries = md.NumDelivered
		}
		if deliveries >= uint64(w.cfg.MaxDeliveries) {
			slog.Error("reindex failed, attempt budget exhausted",
				"index", job.Index, "deliveries", deliveries, "error", err)
			msg.Term()
			return
		}
		slog.Warn("reindex failed, will retry",
			"index", job.Index, "deliveries", deliveries, "error", err)
		msg.NakWithDelay(w.cfg.RetryDelay)
		return
	}

	msg.Ack()
}
