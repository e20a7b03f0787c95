package indexer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// StreamName is the JetStream stream carrying reindex jobs.
const StreamName = "REINDEX"

// Job is the queued reindex request.
type Job struct {
	Index string `json:"index"`
}

// Subject returns the queue subject for the job's index.
func (j Job) Subject() string {
	return StreamName + ".rotate." + j.Index
}

// Scheduler coalesces reindex requests. Each index has at most one pending
// timer; every write for that index's shard resets the timer, so a burst of
// writes produces a single job that fires the grace interval after the last
// write. The delay is what batches rapid successive writes.
type Scheduler struct {
	delay time.Duration
	pub   publisher

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

type publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NewScheduler creates a Scheduler publishing jobs after the given delay.
func NewScheduler(pub publisher, delay time.Duration) *Scheduler {
	if delay <= 0 {
		delay = 5 * time.Second
	}
	return &Scheduler{
		delay:  delay,
		pub:    pub,
		timers: make(map[string]*time.Timer),
	}
}

// Schedule requests a reindex of the named index after the grace interval,
// coalescing with any pending request for the same index.
func (s *Scheduler) Schedule(index string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if t, ok := s.timers[index]; ok {
		t.Reset(s.delay)
		return
	}
	s.timers[index] = time.AfterFunc(s.delay, func() { s.fire(index) })
}

func (s *Scheduler) fire(index string) {
	s.mu.Lock()
	delete(s.timers, index)
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	job := Job{Index: index}
	data, err := json.Marshal(job)
	if err != nil {
		slog.Error("marshal reindex job", "index", index, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.pub.Publish(ctx, job.Subject(), data); err != nil {
		// The queue is best effort from the write path's point of view; the
		// next write for this shard schedules again.
		slog.Error("publish reindex job", "index", index, "error", err)
		return
	}
	slog.Debug("reindex job queued", "index", index)
}

// Stop cancels all pending timers. Jobs already published are unaffected.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for index, t := range s.timers {
		t.Stop()
		delete(s.timers, index)
	}
}

// Pending returns the number of indexes with a timer waiting to fire.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
