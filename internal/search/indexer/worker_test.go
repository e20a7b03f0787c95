package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pressd/internal/core/pubsub/memory"
)

type fakeRotator struct {
	mu      sync.Mutex
	calls   []string
	err     error
	called  chan string
}

func newFakeRotator(err error) *fakeRotator {
	return &fakeRotator{err: err, called: make(chan string, 16)}
}

func (r *fakeRotator) Rotate(_ context.Context, index string) error {
	r.mu.Lock()
	r.calls = append(r.calls, index)
	r.mu.Unlock()
	r.called <- index
	return r.err
}

func (r *fakeRotator) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func waitRotate(t *testing.T, r *fakeRotator) string {
	t.Helper()
	select {
	case index := <-r.called:
		return index
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for rotation")
		return ""
	}
}

func publishJob(t *testing.T, q *memory.Queue, index string) {
	t.Helper()
	data, err := json.Marshal(Job{Index: index})
	require.NoError(t, err)
	require.NoError(t, q.Publish(context.Background(), Job{Index: index}.Subject(), data))
}

func TestWorkerRotatesOnJob(t *testing.T) {
	q := memory.NewQueue(4)
	rot := newFakeRotator(nil)
	w := NewWorker(WorkerConfig{MaxDeliveries: 3, RetryDelay: 5 * time.Millisecond}, q, rot)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	publishJob(t, q, "posts_idx_shard_0")
	assert.Equal(t, "posts_idx_shard_0", waitRotate(t, rot))

	cancel()
	<-w.Done()
	assert.Equal(t, 1, rot.callCount())
}

func TestWorkerRetriesUntilBudgetExhausted(t *testing.T) {
	q := memory.NewQueue(4)
	rot := newFakeRotator(errors.New("indexer exploded"))
	w := NewWorker(WorkerConfig{MaxDeliveries: 3, RetryDelay: 5 * time.Millisecond}, q, rot)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	publishJob(t, q, "posts_idx_shard_1")
	for i := 0; i < 3; i++ {
		waitRotate(t, rot)
	}

	// The third failure terminates the job; no further deliveries.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, rot.callCount())

	cancel()
	<-w.Done()
}

func TestWorkerDropsMalformedJob(t *testing.T) {
	q := memory.NewQueue(4)
	rot := newFakeRotator(nil)
	w := NewWorker(DefaultWorkerConfig(), q, rot)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	require.NoError(t, q.Publish(ctx, "REINDEX.rotate.bogus", []byte("not json")))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rot.callCount())

	cancel()
	<-w.Done()
}

func TestDefaultWorkerConfig(t *testing.T) {
	cfg := DefaultWorkerConfig()
	assert.Equal(t, 3, cfg.MaxDeliveries)
	assert.Equal(t, 10*time.Second, cfg.RetryDelay)
}
