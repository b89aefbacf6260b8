package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumer_ProcessesSerially(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBroker(t)
	const key = "queue_p1"

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, b.Enqueue(ctx, key, Task{ID: id}, Options{}))
	}

	var (
		mu       sync.Mutex
		seen     []string
		inFlight atomic.Int32
		maxSeen  atomic.Int32
	)
	c := b.Subscribe(key, func(ctx context.Context, task Task) error {
		n := inFlight.Add(1)
		if n > maxSeen.Load() {
			maxSeen.Store(n)
		}
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		seen = append(seen, task.ID)
		mu.Unlock()
		inFlight.Add(-1)
		return nil
	}, ConsumerOptions{PollInterval: 5 * time.Millisecond})
	defer c.Close(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 4
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"a", "b", "c", "d"}, seen)
	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestConsumer_RetriesThenReportsExhaustion(t *testing.T) {
	ctx := context.Background()
	b, clock := newTestBroker(t)
	const key = "queue_p1"

	require.NoError(t, b.Enqueue(ctx, key, Task{ID: "a"}, Options{MaxAttempts: 3, BackoffBase: time.Minute}))

	var attempts atomic.Int32
	failed := make(chan Task, 1)
	boom := errors.New("provider down")

	c := b.Subscribe(key, func(ctx context.Context, task Task) error {
		attempts.Add(1)
		return boom
	}, ConsumerOptions{
		PollInterval: 5 * time.Millisecond,
		OnFailed: func(ctx context.Context, task Task, err error) {
			assert.ErrorIs(t, err, boom)
			failed <- task
		},
	})
	defer c.Close(ctx)

	rescheduled := func() bool {
		counts, err := b.Counts(ctx, key)
		return err == nil && counts.Delayed == 1 && counts.Active == 0
	}

	require.Eventually(t, func() bool { return attempts.Load() == 1 && rescheduled() }, time.Second, 5*time.Millisecond)
	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return attempts.Load() == 2 && rescheduled() }, time.Second, 5*time.Millisecond)
	clock.Advance(2 * time.Minute)

	select {
	case task := <-failed:
		assert.Equal(t, "a", task.ID)
		assert.Equal(t, 3, task.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("exhaustion was not reported")
	}
	assert.Equal(t, int32(3), attempts.Load())

	entries, err := b.Failed(ctx, key)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "provider down", entries[0].Reason)
}

func TestConsumer_CloseWaitsForInFlight(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBroker(t)
	const key = "queue_p1"

	require.NoError(t, b.Enqueue(ctx, key, Task{ID: "a"}, Options{}))
	require.NoError(t, b.Enqueue(ctx, key, Task{ID: "b"}, Options{}))

	started := make(chan struct{})
	release := make(chan struct{})
	var handled atomic.Int32
	c := b.Subscribe(key, func(ctx context.Context, task Task) error {
		if handled.Add(1) == 1 {
			close(started)
			<-release
		}
		return nil
	}, ConsumerOptions{PollInterval: 5 * time.Millisecond})

	<-started
	closed := make(chan error, 1)
	go func() { closed <- c.Close(ctx) }()

	select {
	case <-closed:
		t.Fatal("close returned while a task was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-closed)
	assert.Equal(t, int32(1), handled.Load(), "no new task after shutdown")

	counts, err := b.Counts(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Delayed)
	assert.Zero(t, counts.Active)
}

func TestConsumer_WaitsForPredecessor(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBroker(t)
	const key = "queue_p1"
	require.NoError(t, b.Enqueue(ctx, key, Task{ID: "a"}, Options{}))

	prev := make(chan struct{})
	var handled atomic.Int32
	c := b.Subscribe(key, func(ctx context.Context, task Task) error {
		handled.Add(1)
		return nil
	}, ConsumerOptions{PollInterval: 5 * time.Millisecond, After: prev})
	defer c.Close(ctx)

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, handled.Load())

	close(prev)
	require.Eventually(t, func() bool { return handled.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestConsumer_PanicCountsAsFailure(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBroker(t)
	const key = "queue_p1"
	require.NoError(t, b.Enqueue(ctx, key, Task{ID: "a"}, Options{MaxAttempts: 1}))

	failed := make(chan error, 1)
	c := b.Subscribe(key, func(ctx context.Context, task Task) error {
		panic("bad payload")
	}, ConsumerOptions{
		PollInterval: 5 * time.Millisecond,
		OnFailed:     func(ctx context.Context, task Task, err error) { failed <- err },
	})
	defer c.Close(ctx)

	select {
	case err := <-failed:
		assert.Contains(t, err.Error(), "bad payload")
	case <-time.After(time.Second):
		t.Fatal("panic was not converted to a failure")
	}
}
