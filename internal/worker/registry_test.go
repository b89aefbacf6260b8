package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"postpilot/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.InitLogger("test")
}

// fakeConsumer finishes its "in-flight task" once release is closed.
type fakeConsumer struct {
	projectID string
	after     <-chan struct{}
	release   chan struct{}
	stopOnce  sync.Once
	stopped   chan struct{}
	done      chan struct{}
}

func newFakeConsumer(projectID string, after <-chan struct{}) *fakeConsumer {
	c := &fakeConsumer{
		projectID: projectID,
		after:     after,
		release:   make(chan struct{}),
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	go func() {
		<-c.stopped
		<-c.release
		close(c.done)
	}()
	return c
}

func (c *fakeConsumer) Shutdown()             { c.stopOnce.Do(func() { close(c.stopped) }) }
func (c *fakeConsumer) Done() <-chan struct{} { return c.done }
func (c *fakeConsumer) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type recordingFactory struct {
	mu      sync.Mutex
	created []*fakeConsumer
}

func (f *recordingFactory) New(projectID string, after <-chan struct{}) Consumer {
	c := newFakeConsumer(projectID, after)
	f.mu.Lock()
	f.created = append(f.created, c)
	f.mu.Unlock()
	return c
}

func (f *recordingFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type gauge struct{ n atomic.Int64 }

func (g *gauge) SetActiveWorkers(n int) { g.n.Store(int64(n)) }

func TestRegistry_EnsureStartedIsIdempotent(t *testing.T) {
	f := &recordingFactory{}
	g := &gauge{}
	r := NewRegistry(f.New, g)

	assert.True(t, r.EnsureStarted("p1"))
	assert.False(t, r.EnsureStarted("p1"))
	assert.True(t, r.EnsureStarted("p2"))

	assert.Equal(t, 2, f.count())
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, int64(2), g.n.Load())
	assert.Nil(t, f.created[0].after)
}

func TestRegistry_StopWaitsForInFlight(t *testing.T) {
	f := &recordingFactory{}
	r := NewRegistry(f.New, nil)
	r.EnsureStarted("p1")
	c := f.created[0]

	stopped := make(chan error, 1)
	go func() { stopped <- r.Stop(context.Background(), "p1") }()

	select {
	case <-stopped:
		t.Fatal("stop returned before the in-flight task finished")
	case <-time.After(20 * time.Millisecond):
	}
	assert.False(t, r.Active("p1"))

	close(c.release)
	require.NoError(t, <-stopped)
}

func TestRegistry_StopUnknownIsNoop(t *testing.T) {
	r := NewRegistry((&recordingFactory{}).New, nil)
	assert.NoError(t, r.Stop(context.Background(), "missing"))
	r.Release("missing")
}

func TestRegistry_StopHonoursContext(t *testing.T) {
	f := &recordingFactory{}
	r := NewRegistry(f.New, nil)
	r.EnsureStarted("p1")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Stop(ctx, "p1"), context.DeadlineExceeded)
	close(f.created[0].release)
}

func TestRegistry_RestartWaitsForRetiringWorker(t *testing.T) {
	f := &recordingFactory{}
	r := NewRegistry(f.New, nil)
	r.EnsureStarted("p1")
	first := f.created[0]

	r.Release("p1")
	assert.False(t, r.Active("p1"))

	require.True(t, r.EnsureStarted("p1"))
	second := f.created[1]
	require.NotNil(t, second.after)

	select {
	case <-second.after:
		t.Fatal("replacement may start while the old worker is still busy")
	case <-time.After(20 * time.Millisecond):
	}

	close(first.release)
	select {
	case <-second.after:
	case <-time.After(time.Second):
		t.Fatal("replacement never started")
	}
}

func TestRegistry_StopAll(t *testing.T) {
	f := &recordingFactory{}
	g := &gauge{}
	r := NewRegistry(f.New, g)
	r.EnsureStarted("p1")
	r.EnsureStarted("p2")
	for _, c := range f.created {
		close(c.release)
	}

	require.NoError(t, r.StopAll(context.Background()))
	assert.Zero(t, r.Len())
	assert.Zero(t, g.n.Load())
}

func TestRegistry_ConcurrentEnsure(t *testing.T) {
	f := &recordingFactory{}
	r := NewRegistry(f.New, nil)

	var wg sync.WaitGroup
	var created atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.EnsureStarted("p1") {
				created.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, 1, f.count())
}
