package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"postpilot/internal/model"
	"postpilot/internal/queue"
	"postpilot/internal/repository"
	"postpilot/pkg/logger"
)

func init() {
	logger.InitLogger("test")
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type enqueued struct {
	Task  queue.Task
	Delay time.Duration
}

// MockBroker records queue operations in memory.
type MockBroker struct {
	mu         sync.Mutex
	queues     map[string][]enqueued
	paused     map[string]bool
	purged     []string
	drained    []string
	recovered  []string
	reclaimed  []string
	EnqueueErr error
	ResumeErr  error
}

func newMockBroker() *MockBroker {
	return &MockBroker{queues: make(map[string][]enqueued), paused: make(map[string]bool)}
}

func (b *MockBroker) Enqueue(ctx context.Context, key string, task queue.Task, opts queue.Options) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.EnqueueErr != nil {
		return b.EnqueueErr
	}
	b.queues[key] = append(b.queues[key], enqueued{Task: task, Delay: opts.Delay})
	return nil
}

func (b *MockBroker) Purge(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, key)
	delete(b.paused, key)
	b.purged = append(b.purged, key)
	return nil
}

func (b *MockBroker) Drain(ctx context.Context, key string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.queues[key])
	delete(b.queues, key)
	b.drained = append(b.drained, key)
	return n, nil
}

func (b *MockBroker) Pause(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused[key] = true
	return nil
}

func (b *MockBroker) Resume(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ResumeErr != nil {
		return b.ResumeErr
	}
	delete(b.paused, key)
	return nil
}

func (b *MockBroker) IsPaused(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused[key], nil
}

func (b *MockBroker) RecoverStale(ctx context.Context, key string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recovered = append(b.recovered, key)
	return 0, nil
}

func (b *MockBroker) RecoverAll(ctx context.Context, key string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reclaimed = append(b.reclaimed, key)
	return 0, nil
}

func (b *MockBroker) Counts(ctx context.Context, key string) (queue.Counts, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return queue.Counts{Delayed: int64(len(b.queues[key])), Paused: b.paused[key]}, nil
}

func (b *MockBroker) Queue(key string) []enqueued {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]enqueued(nil), b.queues[key]...)
}

func (b *MockBroker) Paused(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused[key]
}

// MockWorkers records registry calls.
type MockWorkers struct {
	mu       sync.Mutex
	active   map[string]bool
	ensured  []string
	stopped  []string
	released []string
	StopErr  error
}

func newMockWorkers() *MockWorkers {
	return &MockWorkers{active: make(map[string]bool)}
}

func (w *MockWorkers) EnsureStarted(projectID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ensured = append(w.ensured, projectID)
	if w.active[projectID] {
		return false
	}
	w.active[projectID] = true
	return true
}

func (w *MockWorkers) Stop(ctx context.Context, projectID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = append(w.stopped, projectID)
	delete(w.active, projectID)
	return w.StopErr
}

func (w *MockWorkers) Release(projectID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.released = append(w.released, projectID)
	delete(w.active, projectID)
}

func (w *MockWorkers) Active(projectID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active[projectID]
}

// failingProjects fails listing, for boot error paths.
type failingProjects struct {
	repository.ProjectInterface
}

func (failingProjects) ListByStatus(ctx context.Context, status model.ProjectStatus) ([]model.Project, error) {
	return nil, errors.New("connection refused")
}

type env struct {
	store     *repository.MemoryStore
	broker    *MockBroker
	workers   *MockWorkers
	lifecycle *LifecycleService
}

func newEnv() *env {
	store := repository.NewMemoryStore()
	broker := newMockBroker()
	workers := newMockWorkers()
	lifecycle := NewLifecycleService(store.Projects(), store.Posts(), broker, workers).WithClock(func() time.Time { return t0 })
	return &env{store: store, broker: broker, workers: workers, lifecycle: lifecycle}
}

func (e *env) account(id, userID string) {
	_ = e.store.Accounts().Create(context.Background(), &model.LinkedAccount{
		ID: id, UserID: userID, Provider: model.ProviderTwitter, ProviderUserID: "tw-" + id,
		Username: "user-" + id, AccessToken: "tok-" + id, IsActive: true,
	})
}

func (e *env) project(id, userID, accountID string, status model.ProjectStatus) {
	_ = e.store.Projects().Create(context.Background(), &model.Project{
		ID: id, UserID: userID, Name: "project " + id, AccountID: accountID, TimeGapMinutes: 1, Status: status,
	})
}

func (e *env) posts(projectID string, ids ...string) {
	var batch []model.Post
	for i, id := range ids {
		batch = append(batch, model.Post{
			ID: id, ProjectID: projectID, Content: "content " + id,
			CreatedAt: t0.Add(-time.Hour + time.Duration(i)*time.Second),
		})
	}
	_ = e.store.Posts().CreateBatch(context.Background(), batch)
}

func (e *env) status(id string) model.ProjectStatus {
	p, _ := e.store.Projects().GetByID(context.Background(), id)
	if p == nil {
		return ""
	}
	return p.Status
}

func (e *env) post(id string) model.Post {
	p, _ := e.store.Posts().GetByID(context.Background(), id)
	if p == nil {
		return model.Post{}
	}
	return *p
}
