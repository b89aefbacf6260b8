package worker

import (
	"context"
	"errors"
	"slices"
	"sync"

	"postpilot/pkg/logger"

	"go.uber.org/zap"
)

// Consumer is a running queue subscription.
type Consumer interface {
	// Shutdown stops claiming tasks without waiting.
	Shutdown()
	Done() <-chan struct{}
	Wait(ctx context.Context) error
}

// Factory starts a consumer for a project. The consumer must not claim a
// task before after is closed; a nil after means start right away.
type Factory func(projectID string, after <-chan struct{}) Consumer

// Observer is notified when the number of live workers changes.
type Observer interface {
	SetActiveWorkers(n int)
}

// Registry owns the process-wide set of project workers. It keeps at most
// one live consumer per project; consumers being retired are tracked so a
// replacement waits for them to finish their in-flight task.
type Registry struct {
	mu       sync.Mutex
	factory  Factory
	active   map[string]Consumer
	retiring map[string][]Consumer
	observer Observer
}

func NewRegistry(factory Factory, observer Observer) *Registry {
	return &Registry{
		factory:  factory,
		active:   make(map[string]Consumer),
		retiring: make(map[string][]Consumer),
		observer: observer,
	}
}

// EnsureStarted starts a worker for the project unless one is live. It
// reports whether a new worker was created.
func (r *Registry) EnsureStarted(projectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[projectID]; ok {
		logger.Debug("worker already running", zap.String("project_id", projectID))
		return false
	}

	var after <-chan struct{}
	if prev := r.retiring[projectID]; len(prev) > 0 {
		after = allDone(slices.Clone(prev))
	}
	r.active[projectID] = r.factory(projectID, after)
	r.notify()
	logger.Info("worker started", zap.String("project_id", projectID))
	return true
}

// Stop shuts the project's worker down and waits for its in-flight task.
// It is a no-op when no worker is registered.
func (r *Registry) Stop(ctx context.Context, projectID string) error {
	c := r.detach(projectID)
	if c == nil {
		return nil
	}
	c.Shutdown()
	return c.Wait(ctx)
}

// Release detaches and signals the project's worker without waiting. It is
// meant for callers running inside that worker.
func (r *Registry) Release(projectID string) {
	if c := r.detach(projectID); c != nil {
		c.Shutdown()
	}
}

// StopAll shuts every worker down, for process exit.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	var all []Consumer
	for id, c := range r.active {
		all = append(all, c)
		delete(r.active, id)
	}
	for _, cs := range r.retiring {
		all = append(all, cs...)
	}
	r.notify()
	r.mu.Unlock()

	for _, c := range all {
		c.Shutdown()
	}
	var errs []error
	for _, c := range all {
		if err := c.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) Active(projectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[projectID]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *Registry) detach(projectID string) Consumer {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.active[projectID]
	if !ok {
		logger.Debug("no worker to stop", zap.String("project_id", projectID))
		return nil
	}
	delete(r.active, projectID)
	r.retiring[projectID] = append(r.retiring[projectID], c)
	r.notify()
	logger.Info("worker stopping", zap.String("project_id", projectID))

	go r.forget(projectID, c)
	return c
}

func (r *Registry) forget(projectID string, c Consumer) {
	<-c.Done()
	r.mu.Lock()
	defer r.mu.Unlock()
	left := slices.DeleteFunc(r.retiring[projectID], func(x Consumer) bool { return x == c })
	if len(left) == 0 {
		delete(r.retiring, projectID)
		return
	}
	r.retiring[projectID] = left
}

// notify must be called with mu held.
func (r *Registry) notify() {
	if r.observer != nil {
		r.observer.SetActiveWorkers(len(r.active))
	}
}

func allDone(cs []Consumer) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		for _, c := range cs {
			<-c.Done()
		}
		close(ch)
	}()
	return ch
}
