package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"postpilot/internal/metrics"
	"postpilot/internal/model"
	"postpilot/internal/provider"
	"postpilot/internal/queue"
	"postpilot/internal/repository"
	"postpilot/internal/worker"
	"postpilot/pkg/logger"

	"go.uber.org/zap"
)

const notConnectedReason = "account not connected"

// Releaser lets the executor retire its own project's worker.
type Releaser interface {
	Release(projectID string)
}

// Executor delivers queued posts and stops projects that ran out of work.
type Executor struct {
	projects repository.ProjectInterface
	posts    repository.PostInterface
	accounts repository.AccountInterface
	resolver CredentialResolver
	poster   provider.Poster
	observer metrics.DeliveryObserver
	workers  Releaser
	now      func() time.Time
}

type Option func(*Executor)

func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

func WithObserver(o metrics.DeliveryObserver) Option {
	return func(e *Executor) { e.observer = o }
}

func NewExecutor(
	projects repository.ProjectInterface,
	posts repository.PostInterface,
	accounts repository.AccountInterface,
	poster provider.Poster,
	opts ...Option,
) *Executor {
	e := &Executor{
		projects: projects,
		posts:    posts,
		accounts: accounts,
		resolver: NewAccountResolver(accounts),
		poster:   poster,
		observer: metrics.Nop{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// UseWorkers wires the registry. The registry is built from the executor's
// handler, so it cannot be a constructor argument.
func (e *Executor) UseWorkers(w Releaser) {
	e.workers = w
}

// Handle runs one delivery attempt. A returned error asks the queue to retry.
func (e *Executor) Handle(ctx context.Context, task queue.Task) error {
	log := logger.Project(task.ProjectID).With(zap.String("post_id", task.PostID), zap.Int("attempt", task.Attempt))
	defer func() {
		// The worker may be shutting down; auto-stop still has to land.
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, err := e.AutoStop(actx, task.ProjectID); err != nil {
			log.Error("auto-stop evaluation failed", zap.Error(err))
		}
	}()

	post, err := e.posts.GetByID(ctx, task.PostID)
	if err != nil {
		return fmt.Errorf("failed to load post: %w", err)
	}
	if post == nil || post.Status != model.PostPending || post.ProjectID != task.ProjectID {
		log.Debug("post already handled, skipping")
		e.observer.RecordDelivery(metrics.ResultSkipped, 0)
		return nil
	}

	project, err := e.projects.GetByID(ctx, task.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to load project: %w", err)
	}
	if project == nil {
		log.Warn("project missing for queued post, skipping")
		e.observer.RecordDelivery(metrics.ResultSkipped, 0)
		return nil
	}

	creds, err := e.resolver.Resolve(ctx, project)
	if errors.Is(err, ErrAccountNotConnected) {
		log.Warn("linked account unavailable, failing post", zap.String("account_id", project.AccountID))
		if _, err := e.posts.MarkFailed(ctx, post.ID, notConnectedReason); err != nil {
			return fmt.Errorf("failed to mark post failed: %w", err)
		}
		e.observer.RecordDelivery(metrics.ResultFailed, 0)
		return nil
	}
	if err != nil {
		return err
	}

	content := post.Content
	if task.Content != "" {
		content = task.Content
	}

	start := e.now()
	postErr := e.poster.Post(ctx, creds, content)
	latency := e.now().Sub(start)

	if postErr == nil {
		ok, err := e.posts.MarkPosted(ctx, post.ID, e.now())
		if err != nil {
			return fmt.Errorf("post delivered but not recorded: %w", err)
		}
		if !ok {
			log.Warn("post changed state during delivery")
		}
		if err := e.accounts.TouchLastUsed(ctx, creds.AccountID, e.now()); err != nil {
			log.Warn("failed to touch linked account", zap.Error(err))
		}
		e.observer.RecordDelivery(metrics.ResultPosted, latency)
		log.Info("post delivered")
		return nil
	}

	reason := provider.FailureReason(postErr)
	final := task.Final()
	if _, err := e.posts.RecordFailure(ctx, post.ID, reason, final); err != nil {
		log.Error("failed to record delivery failure", zap.Error(err))
	}
	if final {
		e.observer.RecordDelivery(metrics.ResultFailed, latency)
	} else {
		e.observer.RecordDelivery(metrics.ResultRetried, latency)
	}
	log.Warn("delivery failed", zap.String("reason", reason), zap.Bool("final", final), zap.Error(postErr))
	return postErr
}

// OnFailed settles a task the queue gave up on. The post normally already
// carries its final failure; this covers handlers that crashed before
// recording it.
func (e *Executor) OnFailed(ctx context.Context, task queue.Task, err error) {
	if _, markErr := e.posts.MarkFailed(ctx, task.PostID, provider.FailureReason(err)); markErr != nil {
		logger.Error("failed to settle exhausted post", zap.String("post_id", task.PostID), zap.Error(markErr))
	}
	if _, stopErr := e.AutoStop(ctx, task.ProjectID); stopErr != nil {
		logger.Error("auto-stop evaluation failed", zap.String("project_id", task.ProjectID), zap.Error(stopErr))
	}
}

// AutoStop stops the project once no post is pending. It reports whether
// this call performed the transition.
func (e *Executor) AutoStop(ctx context.Context, projectID string) (bool, error) {
	pending, err := e.posts.CountByStatus(ctx, projectID, model.PostPending)
	if err != nil {
		return false, err
	}
	if pending > 0 {
		return false, nil
	}

	changed, err := e.projects.CompareAndSetStatus(ctx, projectID, model.ProjectStopped, model.ProjectRunning, model.ProjectPaused)
	if err != nil {
		return false, err
	}
	if e.workers != nil {
		e.workers.Release(projectID)
	}
	if changed {
		e.observer.RecordAutoStop()
		logger.Info("project auto-stopped", zap.String("project_id", projectID))
	}
	return changed, nil
}

// ConsumerFactory binds the executor to per-project queue consumers.
func ConsumerFactory(broker *queue.RedisBroker, exec *Executor, poll time.Duration) worker.Factory {
	return func(projectID string, after <-chan struct{}) worker.Consumer {
		return broker.Subscribe(model.QueueKey(projectID), exec.Handle, queue.ConsumerOptions{
			PollInterval: poll,
			OnFailed:     exec.OnFailed,
			After:        after,
		})
	}
}
