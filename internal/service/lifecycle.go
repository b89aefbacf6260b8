package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"postpilot/internal/model"
	"postpilot/internal/queue"
	"postpilot/internal/repository"
	"postpilot/internal/scheduler"
	"postpilot/pkg/logger"

	"go.uber.org/zap"
)

// Workers is the part of the worker registry the lifecycle drives.
type Workers interface {
	EnsureStarted(projectID string) bool
	Stop(ctx context.Context, projectID string) error
	Release(projectID string)
}

// LifecycleService moves projects through stopped, running and paused.
// Transitions of one project are serialized in process; status writes are
// compare-and-set because the delivery executor may stop a project at any
// time.
type LifecycleService struct {
	projects repository.ProjectInterface
	posts    repository.PostInterface
	broker   queue.Broker
	workers  Workers
	locks    *projectLocks
	now      func() time.Time
}

func NewLifecycleService(projects repository.ProjectInterface, posts repository.PostInterface, broker queue.Broker, workers Workers) *LifecycleService {
	return &LifecycleService{
		projects: projects,
		posts:    posts,
		broker:   broker,
		workers:  workers,
		locks:    newProjectLocks(),
		now:      time.Now,
	}
}

// WithClock replaces the clock used for scheduled times.
func (s *LifecycleService) WithClock(now func() time.Time) *LifecycleService {
	s.now = now
	return s
}

func (s *LifecycleService) loadOwned(ctx context.Context, projectID, userID string) (*model.Project, error) {
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, infra("failed to load project", err)
	}
	if project == nil {
		return nil, notFound("project")
	}
	if project.UserID != userID {
		return nil, forbidden("project")
	}
	return project, nil
}

// Start schedules every pending post of the project and begins delivery.
// The project only becomes running once everything else succeeded.
func (s *LifecycleService) Start(ctx context.Context, projectID, userID string) (*model.Project, error) {
	unlock := s.locks.lock(projectID)
	defer unlock()

	project, err := s.loadOwned(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if project.Status == model.ProjectRunning {
		return nil, conflict("project is already running")
	}
	if project.TimeGapMinutes <= 0 {
		return nil, validationError("time gap must be positive")
	}

	if err := s.guardCredentials(ctx, project); err != nil {
		return nil, err
	}

	pending, err := s.posts.ListPending(ctx, project.ID)
	if err != nil {
		return nil, infra("failed to load pending posts", err)
	}
	if len(pending) == 0 {
		return nil, validationError("no pending posts to schedule")
	}

	log := logger.Project(project.ID)
	key := project.QueueKey()

	if err := s.broker.Purge(ctx, key); err != nil {
		return nil, infra("failed to reset queue", err)
	}
	// Nothing may be claimed before the project is marked running, otherwise
	// the first post could be delivered and auto-stopped ahead of the flip.
	if err := s.broker.Pause(ctx, key); err != nil {
		return nil, infra("failed to prepare queue", err)
	}

	now := s.now()
	slots := scheduler.Plan(pending, scheduler.Gap(project.TimeGapMinutes), now)
	for _, slot := range slots {
		task := queue.Task{
			ID:         slot.Post.ID,
			ProjectID:  project.ID,
			PostID:     slot.Post.ID,
			Content:    slot.Post.Content,
			EnqueuedAt: now.UnixMilli(),
		}
		if err := s.broker.Enqueue(ctx, key, task, queue.Options{Delay: slot.Delay}); err != nil {
			s.abortStart(project)
			return nil, infra("failed to enqueue post", err)
		}
		if err := s.posts.SetScheduledAt(ctx, slot.Post.ID, slot.At); err != nil {
			s.abortStart(project)
			return nil, infra("failed to record schedule", err)
		}
	}

	s.workers.EnsureStarted(project.ID)

	ok, err := s.projects.CompareAndSetStatus(ctx, project.ID, model.ProjectRunning, model.ProjectStopped, model.ProjectPaused)
	if err != nil {
		s.abortStart(project)
		return nil, infra("failed to update project status", err)
	}
	if !ok {
		s.abortStart(project)
		return nil, conflict("project changed state while starting")
	}

	if err := s.broker.Resume(ctx, key); err != nil {
		s.abortStart(project)
		if _, casErr := s.projects.CompareAndSetStatus(context.WithoutCancel(ctx), project.ID, model.ProjectStopped, model.ProjectRunning); casErr != nil {
			log.Error("failed to roll back project status", zap.Error(casErr))
		}
		return nil, infra("failed to release queue", err)
	}

	log.Info("project started", OperatorField(ctx), zap.Int("posts", len(slots)), zap.Int("gap_minutes", project.TimeGapMinutes))
	project.Status = model.ProjectRunning
	return project, nil
}

// guardCredentials rejects a start while another running project of the
// user still has work on the same account. Running projects without pending
// posts are stale and get stopped on the way.
func (s *LifecycleService) guardCredentials(ctx context.Context, project *model.Project) error {
	others, err := s.projects.ListRunningByAccount(ctx, project.UserID, project.AccountID, project.ID)
	if err != nil {
		return infra("failed to check running projects", err)
	}
	for _, other := range others {
		pending, err := s.posts.CountByStatus(ctx, other.ID, model.PostPending)
		if err != nil {
			return infra("failed to count pending posts", err)
		}
		if pending > 0 {
			return conflict("Another project (%q) is already running with these credentials. Stop it before starting this one.", other.Name)
		}
		if _, err := s.projects.CompareAndSetStatus(ctx, other.ID, model.ProjectStopped, model.ProjectRunning); err != nil {
			return infra("failed to stop idle project", err)
		}
		s.workers.Release(other.ID)
		logger.Warn("stopped idle running project sharing credentials",
			zap.String("project_id", other.ID),
			zap.String("started_project_id", project.ID))
	}
	return nil
}

// abortStart undoes the queue side of a failed start. Errors are logged only.
func (s *LifecycleService) abortStart(project *model.Project) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log := logger.Project(project.ID)

	s.workers.Release(project.ID)
	if err := s.broker.Purge(ctx, project.QueueKey()); err != nil {
		log.Error("failed to purge queue after aborted start", zap.Error(err))
	}
	if _, err := s.posts.ClearSchedule(ctx, project.ID); err != nil {
		log.Error("failed to clear schedule after aborted start", zap.Error(err))
	}
}

// Pause holds delivery. Queued tasks and scheduled times are kept.
func (s *LifecycleService) Pause(ctx context.Context, projectID, userID string) (*model.Project, error) {
	unlock := s.locks.lock(projectID)
	defer unlock()

	project, err := s.loadOwned(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if project.Status != model.ProjectRunning {
		return nil, conflict("project is not running")
	}
	if err := s.broker.Pause(ctx, project.QueueKey()); err != nil {
		return nil, infra("failed to pause queue", err)
	}
	ok, err := s.projects.CompareAndSetStatus(ctx, project.ID, model.ProjectPaused, model.ProjectRunning)
	if err != nil {
		return nil, infra("failed to update project status", err)
	}
	if !ok {
		return nil, conflict("project is no longer running")
	}

	logger.Project(project.ID).Info("project paused", OperatorField(ctx))
	project.Status = model.ProjectPaused
	return project, nil
}

// Resume continues delivery of a paused project.
func (s *LifecycleService) Resume(ctx context.Context, projectID, userID string) (*model.Project, error) {
	unlock := s.locks.lock(projectID)
	defer unlock()

	project, err := s.loadOwned(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if project.Status != model.ProjectPaused {
		return nil, conflict("project is not paused")
	}

	ok, err := s.projects.CompareAndSetStatus(ctx, project.ID, model.ProjectRunning, model.ProjectPaused)
	if err != nil {
		return nil, infra("failed to update project status", err)
	}
	if !ok {
		return nil, conflict("project is no longer paused")
	}
	if err := s.broker.Resume(ctx, project.QueueKey()); err != nil {
		if _, casErr := s.projects.CompareAndSetStatus(context.WithoutCancel(ctx), project.ID, model.ProjectPaused, model.ProjectRunning); casErr != nil {
			logger.Project(project.ID).Error("failed to roll back project status", zap.Error(casErr))
		}
		return nil, infra("failed to resume queue", err)
	}
	s.workers.EnsureStarted(project.ID)

	logger.Project(project.ID).Info("project resumed", OperatorField(ctx))
	project.Status = model.ProjectRunning
	return project, nil
}

// Stop ends delivery, drops queued tasks and unschedules the pending posts.
// In-flight deliveries finish first.
func (s *LifecycleService) Stop(ctx context.Context, projectID, userID string) (*model.Project, error) {
	unlock := s.locks.lock(projectID)
	defer unlock()

	project, err := s.loadOwned(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if project.Status != model.ProjectRunning {
		return nil, conflict("project is not running")
	}
	if err := s.halt(ctx, project); err != nil {
		return nil, err
	}

	logger.Project(project.ID).Info("project stopped", OperatorField(ctx))
	project.Status = model.ProjectStopped
	return project, nil
}

func (s *LifecycleService) halt(ctx context.Context, project *model.Project) error {
	if err := s.workers.Stop(ctx, project.ID); err != nil {
		// The worker is already detached and told to quit; its in-flight task
		// finishes on its own. Finish the stop on a fresh deadline so the
		// project does not sit running without a worker.
		logger.Project(project.ID).Warn("worker still finishing, completing stop", zap.Error(err))
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	dropped, err := s.broker.Drain(ctx, project.QueueKey())
	if err != nil {
		return infra("failed to drain queue", err)
	}
	// Losing against auto-stop is fine; the project ends up stopped either way.
	if _, err := s.projects.CompareAndSetStatus(ctx, project.ID, model.ProjectStopped, model.ProjectRunning, model.ProjectPaused); err != nil {
		return infra("failed to update project status", err)
	}
	cleared, err := s.posts.ClearSchedule(ctx, project.ID)
	if err != nil {
		return infra("failed to clear schedule", err)
	}
	logger.Project(project.ID).Debug("project halted", zap.Int("dropped_tasks", dropped), zap.Int64("unscheduled_posts", cleared))
	return nil
}

// StopOrResume resumes a paused project and stops a running one. It backs
// the single stop endpoint clients have always used.
func (s *LifecycleService) StopOrResume(ctx context.Context, projectID, userID string) (*model.Project, error) {
	project, err := s.loadOwned(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if project.Status == model.ProjectPaused {
		return s.Resume(ctx, projectID, userID)
	}
	return s.Stop(ctx, projectID, userID)
}

// RecoverOnBoot restores workers after a restart. Every lease left by the
// previous process is put back, stale projects are stopped and the rest get a worker again. Store
// errors are returned so boot can fail fast.
func (s *LifecycleService) RecoverOnBoot(ctx context.Context) error {
	return s.reconcile(WithSystemOperator(ctx, "boot"), true)
}

// Reconcile repairs stale projects, expired leases and missing workers while
// running.
func (s *LifecycleService) Reconcile(ctx context.Context) error {
	return s.reconcile(WithSystemOperator(ctx, "reconciler"), false)
}

func (s *LifecycleService) reconcile(ctx context.Context, recoverLeases bool) error {
	var projects []model.Project
	for _, status := range []model.ProjectStatus{model.ProjectRunning, model.ProjectPaused} {
		batch, err := s.projects.ListByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("failed to list %s projects: %w", status, err)
		}
		projects = append(projects, batch...)
	}

	var stopped, ensured int
	for _, p := range projects {
		result, err := s.reconcileOne(ctx, p.ID, recoverLeases)
		if err != nil {
			return err
		}
		switch result {
		case reconcileStopped:
			stopped++
		case reconcileEnsured:
			ensured++
		}
	}
	logger.Info("projects reconciled",
		zap.Bool("boot", recoverLeases),
		zap.Int("checked", len(projects)),
		zap.Int("stopped", stopped),
		zap.Int("workers", ensured))
	return nil
}

type reconcileResult int

const (
	reconcileSkipped reconcileResult = iota
	reconcileStopped
	reconcileEnsured
)

func (s *LifecycleService) reconcileOne(ctx context.Context, projectID string, recoverLeases bool) (reconcileResult, error) {
	unlock := s.locks.lock(projectID)
	defer unlock()

	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return reconcileSkipped, fmt.Errorf("failed to load project %s: %w", projectID, err)
	}
	if project == nil || project.Status == model.ProjectStopped {
		return reconcileSkipped, nil
	}
	log := logger.Project(project.ID)

	// At boot no consumer is alive, so every lease belongs to a dead process.
	// Later only expired leases are taken back.
	reclaim := s.broker.RecoverStale
	if recoverLeases {
		reclaim = s.broker.RecoverAll
	}
	n, err := reclaim(ctx, project.QueueKey())
	if err != nil {
		return reconcileSkipped, fmt.Errorf("failed to recover queue of project %s: %w", project.ID, err)
	}
	if n > 0 {
		log.Warn("requeued interrupted deliveries", zap.Int("tasks", n), zap.Bool("boot", recoverLeases))
	}

	pending, err := s.posts.CountByStatus(ctx, project.ID, model.PostPending)
	if err != nil {
		return reconcileSkipped, fmt.Errorf("failed to count pending posts of project %s: %w", project.ID, err)
	}
	if pending == 0 {
		if _, err := s.projects.CompareAndSetStatus(ctx, project.ID, model.ProjectStopped, model.ProjectRunning, model.ProjectPaused); err != nil {
			return reconcileSkipped, fmt.Errorf("failed to stop project %s: %w", project.ID, err)
		}
		s.workers.Release(project.ID)
		log.Warn("stopped project without pending posts", OperatorField(ctx))
		return reconcileStopped, nil
	}

	if s.workers.EnsureStarted(project.ID) {
		return reconcileEnsured, nil
	}
	return reconcileSkipped, nil
}

// projectLocks hands out one mutex per project id and forgets it once no
// caller holds or waits for it.
type projectLocks struct {
	mu    sync.Mutex
	locks map[string]*projectLock
}

type projectLock struct {
	sync.Mutex
	refs int
}

func newProjectLocks() *projectLocks {
	return &projectLocks{locks: make(map[string]*projectLock)}
}

func (l *projectLocks) lock(id string) (unlock func()) {
	l.mu.Lock()
	pl, ok := l.locks[id]
	if !ok {
		pl = &projectLock{}
		l.locks[id] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.Lock()
	return func() {
		pl.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
