package service

import (
	"context"
	"strings"

	"postpilot/internal/model"
	"postpilot/internal/queue"
	"postpilot/internal/repository"
	"postpilot/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ProjectService struct {
	projects  repository.ProjectInterface
	posts     repository.PostInterface
	accounts  repository.AccountInterface
	broker    queue.Broker
	lifecycle *LifecycleService
}

func NewProjectService(projects repository.ProjectInterface, posts repository.PostInterface, accounts repository.AccountInterface, broker queue.Broker, lifecycle *LifecycleService) *ProjectService {
	return &ProjectService{
		projects:  projects,
		posts:     posts,
		accounts:  accounts,
		broker:    broker,
		lifecycle: lifecycle,
	}
}

type CreateProjectInput struct {
	Name           string
	AccountID      string
	TimeGapMinutes int
}

// ProjectSummary is a project with its post counts.
type ProjectSummary struct {
	model.Project
	Stats model.PostStats `json:"stats"`
}

// ProjectListing groups a user's projects for the dashboard.
type ProjectListing struct {
	Active         []ProjectSummary `json:"active"`
	PendingStopped []ProjectSummary `json:"pending_stopped"`
	Completed      []ProjectSummary `json:"completed"`
}

type ProjectDetail struct {
	Project model.Project   `json:"project"`
	Stats   model.PostStats `json:"stats"`
	Posts   []model.Post    `json:"posts"`
}

func (s *ProjectService) Create(ctx context.Context, userID string, in CreateProjectInput) (*model.Project, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || in.AccountID == "" || in.TimeGapMinutes == 0 {
		return nil, validationError("name, account and time gap are required")
	}
	if in.TimeGapMinutes < 0 {
		return nil, validationError("time gap must be positive")
	}

	account, err := s.accounts.GetByID(ctx, in.AccountID)
	if err != nil {
		return nil, infra("failed to load linked account", err)
	}
	if account == nil || account.UserID != userID || !account.IsActive {
		return nil, validationError("invalid or inactive linked account")
	}

	project := &model.Project{
		ID:             uuid.NewString(),
		UserID:         userID,
		Name:           name,
		AccountID:      account.ID,
		TimeGapMinutes: in.TimeGapMinutes,
		Status:         model.ProjectStopped,
	}
	if err := s.projects.Create(ctx, project); err != nil {
		return nil, infra("failed to create project", err)
	}
	logger.Info("project created", zap.String("project_id", project.ID), zap.String("user_id", userID))
	return project, nil
}

func (s *ProjectService) List(ctx context.Context, userID string) (*ProjectListing, error) {
	projects, err := s.projects.ListByUser(ctx, userID)
	if err != nil {
		return nil, infra("failed to list projects", err)
	}

	listing := &ProjectListing{
		Active:         []ProjectSummary{},
		PendingStopped: []ProjectSummary{},
		Completed:      []ProjectSummary{},
	}
	for _, p := range projects {
		stats, err := s.posts.Stats(ctx, p.ID)
		if err != nil {
			return nil, infra("failed to count posts", err)
		}
		summary := ProjectSummary{Project: p, Stats: stats}
		switch {
		case p.Status == model.ProjectRunning || p.Status == model.ProjectPaused:
			listing.Active = append(listing.Active, summary)
		case stats.Pending > 0:
			listing.PendingStopped = append(listing.PendingStopped, summary)
		default:
			listing.Completed = append(listing.Completed, summary)
		}
	}
	return listing, nil
}

// Get returns the project with its posts in schedule order.
func (s *ProjectService) Get(ctx context.Context, projectID, userID string) (*ProjectDetail, error) {
	project, err := s.lifecycle.loadOwned(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	posts, err := s.posts.ListByProject(ctx, project.ID)
	if err != nil {
		return nil, infra("failed to load posts", err)
	}
	stats, err := s.posts.Stats(ctx, project.ID)
	if err != nil {
		return nil, infra("failed to count posts", err)
	}
	return &ProjectDetail{Project: *project, Stats: stats, Posts: posts}, nil
}

// Delete stops delivery, removes the queue and deletes the project with
// all of its posts.
func (s *ProjectService) Delete(ctx context.Context, projectID, userID string) error {
	unlock := s.lifecycle.locks.lock(projectID)
	defer unlock()

	project, err := s.lifecycle.loadOwned(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if err := s.lifecycle.workers.Stop(ctx, project.ID); err != nil {
		return infra("failed to stop worker", err)
	}
	if err := s.broker.Purge(ctx, project.QueueKey()); err != nil {
		return infra("failed to remove queue", err)
	}
	if err := s.projects.DeleteCascade(ctx, project.ID); err != nil {
		return infra("failed to delete project", err)
	}
	logger.Info("project deleted", zap.String("project_id", project.ID), OperatorField(ctx))
	return nil
}

// DeleteMany deletes every listed project. It stops at the first failure
// and reports how many were deleted before it.
func (s *ProjectService) DeleteMany(ctx context.Context, projectIDs []string, userID string) (int, error) {
	if len(projectIDs) == 0 {
		return 0, validationError("no projects provided")
	}
	for i, id := range projectIDs {
		if err := s.Delete(ctx, id, userID); err != nil {
			return i, err
		}
	}
	return len(projectIDs), nil
}
