package repository

import (
	"context"
	"errors"

	"postpilot/internal/model"

	"gorm.io/gorm"
)

// ProjectInterface defines persistence for projects
type ProjectInterface interface {
	Create(ctx context.Context, project *model.Project) error
	GetByID(ctx context.Context, id string) (*model.Project, error)
	ListByUser(ctx context.Context, userID string) ([]model.Project, error)
	ListByStatus(ctx context.Context, status model.ProjectStatus) ([]model.Project, error)
	// ListRunningByAccount returns the user's running projects bound to
	// accountID, excluding excludeID.
	ListRunningByAccount(ctx context.Context, userID, accountID, excludeID string) ([]model.Project, error)
	CountByAccount(ctx context.Context, accountID string, statuses ...model.ProjectStatus) (int64, error)
	// CompareAndSetStatus moves the project to `to` only while its status is
	// one of `from`. It reports whether a row changed.
	CompareAndSetStatus(ctx context.Context, id string, to model.ProjectStatus, from ...model.ProjectStatus) (bool, error)
	// DeleteCascade removes the project and all of its posts.
	DeleteCascade(ctx context.Context, id string) error
	PingContext(ctx context.Context) error
}

type ProjectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

func (r *ProjectRepository) Create(ctx context.Context, project *model.Project) error {
	return r.db.WithContext(ctx).Create(project).Error
}

func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*model.Project, error) {
	var project model.Project
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&project).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &project, nil
}

func (r *ProjectRepository) ListByUser(ctx context.Context, userID string) ([]model.Project, error) {
	var projects []model.Project
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&projects).Error
	return projects, err
}

func (r *ProjectRepository) ListByStatus(ctx context.Context, status model.ProjectStatus) ([]model.Project, error) {
	var projects []model.Project
	err := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC").Find(&projects).Error
	return projects, err
}

func (r *ProjectRepository) ListRunningByAccount(ctx context.Context, userID, accountID, excludeID string) ([]model.Project, error) {
	var projects []model.Project
	err := r.db.WithContext(ctx).
		Where("id <> ? AND user_id = ? AND account_id = ? AND status = ?", excludeID, userID, accountID, model.ProjectRunning).
		Order("created_at ASC").
		Find(&projects).Error
	return projects, err
}

func (r *ProjectRepository) CountByAccount(ctx context.Context, accountID string, statuses ...model.ProjectStatus) (int64, error) {
	var n int64
	query := r.db.WithContext(ctx).Model(&model.Project{}).Where("account_id = ?", accountID)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	err := query.Count(&n).Error
	return n, err
}

func (r *ProjectRepository) CompareAndSetStatus(ctx context.Context, id string, to model.ProjectStatus, from ...model.ProjectStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Project{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *ProjectRepository) DeleteCascade(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", id).Delete(&model.Post{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.Project{}).Error
	})
}

func (r *ProjectRepository) PingContext(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
