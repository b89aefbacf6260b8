package repository

import (
	"context"
	"errors"
	"time"

	"postpilot/internal/model"

	"gorm.io/gorm"
)

// PostInterface defines persistence for posts. Every status write is
// conditional on the post still being pending.
type PostInterface interface {
	CreateBatch(ctx context.Context, posts []model.Post) error
	GetByID(ctx context.Context, id string) (*model.Post, error)
	// ListPending returns pending posts ordered by creation time, then id.
	ListPending(ctx context.Context, projectID string) ([]model.Post, error)
	ListByProject(ctx context.Context, projectID string) ([]model.Post, error)
	ListScheduled(ctx context.Context, projectID string) ([]model.Post, error)
	CountByStatus(ctx context.Context, projectID string, status model.PostStatus) (int64, error)
	Stats(ctx context.Context, projectID string) (model.PostStats, error)
	SetScheduledAt(ctx context.Context, id string, at time.Time) error
	// ClearSchedule unsets scheduled_at on the project's pending posts.
	ClearSchedule(ctx context.Context, projectID string) (int64, error)
	MarkPosted(ctx context.Context, id string, at time.Time) (bool, error)
	// RecordFailure stores the reason of a failed attempt. The post becomes
	// failed only when final is set; otherwise it stays pending for retry.
	RecordFailure(ctx context.Context, id, reason string, final bool) (bool, error)
	// MarkFailed fails the post without counting a delivery attempt.
	MarkFailed(ctx context.Context, id, reason string) (bool, error)
}

type PostRepository struct {
	db *gorm.DB
}

func NewPostRepository(db *gorm.DB) *PostRepository {
	return &PostRepository{db: db}
}

func (r *PostRepository) CreateBatch(ctx context.Context, posts []model.Post) error {
	if len(posts) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(posts, 100).Error
}

func (r *PostRepository) GetByID(ctx context.Context, id string) (*model.Post, error) {
	var post model.Post
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&post).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &post, nil
}

func (r *PostRepository) ListPending(ctx context.Context, projectID string) ([]model.Post, error) {
	var posts []model.Post
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND status = ?", projectID, model.PostPending).
		Order("created_at ASC, id ASC").
		Find(&posts).Error
	return posts, err
}

func (r *PostRepository) ListByProject(ctx context.Context, projectID string) ([]model.Post, error) {
	var posts []model.Post
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("scheduled_at ASC, created_at ASC").
		Find(&posts).Error
	return posts, err
}

func (r *PostRepository) ListScheduled(ctx context.Context, projectID string) ([]model.Post, error) {
	var posts []model.Post
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND scheduled_at IS NOT NULL", projectID).
		Order("scheduled_at ASC").
		Find(&posts).Error
	return posts, err
}

func (r *PostRepository) CountByStatus(ctx context.Context, projectID string, status model.PostStatus) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Post{}).
		Where("project_id = ? AND status = ?", projectID, status).
		Count(&n).Error
	return n, err
}

func (r *PostRepository) Stats(ctx context.Context, projectID string) (model.PostStats, error) {
	var rows []struct {
		Status model.PostStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&model.Post{}).
		Select("status, COUNT(*) AS count").
		Where("project_id = ?", projectID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return model.PostStats{}, err
	}
	var stats model.PostStats
	for _, row := range rows {
		switch row.Status {
		case model.PostPending:
			stats.Pending = row.Count
		case model.PostPosted:
			stats.Posted = row.Count
		case model.PostFailed:
			stats.Failed = row.Count
		}
	}
	return stats, nil
}

func (r *PostRepository) SetScheduledAt(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.Post{}).Where("id = ?", id).Update("scheduled_at", at).Error
}

func (r *PostRepository) ClearSchedule(ctx context.Context, projectID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Post{}).
		Where("project_id = ? AND status = ?", projectID, model.PostPending).
		Update("scheduled_at", nil)
	return res.RowsAffected, res.Error
}

func (r *PostRepository) MarkPosted(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.updatePending(ctx, id, map[string]any{
		"status":         model.PostPosted,
		"posted_at":      at,
		"failure_reason": "",
		"attempts":       gorm.Expr("attempts + 1"),
	})
}

func (r *PostRepository) RecordFailure(ctx context.Context, id, reason string, final bool) (bool, error) {
	updates := map[string]any{
		"failure_reason": reason,
		"attempts":       gorm.Expr("attempts + 1"),
	}
	if final {
		updates["status"] = model.PostFailed
	}
	return r.updatePending(ctx, id, updates)
}

func (r *PostRepository) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	return r.updatePending(ctx, id, map[string]any{
		"status":         model.PostFailed,
		"failure_reason": reason,
	})
}

func (r *PostRepository) updatePending(ctx context.Context, id string, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Post{}).
		Where("id = ? AND status = ?", id, model.PostPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
