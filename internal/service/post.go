package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"postpilot/internal/model"
	"postpilot/internal/repository"

	"github.com/google/uuid"
)

const DefaultMaxPostLength = 280

type PostService struct {
	posts     repository.PostInterface
	lifecycle *LifecycleService
	maxLength int
	now       func() time.Time
}

func NewPostService(posts repository.PostInterface, lifecycle *LifecycleService, maxLength int) *PostService {
	if maxLength <= 0 {
		maxLength = DefaultMaxPostLength
	}
	return &PostService{
		posts:     posts,
		lifecycle: lifecycle,
		maxLength: maxLength,
		now:       time.Now,
	}
}

// BulkCreate adds pending posts to a project in the given order. Contents
// are trimmed; the whole batch is rejected if any entry is invalid. New posts
// are picked up by the next start.
func (s *PostService) BulkCreate(ctx context.Context, projectID, userID string, contents []string) ([]model.Post, error) {
	if len(contents) == 0 {
		return nil, validationError("no posts provided")
	}
	project, err := s.lifecycle.loadOwned(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	// Creation time drives delivery order, so keep the batch order strict.
	base := s.now()
	posts := make([]model.Post, 0, len(contents))
	for i, raw := range contents {
		content := strings.TrimSpace(raw)
		if content == "" {
			return nil, validationError("post %d is empty", i+1)
		}
		if n := utf8.RuneCountInString(content); n > s.maxLength {
			return nil, validationError("post %d is %d characters long, the limit is %d", i+1, n, s.maxLength)
		}
		posts = append(posts, model.Post{
			ID:        uuid.NewString(),
			ProjectID: project.ID,
			Content:   content,
			Status:    model.PostPending,
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		})
	}

	if err := s.posts.CreateBatch(ctx, posts); err != nil {
		return nil, infra("failed to create posts", err)
	}
	return posts, nil
}

// Calendar lists the project's posts that carry a scheduled time.
func (s *PostService) Calendar(ctx context.Context, projectID, userID string) ([]model.Post, error) {
	project, err := s.lifecycle.loadOwned(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	posts, err := s.posts.ListScheduled(ctx, project.ID)
	if err != nil {
		return nil, infra("failed to load scheduled posts", err)
	}
	return posts, nil
}
