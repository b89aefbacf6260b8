package model

import (
	"time"

	"postpilot/pkg/constraints"
)

type PostStatus string

const (
	PostPending PostStatus = constraints.PostPending
	PostPosted  PostStatus = constraints.PostPosted
	PostFailed  PostStatus = constraints.PostFailed
)

type Post struct {
	ID            string     `json:"id" gorm:"primaryKey;size:36"`
	ProjectID     string     `json:"project_id" gorm:"size:36;not null;index:idx_posts_project_status"`
	Content       string     `json:"content" gorm:"type:text;not null"`
	Status        PostStatus `json:"status" gorm:"size:16;not null;default:pending;index:idx_posts_project_status"`
	ScheduledAt   *time.Time `json:"scheduled_at"`
	PostedAt      *time.Time `json:"posted_at"`
	FailureReason string     `json:"failure_reason,omitempty" gorm:"type:text"`
	Attempts      int        `json:"attempts" gorm:"default:0"`
	CreatedAt     time.Time  `json:"created_at" gorm:"index"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// PostStats is the per-status post count of one project.
type PostStats struct {
	Pending int64 `json:"pending"`
	Posted  int64 `json:"posted"`
	Failed  int64 `json:"failed"`
}
