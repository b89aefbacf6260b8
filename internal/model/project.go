package model

import (
	"time"

	"postpilot/pkg/constraints"
)

type ProjectStatus string

const (
	ProjectStopped ProjectStatus = constraints.ProjectStopped
	ProjectRunning ProjectStatus = constraints.ProjectRunning
	ProjectPaused  ProjectStatus = constraints.ProjectPaused
)

// Project is a user-owned posting campaign bound to one linked account.
type Project struct {
	ID             string        `json:"id" gorm:"primaryKey;size:36"`
	UserID         string        `json:"user_id" gorm:"size:64;not null;index"`
	Name           string        `json:"name" gorm:"size:128;not null"`
	AccountID      string        `json:"account_id" gorm:"size:36;not null;index"`
	TimeGapMinutes int           `json:"time_gap_minutes" gorm:"not null"`
	Status         ProjectStatus `json:"status" gorm:"size:16;not null;default:stopped;index"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// QueueKey names the project's delivery queue.
func (p *Project) QueueKey() string {
	return QueueKey(p.ID)
}

func QueueKey(projectID string) string {
	return "queue_" + projectID
}
