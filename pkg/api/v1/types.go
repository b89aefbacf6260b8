// Package v1 holds the wire types of the /v1 HTTP API for Go callers.
package v1

import "time"

type Project struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Name           string    `json:"name"`
	AccountID      string    `json:"account_id"`
	TimeGapMinutes int       `json:"time_gap_minutes"`
	Status         string    `json:"status"` // see constraints.Project*
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Post struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"project_id"`
	Content       string     `json:"content"`
	Status        string     `json:"status"` // see constraints.Post*
	ScheduledAt   *time.Time `json:"scheduled_at"`
	PostedAt      *time.Time `json:"posted_at"`
	FailureReason string     `json:"failure_reason,omitempty"`
	Attempts      int        `json:"attempts"`
	CreatedAt     time.Time  `json:"created_at"`
}

type Stats struct {
	Pending int64 `json:"pending"`
	Posted  int64 `json:"posted"`
	Failed  int64 `json:"failed"`
}

type ProjectSummary struct {
	Project
	Stats Stats `json:"stats"`
}

// ProjectListing groups a user's projects the way the dashboard shows them.
type ProjectListing struct {
	Active         []ProjectSummary `json:"active"`
	PendingStopped []ProjectSummary `json:"pending_stopped"`
	Completed      []ProjectSummary `json:"completed"`
}

type ProjectDetail struct {
	Project Project `json:"project"`
	Stats   Stats   `json:"stats"`
	Posts   []Post  `json:"posts"`
}

type Account struct {
	ID             string     `json:"id"`
	Provider       string     `json:"provider"`
	ProviderUserID string     `json:"provider_user_id"`
	Username       string     `json:"username"`
	IsActive       bool       `json:"is_active"`
	LastUsedAt     *time.Time `json:"last_used_at"`
	RevokedAt      *time.Time `json:"revoked_at"`
}

type CreateProjectRequest struct {
	Name           string `json:"name"`
	AccountID      string `json:"account_id"`
	TimeGapMinutes int    `json:"time_gap_minutes"`
}

type BulkCreatePostsRequest struct {
	Contents []string `json:"contents"`
}

type BulkCreatePostsResponse struct {
	Created int    `json:"created"`
	Posts   []Post `json:"posts"`
}

type StatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
