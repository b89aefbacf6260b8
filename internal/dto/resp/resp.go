package resp

import "postpilot/internal/model"

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type ProjectStatusResponse struct {
	ID     string              `json:"id"`
	Status model.ProjectStatus `json:"status"`
}

type BulkCreatePostsResponse struct {
	Created int          `json:"created"`
	Posts   []model.Post `json:"posts"`
}

type DeleteProjectsResponse struct {
	Deleted int `json:"deleted"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
