package api

import (
	"context"
	"net/http"

	"postpilot/internal/dto/req"
	"postpilot/internal/dto/resp"
	"postpilot/internal/model"
	"postpilot/internal/service"

	"github.com/gin-gonic/gin"
)

type ProjectProvider interface {
	Create(ctx context.Context, userID string, in service.CreateProjectInput) (*model.Project, error)
	List(ctx context.Context, userID string) (*service.ProjectListing, error)
	Get(ctx context.Context, projectID, userID string) (*service.ProjectDetail, error)
	Delete(ctx context.Context, projectID, userID string) error
	DeleteMany(ctx context.Context, projectIDs []string, userID string) (int, error)
}

type LifecycleProvider interface {
	Start(ctx context.Context, projectID, userID string) (*model.Project, error)
	Pause(ctx context.Context, projectID, userID string) (*model.Project, error)
	Resume(ctx context.Context, projectID, userID string) (*model.Project, error)
	StopOrResume(ctx context.Context, projectID, userID string) (*model.Project, error)
}

type ProjectHandler struct {
	projects  ProjectProvider
	lifecycle LifecycleProvider
}

func NewProjectHandler(projects ProjectProvider, lifecycle LifecycleProvider) *ProjectHandler {
	return &ProjectHandler{
		projects:  projects,
		lifecycle: lifecycle,
	}
}

func (h *ProjectHandler) CreateProject(c *gin.Context) {
	userID, ok := operator(c)
	if !ok {
		return
	}
	var r req.CreateProjectRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, resp.ErrorResponse{Error: "name, account_id and a positive time_gap_minutes are required"})
		return
	}
	project, err := h.projects.Create(c.Request.Context(), userID, service.CreateProjectInput{
		Name:           r.Name,
		AccountID:      r.AccountID,
		TimeGapMinutes: r.TimeGapMinutes,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

func (h *ProjectHandler) ListProjects(c *gin.Context) {
	userID, ok := operator(c)
	if !ok {
		return
	}
	listing, err := h.projects.List(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h *ProjectHandler) GetProject(c *gin.Context) {
	userID, ok := operator(c)
	if !ok {
		return
	}
	detail, err := h.projects.Get(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *ProjectHandler) DeleteProject(c *gin.Context) {
	userID, ok := operator(c)
	if !ok {
		return
	}
	if err := h.projects.Delete(c.Request.Context(), c.Param("id"), userID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.MessageResponse{Message: "project deleted"})
}

func (h *ProjectHandler) DeleteProjects(c *gin.Context) {
	userID, ok := operator(c)
	if !ok {
		return
	}
	var r req.DeleteProjectsRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, resp.ErrorResponse{Error: "ids are required"})
		return
	}
	n, err := h.projects.DeleteMany(c.Request.Context(), r.IDs, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.DeleteProjectsResponse{Deleted: n})
}

type transition func(ctx context.Context, projectID, userID string) (*model.Project, error)

func (h *ProjectHandler) transition(fn transition) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := operator(c)
		if !ok {
			return
		}
		project, err := fn(c.Request.Context(), c.Param("id"), userID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp.ProjectStatusResponse{ID: project.ID, Status: project.Status})
	}
}

func (h *ProjectHandler) StartProject() gin.HandlerFunc  { return h.transition(h.lifecycle.Start) }
func (h *ProjectHandler) PauseProject() gin.HandlerFunc  { return h.transition(h.lifecycle.Pause) }
func (h *ProjectHandler) ResumeProject() gin.HandlerFunc { return h.transition(h.lifecycle.Resume) }

// StopProject stops a running project and resumes a paused one.
func (h *ProjectHandler) StopProject() gin.HandlerFunc { return h.transition(h.lifecycle.StopOrResume) }
