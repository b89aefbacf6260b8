package api

import (
	"context"
	"net/http"

	"postpilot/internal/dto/req"
	"postpilot/internal/dto/resp"
	"postpilot/internal/model"

	"github.com/gin-gonic/gin"
)

type PostProvider interface {
	BulkCreate(ctx context.Context, projectID, userID string, contents []string) ([]model.Post, error)
	Calendar(ctx context.Context, projectID, userID string) ([]model.Post, error)
}

type PostHandler struct {
	posts PostProvider
}

func NewPostHandler(posts PostProvider) *PostHandler {
	return &PostHandler{posts: posts}
}

func (h *PostHandler) BulkCreatePosts(c *gin.Context) {
	userID, ok := operator(c)
	if !ok {
		return
	}
	var r req.BulkCreatePostsRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, resp.ErrorResponse{Error: "no posts provided"})
		return
	}
	posts, err := h.posts.BulkCreate(c.Request.Context(), c.Param("id"), userID, r.Contents)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp.BulkCreatePostsResponse{Created: len(posts), Posts: posts})
}

func (h *PostHandler) GetCalendar(c *gin.Context) {
	userID, ok := operator(c)
	if !ok {
		return
	}
	posts, err := h.posts.Calendar(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	if posts == nil {
		posts = []model.Post{}
	}
	c.JSON(http.StatusOK, posts)
}
