package req

type BulkCreatePostsRequest struct {
	Contents []string `json:"contents" binding:"required,min=1"`
}
