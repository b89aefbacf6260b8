package req

type CreateProjectRequest struct {
	Name           string `json:"name" binding:"required"`
	AccountID      string `json:"account_id" binding:"required"`
	TimeGapMinutes int    `json:"time_gap_minutes" binding:"required,gt=0"`
}

type DeleteProjectsRequest struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}
