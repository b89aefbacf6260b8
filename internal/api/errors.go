package api

import (
	"errors"
	"net/http"

	"postpilot/internal/dto/resp"
	"postpilot/internal/service"
	"postpilot/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func statusOf(kind service.Kind) int {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindConflict:
		return http.StatusConflict
	case service.KindInfrastructure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders a service error. Only the service's own message is
// exposed; wrapped causes go to the log.
func writeError(c *gin.Context, err error) {
	kind := service.KindOf(err)
	status := statusOf(kind)

	body := resp.ErrorResponse{Error: "internal server error"}
	var se *service.Error
	if errors.As(err, &se) {
		body.Error = se.Message
		body.Kind = kind.String()
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, body)
}

// operator returns the authenticated user or aborts with 401.
func operator(c *gin.Context) (string, bool) {
	userID, ok := service.OperatorUserID(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, resp.ErrorResponse{Error: "unauthorized"})
		return "", false
	}
	return userID, true
}
