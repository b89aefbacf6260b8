package middleware

import (
	"net/http"
	"strings"

	"postpilot/internal/service"

	"github.com/gin-gonic/gin"
)

// TokenVerifier checks bearer tokens.
type TokenVerifier interface {
	Verify(token string) (*service.UserClaims, error)
}

// JWTMiddleware authenticates the caller and stores the operator in the
// request context. In dev mode the X-Dev-User header is trusted instead.
func JWTMiddleware(tokens TokenVerifier, devMode bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if devMode {
			if user := c.GetHeader("X-Dev-User"); user != "" {
				ctx := service.WithOperator(c.Request.Context(), &service.OperatorInfo{UserID: user, Name: user})
				c.Request = c.Request.WithContext(ctx)
				c.Next()
				return
			}
		}

		tokenString := ""
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}

		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header missing"})
			return
		}

		claims, err := tokens.Verify(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid access token"})
			return
		}

		ctx := service.WithOperator(c.Request.Context(), &service.OperatorInfo{
			UserID: claims.UserID,
			Name:   claims.Username,
		})
		c.Request = c.Request.WithContext(ctx)
		c.Set("user_id", claims.UserID)

		c.Next()
	}
}
