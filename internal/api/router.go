package api

import (
	"postpilot/internal/metrics"
	"postpilot/internal/middleware"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(projects *ProjectHandler, posts *PostHandler, accounts *AccountHandler, health *HealthHandler, tokens middleware.TokenVerifier, limiter *middleware.RateLimiter, env string) *gin.Engine {
	r := gin.New()

	// Global Middleware
	r.Use(
		middleware.CorsMiddleware(),
		middleware.RequestID(),
		middleware.GinZapLogger(),
		middleware.GinZapRecovery(),
		middleware.HttpMiddleware(),
	)
	r.SetTrustedProxies(nil)

	// Public Routes
	r.GET("/health", health.HealthCheck)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	protected := r.Group("/v1")
	protected.Use(middleware.JWTMiddleware(tokens, env == "dev"))

	// Rate Limiter for Write Operations
	writeLimiter := func(c *gin.Context) { c.Next() }
	if limiter != nil {
		writeLimiter = limiter.Middleware()
	}

	{
		protected.GET("/projects", projects.ListProjects)
		protected.POST("/projects", writeLimiter, projects.CreateProject)
		protected.POST("/projects/delete-bulk", writeLimiter, projects.DeleteProjects)
		protected.GET("/projects/:id", projects.GetProject)
		protected.DELETE("/projects/:id", writeLimiter, projects.DeleteProject)

		protected.POST("/projects/:id/start", writeLimiter, projects.StartProject())
		protected.POST("/projects/:id/pause", writeLimiter, projects.PauseProject())
		protected.POST("/projects/:id/resume", writeLimiter, projects.ResumeProject())
		protected.POST("/projects/:id/stop", writeLimiter, projects.StopProject())

		protected.POST("/projects/:id/posts", writeLimiter, posts.BulkCreatePosts)
		protected.GET("/projects/:id/calendar", posts.GetCalendar)

		protected.GET("/accounts", accounts.ListAccounts)
		protected.POST("/accounts/:id/activate", writeLimiter, accounts.ActivateAccount)
		protected.POST("/accounts/:id/deactivate", writeLimiter, accounts.DeactivateAccount)
		protected.DELETE("/accounts/:id", writeLimiter, accounts.DeleteAccount)
	}
	return r
}
