package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"postpilot/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHttpMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(HttpMiddleware())
	r.GET("/test", func(c *gin.Context) {
		c.Status(200)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/test", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/test", func(c *gin.Context) { c.String(200, c.GetString("request_id")) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", "abc")
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "abc", w.Body.String())

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/test", nil)
	r.ServeHTTP(w, req)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestJWTMiddleware(t *testing.T) {
	tokens := service.NewTokenService("secret", "postpilot")
	token, err := tokens.Issue("u1", "alice", time.Hour)
	require.NoError(t, err)

	newRouter := func(dev bool) *gin.Engine {
		r := gin.New()
		r.Use(JWTMiddleware(tokens, dev))
		r.GET("/me", func(c *gin.Context) {
			op := service.GetOperatorInfo(c.Request.Context())
			c.String(200, op.UserID)
		})
		return r
	}

	tests := []struct {
		name     string
		dev      bool
		header   map[string]string
		wantCode int
		wantUser string
	}{
		{"valid token", false, map[string]string{"Authorization": "Bearer " + token}, 200, "u1"},
		{"missing header", false, nil, 401, ""},
		{"bad token", false, map[string]string{"Authorization": "Bearer nope"}, 401, ""},
		{"dev header ignored outside dev", false, map[string]string{"X-Dev-User": "dev"}, 401, ""},
		{"dev header in dev", true, map[string]string{"X-Dev-User": "dev"}, 200, "dev"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/me", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			newRouter(tt.dev).ServeHTTP(w, req)
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantUser != "" {
				assert.Equal(t, tt.wantUser, w.Body.String())
			}
		})
	}
}
