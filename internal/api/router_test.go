package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"postpilot/internal/model"
	"postpilot/internal/service"
	"postpilot/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.InitLogger("test")
	gin.SetMode(gin.TestMode)
}

type MockProjects struct {
	ProjectProvider
	created   service.CreateProjectInput
	deleteErr error
}

func (m *MockProjects) Create(ctx context.Context, userID string, in service.CreateProjectInput) (*model.Project, error) {
	m.created = in
	return &model.Project{ID: "p1", UserID: userID, Name: in.Name, Status: model.ProjectStopped}, nil
}

func (m *MockProjects) List(ctx context.Context, userID string) (*service.ProjectListing, error) {
	return &service.ProjectListing{Active: []service.ProjectSummary{{Project: model.Project{ID: "p1", UserID: userID}}}}, nil
}

func (m *MockProjects) Delete(ctx context.Context, projectID, userID string) error {
	return m.deleteErr
}

type MockLifecycle struct {
	LifecycleProvider
	calls []string
	err   error
}

func (m *MockLifecycle) Start(ctx context.Context, projectID, userID string) (*model.Project, error) {
	m.calls = append(m.calls, "start")
	if m.err != nil {
		return nil, m.err
	}
	return &model.Project{ID: projectID, Status: model.ProjectRunning}, nil
}

func (m *MockLifecycle) StopOrResume(ctx context.Context, projectID, userID string) (*model.Project, error) {
	m.calls = append(m.calls, "stop")
	return &model.Project{ID: projectID, Status: model.ProjectStopped}, nil
}

type MockPosts struct {
	PostProvider
	contents []string
	err      error
}

func (m *MockPosts) BulkCreate(ctx context.Context, projectID, userID string, contents []string) ([]model.Post, error) {
	m.contents = contents
	if m.err != nil {
		return nil, m.err
	}
	return make([]model.Post, len(contents)), nil
}

type MockAccounts struct {
	AccountProvider
}

func (m *MockAccounts) List(ctx context.Context, userID string) ([]model.LinkedAccount, error) {
	return []model.LinkedAccount{{ID: "acc1", UserID: userID, AccessToken: "secret-token"}}, nil
}

type routerFixture struct {
	engine    *gin.Engine
	projects  *MockProjects
	lifecycle *MockLifecycle
	posts     *MockPosts
	token     string
}

func newRouterFixture(t *testing.T, checks map[string]Check) *routerFixture {
	t.Helper()
	tokens := service.NewTokenService("secret", "postpilot")
	token, err := tokens.Issue("u1", "alice", time.Hour)
	require.NoError(t, err)

	f := &routerFixture{
		projects:  &MockProjects{},
		lifecycle: &MockLifecycle{},
		posts:     &MockPosts{},
		token:     token,
	}
	f.engine = RegisterRoutes(
		NewProjectHandler(f.projects, f.lifecycle),
		NewPostHandler(f.posts),
		NewAccountHandler(&MockAccounts{}),
		NewHealthHandler(checks),
		tokens, nil, "test",
	)
	return f
}

func (f *routerFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.token)
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func TestRoutes_RequireToken(t *testing.T) {
	f := newRouterFixture(t, nil)
	req, _ := http.NewRequest(http.MethodGet, "/v1/projects", nil)
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoutes_CreateProject(t *testing.T) {
	f := newRouterFixture(t, nil)

	w := f.do(http.MethodPost, "/v1/projects", map[string]any{"name": "Launch", "account_id": "acc1", "time_gap_minutes": 15})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 15, f.projects.created.TimeGapMinutes)

	w = f.do(http.MethodPost, "/v1/projects", map[string]any{"name": "Launch", "account_id": "acc1", "time_gap_minutes": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoutes_ListProjects(t *testing.T) {
	f := newRouterFixture(t, nil)

	w := f.do(http.MethodGet, "/v1/projects", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listing service.ProjectListing
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Active, 1)
	assert.Equal(t, "u1", listing.Active[0].UserID)
}

func TestRoutes_LifecycleTransitions(t *testing.T) {
	f := newRouterFixture(t, nil)

	w := f.do(http.MethodPost, "/v1/projects/p1/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"p1","status":"running"}`, w.Body.String())

	w = f.do(http.MethodPost, "/v1/projects/p1/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"start", "stop"}, f.lifecycle.calls)
}

func TestRoutes_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"validation", &service.Error{Kind: service.KindValidation, Message: "no pending posts to schedule"}, http.StatusBadRequest},
		{"not found", &service.Error{Kind: service.KindNotFound, Message: "project not found"}, http.StatusNotFound},
		{"forbidden", &service.Error{Kind: service.KindForbidden, Message: "nope"}, http.StatusForbidden},
		{"conflict", &service.Error{Kind: service.KindConflict, Message: `Another project ("x") is already running with these credentials.`}, http.StatusConflict},
		{"infrastructure", &service.Error{Kind: service.KindInfrastructure, Message: "failed to enqueue post", Err: errors.New("dial tcp: refused")}, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t, nil)
			f.lifecycle.err = tt.err

			w := f.do(http.MethodPost, "/v1/projects/p1/start", nil)
			assert.Equal(t, tt.wantCode, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotContains(t, body["error"], "dial tcp")
			var se *service.Error
			if errors.As(tt.err, &se) {
				assert.Equal(t, se.Message, body["error"])
			}
		})
	}
}

func TestRoutes_BulkCreatePosts(t *testing.T) {
	f := newRouterFixture(t, nil)

	w := f.do(http.MethodPost, "/v1/projects/p1/posts", map[string]any{"contents": []string{"a", "b"}})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, []string{"a", "b"}, f.posts.contents)

	w = f.do(http.MethodPost, "/v1/projects/p1/posts", map[string]any{"contents": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoutes_AccountsHideTokens(t *testing.T) {
	f := newRouterFixture(t, nil)

	w := f.do(http.MethodGet, "/v1/accounts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "secret-token")
}

func TestHealthCheck(t *testing.T) {
	f := newRouterFixture(t, map[string]Check{
		"redis": func(ctx context.Context) error { return nil },
	})
	w := f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	f = newRouterFixture(t, map[string]Check{
		"mysql": func(ctx context.Context) error { return errors.New("down") },
	})
	w = f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
