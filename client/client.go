// Package client is a Go client for the postpilot /v1 API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	v1 "postpilot/pkg/api/v1"
	"postpilot/pkg/constraints"
	"postpilot/pkg/logger"

	"go.uber.org/zap"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("postpilot: %d %s: %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("postpilot: %d: %s", e.StatusCode, e.Message)
}

// IsConflict reports whether err is a 409 from the server, e.g. a second
// project started on credentials already in use.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == constraints.KindConflict
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == constraints.KindNotFound
}

type PostPilotClient struct {
	addr       string
	token      string
	httpClient *http.Client

	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
}

type Option func(*PostPilotClient)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *PostPilotClient) { c.httpClient = hc }
}

// WithRetry sets how often a rate-limited or unavailable request is retried
// and the initial backoff between attempts.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(c *PostPilotClient) {
		c.maxRetries = maxRetries
		c.backoff = backoff
	}
}

func NewPostPilotClient(addr, token string, opts ...Option) *PostPilotClient {
	c := &PostPilotClient{
		addr:       strings.TrimRight(addr, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
		backoff:    time.Second,
		maxBackoff: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *PostPilotClient) CreateProject(ctx context.Context, in v1.CreateProjectRequest) (*v1.Project, error) {
	var out v1.Project
	if err := c.do(ctx, http.MethodPost, "/v1/projects", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *PostPilotClient) ListProjects(ctx context.Context) (*v1.ProjectListing, error) {
	var out v1.ProjectListing
	if err := c.do(ctx, http.MethodGet, "/v1/projects", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *PostPilotClient) GetProject(ctx context.Context, projectID string) (*v1.ProjectDetail, error) {
	var out v1.ProjectDetail
	if err := c.do(ctx, http.MethodGet, "/v1/projects/"+url.PathEscape(projectID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *PostPilotClient) DeleteProject(ctx context.Context, projectID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/projects/"+url.PathEscape(projectID), nil, nil)
}

func (c *PostPilotClient) AddPosts(ctx context.Context, projectID string, contents []string) (*v1.BulkCreatePostsResponse, error) {
	var out v1.BulkCreatePostsResponse
	path := "/v1/projects/" + url.PathEscape(projectID) + "/posts"
	if err := c.do(ctx, http.MethodPost, path, v1.BulkCreatePostsRequest{Contents: contents}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *PostPilotClient) Calendar(ctx context.Context, projectID string) ([]v1.Post, error) {
	var out []v1.Post
	path := "/v1/projects/" + url.PathEscape(projectID) + "/calendar"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PostPilotClient) ListAccounts(ctx context.Context) ([]v1.Account, error) {
	var out []v1.Account
	if err := c.do(ctx, http.MethodGet, "/v1/accounts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PostPilotClient) Start(ctx context.Context, projectID string) (string, error) {
	return c.transition(ctx, projectID, "start")
}

func (c *PostPilotClient) Pause(ctx context.Context, projectID string) (string, error) {
	return c.transition(ctx, projectID, "pause")
}

func (c *PostPilotClient) Resume(ctx context.Context, projectID string) (string, error) {
	return c.transition(ctx, projectID, "resume")
}

func (c *PostPilotClient) Stop(ctx context.Context, projectID string) (string, error) {
	return c.transition(ctx, projectID, "stop")
}

// transition returns the project's status after the action.
func (c *PostPilotClient) transition(ctx context.Context, projectID, action string) (string, error) {
	var out v1.StatusResponse
	path := "/v1/projects/" + url.PathEscape(projectID) + "/" + action
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *PostPilotClient) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = b
	}

	backoff := c.backoff
	for attempt := 0; ; attempt++ {
		err := c.once(ctx, method, path, payload, out)
		if err == nil || attempt >= c.maxRetries || !c.retryable(method, err) {
			return err
		}

		wait := backoff
		if half := int64(backoff / 2); half > 0 {
			wait += time.Duration(rand.Int63n(half))
		}
		logger.Warn("postpilot request retrying",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// retryable: a 429 was rejected before any handler ran, so it is safe for
// every method. Other failures are retried for reads only.
func (c *PostPilotClient) retryable(method string, err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return method == http.MethodGet && apiErr.StatusCode == http.StatusServiceUnavailable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return method == http.MethodGet
}

func (c *PostPilotClient) once(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.addr+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var e v1.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			apiErr.Kind = e.Kind
			apiErr.Message = e.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
