package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"postpilot/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TwitterClient posts through the v2 tweets endpoint with the account's
// OAuth2 user token. Outbound calls are paced process-wide.
type TwitterClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewTwitterClient(baseURL string, timeout time.Duration, requestsPerSecond float64) *TwitterClient {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &TwitterClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

type tweetRequest struct {
	Text string `json:"text"`
}

type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *TwitterClient) Post(ctx context.Context, creds Credentials, content string) error {
	if creds.AccessToken == "" {
		return &Error{Code: http.StatusUnauthorized, Message: "missing access token"}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(tweetRequest{Text: content})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/2/tweets", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build tweet request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tweet request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 300 {
		logger.Debug("tweet published", zap.String("account", creds.Username), zap.Int("status", resp.StatusCode))
		return nil
	}

	perr := &Error{Code: resp.StatusCode}
	var parsed apiError
	if json.Unmarshal(raw, &parsed) == nil {
		perr.Title = parsed.Title
		perr.Detail = parsed.Detail
		if len(parsed.Errors) > 0 {
			perr.Message = parsed.Errors[0].Message
		}
	}
	if perr.Detail == "" && perr.Message == "" && perr.Title == "" {
		perr.Message = strings.TrimSpace(string(raw))
	}
	return perr
}

// DryRun logs posts instead of publishing them.
type DryRun struct{}

func (DryRun) Post(ctx context.Context, creds Credentials, content string) error {
	logger.Info("dry-run post", zap.String("account", creds.Username), zap.Int("length", len(content)))
	return nil
}
