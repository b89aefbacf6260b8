package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Credentials authorize posts on behalf of one linked account.
type Credentials struct {
	AccountID   string
	Username    string
	AccessToken string
}

// Poster publishes a post on the external platform.
type Poster interface {
	Post(ctx context.Context, creds Credentials, content string) error
}

// Error is a failure reported by the provider API.
type Error struct {
	Code    int
	Title   string
	Detail  string
	Message string
}

func (e *Error) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.Message
	}
	if msg == "" {
		msg = e.Title
	}
	if msg == "" {
		msg = http.StatusText(e.Code)
	}
	return fmt.Sprintf("provider error %d: %s", e.Code, msg)
}

func (e *Error) RateLimited() bool {
	return e.Code == http.StatusTooManyRequests
}

const RateLimitReason = "Rate limit exceeded (429): the account reached the platform's posting limit, delivery will be retried later"

// FailureReason turns a delivery error into the text stored on the post.
// The provider's detail wins over the raw message and rate limiting gets a
// dedicated explanation.
func FailureReason(err error) string {
	if err == nil {
		return ""
	}
	var perr *Error
	if errors.As(err, &perr) {
		if perr.RateLimited() {
			return RateLimitReason
		}
		switch {
		case perr.Detail != "":
			return perr.Detail
		case perr.Message != "":
			return perr.Message
		case perr.Title != "":
			return perr.Title
		}
		return perr.Error()
	}
	if strings.Contains(err.Error(), "429") {
		return RateLimitReason
	}
	return err.Error()
}
