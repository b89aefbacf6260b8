package queue

import (
	"errors"
	"time"
)

var ErrEmpty = errors.New("queue: no task ready")

// Task is the delivery envelope stored in the broker, keyed by post id.
type Task struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	PostID      string `json:"post_id"`
	Content     string `json:"content"`
	MaxAttempts int    `json:"max_attempts"`
	BackoffMS   int64  `json:"backoff_ms"`
	EnqueuedAt  int64  `json:"enqueued_at"`

	// Attempt is the 1-based number of the current delivery attempt. It is
	// tracked by the broker and filled in on Claim.
	Attempt int `json:"-"`
}

// Final reports whether a failure of the current attempt exhausts the task.
func (t Task) Final() bool {
	return t.Attempt >= t.MaxAttempts
}

// Backoff is the wait before the next attempt after the current one failed:
// base * 2^(attempt-1).
func (t Task) Backoff() time.Duration {
	base := time.Duration(t.BackoffMS) * time.Millisecond
	if t.Attempt <= 1 {
		return base
	}
	shift := t.Attempt - 1
	if shift > 16 {
		shift = 16
	}
	return base << shift
}

// Options controls one enqueue. Zero fields fall back to the broker policy.
type Options struct {
	Delay       time.Duration
	MaxAttempts int
	BackoffBase time.Duration
}

// Policy is the standard retry policy of a broker.
type Policy struct {
	MaxAttempts int
	BackoffBase time.Duration
}

// DefaultPolicy retries a failed delivery twice, one and two minutes later.
var DefaultPolicy = Policy{MaxAttempts: 3, BackoffBase: time.Minute}

// Counts is a snapshot of one queue.
type Counts struct {
	Delayed int64
	Active  int64
	Failed  int64
	Paused  bool
}

// FailedEntry records a task that exhausted its attempts.
type FailedEntry struct {
	ID       string `json:"id"`
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
	FailedAt int64  `json:"failed_at"`
}
