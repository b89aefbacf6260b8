package scheduler

import (
	"sort"
	"time"

	"postpilot/internal/model"
)

// Slot is the delivery assignment of one post.
type Slot struct {
	Post  model.Post
	Delay time.Duration
	At    time.Time
}

// Gap converts a project's cadence to a duration.
func Gap(minutes int) time.Duration {
	return time.Duration(minutes) * time.Minute
}

// Plan assigns the i-th post (by creation time, then id) a delay of i*gap
// from now. The input slice is left untouched.
func Plan(posts []model.Post, gap time.Duration, now time.Time) []Slot {
	if gap < 0 {
		gap = 0
	}
	ordered := make([]model.Post, len(posts))
	copy(ordered, posts)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	slots := make([]Slot, len(ordered))
	for i, p := range ordered {
		delay := time.Duration(i) * gap
		slots[i] = Slot{Post: p, Delay: delay, At: now.Add(delay)}
	}
	return slots
}
