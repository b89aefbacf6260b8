package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"postpilot/internal/model"
)

// MemoryStore keeps projects, posts and accounts in process memory. It backs
// database.driver=memory and the package tests of the services.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]model.Project
	posts    map[string]model.Post
	accounts map[string]model.LinkedAccount
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[string]model.Project),
		posts:    make(map[string]model.Post),
		accounts: make(map[string]model.LinkedAccount),
		now:      time.Now,
	}
}

func (s *MemoryStore) Projects() ProjectInterface { return memoryProjects{s} }
func (s *MemoryStore) Posts() PostInterface       { return memoryPosts{s} }
func (s *MemoryStore) Accounts() AccountInterface { return memoryAccounts{s} }

type memoryProjects struct{ s *MemoryStore }

func (r memoryProjects) Create(ctx context.Context, project *model.Project) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	project.UpdatedAt = now
	if project.Status == "" {
		project.Status = model.ProjectStopped
	}
	r.s.projects[project.ID] = *project
	return nil
}

func (r memoryProjects) GetByID(ctx context.Context, id string) (*model.Project, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.projects[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r memoryProjects) filter(keep func(model.Project) bool) []model.Project {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []model.Project
	for _, p := range r.s.projects {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r memoryProjects) ListByUser(ctx context.Context, userID string) ([]model.Project, error) {
	out := r.filter(func(p model.Project) bool { return p.UserID == userID })
	slices.Reverse(out)
	return out, nil
}

func (r memoryProjects) ListByStatus(ctx context.Context, status model.ProjectStatus) ([]model.Project, error) {
	return r.filter(func(p model.Project) bool { return p.Status == status }), nil
}

func (r memoryProjects) ListRunningByAccount(ctx context.Context, userID, accountID, excludeID string) ([]model.Project, error) {
	return r.filter(func(p model.Project) bool {
		return p.ID != excludeID && p.UserID == userID && p.AccountID == accountID && p.Status == model.ProjectRunning
	}), nil
}

func (r memoryProjects) CountByAccount(ctx context.Context, accountID string, statuses ...model.ProjectStatus) (int64, error) {
	out := r.filter(func(p model.Project) bool {
		return p.AccountID == accountID && (len(statuses) == 0 || slices.Contains(statuses, p.Status))
	})
	return int64(len(out)), nil
}

func (r memoryProjects) CompareAndSetStatus(ctx context.Context, id string, to model.ProjectStatus, from ...model.ProjectStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.projects[id]
	if !ok || !slices.Contains(from, p.Status) {
		return false, nil
	}
	p.Status = to
	p.UpdatedAt = r.s.now()
	r.s.projects[id] = p
	return true, nil
}

func (r memoryProjects) DeleteCascade(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for pid, post := range r.s.posts {
		if post.ProjectID == id {
			delete(r.s.posts, pid)
		}
	}
	delete(r.s.projects, id)
	return nil
}

func (r memoryProjects) PingContext(ctx context.Context) error { return ctx.Err() }

type memoryPosts struct{ s *MemoryStore }

func (r memoryPosts) CreateBatch(ctx context.Context, posts []model.Post) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	for i := range posts {
		if posts[i].CreatedAt.IsZero() {
			posts[i].CreatedAt = now
		}
		posts[i].UpdatedAt = now
		if posts[i].Status == "" {
			posts[i].Status = model.PostPending
		}
		r.s.posts[posts[i].ID] = posts[i]
	}
	return nil
}

func (r memoryPosts) GetByID(ctx context.Context, id string) (*model.Post, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.posts[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r memoryPosts) filter(keep func(model.Post) bool) []model.Post {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []model.Post
	for _, p := range r.s.posts {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r memoryPosts) ListPending(ctx context.Context, projectID string) ([]model.Post, error) {
	return r.filter(func(p model.Post) bool {
		return p.ProjectID == projectID && p.Status == model.PostPending
	}), nil
}

func (r memoryPosts) ListByProject(ctx context.Context, projectID string) ([]model.Post, error) {
	out := r.filter(func(p model.Post) bool { return p.ProjectID == projectID })
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].ScheduledAt, out[j].ScheduledAt
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
	return out, nil
}

func (r memoryPosts) ListScheduled(ctx context.Context, projectID string) ([]model.Post, error) {
	out := r.filter(func(p model.Post) bool { return p.ProjectID == projectID && p.ScheduledAt != nil })
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	return out, nil
}

func (r memoryPosts) CountByStatus(ctx context.Context, projectID string, status model.PostStatus) (int64, error) {
	out := r.filter(func(p model.Post) bool { return p.ProjectID == projectID && p.Status == status })
	return int64(len(out)), nil
}

func (r memoryPosts) Stats(ctx context.Context, projectID string) (model.PostStats, error) {
	var stats model.PostStats
	for _, p := range r.filter(func(p model.Post) bool { return p.ProjectID == projectID }) {
		switch p.Status {
		case model.PostPending:
			stats.Pending++
		case model.PostPosted:
			stats.Posted++
		case model.PostFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (r memoryPosts) update(id string, fn func(*model.Post) bool) bool {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.posts[id]
	if !ok || !fn(&p) {
		return false
	}
	p.UpdatedAt = r.s.now()
	r.s.posts[id] = p
	return true
}

func (r memoryPosts) SetScheduledAt(ctx context.Context, id string, at time.Time) error {
	r.update(id, func(p *model.Post) bool {
		p.ScheduledAt = &at
		return true
	})
	return nil
}

func (r memoryPosts) ClearSchedule(ctx context.Context, projectID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, p := range r.s.posts {
		if p.ProjectID == projectID && p.Status == model.PostPending {
			p.ScheduledAt = nil
			r.s.posts[id] = p
			n++
		}
	}
	return n, nil
}

func (r memoryPosts) MarkPosted(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.update(id, func(p *model.Post) bool {
		if p.Status != model.PostPending {
			return false
		}
		p.Status = model.PostPosted
		p.PostedAt = &at
		p.FailureReason = ""
		p.Attempts++
		return true
	}), nil
}

func (r memoryPosts) RecordFailure(ctx context.Context, id, reason string, final bool) (bool, error) {
	return r.update(id, func(p *model.Post) bool {
		if p.Status != model.PostPending {
			return false
		}
		p.FailureReason = reason
		p.Attempts++
		if final {
			p.Status = model.PostFailed
		}
		return true
	}), nil
}

func (r memoryPosts) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	return r.update(id, func(p *model.Post) bool {
		if p.Status != model.PostPending {
			return false
		}
		p.Status = model.PostFailed
		p.FailureReason = reason
		return true
	}), nil
}

type memoryAccounts struct{ s *MemoryStore }

func (r memoryAccounts) Create(ctx context.Context, account *model.LinkedAccount) error {
	return r.Save(ctx, account)
}

func (r memoryAccounts) GetByID(ctx context.Context, id string) (*model.LinkedAccount, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r memoryAccounts) ListByUser(ctx context.Context, userID string) ([]model.LinkedAccount, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []model.LinkedAccount
	for _, a := range r.s.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memoryAccounts) Save(ctx context.Context, account *model.LinkedAccount) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	r.s.accounts[account.ID] = *account
	return nil
}

func (r memoryAccounts) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.accounts, id)
	return nil
}

func (r memoryAccounts) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a, ok := r.s.accounts[id]; ok {
		a.LastUsedAt = &at
		r.s.accounts[id] = a
	}
	return nil
}
