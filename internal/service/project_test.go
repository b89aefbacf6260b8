package service

import (
	"context"
	"strings"
	"testing"

	"postpilot/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProjectService(e *env) *ProjectService {
	return NewProjectService(e.store.Projects(), e.store.Posts(), e.store.Accounts(), e.broker, e.lifecycle)
}

func TestProjectService_Create(t *testing.T) {
	e := newEnv()
	e.account("acc1", "u1")
	e.account("acc2", "u2")
	svc := newProjectService(e)
	ctx := context.Background()

	project, err := svc.Create(ctx, "u1", CreateProjectInput{Name: "  Launch  ", AccountID: "acc1", TimeGapMinutes: 30})
	require.NoError(t, err)
	assert.NotEmpty(t, project.ID)
	assert.Equal(t, "Launch", project.Name)
	assert.Equal(t, model.ProjectStopped, project.Status)

	tests := []struct {
		name string
		in   CreateProjectInput
	}{
		{"missing name", CreateProjectInput{AccountID: "acc1", TimeGapMinutes: 5}},
		{"missing gap", CreateProjectInput{Name: "x", AccountID: "acc1"}},
		{"negative gap", CreateProjectInput{Name: "x", AccountID: "acc1", TimeGapMinutes: -1}},
		{"foreign account", CreateProjectInput{Name: "x", AccountID: "acc2", TimeGapMinutes: 5}},
		{"unknown account", CreateProjectInput{Name: "x", AccountID: "nope", TimeGapMinutes: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, "u1", tt.in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestProjectService_ListCategorizes(t *testing.T) {
	e := newEnv()
	e.account("acc1", "u1")
	e.project("running", "u1", "acc1", model.ProjectRunning)
	e.posts("running", "r1")
	e.project("paused", "u1", "acc1", model.ProjectPaused)
	e.project("waiting", "u1", "acc1", model.ProjectStopped)
	e.posts("waiting", "w1", "w2")
	e.project("done", "u1", "acc1", model.ProjectStopped)
	e.project("foreign", "u2", "acc1", model.ProjectRunning)
	ctx := context.Background()
	_, err := e.store.Posts().MarkPosted(ctx, "w2", t0)
	require.NoError(t, err)

	listing, err := newProjectService(e).List(ctx, "u1")
	require.NoError(t, err)

	ids := func(list []ProjectSummary) []string {
		var out []string
		for _, p := range list {
			out = append(out, p.ID)
		}
		return out
	}
	assert.ElementsMatch(t, []string{"running", "paused"}, ids(listing.Active))
	assert.Equal(t, []string{"waiting"}, ids(listing.PendingStopped))
	assert.Equal(t, []string{"done"}, ids(listing.Completed))
	assert.Equal(t, model.PostStats{Pending: 1, Posted: 1}, listing.PendingStopped[0].Stats)
}

func TestProjectService_Get(t *testing.T) {
	e := newEnv()
	e.account("acc1", "u1")
	e.project("p1", "u1", "acc1", model.ProjectStopped)
	e.posts("p1", "a", "b")
	svc := newProjectService(e)
	ctx := context.Background()

	_, err := e.lifecycle.Start(ctx, "p1", "u1")
	require.NoError(t, err)

	detail, err := svc.Get(ctx, "p1", "u1")
	require.NoError(t, err)
	assert.Equal(t, model.ProjectRunning, detail.Project.Status)
	require.Len(t, detail.Posts, 2)
	assert.Equal(t, "a", detail.Posts[0].ID)
	assert.Equal(t, int64(2), detail.Stats.Pending)

	_, err = svc.Get(ctx, "p1", "u2")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestProjectService_DeleteCascades(t *testing.T) {
	e := newEnv()
	e.account("acc1", "u1")
	e.project("p1", "u1", "acc1", model.ProjectStopped)
	e.posts("p1", "a", "b")
	svc := newProjectService(e)
	ctx := context.Background()

	_, err := e.lifecycle.Start(ctx, "p1", "u1")
	require.NoError(t, err)

	require.ErrorIs(t, svc.Delete(ctx, "p1", "u2"), ErrForbidden)
	require.NoError(t, svc.Delete(ctx, "p1", "u1"))

	assert.Equal(t, model.ProjectStatus(""), e.status("p1"))
	assert.Empty(t, e.post("a").ID)
	assert.False(t, e.workers.Active("p1"))
	assert.Empty(t, e.broker.Queue(model.QueueKey("p1")))

	assert.ErrorIs(t, svc.Delete(ctx, "p1", "u1"), ErrNotFound)
}

func TestProjectService_DeleteMany(t *testing.T) {
	e := newEnv()
	e.account("acc1", "u1")
	e.project("p1", "u1", "acc1", model.ProjectStopped)
	e.project("p2", "u1", "acc1", model.ProjectStopped)
	svc := newProjectService(e)
	ctx := context.Background()

	_, err := svc.DeleteMany(ctx, nil, "u1")
	assert.ErrorIs(t, err, ErrValidation)

	n, err := svc.DeleteMany(ctx, []string{"p1", "missing", "p2"}, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.ProjectStopped, e.status("p2"))
}

func TestPostService_BulkCreate(t *testing.T) {
	e := newEnv()
	e.account("acc1", "u1")
	e.project("p1", "u1", "acc1", model.ProjectStopped)
	svc := NewPostService(e.store.Posts(), e.lifecycle, 10)
	ctx := context.Background()

	posts, err := svc.BulkCreate(ctx, "p1", "u1", []string{"  one ", "two", "héllo"})
	require.NoError(t, err)
	require.Len(t, posts, 3)
	assert.Equal(t, "one", posts[0].Content)
	assert.True(t, posts[0].CreatedAt.Before(posts[1].CreatedAt))

	pending, err := e.store.Posts().ListPending(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []string{"one", "two", "héllo"}, []string{pending[0].Content, pending[1].Content, pending[2].Content})

	_, err = svc.BulkCreate(ctx, "p1", "u1", nil)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.BulkCreate(ctx, "p1", "u1", []string{"ok", "   "})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.BulkCreate(ctx, "p1", "u1", []string{strings.Repeat("x", 11)})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.BulkCreate(ctx, "p1", "u2", []string{"ok"})
	assert.ErrorIs(t, err, ErrForbidden)

	count, err := e.store.Posts().CountByStatus(ctx, "p1", model.PostPending)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count, "rejected batches must not be partially stored")
}

func TestPostService_Calendar(t *testing.T) {
	e := newEnv()
	e.account("acc1", "u1")
	e.project("p1", "u1", "acc1", model.ProjectStopped)
	e.posts("p1", "a", "b")
	svc := NewPostService(e.store.Posts(), e.lifecycle, 0)
	ctx := context.Background()

	posts, err := svc.Calendar(ctx, "p1", "u1")
	require.NoError(t, err)
	assert.Empty(t, posts)

	_, err = e.lifecycle.Start(ctx, "p1", "u1")
	require.NoError(t, err)

	posts, err = svc.Calendar(ctx, "p1", "u1")
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "a", posts[0].ID)
	assert.True(t, posts[1].ScheduledAt.After(*posts[0].ScheduledAt))
}
