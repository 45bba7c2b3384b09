package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/repocore/repocore/internal/corerr"
	"github.com/repocore/repocore/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "repocore.db"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func newRepo(id, remoteURL string, status domain.RepositoryStatus, createdAt time.Time) domain.Repository {
	return domain.Repository{
		ID:        id,
		OwnerID:   "owner-1",
		RemoteURL: remoteURL,
		Name:      id,
		Status:    status,
		Version:   1,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestCreateAndGetRepository(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	repo := newRepo("repo-1", "https://github.com/acme/widgets.git", domain.RepositoryPending, time.Now())
	require.NoError(t, s.CreateRepository(ctx, repo))

	got, err := s.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	require.Equal(t, repo.RemoteURL, got.RemoteURL)
	require.Equal(t, domain.RepositoryPending, got.Status)
	require.Equal(t, int64(1), got.Version)
}

func TestUpdateRepositoryDetectsConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	repo := newRepo("repo-1", "https://github.com/acme/widgets.git", domain.RepositoryPending, time.Now())
	require.NoError(t, s.CreateRepository(ctx, repo))

	repo.Status = domain.RepositoryProcessing
	require.NoError(t, s.UpdateRepository(ctx, repo))

	// repo.Version is still 1 (the struct was never refreshed from the
	// store), so this second update against the now-stale version must be
	// rejected as a conflict rather than silently overwriting.
	repo.Status = domain.RepositoryCompleted
	err := s.UpdateRepository(ctx, repo)
	require.Error(t, err)

	var ce *corerr.CoreError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, corerr.ErrConflict, ce.Code)

	// The first update's effect stuck; the second never applied.
	got, err := s.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RepositoryProcessing, got.Status)
	require.Equal(t, int64(2), got.Version)
}

func TestUpdateTaskDetectsConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	repo := newRepo("repo-1", "https://github.com/acme/widgets.git", domain.RepositoryCompleted, time.Now())
	require.NoError(t, s.CreateRepository(ctx, repo))

	branch := domain.RepositoryBranch{ID: "branch-1", RepositoryID: repo.ID, Name: "main", CreatedAt: time.Now()}
	require.NoError(t, s.CreateBranch(ctx, branch))

	task := domain.IncrementalUpdateTask{
		ID: "task-1", RepositoryID: repo.ID, BranchID: branch.ID,
		Status: domain.TaskPending, Version: 1, CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateTask(ctx, task))

	task.Status = domain.TaskProcessing
	require.NoError(t, s.UpdateTask(ctx, task))

	task.Status = domain.TaskCompleted
	err := s.UpdateTask(ctx, task)
	require.Error(t, err)

	var ce *corerr.CoreError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, corerr.ErrConflict, ce.Code)
}

func TestListRepositoriesByStatusOrderingAndUnboundedLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	repos := []domain.Repository{
		newRepo("repo-3", "https://github.com/acme/three.git", domain.RepositoryPending, base.Add(2*time.Minute)),
		newRepo("repo-1", "https://github.com/acme/one.git", domain.RepositoryPending, base),
		newRepo("repo-2", "https://github.com/acme/two.git", domain.RepositoryPending, base.Add(time.Minute)),
	}

	for _, r := range repos {
		require.NoError(t, s.CreateRepository(ctx, r))
	}

	// A Completed repository must never show up in a Pending/Processing scan.
	completed := newRepo("repo-done", "https://github.com/acme/done.git", domain.RepositoryCompleted, base)
	require.NoError(t, s.CreateRepository(ctx, completed))

	got, err := s.ListRepositoriesByStatus(ctx, []domain.RepositoryStatus{domain.RepositoryPending}, 0)
	require.NoError(t, err)
	require.Len(t, got, 3, "limit=0 must mean unbounded, not zero rows")
	require.Equal(t, []string{"repo-1", "repo-2", "repo-3"}, []string{got[0].ID, got[1].ID, got[2].ID})

	limited, err := s.ListRepositoriesByStatus(ctx, []domain.RepositoryStatus{domain.RepositoryPending}, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, "repo-1", limited[0].ID)
}

func TestListPendingTasksOrdersByPriorityThenCreatedAt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	repo := newRepo("repo-1", "https://github.com/acme/widgets.git", domain.RepositoryCompleted, time.Now())
	require.NoError(t, s.CreateRepository(ctx, repo))

	branch := domain.RepositoryBranch{ID: "branch-1", RepositoryID: repo.ID, Name: "main", CreatedAt: time.Now()}
	require.NoError(t, s.CreateBranch(ctx, branch))

	base := time.Now().Add(-time.Hour)
	tasks := []domain.IncrementalUpdateTask{
		{ID: "task-low-early", RepositoryID: repo.ID, BranchID: branch.ID, Status: domain.TaskPending, Priority: 0, Version: 1, CreatedAt: base},
		{ID: "task-high", RepositoryID: repo.ID, BranchID: branch.ID, Status: domain.TaskPending, Priority: 10, Version: 1, CreatedAt: base.Add(time.Minute)},
		{ID: "task-low-late", RepositoryID: repo.ID, BranchID: branch.ID, Status: domain.TaskPending, Priority: 0, Version: 1, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "task-completed", RepositoryID: repo.ID, BranchID: branch.ID, Status: domain.TaskCompleted, Priority: 99, Version: 1, CreatedAt: base},
	}

	for _, tk := range tasks {
		require.NoError(t, s.CreateTask(ctx, tk))
	}

	got, err := s.ListPendingTasks(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3, "a Completed task must not be returned as pending")

	ids := []string{got[0].ID, got[1].ID, got[2].ID}
	require.Equal(t, []string{"task-high", "task-low-early", "task-low-late"}, ids)
}

func TestFindRepositoryByRemoteNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.FindRepositoryByRemote(ctx, "https://github.com/acme/nonexistent.git")
	require.Error(t, err)
	require.True(t, errors.Is(err, corerr.ErrNoRows))
}

func TestFindRepositoryByRemoteIgnoresSoftDeleted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	repo := newRepo("repo-1", "https://github.com/acme/widgets.git", domain.RepositoryCompleted, time.Now())
	require.NoError(t, s.CreateRepository(ctx, repo))
	require.NoError(t, s.SoftDeleteRepository(ctx, repo.ID))

	_, err := s.FindRepositoryByRemote(ctx, repo.RemoteURL)
	require.Error(t, err)
	require.True(t, errors.Is(err, corerr.ErrNoRows))
}
