package incremental

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/repocore/repocore/internal/corerr"
	"github.com/repocore/repocore/internal/domain"
	"github.com/repocore/repocore/internal/mocks"
	"github.com/repocore/repocore/internal/ports"
)

func seedRepoAndBranch(store *mocks.Store) (domain.Repository, domain.RepositoryBranch) {
	repo := domain.Repository{ID: "repo-1", Name: "widgets", Status: domain.RepositoryCompleted, Version: 1}
	branch := domain.RepositoryBranch{ID: "branch-1", RepositoryID: repo.ID, Name: "main", LastCommitID: "commit-a"}

	store.Repositories[repo.ID] = repo
	store.Branches[branch.ID] = branch

	return repo, branch
}

func TestCheckForUpdatesNoChange(t *testing.T) {
	store := mocks.NewStore()
	repo, branch := seedRepoAndBranch(store)

	ws := &mocks.Workspace{
		PrepareFunc: func(context.Context, domain.Repository, string, string) (domain.Workspace, error) {
			return domain.Workspace{CurrentCommitID: "commit-a", PreviousCommitID: "commit-a"}, nil
		},
	}

	svc := New(store, ws, &mocks.Generator{}, &mocks.Notifier{}, nil, DefaultRetryConfig())

	check, err := svc.CheckForUpdates(context.Background(), repo.ID, branch.ID)
	require.NoError(t, err)
	require.False(t, check.NeedsUpdate)
}

func TestCheckForUpdatesNeedsUpdate(t *testing.T) {
	store := mocks.NewStore()
	repo, branch := seedRepoAndBranch(store)

	ws := &mocks.Workspace{
		PrepareFunc: func(context.Context, domain.Repository, string, string) (domain.Workspace, error) {
			return domain.Workspace{CurrentCommitID: "commit-b", PreviousCommitID: "commit-a"}, nil
		},
		ChangedFilesFunc: func(context.Context, domain.Workspace, string, string) ([]string, error) {
			return []string{"main.go"}, nil
		},
	}

	svc := New(store, ws, &mocks.Generator{}, &mocks.Notifier{}, nil, DefaultRetryConfig())

	check, err := svc.CheckForUpdates(context.Background(), repo.ID, branch.ID)
	require.NoError(t, err)
	require.True(t, check.NeedsUpdate)
	require.Equal(t, []string{"main.go"}, check.ChangedFiles)
}

func TestProcessIncrementalUpdateRunsGeneratorPerLanguage(t *testing.T) {
	store := mocks.NewStore()
	repo, branch := seedRepoAndBranch(store)
	store.Languages[branch.ID] = []domain.BranchLanguage{{BranchID: branch.ID, Language: "en"}, {BranchID: branch.ID, Language: "fr"}}

	ws := &mocks.Workspace{
		PrepareFunc: func(context.Context, domain.Repository, string, string) (domain.Workspace, error) {
			return domain.Workspace{CurrentCommitID: "commit-b", PreviousCommitID: "commit-a"}, nil
		},
		ChangedFilesFunc: func(context.Context, domain.Workspace, string, string) ([]string, error) {
			return []string{"main.go"}, nil
		},
	}
	gen := &mocks.Generator{}
	notifier := &mocks.Notifier{}

	svc := New(store, ws, gen, notifier, nil, DefaultRetryConfig())

	result, err := svc.ProcessIncrementalUpdate(context.Background(), repo.ID, branch.ID)
	require.NoError(t, err)
	require.True(t, result.Updated)
	require.Equal(t, 2, result.LanguagesProcessed)
	require.ElementsMatch(t, []string{"en", "fr"}, gen.IncrementalCalls)
	require.Equal(t, "commit-b", store.Branches[branch.ID].LastCommitID)
	require.Len(t, notifier.Calls, 1)
}

func TestProcessIncrementalUpdateNotifierFailureIsNonFatal(t *testing.T) {
	store := mocks.NewStore()
	repo, branch := seedRepoAndBranch(store)
	store.Languages[branch.ID] = []domain.BranchLanguage{{BranchID: branch.ID, Language: "en"}}

	ws := &mocks.Workspace{
		PrepareFunc: func(context.Context, domain.Repository, string, string) (domain.Workspace, error) {
			return domain.Workspace{CurrentCommitID: "commit-b", PreviousCommitID: "commit-a"}, nil
		},
		ChangedFilesFunc: func(context.Context, domain.Workspace, string, string) ([]string, error) {
			return []string{"main.go"}, nil
		},
	}
	notifier := &mocks.Notifier{Err: errors.New("webhook down")}

	svc := New(store, ws, &mocks.Generator{}, notifier, nil, DefaultRetryConfig())

	result, err := svc.ProcessIncrementalUpdate(context.Background(), repo.ID, branch.ID)
	require.NoError(t, err)
	require.True(t, result.Updated)
}

func TestPrepareWithRetryForcesCleanupOnCorruption(t *testing.T) {
	store := mocks.NewStore()
	repo, branch := seedRepoAndBranch(store)

	const corruptPath = "/workspaces/acme/widgets/main"

	attempts := 0
	ws := &mocks.Workspace{
		PrepareFunc: func(context.Context, domain.Repository, string, string) (domain.Workspace, error) {
			attempts++
			if attempts == 1 {
				return domain.Workspace{}, corerr.NewWorkspaceCorrupt(corruptPath, errors.New("repository is corrupt"))
			}

			return domain.Workspace{CurrentCommitID: "commit-a", PreviousCommitID: "commit-a"}, nil
		},
	}

	svc := New(store, ws, &mocks.Generator{}, &mocks.Notifier{}, nil, RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond})

	_, err := svc.CheckForUpdates(context.Background(), repo.ID, branch.ID)
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
	require.Len(t, ws.CleanupCalls, 1)
	require.Equal(t, corruptPath, ws.CleanupCalls[0].Path)
}

func TestPrepareWithRetryExhaustsAttempts(t *testing.T) {
	store := mocks.NewStore()
	repo, branch := seedRepoAndBranch(store)

	ws := &mocks.Workspace{
		PrepareFunc: func(context.Context, domain.Repository, string, string) (domain.Workspace, error) {
			return domain.Workspace{}, errors.New("connection reset")
		},
	}

	svc := New(store, ws, &mocks.Generator{}, &mocks.Notifier{}, nil, RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond})

	_, err := svc.CheckForUpdates(context.Background(), repo.ID, branch.ID)
	require.Error(t, err)
}

// conflictOnceStore wraps mocks.Store and fails the first UpdateRepository
// call with a version conflict, simulating a concurrent writer winning the
// race between CheckForUpdates's read and ProcessIncrementalUpdate's write.
type conflictOnceStore struct {
	*mocks.Store
	failed bool
}

func (s *conflictOnceStore) UpdateRepository(ctx context.Context, repo domain.Repository) error {
	if !s.failed {
		s.failed = true

		bumped := s.Repositories[repo.ID]
		bumped.Version++
		s.Repositories[repo.ID] = bumped

		return corerr.NewConflict("repository", repo.ID)
	}

	return s.Store.UpdateRepository(ctx, repo)
}

func TestProcessIncrementalUpdateRetriesOnVersionConflict(t *testing.T) {
	inner := mocks.NewStore()
	repo, branch := seedRepoAndBranch(inner)
	inner.Languages[branch.ID] = []domain.BranchLanguage{{BranchID: branch.ID, Language: "en"}}

	store := &conflictOnceStore{Store: inner}

	ws := &mocks.Workspace{
		PrepareFunc: func(context.Context, domain.Repository, string, string) (domain.Workspace, error) {
			return domain.Workspace{CurrentCommitID: "commit-b", PreviousCommitID: "commit-a"}, nil
		},
		ChangedFilesFunc: func(context.Context, domain.Workspace, string, string) ([]string, error) {
			return []string{"main.go"}, nil
		},
	}

	svc := New(store, ws, &mocks.Generator{}, &mocks.Notifier{}, nil, DefaultRetryConfig())

	result, err := svc.ProcessIncrementalUpdate(context.Background(), repo.ID, branch.ID)
	require.NoError(t, err)
	require.True(t, result.Updated)

	var _ ports.Store = store
}
