package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/repocore/repocore/internal/domain"
	"github.com/repocore/repocore/internal/mocks"
	"github.com/repocore/repocore/internal/processinglog"
)

func seedPendingRepo(store *mocks.Store) (domain.Repository, domain.RepositoryBranch) {
	repo := domain.Repository{ID: "repo-1", Name: "widgets", Status: domain.RepositoryPending, Version: 1}
	branch := domain.RepositoryBranch{ID: "branch-1", RepositoryID: repo.ID, Name: "main"}

	store.Repositories[repo.ID] = repo
	store.Branches[branch.ID] = branch
	store.Languages[branch.ID] = []domain.BranchLanguage{{BranchID: branch.ID, Language: "en"}}

	return repo, branch
}

func TestProcessRepositoryFullPassCompletes(t *testing.T) {
	store := mocks.NewStore()
	repo, branch := seedPendingRepo(store)

	ws := &mocks.Workspace{
		PrepareFunc: func(context.Context, domain.Repository, string, string) (domain.Workspace, error) {
			return domain.Workspace{CurrentCommitID: "f00ba12", PreviousCommitID: ""}, nil
		},
		LanguageFunc: func(context.Context, domain.Workspace) (string, error) {
			return "TypeScript", nil
		},
	}
	gen := &mocks.Generator{}
	logs := processinglog.New(store)

	w := New(store, ws, gen, logs)

	w.processRepository(context.Background(), repo)

	got := store.Repositories[repo.ID]
	require.Equal(t, domain.RepositoryCompleted, got.Status)
	require.Equal(t, "TypeScript", got.PrimaryLanguage)
	require.Equal(t, "f00ba12", store.Branches[branch.ID].LastCommitID)
	require.ElementsMatch(t, []string{"en"}, gen.CatalogCalls)
	require.ElementsMatch(t, []string{"en"}, gen.DocumentCalls)
	require.Empty(t, gen.IncrementalCalls)
	require.Len(t, ws.CleanupCalls, 1)
}

func TestProcessRepositoryIncrementalModeCallsIncrementalUpdate(t *testing.T) {
	store := mocks.NewStore()
	repo, branch := seedPendingRepo(store)
	store.Branches[branch.ID] = domain.RepositoryBranch{ID: branch.ID, RepositoryID: repo.ID, Name: "main", LastCommitID: "old-commit"}

	ws := &mocks.Workspace{
		PrepareFunc: func(context.Context, domain.Repository, string, string) (domain.Workspace, error) {
			return domain.Workspace{CurrentCommitID: "new-commit", PreviousCommitID: "old-commit"}, nil
		},
		ChangedFilesFunc: func(context.Context, domain.Workspace, string, string) ([]string, error) {
			return []string{"src/a.ts", "src/b.ts"}, nil
		},
	}
	gen := &mocks.Generator{}
	logs := processinglog.New(store)

	repo.PrimaryLanguage = "TypeScript"
	store.Repositories[repo.ID] = repo

	w := New(store, ws, gen, logs)
	w.processRepository(context.Background(), repo)

	require.Equal(t, domain.RepositoryCompleted, store.Repositories[repo.ID].Status)
	require.Equal(t, "new-commit", store.Branches[branch.ID].LastCommitID)
	require.ElementsMatch(t, []string{"en"}, gen.IncrementalCalls)
	require.Empty(t, gen.CatalogCalls)
}

func TestProcessRepositoryGeneratorFailureMarksFailed(t *testing.T) {
	store := mocks.NewStore()
	repo, _ := seedPendingRepo(store)

	ws := &mocks.Workspace{
		PrepareFunc: func(context.Context, domain.Repository, string, string) (domain.Workspace, error) {
			return domain.Workspace{CurrentCommitID: "f00ba12"}, nil
		},
		LanguageFunc: func(context.Context, domain.Workspace) (string, error) {
			return "Go", nil
		},
	}
	gen := &mocks.Generator{
		GenerateCatalogFunc: func(context.Context, domain.Workspace, string) error {
			return errors.New("generator exploded")
		},
	}
	logs := processinglog.New(store)

	w := New(store, ws, gen, logs)
	w.processRepository(context.Background(), repo)

	require.Equal(t, domain.RepositoryFailed, store.Repositories[repo.ID].Status)
}

func TestProcessRepositoryCancellationResetsToPending(t *testing.T) {
	store := mocks.NewStore()
	repo, _ := seedPendingRepo(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ws := &mocks.Workspace{
		PrepareFunc: func(context.Context, domain.Repository, string, string) (domain.Workspace, error) {
			return domain.Workspace{CurrentCommitID: "f00ba12"}, nil
		},
		LanguageFunc: func(context.Context, domain.Workspace) (string, error) {
			return "Go", nil
		},
	}
	gen := &mocks.Generator{
		GenerateCatalogFunc: func(context.Context, domain.Workspace, string) error {
			return nil
		},
	}
	logs := processinglog.New(store)

	w := New(store, ws, gen, logs)
	w.processRepository(ctx, repo)

	require.Equal(t, domain.RepositoryPending, store.Repositories[repo.ID].Status)
}
