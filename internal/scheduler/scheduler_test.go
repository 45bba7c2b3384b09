package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/repocore/repocore/internal/domain"
	"github.com/repocore/repocore/internal/incremental"
	"github.com/repocore/repocore/internal/mocks"
)

func newTestScheduler(store *mocks.Store, ws *mocks.Workspace, gen *mocks.Generator) *Scheduler {
	svc := incremental.New(store, ws, gen, &mocks.Notifier{}, nil, incremental.DefaultRetryConfig())

	return New(store, svc, Config{
		PollingInterval:              time.Minute,
		DefaultUpdateIntervalMinutes: 60,
		ManualTriggerPriority:        100,
	})
}

func seedCompletedRepo(store *mocks.Store) (domain.Repository, domain.RepositoryBranch) {
	repo := domain.Repository{ID: "repo-1", Name: "widgets", Status: domain.RepositoryCompleted, Version: 1}
	branch := domain.RepositoryBranch{ID: "branch-1", RepositoryID: repo.ID, Name: "main", LastCommitID: "f00ba12"}

	store.Repositories[repo.ID] = repo
	store.Branches[branch.ID] = branch

	return repo, branch
}

func TestEmitScheduledTasksCreatesPendingTask(t *testing.T) {
	store := mocks.NewStore()
	repo, branch := seedCompletedRepo(store)

	sched := newTestScheduler(store, &mocks.Workspace{}, &mocks.Generator{})

	require.NoError(t, sched.emitScheduledTasks(context.Background()))

	tasks, err := store.ListPendingTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, branch.ID, tasks[0].BranchID)
	require.Equal(t, branch.LastCommitID, tasks[0].PreviousCommitID)
	require.Equal(t, 0, tasks[0].Priority)
	require.False(t, tasks[0].IsManualTrigger)
	require.NotNil(t, store.Repositories[repo.ID].LastUpdateCheckAt)
}

func TestEmitScheduledTasksSkipsWhenActiveTaskExists(t *testing.T) {
	store := mocks.NewStore()
	_, branch := seedCompletedRepo(store)
	store.Tasks["existing"] = domain.IncrementalUpdateTask{ID: "existing", RepositoryID: "repo-1", BranchID: branch.ID, Status: domain.TaskPending}

	sched := newTestScheduler(store, &mocks.Workspace{}, &mocks.Generator{})

	require.NoError(t, sched.emitScheduledTasks(context.Background()))

	tasks, err := store.ListPendingTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "existing", tasks[0].ID)
}

func TestTriggerManualUpdateOutranksScheduled(t *testing.T) {
	store := mocks.NewStore()
	_, branch := seedCompletedRepo(store)
	store.Tasks["scheduled"] = domain.IncrementalUpdateTask{ID: "scheduled", RepositoryID: "repo-1", BranchID: "branch-2", Status: domain.TaskPending, Priority: 0, CreatedAt: time.Unix(0, 0)}

	sched := newTestScheduler(store, &mocks.Workspace{}, &mocks.Generator{})

	manualID, err := sched.TriggerManualUpdate(context.Background(), "repo-1", branch.ID)
	require.NoError(t, err)

	tasks, err := store.ListPendingTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	var manual, scheduled domain.IncrementalUpdateTask
	for _, task := range tasks {
		if task.ID == manualID {
			manual = task
		} else {
			scheduled = task
		}
	}

	require.Equal(t, 100, manual.Priority)
	require.True(t, manual.Priority > scheduled.Priority)
}

func TestTriggerManualUpdateReturnsExistingActiveTask(t *testing.T) {
	store := mocks.NewStore()
	_, branch := seedCompletedRepo(store)
	store.Tasks["existing"] = domain.IncrementalUpdateTask{ID: "existing", RepositoryID: "repo-1", BranchID: branch.ID, Status: domain.TaskProcessing}

	sched := newTestScheduler(store, &mocks.Workspace{}, &mocks.Generator{})

	id, err := sched.TriggerManualUpdate(context.Background(), "repo-1", branch.ID)
	require.NoError(t, err)
	require.Equal(t, "existing", id)
}

func TestDrainTasksCompletesAndAdvancesCommit(t *testing.T) {
	store := mocks.NewStore()
	_, branch := seedCompletedRepo(store)
	store.Languages[branch.ID] = []domain.BranchLanguage{{BranchID: branch.ID, Language: "en"}}
	store.Tasks["t1"] = domain.IncrementalUpdateTask{ID: "t1", RepositoryID: "repo-1", BranchID: branch.ID, Status: domain.TaskPending, PreviousCommitID: "f00ba12"}

	ws := &mocks.Workspace{
		PrepareFunc: func(context.Context, domain.Repository, string, string) (domain.Workspace, error) {
			return domain.Workspace{CurrentCommitID: "new-head", PreviousCommitID: "f00ba12"}, nil
		},
		ChangedFilesFunc: func(context.Context, domain.Workspace, string, string) ([]string, error) {
			return []string{"src/a.ts"}, nil
		},
	}

	sched := newTestScheduler(store, ws, &mocks.Generator{})

	require.NoError(t, sched.drainTasks(context.Background()))

	got := store.Tasks["t1"]
	require.Equal(t, domain.TaskCompleted, got.Status)
	require.Equal(t, "new-head", got.TargetCommitID)
}

func TestStartupSweepResetsStaleProcessingTasks(t *testing.T) {
	store := mocks.NewStore()
	old := time.Now().Add(-time.Hour)
	store.Tasks["stuck"] = domain.IncrementalUpdateTask{ID: "stuck", Status: domain.TaskProcessing, StartedAt: &old}

	sched := newTestScheduler(store, &mocks.Workspace{}, &mocks.Generator{})
	sched.cfg.StartupSweepAge = 30 * time.Minute

	require.NoError(t, sched.startupSweep(context.Background()))

	require.Equal(t, domain.TaskPending, store.Tasks["stuck"].Status)
	require.Nil(t, store.Tasks["stuck"].StartedAt)
}
