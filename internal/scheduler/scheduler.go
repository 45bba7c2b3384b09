// Package scheduler implements the Incremental Update Scheduler: drains
// pending incremental-update tasks and emits new ones for repositories whose
// update interval has elapsed.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/repocore/repocore/internal/corerr"
	"github.com/repocore/repocore/internal/domain"
	"github.com/repocore/repocore/internal/incremental"
	"github.com/repocore/repocore/internal/ports"
)

// maxScheduledPerTick bounds how many due repositories are considered for
// scheduled-task emission in a single tick, per §4.4.
const maxScheduledPerTick = 10

// updateProcessor executes one incremental-update task end to end.
type updateProcessor interface {
	ProcessIncrementalUpdate(ctx context.Context, repoID, branchID string) (incremental.Result, error)
}

// Config holds the scheduler's tunables, sourced from configuration.
type Config struct {
	PollingInterval              time.Duration
	DefaultUpdateIntervalMinutes int
	ManualTriggerPriority        int
	StartupSweepAge              time.Duration
}

// Scheduler is the Incremental Update Scheduler background service.
type Scheduler struct {
	store     ports.Store
	processor updateProcessor
	cfg       Config
}

// New creates a Scheduler.
func New(store ports.Store, processor updateProcessor, cfg Config) *Scheduler {
	return &Scheduler{store: store, processor: processor, cfg: cfg}
}

// Run performs a startup sweep, then drives tick on a cron schedule (every
// cfg.PollingInterval) until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.startupSweep(ctx); err != nil {
		log.Error("startup sweep failed", "error", err)
	}

	if err := s.tick(ctx); err != nil && ctx.Err() == nil {
		log.Error("scheduler tick failed", "error", err)
	}

	sched := cron.New()

	if _, err := sched.AddFunc(fmt.Sprintf("@every %s", s.cfg.PollingInterval), func() {
		if err := s.tick(ctx); err != nil && ctx.Err() == nil {
			log.Error("scheduler tick failed", "error", err)
		}
	}); err != nil {
		return err
	}

	sched.Start()
	defer sched.Stop()

	<-ctx.Done()

	return nil
}

// startupSweep resets tasks stuck in Processing from a previous instance's
// crash back to Pending, per §9's REDESIGN FLAG decision (see DESIGN.md).
func (s *Scheduler) startupSweep(ctx context.Context) error {
	if s.cfg.StartupSweepAge <= 0 {
		return nil
	}

	stale, err := s.store.ListStaleProcessing(ctx, time.Now().Add(-s.cfg.StartupSweepAge))
	if err != nil {
		return err
	}

	for _, task := range stale {
		task.Status = domain.TaskPending
		task.StartedAt = nil

		if err := s.store.UpdateTask(ctx, task); err != nil {
			log.Error("startup sweep failed to reset task", "task_id", task.ID, "error", err)
		}
	}

	return nil
}

func (s *Scheduler) tick(ctx context.Context) error {
	if err := s.drainTasks(ctx); err != nil {
		return err
	}

	return s.emitScheduledTasks(ctx)
}

// drainTasks processes every Pending task in (priority DESC, createdAt ASC)
// order. ports.Store.ListPendingTasks is responsible for that ordering.
func (s *Scheduler) drainTasks(ctx context.Context) error {
	tasks, err := s.store.ListPendingTasks(ctx)
	if err != nil {
		return err
	}

	for _, task := range tasks {
		if ctx.Err() != nil {
			return nil
		}

		s.drainOne(ctx, task)
	}

	return nil
}

func (s *Scheduler) drainOne(ctx context.Context, task domain.IncrementalUpdateTask) {
	task.Status = domain.TaskProcessing
	now := time.Now()
	task.StartedAt = &now

	if err := s.store.UpdateTask(ctx, task); err != nil {
		log.Error("mark task processing failed", "task_id", task.ID, "error", err)
		return
	}

	task.Version++

	result, err := s.processor.ProcessIncrementalUpdate(ctx, task.RepositoryID, task.BranchID)

	if isCancellation(err) {
		// Leave the row as Processing. See §9: the next instance observes
		// the inconsistency; there is no automatic recovery in the source.
		return
	}

	completedAt := time.Now()
	task.CompletedAt = &completedAt

	if err != nil {
		task.Status = domain.TaskFailed
		task.ErrorMessage = err.Error()
		task.RetryCount++
	} else {
		task.Status = domain.TaskCompleted
		branch, branchErr := s.store.GetBranch(ctx, task.BranchID)
		if branchErr == nil {
			task.TargetCommitID = branch.LastCommitID
		}

		log.Info("incremental update task completed", "task_id", task.ID, "languages_processed", result.LanguagesProcessed, "duration", result.Duration)
	}

	if err := s.store.UpdateTask(ctx, task); err != nil {
		log.Error("finalize task failed", "task_id", task.ID, "error", err)
	}
}

func isCancellation(err error) bool {
	ce, ok := err.(*corerr.CoreError)
	return ok && ce.Code == corerr.ErrCancellation
}

// emitScheduledTasks creates Pending tasks for repositories whose update
// interval has elapsed, skipping any (repo, branch) pair that already has an
// active task.
func (s *Scheduler) emitScheduledTasks(ctx context.Context) error {
	due, err := s.store.ListDueForUpdate(ctx, time.Now(), s.cfg.DefaultUpdateIntervalMinutes, maxScheduledPerTick)
	if err != nil {
		return err
	}

	for _, repo := range due {
		if ctx.Err() != nil {
			return nil
		}

		if err := s.emitForRepository(ctx, repo); err != nil {
			log.Error("emit scheduled tasks failed for repository", "repository_id", repo.ID, "error", err)
		}
	}

	return nil
}

func (s *Scheduler) emitForRepository(ctx context.Context, repo domain.Repository) error {
	branches, err := s.store.ListBranches(ctx, repo.ID)
	if err != nil {
		return err
	}

	for _, branch := range branches {
		_, active, err := s.store.FindActiveTask(ctx, repo.ID, branch.ID)
		if err != nil {
			return err
		}

		if active {
			continue
		}

		task := domain.IncrementalUpdateTask{
			ID:               newTaskID(),
			RepositoryID:     repo.ID,
			BranchID:         branch.ID,
			PreviousCommitID: branch.LastCommitID,
			Status:           domain.TaskPending,
			Priority:         0,
			IsManualTrigger:  false,
			CreatedAt:        time.Now(),
		}

		if err := s.store.CreateTask(ctx, task); err != nil {
			return err
		}
	}

	repo.LastUpdateCheckAt = timePtr(time.Now())

	return s.store.UpdateRepository(ctx, repo)
}

// TriggerManualUpdate returns the id of the existing active task for
// (repoId, branchId) if one exists, otherwise creates one at
// cfg.ManualTriggerPriority.
func (s *Scheduler) TriggerManualUpdate(ctx context.Context, repoID, branchID string) (string, error) {
	existing, active, err := s.store.FindActiveTask(ctx, repoID, branchID)
	if err != nil {
		return "", err
	}

	if active {
		return existing.ID, nil
	}

	branch, err := s.store.GetBranch(ctx, branchID)
	if err != nil {
		return "", err
	}

	task := domain.IncrementalUpdateTask{
		ID:               newTaskID(),
		RepositoryID:     repoID,
		BranchID:         branchID,
		PreviousCommitID: branch.LastCommitID,
		Status:           domain.TaskPending,
		Priority:         s.cfg.ManualTriggerPriority,
		IsManualTrigger:  true,
		CreatedAt:        time.Now(),
	}

	if err := s.store.CreateTask(ctx, task); err != nil {
		return "", err
	}

	return task.ID, nil
}

func timePtr(t time.Time) *time.Time { return &t }

func newTaskID() string { return uuid.NewString() }
