// Package worker implements the Processing Worker: the long-running service
// that drains repositories in Pending/Processing and drives each to a
// terminal status.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"github.com/repocore/repocore/internal/corerr"
	"github.com/repocore/repocore/internal/domain"
	"github.com/repocore/repocore/internal/ports"
)

// PollingInterval is the fixed interval at which the worker scans for work,
// per §4.3.
const PollingInterval = 30 * time.Second

// Worker drains and processes one repository at a time.
type Worker struct {
	store     ports.Store
	workspace ports.WorkspaceManager
	generator ports.Generator
	logs      logService
}

type logService interface {
	Log(ctx context.Context, repoID string, step domain.ProcessingStep, message string, aiFlag bool, toolName string) error
	ClearLogs(ctx context.Context, repoID string) error
}

// New creates a Worker.
func New(store ports.Store, workspace ports.WorkspaceManager, generator ports.Generator, logs logService) *Worker {
	return &Worker{store: store, workspace: workspace, generator: generator, logs: logs}
}

// Run drives tick on a cron schedule (every PollingInterval) until ctx is
// cancelled, plus one immediate pass at startup so a freshly submitted
// repository doesn't wait a full interval before being picked up.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.tick(ctx); err != nil && ctx.Err() == nil {
		log.Error("processing worker tick failed", "error", err)
	}

	sched := cron.New()

	if _, err := sched.AddFunc(everySpec(PollingInterval), func() {
		if err := w.tick(ctx); err != nil && ctx.Err() == nil {
			log.Error("processing worker tick failed", "error", err)
		}
	}); err != nil {
		return err
	}

	sched.Start()
	defer sched.Stop()

	<-ctx.Done()

	return nil
}

// everySpec renders d as a robfig/cron "@every" descriptor.
func everySpec(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}

// tick drains every Pending or Processing repository, oldest first.
func (w *Worker) tick(ctx context.Context) error {
	repos, err := w.store.ListRepositoriesByStatus(ctx, []domain.RepositoryStatus{domain.RepositoryPending, domain.RepositoryProcessing}, 0)
	if err != nil {
		return err
	}

	for _, repo := range repos {
		if ctx.Err() != nil {
			return nil
		}

		w.processRepository(ctx, repo)
	}

	return nil
}

// processRepository runs the per-repository sequence from §4.3. Any error
// (other than cancellation) fails the repository; cancellation resets it to
// Pending so another pass can retake it.
func (w *Worker) processRepository(ctx context.Context, repo domain.Repository) {
	if err := w.logs.ClearLogs(ctx, repo.ID); err != nil {
		log.Error("clear logs failed", "repository_id", repo.ID, "error", err)
	}

	repo.Status = domain.RepositoryProcessing

	if err := w.store.UpdateRepository(ctx, repo); err != nil {
		log.Error("transition to processing failed", "repository_id", repo.ID, "error", err)
		return
	}

	repo.Version++

	err := w.runBranches(ctx, &repo)

	switch {
	case err == nil:
		repo.Status = domain.RepositoryCompleted
	case isCancellation(err):
		repo.Status = domain.RepositoryPending
	default:
		repo.Status = domain.RepositoryFailed
		_ = w.logs.Log(ctx, repo.ID, domain.StepComplete, err.Error(), false, "")
	}

	if updateErr := w.store.UpdateRepository(ctx, repo); updateErr != nil {
		log.Error("final repository status update failed", "repository_id", repo.ID, "error", updateErr)
	}
}

func isCancellation(err error) bool {
	ce, ok := err.(*corerr.CoreError)
	return ok && ce.Code == corerr.ErrCancellation
}

// runBranches iterates the repository's branches in createdAt order and
// drives each through prepare, language detection, and generation.
func (w *Worker) runBranches(ctx context.Context, repo *domain.Repository) error {
	branches, err := w.store.ListBranches(ctx, repo.ID)
	if err != nil {
		return err
	}

	for _, branch := range branches {
		if ctx.Err() != nil {
			return corerr.NewCancellation("process repository")
		}

		if err := w.runBranch(ctx, repo, branch); err != nil {
			return err
		}
	}

	return nil
}

func (w *Worker) runBranch(ctx context.Context, repo *domain.Repository, branch domain.RepositoryBranch) error {
	_ = w.logs.Log(ctx, repo.ID, domain.StepWorkspace, "preparing", false, "")

	ws, err := w.workspace.Prepare(ctx, *repo, branch.Name, branch.LastCommitID)
	if err != nil {
		return err
	}

	defer w.workspace.Cleanup(ctx, ws)

	_ = w.logs.Log(ctx, repo.ID, domain.StepWorkspace, "ready commit "+ws.CurrentCommitID, false, "")

	if repo.PrimaryLanguage == "" {
		lang, langErr := w.workspace.DetectPrimaryLanguage(ctx, ws)
		if langErr != nil {
			return langErr
		}

		repo.PrimaryLanguage = lang
		_ = w.logs.Log(ctx, repo.ID, domain.StepWorkspace, "detected primary programming language: "+lang, false, "")
	}

	languages, err := w.store.ListBranchLanguages(ctx, branch.ID)
	if err != nil {
		return err
	}

	if ws.IsIncremental() {
		if err := w.runIncremental(ctx, repo, ws, languages); err != nil {
			return err
		}
	} else if err := w.runFull(ctx, repo, ws, languages); err != nil {
		return err
	}

	branch.LastCommitID = ws.CurrentCommitID
	now := time.Now()
	branch.LastProcessedAt = &now

	if err := w.store.UpdateBranch(ctx, branch); err != nil {
		return err
	}

	_ = w.logs.Log(ctx, repo.ID, domain.StepComplete, "branch "+branch.Name+" complete", false, "")

	return nil
}

func (w *Worker) runFull(ctx context.Context, repo *domain.Repository, ws domain.Workspace, languages []domain.BranchLanguage) error {
	for _, lang := range languages {
		if ctx.Err() != nil {
			return corerr.NewCancellation("generate full pass")
		}

		_ = w.logs.Log(ctx, repo.ID, domain.StepCatalog, "generating catalog for "+lang.Language, false, "")

		if err := w.generator.GenerateCatalog(ctx, ws, lang.Language); err != nil {
			return corerr.NewGeneratorFailure(repo.ID, err)
		}

		_ = w.logs.Log(ctx, repo.ID, domain.StepContent, "generating documents for "+lang.Language, false, "")

		if err := w.generator.GenerateDocuments(ctx, ws, lang.Language); err != nil {
			return corerr.NewGeneratorFailure(repo.ID, err)
		}
	}

	return nil
}

func (w *Worker) runIncremental(ctx context.Context, repo *domain.Repository, ws domain.Workspace, languages []domain.BranchLanguage) error {
	changed, err := w.workspace.ChangedFiles(ctx, ws, ws.PreviousCommitID, ws.CurrentCommitID)
	if err != nil {
		return err
	}

	for _, lang := range languages {
		if ctx.Err() != nil {
			return corerr.NewCancellation("generate incremental pass")
		}

		_ = w.logs.Log(ctx, repo.ID, domain.StepContent, "incremental update for "+lang.Language, false, "")

		if err := w.generator.IncrementalUpdate(ctx, ws, lang.Language, changed); err != nil {
			return corerr.NewGeneratorFailure(repo.ID, err)
		}
	}

	return nil
}
