// Package incremental executes one incremental-update task end to end:
// diff commits, ask the generator to patch affected documents, notify
// subscribers.
package incremental

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/repocore/repocore/internal/corerr"
	"github.com/repocore/repocore/internal/domain"
	"github.com/repocore/repocore/internal/ports"
)

// RetryConfig is the workspace-preparation retry policy used inside the
// Incremental Update Service. It is deliberately distinct from
// gitx.FixedRetryConfig (used by the Workspace Manager's own clone/fetch):
// this one backs off exponentially and inspects the failure message for
// corruption keywords to force a fresh clone before the next attempt.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryConfig mirrors §6's MaxRetryAttempts and RetryBaseDelayMs.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 1 * time.Second}
}

// corruptionKeywords trigger a forced cleanup before the next retry attempt.
var corruptionKeywords = []string{"corrupt", "invalid", "not a git repository", "bad object", "broken"}

func looksCorrupt(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, kw := range corruptionKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}

	return false
}

// Service executes incremental-update tasks.
type Service struct {
	store     ports.Store
	workspace ports.WorkspaceManager
	generator ports.Generator
	notifier  ports.Notifier
	logs      logger
	retry     RetryConfig
}

type logger interface {
	Log(ctx context.Context, repoID string, step domain.ProcessingStep, message string, aiFlag bool, toolName string) error
}

// New creates a Service.
func New(store ports.Store, workspace ports.WorkspaceManager, generator ports.Generator, notifier ports.Notifier, logs logger, retry RetryConfig) *Service {
	return &Service{store: store, workspace: workspace, generator: generator, notifier: notifier, logs: logs, retry: retry}
}

// Check is the result of checkForUpdates.
type Check struct {
	NeedsUpdate   bool
	Previous      string
	Current       string
	ChangedFiles  []string
	Workspace     domain.Workspace
	Repository    domain.Repository
	Branch        domain.RepositoryBranch
}

// CheckForUpdates loads the repository and branch, prepares the workspace
// with retry, and reports whether a new commit is available.
func (s *Service) CheckForUpdates(ctx context.Context, repoID, branchID string) (Check, error) {
	repo, err := s.store.GetRepository(ctx, repoID)
	if err != nil {
		return Check{}, err
	}

	branch, err := s.store.GetBranch(ctx, branchID)
	if err != nil {
		return Check{}, err
	}

	ws, err := s.prepareWithRetry(ctx, repo, branch)
	if err != nil {
		return Check{}, err
	}

	if ws.PreviousCommitID != "" && ws.PreviousCommitID == ws.CurrentCommitID {
		return Check{NeedsUpdate: false, Previous: ws.PreviousCommitID, Current: ws.CurrentCommitID, Workspace: ws, Repository: repo, Branch: branch}, nil
	}

	changed, err := s.workspace.ChangedFiles(ctx, ws, ws.PreviousCommitID, ws.CurrentCommitID)
	if err != nil {
		return Check{}, err
	}

	return Check{
		NeedsUpdate:  true,
		Previous:     ws.PreviousCommitID,
		Current:      ws.CurrentCommitID,
		ChangedFiles: changed,
		Workspace:    ws,
		Repository:   repo,
		Branch:       branch,
	}, nil
}

// prepareWithRetry is the exponential-backoff, corruption-aware nested retry
// policy from §4.5: up to MaxAttempts tries, forcing cleanup between
// attempts when the failure looks like workspace corruption, with delay
// baseDelay * 2^(attempt-1).
func (s *Service) prepareWithRetry(ctx context.Context, repo domain.Repository, branch domain.RepositoryBranch) (domain.Workspace, error) {
	maxAttempts := s.retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.Workspace{}, corerr.NewCancellation("prepare workspace")
		}

		ws, err := s.workspace.Prepare(ctx, repo, branch.Name, branch.LastCommitID)
		if err == nil {
			return ws, nil
		}

		lastErr = err

		if looksCorrupt(err) {
			s.workspace.Cleanup(ctx, domain.Workspace{Path: corruptPath(err)})
		}

		if attempt < maxAttempts {
			delay := time.Duration(float64(s.retry.BaseDelay) * math.Pow(2, float64(attempt-1)))

			log.Warn("workspace preparation failed, retrying", "attempt", attempt, "max_attempts", maxAttempts, "delay", delay, "error", err)

			select {
			case <-ctx.Done():
				return domain.Workspace{}, corerr.NewCancellation("prepare workspace")
			case <-time.After(delay):
			}
		}
	}

	return domain.Workspace{}, lastErr
}

// corruptPath recovers the on-disk path a corruption error refers to from
// its CoreError context. Returns "" when the error carries none, in which
// case Cleanup is a safe no-op rather than guessing a path to remove.
func corruptPath(err error) string {
	var ce *corerr.CoreError
	if errors.As(err, &ce) {
		return ce.Context["path"]
	}

	return ""
}

// Result is the outcome of processIncrementalUpdate.
type Result struct {
	Updated            bool
	LanguagesProcessed int
	Duration           time.Duration
}

// ProcessIncrementalUpdate runs CheckForUpdates; if no update is needed it
// returns a zero-count success. Otherwise it calls the generator's
// incrementalUpdate for every BranchLanguage sequentially, advances the
// branch and repository bookkeeping, and notifies subscribers best effort.
func (s *Service) ProcessIncrementalUpdate(ctx context.Context, repoID, branchID string) (Result, error) {
	start := time.Now()

	check, err := s.CheckForUpdates(ctx, repoID, branchID)
	if err != nil {
		return Result{}, err
	}

	if !check.NeedsUpdate {
		return Result{Updated: false, Duration: time.Since(start)}, nil
	}

	if s.logs != nil {
		_ = s.logs.Log(ctx, repoID, domain.StepContent, "incremental update starting", false, "")
	}

	languages, err := s.store.ListBranchLanguages(ctx, branchID)
	if err != nil {
		return Result{}, err
	}

	for _, lang := range languages {
		if err := ctx.Err(); err != nil {
			return Result{}, corerr.NewCancellation("process incremental update")
		}

		if err := s.generator.IncrementalUpdate(ctx, check.Workspace, lang.Language, check.ChangedFiles); err != nil {
			return Result{}, corerr.NewGeneratorFailure(repoID, err)
		}
	}

	if s.logs != nil {
		_ = s.logs.Log(ctx, repoID, domain.StepComplete, "incremental update finished", false, "")
	}

	now := time.Now()
	check.Branch.LastCommitID = check.Current
	check.Branch.LastProcessedAt = &now

	if err := s.store.UpdateBranch(ctx, check.Branch); err != nil {
		return Result{}, err
	}

	check.Repository.LastUpdateCheckAt = &now
	if err := s.retryUpdateRepository(ctx, check.Repository); err != nil {
		return Result{}, err
	}

	if s.notifier != nil {
		if nErr := s.notifier.NotifySubscribers(ctx, ports.Notification{
			RepositoryID: repoID,
			BranchID:     branchID,
			Summary:      "incremental update completed",
		}); nErr != nil {
			log.Warn("notify subscribers failed", "repository_id", repoID, "error", nErr)
		}
	}

	return Result{Updated: true, LanguagesProcessed: len(languages), Duration: time.Since(start)}, nil
}

// retryUpdateRepository refetches and retries once on a version conflict,
// per §9's note that optimistic-concurrency callers refetch at the call
// site rather than inside the store.
func (s *Service) retryUpdateRepository(ctx context.Context, repo domain.Repository) error {
	err := s.store.UpdateRepository(ctx, repo)
	if err == nil {
		return nil
	}

	var ce *corerr.CoreError
	if !asConflict(err, &ce) {
		return err
	}

	fresh, getErr := s.store.GetRepository(ctx, repo.ID)
	if getErr != nil {
		return getErr
	}

	fresh.LastUpdateCheckAt = repo.LastUpdateCheckAt
	fresh.Status = repo.Status
	fresh.PrimaryLanguage = repo.PrimaryLanguage

	return s.store.UpdateRepository(ctx, fresh)
}

func asConflict(err error, target **corerr.CoreError) bool {
	ce, ok := err.(*corerr.CoreError)
	if !ok || ce.Code != corerr.ErrConflict {
		return false
	}

	*target = ce

	return true
}
