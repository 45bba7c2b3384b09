// Package ports defines the interfaces through which the repository
// processing core talks to its persistence layer and to external
// collaborators (hexagonal architecture, mirroring the teacher's own
// internal/ports layout).
package ports

import (
	"context"
	"time"

	"github.com/repocore/repocore/internal/domain"
)

// WorkspaceManager owns the on-disk checkout lifecycle for one repository
// branch at a time: prepare, diff, language detection, and cleanup.
type WorkspaceManager interface {
	// Prepare ensures a checkout of branchName exists on disk for repo,
	// cloning or fetching as needed, and returns a handle describing it.
	// previousCommitID is the caller's last-known commit for this branch, or
	// empty on a first pass.
	Prepare(ctx context.Context, repo domain.Repository, branchName, previousCommitID string) (domain.Workspace, error)

	// Cleanup removes the working directory for ws; it is not gated on any
	// configuration setting. Idempotent; never returns an error.
	Cleanup(ctx context.Context, ws domain.Workspace)

	// ChangedFiles returns the changed paths between fromCommit and toCommit.
	// If fromCommit is empty or unknown locally, it returns every tracked
	// file at toCommit (a full rebuild).
	ChangedFiles(ctx context.Context, ws domain.Workspace, fromCommit, toCommit string) ([]string, error)

	// DetectPrimaryLanguage sums on-disk byte sizes by file extension and
	// returns the best-represented language, or empty if none matched.
	DetectPrimaryLanguage(ctx context.Context, ws domain.Workspace) (string, error)
}

// CredentialSource yields a credential for a repository, or ("", false) when
// it has none to offer.
type CredentialSource interface {
	Credential(ctx context.Context, repo domain.Repository) (token string, ok bool)
}

// PlatformApp resolves an installation token for an organization, consumed
// only as the second credential source.
type PlatformApp interface {
	// InstallationToken returns the token for organization org, or ok=false
	// if no installation record exists.
	InstallationToken(ctx context.Context, org string) (token string, ok bool)
}

// Generator is the consumed, LLM-driven document generator. The core
// supplies it with a workspace handle only and treats its internals as
// opaque.
type Generator interface {
	GenerateCatalog(ctx context.Context, ws domain.Workspace, language string) error
	GenerateDocuments(ctx context.Context, ws domain.Workspace, language string) error
	IncrementalUpdate(ctx context.Context, ws domain.Workspace, language string, changedFiles []string) error
}

// Notification is the payload handed to a Notifier on task completion.
type Notification struct {
	RepositoryID string
	BranchID     string
	TaskID       string
	Summary      string
}

// Notifier delivers best-effort notifications to subscribers. Failures here
// must never fail the task that triggered them.
type Notifier interface {
	NotifySubscribers(ctx context.Context, n Notification) error
}

// Store is the persistence port for every entity in the data model. All
// methods are ctx-first; mutation methods that participate in the
// optimistic-concurrency scheme return corerr.ErrConflict on a version
// mismatch.
type Store interface {
	RepositoryStore
	BranchStore
	BranchLanguageStore
	TaskStore
	LogStore
}

// RepositoryStore persists Repository entities.
type RepositoryStore interface {
	CreateRepository(ctx context.Context, repo domain.Repository) error
	GetRepository(ctx context.Context, id string) (domain.Repository, error)
	// FindRepositoryByRemote looks up a non-deleted repository by remote URL,
	// used to reject duplicate submissions.
	FindRepositoryByRemote(ctx context.Context, remoteURL string) (domain.Repository, error)
	// ListRepositoriesByStatus returns non-deleted repositories in the given
	// statuses, ordered by createdAt ascending.
	ListRepositoriesByStatus(ctx context.Context, statuses []domain.RepositoryStatus, limit int) ([]domain.Repository, error)
	// ListDueForUpdate returns up to limit Completed repositories whose
	// update interval has elapsed.
	ListDueForUpdate(ctx context.Context, now time.Time, defaultIntervalMinutes int, limit int) ([]domain.Repository, error)
	// UpdateRepository performs a compare-and-swap on repo.Version, bumping
	// the version on success and returning corerr.ErrConflict otherwise.
	UpdateRepository(ctx context.Context, repo domain.Repository) error
	SoftDeleteRepository(ctx context.Context, id string) error
}

// BranchStore persists RepositoryBranch entities.
type BranchStore interface {
	CreateBranch(ctx context.Context, branch domain.RepositoryBranch) error
	GetBranch(ctx context.Context, id string) (domain.RepositoryBranch, error)
	// ListBranches returns a repository's branches ordered by createdAt ascending.
	ListBranches(ctx context.Context, repositoryID string) ([]domain.RepositoryBranch, error)
	UpdateBranch(ctx context.Context, branch domain.RepositoryBranch) error
}

// BranchLanguageStore persists BranchLanguage entities.
type BranchLanguageStore interface {
	CreateBranchLanguage(ctx context.Context, bl domain.BranchLanguage) error
	// ListBranchLanguages returns a branch's languages in stored (creation) order.
	ListBranchLanguages(ctx context.Context, branchID string) ([]domain.BranchLanguage, error)
}

// TaskStore persists IncrementalUpdateTask entities.
type TaskStore interface {
	CreateTask(ctx context.Context, task domain.IncrementalUpdateTask) error
	GetTask(ctx context.Context, id string) (domain.IncrementalUpdateTask, error)
	// FindActiveTask returns the Pending or Processing task for (repositoryID,
	// branchID), if any.
	FindActiveTask(ctx context.Context, repositoryID, branchID string) (domain.IncrementalUpdateTask, bool, error)
	// ListPendingTasks returns all Pending tasks ordered by
	// (priority DESC, createdAt ASC).
	ListPendingTasks(ctx context.Context) ([]domain.IncrementalUpdateTask, error)
	// ListStaleProcessing returns tasks still Processing with startedAt older
	// than olderThan, for the startup sweep.
	ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]domain.IncrementalUpdateTask, error)
	// UpdateTask performs a compare-and-swap on task.Version.
	UpdateTask(ctx context.Context, task domain.IncrementalUpdateTask) error
}

// LogStore persists RepositoryProcessingLog entries.
type LogStore interface {
	// InsertLog opens its own store-level scope; a failure here never
	// poisons a caller's in-flight transaction.
	InsertLog(ctx context.Context, entry domain.ProcessingLogEntry) error
	// ListLogs returns up to limit of the newest entries for repositoryID,
	// optionally restricted to those created at or after since, in
	// chronological order.
	ListLogs(ctx context.Context, repositoryID string, since *time.Time, limit int) ([]domain.ProcessingLogEntry, error)
	ClearLogs(ctx context.Context, repositoryID string) error
}
