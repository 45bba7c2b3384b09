// Package domain contains the core entities of the repository processing core.
//
// Domain types are pure data with no external dependencies, making them safe to use
// across all layers of the architecture: the store, the background services, and the
// HTTP surface all share these definitions.
package domain

import "time"

// RepositoryStatus is the lifecycle state of a Repository.
type RepositoryStatus string

// Repository statuses.
const (
	RepositoryPending    RepositoryStatus = "pending"
	RepositoryProcessing RepositoryStatus = "processing"
	RepositoryCompleted  RepositoryStatus = "completed"
	RepositoryFailed     RepositoryStatus = "failed"
)

// Repository is a remote Git repository registered by an owner.
type Repository struct {
	ID                    string
	OwnerID               string
	RemoteURL             string
	Organization          string
	Name                  string
	IsPrivate             bool
	AccountName           string // per-repo credential account, empty if none
	AccountSecret         string // per-repo credential secret, empty if none
	Status                RepositoryStatus
	PrimaryLanguage       string // empty when undetected
	LastUpdateCheckAt     *time.Time
	UpdateIntervalMinutes *int // nil means use the configured default
	Version               int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
	DeletedAt             *time.Time
}

// IsDeleted reports whether the repository has been soft-deleted.
func (r Repository) IsDeleted() bool {
	return r.DeletedAt != nil
}

// EffectiveUpdateInterval returns the repository's configured interval, or the
// supplied default when none was set.
func (r Repository) EffectiveUpdateInterval(defaultMinutes int) time.Duration {
	if r.UpdateIntervalMinutes == nil {
		return time.Duration(defaultMinutes) * time.Minute
	}

	return time.Duration(*r.UpdateIntervalMinutes) * time.Minute
}

// RepositoryBranch is one tracked branch of a Repository.
type RepositoryBranch struct {
	ID              string
	RepositoryID    string
	Name            string
	LastCommitID    string // empty means never processed
	LastProcessedAt *time.Time
	CreatedAt       time.Time
}

// HasBeenProcessed reports whether this branch has completed at least one pass.
func (b RepositoryBranch) HasBeenProcessed() bool {
	return b.LastCommitID != ""
}

// BranchLanguage is a (branch, natural-language) pair for which documents exist.
type BranchLanguage struct {
	ID        string
	BranchID  string
	Language  string
	IsDefault bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TaskStatus is the lifecycle state of an IncrementalUpdateTask.
type TaskStatus string

// Task statuses.
const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// IncrementalUpdateTask is a unit of deferred incremental-update work.
type IncrementalUpdateTask struct {
	ID               string
	RepositoryID     string
	BranchID         string
	PreviousCommitID string // snapshot at creation time
	TargetCommitID   string // filled on completion
	Status           TaskStatus
	Priority         int
	IsManualTrigger  bool
	RetryCount       int
	ErrorMessage     string
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	Version          int64
}

// ProcessingStep tags a RepositoryProcessingLog entry with a coarse phase.
type ProcessingStep string

// Processing steps, in the order a full pass visits them.
const (
	StepWorkspace ProcessingStep = "workspace"
	StepCatalog   ProcessingStep = "catalog"
	StepContent   ProcessingStep = "content"
	StepComplete  ProcessingStep = "complete"
)

// ProcessingLogEntry is one append-only log line for a repository's processing run.
type ProcessingLogEntry struct {
	ID           string         `json:"id"`
	RepositoryID string         `json:"repositoryId"`
	Step         ProcessingStep `json:"step"`
	Message      string         `json:"message"`
	IsAIOutput   bool           `json:"isAiOutput"`
	ToolName     string         `json:"toolName,omitempty"` // empty when not tool-attributed
	CreatedAt    time.Time      `json:"createdAt"`
}

// Workspace is the transient, non-persisted handle returned by the workspace
// manager for a single prepared checkout.
type Workspace struct {
	Organization     string
	Name             string
	BranchName       string
	RemoteURL        string
	Path             string
	CurrentCommitID  string
	PreviousCommitID string
}

// IsIncremental reports whether this workspace represents an incremental pass
// (a prior commit exists and differs from the current HEAD).
func (w Workspace) IsIncremental() bool {
	return w.PreviousCommitID != "" && w.PreviousCommitID != w.CurrentCommitID
}
