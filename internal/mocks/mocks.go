// Package mocks provides hand-written test doubles for the core's ports,
// following the recording-mock style used throughout this codebase: each
// mock records its calls and lets a test pre-configure return values or
// errors.
package mocks

import (
	"context"
	"time"

	"github.com/repocore/repocore/internal/corerr"
	"github.com/repocore/repocore/internal/domain"
	"github.com/repocore/repocore/internal/ports"
)

// Store is an in-memory ports.Store double. Create one with NewStore; the
// zero value's maps are nil, so writes to it panic.
type Store struct {
	Repositories map[string]domain.Repository
	Branches     map[string]domain.RepositoryBranch
	Languages    map[string][]domain.BranchLanguage
	Tasks        map[string]domain.IncrementalUpdateTask
	Logs         map[string][]domain.ProcessingLogEntry

	// Err, when set, is returned by every call instead of its normal result.
	Err error
}

// NewStore creates an empty Store double.
func NewStore() *Store {
	return &Store{
		Repositories: map[string]domain.Repository{},
		Branches:     map[string]domain.RepositoryBranch{},
		Languages:    map[string][]domain.BranchLanguage{},
		Tasks:        map[string]domain.IncrementalUpdateTask{},
		Logs:         map[string][]domain.ProcessingLogEntry{},
	}
}

func (s *Store) CreateRepository(_ context.Context, repo domain.Repository) error {
	if s.Err != nil {
		return s.Err
	}

	s.Repositories[repo.ID] = repo

	return nil
}

func (s *Store) GetRepository(_ context.Context, id string) (domain.Repository, error) {
	if s.Err != nil {
		return domain.Repository{}, s.Err
	}

	repo, ok := s.Repositories[id]
	if !ok {
		return domain.Repository{}, &notFoundError{"repository", id}
	}

	return repo, nil
}

func (s *Store) FindRepositoryByRemote(_ context.Context, remoteURL string) (domain.Repository, error) {
	if s.Err != nil {
		return domain.Repository{}, s.Err
	}

	for _, repo := range s.Repositories {
		if repo.RemoteURL == remoteURL && !repo.IsDeleted() {
			return repo, nil
		}
	}

	return domain.Repository{}, &notFoundError{"repository", remoteURL}
}

func (s *Store) ListRepositoriesByStatus(_ context.Context, statuses []domain.RepositoryStatus, limit int) ([]domain.Repository, error) {
	if s.Err != nil {
		return nil, s.Err
	}

	want := map[domain.RepositoryStatus]bool{}
	for _, st := range statuses {
		want[st] = true
	}

	var out []domain.Repository

	for _, repo := range s.Repositories {
		if want[repo.Status] && !repo.IsDeleted() {
			out = append(out, repo)
		}
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (s *Store) ListDueForUpdate(_ context.Context, now time.Time, defaultIntervalMinutes, limit int) ([]domain.Repository, error) {
	if s.Err != nil {
		return nil, s.Err
	}

	var out []domain.Repository

	for _, repo := range s.Repositories {
		if repo.Status != domain.RepositoryCompleted || repo.IsDeleted() {
			continue
		}

		if repo.LastUpdateCheckAt == nil {
			out = append(out, repo)
			continue
		}

		due := repo.LastUpdateCheckAt.Add(repo.EffectiveUpdateInterval(defaultIntervalMinutes))
		if !due.After(now) {
			out = append(out, repo)
		}
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (s *Store) UpdateRepository(_ context.Context, repo domain.Repository) error {
	if s.Err != nil {
		return s.Err
	}

	existing, ok := s.Repositories[repo.ID]
	if ok && existing.Version != repo.Version {
		return corerr.NewConflict("repository", repo.ID)
	}

	repo.Version++
	s.Repositories[repo.ID] = repo

	return nil
}

func (s *Store) SoftDeleteRepository(_ context.Context, id string) error {
	if s.Err != nil {
		return s.Err
	}

	repo, ok := s.Repositories[id]
	if !ok {
		return &notFoundError{"repository", id}
	}

	now := time.Now()
	repo.DeletedAt = &now
	s.Repositories[id] = repo

	return nil
}

func (s *Store) CreateBranch(_ context.Context, branch domain.RepositoryBranch) error {
	if s.Err != nil {
		return s.Err
	}

	s.Branches[branch.ID] = branch

	return nil
}

func (s *Store) GetBranch(_ context.Context, id string) (domain.RepositoryBranch, error) {
	if s.Err != nil {
		return domain.RepositoryBranch{}, s.Err
	}

	branch, ok := s.Branches[id]
	if !ok {
		return domain.RepositoryBranch{}, &notFoundError{"branch", id}
	}

	return branch, nil
}

func (s *Store) ListBranches(_ context.Context, repositoryID string) ([]domain.RepositoryBranch, error) {
	if s.Err != nil {
		return nil, s.Err
	}

	var out []domain.RepositoryBranch

	for _, b := range s.Branches {
		if b.RepositoryID == repositoryID {
			out = append(out, b)
		}
	}

	return out, nil
}

func (s *Store) UpdateBranch(_ context.Context, branch domain.RepositoryBranch) error {
	if s.Err != nil {
		return s.Err
	}

	s.Branches[branch.ID] = branch

	return nil
}

func (s *Store) CreateBranchLanguage(_ context.Context, bl domain.BranchLanguage) error {
	if s.Err != nil {
		return s.Err
	}

	s.Languages[bl.BranchID] = append(s.Languages[bl.BranchID], bl)

	return nil
}

func (s *Store) ListBranchLanguages(_ context.Context, branchID string) ([]domain.BranchLanguage, error) {
	if s.Err != nil {
		return nil, s.Err
	}

	return s.Languages[branchID], nil
}

func (s *Store) CreateTask(_ context.Context, task domain.IncrementalUpdateTask) error {
	if s.Err != nil {
		return s.Err
	}

	s.Tasks[task.ID] = task

	return nil
}

func (s *Store) GetTask(_ context.Context, id string) (domain.IncrementalUpdateTask, error) {
	if s.Err != nil {
		return domain.IncrementalUpdateTask{}, s.Err
	}

	task, ok := s.Tasks[id]
	if !ok {
		return domain.IncrementalUpdateTask{}, &notFoundError{"task", id}
	}

	return task, nil
}

func (s *Store) FindActiveTask(_ context.Context, repositoryID, branchID string) (domain.IncrementalUpdateTask, bool, error) {
	if s.Err != nil {
		return domain.IncrementalUpdateTask{}, false, s.Err
	}

	for _, t := range s.Tasks {
		if t.RepositoryID == repositoryID && t.BranchID == branchID &&
			(t.Status == domain.TaskPending || t.Status == domain.TaskProcessing) {
			return t, true, nil
		}
	}

	return domain.IncrementalUpdateTask{}, false, nil
}

func (s *Store) ListPendingTasks(_ context.Context) ([]domain.IncrementalUpdateTask, error) {
	if s.Err != nil {
		return nil, s.Err
	}

	var out []domain.IncrementalUpdateTask

	for _, t := range s.Tasks {
		if t.Status == domain.TaskPending {
			out = append(out, t)
		}
	}

	return out, nil
}

func (s *Store) ListStaleProcessing(_ context.Context, olderThan time.Time) ([]domain.IncrementalUpdateTask, error) {
	if s.Err != nil {
		return nil, s.Err
	}

	var out []domain.IncrementalUpdateTask

	for _, t := range s.Tasks {
		if t.Status == domain.TaskProcessing && t.StartedAt != nil && t.StartedAt.Before(olderThan) {
			out = append(out, t)
		}
	}

	return out, nil
}

func (s *Store) UpdateTask(_ context.Context, task domain.IncrementalUpdateTask) error {
	if s.Err != nil {
		return s.Err
	}

	existing, ok := s.Tasks[task.ID]
	if ok && existing.Version != task.Version {
		return corerr.NewConflict("task", task.ID)
	}

	task.Version++
	s.Tasks[task.ID] = task

	return nil
}

func (s *Store) InsertLog(_ context.Context, entry domain.ProcessingLogEntry) error {
	if s.Err != nil {
		return s.Err
	}

	s.Logs[entry.RepositoryID] = append(s.Logs[entry.RepositoryID], entry)

	return nil
}

func (s *Store) ListLogs(_ context.Context, repositoryID string, since *time.Time, limit int) ([]domain.ProcessingLogEntry, error) {
	if s.Err != nil {
		return nil, s.Err
	}

	all := s.Logs[repositoryID]

	var filtered []domain.ProcessingLogEntry

	for _, e := range all {
		if since == nil || !e.CreatedAt.Before(*since) {
			filtered = append(filtered, e)
		}
	}

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}

	return filtered, nil
}

func (s *Store) ClearLogs(_ context.Context, repositoryID string) error {
	if s.Err != nil {
		return s.Err
	}

	delete(s.Logs, repositoryID)

	return nil
}

type notFoundError struct {
	kind string
	id   string
}

func (e *notFoundError) Error() string { return e.kind + " not found: " + e.id }

// Workspace is a ports.WorkspaceManager double.
type Workspace struct {
	PrepareFunc      func(ctx context.Context, repo domain.Repository, branchName, previousCommitID string) (domain.Workspace, error)
	ChangedFilesFunc func(ctx context.Context, ws domain.Workspace, from, to string) ([]string, error)
	LanguageFunc     func(ctx context.Context, ws domain.Workspace) (string, error)

	CleanupCalls []domain.Workspace
}

func (w *Workspace) Prepare(ctx context.Context, repo domain.Repository, branchName, previousCommitID string) (domain.Workspace, error) {
	return w.PrepareFunc(ctx, repo, branchName, previousCommitID)
}

func (w *Workspace) Cleanup(_ context.Context, ws domain.Workspace) {
	w.CleanupCalls = append(w.CleanupCalls, ws)
}

func (w *Workspace) ChangedFiles(ctx context.Context, ws domain.Workspace, from, to string) ([]string, error) {
	return w.ChangedFilesFunc(ctx, ws, from, to)
}

func (w *Workspace) DetectPrimaryLanguage(ctx context.Context, ws domain.Workspace) (string, error) {
	if w.LanguageFunc == nil {
		return "", nil
	}

	return w.LanguageFunc(ctx, ws)
}

// Generator is a ports.Generator double.
type Generator struct {
	GenerateCatalogFunc   func(ctx context.Context, ws domain.Workspace, language string) error
	GenerateDocumentsFunc func(ctx context.Context, ws domain.Workspace, language string) error
	IncrementalFunc       func(ctx context.Context, ws domain.Workspace, language string, changedFiles []string) error

	CatalogCalls    []string
	DocumentCalls   []string
	IncrementalCalls []string
}

func (g *Generator) GenerateCatalog(ctx context.Context, ws domain.Workspace, language string) error {
	g.CatalogCalls = append(g.CatalogCalls, language)

	if g.GenerateCatalogFunc == nil {
		return nil
	}

	return g.GenerateCatalogFunc(ctx, ws, language)
}

func (g *Generator) GenerateDocuments(ctx context.Context, ws domain.Workspace, language string) error {
	g.DocumentCalls = append(g.DocumentCalls, language)

	if g.GenerateDocumentsFunc == nil {
		return nil
	}

	return g.GenerateDocumentsFunc(ctx, ws, language)
}

func (g *Generator) IncrementalUpdate(ctx context.Context, ws domain.Workspace, language string, changedFiles []string) error {
	g.IncrementalCalls = append(g.IncrementalCalls, language)

	if g.IncrementalFunc == nil {
		return nil
	}

	return g.IncrementalFunc(ctx, ws, language, changedFiles)
}

// Notifier is a ports.Notifier double.
type Notifier struct {
	Err   error
	Calls []ports.Notification
}

func (n *Notifier) NotifySubscribers(_ context.Context, notification ports.Notification) error {
	n.Calls = append(n.Calls, notification)

	return n.Err
}

// PlatformApp is a ports.PlatformApp double.
type PlatformApp struct {
	Token string
	OK    bool
}

func (p PlatformApp) InstallationToken(context.Context, string) (string, bool) {
	return p.Token, p.OK
}
