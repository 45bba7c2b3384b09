// Package store is the SQLite-backed implementation of ports.Store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no cgo

	"github.com/repocore/repocore/internal/corerr"
	"github.com/repocore/repocore/internal/domain"
	"github.com/repocore/repocore/internal/ports"
)

// Compile-time check that Store implements ports.Store.
var _ ports.Store = (*Store)(nil)

// Store persists the repository processing core's entities in a SQLite
// database opened through database/sql.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, corerr.NewIOFailed("open database", err)
	}

	// SQLite allows only one writer; keep a single connection so busy-database
	// errors turn into ordinary lock waits instead of driver-level failures.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, corerr.NewIOFailed("apply schema", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}

func nullableTime(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}

	t := n.Time
	return &t
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullableInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}

	v := int(n.Int64)
	return &v
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}

	return 0
}

// --- Repository ---

// CreateRepository inserts a new repository row.
func (s *Store) CreateRepository(ctx context.Context, repo domain.Repository) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories
			(id, owner_id, remote_url, organization, name, is_private, account_name, account_secret,
			 status, primary_language, last_update_check_at, update_interval_minutes, version,
			 created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		repo.ID, repo.OwnerID, repo.RemoteURL, repo.Organization, repo.Name, boolToInt(repo.IsPrivate),
		repo.AccountName, repo.AccountSecret, string(repo.Status), repo.PrimaryLanguage,
		nullTime(repo.LastUpdateCheckAt), nullInt(repo.UpdateIntervalMinutes), repo.Version,
		repo.CreatedAt, repo.UpdatedAt, nullTime(repo.DeletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return corerr.ErrDuplicateSubmission
		}

		return corerr.NewIOFailed("create repository", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces UNIQUE constraint failures as a plain error
	// string; there is no typed sentinel to match against.
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") || strings.Contains(err.Error(), "constraint failed"))
}

const repositoryColumns = `id, owner_id, remote_url, organization, name, is_private, account_name, account_secret,
	status, primary_language, last_update_check_at, update_interval_minutes, version, created_at, updated_at, deleted_at`

func scanRepository(row interface{ Scan(dest ...any) error }) (domain.Repository, error) {
	var (
		r          domain.Repository
		isPrivate  int64
		status     string
		lastCheck  sql.NullTime
		interval   sql.NullInt64
		deletedAt  sql.NullTime
	)

	if err := row.Scan(
		&r.ID, &r.OwnerID, &r.RemoteURL, &r.Organization, &r.Name, &isPrivate, &r.AccountName, &r.AccountSecret,
		&status, &r.PrimaryLanguage, &lastCheck, &interval, &r.Version, &r.CreatedAt, &r.UpdatedAt, &deletedAt,
	); err != nil {
		return domain.Repository{}, err
	}

	r.IsPrivate = isPrivate != 0
	r.Status = domain.RepositoryStatus(status)
	r.LastUpdateCheckAt = nullableTime(lastCheck)
	r.UpdateIntervalMinutes = nullableInt(interval)
	r.DeletedAt = nullableTime(deletedAt)

	return r, nil
}

// GetRepository loads a repository by id, including soft-deleted ones.
func (s *Store) GetRepository(ctx context.Context, id string) (domain.Repository, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+repositoryColumns+` FROM repositories WHERE id = ?`, id)

	r, err := scanRepository(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Repository{}, corerr.NewNotFound("repository", id)
		}

		return domain.Repository{}, corerr.NewIOFailed("get repository", err)
	}

	return r, nil
}

// FindRepositoryByRemote looks up a non-deleted repository by remote URL.
func (s *Store) FindRepositoryByRemote(ctx context.Context, remoteURL string) (domain.Repository, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE remote_url = ? AND deleted_at IS NULL`, remoteURL)

	r, err := scanRepository(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Repository{}, corerr.ErrNoRows
		}

		return domain.Repository{}, corerr.NewIOFailed("find repository by remote", err)
	}

	return r, nil
}

// ListRepositoriesByStatus returns non-deleted repositories in the given
// statuses, ordered by createdAt ascending.
func (s *Store) ListRepositoriesByStatus(ctx context.Context, statuses []domain.RepositoryStatus, limit int) ([]domain.Repository, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := ""
	args := make([]any, 0, len(statuses)+1)

	for i, st := range statuses {
		if i > 0 {
			placeholders += ","
		}

		placeholders += "?"
		args = append(args, string(st))
	}

	// limit<=0 means "no cap" to callers; SQLite's LIMIT 0 returns zero rows,
	// so bind -1 (unbounded) instead of the literal value in that case.
	sqlLimit := limit
	if sqlLimit <= 0 {
		sqlLimit = -1
	}

	args = append(args, sqlLimit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+repositoryColumns+` FROM repositories
		WHERE status IN (`+placeholders+`) AND deleted_at IS NULL
		ORDER BY created_at ASC
		LIMIT ?`, args...)
	if err != nil {
		return nil, corerr.NewIOFailed("list repositories by status", err)
	}

	defer rows.Close()

	var result []domain.Repository

	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, corerr.NewIOFailed("scan repository", err)
		}

		result = append(result, r)
	}

	return result, rows.Err()
}

// ListDueForUpdate returns up to limit Completed repositories whose update
// interval has elapsed as of now.
func (s *Store) ListDueForUpdate(ctx context.Context, now time.Time, defaultIntervalMinutes, limit int) ([]domain.Repository, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+repositoryColumns+` FROM repositories
		WHERE status = ? AND deleted_at IS NULL
		AND (
			last_update_check_at IS NULL
			OR datetime(last_update_check_at, '+' || COALESCE(update_interval_minutes, ?) || ' minutes') <= ?
		)
		ORDER BY created_at ASC
		LIMIT ?`,
		string(domain.RepositoryCompleted), defaultIntervalMinutes, now, limit)
	if err != nil {
		return nil, corerr.NewIOFailed("list due for update", err)
	}

	defer rows.Close()

	var result []domain.Repository

	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, corerr.NewIOFailed("scan repository", err)
		}

		result = append(result, r)
	}

	return result, rows.Err()
}

// UpdateRepository performs a compare-and-swap on repo.Version.
func (s *Store) UpdateRepository(ctx context.Context, repo domain.Repository) error {
	now := time.Now()

	res, err := s.db.ExecContext(ctx, `
		UPDATE repositories SET
			status = ?, primary_language = ?, account_name = ?, account_secret = ?,
			last_update_check_at = ?, update_interval_minutes = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		string(repo.Status), repo.PrimaryLanguage, repo.AccountName, repo.AccountSecret,
		nullTime(repo.LastUpdateCheckAt), nullInt(repo.UpdateIntervalMinutes), now,
		repo.ID, repo.Version,
	)
	if err != nil {
		return corerr.NewIOFailed("update repository", err)
	}

	return checkCAS(res, "repository", repo.ID)
}

func checkCAS(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return corerr.NewIOFailed(fmt.Sprintf("check %s update", entity), err)
	}

	if n == 0 {
		return corerr.NewConflict(entity, id)
	}

	return nil
}

// SoftDeleteRepository marks a repository deleted, invisible to all scans.
func (s *Store) SoftDeleteRepository(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE repositories SET deleted_at = ?, updated_at = ? WHERE id = ?`, time.Now(), time.Now(), id)
	if err != nil {
		return corerr.NewIOFailed("soft delete repository", err)
	}

	return nil
}

// --- RepositoryBranch ---

func scanBranch(row interface{ Scan(dest ...any) error }) (domain.RepositoryBranch, error) {
	var (
		b               domain.RepositoryBranch
		lastProcessedAt sql.NullTime
	)

	if err := row.Scan(&b.ID, &b.RepositoryID, &b.Name, &b.LastCommitID, &lastProcessedAt, &b.CreatedAt); err != nil {
		return domain.RepositoryBranch{}, err
	}

	b.LastProcessedAt = nullableTime(lastProcessedAt)

	return b, nil
}

// CreateBranch inserts a new branch row.
func (s *Store) CreateBranch(ctx context.Context, branch domain.RepositoryBranch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repository_branches (id, repository_id, name, last_commit_id, last_processed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		branch.ID, branch.RepositoryID, branch.Name, branch.LastCommitID, nullTime(branch.LastProcessedAt), branch.CreatedAt,
	)
	if err != nil {
		return corerr.NewIOFailed("create branch", err)
	}

	return nil
}

// GetBranch loads a branch by id.
func (s *Store) GetBranch(ctx context.Context, id string) (domain.RepositoryBranch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, repository_id, name, last_commit_id, last_processed_at, created_at
		FROM repository_branches WHERE id = ?`, id)

	b, err := scanBranch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RepositoryBranch{}, corerr.NewNotFound("branch", id)
		}

		return domain.RepositoryBranch{}, corerr.NewIOFailed("get branch", err)
	}

	return b, nil
}

// ListBranches returns a repository's branches ordered by createdAt ascending.
func (s *Store) ListBranches(ctx context.Context, repositoryID string) ([]domain.RepositoryBranch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repository_id, name, last_commit_id, last_processed_at, created_at
		FROM repository_branches WHERE repository_id = ? ORDER BY created_at ASC`, repositoryID)
	if err != nil {
		return nil, corerr.NewIOFailed("list branches", err)
	}

	defer rows.Close()

	var result []domain.RepositoryBranch

	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, corerr.NewIOFailed("scan branch", err)
		}

		result = append(result, b)
	}

	return result, rows.Err()
}

// UpdateBranch persists branch.LastCommitID/LastProcessedAt.
func (s *Store) UpdateBranch(ctx context.Context, branch domain.RepositoryBranch) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE repository_branches SET last_commit_id = ?, last_processed_at = ? WHERE id = ?`,
		branch.LastCommitID, nullTime(branch.LastProcessedAt), branch.ID,
	)
	if err != nil {
		return corerr.NewIOFailed("update branch", err)
	}

	return nil
}

// --- BranchLanguage ---

// CreateBranchLanguage inserts a new branch-language row.
func (s *Store) CreateBranchLanguage(ctx context.Context, bl domain.BranchLanguage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branch_languages (id, branch_id, language, is_default, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		bl.ID, bl.BranchID, bl.Language, boolToInt(bl.IsDefault), bl.CreatedAt, bl.UpdatedAt,
	)
	if err != nil {
		return corerr.NewIOFailed("create branch language", err)
	}

	return nil
}

// ListBranchLanguages returns a branch's languages in stored (creation) order.
func (s *Store) ListBranchLanguages(ctx context.Context, branchID string) ([]domain.BranchLanguage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, language, is_default, created_at, updated_at
		FROM branch_languages WHERE branch_id = ? ORDER BY created_at ASC`, branchID)
	if err != nil {
		return nil, corerr.NewIOFailed("list branch languages", err)
	}

	defer rows.Close()

	var result []domain.BranchLanguage

	for rows.Next() {
		var (
			bl        domain.BranchLanguage
			isDefault int64
		)

		if err := rows.Scan(&bl.ID, &bl.BranchID, &bl.Language, &isDefault, &bl.CreatedAt, &bl.UpdatedAt); err != nil {
			return nil, corerr.NewIOFailed("scan branch language", err)
		}

		bl.IsDefault = isDefault != 0
		result = append(result, bl)
	}

	return result, rows.Err()
}

// --- IncrementalUpdateTask ---

const taskColumns = `id, repository_id, branch_id, previous_commit_id, target_commit_id, status, priority,
	is_manual_trigger, retry_count, error_message, created_at, started_at, completed_at, version`

func scanTask(row interface{ Scan(dest ...any) error }) (domain.IncrementalUpdateTask, error) {
	var (
		t               domain.IncrementalUpdateTask
		status          string
		isManualTrigger int64
		startedAt       sql.NullTime
		completedAt     sql.NullTime
	)

	if err := row.Scan(
		&t.ID, &t.RepositoryID, &t.BranchID, &t.PreviousCommitID, &t.TargetCommitID, &status, &t.Priority,
		&isManualTrigger, &t.RetryCount, &t.ErrorMessage, &t.CreatedAt, &startedAt, &completedAt, &t.Version,
	); err != nil {
		return domain.IncrementalUpdateTask{}, err
	}

	t.Status = domain.TaskStatus(status)
	t.IsManualTrigger = isManualTrigger != 0
	t.StartedAt = nullableTime(startedAt)
	t.CompletedAt = nullableTime(completedAt)

	return t, nil
}

// CreateTask inserts a new task row.
func (s *Store) CreateTask(ctx context.Context, task domain.IncrementalUpdateTask) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incremental_update_tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.RepositoryID, task.BranchID, task.PreviousCommitID, task.TargetCommitID, string(task.Status),
		task.Priority, boolToInt(task.IsManualTrigger), task.RetryCount, task.ErrorMessage, task.CreatedAt,
		nullTime(task.StartedAt), nullTime(task.CompletedAt), task.Version,
	)
	if err != nil {
		return corerr.NewIOFailed("create task", err)
	}

	return nil
}

// GetTask loads a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (domain.IncrementalUpdateTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM incremental_update_tasks WHERE id = ?`, id)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.IncrementalUpdateTask{}, corerr.NewNotFound("task", id)
		}

		return domain.IncrementalUpdateTask{}, corerr.NewIOFailed("get task", err)
	}

	return t, nil
}

// FindActiveTask returns the Pending or Processing task for (repositoryID,
// branchID), if any.
func (s *Store) FindActiveTask(ctx context.Context, repositoryID, branchID string) (domain.IncrementalUpdateTask, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM incremental_update_tasks
		WHERE repository_id = ? AND branch_id = ? AND status IN (?, ?)
		ORDER BY created_at ASC LIMIT 1`,
		repositoryID, branchID, string(domain.TaskPending), string(domain.TaskProcessing))

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.IncrementalUpdateTask{}, false, nil
		}

		return domain.IncrementalUpdateTask{}, false, corerr.NewIOFailed("find active task", err)
	}

	return t, true, nil
}

// ListPendingTasks returns all Pending tasks ordered by
// (priority DESC, createdAt ASC).
func (s *Store) ListPendingTasks(ctx context.Context) ([]domain.IncrementalUpdateTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM incremental_update_tasks
		WHERE status = ?
		ORDER BY priority DESC, created_at ASC`, string(domain.TaskPending))
	if err != nil {
		return nil, corerr.NewIOFailed("list pending tasks", err)
	}

	defer rows.Close()

	var result []domain.IncrementalUpdateTask

	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, corerr.NewIOFailed("scan task", err)
		}

		result = append(result, t)
	}

	return result, rows.Err()
}

// ListStaleProcessing returns tasks still Processing with startedAt older
// than olderThan.
func (s *Store) ListStaleProcessing(ctx context.Context, olderThan time.Time) ([]domain.IncrementalUpdateTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM incremental_update_tasks
		WHERE status = ? AND started_at IS NOT NULL AND started_at < ?`, string(domain.TaskProcessing), olderThan)
	if err != nil {
		return nil, corerr.NewIOFailed("list stale processing tasks", err)
	}

	defer rows.Close()

	var result []domain.IncrementalUpdateTask

	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, corerr.NewIOFailed("scan task", err)
		}

		result = append(result, t)
	}

	return result, rows.Err()
}

// UpdateTask performs a compare-and-swap on task.Version.
func (s *Store) UpdateTask(ctx context.Context, task domain.IncrementalUpdateTask) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE incremental_update_tasks SET
			target_commit_id = ?, status = ?, retry_count = ?, error_message = ?,
			started_at = ?, completed_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		task.TargetCommitID, string(task.Status), task.RetryCount, task.ErrorMessage,
		nullTime(task.StartedAt), nullTime(task.CompletedAt), task.ID, task.Version,
	)
	if err != nil {
		return corerr.NewIOFailed("update task", err)
	}

	return checkCAS(res, "task", task.ID)
}

// --- RepositoryProcessingLog ---

// InsertLog inserts a log entry using its own bare statement, so a failure
// here cannot poison a caller's in-flight transaction.
func (s *Store) InsertLog(ctx context.Context, entry domain.ProcessingLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repository_processing_logs (id, repository_id, step, message, is_ai_output, tool_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.RepositoryID, string(entry.Step), entry.Message, boolToInt(entry.IsAIOutput), entry.ToolName, entry.CreatedAt,
	)
	if err != nil {
		return corerr.NewIOFailed("insert processing log", err)
	}

	return nil
}

// ListLogs returns up to limit of the newest entries for repositoryID,
// optionally restricted to those created at or after since, in chronological
// order.
func (s *Store) ListLogs(ctx context.Context, repositoryID string, since *time.Time, limit int) ([]domain.ProcessingLogEntry, error) {
	var (
		rows *sql.Rows
		err  error
	)

	if since != nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, repository_id, step, message, is_ai_output, tool_name, created_at
			FROM (
				SELECT * FROM repository_processing_logs
				WHERE repository_id = ? AND created_at >= ?
				ORDER BY created_at DESC LIMIT ?
			) ORDER BY created_at ASC`, repositoryID, *since, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, repository_id, step, message, is_ai_output, tool_name, created_at
			FROM (
				SELECT * FROM repository_processing_logs
				WHERE repository_id = ?
				ORDER BY created_at DESC LIMIT ?
			) ORDER BY created_at ASC`, repositoryID, limit)
	}

	if err != nil {
		return nil, corerr.NewIOFailed("list processing logs", err)
	}

	defer rows.Close()

	var result []domain.ProcessingLogEntry

	for rows.Next() {
		var (
			e          domain.ProcessingLogEntry
			step       string
			isAIOutput int64
		)

		if err := rows.Scan(&e.ID, &e.RepositoryID, &step, &e.Message, &isAIOutput, &e.ToolName, &e.CreatedAt); err != nil {
			return nil, corerr.NewIOFailed("scan processing log", err)
		}

		e.Step = domain.ProcessingStep(step)
		e.IsAIOutput = isAIOutput != 0
		result = append(result, e)
	}

	return result, rows.Err()
}

// ClearLogs hard-deletes all entries for a repository.
func (s *Store) ClearLogs(ctx context.Context, repositoryID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM repository_processing_logs WHERE repository_id = ?`, repositoryID)
	if err != nil {
		return corerr.NewIOFailed("clear processing logs", err)
	}

	return nil
}
