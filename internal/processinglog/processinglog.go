// Package processinglog is the append-only writer and progress-aware reader
// around the repository processing log table.
package processinglog

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/repocore/repocore/internal/domain"
	"github.com/repocore/repocore/internal/ports"
)

// Service writes and reads RepositoryProcessingLog entries.
type Service struct {
	store ports.LogStore
}

// New creates a Service backed by store.
func New(store ports.LogStore) *Service {
	return &Service{store: store}
}

// Log appends one entry. It opens its own store-level call so a failure here
// never poisons a caller's in-flight transaction.
func (s *Service) Log(ctx context.Context, repoID string, step domain.ProcessingStep, message string, aiFlag bool, toolName string) error {
	entry := domain.ProcessingLogEntry{
		ID:           uuid.NewString(),
		RepositoryID: repoID,
		Step:         step,
		Message:      message,
		IsAIOutput:   aiFlag,
		ToolName:     toolName,
		CreatedAt:    time.Now(),
	}

	return s.store.InsertLog(ctx, entry)
}

// ClearLogs hard-deletes all entries for a repository, invoked on
// regeneration.
func (s *Service) ClearLogs(ctx context.Context, repoID string) error {
	return s.store.ClearLogs(ctx, repoID)
}

// LogView is the derived view returned by getLogs.
type LogView struct {
	CurrentStep        domain.ProcessingStep      `json:"currentStep"`
	StartedAt          *time.Time                 `json:"startedAt,omitempty"`
	TotalDocuments     int                        `json:"totalDocuments"`
	CompletedDocuments int                        `json:"completedDocuments"`
	Logs               []domain.ProcessingLogEntry `json:"logs"`
}

// GetLogs fetches up to limit newest entries (optionally since a timestamp)
// and returns them in chronological order, plus derived progress fields.
func (s *Service) GetLogs(ctx context.Context, repoID string, since *time.Time, limit int) (LogView, error) {
	entries, err := s.store.ListLogs(ctx, repoID, since, limit)
	if err != nil {
		return LogView{}, err
	}

	view := LogView{
		CurrentStep: domain.StepWorkspace,
		Logs:        entries,
	}

	if len(entries) > 0 {
		view.StartedAt = &entries[0].CreatedAt
		view.CurrentStep = entries[len(entries)-1].Step
	}

	view.TotalDocuments, view.CompletedDocuments = parseProgress(entries)

	return view, nil
}

// Progress message grammar. Both English and legacy Chinese patterns must be
// kept: production logs were written before the Chinese messages were
// translated, and this parser still has to make sense of them.
var (
	reFoundDocuments  = regexp.MustCompile(`Found\s+(\d+)\s+documents|发现\s*(\d+)\s*个文档`)
	reDocumentDone    = regexp.MustCompile(`(?:Document completed|文档完成)\s*\((\d+)/(\d+)\)`)
	reDocumentStart   = regexp.MustCompile(`(?:Start generating document|Generating document|开始生成文档|正在生成文档)\s*\((\d+)/(\d+)\)`)
	generationDoneEN  = "Document generation completed"
	generationDoneCN  = "文档生成完成"
)

func parseProgress(entries []domain.ProcessingLogEntry) (total, completed int) {
	for _, e := range entries {
		if e.IsAIOutput || e.ToolName != "" {
			continue
		}

		switch {
		case reFoundDocuments.MatchString(e.Message):
			m := reFoundDocuments.FindStringSubmatch(e.Message)
			total = firstNonEmptyInt(m[1:])
		case reDocumentDone.MatchString(e.Message):
			m := reDocumentDone.FindStringSubmatch(e.Message)
			x, _ := strconv.Atoi(m[1])
			y, _ := strconv.Atoi(m[2])

			if x > completed {
				completed = x
			}

			if total == 0 {
				total = y
			}
		case reDocumentStart.MatchString(e.Message):
			m := reDocumentStart.FindStringSubmatch(e.Message)
			y, _ := strconv.Atoi(m[2])

			if total == 0 {
				total = y
			}
		case strings.Contains(e.Message, generationDoneEN) || strings.Contains(e.Message, generationDoneCN):
			completed = total
		}
	}

	return total, completed
}

func firstNonEmptyInt(groups []string) int {
	for _, g := range groups {
		if g == "" {
			continue
		}

		n, err := strconv.Atoi(g)
		if err == nil {
			return n
		}
	}

	return 0
}
