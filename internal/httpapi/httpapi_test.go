package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/repocore/repocore/internal/domain"
	"github.com/repocore/repocore/internal/processinglog"
)

type stubLogService struct {
	view processinglog.LogView
	err  error
}

func (s stubLogService) GetLogs(context.Context, string, *time.Time, int) (processinglog.LogView, error) {
	return s.view, s.err
}

type stubResolver struct {
	id string
}

func (s stubResolver) ResolveRepositoryID(context.Context, string, string) (string, error) {
	return s.id, nil
}

func TestHandleProcessingLogsReturnsView(t *testing.T) {
	view := processinglog.LogView{
		CurrentStep:    domain.StepContent,
		TotalDocuments: 5,
		Logs:           []domain.ProcessingLogEntry{{ID: "1", Message: "hello"}},
	}

	router := NewRouter(stubLogService{view: view}, stubResolver{id: "repo-1"})

	req := httptest.NewRequest(http.MethodGet, "/acme/widgets/processing-logs?limit=10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "hello")
}

func TestParseLimitClamps(t *testing.T) {
	require.Equal(t, defaultLimit, parseLimit(""))
	require.Equal(t, minLimit, parseLimit("0"))
	require.Equal(t, maxLimit, parseLimit("10000"))
	require.Equal(t, 42, parseLimit("42"))
}

func TestParseSinceRejectsGarbage(t *testing.T) {
	_, err := parseSince("not-a-time")
	require.Error(t, err)

	since, err := parseSince("")
	require.NoError(t, err)
	require.Nil(t, since)
}
