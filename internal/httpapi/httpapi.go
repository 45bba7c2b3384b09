// Package httpapi exposes the core's only wire surface: polling endpoints
// for repository processing logs.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/repocore/repocore/internal/corerr"
	"github.com/repocore/repocore/internal/processinglog"
)

const (
	defaultLimit = 100
	minLimit     = 1
	maxLimit     = 500
)

// LogService is the subset of processinglog.Service the HTTP surface needs.
type LogService interface {
	GetLogs(ctx context.Context, repoID string, since *time.Time, limit int) (processinglog.LogView, error)
}

// RepositoryResolver maps an (owner, repo) pair from the URL to a
// repository id, since the store is keyed by opaque id.
type RepositoryResolver interface {
	ResolveRepositoryID(ctx context.Context, owner, name string) (string, error)
}

// NewRouter builds the chi router serving the log-polling surface from §6.
func NewRouter(logs LogService, resolver RepositoryResolver) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/{owner}/{repo}/processing-logs", handleProcessingLogs(logs, resolver))

	return r
}

func handleProcessingLogs(logs LogService, resolver RepositoryResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := chi.URLParam(r, "owner")
		repo := chi.URLParam(r, "repo")

		repoID, err := resolver.ResolveRepositoryID(r.Context(), owner, repo)
		if err != nil {
			writeError(w, err)
			return
		}

		since, err := parseSince(r.URL.Query().Get("since"))
		if err != nil {
			http.Error(w, "invalid since parameter", http.StatusBadRequest)
			return
		}

		limit := parseLimit(r.URL.Query().Get("limit"))

		view, err := logs.GetLogs(r.Context(), repoID, since, limit)
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(view)
	}
}

func parseSince(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}

	return &t, nil
}

// parseLimit clamps the requested limit to [minLimit, maxLimit], defaulting
// to defaultLimit when absent or unparseable, per §6.
func parseLimit(raw string) int {
	if raw == "" {
		return defaultLimit
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return defaultLimit
	}

	if n < minLimit {
		return minLimit
	}

	if n > maxLimit {
		return maxLimit
	}

	return n
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	if ce, ok := err.(*corerr.CoreError); ok && ce.Code == corerr.ErrNotFound {
		status = http.StatusNotFound
	}

	http.Error(w, err.Error(), status)
}
