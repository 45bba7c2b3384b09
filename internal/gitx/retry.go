// Package gitx implements the Workspace Manager's Git surface.
package gitx

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// FixedRetryConfig holds the Workspace Manager's clone/fetch retry policy.
// Unlike the Incremental Update Service's exponential backoff (see
// internal/incremental), this delay never grows between attempts — the two
// policies are intentionally different and must not be collapsed into one.
type FixedRetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first one).
	MaxAttempts int
	// Delay is the fixed wait between attempts.
	Delay time.Duration
}

// DefaultFixedRetryConfig returns the configuration defaults from §6:
// MaxRetryAttempts=3, RetryDelayMs=1000.
func DefaultFixedRetryConfig() FixedRetryConfig {
	return FixedRetryConfig{MaxAttempts: 3, Delay: 1 * time.Second}
}

// isRetryableError determines if an error is transient and worth retrying.
// Returns true for network timeouts, connection errors, and server errors.
// Returns false for auth failures, not found, and other permanent errors.
//
//nolint:gocyclo // comprehensive error classification is inherently branchy
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	if errors.Is(err, transport.ErrAuthenticationRequired) ||
		errors.Is(err, transport.ErrAuthorizationFailed) ||
		errors.Is(err, transport.ErrRepositoryNotFound) ||
		errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return false
	}

	errStr := strings.ToLower(err.Error())

	retryablePatterns := []string{
		"connection reset", "connection refused", "connection timed out",
		"network is unreachable", "no route to host", "temporary failure",
		"dns", "lookup", "i/o timeout", "eof", "broken pipe",
		"502", "503", "504", "429", "too many requests",
		"internal server error", "service unavailable", "gateway timeout", "bad gateway",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// WithFixedRetry executes op up to cfg.MaxAttempts times, waiting cfg.Delay
// between attempts. Context cancellation is respected between attempts.
func WithFixedRetry[T any](ctx context.Context, cfg FixedRetryConfig, op func() (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}

			return zero, err
		}

		if attempt > 0 {
			log.Info("retrying workspace operation", "attempt", attempt+1, "max_attempts", maxAttempts, "delay", cfg.Delay)

			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(cfg.Delay):
			}
		}

		result, err := op()
		if err == nil {
			return result, nil
		}

		lastErr = err

		if !isRetryableError(err) {
			return zero, err
		}
	}

	log.Error("workspace operation failed after all retries", "attempts", maxAttempts, "error", lastErr)

	return zero, lastErr
}

// WithFixedRetryNoResult is WithFixedRetry for operations with no result value.
func WithFixedRetryNoResult(ctx context.Context, cfg FixedRetryConfig, op func() error) error {
	_, err := WithFixedRetry(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, op()
	})

	return err
}
