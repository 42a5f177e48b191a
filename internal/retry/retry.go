package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/amishk599/jobtracker/internal/model"
)

// RetrySearcher is a decorator that retries transient source failures with
// exponential backoff and jitter before giving up.
type RetrySearcher struct {
	inner      model.Searcher
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *slog.Logger
}

// NewRetrySearcher wraps a Searcher with retry logic.
// maxRetries is the number of additional attempts after the first failure.
// baseDelay is doubled on each retry and capped at maxDelay (0 means no cap).
func NewRetrySearcher(inner model.Searcher, maxRetries int, baseDelay, maxDelay time.Duration, logger *slog.Logger) *RetrySearcher {
	return &RetrySearcher{
		inner:      inner,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		logger:     logger,
	}
}

// Search runs the wrapped search, retrying on transient errors.
func (s *RetrySearcher) Search(ctx context.Context, params model.SearchParams) ([]model.RawListing, error) {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := s.backoffDelay(attempt, lastErr)
			s.logger.Warn("retrying search after transient error",
				"attempt", attempt,
				"max_retries", s.maxRetries,
				"delay", delay,
				"error", lastErr,
			)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-timer.C:
			}
		}

		listings, err := s.inner.Search(ctx, params)
		if err == nil {
			return listings, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("giving up after %d attempts: %w", s.maxRetries+1, lastErr)
}

// backoffDelay computes the delay for a given attempt with ±30% jitter.
// A Retry-After duration from the source takes precedence.
func (s *RetrySearcher) backoffDelay(attempt int, err error) time.Duration {
	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}

	delay := s.baseDelay << (attempt - 1)
	if s.maxDelay > 0 && (delay > s.maxDelay || delay <= 0) {
		delay = s.maxDelay
	}

	jitter := float64(delay) * 0.3
	return time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)
}

// IsRetryable reports whether err is a transient failure worth retrying:
// network errors, 429, and 5xx. Cancellation and malformed payloads are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, model.ErrMalformedRecord) {
		return false
	}

	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}

	return true
}
