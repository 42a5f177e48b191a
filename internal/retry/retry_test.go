package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/amishk599/jobtracker/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSearcher calls a function on each invocation, tracking call count.
type fakeSearcher struct {
	calls int
	fn    func(attempt int) ([]model.RawListing, error)
}

func (f *fakeSearcher) Search(_ context.Context, _ model.SearchParams) ([]model.RawListing, error) {
	f.calls++
	return f.fn(f.calls)
}

func TestRetry_SucceedsOnFirstAttempt(t *testing.T) {
	listings := []model.RawListing{{ExternalID: "1", Title: "Engineer"}}
	fake := &fakeSearcher{fn: func(_ int) ([]model.RawListing, error) {
		return listings, nil
	}}

	rs := NewRetrySearcher(fake, 2, 10*time.Millisecond, 0, discardLogger())
	got, err := rs.Search(context.Background(), model.SearchParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ExternalID != "1" {
		t.Fatalf("unexpected listings: %v", got)
	}
	if fake.calls != 1 {
		t.Fatalf("expected 1 call, got %d", fake.calls)
	}
}

func TestRetry_RetriesOn5xx_SucceedsOnSecondAttempt(t *testing.T) {
	fake := &fakeSearcher{fn: func(attempt int) ([]model.RawListing, error) {
		if attempt == 1 {
			return nil, &model.HTTPError{StatusCode: 503, Err: errors.New("service unavailable")}
		}
		return []model.RawListing{{ExternalID: "1"}}, nil
	}}

	rs := NewRetrySearcher(fake, 2, 10*time.Millisecond, 0, discardLogger())
	got, err := rs.Search(context.Background(), model.SearchParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 listing, got %d", len(got))
	}
	if fake.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", fake.calls)
	}
}

func TestRetry_DoesNotRetryOn4xx(t *testing.T) {
	fake := &fakeSearcher{fn: func(_ int) ([]model.RawListing, error) {
		return nil, &model.HTTPError{StatusCode: 401, Err: errors.New("bad key")}
	}}

	rs := NewRetrySearcher(fake, 2, 10*time.Millisecond, 0, discardLogger())
	_, err := rs.Search(context.Background(), model.SearchParams{})
	var httpErr *model.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 401 {
		t.Fatalf("expected HTTPError with status 401, got %v", err)
	}
	if fake.calls != 1 {
		t.Fatalf("expected 1 call (no retry), got %d", fake.calls)
	}
}

func TestRetry_DoesNotRetryMalformedPayload(t *testing.T) {
	fake := &fakeSearcher{fn: func(_ int) ([]model.RawListing, error) {
		return nil, fmt.Errorf("decoding page 1: %w", &model.MalformedRecordError{ExternalID: "x", Field: "PositionID", Reason: "is required"})
	}}

	rs := NewRetrySearcher(fake, 3, time.Millisecond, 0, discardLogger())
	_, err := rs.Search(context.Background(), model.SearchParams{})
	if !errors.Is(err, model.ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord, got %v", err)
	}
	if fake.calls != 1 {
		t.Fatalf("expected 1 call, got %d", fake.calls)
	}
}

func TestRetry_GivesUpAfterMaxRetries(t *testing.T) {
	fake := &fakeSearcher{fn: func(_ int) ([]model.RawListing, error) {
		return nil, &model.HTTPError{StatusCode: 500, Err: errors.New("internal error")}
	}}

	rs := NewRetrySearcher(fake, 2, 10*time.Millisecond, 0, discardLogger())
	_, err := rs.Search(context.Background(), model.SearchParams{})
	if err == nil {
		t.Fatal("expected error after max retries, got nil")
	}
	var httpErr *model.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected the last HTTPError to stay reachable, got %v", err)
	}
	// 1 initial + 2 retries = 3
	if fake.calls != 3 {
		t.Fatalf("expected 3 calls (1 + 2 retries), got %d", fake.calls)
	}
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	fake := &fakeSearcher{fn: func(_ int) ([]model.RawListing, error) {
		return nil, &model.HTTPError{StatusCode: 500, Err: errors.New("internal error")}
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rs := NewRetrySearcher(fake, 2, time.Second, 0, discardLogger())
	_, err := rs.Search(ctx, model.SearchParams{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if fake.calls != 1 {
		t.Fatalf("expected 1 call before cancellation, got %d", fake.calls)
	}
}

func TestBackoffDelay_HonoursRetryAfterAndCap(t *testing.T) {
	rs := NewRetrySearcher(nil, 5, time.Second, 3*time.Second, discardLogger())

	got := rs.backoffDelay(1, &model.HTTPError{StatusCode: 429, RetryAfter: 42 * time.Second})
	if got != 42*time.Second {
		t.Errorf("Retry-After delay = %v, want 42s", got)
	}

	got = rs.backoffDelay(5, errors.New("timeout"))
	if got < 2100*time.Millisecond || got > 3900*time.Millisecond {
		t.Errorf("capped delay = %v, want 3s ±30%%", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", errors.New("connection refused"), true},
		{"429", &model.HTTPError{StatusCode: 429}, true},
		{"502", &model.HTTPError{StatusCode: 502}, true},
		{"400", &model.HTTPError{StatusCode: 400}, false},
		{"cancelled", fmt.Errorf("page 2: %w", context.Canceled), false},
		{"malformed", &model.MalformedRecordError{Field: "title"}, false},
	}
	for _, tc := range tests {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Errorf("%s: IsRetryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}
