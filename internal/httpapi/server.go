// Package httpapi exposes fetch cycles and the stored collection over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/amishk599/jobtracker/internal/model"
	"github.com/amishk599/jobtracker/internal/tracker"
)

// Defaults applied to PUT /update_jobs when a parameter is absent.
const (
	DefaultLocation = "Chicago, Illinois"
	DefaultKeyword  = "data engineering"
	DefaultMinPay   = 100000
)

// CycleRunner runs one fetch cycle. *tracker.Tracker satisfies it.
type CycleRunner interface {
	RunFetchCycle(ctx context.Context, q model.Query) (tracker.Report, error)
}

// Collection is the read and wipe surface of the record store.
type Collection interface {
	List(ctx context.Context) ([]model.StoredRecord, error)
	Wipe(ctx context.Context) (int64, error)
}

type handlers struct {
	runner     CycleRunner
	collection Collection
	logger     *slog.Logger
}

// NewRouter registers every route on a fresh mux wrapped in request logging.
func NewRouter(runner CycleRunner, collection Collection, logger *slog.Logger) http.Handler {
	h := &handlers{runner: runner, collection: collection, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.root)
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("PUT /update_jobs", h.updateJobs)
	mux.HandleFunc("GET /stored_jobs", h.storedJobs)
	mux.HandleFunc("DELETE /wipe", h.wipe)
	return logRequests(mux, logger)
}

func (h *handlers) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "job tracker"})
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) updateJobs(w http.ResponseWriter, r *http.Request) {
	q, err := queryFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err)
		return
	}

	report, err := h.runner.RunFetchCycle(r.Context(), q)
	if err != nil {
		code, errCode := statusFor(err)
		h.logger.Error("update_jobs failed", "cycle_id", report.CycleID, "status", code, "error", err)
		writeError(w, code, errCode, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type storedJobsResponse struct {
	TotalJobs int                  `json:"total_jobs"`
	Jobs      []model.StoredRecord `json:"jobs"`
}

func (h *handlers) storedJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.collection.List(r.Context())
	if err != nil {
		h.logger.Error("listing stored jobs", "error", err)
		writeError(w, http.StatusInternalServerError, "store_unavailable", err)
		return
	}
	if jobs == nil {
		jobs = []model.StoredRecord{}
	}
	writeJSON(w, http.StatusOK, storedJobsResponse{TotalJobs: len(jobs), Jobs: jobs})
}

func (h *handlers) wipe(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.collection.Wipe(r.Context())
	if err != nil {
		h.logger.Error("wiping stored jobs", "error", err)
		writeError(w, http.StatusInternalServerError, "store_unavailable", err)
		return
	}
	h.logger.Info("wiped stored jobs", "deleted", deleted)
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// queryFromRequest reads location, keyword, role, min_pay and max_pay from
// the URL, filling in the defaults for the first three absent ones.
func queryFromRequest(r *http.Request) (model.Query, error) {
	v := r.URL.Query()
	q := model.Query{
		Location: DefaultLocation,
		Keyword:  DefaultKeyword,
		Role:     v.Get("role"),
	}
	if v.Has("location") {
		q.Location = v.Get("location")
	}
	if v.Has("keyword") {
		q.Keyword = v.Get("keyword")
	}

	minPay := DefaultMinPay
	q.MinPay = &minPay
	if v.Has("min_pay") {
		p, err := optionalInt(v.Get("min_pay"))
		if err != nil {
			return model.Query{}, fmt.Errorf("%w: min_pay: %w", model.ErrInvalidQuery, err)
		}
		q.MinPay = p
	}
	if v.Has("max_pay") {
		p, err := optionalInt(v.Get("max_pay"))
		if err != nil {
			return model.Query{}, fmt.Errorf("%w: max_pay: %w", model.ErrInvalidQuery, err)
		}
		q.MaxPay = p
	}
	return q, nil
}

// optionalInt parses s; an empty value means no bound.
func optionalInt(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvalidQuery):
		return http.StatusBadRequest, "invalid_query"
	case errors.Is(err, model.ErrMalformedRecord):
		return http.StatusUnprocessableEntity, "malformed_record"
	case errors.Is(err, model.ErrUpstreamUnavailable):
		return http.StatusBadGateway, "upstream_unavailable"
	case errors.Is(err, model.ErrReconciliationFailed):
		return http.StatusInternalServerError, "reconciliation_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	})
}

// Serve runs the server on addr until ctx is cancelled, then shuts it down
// gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute, // a fetch cycle may page through many results
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
