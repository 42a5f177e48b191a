// Package tracker runs fetch cycles: search a source, normalize the listings,
// reconcile them into the store, and report what changed.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/amishk599/jobtracker/internal/model"
	"github.com/amishk599/jobtracker/internal/normalize"
	"github.com/amishk599/jobtracker/internal/reconcile"
)

// Reconciler is the part of *reconcile.Engine a Tracker drives.
type Reconciler interface {
	Reconcile(ctx context.Context, records []model.JobRecord) (reconcile.Outcome, error)
}

// Tracker owns the fetch cycle pipeline for one source:
// search → normalize → reconcile → notify → report.
type Tracker struct {
	searcher   model.Searcher
	reconciler Reconciler
	notifier   model.Notifier
	logger     *slog.Logger
	newID      func() string
}

// New creates a tracker. notifier may be nil.
func New(searcher model.Searcher, reconciler Reconciler, notifier model.Notifier, logger *slog.Logger) *Tracker {
	return &Tracker{
		searcher:   searcher,
		reconciler: reconciler,
		notifier:   notifier,
		logger:     logger,
		newID:      uuid.NewString,
	}
}

// RunFetchCycle executes one fetch cycle for q.
//
// The store is untouched unless the search succeeds, returns at least one
// listing, and every listing normalizes. Errors match ErrInvalidQuery,
// ErrUpstreamUnavailable, ErrMalformedRecord or ErrReconciliationFailed.
func (t *Tracker) RunFetchCycle(ctx context.Context, q model.Query) (Report, error) {
	cycleID := t.newID()
	logger := t.logger.With("cycle_id", cycleID)

	records, found, err := t.fetch(ctx, q, logger)
	if err != nil {
		return Report{CycleID: cycleID}, err
	}
	if found == 0 {
		logger.Info("fetch cycle found nothing", "location", q.Location, "keyword", q.Keyword)
		return Report{CycleID: cycleID}, nil
	}

	outcome, err := t.reconciler.Reconcile(ctx, records)
	if err != nil {
		logger.Error("reconciliation failed", "inserted", outcome.InsertedCount, "error", err)
		return Report{CycleID: cycleID, Found: found, Inserted: outcome.InsertedCount}, err
	}

	report := Report{
		CycleID:  cycleID,
		Found:    found,
		Inserted: outcome.InsertedCount,
		Retired:  outcome.Retired,
		Failed:   failedRecords(outcome.Failed),
		Results:  outcome.Survivors,
	}

	if t.notifier != nil && len(outcome.New) > 0 {
		if err := t.notifier.Notify(q, outcome.New); err != nil {
			logger.Warn("notification failed", "error", err)
		}
	}

	logger.Info("fetch cycle complete",
		"location", q.Location,
		"keyword", q.Keyword,
		"found", report.Found,
		"inserted", report.Inserted,
		"updated", report.Retired,
		"failed", len(report.Failed),
	)
	return report, nil
}

// Preview searches and normalizes without touching the store.
func (t *Tracker) Preview(ctx context.Context, q model.Query) ([]model.JobRecord, error) {
	records, _, err := t.fetch(ctx, q, t.logger)
	return records, err
}

func (t *Tracker) fetch(ctx context.Context, q model.Query, logger *slog.Logger) ([]model.JobRecord, int, error) {
	if err := q.Validate(); err != nil {
		return nil, 0, err
	}

	raw, err := t.searcher.Search(ctx, q.SearchParams())
	if err != nil {
		if errors.Is(err, model.ErrMalformedRecord) {
			return nil, 0, fmt.Errorf("searching: %w", err)
		}
		return nil, 0, fmt.Errorf("%w: %w", model.ErrUpstreamUnavailable, err)
	}
	logger.Debug("search returned", "listings", len(raw))

	records := make([]model.JobRecord, 0, len(raw))
	for _, listing := range raw {
		rec, err := normalize.Normalize(listing, q.Location)
		if err != nil {
			return nil, 0, fmt.Errorf("normalizing batch of %d: %w", len(raw), err)
		}
		records = append(records, rec)
	}
	return records, len(raw), nil
}
