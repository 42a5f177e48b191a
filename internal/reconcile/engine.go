// Package reconcile inserts fetched batches and retires stale duplicates.
//
// Concurrent cycles against one store are safe but only eventually consistent.
// Two cycles inserting the same external id at nearly the same time may each
// see only their own record when grouping, so both survive until a later pass
// (the next cycle or RetireDuplicates) groups them together. No record is ever
// lost; at most one extra copy lingers until then.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/amishk599/jobtracker/internal/model"
)

// DefaultOpTimeout bounds a single store operation when none is configured.
const DefaultOpTimeout = 30 * time.Second

// Engine reconciles normalized batches into a RecordStore.
type Engine struct {
	store     model.RecordStore
	opTimeout time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithOpTimeout bounds every individual store operation.
func WithOpTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.opTimeout = d
		}
	}
}

// WithClock replaces time.Now for fetched_at stamping.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine bound to store.
func NewEngine(store model.RecordStore, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		opTimeout: DefaultOpTimeout,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Outcome is the result of one reconciliation.
type Outcome struct {
	InsertedCount int                   // records written in the insert step
	Retired       int                   // stale duplicates deleted
	Failed        []model.InsertFailure // records the store refused
	Survivors     []model.StoredRecord  // inserted records still present afterwards
	New           []model.StoredRecord  // survivors whose external id was not stored before this batch
}

// retirement is what one grouping and deletion pass saw and did.
type retirement struct {
	groups  []model.DuplicateGroup
	stale   []model.RecordID
	deleted int
}

// Reconcile stamps records with one batch fetched_at, inserts them, and
// retires every stale duplicate in the whole collection. Any store failure
// after the insert step leaves inserted records in place and returns
// ErrReconciliationFailed.
func (e *Engine) Reconcile(ctx context.Context, records []model.JobRecord) (Outcome, error) {
	fetchedAt := e.now().UTC().Truncate(time.Millisecond)
	batch := make([]model.JobRecord, len(records))
	for i, r := range records {
		r.FetchedAt = fetchedAt
		batch[i] = r
	}

	var inserted model.InsertResult
	err := e.storeOp(ctx, func(opCtx context.Context) error {
		var err error
		inserted, err = e.store.InsertMany(opCtx, batch)
		return err
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: inserting batch: %w", model.ErrReconciliationFailed, err)
	}

	for _, f := range inserted.Failed {
		e.logger.Warn("record insert failed", "external_id", f.ExternalID, "error", f.Err)
	}

	out := Outcome{
		InsertedCount: len(inserted.Inserted),
		Failed:        inserted.Failed,
	}

	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("%w: cancelled after insert: %w", model.ErrReconciliationFailed, err)
	}

	ret, err := e.retire(ctx)
	if err != nil {
		return out, err
	}
	out.Retired = ret.deleted

	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("%w: cancelled after retiring duplicates: %w", model.ErrReconciliationFailed, err)
	}

	gone := make(map[model.RecordID]struct{}, len(ret.stale))
	for _, id := range ret.stale {
		gone[id] = struct{}{}
	}
	var keep []model.RecordID
	for _, r := range inserted.Inserted {
		if _, ok := gone[r.ID]; !ok {
			keep = append(keep, r.ID)
		}
	}

	out.Survivors = []model.StoredRecord{}
	if len(keep) > 0 {
		err := e.storeOp(ctx, func(opCtx context.Context) error {
			found, err := e.store.Find(opCtx, keep)
			if err != nil {
				return err
			}
			out.Survivors = orderLike(found, keep)
			return nil
		})
		if err != nil {
			return out, fmt.Errorf("%w: loading survivors: %w", model.ErrReconciliationFailed, err)
		}
	}
	out.New = newSurvivors(out.Survivors, ret.groups, fetchedAt)

	e.logger.Debug("reconciled batch",
		"batch", len(records),
		"inserted", out.InsertedCount,
		"failed", len(out.Failed),
		"retired", out.Retired,
		"survivors", len(out.Survivors),
		"new", len(out.New),
	)
	return out, nil
}

// RetireDuplicates runs grouping and deletion on its own, returning how many
// stale records were deleted. Running it again on an unchanged collection
// deletes nothing.
func (e *Engine) RetireDuplicates(ctx context.Context) (int, error) {
	ret, err := e.retire(ctx)
	return ret.deleted, err
}

func (e *Engine) retire(ctx context.Context) (retirement, error) {
	var groups []model.DuplicateGroup
	err := e.storeOp(ctx, func(opCtx context.Context) error {
		var err error
		groups, err = e.store.DuplicateGroups(opCtx)
		return err
	})
	if err != nil {
		return retirement{}, fmt.Errorf("%w: grouping duplicates: %w", model.ErrReconciliationFailed, err)
	}

	stale := PlanRetirements(groups)
	if len(stale) == 0 {
		return retirement{groups: groups}, nil
	}

	if err := ctx.Err(); err != nil {
		return retirement{}, fmt.Errorf("%w: cancelled before delete: %w", model.ErrReconciliationFailed, err)
	}

	var deleted int64
	err = e.storeOp(ctx, func(opCtx context.Context) error {
		var err error
		deleted, err = e.store.DeleteMany(opCtx, stale)
		return err
	})
	if err != nil {
		return retirement{}, fmt.Errorf("%w: deleting %d duplicates: %w", model.ErrReconciliationFailed, len(stale), err)
	}
	if int(deleted) != len(stale) {
		// A concurrent cycle already removed some of them.
		e.logger.Info("duplicates already retired elsewhere", "planned", len(stale), "deleted", deleted)
	}
	return retirement{groups: groups, stale: stale, deleted: int(deleted)}, nil
}

// storeOp runs fn detached from caller cancellation so an operation that has
// started always finishes, bounded by the engine's op timeout.
func (e *Engine) storeOp(ctx context.Context, fn func(context.Context) error) error {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opTimeout)
	defer cancel()
	return fn(opCtx)
}

// PlanRetirements picks one survivor per group and returns every other member.
// The survivor has the latest FetchedAt; ties go to the smallest RecordID.
func PlanRetirements(groups []model.DuplicateGroup) []model.RecordID {
	var stale []model.RecordID
	for _, g := range groups {
		if len(g.Members) < 2 {
			continue
		}
		members := make([]model.GroupMember, len(g.Members))
		copy(members, g.Members)
		sort.Slice(members, func(i, j int) bool {
			if !members[i].FetchedAt.Equal(members[j].FetchedAt) {
				return members[i].FetchedAt.After(members[j].FetchedAt)
			}
			return members[i].ID.Less(members[j].ID)
		})
		for _, m := range members[1:] {
			stale = append(stale, m.ID)
		}
	}
	return stale
}

// newSurvivors keeps the survivors whose duplicate group, if any, had no
// member fetched before this batch.
func newSurvivors(survivors []model.StoredRecord, groups []model.DuplicateGroup, batchAt time.Time) []model.StoredRecord {
	seen := make(map[string]struct{})
	for _, g := range groups {
		for _, m := range g.Members {
			if m.FetchedAt.Before(batchAt) {
				seen[g.ExternalID] = struct{}{}
				break
			}
		}
	}
	out := []model.StoredRecord{}
	for _, r := range survivors {
		if _, ok := seen[r.ExternalID]; !ok {
			out = append(out, r)
		}
	}
	return out
}

func orderLike(records []model.StoredRecord, ids []model.RecordID) []model.StoredRecord {
	byID := make(map[model.RecordID]model.StoredRecord, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}
	out := make([]model.StoredRecord, 0, len(records))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out
}
