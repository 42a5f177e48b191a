package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/amishk599/jobtracker/internal/mocks"
	"github.com/amishk599/jobtracker/internal/model"
	"github.com/amishk599/jobtracker/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func makeRecords(ids ...string) []model.JobRecord {
	out := make([]model.JobRecord, len(ids))
	for i, id := range ids {
		out[i] = model.JobRecord{
			ExternalID:   id,
			Title:        "Data Engineer",
			Organisation: "org",
			Grade:        "GS-13",
			Locations:    []string{"Chicago, Illinois"},
			Remuneration: model.RemunerationRange{Min: 100000, Max: 150000},
			StartDate:    "2023-01-01",
			CloseDate:    "2023-02-01",
			DurationDays: 30,
			SourceURI:    "https://example.com/" + id,
		}
	}
	return out
}

func externalIDs(records []model.StoredRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ExternalID
	}
	return out
}

func TestReconcile_DistinctBatch(t *testing.T) {
	s := store.NewMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := NewEngine(s, discardLogger(), WithClock(fixedClock(now)))

	out, err := e.Reconcile(context.Background(), makeRecords("a", "b", "c"))
	require.NoError(t, err)

	assert.Equal(t, 3, out.InsertedCount)
	assert.Equal(t, 0, out.Retired)
	assert.Empty(t, out.Failed)
	assert.Equal(t, []string{"a", "b", "c"}, externalIDs(out.Survivors))
	for _, r := range out.Survivors {
		assert.True(t, r.FetchedAt.Equal(now), "fetched_at = %v, want %v", r.FetchedAt, now)
		assert.NotEmpty(t, r.ID)
	}
}

func TestReconcile_RetiresOlderPreexistingRecord(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	old := makeRecords("dup")
	old[0].FetchedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seeded, err := s.InsertMany(ctx, old)
	require.NoError(t, err)
	oldID := seeded.Inserted[0].ID

	e := NewEngine(s, discardLogger(), WithClock(fixedClock(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))))
	out, err := e.Reconcile(ctx, makeRecords("dup"))
	require.NoError(t, err)

	assert.Equal(t, 1, out.InsertedCount)
	assert.Equal(t, 1, out.Retired)
	require.Len(t, out.Survivors, 1)
	assert.NotEqual(t, oldID, out.Survivors[0].ID)

	gone, err := s.Find(ctx, []model.RecordID{oldID})
	require.NoError(t, err)
	assert.Empty(t, gone, "older duplicate should be deleted")

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestReconcile_StampsOneTimestampPerBatch(t *testing.T) {
	s := store.NewMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.FixedZone("X", 3600))
	e := NewEngine(s, discardLogger(), WithClock(fixedClock(now)))

	out, err := e.Reconcile(context.Background(), makeRecords("a", "b"))
	require.NoError(t, err)

	want := now.UTC().Truncate(time.Millisecond)
	for _, r := range out.Survivors {
		assert.Equal(t, want, r.FetchedAt)
	}
}

func TestReconcile_DuplicatesInsideOneBatch(t *testing.T) {
	s := store.NewMemoryStore()
	e := NewEngine(s, discardLogger())

	out, err := e.Reconcile(context.Background(), makeRecords("same", "same", "other"))
	require.NoError(t, err)

	assert.Equal(t, 3, out.InsertedCount)
	assert.Equal(t, 1, out.Retired)
	// Equal fetched_at: the smaller id (first inserted) wins.
	require.Len(t, out.Survivors, 2)
	assert.Equal(t, model.RecordID("1"), out.Survivors[0].ID)
	assert.Equal(t, []string{"same", "other"}, externalIDs(out.Survivors))
}

func TestReconcile_IsolatesPerRecordInsertFailures(t *testing.T) {
	s := store.NewMemoryStore()
	e := NewEngine(s, discardLogger())

	// The memory store refuses empty external ids, like the SQL CHECK constraint.
	out, err := e.Reconcile(context.Background(), makeRecords("a", "", "c"))
	require.NoError(t, err)

	assert.Equal(t, 2, out.InsertedCount)
	require.Len(t, out.Failed, 1)
	assert.Equal(t, "", out.Failed[0].ExternalID)
	assert.Equal(t, []string{"a", "c"}, externalIDs(out.Survivors))
}

func TestRetireDuplicates_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	for i, ts := range []time.Time{
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC),
	} {
		recs := makeRecords("x", "y")
		for j := range recs {
			recs[j].FetchedAt = ts
		}
		_, err := s.InsertMany(ctx, recs)
		require.NoError(t, err, "seed %d", i)
	}

	e := NewEngine(s, discardLogger())
	first, err := e.RetireDuplicates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, first)

	second, err := e.RetireDuplicates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second)
}

func TestReconcile_ConvergesToOnePerExternalID(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for cycle := 0; cycle < 4; cycle++ {
		e := NewEngine(s, discardLogger(), WithClock(fixedClock(clock.Add(time.Duration(cycle)*time.Hour))))
		_, err := e.Reconcile(ctx, makeRecords("a", "b", "a", "c", "b"))
		require.NoError(t, err)
	}

	all, err := s.List(ctx)
	require.NoError(t, err)
	counts := map[string]int{}
	for _, r := range all {
		counts[r.ExternalID]++
		assert.True(t, r.FetchedAt.Equal(clock.Add(3*time.Hour)), "survivor of %s is not from the freshest cycle", r.ExternalID)
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, counts)
}

func TestPlanRetirements_LatestFetchWins(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	stale := PlanRetirements([]model.DuplicateGroup{{
		ExternalID: "job",
		Members: []model.GroupMember{
			{ID: "5", FetchedAt: t2}, // B
			{ID: "2", FetchedAt: t1}, // A
		},
	}})
	assert.Equal(t, []model.RecordID{"2"}, stale)
}

func TestPlanRetirements_TieBreaksOnSmallestID(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	stale := PlanRetirements([]model.DuplicateGroup{{
		ExternalID: "job",
		Members: []model.GroupMember{
			{ID: "12", FetchedAt: ts},
			{ID: "9", FetchedAt: ts},
			{ID: "3", FetchedAt: ts.Add(-time.Hour)},
		},
	}})
	assert.ElementsMatch(t, []model.RecordID{"12", "3"}, stale)
}

func TestPlanRetirements_IgnoresSingletons(t *testing.T) {
	stale := PlanRetirements([]model.DuplicateGroup{{ExternalID: "solo", Members: []model.GroupMember{{ID: "1"}}}})
	assert.Empty(t, stale)
}

func TestReconcile_GroupingFailureKeepsInsertedRecords(t *testing.T) {
	ctrl := gomock.NewController(t)
	ms := mocks.NewMockRecordStore(ctrl)

	inserted := []model.StoredRecord{{ID: "1", JobRecord: makeRecords("a")[0]}}
	ms.EXPECT().InsertMany(gomock.Any(), gomock.Len(1)).Return(model.InsertResult{Inserted: inserted}, nil)
	ms.EXPECT().DuplicateGroups(gomock.Any()).Return(nil, errors.New("aggregate timed out"))
	ms.EXPECT().DeleteMany(gomock.Any(), gomock.Any()).Times(0)

	e := NewEngine(ms, discardLogger())
	out, err := e.Reconcile(context.Background(), makeRecords("a"))

	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrReconciliationFailed)
	assert.Contains(t, err.Error(), "aggregate timed out")
	assert.Equal(t, 1, out.InsertedCount)
}

func TestReconcile_DeleteFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	ms := mocks.NewMockRecordStore(ctrl)

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ms.EXPECT().InsertMany(gomock.Any(), gomock.Any()).Return(model.InsertResult{
		Inserted: []model.StoredRecord{{ID: "2", JobRecord: makeRecords("a")[0]}},
	}, nil)
	ms.EXPECT().DuplicateGroups(gomock.Any()).Return([]model.DuplicateGroup{{
		ExternalID: "a",
		Members:    []model.GroupMember{{ID: "1", FetchedAt: ts}, {ID: "2", FetchedAt: ts.Add(time.Hour)}},
	}}, nil)
	ms.EXPECT().DeleteMany(gomock.Any(), []model.RecordID{"1"}).Return(int64(0), errors.New("connection reset"))

	e := NewEngine(ms, discardLogger())
	_, err := e.Reconcile(context.Background(), makeRecords("a"))
	assert.ErrorIs(t, err, model.ErrReconciliationFailed)
}

func TestReconcile_ReportsActualDeletions(t *testing.T) {
	ctrl := gomock.NewController(t)
	ms := mocks.NewMockRecordStore(ctrl)

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := ts.Add(24 * time.Hour)
	fresh := model.StoredRecord{ID: "3", JobRecord: makeRecords("a")[0]}
	fresh.FetchedAt = now

	ms.EXPECT().InsertMany(gomock.Any(), gomock.Any()).Return(model.InsertResult{Inserted: []model.StoredRecord{fresh}}, nil)
	ms.EXPECT().DuplicateGroups(gomock.Any()).Return([]model.DuplicateGroup{{
		ExternalID: "a",
		Members: []model.GroupMember{
			{ID: "1", FetchedAt: ts},
			{ID: "2", FetchedAt: ts.Add(time.Hour)},
			{ID: "3", FetchedAt: now},
		},
	}}, nil)
	// Another cycle already removed one of the two stale records.
	ms.EXPECT().DeleteMany(gomock.Any(), gomock.Len(2)).Return(int64(1), nil)
	ms.EXPECT().Find(gomock.Any(), []model.RecordID{"3"}).Return([]model.StoredRecord{fresh}, nil)

	e := NewEngine(ms, discardLogger(), WithClock(fixedClock(now)))
	out, err := e.Reconcile(context.Background(), makeRecords("a"))
	require.NoError(t, err)

	assert.Equal(t, 1, out.Retired)
	require.Len(t, out.Survivors, 1)
	assert.Empty(t, out.New, "posting was stored before this batch")
}

func TestReconcile_NewOnlyForFirstSeenExternalIDs(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	first := NewEngine(s, discardLogger(), WithClock(fixedClock(day)))
	out, err := first.Reconcile(ctx, makeRecords("a", "b", "b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, externalIDs(out.New))

	second := NewEngine(s, discardLogger(), WithClock(fixedClock(day.Add(6*time.Hour))))
	out, err = second.Reconcile(ctx, makeRecords("a", "c"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, externalIDs(out.Survivors))
	assert.Equal(t, []string{"c"}, externalIDs(out.New))
}

func TestReconcile_InsertFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	ms := mocks.NewMockRecordStore(ctrl)
	ms.EXPECT().InsertMany(gomock.Any(), gomock.Any()).Return(model.InsertResult{}, errors.New("store down"))

	e := NewEngine(ms, discardLogger())
	out, err := e.Reconcile(context.Background(), makeRecords("a"))
	assert.ErrorIs(t, err, model.ErrReconciliationFailed)
	assert.Zero(t, out.InsertedCount)
}

func TestReconcile_CancelDuringInsertLetsInsertFinish(t *testing.T) {
	ctrl := gomock.NewController(t)
	ms := mocks.NewMockRecordStore(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ms.EXPECT().InsertMany(gomock.Any(), gomock.Any()).DoAndReturn(
		func(opCtx context.Context, records []model.JobRecord) (model.InsertResult, error) {
			cancel()
			if opCtx.Err() != nil {
				t.Errorf("store op context cancelled with caller: %v", opCtx.Err())
			}
			return model.InsertResult{Inserted: []model.StoredRecord{{ID: "1", JobRecord: records[0]}}}, nil
		})
	ms.EXPECT().DuplicateGroups(gomock.Any()).Times(0)

	e := NewEngine(ms, discardLogger())
	out, err := e.Reconcile(ctx, makeRecords("a"))

	assert.ErrorIs(t, err, model.ErrReconciliationFailed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, out.InsertedCount)
}

func TestReconcile_StoreOpsAreBounded(t *testing.T) {
	ctrl := gomock.NewController(t)
	ms := mocks.NewMockRecordStore(ctrl)

	ms.EXPECT().InsertMany(gomock.Any(), gomock.Any()).DoAndReturn(
		func(opCtx context.Context, _ []model.JobRecord) (model.InsertResult, error) {
			<-opCtx.Done()
			return model.InsertResult{}, opCtx.Err()
		})

	e := NewEngine(ms, discardLogger(), WithOpTimeout(20*time.Millisecond))
	_, err := e.Reconcile(context.Background(), makeRecords("a"))

	assert.ErrorIs(t, err, model.ErrReconciliationFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
