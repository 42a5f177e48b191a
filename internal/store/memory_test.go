package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amishk599/jobtracker/internal/model"
)

func TestMemoryStore_InsertAssignsIncreasingIDs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	res, err := s.InsertMany(ctx, []model.JobRecord{testRecord("a", time.Time{}), testRecord("b", time.Time{})})
	require.NoError(t, err)
	require.Len(t, res.Inserted, 2)
	assert.True(t, res.Inserted[0].ID.Less(res.Inserted[1].ID))

	more, err := s.InsertMany(ctx, []model.JobRecord{testRecord("c", time.Time{})})
	require.NoError(t, err)
	assert.True(t, res.Inserted[1].ID.Less(more.Inserted[0].ID))
}

func TestMemoryStore_RejectsEmptyExternalIDOnly(t *testing.T) {
	s := NewMemoryStore()

	res, err := s.InsertMany(context.Background(), []model.JobRecord{testRecord("", time.Time{}), testRecord("ok", time.Time{})})
	require.NoError(t, err)
	assert.Len(t, res.Inserted, 1)
	require.Len(t, res.Failed, 1)
	assert.ErrorIs(t, res.Failed[0].Err, errEmptyExternalID)
}

func TestMemoryStore_DuplicateGroups(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.InsertMany(ctx, []model.JobRecord{
		testRecord("x", t1),
		testRecord("solo", t1),
		testRecord("x", t1.Add(time.Hour)),
	})
	require.NoError(t, err)

	groups, err := s.DuplicateGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "x", groups[0].ExternalID)
	assert.Equal(t, []model.GroupMember{
		{ID: "1", FetchedAt: t1},
		{ID: "3", FetchedAt: t1.Add(time.Hour)},
	}, groups[0].Members)
}

func TestMemoryStore_DeleteFindListWipe(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.InsertMany(ctx, []model.JobRecord{testRecord("a", time.Time{}), testRecord("b", time.Time{}), testRecord("c", time.Time{})})
	require.NoError(t, err)

	n, err := s.DeleteMany(ctx, []model.RecordID{"2", "99"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	found, err := s.Find(ctx, []model.RecordID{"1", "2", "3"})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, model.RecordID("1"), all[0].ID)
	assert.Equal(t, model.RecordID("3"), all[1].ID)

	wiped, err := s.Wipe(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), wiped)

	all, err = s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	res, err := s.InsertMany(ctx, []model.JobRecord{testRecord("a", time.Time{})})
	require.NoError(t, err)
	res.Inserted[0].Locations[0] = "mutated"

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Chicago, Illinois", all[0].Locations[0])
}

func TestMemoryStore_EmptyLocationsStayNonNil(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	rec := testRecord("a", time.Time{})
	rec.Locations = []string{}
	res, err := s.InsertMany(ctx, []model.JobRecord{rec})
	require.NoError(t, err)
	require.Len(t, res.Inserted, 1)
	assert.NotNil(t, res.Inserted[0].Locations)

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.NotNil(t, all[0].Locations)

	body, err := json.Marshal(all[0])
	require.NoError(t, err)
	assert.Contains(t, string(body), `"locations":[]`)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryStore().InsertMany(ctx, []model.JobRecord{testRecord("a", time.Time{})})
	assert.ErrorIs(t, err, context.Canceled)
}
