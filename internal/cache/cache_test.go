package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amishk599/jobtracker/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memCache is an in-memory Cache for tests.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	ttls    map[string]time.Duration
	getErr  error
	setErr  error
}

func newMemCache() *memCache {
	return &memCache{entries: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.entries[key], nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.entries[key] = value
	m.ttls[key] = ttl
	return nil
}

type countingSearcher struct {
	calls    int
	listings []model.RawListing
	err      error
}

func (s *countingSearcher) Search(_ context.Context, _ model.SearchParams) ([]model.RawListing, error) {
	s.calls++
	return s.listings, s.err
}

func params() model.SearchParams {
	minPay := 100000
	return model.SearchParams{Location: "Chicago, Illinois", Role: "data engineering", Keyword: "data engineering", MinPay: &minPay}
}

func TestCachedSearcher_SecondCallHitsCache(t *testing.T) {
	inner := &countingSearcher{listings: []model.RawListing{{ExternalID: "a", Locations: []string{"Chicago, Illinois"}}}}
	c := newMemCache()
	s := NewCachedSearcher(inner, c, time.Minute, discardLogger())

	first, err := s.Search(context.Background(), params())
	require.NoError(t, err)
	second, err := s.Search(context.Background(), params())
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, first, second)
	assert.Equal(t, time.Minute, c.ttls[Key(params())])
}

func TestCachedSearcher_UpstreamErrorNotCached(t *testing.T) {
	inner := &countingSearcher{err: errors.New("503")}
	c := newMemCache()
	s := NewCachedSearcher(inner, c, 0, discardLogger())

	_, err := s.Search(context.Background(), params())
	require.Error(t, err)
	assert.Empty(t, c.entries)

	inner.err = nil
	_, err = s.Search(context.Background(), params())
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, DefaultTTL, c.ttls[Key(params())])
}

func TestCachedSearcher_CacheFailuresFallThrough(t *testing.T) {
	inner := &countingSearcher{listings: []model.RawListing{{ExternalID: "a"}}}
	c := newMemCache()
	c.getErr = errors.New("connection refused")
	c.setErr = errors.New("connection refused")
	s := NewCachedSearcher(inner, c, time.Minute, discardLogger())

	got, err := s.Search(context.Background(), params())
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedSearcher_UndecodableEntryRefetches(t *testing.T) {
	inner := &countingSearcher{listings: []model.RawListing{{ExternalID: "a"}}}
	c := newMemCache()
	c.entries[Key(params())] = []byte("not json")
	s := NewCachedSearcher(inner, c, time.Minute, discardLogger())

	got, err := s.Search(context.Background(), params())
	require.NoError(t, err)
	assert.Equal(t, "a", got[0].ExternalID)
	assert.Equal(t, 1, inner.calls)
}

func TestKey(t *testing.T) {
	base := params()
	assert.Equal(t, Key(base), Key(model.SearchParams{
		Location: " chicago, illinois ", Role: "Data Engineering", Keyword: "DATA ENGINEERING", MinPay: base.MinPay,
	}))

	other := base
	other.MinPay = nil
	assert.NotEqual(t, Key(base), Key(other))

	maxPay := 100000
	swapped := model.SearchParams{Location: base.Location, Role: base.Role, Keyword: base.Keyword, MaxPay: &maxPay}
	assert.NotEqual(t, Key(base), Key(swapped))
}

func TestRedisCache(t *testing.T) {
	url := os.Getenv("JOBTRACKER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("JOBTRACKER_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	c := NewRedisCache(client)
	key := "jobtracker:test:" + time.Now().Format(time.RFC3339Nano)

	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got, "missing key is a miss, not an error")

	require.NoError(t, c.Set(ctx, key, []byte("v"), time.Minute))
	got, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	_, err = c.Get(ctx, "")
	assert.Error(t, err)
	require.NoError(t, client.Del(ctx, key).Err())
}
