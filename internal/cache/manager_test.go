package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpusd/corpusd/internal/metrics"
	"github.com/corpusd/corpusd/internal/models"
	"github.com/corpusd/corpusd/internal/queue"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	manager := NewManagerWithClient(client, nil, nil)
	t.Cleanup(func() { _ = manager.Close() })
	return manager, mr
}

func TestSetWithTagsAndGet(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	type payload struct {
		Name string `json:"name"`
	}

	key := DocumentsKey("owner-1", "store-1")
	err := manager.SetWithTags(ctx, key, payload{Name: "docs"}, time.Minute,
		TagUser("owner-1"), TagStore("store-1"), TagAllDocuments)
	require.NoError(t, err)

	var got payload
	hit, err := manager.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "docs", got.Name)
}

func TestGetMiss(t *testing.T) {
	manager, _ := newTestManager(t)

	var dest string
	hit, err := manager.Get(context.Background(), "missing", &dest)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestGetOrSetCachesFetcherResult(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	calls := 0
	fetch := func(ctx context.Context) (any, error) {
		calls++
		return []string{"a", "b"}, nil
	}

	var first []string
	require.NoError(t, manager.GetOrSet(ctx, "list", &first, time.Minute, fetch, TagAllDocuments))
	assert.Equal(t, []string{"a", "b"}, first)
	assert.Equal(t, 1, calls)

	var second []string
	require.NoError(t, manager.GetOrSet(ctx, "list", &second, time.Minute, fetch, TagAllDocuments))
	assert.Equal(t, []string{"a", "b"}, second)
	assert.Equal(t, 1, calls, "second call must be served from cache")
}

func TestGetOrSetCountsHitsAndMisses(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	collectors := metrics.New()
	manager := NewManagerWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), collectors, nil)
	t.Cleanup(func() { _ = manager.Close() })
	ctx := context.Background()

	fetch := func(ctx context.Context) (any, error) { return "v", nil }
	var got string
	require.NoError(t, manager.GetOrSet(ctx, "k", &got, time.Minute, fetch))
	require.NoError(t, manager.GetOrSet(ctx, "k", &got, time.Minute, fetch))

	assert.Equal(t, float64(1), testutil.ToFloat64(collectors.CacheMisses))
	assert.Equal(t, float64(1), testutil.ToFloat64(collectors.CacheHits))
}

func TestGetOrSetDegradesWhenRedisDown(t *testing.T) {
	manager, mr := newTestManager(t)
	mr.Close()

	calls := 0
	fetch := func(ctx context.Context) (any, error) {
		calls++
		return 42, nil
	}

	var got int
	err := manager.GetOrSet(context.Background(), "k", &got, time.Minute, fetch)
	require.NoError(t, err, "redis being down must not surface as an error")
	assert.Equal(t, 42, got)
	assert.Equal(t, 1, calls)
}

func TestGetOrSetPropagatesFetcherError(t *testing.T) {
	manager, _ := newTestManager(t)

	wantErr := errors.New("backend down")
	var got int
	err := manager.GetOrSet(context.Background(), "k", &got, time.Minute,
		func(ctx context.Context) (any, error) { return nil, wantErr })
	assert.ErrorIs(t, err, wantErr)
}

func TestInvalidateByTags(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, manager.SetWithTags(ctx, SearchKey("store-1", "query one", "en"),
		"result1", time.Minute, TagStore("store-1"), TagAllDocuments))
	require.NoError(t, manager.SetWithTags(ctx, SearchKey("store-1", "query two", "en"),
		"result2", time.Minute, TagStore("store-1"), TagAllDocuments))
	require.NoError(t, manager.SetWithTags(ctx, SearchKey("store-2", "query", "en"),
		"other", time.Minute, TagStore("store-2"), TagAllDocuments))

	removed, err := manager.InvalidateByTags(ctx, TagStore("store-1"))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	var dest string
	hit, err := manager.Get(ctx, SearchKey("store-2", "query", "en"), &dest)
	require.NoError(t, err)
	assert.True(t, hit, "other store's entries must survive")
}

func TestInvalidateDocumentScope(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	key := DocumentsKey("owner-9", "store-9")
	require.NoError(t, manager.SetWithTags(ctx, key, "cached", time.Minute,
		TagUser("owner-9"), TagStore("store-9"), TagAllDocuments))

	manager.InvalidateDocumentScope(ctx, "owner-9", "store-9")

	var dest string
	hit, err := manager.Get(ctx, key, &dest)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestSearchKeyDeterministicAndHashed(t *testing.T) {
	a := SearchKey("store", "what is the refund policy?", "en")
	b := SearchKey("store", "what is the refund policy?", "en")
	c := SearchKey("store", "different question", "en")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotContains(t, a, "?", "raw query text must not leak into the key")
}

func TestRunInvalidatorOnTerminalEvents(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	key := DocumentsKey("owner-ev", "store-ev")
	require.NoError(t, manager.SetWithTags(context.Background(), key, "cached",
		time.Minute, TagUser("owner-ev"), TagStore("store-ev"), TagAllDocuments))

	events := make(chan queue.JobEvent, 4)
	done := make(chan struct{})
	go func() {
		RunInvalidator(ctx, events, manager)
		close(done)
	}()

	// A transition event must not invalidate anything
	events <- queue.JobEvent{Type: queue.EventTransition, OwnerID: "owner-ev", StoreRef: "store-ev"}
	// A completed event must
	events <- queue.JobEvent{
		Type:     queue.EventCompleted,
		OwnerID:  "owner-ev",
		StoreRef: "store-ev",
		Status:   models.JobStatus{DocumentID: "doc-1", State: models.StateReady},
	}
	close(events)
	<-done

	var dest string
	hit, err := manager.Get(context.Background(), key, &dest)
	require.NoError(t, err)
	assert.False(t, hit)
}
