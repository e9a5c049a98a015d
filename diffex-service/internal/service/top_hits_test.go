package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/diffex/diffex-service/internal/cache"
	"github.com/weiawesome/diffex/diffex-service/internal/domain"
	"github.com/weiawesome/diffex/diffex-service/internal/repository"
)

// thousandResults stores 1000 results for result-set 5, of which only two
// have a corrected p-value at or below 0.001.
func thousandResults() *fakeStore {
	s := newFakeStore()
	for i := 0; i < 1000; i++ {
		corrected := 0.01 + float64(i)*0.0001
		if i < 2 {
			corrected = 0.0005 + float64(i)*0.0001
		}
		s.addResult(domain.ResultID(i+1), domain.ProbeID(i+1), 5, domain.Float(corrected), domain.Float(corrected/10))
	}
	return s
}

func newTestFinder(store repository.BackingStore) (*TopHitsFinder, *cache.MemoryResultCache) {
	c := cache.NewMemoryResultCache(cache.MemoryOptions{Enabled: true})
	return NewTopHitsFinder(store, c, nil), c
}

func ascending(items []domain.DiffExResult) bool {
	return sort.SliceIsSorted(items, func(i, j int) bool {
		return items[i].CorrectedPvalue < items[j].CorrectedPvalue
	})
}

func TestTopHitsFallsBackWhenThresholdTooStrict(t *testing.T) {
	store := thousandResults()
	finder, _ := newTestFinder(store)
	ctx := context.Background()

	items, err := finder.FindTopHits(ctx, 5, 0.001, 100, 10)
	require.NoError(t, err)
	require.Len(t, items, 10)
	assert.True(t, ascending(items))
	assert.Equal(t, domain.ResultID(1), items[0].ResultID)
	assert.Equal(t, domain.ResultID(2), items[1].ResultID)
	assert.Equal(t, 2, store.count(repository.QueryTopHits))

	// served from the top-hits cache
	again, err := finder.FindTopHits(ctx, 5, 0.001, 100, 10)
	require.NoError(t, err)
	assert.Equal(t, items, again)
	assert.Equal(t, 2, store.count(repository.QueryTopHits))
}

func TestTopHitsThresholdResultCappedAtLimit(t *testing.T) {
	store := thousandResults()
	finder, c := newTestFinder(store)
	ctx := context.Background()

	items, err := finder.FindTopHits(ctx, 5, 0.5, 100, 10)
	require.NoError(t, err)
	assert.Len(t, items, 100)
	assert.True(t, ascending(items))
	assert.Equal(t, 1, store.count(repository.QueryTopHits))

	cached, ok := c.GetTopHits(ctx, 5)
	require.True(t, ok)
	assert.Len(t, cached, 100)
}

func TestTopHitsShortCachedListIsRequeried(t *testing.T) {
	store := thousandResults()
	finder, _ := newTestFinder(store)
	ctx := context.Background()

	items, err := finder.FindTopHits(ctx, 5, 0.001, 100, 5)
	require.NoError(t, err)
	require.Len(t, items, 5)
	calls := store.count(repository.QueryTopHits)

	items, err = finder.FindTopHits(ctx, 5, 0.001, 100, 10)
	require.NoError(t, err)
	assert.Len(t, items, 10)
	assert.Greater(t, store.count(repository.QueryTopHits), calls)
}

func TestTopHitsFewerResultsThanMinimum(t *testing.T) {
	store := newFakeStore()
	store.addResult(1, 1, 7, domain.Float(0.3), domain.Float(0.03))
	store.addResult(2, 2, 7, domain.Float(0.1), domain.Float(0.01))
	store.addResult(3, 3, 7, nil, domain.Float(0.01))
	finder, _ := newTestFinder(store)

	items, err := finder.FindTopHits(context.Background(), 7, 0.001, 100, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, domain.ResultID(2), items[0].ResultID)
}

func TestTopHitsRejectsInvalidArguments(t *testing.T) {
	store := thousandResults()
	finder, _ := newTestFinder(store)
	ctx := context.Background()

	cases := []struct {
		name       string
		rs         domain.ResultSetID
		threshold  float64
		limit      int
		minResults int
	}{
		{"zero min results", 5, 0.001, 100, 0},
		{"negative min results", 5, 0.001, 100, -1},
		{"zero limit", 5, 0.001, 0, 10},
		{"negative threshold", 5, -0.1, 100, 10},
		{"bad result set", 0, 0.001, 100, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := finder.FindTopHits(ctx, tc.rs, tc.threshold, tc.limit, tc.minResults)
			assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		})
	}
	assert.Equal(t, 0, store.total())
}

func TestTopHitsStoreFailureIsNotCached(t *testing.T) {
	store := thousandResults()
	store.before = func(string, int) error { return errors.New("db down") }
	finder, c := newTestFinder(store)
	ctx := context.Background()

	_, err := finder.FindTopHits(ctx, 5, 0.001, 100, 10)
	assert.ErrorIs(t, err, domain.ErrBackingStore)

	_, ok := c.GetTopHits(ctx, 5)
	assert.False(t, ok)
}

func TestTopHitsCancelled(t *testing.T) {
	finder, _ := newTestFinder(thousandResults())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := finder.FindTopHits(ctx, 5, 0.001, 100, 10)
	assert.ErrorIs(t, err, domain.ErrCancelled)
}

func TestTopHitsConcurrentCallersGetIndependentCopies(t *testing.T) {
	store := thousandResults()
	finder, _ := newTestFinder(store)
	ctx := context.Background()

	const workers = 8
	results := make([][]domain.DiffExResult, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = finder.FindTopHits(ctx, 5, 0.001, 100, 10)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}

	results[0][0].ResultID = 12345
	assert.NotEqual(t, domain.ResultID(12345), results[1][0].ResultID)
}

func TestTopHitsJoinedCallerIgnoresOtherCallersCancellation(t *testing.T) {
	store := thousandResults()
	started := make(chan struct{})
	release := make(chan struct{})
	store.before = func(query string, call int) error {
		if query == repository.QueryTopHits && call == 1 {
			close(started)
			<-release
		}
		return nil
	}
	finder, c := newTestFinder(store)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := finder.FindTopHits(ctxA, 5, 0.001, 100, 10)
		errA <- err
	}()
	<-started

	type outcome struct {
		items []domain.DiffExResult
		err   error
	}
	resB := make(chan outcome, 1)
	go func() {
		items, err := finder.FindTopHits(context.Background(), 5, 0.001, 100, 10)
		resB <- outcome{items, err}
	}()

	// give B time to join the in-flight query before A goes away
	time.Sleep(50 * time.Millisecond)
	cancelA()
	assert.ErrorIs(t, <-errA, domain.ErrCancelled)

	close(release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Len(t, b.items, 10)
	assert.True(t, ascending(b.items))

	// the shared query finished and populated the cache despite A's cancellation
	cached, ok := c.GetTopHits(context.Background(), 5)
	require.True(t, ok)
	assert.Len(t, cached, 10)
}

func TestSharedItemsRejectsUnexpectedValue(t *testing.T) {
	_, err := sharedItems(singleflight.Result{Val: "not a result list"})
	assert.Error(t, err)

	_, err = sharedItems(singleflight.Result{Err: domain.ErrBackingStore})
	assert.ErrorIs(t, err, domain.ErrBackingStore)

	shared := []domain.DiffExResult{{ResultID: 1}}
	items, err := sharedItems(singleflight.Result{Val: shared})
	require.NoError(t, err)
	items[0].ResultID = 2
	assert.Equal(t, domain.ResultID(1), shared[0].ResultID)
}
