package service

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/diffex/diffex-service/internal/cache"
	"github.com/weiawesome/diffex/diffex-service/internal/domain"
	"github.com/weiawesome/diffex/diffex-service/internal/metrics"
	"github.com/weiawesome/diffex/diffex-service/internal/repository"
	"github.com/weiawesome/diffex/pkg/log"
)

// TopHitsFinder returns the most significant results of a result-set.
type TopHitsFinder struct {
	store     repository.BackingStore
	cache     cache.ResultCache
	collector metrics.Collector
	sf        singleflight.Group
}

// NewTopHitsFinder creates a finder. A nil collector disables metrics.
func NewTopHitsFinder(store repository.BackingStore, resultCache cache.ResultCache, collector metrics.Collector) *TopHitsFinder {
	if collector == nil {
		collector = metrics.Noop()
	}
	return &TopHitsFinder{
		store:     store,
		cache:     resultCache,
		collector: collector,
	}
}

// FindTopHits returns up to limit results of rs with corrected p-value at or
// below threshold. When fewer than minResults pass the threshold, the
// minResults most significant results are returned instead.
func (f *TopHitsFinder) FindTopHits(ctx context.Context, rs domain.ResultSetID, threshold float64, limit, minResults int) ([]domain.DiffExResult, error) {
	switch {
	case rs <= 0:
		return nil, fmt.Errorf("%w: result set id %d", domain.ErrInvalidArgument, rs)
	case minResults <= 0:
		return nil, fmt.Errorf("%w: min results must be positive, got %d", domain.ErrInvalidArgument, minResults)
	case limit <= 0:
		return nil, fmt.Errorf("%w: limit must be positive, got %d", domain.ErrInvalidArgument, limit)
	case threshold < 0:
		return nil, fmt.Errorf("%w: threshold must not be negative, got %g", domain.ErrInvalidArgument, threshold)
	}

	if cached, ok := f.cache.GetTopHits(ctx, rs); ok && len(cached) >= minResults {
		f.collector.TopHitsCacheHit()
		return cached, nil
	}

	if ctx.Err() != nil {
		return nil, cancelled(ctx)
	}

	// The shared query outlives any single caller; each caller still stops
	// waiting when its own ctx ends.
	shared := context.WithoutCancel(ctx)
	key := fmt.Sprintf("%d:%g:%d:%d", rs, threshold, limit, minResults)
	ch := f.sf.DoChan(key, func() (interface{}, error) {
		return f.query(shared, rs, threshold, limit, minResults)
	})

	select {
	case <-ctx.Done():
		return nil, cancelled(ctx)
	case res := <-ch:
		return sharedItems(res)
	}
}

// sharedItems unpacks a collapsed query result into a caller-owned copy.
func sharedItems(res singleflight.Result) ([]domain.DiffExResult, error) {
	if res.Err != nil {
		return nil, res.Err
	}
	items, ok := res.Val.([]domain.DiffExResult)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	// Results are shared between collapsed callers.
	return slices.Clone(items), nil
}

func (f *TopHitsFinder) query(ctx context.Context, rs domain.ResultSetID, threshold float64, limit, minResults int) ([]domain.DiffExResult, error) {
	l := log.Ctx(ctx)

	items, err := f.store.QueryTopHits(ctx, rs, &threshold, limit)
	if err != nil {
		return nil, storeError(ctx, repository.QueryTopHits, err)
	}

	if len(items) < minResults {
		l.Debug().
			Int64(log.FieldResultSetID, int64(rs)).
			Float64("threshold", threshold).
			Int("found", len(items)).
			Int("min_results", minResults).
			Msg("too few top hits under threshold, falling back")
		f.collector.TopHitsFallback()

		items, err = f.store.QueryTopHits(ctx, rs, nil, minResults)
		if err != nil {
			return nil, storeError(ctx, repository.QueryTopHits, err)
		}
	}

	if items == nil {
		items = []domain.DiffExResult{}
	}
	f.cache.PutTopHits(ctx, rs, items)
	return items, nil
}
