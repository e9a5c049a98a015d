package service

import (
	"context"

	"github.com/weiawesome/diffex/diffex-service/internal/cache"
	"github.com/weiawesome/diffex/diffex-service/internal/domain"
	"github.com/weiawesome/diffex/pkg/log"
)

type diffExServiceImpl struct {
	aggregator *ResultAggregator
	topHits    *TopHitsFinder
	cache      cache.ResultCache
}

// NewDiffExService combines the aggregator and the top-hits finder over a
// shared cache.
func NewDiffExService(aggregator *ResultAggregator, topHits *TopHitsFinder, resultCache cache.ResultCache) DiffExService {
	return &diffExServiceImpl{
		aggregator: aggregator,
		topHits:    topHits,
		cache:      resultCache,
	}
}

func (s *diffExServiceImpl) FindResultsForGenesAndResultSets(
	ctx context.Context,
	resultSets []domain.ResultSetSummary,
	genes []domain.GeneID,
) (map[domain.ResultSetID]map[domain.GeneID]domain.CachedResult, error) {
	return s.aggregator.FindResultsForGenesAndResultSets(ctx, resultSets, genes)
}

func (s *diffExServiceImpl) FindTopHits(ctx context.Context, rs domain.ResultSetID, threshold float64, limit, minResults int) ([]domain.DiffExResult, error) {
	return s.topHits.FindTopHits(ctx, rs, threshold, limit, minResults)
}

func (s *diffExServiceImpl) ClearAllCaches(ctx context.Context) {
	s.cache.Clear(ctx)

	l := log.Ctx(ctx)
	l.Info().Msg("all result caches cleared")
}

func (s *diffExServiceImpl) ClearCache(ctx context.Context, rs domain.ResultSetID) {
	s.cache.ClearResultSet(ctx, rs)

	l := log.Ctx(ctx)
	l.Info().Int64(log.FieldResultSetID, int64(rs)).Msg("result cache cleared")
}

func (s *diffExServiceImpl) ClearTopHitCache(ctx context.Context, rs domain.ResultSetID) {
	s.cache.ClearTopHits(ctx, rs)

	l := log.Ctx(ctx)
	l.Info().Int64(log.FieldResultSetID, int64(rs)).Msg("top hits cache cleared")
}

func (s *diffExServiceImpl) SetEnabled(enabled bool) {
	s.cache.SetEnabled(enabled)
	l := log.L()
	l.Info().Bool("enabled", enabled).Msg("result cache toggled")
}

func (s *diffExServiceImpl) CacheEnabled() bool {
	return s.cache.Enabled()
}
