package service

import (
	"context"

	"github.com/weiawesome/diffex/diffex-service/internal/domain"
)

// DiffExService is the lookup facade used by the HTTP layer and the
// invalidation listener.
type DiffExService interface {
	// FindResultsForGenesAndResultSets returns one entry per requested
	// (result-set, gene) pair, or an error. It never returns a partial map.
	FindResultsForGenesAndResultSets(
		ctx context.Context,
		resultSets []domain.ResultSetSummary,
		genes []domain.GeneID,
	) (map[domain.ResultSetID]map[domain.GeneID]domain.CachedResult, error)

	FindTopHits(
		ctx context.Context,
		rs domain.ResultSetID,
		threshold float64,
		limit, minResults int,
	) ([]domain.DiffExResult, error)

	ClearAllCaches(ctx context.Context)
	ClearCache(ctx context.Context, rs domain.ResultSetID)
	ClearTopHitCache(ctx context.Context, rs domain.ResultSetID)
	SetEnabled(enabled bool)
	CacheEnabled() bool
}
