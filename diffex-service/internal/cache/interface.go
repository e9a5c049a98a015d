package cache

import (
	"context"

	"github.com/weiawesome/diffex/diffex-service/internal/domain"
)

// ResultCache maps (result-set, gene) to a CachedResult and keeps an
// independent top-hits list per result-set.
//
// Every method is safe for concurrent use. Implementations never return
// errors: a failing cache backend behaves like an empty cache.
type ResultCache interface {
	Get(ctx context.Context, rs domain.ResultSetID, gene domain.GeneID) (domain.CachedResult, bool)
	// GetMany returns the entries present for the genes; absent genes are omitted.
	GetMany(ctx context.Context, rs domain.ResultSetID, genes []domain.GeneID) []domain.CachedResult
	Put(ctx context.Context, result domain.CachedResult)
	PutAll(ctx context.Context, results []domain.CachedResult)

	// Clear removes every entry including top hits.
	Clear(ctx context.Context)
	// ClearResultSet removes the entries of one result-set only.
	ClearResultSet(ctx context.Context, rs domain.ResultSetID)

	// SetEnabled toggles the cache. While disabled, reads miss and writes are
	// dropped; clears still apply.
	SetEnabled(enabled bool)
	Enabled() bool

	GetTopHits(ctx context.Context, rs domain.ResultSetID) ([]domain.DiffExResult, bool)
	PutTopHits(ctx context.Context, rs domain.ResultSetID, items []domain.DiffExResult)
	ClearTopHits(ctx context.Context, rs domain.ResultSetID)

	Close() error
}

func copyItems(items []domain.DiffExResult) []domain.DiffExResult {
	if items == nil {
		return nil
	}
	out := make([]domain.DiffExResult, len(items))
	copy(out, items)
	return out
}
