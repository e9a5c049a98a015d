package repository

import (
	"context"
	"errors"

	"github.com/weiawesome/diffex/diffex-service/internal/domain"
)

var (
	ErrResultSetNotFound = errors.New("result set not found")
)

// BackingStore is the read-only source of probe mappings and results.
// Callers keep id lists within the configured batch sizes.
type BackingStore interface {
	// QueryProbeGeneMapping returns the probes of platforms that map to any of genes.
	QueryProbeGeneMapping(ctx context.Context, genes []domain.GeneID, platforms []domain.PlatformID) (domain.ProbeGeneMapping, error)
	// QueryResultTuples returns every result row of probes within resultSets.
	// P-values may be nil.
	QueryResultTuples(ctx context.Context, probes []domain.ProbeID, resultSets []domain.ResultSetID) ([]domain.ResultTuple, error)
	// QueryTopHits returns results of rs ordered ascending by corrected
	// p-value, at most limit rows. A nil threshold means no threshold.
	QueryTopHits(ctx context.Context, rs domain.ResultSetID, threshold *float64, limit int) ([]domain.DiffExResult, error)
	// GetPlatformsForResultSet returns the platforms rs was computed on.
	GetPlatformsForResultSet(ctx context.Context, rs domain.ResultSetID) ([]domain.PlatformID, error)
}

// Query names used in logs and metrics.
const (
	QueryProbeGeneMapping = "probe_gene_mapping"
	QueryResultTuples     = "result_tuples"
	QueryTopHits          = "top_hits"
	QueryPlatforms        = "platforms"
)
