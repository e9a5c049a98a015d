package repository

import (
	"context"
	"time"

	"github.com/weiawesome/diffex/diffex-service/internal/domain"
	"github.com/weiawesome/diffex/diffex-service/internal/metrics"
)

// InstrumentedStore records latency and outcome of every query of the
// wrapped store.
type InstrumentedStore struct {
	next      BackingStore
	collector metrics.Collector
}

// NewInstrumentedStore wraps next. A nil collector disables recording.
func NewInstrumentedStore(next BackingStore, collector metrics.Collector) *InstrumentedStore {
	if collector == nil {
		collector = metrics.Noop()
	}
	return &InstrumentedStore{next: next, collector: collector}
}

func (s *InstrumentedStore) observe(query string, start time.Time, err error) {
	s.collector.ObserveStoreQuery(query, time.Since(start), err)
}

func (s *InstrumentedStore) QueryProbeGeneMapping(ctx context.Context, genes []domain.GeneID, platforms []domain.PlatformID) (domain.ProbeGeneMapping, error) {
	start := time.Now()
	m, err := s.next.QueryProbeGeneMapping(ctx, genes, platforms)
	s.observe(QueryProbeGeneMapping, start, err)
	return m, err
}

func (s *InstrumentedStore) QueryResultTuples(ctx context.Context, probes []domain.ProbeID, resultSets []domain.ResultSetID) ([]domain.ResultTuple, error) {
	start := time.Now()
	tuples, err := s.next.QueryResultTuples(ctx, probes, resultSets)
	s.observe(QueryResultTuples, start, err)
	return tuples, err
}

func (s *InstrumentedStore) QueryTopHits(ctx context.Context, rs domain.ResultSetID, threshold *float64, limit int) ([]domain.DiffExResult, error) {
	start := time.Now()
	hits, err := s.next.QueryTopHits(ctx, rs, threshold, limit)
	s.observe(QueryTopHits, start, err)
	return hits, err
}

func (s *InstrumentedStore) GetPlatformsForResultSet(ctx context.Context, rs domain.ResultSetID) ([]domain.PlatformID, error) {
	start := time.Now()
	platforms, err := s.next.GetPlatformsForResultSet(ctx, rs)
	s.observe(QueryPlatforms, start, err)
	return platforms, err
}
