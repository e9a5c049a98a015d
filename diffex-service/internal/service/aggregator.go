package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/diffex/diffex-service/internal/batch"
	"github.com/weiawesome/diffex/diffex-service/internal/cache"
	"github.com/weiawesome/diffex/diffex-service/internal/domain"
	"github.com/weiawesome/diffex/diffex-service/internal/metrics"
	"github.com/weiawesome/diffex/diffex-service/internal/repository"
	"github.com/weiawesome/diffex/pkg/log"
)

// DefaultDiffExpressedThreshold is the corrected p-value below which a probe
// counts as differentially expressed.
const DefaultDiffExpressedThreshold = 0.05

// AggregatorConfig tunes the aggregator.
type AggregatorConfig struct {
	Limits batch.Limits
	// Concurrency is the number of result-set batches processed at once.
	Concurrency int
	// FillNonSignificant writes NonSignificant instead of Missing for genes
	// that have probes on the result-set's platforms but no usable result.
	FillNonSignificant     bool
	DiffExpressedThreshold float64
}

// ResultAggregator resolves (result-set, gene) pairs through the cache and
// the backing store.
type ResultAggregator struct {
	store     repository.BackingStore
	cache     cache.ResultCache
	collector metrics.Collector
	cfg       AggregatorConfig
}

// NewResultAggregator creates an aggregator. A nil collector disables metrics.
func NewResultAggregator(store repository.BackingStore, resultCache cache.ResultCache, collector metrics.Collector, cfg AggregatorConfig) *ResultAggregator {
	if collector == nil {
		collector = metrics.Noop()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.DiffExpressedThreshold <= 0 {
		cfg.DiffExpressedThreshold = DefaultDiffExpressedThreshold
	}
	return &ResultAggregator{
		store:     store,
		cache:     resultCache,
		collector: collector,
		cfg:       cfg,
	}
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", domain.ErrCancelled, ctx.Err())
}

// storeError classifies a backing store failure. A store call that failed
// because ctx ended is a cancellation, not a store fault.
func storeError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return cancelled(ctx)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrBackingStore, op, err)
}

// FindResultsForGenesAndResultSets returns an entry for every requested pair.
func (a *ResultAggregator) FindResultsForGenesAndResultSets(
	ctx context.Context,
	resultSets []domain.ResultSetSummary,
	genes []domain.GeneID,
) (map[domain.ResultSetID]map[domain.GeneID]domain.CachedResult, error) {
	l := log.Ctx(ctx)

	summaries, err := normalizeSummaries(resultSets)
	if err != nil {
		return nil, err
	}
	for _, g := range genes {
		if g <= 0 {
			return nil, fmt.Errorf("%w: gene id %d", domain.ErrInvalidArgument, g)
		}
	}
	genes = batch.UniqueSorted(genes)

	if ctx.Err() != nil {
		return nil, cancelled(ctx)
	}

	out := make(map[domain.ResultSetID]map[domain.GeneID]domain.CachedResult, len(summaries))
	for _, s := range summaries {
		out[s.ID] = make(map[domain.GeneID]domain.CachedResult, len(genes))
	}
	if len(genes) == 0 || len(summaries) == 0 {
		return out, nil
	}

	// Cache pass.
	hits := 0
	remaining := make([]domain.ResultSetSummary, 0, len(summaries))
	for _, s := range summaries {
		for _, r := range a.cache.GetMany(ctx, s.ID, genes) {
			out[s.ID][r.GeneID] = r
		}
		hits += len(out[s.ID])
		if len(out[s.ID]) < len(genes) {
			remaining = append(remaining, s)
		}
	}
	a.collector.CacheHits(hits)
	a.collector.CacheMisses(len(summaries)*len(genes) - hits)

	if len(remaining) == 0 {
		l.Debug().
			Int(log.FieldResultSetCount, len(summaries)).
			Int(log.FieldGeneCount, len(genes)).
			Msg("all results served from cache")
		return out, nil
	}

	remaining, err = a.resolvePlatforms(ctx, remaining)
	if err != nil {
		return nil, err
	}

	byID := make(map[domain.ResultSetID]domain.ResultSetSummary, len(remaining))
	ids := make([]domain.ResultSetID, 0, len(remaining))
	for _, s := range remaining {
		byID[s.ID] = s
		ids = append(ids, s.ID)
	}

	plan := batch.New(ids, genes, a.cfg.Limits)
	l.Debug().
		Int(log.FieldResultSetCount, len(ids)).
		Int(log.FieldGeneCount, len(genes)).
		Int(log.FieldCacheHits, hits).
		Bool("by_result_set", plan.ByResultSet).
		Int("result_set_batches", len(plan.ResultSetBatches)).
		Int("gene_batches", len(plan.GeneBatches)).
		Int("cells", plan.Cells()).
		Msg("planned result lookup")

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)

	for i, rsBatch := range plan.ResultSetBatches {
		batchSummaries := make([]domain.ResultSetSummary, len(rsBatch))
		for j, id := range rsBatch {
			batchSummaries[j] = byID[id]
		}

		if gCtx.Err() != nil {
			break
		}

		g.Go(func() error {
			computed, err := a.processResultSetBatch(gCtx, i, batchSummaries, genes, plan.GeneBatches, out)
			if err != nil {
				return err
			}

			// The batch is complete; nothing from a failed batch reaches the cache.
			a.cache.PutAll(ctx, computed)
			a.recordSentinels(computed)

			mu.Lock()
			for _, r := range computed {
				out[r.ResultSetID][r.GeneID] = r
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, domain.ErrBackingStore) {
			l.Error().Err(err).Msg("result lookup failed")
		}
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, cancelled(ctx)
	}

	return out, nil
}

// processResultSetBatch computes the entries of every pair of rsBatch that
// was not served by the cache. cached is only read.
func (a *ResultAggregator) processResultSetBatch(
	ctx context.Context,
	index int,
	rsBatch []domain.ResultSetSummary,
	genes []domain.GeneID,
	geneBatches [][]domain.GeneID,
	cached map[domain.ResultSetID]map[domain.GeneID]domain.CachedResult,
) ([]domain.CachedResult, error) {
	ctx = log.WithBatch(ctx, index)
	l := log.Ctx(ctx)

	ids := make([]domain.ResultSetID, len(rsBatch))
	rsPlatforms := make(map[domain.ResultSetID]map[domain.PlatformID]struct{}, len(rsBatch))
	var platforms []domain.PlatformID
	for i, s := range rsBatch {
		ids[i] = s.ID
		set := make(map[domain.PlatformID]struct{}, len(s.ArrayDesignIDs))
		for _, p := range s.ArrayDesignIDs {
			set[p] = struct{}{}
			platforms = append(platforms, p)
		}
		rsPlatforms[s.ID] = set
	}
	platforms = batch.UniqueSorted(platforms)

	// gene -> platforms carrying at least one of its probes, across gene batches
	genePlatforms := make(map[domain.GeneID]map[domain.PlatformID]struct{})
	hitsByKey := make(map[domain.ResultKey]*domain.CachedResult)

	for _, geneBatch := range geneBatches {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		mapping, err := a.store.QueryProbeGeneMapping(ctx, geneBatch, platforms)
		if err != nil {
			return nil, storeError(ctx, repository.QueryProbeGeneMapping, err)
		}
		indexPlatforms(genePlatforms, mapping)

		inBatch := make(map[domain.GeneID]struct{}, len(geneBatch))
		for _, g := range geneBatch {
			inBatch[g] = struct{}{}
		}

		probes := probesForGenes(mapping, inBatch)
		if len(probes) == 0 {
			continue
		}

		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		tuples, err := a.store.QueryResultTuples(ctx, probes, ids)
		if err != nil {
			return nil, storeError(ctx, repository.QueryResultTuples, err)
		}

		skipped := 0
		for _, t := range tuples {
			if !t.Usable() {
				skipped++
				continue
			}
			allowed, ok := rsPlatforms[t.ResultSetID]
			if !ok {
				continue
			}
			mapped, ok := mapping.Genes[t.ProbeID]
			if !ok {
				l.Warn().
					Int64(log.FieldProbeID, int64(t.ProbeID)).
					Int64(log.FieldResultSetID, int64(t.ResultSetID)).
					Msg("result for probe without gene mapping, skipping")
				continue
			}
			if _, ok := allowed[mapping.Platforms[t.ProbeID]]; !ok {
				continue
			}

			for _, g := range mapped {
				if _, ok := inBatch[g]; !ok {
					continue
				}
				a.accumulate(hitsByKey, t, g)
			}
		}

		l.Debug().
			Int(log.FieldProbeCount, len(probes)).
			Int("tuples", len(tuples)).
			Int("skipped_null", skipped).
			Msg("result tuples reduced")
	}

	computed := make([]domain.CachedResult, 0, len(ids)*len(genes))
	for _, rs := range ids {
		for _, g := range genes {
			if _, ok := cached[rs][g]; ok {
				continue
			}
			key := domain.ResultKey{ResultSetID: rs, GeneID: g}
			if h, ok := hitsByKey[key]; ok {
				computed = append(computed, *h)
				continue
			}
			if a.cfg.FillNonSignificant && sharesPlatform(genePlatforms[g], rsPlatforms[rs]) {
				computed = append(computed, domain.NewNonSignificant(rs, g))
				continue
			}
			computed = append(computed, domain.NewMissing(rs, g))
		}
	}
	return computed, nil
}

// accumulate folds tuple t into the in-progress Hit of (t.ResultSetID, gene).
// The lowest corrected p-value wins; ties keep the first probe seen.
func (a *ResultAggregator) accumulate(hits map[domain.ResultKey]*domain.CachedResult, t domain.ResultTuple, gene domain.GeneID) {
	diffExpressed := 0
	if *t.CorrectedPvalue < a.cfg.DiffExpressedThreshold {
		diffExpressed = 1
	}

	key := domain.ResultKey{ResultSetID: t.ResultSetID, GeneID: gene}
	h, ok := hits[key]
	if !ok {
		hits[key] = &domain.CachedResult{
			Kind:                   domain.KindHit,
			ResultSetID:            t.ResultSetID,
			GeneID:                 gene,
			ResultID:               t.ResultID,
			CorrectedPvalue:        domain.Float(*t.CorrectedPvalue),
			Pvalue:                 domain.Float(*t.Pvalue),
			NumProbes:              1,
			NumProbesDiffExpressed: diffExpressed,
		}
		return
	}

	h.NumProbes++
	h.NumProbesDiffExpressed += diffExpressed
	if h.CorrectedPvalue == nil || *t.CorrectedPvalue < *h.CorrectedPvalue {
		h.ResultID = t.ResultID
		h.CorrectedPvalue = domain.Float(*t.CorrectedPvalue)
		h.Pvalue = domain.Float(*t.Pvalue)
	}
}

func (a *ResultAggregator) recordSentinels(computed []domain.CachedResult) {
	written := map[domain.ResultKind]int{
		domain.KindNonSignificant: 0,
		domain.KindMissing:        0,
	}
	for _, r := range computed {
		if r.IsSentinel() {
			written[r.Kind]++
		}
	}
	for kind, n := range written {
		a.collector.SentinelsWritten(string(kind), n)
	}
}

// resolvePlatforms fills in the platforms of summaries that arrived without any.
func (a *ResultAggregator) resolvePlatforms(ctx context.Context, summaries []domain.ResultSetSummary) ([]domain.ResultSetSummary, error) {
	for i, s := range summaries {
		if len(s.ArrayDesignIDs) > 0 {
			continue
		}
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		platforms, err := a.store.GetPlatformsForResultSet(ctx, s.ID)
		if err != nil {
			if errors.Is(err, repository.ErrResultSetNotFound) {
				return nil, fmt.Errorf("%w: result set %d: %w", domain.ErrInvalidArgument, s.ID, err)
			}
			return nil, storeError(ctx, repository.QueryPlatforms, err)
		}
		summaries[i].ArrayDesignIDs = platforms
	}
	return summaries, nil
}

// normalizeSummaries validates ids and merges duplicate result-sets.
func normalizeSummaries(in []domain.ResultSetSummary) ([]domain.ResultSetSummary, error) {
	index := make(map[domain.ResultSetID]int, len(in))
	out := make([]domain.ResultSetSummary, 0, len(in))
	for _, s := range in {
		if s.ID <= 0 {
			return nil, fmt.Errorf("%w: result set id %d", domain.ErrInvalidArgument, s.ID)
		}
		for _, p := range s.ArrayDesignIDs {
			if p <= 0 {
				return nil, fmt.Errorf("%w: platform id %d for result set %d", domain.ErrInvalidArgument, p, s.ID)
			}
		}
		if i, ok := index[s.ID]; ok {
			out[i].ArrayDesignIDs = batch.UniqueSorted(append(out[i].ArrayDesignIDs, s.ArrayDesignIDs...))
			continue
		}
		index[s.ID] = len(out)
		out = append(out, domain.ResultSetSummary{
			ID:             s.ID,
			ArrayDesignIDs: batch.UniqueSorted(s.ArrayDesignIDs),
		})
	}
	return out, nil
}

func indexPlatforms(index map[domain.GeneID]map[domain.PlatformID]struct{}, mapping domain.ProbeGeneMapping) {
	for probe, mapped := range mapping.Genes {
		platform := mapping.Platforms[probe]
		for _, g := range mapped {
			set, ok := index[g]
			if !ok {
				set = make(map[domain.PlatformID]struct{})
				index[g] = set
			}
			set[platform] = struct{}{}
		}
	}
}

func probesForGenes(mapping domain.ProbeGeneMapping, genes map[domain.GeneID]struct{}) []domain.ProbeID {
	var probes []domain.ProbeID
	for probe, mapped := range mapping.Genes {
		for _, g := range mapped {
			if _, ok := genes[g]; ok {
				probes = append(probes, probe)
				break
			}
		}
	}
	return batch.UniqueSorted(probes)
}

func sharesPlatform(a, b map[domain.PlatformID]struct{}) bool {
	for p := range a {
		if _, ok := b[p]; ok {
			return true
		}
	}
	return false
}
