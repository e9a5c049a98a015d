package service

import (
	"context"
	"sort"
	"sync"

	"github.com/weiawesome/diffex/diffex-service/internal/domain"
	"github.com/weiawesome/diffex/diffex-service/internal/repository"
)

type fakeProbe struct {
	platform domain.PlatformID
	genes    []domain.GeneID
}

// fakeStore is an in-memory BackingStore that counts its queries.
type fakeStore struct {
	mu sync.Mutex

	probes     map[domain.ProbeID]fakeProbe
	tuples     []domain.ResultTuple
	platforms  map[domain.ResultSetID][]domain.PlatformID
	rogue      []domain.ResultTuple
	calls      map[string]int
	before     func(query string, call int) error
	tupleCalls [][]domain.ProbeID
	geneCalls  [][]domain.GeneID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		probes:    make(map[domain.ProbeID]fakeProbe),
		platforms: make(map[domain.ResultSetID][]domain.PlatformID),
		calls:     make(map[string]int),
	}
}

func (f *fakeStore) addProbe(probe domain.ProbeID, platform domain.PlatformID, genes ...domain.GeneID) {
	f.probes[probe] = fakeProbe{platform: platform, genes: genes}
}

func (f *fakeStore) addResult(id domain.ResultID, probe domain.ProbeID, rs domain.ResultSetID, corrected, p *float64) {
	f.tuples = append(f.tuples, domain.ResultTuple{
		ProbeID:         probe,
		ResultID:        id,
		ResultSetID:     rs,
		CorrectedPvalue: corrected,
		Pvalue:          p,
	})
}

func (f *fakeStore) enter(query string) error {
	f.mu.Lock()
	f.calls[query]++
	call := f.calls[query]
	before := f.before
	f.mu.Unlock()

	if before != nil {
		return before(query, call)
	}
	return nil
}

func (f *fakeStore) count(query string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[query]
}

func (f *fakeStore) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeStore) QueryProbeGeneMapping(_ context.Context, genes []domain.GeneID, platforms []domain.PlatformID) (domain.ProbeGeneMapping, error) {
	if err := f.enter(repository.QueryProbeGeneMapping); err != nil {
		return domain.ProbeGeneMapping{}, err
	}
	f.mu.Lock()
	f.geneCalls = append(f.geneCalls, genes)
	f.mu.Unlock()

	wantGene := make(map[domain.GeneID]bool, len(genes))
	for _, g := range genes {
		wantGene[g] = true
	}
	wantPlatform := make(map[domain.PlatformID]bool, len(platforms))
	for _, p := range platforms {
		wantPlatform[p] = true
	}

	m := domain.NewProbeGeneMapping()
	for id, probe := range f.probes {
		if !wantPlatform[probe.platform] {
			continue
		}
		for _, g := range probe.genes {
			if wantGene[g] {
				m.Add(id, probe.platform, g)
			}
		}
	}
	return m, nil
}

func (f *fakeStore) QueryResultTuples(_ context.Context, probes []domain.ProbeID, resultSets []domain.ResultSetID) ([]domain.ResultTuple, error) {
	if err := f.enter(repository.QueryResultTuples); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.tupleCalls = append(f.tupleCalls, probes)
	f.mu.Unlock()

	wantProbe := make(map[domain.ProbeID]bool, len(probes))
	for _, p := range probes {
		wantProbe[p] = true
	}
	wantRS := make(map[domain.ResultSetID]bool, len(resultSets))
	for _, rs := range resultSets {
		wantRS[rs] = true
	}

	var out []domain.ResultTuple
	for _, t := range f.tuples {
		if wantProbe[t.ProbeID] && wantRS[t.ResultSetID] {
			out = append(out, t)
		}
	}
	return append(out, f.rogue...), nil
}

func (f *fakeStore) QueryTopHits(_ context.Context, rs domain.ResultSetID, threshold *float64, limit int) ([]domain.DiffExResult, error) {
	if err := f.enter(repository.QueryTopHits); err != nil {
		return nil, err
	}

	var out []domain.DiffExResult
	for _, t := range f.tuples {
		if t.ResultSetID != rs || !t.Usable() {
			continue
		}
		if threshold != nil && *t.CorrectedPvalue > *threshold {
			continue
		}
		out = append(out, domain.DiffExResult{
			ResultID:        t.ResultID,
			ProbeID:         t.ProbeID,
			ResultSetID:     t.ResultSetID,
			CorrectedPvalue: *t.CorrectedPvalue,
			Pvalue:          *t.Pvalue,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CorrectedPvalue != out[j].CorrectedPvalue {
			return out[i].CorrectedPvalue < out[j].CorrectedPvalue
		}
		return out[i].ResultID < out[j].ResultID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) GetPlatformsForResultSet(_ context.Context, rs domain.ResultSetID) ([]domain.PlatformID, error) {
	if err := f.enter(repository.QueryPlatforms); err != nil {
		return nil, err
	}
	platforms, ok := f.platforms[rs]
	if !ok {
		return nil, repository.ErrResultSetNotFound
	}
	return platforms, nil
}
