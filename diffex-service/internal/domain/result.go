package domain

import "fmt"

// ResultKind discriminates the CachedResult variants.
type ResultKind string

const (
	// KindHit is an actual result found for the (result-set, gene) pair.
	KindHit ResultKind = "hit"
	// KindNonSignificant marks a gene tested in the result-set for which no
	// probe had a retained result.
	KindNonSignificant ResultKind = "non_significant"
	// KindMissing marks a pair confirmed absent, e.g. the gene has no probe
	// on any platform of the result-set.
	KindMissing ResultKind = "missing"
)

// CachedResult is the value stored per (result-set, gene). Only Hit entries
// carry p-values and probe counts.
type CachedResult struct {
	Kind        ResultKind  `json:"kind"`
	ResultSetID ResultSetID `json:"result_set_id"`
	GeneID      GeneID      `json:"gene_id"`

	ResultID               ResultID `json:"result_id,omitempty"`
	CorrectedPvalue        *float64 `json:"corrected_pvalue,omitempty"`
	Pvalue                 *float64 `json:"pvalue,omitempty"`
	NumProbes              int      `json:"num_probes,omitempty"`
	NumProbesDiffExpressed int      `json:"num_probes_diff_expressed,omitempty"`
}

// NewNonSignificant builds a NonSignificant sentinel.
func NewNonSignificant(rs ResultSetID, gene GeneID) CachedResult {
	return CachedResult{Kind: KindNonSignificant, ResultSetID: rs, GeneID: gene}
}

// NewMissing builds a Missing sentinel.
func NewMissing(rs ResultSetID, gene GeneID) CachedResult {
	return CachedResult{Kind: KindMissing, ResultSetID: rs, GeneID: gene}
}

// Key returns the cache key of the entry.
func (r CachedResult) Key() ResultKey {
	return ResultKey{ResultSetID: r.ResultSetID, GeneID: r.GeneID}
}

// IsHit reports whether the entry carries an actual result.
func (r CachedResult) IsHit() bool {
	return r.Kind == KindHit
}

// IsSentinel reports whether the entry only records a completed lookup.
func (r CachedResult) IsSentinel() bool {
	switch r.Kind {
	case KindNonSignificant, KindMissing:
		return true
	default:
		return false
	}
}

// Validate checks the variant invariants.
func (r CachedResult) Validate() error {
	switch r.Kind {
	case KindHit:
		if r.CorrectedPvalue == nil || r.Pvalue == nil {
			return fmt.Errorf("%w: hit for result set %d gene %d without p-values", ErrInvalidArgument, r.ResultSetID, r.GeneID)
		}
		if r.NumProbes < 1 {
			return fmt.Errorf("%w: hit for result set %d gene %d without probes", ErrInvalidArgument, r.ResultSetID, r.GeneID)
		}
	case KindNonSignificant, KindMissing:
	default:
		return fmt.Errorf("%w: unknown result kind %q", ErrInvalidArgument, r.Kind)
	}
	return nil
}

// ResultTuple is one raw row of the result query.
type ResultTuple struct {
	ProbeID         ProbeID
	ResultID        ResultID
	ResultSetID     ResultSetID
	CorrectedPvalue *float64
	Pvalue          *float64
}

// Usable reports whether both p-values are present.
func (t ResultTuple) Usable() bool {
	return t.CorrectedPvalue != nil && t.Pvalue != nil
}

// DiffExResult is a single probe-level result as returned by top-hits queries.
type DiffExResult struct {
	ResultID        ResultID    `json:"result_id"`
	ProbeID         ProbeID     `json:"probe_id"`
	ResultSetID     ResultSetID `json:"result_set_id"`
	CorrectedPvalue float64     `json:"corrected_pvalue"`
	Pvalue          float64     `json:"pvalue"`
}

// ProbeGeneMapping is the probe side of a result-set batch: which genes each
// probe maps to, and which platform the probe belongs to.
type ProbeGeneMapping struct {
	Genes     map[ProbeID][]GeneID
	Platforms map[ProbeID]PlatformID
}

// NewProbeGeneMapping returns an empty mapping.
func NewProbeGeneMapping() ProbeGeneMapping {
	return ProbeGeneMapping{
		Genes:     make(map[ProbeID][]GeneID),
		Platforms: make(map[ProbeID]PlatformID),
	}
}

// Add records that probe (on platform) maps to gene. Duplicate pairs are ignored.
func (m ProbeGeneMapping) Add(probe ProbeID, platform PlatformID, gene GeneID) {
	m.Platforms[probe] = platform
	for _, g := range m.Genes[probe] {
		if g == gene {
			return
		}
	}
	m.Genes[probe] = append(m.Genes[probe], gene)
}

// Float returns a pointer to v; handy for building results.
func Float(v float64) *float64 {
	return &v
}

// TopHitsEntry is the cached top-hits list of one result-set, ascending by
// corrected p-value.
type TopHitsEntry struct {
	ResultSetID ResultSetID    `json:"result_set_id"`
	Items       []DiffExResult `json:"items"`
}
