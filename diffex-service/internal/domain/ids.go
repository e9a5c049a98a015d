package domain

// Identifiers are opaque positive integers assigned by the backing store.
type (
	ResultSetID int64
	GeneID      int64
	ProbeID     int64
	PlatformID  int64
	ResultID    int64
)

// ResultSetSummary names a result-set to search and the platforms
// (array designs) it was computed on. Only probes of these platforms are
// candidates for the result-set.
type ResultSetSummary struct {
	ID             ResultSetID  `json:"id"`
	ArrayDesignIDs []PlatformID `json:"array_design_ids"`
}

// ResultKey addresses one cache entry.
type ResultKey struct {
	ResultSetID ResultSetID
	GeneID      GeneID
}
