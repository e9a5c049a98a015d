package domain

// SearchRequest is the body of a bulk result lookup.
type SearchRequest struct {
	ResultSets []ResultSetSummary `json:"result_sets" binding:"required,min=1"`
	GeneIDs    []GeneID           `json:"gene_ids"`
}

// SearchResponse carries one entry per requested pair, keyed by result-set
// then gene.
type SearchResponse struct {
	Results        map[ResultSetID]map[GeneID]CachedResult `json:"results"`
	Hits           int                                     `json:"hits"`
	NonSignificant int                                     `json:"non_significant"`
	Missing        int                                     `json:"missing"`
}

// NewSearchResponse counts the entries of results per kind.
func NewSearchResponse(results map[ResultSetID]map[GeneID]CachedResult) *SearchResponse {
	resp := &SearchResponse{Results: results}
	for _, genes := range results {
		for _, r := range genes {
			switch r.Kind {
			case KindHit:
				resp.Hits++
			case KindNonSignificant:
				resp.NonSignificant++
			case KindMissing:
				resp.Missing++
			}
		}
	}
	return resp
}

// TopHitsRequest holds the optional query parameters of a top-hits lookup.
type TopHitsRequest struct {
	Threshold  *float64 `form:"threshold"`
	Limit      *int     `form:"limit"`
	MinResults *int     `form:"min_results"`
}

// TopHitsResponse is the result of a top-hits lookup.
type TopHitsResponse struct {
	ResultSetID ResultSetID    `json:"result_set_id"`
	Threshold   float64        `json:"threshold"`
	Items       []DiffExResult `json:"items"`
}

// SetCacheEnabledRequest toggles the result cache.
type SetCacheEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// CacheStatusResponse reports the cache state after an admin operation.
type CacheStatusResponse struct {
	Enabled     bool        `json:"enabled"`
	Cleared     string      `json:"cleared,omitempty"`
	ResultSetID ResultSetID `json:"result_set_id,omitempty"`
}
