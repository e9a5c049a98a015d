package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/weiawesome/diffex/diffex-service/internal/domain"
)

// MemoryOptions configures a MemoryResultCache.
type MemoryOptions struct {
	// Capacity bounds the number of result entries; 0 means unbounded.
	Capacity int
	// TopHitsCapacity bounds the number of cached top-hits lists; 0 means unbounded.
	TopHitsCapacity int
	// TTL expires entries after they were written; 0 disables expiry.
	TTL     time.Duration
	Enabled bool
}

// MemoryResultCache is an in-process ResultCache backed by expirable LRUs.
// Keys are additionally bucketed per result-set so ClearResultSet only
// touches that result-set's keys.
type MemoryResultCache struct {
	results *expirable.LRU[domain.ResultKey, domain.CachedResult]
	topHits *expirable.LRU[domain.ResultSetID, []domain.DiffExResult]
	enabled atomic.Bool

	mu      sync.Mutex
	buckets map[domain.ResultSetID]map[domain.GeneID]struct{}
}

// NewMemoryResultCache creates an in-process cache.
func NewMemoryResultCache(opts MemoryOptions) *MemoryResultCache {
	c := &MemoryResultCache{
		buckets: make(map[domain.ResultSetID]map[domain.GeneID]struct{}),
	}
	// The eviction callback runs under the LRU's lock; c.mu is never held
	// while calling into the LRU.
	c.results = expirable.NewLRU[domain.ResultKey, domain.CachedResult](opts.Capacity, c.onEvict, opts.TTL)
	c.topHits = expirable.NewLRU[domain.ResultSetID, []domain.DiffExResult](opts.TopHitsCapacity, nil, opts.TTL)
	c.enabled.Store(opts.Enabled)
	return c
}

func (c *MemoryResultCache) onEvict(key domain.ResultKey, _ domain.CachedResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bucket, ok := c.buckets[key.ResultSetID]; ok {
		delete(bucket, key.GeneID)
		if len(bucket) == 0 {
			delete(c.buckets, key.ResultSetID)
		}
	}
}

func (c *MemoryResultCache) index(key domain.ResultKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bucket, ok := c.buckets[key.ResultSetID]
	if !ok {
		bucket = make(map[domain.GeneID]struct{})
		c.buckets[key.ResultSetID] = bucket
	}
	bucket[key.GeneID] = struct{}{}
}

// Get returns the entry for (rs, gene).
func (c *MemoryResultCache) Get(_ context.Context, rs domain.ResultSetID, gene domain.GeneID) (domain.CachedResult, bool) {
	if !c.Enabled() {
		return domain.CachedResult{}, false
	}
	return c.results.Get(domain.ResultKey{ResultSetID: rs, GeneID: gene})
}

// GetMany returns the entries present for genes.
func (c *MemoryResultCache) GetMany(_ context.Context, rs domain.ResultSetID, genes []domain.GeneID) []domain.CachedResult {
	if !c.Enabled() {
		return nil
	}
	out := make([]domain.CachedResult, 0, len(genes))
	for _, g := range genes {
		if v, ok := c.results.Get(domain.ResultKey{ResultSetID: rs, GeneID: g}); ok {
			out = append(out, v)
		}
	}
	return out
}

// Put stores result, replacing any previous entry for its key.
func (c *MemoryResultCache) Put(_ context.Context, result domain.CachedResult) {
	if !c.Enabled() {
		return
	}
	key := result.Key()
	c.results.Add(key, result)
	c.index(key)
}

// PutAll stores every result.
func (c *MemoryResultCache) PutAll(ctx context.Context, results []domain.CachedResult) {
	for _, r := range results {
		c.Put(ctx, r)
	}
}

// Clear removes all entries and top hits.
func (c *MemoryResultCache) Clear(_ context.Context) {
	c.results.Purge()
	c.topHits.Purge()

	c.mu.Lock()
	c.buckets = make(map[domain.ResultSetID]map[domain.GeneID]struct{})
	c.mu.Unlock()
}

// ClearResultSet removes the entries keyed by rs.
func (c *MemoryResultCache) ClearResultSet(_ context.Context, rs domain.ResultSetID) {
	c.mu.Lock()
	bucket := c.buckets[rs]
	delete(c.buckets, rs)
	c.mu.Unlock()

	for gene := range bucket {
		c.results.Remove(domain.ResultKey{ResultSetID: rs, GeneID: gene})
	}
}

// SetEnabled toggles the cache.
func (c *MemoryResultCache) SetEnabled(enabled bool) {
	c.enabled.Store(enabled)
}

// Enabled reports whether the cache serves reads and accepts writes.
func (c *MemoryResultCache) Enabled() bool {
	return c.enabled.Load()
}

// GetTopHits returns a copy of the cached top hits of rs.
func (c *MemoryResultCache) GetTopHits(_ context.Context, rs domain.ResultSetID) ([]domain.DiffExResult, bool) {
	if !c.Enabled() {
		return nil, false
	}
	items, ok := c.topHits.Get(rs)
	if !ok {
		return nil, false
	}
	return copyItems(items), true
}

// PutTopHits stores a copy of items as the top hits of rs.
func (c *MemoryResultCache) PutTopHits(_ context.Context, rs domain.ResultSetID, items []domain.DiffExResult) {
	if !c.Enabled() {
		return
	}
	c.topHits.Add(rs, copyItems(items))
}

// ClearTopHits removes the top hits of rs.
func (c *MemoryResultCache) ClearTopHits(_ context.Context, rs domain.ResultSetID) {
	c.topHits.Remove(rs)
}

// Len returns the number of result entries.
func (c *MemoryResultCache) Len() int {
	return c.results.Len()
}

// Entries returns a point-in-time copy of all result entries.
func (c *MemoryResultCache) Entries() []domain.CachedResult {
	return c.results.Values()
}

// TopHitsEntries returns a point-in-time copy of all top-hits lists.
func (c *MemoryResultCache) TopHitsEntries() []domain.TopHitsEntry {
	keys := c.topHits.Keys()
	out := make([]domain.TopHitsEntry, 0, len(keys))
	for _, rs := range keys {
		if items, ok := c.topHits.Peek(rs); ok {
			out = append(out, domain.TopHitsEntry{ResultSetID: rs, Items: copyItems(items)})
		}
	}
	return out
}

// Close is a no-op.
func (c *MemoryResultCache) Close() error {
	return nil
}
