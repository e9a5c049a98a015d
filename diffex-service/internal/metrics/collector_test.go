package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopCollector(t *testing.T) {
	c := Noop()
	require.NotNil(t, c)
	c.CacheHits(3)
	c.ObserveStoreQuery("result_tuples", time.Millisecond, nil)
	c.TopHitsFallback()
}

func TestPrometheusCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	c.CacheHits(5)
	c.CacheMisses(2)
	c.CacheMisses(0)
	c.SentinelsWritten("missing", 3)
	c.ObserveStoreQuery("probe_gene_mapping", 10*time.Millisecond, nil)
	c.ObserveStoreQuery("probe_gene_mapping", 10*time.Millisecond, errors.New("boom"))
	c.TopHitsCacheHit()
	c.TopHitsFallback()
	c.TopHitsFallback()

	assert.Equal(t, 5.0, testutil.ToFloat64(c.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.sentinels.WithLabelValues("missing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.storeQueries.WithLabelValues("probe_gene_mapping", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.storeQueries.WithLabelValues("probe_gene_mapping", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.topHitsEvents.WithLabelValues("fallback")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.storeLatency))
}

func TestPrometheusCollectorReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	again, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, first.cacheLookups, again.cacheLookups)

	first.CacheHits(1)
	again.CacheHits(1)
	assert.Equal(t, 2.0, testutil.ToFloat64(again.cacheLookups.WithLabelValues("hit")))
}
