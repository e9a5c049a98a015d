package cache

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/diffex/diffex-service/internal/domain"
	"github.com/weiawesome/diffex/pkg/storage"
)

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	src := newMemory()
	src.PutAll(ctx, []domain.CachedResult{
		hit(1, 10, 0.01),
		domain.NewNonSignificant(1, 11),
		domain.NewMissing(2, 10),
	})
	src.PutTopHits(ctx, 1, []domain.DiffExResult{{ResultID: 5, ResultSetID: 1, CorrectedPvalue: 0.0001}})

	n, err := SaveSnapshot(ctx, src, store, "snapshots/cache.json")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	dst := newMemory()
	n, err = LoadSnapshot(ctx, dst, store, "snapshots/cache.json")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, ok := dst.Get(ctx, 1, 10)
	require.True(t, ok)
	assert.Equal(t, 0.01, *got.CorrectedPvalue)

	got, ok = dst.Get(ctx, 2, 10)
	require.True(t, ok)
	assert.Equal(t, domain.KindMissing, got.Kind)

	top, ok := dst.GetTopHits(ctx, 1)
	require.True(t, ok)
	require.Len(t, top, 1)
	assert.Equal(t, domain.ResultID(5), top[0].ResultID)
}

func TestLoadSnapshotNotFound(t *testing.T) {
	store, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	_, err = LoadSnapshot(context.Background(), newMemory(), store, "missing.json")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestLoadSnapshotSkipsInvalidEntries(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	body := `{"version":1,"entries":[
		{"kind":"hit","result_set_id":1,"gene_id":2},
		{"kind":"missing","result_set_id":1,"gene_id":3}
	]}`
	require.NoError(t, store.Write(ctx, "s.json", strings.NewReader(body), -1, "application/json"))

	dst := newMemory()
	n, err := LoadSnapshot(ctx, dst, store, "s.json")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := dst.Get(ctx, 1, 2)
	assert.False(t, ok)
}

func TestLoadSnapshotRejectsUnknownVersion(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, store.Write(ctx, "s.json", strings.NewReader(`{"version":9}`), -1, "application/json"))

	_, err = LoadSnapshot(ctx, newMemory(), store, "s.json")
	assert.Error(t, err)
}
