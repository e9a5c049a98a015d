package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/weiawesome/diffex/diffex-service/internal/domain"
	"github.com/weiawesome/diffex/pkg/log"
	"github.com/weiawesome/diffex/pkg/storage"
)

const snapshotVersion = 1

// ErrSnapshotNotFound is returned by LoadSnapshot when no snapshot exists.
var ErrSnapshotNotFound = errors.New("cache snapshot not found")

// Snapshot is the persisted form of an in-process cache.
type Snapshot struct {
	Version   int                   `json:"version"`
	CreatedAt time.Time             `json:"created_at"`
	Entries   []domain.CachedResult `json:"entries"`
	TopHits   []domain.TopHitsEntry `json:"top_hits"`
}

// Snapshotter is a cache that can enumerate its contents.
type Snapshotter interface {
	Entries() []domain.CachedResult
	TopHitsEntries() []domain.TopHitsEntry
}

// SaveSnapshot writes the contents of src to store under key and returns the
// number of result entries written.
func SaveSnapshot(ctx context.Context, src Snapshotter, store storage.Storage, key string) (int, error) {
	snap := Snapshot{
		Version:   snapshotVersion,
		CreatedAt: time.Now().UTC(),
		Entries:   src.Entries(),
		TopHits:   src.TopHitsEntries(),
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := store.Write(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return 0, fmt.Errorf("failed to write snapshot %s: %w", key, err)
	}

	logger := log.Ctx(ctx)
	logger.Info().
		Str("key", key).
		Int("entries", len(snap.Entries)).
		Int("top_hits", len(snap.TopHits)).
		Msg("cache snapshot saved")

	return len(snap.Entries), nil
}

// LoadSnapshot restores the snapshot stored under key into dst and returns
// the number of result entries restored. Invalid entries are skipped.
func LoadSnapshot(ctx context.Context, dst ResultCache, store storage.Storage, key string) (int, error) {
	rc, err := store.Read(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, ErrSnapshotNotFound
		}
		return 0, fmt.Errorf("failed to read snapshot %s: %w", key, err)
	}
	defer rc.Close()

	var snap Snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return 0, fmt.Errorf("failed to decode snapshot %s: %w", key, err)
	}
	if snap.Version != snapshotVersion {
		return 0, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	logger := log.Ctx(ctx)
	valid := make([]domain.CachedResult, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		if err := e.Validate(); err != nil {
			logger.Warn().Err(err).Msg("skipping invalid snapshot entry")
			continue
		}
		valid = append(valid, e)
	}
	dst.PutAll(ctx, valid)

	for _, th := range snap.TopHits {
		dst.PutTopHits(ctx, th.ResultSetID, th.Items)
	}

	logger.Info().
		Str("key", key).
		Int("entries", len(valid)).
		Int("top_hits", len(snap.TopHits)).
		Time("created_at", snap.CreatedAt).
		Msg("cache snapshot loaded")

	return len(valid), nil
}
