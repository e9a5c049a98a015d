package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/diffex/diffex-service/internal/domain"
	"github.com/weiawesome/diffex/pkg/log"
)

// RedisConfig holds the connection settings of the shared cache tier.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RedisOptions configures a RedisResultCache.
type RedisOptions struct {
	Prefix string
	// TTL applies to a whole result-set bucket and to each top-hits list.
	TTL     time.Duration
	Enabled bool
}

// RedisResultCache is a ResultCache shared between service instances.
//
// Layout:
//
//	{prefix}:rs:{resultSetID}    hash  gene id -> JSON CachedResult
//	{prefix}:top:{resultSetID}   string JSON []DiffExResult
type RedisResultCache struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	enabled atomic.Bool
}

// NewRedisResultCache connects to Redis and returns a cache on top of it.
func NewRedisResultCache(cfg RedisConfig, opts RedisOptions) (*RedisResultCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisResultCacheFromClient(client, opts), nil
}

// NewRedisResultCacheFromClient wraps an existing client. Close closes it.
func NewRedisResultCacheFromClient(client *redis.Client, opts RedisOptions) *RedisResultCache {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "diffex"
	}
	c := &RedisResultCache{
		client: client,
		prefix: prefix,
		ttl:    opts.TTL,
	}
	c.enabled.Store(opts.Enabled)
	return c
}

func (c *RedisResultCache) resultSetKey(rs domain.ResultSetID) string {
	return fmt.Sprintf("%s:rs:%d", c.prefix, rs)
}

func (c *RedisResultCache) topHitsKey(rs domain.ResultSetID) string {
	return fmt.Sprintf("%s:top:%d", c.prefix, rs)
}

func geneField(gene domain.GeneID) string {
	return strconv.FormatInt(int64(gene), 10)
}

func warn(ctx context.Context, err error, op string) {
	l := log.Ctx(ctx)
	l.Warn().Err(err).Str("op", op).Msg("redis result cache error")
}

// Get returns the entry for (rs, gene).
func (c *RedisResultCache) Get(ctx context.Context, rs domain.ResultSetID, gene domain.GeneID) (domain.CachedResult, bool) {
	if !c.Enabled() {
		return domain.CachedResult{}, false
	}
	data, err := c.client.HGet(ctx, c.resultSetKey(rs), geneField(gene)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			warn(ctx, err, "hget")
		}
		return domain.CachedResult{}, false
	}

	var result domain.CachedResult
	if err := json.Unmarshal(data, &result); err != nil {
		warn(ctx, err, "decode")
		return domain.CachedResult{}, false
	}
	return result, true
}

// GetMany fetches all genes of rs with a single HMGET.
func (c *RedisResultCache) GetMany(ctx context.Context, rs domain.ResultSetID, genes []domain.GeneID) []domain.CachedResult {
	if !c.Enabled() || len(genes) == 0 {
		return nil
	}

	fields := make([]string, len(genes))
	for i, g := range genes {
		fields[i] = geneField(g)
	}

	values, err := c.client.HMGet(ctx, c.resultSetKey(rs), fields...).Result()
	if err != nil {
		warn(ctx, err, "hmget")
		return nil
	}

	out := make([]domain.CachedResult, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var result domain.CachedResult
		if err := json.Unmarshal([]byte(s), &result); err != nil {
			warn(ctx, err, "decode")
			continue
		}
		out = append(out, result)
	}
	return out
}

// Put stores a single result.
func (c *RedisResultCache) Put(ctx context.Context, result domain.CachedResult) {
	c.PutAll(ctx, []domain.CachedResult{result})
}

// PutAll stores results grouped per result-set hash in one pipeline.
func (c *RedisResultCache) PutAll(ctx context.Context, results []domain.CachedResult) {
	if !c.Enabled() || len(results) == 0 {
		return
	}

	grouped := make(map[domain.ResultSetID][]interface{})
	for _, r := range results {
		data, err := json.Marshal(r)
		if err != nil {
			warn(ctx, err, "encode")
			continue
		}
		grouped[r.ResultSetID] = append(grouped[r.ResultSetID], geneField(r.GeneID), data)
	}

	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for rs, fieldValues := range grouped {
			key := c.resultSetKey(rs)
			pipe.HSet(ctx, key, fieldValues...)
			if c.ttl > 0 {
				pipe.Expire(ctx, key, c.ttl)
			}
		}
		return nil
	})
	if err != nil {
		warn(ctx, err, "hset")
	}
}

// Clear deletes every key under the prefix.
func (c *RedisResultCache) Clear(ctx context.Context) {
	pattern := c.prefix + ":*"
	iter := c.client.Scan(ctx, 0, pattern, 500).Iterator()

	batch := make([]string, 0, 500)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			warn(ctx, err, "del")
		}
		batch = batch[:0]
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			flush()
		}
	}
	flush()

	if err := iter.Err(); err != nil {
		warn(ctx, err, "scan")
	}
}

// ClearResultSet drops the hash of rs.
func (c *RedisResultCache) ClearResultSet(ctx context.Context, rs domain.ResultSetID) {
	if err := c.client.Del(ctx, c.resultSetKey(rs)).Err(); err != nil {
		warn(ctx, err, "del")
	}
}

// SetEnabled toggles the cache for this instance.
func (c *RedisResultCache) SetEnabled(enabled bool) {
	c.enabled.Store(enabled)
}

// Enabled reports whether the cache serves reads and accepts writes.
func (c *RedisResultCache) Enabled() bool {
	return c.enabled.Load()
}

// GetTopHits returns the cached top hits of rs.
func (c *RedisResultCache) GetTopHits(ctx context.Context, rs domain.ResultSetID) ([]domain.DiffExResult, bool) {
	if !c.Enabled() {
		return nil, false
	}
	data, err := c.client.Get(ctx, c.topHitsKey(rs)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			warn(ctx, err, "get")
		}
		return nil, false
	}

	var items []domain.DiffExResult
	if err := json.Unmarshal(data, &items); err != nil {
		warn(ctx, err, "decode")
		return nil, false
	}
	return items, true
}

// PutTopHits stores the top hits of rs.
func (c *RedisResultCache) PutTopHits(ctx context.Context, rs domain.ResultSetID, items []domain.DiffExResult) {
	if !c.Enabled() {
		return
	}
	if items == nil {
		items = []domain.DiffExResult{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		warn(ctx, err, "encode")
		return
	}
	if err := c.client.Set(ctx, c.topHitsKey(rs), data, c.ttl).Err(); err != nil {
		warn(ctx, err, "set")
	}
}

// ClearTopHits removes the top hits of rs.
func (c *RedisResultCache) ClearTopHits(ctx context.Context, rs domain.ResultSetID) {
	if err := c.client.Del(ctx, c.topHitsKey(rs)).Err(); err != nil {
		warn(ctx, err, "del")
	}
}

// Close closes the Redis client.
func (c *RedisResultCache) Close() error {
	return c.client.Close()
}
