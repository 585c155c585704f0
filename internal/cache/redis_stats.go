package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/portfolio-blog/backend/internal/counters"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultBaseTTL is the lifetime of a cached entry for a post that has counters.
	DefaultBaseTTL = 24 * time.Hour
	// DefaultJitter spreads expirations so entries do not expire together.
	DefaultJitter = 60 * time.Minute
	// DefaultEmptyTTL bounds how long a post without counters stays negatively cached.
	DefaultEmptyTTL = 5 * time.Minute

	// The hash tag keeps every key of one post on the same cluster slot.
	statsKeyFormat   = "blog:stats:{%s}"
	versionKeySuffix = ":version"
)

// writeIfCurrentScript stores a loaded snapshot only while the version observed before
// the load is still current. KEYS: stats, version. ARGV: version, payload, ttl ms.
var writeIfCurrentScript = redis.NewScript(`
local current = redis.call("GET", KEYS[2]) or ""
if current ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// invalidateScript bumps the version and drops the snapshot in one step.
// KEYS: stats, version. ARGV: version ttl ms.
var invalidateScript = redis.NewScript(`
redis.call("INCR", KEYS[2])
redis.call("PEXPIRE", KEYS[2], ARGV[1])
return redis.call("DEL", KEYS[1])
`)

var errMissingClient = errors.New("redis client is required")

// StatsKey returns the redis key holding the cached stats of a post.
func StatsKey(slug counters.Slug) string {
	return fmt.Sprintf(statsKeyFormat, slug.String())
}

// VersionKey returns the redis key counting invalidations of a post's stats.
func VersionKey(slug counters.Slug) string {
	return StatsKey(slug) + versionKeySuffix
}

type cachedStats struct {
	Views     int64 `json:"view_count"`
	Like      int64 `json:"like_count"`
	Love      int64 `json:"love_count"`
	Celebrate int64 `json:"celebrate_count"`
	Empty     bool  `json:"empty,omitempty"`
}

type RedisStatsCacheConfig struct {
	Client   redis.UniversalClient
	BaseTTL  time.Duration
	Jitter   time.Duration
	EmptyTTL time.Duration
	Logger   *zap.Logger
	// Random returns a value in [0, n). Defaults to math/rand.
	Random func(n int64) int64
}

// RedisStatsCache is a read-through cache for post stats. Concurrent misses for the same
// post share one store read, and redis failures fall back to the store.
type RedisStatsCache struct {
	client   redis.UniversalClient
	group    singleflight.Group
	baseTTL  time.Duration
	jitter   time.Duration
	emptyTTL time.Duration
	logger   *zap.Logger
	random   func(n int64) int64
}

var _ counters.StatsCache = (*RedisStatsCache)(nil)

func NewRedisStatsCache(cfg RedisStatsCacheConfig) (*RedisStatsCache, error) {
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	cache := &RedisStatsCache{
		client:   cfg.Client,
		baseTTL:  cfg.BaseTTL,
		jitter:   cfg.Jitter,
		emptyTTL: cfg.EmptyTTL,
		logger:   cfg.Logger,
		random:   cfg.Random,
	}
	if cache.baseTTL <= 0 {
		cache.baseTTL = DefaultBaseTTL
	}
	if cache.jitter < 0 {
		cache.jitter = 0
	}
	if cache.emptyTTL <= 0 {
		cache.emptyTTL = DefaultEmptyTTL
	}
	if cache.logger == nil {
		cache.logger = zap.NewNop()
	}
	if cache.random == nil {
		cache.random = rand.Int63n
	}
	return cache, nil
}

// Stats returns the cached stats of a post, loading and caching them on a miss. A load
// that overlaps an Invalidate is returned to its callers but never cached.
func (c *RedisStatsCache) Stats(ctx context.Context, slug counters.Slug, load counters.StatsLoader) (counters.Stats, error) {
	key := StatsKey(slug)
	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		cached, hit, version, readErr := c.read(ctx, slug)
		if readErr != nil {
			c.logger.Warn("stats cache read failed",
				zap.String("key", key),
				zap.Error(readErr))
		}
		if hit {
			return cached.toStats(slug), nil
		}

		stats, found, loadErr := load(ctx)
		if loadErr != nil {
			return counters.Stats{}, loadErr
		}
		if readErr == nil {
			c.write(ctx, slug, version, stats, found)
		}
		return stats, nil
	})
	if err != nil {
		return counters.Stats{}, err
	}
	stats, ok := value.(counters.Stats)
	if !ok {
		return counters.Stats{}, errors.New("cache: unexpected singleflight result")
	}
	return stats, nil
}

// Invalidate drops the cached stats of a post and rejects any snapshot loaded before it.
func (c *RedisStatsCache) Invalidate(ctx context.Context, slug counters.Slug) error {
	keys := []string{StatsKey(slug), VersionKey(slug)}
	return invalidateScript.Run(ctx, c.client, keys, c.versionTTL().Milliseconds()).Err()
}

// read returns the cached entry, or on a miss the version current before the load.
func (c *RedisStatsCache) read(ctx context.Context, slug counters.Slug) (cachedStats, bool, string, error) {
	key := StatsKey(slug)
	values, err := c.client.MGet(ctx, key, VersionKey(slug)).Result()
	if err != nil {
		return cachedStats{}, false, "", err
	}
	version, _ := values[1].(string)
	raw, ok := values[0].(string)
	if !ok {
		return cachedStats{}, false, version, nil
	}
	var entry cachedStats
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return cachedStats{}, false, "", fmt.Errorf("decode %s: %w", key, err)
	}
	return entry, true, version, nil
}

func (c *RedisStatsCache) write(ctx context.Context, slug counters.Slug, version string, stats counters.Stats, found bool) {
	key := StatsKey(slug)
	entry := cachedStats{
		Views:     stats.Views,
		Like:      stats.Reactions.Like,
		Love:      stats.Reactions.Love,
		Celebrate: stats.Reactions.Celebrate,
		Empty:     !found,
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("stats cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	ttl := c.ttl()
	if !found {
		ttl = c.emptyTTL
	}
	keys := []string{key, VersionKey(slug)}
	stored, err := writeIfCurrentScript.Run(ctx, c.client, keys, version, string(payload), ttl.Milliseconds()).Int()
	if err != nil {
		c.logger.Warn("stats cache write failed", zap.String("key", key), zap.Error(err))
		return
	}
	if stored == 0 {
		c.logger.Debug("stats cache write skipped, invalidated during load", zap.String("key", key))
	}
}

// versionTTL outlives any snapshot so an expired version cannot resurrect one.
func (c *RedisStatsCache) versionTTL() time.Duration {
	return c.baseTTL + c.jitter + c.emptyTTL
}

func (c *RedisStatsCache) ttl() time.Duration {
	if c.jitter <= 0 {
		return c.baseTTL
	}
	return c.baseTTL + time.Duration(c.random(int64(c.jitter)))
}

func (entry cachedStats) toStats(slug counters.Slug) counters.Stats {
	if entry.Empty {
		return counters.Stats{Slug: slug}
	}
	return counters.Stats{
		Slug:  slug,
		Views: entry.Views,
		Reactions: counters.ReactionCounts{
			Like:      entry.Like,
			Love:      entry.Love,
			Celebrate: entry.Celebrate,
		},
	}
}
