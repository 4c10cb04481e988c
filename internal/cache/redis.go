package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/raaihank/screen-tutor/internal/config"
	"go.uber.org/zap"
)

// AnswerCache handles Redis-based caching of model answers keyed by redacted text
type AnswerCache struct {
	client *redis.Client
	config config.CacheConfig
	logger *zap.Logger
	stats  cacheStats
}

// cacheStats tracks cache performance metrics
type cacheStats struct {
	hits   atomic.Int64
	misses atomic.Int64
}

// NewAnswerCache creates a new Redis-based answer cache
func NewAnswerCache(cfg config.CacheConfig, logger *zap.Logger) (*AnswerCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = cfg.MaxConnections
	opts.MinIdleConns = cfg.MinIdleConns

	cache := newAnswerCache(redis.NewClient(opts), cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cache.client.Ping(ctx).Err(); err != nil {
		_ = cache.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Answer cache initialized successfully",
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Duration("default_ttl", cfg.DefaultTTL))

	return cache, nil
}

func newAnswerCache(client *redis.Client, cfg config.CacheConfig, logger *zap.Logger) *AnswerCache {
	return &AnswerCache{client: client, config: cfg, logger: logger}
}

// Lookup returns the cached answer for a redacted text. Redis failures are
// logged and reported as misses.
func (ac *AnswerCache) Lookup(ctx context.Context, redactedText string) *LookupResult {
	start := time.Now()
	key := ac.answerKey(redactedText)

	data, err := ac.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		ac.stats.misses.Add(1)
		ac.logger.Debug("Cache miss", zap.String("key", key))
		return &LookupResult{CacheHit: false}
	} else if err != nil {
		ac.stats.misses.Add(1)
		ac.logger.Warn("Cache lookup failed", zap.Error(err))
		return &LookupResult{CacheHit: false}
	}

	var answer CachedAnswer
	if err := json.Unmarshal(data, &answer); err != nil {
		ac.stats.misses.Add(1)
		ac.logger.Error("Failed to unmarshal cached answer", zap.Error(err))
		ac.client.Del(ctx, key)
		return &LookupResult{CacheHit: false}
	}

	ac.stats.hits.Add(1)
	ac.logger.Debug("Cache hit",
		zap.String("key", key),
		zap.String("model", answer.Model),
		zap.Duration("duration", time.Since(start)))

	return &LookupResult{Answer: &answer, CacheHit: true}
}

// Store caches an answer for a redacted text
func (ac *AnswerCache) Store(ctx context.Context, redactedText, answer, model string) error {
	key := ac.answerKey(redactedText)

	data, err := json.Marshal(CachedAnswer{
		Answer:   answer,
		Model:    model,
		CachedAt: time.Now(),
		TTL:      int64(ac.config.DefaultTTL.Seconds()),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal answer for caching: %w", err)
	}

	if err := ac.client.Set(ctx, key, data, ac.config.DefaultTTL).Err(); err != nil {
		ac.logger.Error("Failed to cache answer", zap.Error(err))
		return fmt.Errorf("failed to cache answer: %w", err)
	}

	ac.logger.Debug("Answer cached", zap.String("key", key))
	return nil
}

// GetStats returns cache performance statistics
func (ac *AnswerCache) GetStats(ctx context.Context) (*CacheStats, error) {
	info, err := ac.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &CacheStats{
		Hits:   ac.stats.hits.Load(),
		Misses: ac.stats.misses.Load(),
	}

	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	for _, line := range strings.Split(info, "\r\n") {
		if memStr, ok := strings.CutPrefix(line, "used_memory:"); ok {
			if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
				stats.MemoryUsage = mem
			}
		}
	}

	if keys, err := ac.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Clear removes all cached answers
func (ac *AnswerCache) Clear(ctx context.Context) error {
	iter := ac.client.Scan(ctx, 0, ac.config.KeyPrefix+":answer:*", 0).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	const batchSize = 100
	for i := 0; i < len(keys); i += batchSize {
		end := min(i+batchSize, len(keys))
		if err := ac.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	ac.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (ac *AnswerCache) Close() error {
	if ac.client != nil {
		return ac.client.Close()
	}
	return nil
}

// answerKey hashes the redacted text into a stable cache key
func (ac *AnswerCache) answerKey(redactedText string) string {
	return fmt.Sprintf("%s:answer:%s", ac.config.KeyPrefix, TextHash(redactedText))
}

// TextHash returns the first 16 hex characters of the SHA-256 of text
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid redis url>"
	}
	return u.Redacted()
}
