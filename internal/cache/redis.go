package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/phi-sentinel/internal/phi"
)

// NewClient opens a pooled Redis client and checks the connection
func NewClient(config *Config, logger *zap.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.MaxConnections > 0 {
		opts.PoolSize = config.MaxConnections
	}
	opts.MinIdleConns = config.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", opts.PoolSize))

	return client, nil
}

// CandidateCache keeps NER candidates for page texts that were already seen,
// keyed by a hash of model and text
type CandidateCache struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCandidateCache wraps an open client
func NewCandidateCache(client *redis.Client, config *Config, logger *zap.Logger) *CandidateCache {
	return &CandidateCache{client: client, config: config, logger: logger}
}

// Get returns the cached candidates for text, if any. Lookup failures are
// logged and reported as misses.
func (cc *CandidateCache) Get(ctx context.Context, model, text string) ([]phi.Candidate, bool) {
	key := cc.key(model, text)

	data, err := cc.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		cc.misses.Add(1)
		return nil, false
	} else if err != nil {
		cc.misses.Add(1)
		cc.logger.Error("Candidate cache lookup failed", zap.Error(err))
		return nil, false
	}

	var entry CachedCandidates
	if err := json.Unmarshal(data, &entry); err != nil {
		cc.misses.Add(1)
		cc.logger.Error("Failed to unmarshal cached candidates", zap.Error(err))
		cc.client.Del(ctx, key)
		return nil, false
	}

	cc.hits.Add(1)
	cc.logger.Debug("Candidate cache hit",
		zap.String("key", key),
		zap.Int("candidates", len(entry.Candidates)))
	return entry.Candidates, true
}

// Set stores candidates for text with the configured TTL
func (cc *CandidateCache) Set(ctx context.Context, model, text string, candidates []phi.Candidate) error {
	entry := CachedCandidates{
		Model:      model,
		Candidates: candidates,
		CachedAt:   time.Now(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal candidates for caching: %w", err)
	}

	key := cc.key(model, text)
	if err := cc.client.Set(ctx, key, data, cc.config.DefaultTTL).Err(); err != nil {
		cc.logger.Error("Failed to cache candidates", zap.Error(err))
		return fmt.Errorf("failed to cache candidates: %w", err)
	}
	return nil
}

// GetStats returns hit/miss counters and the number of cached pages
func (cc *CandidateCache) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		Hits:   cc.hits.Load(),
		Misses: cc.misses.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	keys, err := cc.scanKeys(ctx)
	if err != nil {
		return nil, err
	}
	stats.TotalKeys = int64(len(keys))
	return stats, nil
}

// Clear removes every cached candidate list
func (cc *CandidateCache) Clear(ctx context.Context) error {
	keys, err := cc.scanKeys(ctx)
	if err != nil {
		return err
	}

	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := min(i+batchSize, len(keys))
		if err := cc.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			cc.logger.Error("Failed to delete cache keys", zap.Error(err))
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	cc.logger.Info("Candidate cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

func (cc *CandidateCache) scanKeys(ctx context.Context) ([]string, error) {
	iter := cc.client.Scan(ctx, 0, cc.config.KeyPrefix+":cand:*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan cache keys: %w", err)
	}
	return keys, nil
}

// key never embeds the page text itself
func (cc *CandidateCache) key(model, text string) string {
	hasher := sha256.New()
	hasher.Write([]byte(model))
	hasher.Write([]byte{0})
	hasher.Write([]byte(text))
	hash := hex.EncodeToString(hasher.Sum(nil))
	return fmt.Sprintf("%s:cand:%s", cc.config.KeyPrefix, hash[:32])
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(url string) string {
	if !strings.Contains(url, "@") {
		return url
	}
	parts := strings.SplitN(url, "@", 2)
	userPart := parts[0]
	if idx := strings.LastIndex(userPart, ":"); idx > strings.Index(userPart, "://")+2 {
		parts[0] = userPart[:idx+1] + "***"
	}
	return strings.Join(parts, "@")
}
