// Package cache holds the Redis plumbing shared by the candidate cache and
// the Redis re-identification map store.
package cache

import (
	"time"

	"github.com/raaihank/phi-sentinel/internal/phi"
)

// CachedCandidates is the stored form of one page's NER output
type CachedCandidates struct {
	Model      string          `json:"model"`
	Candidates []phi.Candidate `json:"candidates"`
	CachedAt   time.Time       `json:"cached_at"`
}

// Stats represents cache statistics
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	TotalKeys int64   `json:"total_keys"`
}

// Config contains Redis configuration
type Config struct {
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}
