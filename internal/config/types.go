package config

import (
	"time"

	"github.com/raaihank/phi-sentinel/internal/cache"
	"github.com/raaihank/phi-sentinel/internal/ner"
	"github.com/raaihank/phi-sentinel/internal/resolver"
)

// Config represents the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	NER       ner.Config      `yaml:"ner" mapstructure:"ner"`
	Detectors []string        `yaml:"detectors" mapstructure:"detectors"`
	Resolver  resolver.Policy `yaml:"resolver" mapstructure:"resolver"`
	Redaction RedactionConfig `yaml:"redaction" mapstructure:"redaction"`
	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Events    EventsConfig    `yaml:"events" mapstructure:"events"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	RateLimit       struct {
		Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
		RequestsPerMin int  `yaml:"requests_per_min" mapstructure:"requests_per_min"`
		Burst          int  `yaml:"burst" mapstructure:"burst"`
	} `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
}

// RedactionConfig controls placeholder output and the basic fallback
type RedactionConfig struct {
	DefaultToken    string   `yaml:"default_token" mapstructure:"default_token"`
	FallbackEnabled bool     `yaml:"fallback_enabled" mapstructure:"fallback_enabled"`
	FallbackRules   []string `yaml:"fallback_rules" mapstructure:"fallback_rules"`
}

// StorageConfig selects where metadata, maps and page outputs go
type StorageConfig struct {
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir"`
	Metadata  struct {
		// Driver is sqlite, postgres, or empty for file-only metadata
		Driver       string `yaml:"driver" mapstructure:"driver"`
		DSN          string `yaml:"dsn" mapstructure:"dsn"`
		MaxOpenConns int    `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	} `yaml:"metadata" mapstructure:"metadata"`
	ReidMap struct {
		// Backend is file or redis
		Backend   string        `yaml:"backend" mapstructure:"backend"`
		Dir       string        `yaml:"dir" mapstructure:"dir"`
		KeyPrefix string        `yaml:"key_prefix" mapstructure:"key_prefix"`
		TTL       time.Duration `yaml:"ttl" mapstructure:"ttl"`
	} `yaml:"reid_map" mapstructure:"reid_map"`
}

// RedisConfig enables the shared Redis client
type RedisConfig struct {
	Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
	CandidateCache bool `yaml:"candidate_cache" mapstructure:"candidate_cache"`
	cache.Config   `yaml:",inline" mapstructure:",squash"`
}

// BatchConfig controls offline processing
type BatchConfig struct {
	Workers       int `yaml:"workers" mapstructure:"workers"`
	PageWorkers   int `yaml:"page_workers" mapstructure:"page_workers"`
	ProgressEvery int `yaml:"progress_every" mapstructure:"progress_every"`
}

// EventsConfig contains the audit event WebSocket configuration
type EventsConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	Path            string        `yaml:"path" mapstructure:"path"`
	MaxConnections  int           `yaml:"max_connections" mapstructure:"max_connections"`
	ReadBufferSize  int           `yaml:"read_buffer_size" mapstructure:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size" mapstructure:"write_buffer_size"`
	PingInterval    time.Duration `yaml:"ping_interval" mapstructure:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout" mapstructure:"pong_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	MaxMessageSize  int64         `yaml:"max_message_size" mapstructure:"max_message_size"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	// Username and Password protect the stream with basic auth when both are set
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    8 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		NER:       ner.DefaultConfig(),
		Detectors: []string{"all"},
		Resolver:  resolver.DefaultPolicy(),
		Redaction: RedactionConfig{
			DefaultToken:    "ENTITY",
			FallbackEnabled: true,
			FallbackRules:   []string{"all"},
		},
		Redis: RedisConfig{
			Config: cache.Config{
				RedisURL:       "redis://localhost:6379/0",
				MaxConnections: 10,
				MinIdleConns:   2,
				DefaultTTL:     6 * time.Hour,
				KeyPrefix:      "phi-sentinel",
			},
		},
		Batch: BatchConfig{
			Workers:       4,
			PageWorkers:   2,
			ProgressEvery: 100,
		},
		Events: EventsConfig{
			Enabled:         true,
			Path:            "/ws",
			MaxConnections:  100,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingInterval:    54 * time.Second,
			PongTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxMessageSize:  512,
			AllowedOrigins:  []string{"*"},
		},
	}

	cfg.Server.RateLimit.Enabled = true
	cfg.Server.RateLimit.RequestsPerMin = 600
	cfg.Server.RateLimit.Burst = 50
	cfg.Logging.File.Path = "logs/phi-sentinel.log"
	cfg.Storage.OutputDir = "output"
	cfg.Storage.Metadata.Driver = "sqlite"
	cfg.Storage.Metadata.DSN = "file:phi-metadata.db?_pragma=busy_timeout(5000)"
	cfg.Storage.Metadata.MaxOpenConns = 4
	cfg.Storage.ReidMap.Backend = "file"
	cfg.Storage.ReidMap.Dir = "output/reid_maps"
	cfg.Storage.ReidMap.KeyPrefix = "phi-sentinel"
	return cfg
}
