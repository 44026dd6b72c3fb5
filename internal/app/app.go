// Package app wires configuration into the services shared by the command
// binaries.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/phi-sentinel/internal/cache"
	"github.com/raaihank/phi-sentinel/internal/config"
	"github.com/raaihank/phi-sentinel/internal/detectors"
	"github.com/raaihank/phi-sentinel/internal/events"
	"github.com/raaihank/phi-sentinel/internal/fallback"
	"github.com/raaihank/phi-sentinel/internal/logger"
	"github.com/raaihank/phi-sentinel/internal/ner"
	"github.com/raaihank/phi-sentinel/internal/pipeline"
	"github.com/raaihank/phi-sentinel/internal/reid"
	"github.com/raaihank/phi-sentinel/internal/store"
)

// Options adjust what Build wires
type Options struct {
	// SkipStore leaves metadata on disk only, even when a driver is configured
	SkipStore bool
	// Events receives audit events; nil discards them
	Events events.Publisher
	// Workers overrides the per-document page concurrency
	Workers int
}

// Services holds every initialized service
type Services struct {
	Source       ner.Source
	Redis        *redis.Client
	Store        *store.Store
	Maps         reid.MapStore
	Deidentifier *pipeline.Deidentifier
	Reidentifier *pipeline.Reidentifier
}

// NewLogger builds the logger described by cfg.Logging
func NewLogger(cfg *config.Config) (*logger.Logger, error) {
	lc := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		lc.File = &logger.FileConfig{
			Enabled: true,
			Path:    cfg.Logging.File.Path,
		}
	}
	return logger.New(lc)
}

// HubConfig maps the events section onto the hub settings
func HubConfig(cfg config.EventsConfig) events.Config {
	return events.Config{
		MaxConnections:  cfg.MaxConnections,
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		PingInterval:    cfg.PingInterval,
		PongTimeout:     cfg.PongTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxMessageSize:  cfg.MaxMessageSize,
		AllowedOrigins:  cfg.AllowedOrigins,
		Username:        cfg.Username,
		Password:        cfg.Password,
	}
}

// Build initializes the services. On error everything opened so far is
// closed again.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (svc *Services, err error) {
	svc = &Services{}
	defer func() {
		if err != nil {
			svc.Close()
			svc = nil
		}
	}()

	log.Info("Initializing candidate source", zap.String("backend", string(cfg.NER.Backend)))
	svc.Source, err = ner.New(cfg.NER, log.Logger)
	if err != nil {
		return svc, fmt.Errorf("failed to initialize candidate source: %w", err)
	}

	set, err := detectors.New(cfg.Detectors)
	if err != nil {
		return svc, fmt.Errorf("failed to initialize detectors: %w", err)
	}

	var fb *fallback.Redactor
	if cfg.Redaction.FallbackEnabled {
		fb, err = fallback.New(cfg.Redaction.FallbackRules, log.Logger)
		if err != nil {
			return svc, fmt.Errorf("failed to initialize fallback redaction: %w", err)
		}
	}

	var candidates pipeline.CandidateCache
	if cfg.Redis.Enabled {
		svc.Redis, err = cache.NewClient(&cfg.Redis.Config, log.Logger)
		if err != nil {
			return svc, err
		}
		if cfg.Redis.CandidateCache {
			candidates = cache.NewCandidateCache(svc.Redis, &cfg.Redis.Config, log.Logger)
		}
	}

	if cfg.Storage.Metadata.Driver != "" && !opts.SkipStore {
		log.Info("Opening metadata store", zap.String("driver", cfg.Storage.Metadata.Driver))
		svc.Store, err = store.New(ctx, store.Config{
			Driver:       cfg.Storage.Metadata.Driver,
			DSN:          cfg.Storage.Metadata.DSN,
			MaxOpenConns: cfg.Storage.Metadata.MaxOpenConns,
		}, log.Logger)
		if err != nil {
			return svc, err
		}
	}

	svc.Maps, err = newMapStore(cfg, svc.Redis, log)
	if err != nil {
		return svc, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = cfg.Batch.PageWorkers
	}
	pub := opts.Events
	if pub == nil {
		pub = events.Discard{}
	}

	deps := pipeline.Deps{
		Source:    svc.Source,
		Detectors: set,
		Fallback:  fb,
		Cache:     candidates,
		Events:    pub,
		Logger:    log.Logger,
	}
	var metaStore pipeline.MetadataStore
	if svc.Store != nil {
		metaStore = svc.Store
		deps.Store = svc.Store
	}

	svc.Deidentifier, err = pipeline.New(pipeline.Config{
		Policy:       cfg.Resolver,
		DefaultToken: cfg.Redaction.DefaultToken,
		Workers:      workers,
	}, deps)
	if err != nil {
		return svc, fmt.Errorf("failed to initialize de-identification pipeline: %w", err)
	}
	svc.Reidentifier = pipeline.NewReidentifier(metaStore, svc.Maps, pub, log.Logger)

	return svc, nil
}

func newMapStore(cfg *config.Config, client *redis.Client, log *logger.Logger) (reid.MapStore, error) {
	rm := cfg.Storage.ReidMap
	switch rm.Backend {
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis re-identification maps need redis.enabled")
		}
		return reid.NewRedisMapStore(client, rm.KeyPrefix, rm.TTL, log.Logger), nil
	case "file", "":
		return reid.NewFileMapStore(rm.Dir, log.Logger)
	default:
		return nil, fmt.Errorf("unknown reid map backend: %q", rm.Backend)
	}
}

// Close releases every open connection
func (s *Services) Close() {
	if s == nil {
		return
	}
	if c, ok := s.Source.(io.Closer); ok {
		c.Close()
	}
	if s.Store != nil {
		s.Store.Close()
	}
	if s.Redis != nil {
		s.Redis.Close()
	}
}
