// Package api exposes de-identification, re-identification and stored page
// metadata over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/phi-sentinel/internal/config"
	"github.com/raaihank/phi-sentinel/internal/events"
	"github.com/raaihank/phi-sentinel/internal/logger"
	"github.com/raaihank/phi-sentinel/internal/metadata"
	"github.com/raaihank/phi-sentinel/internal/pipeline"
	"github.com/raaihank/phi-sentinel/internal/store"
)

// Version is reported by /info
const Version = "0.1.0"

// DocumentStore is the stored-metadata surface the API reads and appends to
type DocumentStore interface {
	GetMetadata(ctx context.Context, docID string, page int) (*metadata.Metadata, error)
	ListPages(ctx context.Context, docID string) ([]store.PageSummary, error)
	AppendCorrection(ctx context.Context, c *store.Correction) error
	LatestCorrection(ctx context.Context, docID string, page int) (*store.Correction, error)
	Ping(ctx context.Context) error
}

// Deps are the services behind the API. Store and Hub are optional.
type Deps struct {
	Deidentifier *pipeline.Deidentifier
	Reidentifier *pipeline.Reidentifier
	Store        DocumentStore
	Hub          *events.Hub
}

// Server is the HTTP front end
type Server struct {
	config  *config.Config
	logger  *logger.Logger
	deid    *pipeline.Deidentifier
	reid    *pipeline.Reidentifier
	store   DocumentStore
	hub     *events.Hub
	limiter *RateLimiter
	router  *mux.Router
	server  *http.Server
	started time.Time
}

// New creates a server; call Start to listen
func New(cfg *config.Config, log *logger.Logger, deps Deps) (*Server, error) {
	if deps.Deidentifier == nil || deps.Reidentifier == nil {
		return nil, fmt.Errorf("deidentifier and reidentifier are required")
	}
	if log == nil {
		log = logger.Nop()
	}

	s := &Server{
		config:  cfg,
		logger:  log.WithComponent("api"),
		deid:    deps.Deidentifier,
		reid:    deps.Reidentifier,
		store:   deps.Store,
		hub:     deps.Hub,
		router:  mux.NewRouter(),
		started: time.Now(),
	}
	if cfg.Server.RateLimit.Enabled {
		s.limiter = NewRateLimiter(cfg.Server.RateLimit.RequestsPerMin, cfg.Server.RateLimit.Burst)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	if s.hub != nil && s.config.Events.Enabled {
		s.router.HandleFunc(s.config.Events.Path, s.hub.HandleWebSocket).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Use(s.rateLimitMiddleware)
	v1.Use(s.bodyLimitMiddleware)

	v1.HandleFunc("/deidentify", s.handleDeidentify).Methods(http.MethodPost)
	v1.HandleFunc("/reidentify", s.handleReidentify).Methods(http.MethodPost)

	docs := v1.PathPrefix("/documents/{doc_id}").Subrouter()
	docs.HandleFunc("/pages", s.handleListPages).Methods(http.MethodGet)
	docs.HandleFunc("/pages/{page:[0-9]+}", s.handleGetPage).Methods(http.MethodGet)
	docs.HandleFunc("/pages/{page:[0-9]+}/corrections", s.handleAddCorrection).Methods(http.MethodPost)
	docs.HandleFunc("/pages/{page:[0-9]+}/corrections/latest", s.handleLatestCorrection).Methods(http.MethodGet)
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens until Stop is called
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting PHI sentinel API server",
		zap.Int("port", s.config.Server.Port),
		zap.String("model", s.deid.Model()),
		zap.Bool("fallback_enabled", s.deid.FallbackEnabled()),
		zap.Bool("store_enabled", s.store != nil),
		zap.Bool("events_enabled", s.hub != nil && s.config.Events.Enabled),
	)

	if s.limiter != nil {
		s.limiter.StartCleanup(ctx, 10*time.Minute)
	}

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping PHI sentinel API server")
	return s.server.Shutdown(ctx)
}
