package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/phi-sentinel/internal/api"
	"github.com/raaihank/phi-sentinel/internal/app"
	"github.com/raaihank/phi-sentinel/internal/config"
	"github.com/raaihank/phi-sentinel/internal/events"
)

var (
	version = api.Version
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
		healthURL   = flag.String("health-url", "http://localhost:8080/health", "URL used by --health-check")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("PHI-Sentinel %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck {
		performHealthCheck(*healthURL)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := app.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting PHI-Sentinel",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var hub *events.Hub
	var pub events.Publisher
	if cfg.Events.Enabled {
		hub = events.NewHub(app.HubConfig(cfg.Events), log.Logger)
		go hub.Run(ctx)
		pub = hub
	}

	services, err := app.Build(ctx, cfg, log, app.Options{Events: pub})
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if err := config.Watch(func(newCfg *config.Config) {
		if err := services.Deidentifier.UpdatePolicy(newCfg.Resolver); err != nil {
			log.Error("Rejected reloaded resolver policy", zap.Error(err))
		}
	}, log.Logger); err != nil {
		log.Info("Configuration hot reload disabled", zap.String("reason", err.Error()))
	}

	deps := api.Deps{
		Deidentifier: services.Deidentifier,
		Reidentifier: services.Reidentifier,
		Hub:          hub,
	}
	if services.Store != nil {
		deps.Store = services.Store
	}

	server, err := api.New(cfg, log, deps)
	if err != nil {
		log.Fatal("Failed to create API server", zap.Error(err))
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- server.Start(ctx)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Error("Server error", zap.Error(err))
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer stopCancel()

		if err := server.Stop(stopCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}

		log.Info("Server shutdown complete")
	}
}

// performHealthCheck performs a health check against the running server
func performHealthCheck(url string) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
