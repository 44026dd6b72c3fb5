package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/raaihank/phi-sentinel/internal/app"
	"github.com/raaihank/phi-sentinel/internal/batch"
	"github.com/raaihank/phi-sentinel/internal/config"
	"github.com/raaihank/phi-sentinel/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		inputFile  = flag.String("input", "", "Input pages file (CSV, Parquet, or JSONL)")
		outputDir  = flag.String("output", "", "Output directory (default: storage.output_dir)")
		workers    = flag.Int("workers", 0, "Number of worker goroutines (default: batch.workers)")
		maxBytes   = flag.Int("max-text-bytes", 0, "Reject pages larger than this many bytes")
		useStore   = flag.Bool("store", false, "Also record metadata in the configured database")
		noColor    = flag.Bool("no-color", false, "Disable colored summary output")
	)
	flag.Parse()

	if *inputFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input pages.csv --output out/\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input pages.parquet --workers 8\n", os.Args[0])
		os.Exit(1)
	}
	if *noColor {
		color.NoColor = true
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := app.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting PHI-Sentinel batch de-identification",
		zap.String("input", *inputFile),
		zap.String("config", *configPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling operations...")
		cancel()
	}()

	services, err := app.Build(ctx, cfg, log, app.Options{SkipStore: !*useStore})
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	bc := batch.Config{
		Workers:       cfg.Batch.Workers,
		OutputDir:     cfg.Storage.OutputDir,
		ProgressEvery: cfg.Batch.ProgressEvery,
		MaxTextBytes:  *maxBytes,
	}
	if *workers > 0 {
		bc.Workers = *workers
	}
	if *outputDir != "" {
		bc.OutputDir = *outputDir
	}

	if err := processDataset(ctx, services, bc, *inputFile, log); err != nil {
		log.Fatal("Batch processing failed", zap.Error(err))
	}
}

// processDataset runs the input file through the page pipeline
func processDataset(ctx context.Context, services *app.Services, bc batch.Config, inputFile string, log *logger.Logger) error {
	if _, err := os.Stat(inputFile); os.IsNotExist(err) {
		return fmt.Errorf("input file does not exist: %s", inputFile)
	}

	processor := batch.NewProcessor(services.Deidentifier, bc, log.Logger)
	result, err := processor.ProcessFile(ctx, inputFile)
	if err != nil {
		return fmt.Errorf("pipeline processing failed: %w", err)
	}

	log.Info("Dataset processing completed",
		zap.String("file", inputFile),
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("deidentified", result.Deidentified),
		zap.Int64("fallback", result.Fallback),
		zap.Int64("failed", result.Failed),
		zap.Int64("invalid", result.Invalid),
		zap.Duration("total_duration", result.Duration))

	if len(result.Errors) > 0 {
		log.Warn("Processing completed with errors", zap.Strings("errors", result.Errors))
	}

	printSummary(result)
	return nil
}

func printSummary(r *batch.Result) {
	title := color.New(color.FgWhite, color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	cyan := color.New(color.FgCyan)

	title.Println("\n=== PHI-Sentinel Batch Summary ===")
	fmt.Printf("Records:        %d\n", r.TotalRecords)
	fmt.Printf("Documents:      %d\n", r.Documents)
	green.Printf("De-identified:  %d\n", r.Deidentified)
	if r.Fallback > 0 {
		yellow.Printf("Basic redaction: %d\n", r.Fallback)
	}
	if r.Failed > 0 || r.Invalid > 0 {
		red.Printf("Failed:         %d\n", r.Failed)
		red.Printf("Invalid rows:   %d\n", r.Invalid)
	}
	fmt.Printf("Entities:       %d\n", r.Entities)
	fmt.Printf("Duration:       %v\n", r.Duration)
	fmt.Printf("Output:         %s\n", r.OutputDir)

	if len(r.Counts) > 0 {
		title.Println("\n=== Entities by Type ===")
		types := make([]string, 0, len(r.Counts))
		for t := range r.Counts {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			cyan.Printf("  %-14s", t)
			fmt.Printf(" %d\n", r.Counts[t])
		}
	}
}
