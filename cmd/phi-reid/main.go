package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/raaihank/phi-sentinel/internal/app"
	"github.com/raaihank/phi-sentinel/internal/config"
	"github.com/raaihank/phi-sentinel/internal/metadata"
	"github.com/raaihank/phi-sentinel/internal/pipeline"
	"github.com/raaihank/phi-sentinel/internal/reid"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Configuration file path")
		metadataFile = flag.String("metadata", "", "Page metadata JSON written during de-identification")
		inputFile    = flag.String("input", "", "Anonymized page text file")
		outputDir    = flag.String("output", "", "Output directory (default: directory of --input)")
		page         = flag.Int("page", 0, "Page to restore (default: the metadata page)")
		noColor      = flag.Bool("no-color", false, "Disable colored summary output")
	)
	flag.Parse()

	if *metadataFile == "" || *inputFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s --metadata FILE --input FILE [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExample:\n")
		fmt.Fprintf(os.Stderr, "  %s --metadata out/doc_page_1_metadata.json --input out/doc_page_1_anonymized.txt\n", os.Args[0])
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

	dir := *outputDir
	if dir == "" {
		dir = filepath.Dir(*inputFile)
	}

	raw, err := os.ReadFile(*metadataFile)
	if err != nil {
		log.Fatal("Failed to read metadata", zap.String("file", *metadataFile), zap.Error(err))
	}
	md, err := metadata.Decode(raw)
	if err != nil {
		log.Fatal("Invalid metadata", zap.String("file", *metadataFile), zap.Error(err))
	}
	anonymized, err := os.ReadFile(*inputFile)
	if err != nil {
		log.Fatal("Failed to read anonymized text", zap.String("file", *inputFile), zap.Error(err))
	}

	maps, err := reid.NewFileMapStore(dir, log.Logger)
	if err != nil {
		log.Fatal("Failed to open map directory", zap.Error(err))
	}
	reidentifier := pipeline.NewReidentifier(nil, maps, nil, log.Logger)

	res, err := reidentifier.ReidentifyPage(context.Background(), pipeline.ReidInput{
		PageNumber:     *page,
		AnonymizedText: string(anonymized),
		Metadata:       md,
	})
	if err != nil {
		log.Fatal("Re-identification failed", zap.Error(err))
	}

	pageNumber := *page
	if pageNumber == 0 {
		pageNumber = md.PageNumber
	}
	out := filepath.Join(dir, fmt.Sprintf("%s_page_%d_reidentified.txt", reid.SafeName(md.DocID), pageNumber))
	if err := reid.WriteFileAtomic(out, []byte(res.Text)); err != nil {
		log.Fatal("Failed to write re-identified text", zap.Error(err))
	}

	printSummary(md, pageNumber, res, out, maps.Path(md.DocID))
	if !res.Complete {
		os.Exit(2)
	}
}

func printSummary(md *metadata.Metadata, page int, res *pipeline.ReidResult, out, mapFile string) {
	title := color.New(color.FgWhite, color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	title.Println("\n=== PHI-Sentinel Re-identification ===")
	fmt.Printf("Document:   %s (page %d)\n", md.DocID, page)
	fmt.Printf("Method:     %s\n", md.Method)
	green.Printf("Restored:   %d\n", res.Resolved)
	if len(res.Unresolved) > 0 {
		red.Printf("Unresolved: %d\n", len(res.Unresolved))
		for _, id := range res.Unresolved {
			red.Printf("  - %s\n", id)
		}
	}
	if len(res.Ambiguous) > 0 {
		yellow.Printf("Ambiguous placeholder types: %v\n", res.Ambiguous)
	}
	fmt.Printf("Output:     %s\n", out)
	fmt.Printf("Map:        %s (pages %v)\n", mapFile, res.MapPages)
}
