package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/phi-sentinel/internal/metadata"
	"github.com/raaihank/phi-sentinel/internal/pipeline"
	"github.com/raaihank/phi-sentinel/internal/reid"
)

// Deidentifier is the page pipeline used by the processor
type Deidentifier interface {
	DeidentifyPage(ctx context.Context, in pipeline.PageInput) (*pipeline.PageResult, error)
}

// Processor de-identifies dataset files
type Processor struct {
	deid   Deidentifier
	config Config
	logger *zap.Logger
}

// NewProcessor creates a processor writing into config.OutputDir
func NewProcessor(deid Deidentifier, config Config, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.OutputDir == "" {
		config.OutputDir = "output"
	}
	return &Processor{deid: deid, config: config, logger: logger.With(zap.String("component", "batch"))}
}

type job struct {
	row int64
	rec *PageRecord
}

// ProcessFile de-identifies every page in the file. Bad rows and failed
// pages are counted in the result; only unreadable input is an error.
func (p *Processor) ProcessFile(ctx context.Context, path string) (*Result, error) {
	start := time.Now()
	if err := os.MkdirAll(p.config.OutputDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	reader, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	p.logger.Info("Starting batch de-identification",
		zap.String("file", path),
		zap.String("format", string(DetectFileFormat(path))),
		zap.Int("workers", p.config.Workers))

	defaultDocID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	res := &Result{Counts: make(map[string]int), OutputDir: p.config.OutputDir}
	docs := make(map[string]bool)
	var mu sync.Mutex

	jobs := make(chan job)
	var wg sync.WaitGroup
	for w := 0; w < p.config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				page, err := p.processPage(ctx, j.rec)

				mu.Lock()
				if err != nil {
					res.Failed++
					res.addError(fmt.Sprintf("row %d (%s page %d): %v", j.row, j.rec.DocID, j.rec.PageNumber, err))
				} else {
					res.Deidentified++
					if page.Method == metadata.MethodFallback {
						res.Fallback++
					}
					res.Entities += int64(page.Metadata.TotalEntitiesRedacted)
					for t, n := range page.Counts {
						res.Counts[string(t)] += n
					}
					docs[j.rec.DocID] = true
				}
				done := res.Deidentified + res.Failed
				mu.Unlock()

				if p.config.ProgressEvery > 0 && done%int64(p.config.ProgressEvery) == 0 {
					p.reportProgress(done, start)
				}
			}
		}()
	}

	readErr := p.feed(ctx, reader, defaultDocID, jobs, res, &mu)
	close(jobs)
	wg.Wait()

	res.Documents = len(docs)
	res.Duration = time.Since(start)

	p.logger.Info("Batch de-identification completed",
		zap.Int64("total_records", res.TotalRecords),
		zap.Int64("deidentified", res.Deidentified),
		zap.Int64("fallback", res.Fallback),
		zap.Int64("failed", res.Failed),
		zap.Int64("invalid", res.Invalid),
		zap.Int64("entities", res.Entities),
		zap.Duration("duration", res.Duration))

	if readErr != nil {
		return res, readErr
	}
	return res, ctx.Err()
}

func (p *Processor) feed(ctx context.Context, reader RecordReader, defaultDocID string, jobs chan<- job, res *Result, mu *sync.Mutex) error {
	var row int64
	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		row++

		mu.Lock()
		res.TotalRecords++
		if err == nil {
			err = p.validate(rec, row, defaultDocID)
		}
		if err != nil {
			var rowErr *RowError
			if !errors.As(err, &rowErr) {
				mu.Unlock()
				return fmt.Errorf("failed to read input: %w", err)
			}
			res.Invalid++
			res.addError(rowErr.Error())
			mu.Unlock()
			continue
		}
		mu.Unlock()

		select {
		case jobs <- job{row: row, rec: rec}:
		case <-ctx.Done():
			return nil
		}
	}
}

// validate fills defaults and rejects unusable records
func (p *Processor) validate(rec *PageRecord, row int64, defaultDocID string) error {
	if rec.DocID == "" {
		rec.DocID = defaultDocID
	}
	if rec.PageNumber == 0 {
		rec.PageNumber = 1
	}
	if rec.PageNumber < 0 {
		return &RowError{Row: row, Field: "page_number", Message: "must be positive"}
	}
	if strings.TrimSpace(rec.Text) == "" {
		return &RowError{Row: row, Field: "text", Message: "empty"}
	}
	if p.config.MaxTextBytes > 0 && len(rec.Text) > p.config.MaxTextBytes {
		return &RowError{Row: row, Field: "text", Message: fmt.Sprintf("longer than %d bytes", p.config.MaxTextBytes)}
	}
	return nil
}

func (p *Processor) processPage(ctx context.Context, rec *PageRecord) (*pipeline.PageResult, error) {
	res, err := p.deid.DeidentifyPage(ctx, pipeline.PageInput{
		DocID:      rec.DocID,
		DocName:    rec.DocName,
		PageNumber: int(rec.PageNumber),
		Text:       rec.Text,
	})
	if err != nil {
		return nil, err
	}

	doc, err := metadata.Encode(res.Metadata)
	if err != nil {
		return nil, err
	}
	name := reid.SafeName(rec.DocID)
	page := int(rec.PageNumber)
	if err := reid.WriteFileAtomic(filepath.Join(p.config.OutputDir, AnonymizedFileName(name, page)), []byte(res.AnonymizedText)); err != nil {
		return nil, err
	}
	if err := reid.WriteFileAtomic(filepath.Join(p.config.OutputDir, MetadataFileName(name, page)), doc); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Processor) reportProgress(done int64, start time.Time) {
	elapsed := time.Since(start)
	p.logger.Info("Processing progress",
		zap.Int64("pages_processed", done),
		zap.Float64("rate_per_sec", float64(done)/elapsed.Seconds()),
		zap.Duration("elapsed", elapsed))
}

func (r *Result) addError(msg string) {
	if len(r.Errors) < maxErrors {
		r.Errors = append(r.Errors, msg)
	}
}
