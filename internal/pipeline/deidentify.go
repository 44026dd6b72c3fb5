package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/phi-sentinel/internal/detectors"
	"github.com/raaihank/phi-sentinel/internal/events"
	"github.com/raaihank/phi-sentinel/internal/fallback"
	"github.com/raaihank/phi-sentinel/internal/logger"
	"github.com/raaihank/phi-sentinel/internal/metadata"
	"github.com/raaihank/phi-sentinel/internal/ner"
	"github.com/raaihank/phi-sentinel/internal/phi"
	"github.com/raaihank/phi-sentinel/internal/redactor"
	"github.com/raaihank/phi-sentinel/internal/resolver"
)

// Config holds the de-identification settings
type Config struct {
	Policy       resolver.Policy
	DefaultToken string
	// Workers bounds concurrent pages in DeidentifyDocument
	Workers int
}

// Deps are the collaborators of a Deidentifier. Only Source is required;
// a nil Fallback disables basic redaction and a nil Store skips persistence.
type Deps struct {
	Source    ner.Source
	Detectors *detectors.Set
	Fallback  *fallback.Redactor
	Cache     CandidateCache
	Store     MetadataStore
	Events    events.Publisher
	Logger    *zap.Logger
	Now       func() time.Time
}

// Deidentifier turns page text into anonymized text plus metadata. It is
// safe for concurrent use.
type Deidentifier struct {
	source    ner.Source
	detectors *detectors.Set
	fallback  *fallback.Redactor
	cache     CandidateCache
	store     MetadataStore
	events    events.Publisher
	redactor  *redactor.Redactor
	resolver  atomic.Pointer[resolver.Resolver]
	workers   int
	now       func() time.Time
	logger    *logger.Logger
}

// New builds a Deidentifier
func New(cfg Config, deps Deps) (*Deidentifier, error) {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "pipeline"))

	res, err := resolver.New(cfg.Policy, log)
	if err != nil {
		return nil, err
	}

	d := &Deidentifier{
		source:    deps.Source,
		detectors: deps.Detectors,
		fallback:  deps.Fallback,
		cache:     deps.Cache,
		store:     deps.Store,
		events:    deps.Events,
		redactor:  redactor.New(redactor.WithDefaultToken(cfg.DefaultToken), redactor.WithLogger(log)),
		workers:   cfg.Workers,
		now:       deps.Now,
		logger:    &logger.Logger{Logger: log},
	}
	if d.source == nil {
		d.source = ner.Unavailable{Reason: "no candidate source configured"}
	}
	if d.detectors == nil {
		d.detectors = detectors.Default()
	}
	if d.events == nil {
		d.events = events.Discard{}
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.workers <= 0 {
		d.workers = 1
	}
	d.resolver.Store(res)
	return d, nil
}

// UpdatePolicy swaps the resolver policy. Pages already running keep the
// policy they started with.
func (d *Deidentifier) UpdatePolicy(p resolver.Policy) error {
	res, err := resolver.New(p, d.logger.Logger)
	if err != nil {
		return err
	}
	d.resolver.Store(res)
	d.logger.Info("Resolver policy updated")
	return nil
}

// Policy returns the policy currently in effect
func (d *Deidentifier) Policy() resolver.Policy {
	return d.resolver.Load().Policy()
}

// Model names the candidate model
func (d *Deidentifier) Model() string {
	return d.source.Model()
}

// FallbackEnabled reports whether source failures go to basic redaction
func (d *Deidentifier) FallbackEnabled() bool {
	return d.fallback != nil
}

// DeidentifyPage de-identifies one page. A failing candidate source routes
// the page to basic redaction when a fallback is configured; otherwise the
// source error is returned.
func (d *Deidentifier) DeidentifyPage(ctx context.Context, in PageInput) (*PageResult, error) {
	if in.DocID == "" {
		return nil, fmt.Errorf("%w: doc_id is required", ErrInvalidInput)
	}
	if in.PageNumber < 1 {
		return nil, fmt.Errorf("%w: page_number must be >= 1, got %d", ErrInvalidInput, in.PageNumber)
	}

	start := time.Now()
	log := d.logger.WithDocument(in.DocID, in.PageNumber).With(zap.String("request_id", in.RequestID))

	candidates, cacheHit, srcErr := d.candidates(ctx, in.Text)

	var res *PageResult
	switch {
	case srcErr == nil:
		res = d.ensemble(in, candidates)
		res.CacheHit = cacheHit
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case d.fallback == nil:
		log.Error("Candidate source failed and fallback is disabled", zap.Error(srcErr))
		return nil, fmt.Errorf("failed to generate candidates: %w", srcErr)
	default:
		log.Warn("Candidate source failed, using basic redaction", zap.Error(srcErr))
		res = d.basic(in, srcErr)
	}
	res.Duration = time.Since(start)

	if d.store != nil {
		if err := d.store.SaveMetadata(ctx, res.Metadata); err != nil {
			if errors.Is(err, phi.ErrMetadataExists) {
				log.Warn("Page metadata already recorded")
			}
			return nil, fmt.Errorf("failed to save metadata: %w", err)
		}
	}

	d.publish(in, res)

	log.Info("Page de-identified",
		zap.String("method", res.Method),
		zap.Int("entities", res.Metadata.TotalEntitiesRedacted),
		zap.Int("suppressed", res.Suppressed),
		zap.Bool("cache_hit", res.CacheHit),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (d *Deidentifier) candidates(ctx context.Context, text string) ([]phi.Candidate, bool, error) {
	model := d.source.Model()
	if d.cache != nil {
		if cached, ok := d.cache.Get(ctx, model, text); ok {
			return cached, true, nil
		}
	}

	candidates, err := d.source.Candidates(ctx, text)
	if err != nil {
		return nil, false, err
	}

	if d.cache != nil {
		if err := d.cache.Set(ctx, model, text, candidates); err != nil {
			d.logger.Warn("Failed to cache candidates", zap.Error(err))
		}
	}
	return candidates, false, nil
}

func (d *Deidentifier) ensemble(in PageInput, model []phi.Candidate) *PageResult {
	all := d.detectors.Run(in.Text, model)
	resolved := d.resolver.Load().Resolve(in.Text, all)
	red := d.redactor.Redact(in.Text, resolved.Entities)

	var models []string
	if name := d.source.Model(); name != "" {
		models = append(models, name)
	}
	models = append(models, d.detectors.Enabled()...)

	m := d.builder(models).Build(d.page(in), metadata.MethodEnsemble, red.Applied)
	stats := resolved.Stats
	return &PageResult{
		AnonymizedText: red.Text,
		Operators:      red.Operators,
		Metadata:       m,
		Method:         metadata.MethodEnsemble,
		Counts:         m.CountsByType(),
		Ambiguous:      red.Ambiguous,
		Suppressed:     len(red.Suppressed),
		Stats:          &stats,
	}
}

func (d *Deidentifier) basic(in PageInput, cause error) *PageResult {
	out := d.fallback.Redact(in.Text)
	m := d.builder(nil).Build(d.page(in), metadata.MethodFallback, out.Entities)
	return &PageResult{
		AnonymizedText: out.Text,
		Operators:      out.Redacted.Operators,
		Metadata:       m,
		Method:         metadata.MethodFallback,
		Counts:         out.Counts,
		Ambiguous:      out.Redacted.Ambiguous,
		Suppressed:     len(out.Redacted.Suppressed),
		FallbackReason: cause.Error(),
	}
}

func (d *Deidentifier) builder(models []string) metadata.Builder {
	return metadata.Builder{Models: models, Now: d.now}
}

func (d *Deidentifier) page(in PageInput) metadata.Page {
	return metadata.Page{
		DocID:      in.DocID,
		DocName:    in.DocName,
		PageNumber: in.PageNumber,
		InputFile:  in.InputFile,
	}
}

func (d *Deidentifier) publish(in PageInput, res *PageResult) {
	ev := events.PageEvent{
		DocID:      in.DocID,
		Page:       in.PageNumber,
		Method:     res.Method,
		Counts:     countsByName(res.Counts),
		Entities:   res.Metadata.TotalEntitiesRedacted,
		Ambiguous:  typeNames(res.Ambiguous),
		DurationMS: float64(res.Duration.Microseconds()) / 1000,
	}
	if res.FallbackReason != "" {
		ev.Reason = res.FallbackReason
		d.events.Publish(events.Event{Type: events.EventTypeFallbackUsed, Data: ev, RequestID: in.RequestID})
	}
	d.events.Publish(events.Event{Type: events.EventTypePageDeidentified, Data: ev, RequestID: in.RequestID})
}

// DeidentifyDocument de-identifies pages concurrently and returns results
// ordered by page number. The first failure cancels the remaining pages.
func (d *Deidentifier) DeidentifyDocument(ctx context.Context, pages []PageInput) ([]*PageResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	order := make([]int, len(pages))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return pages[order[a]].PageNumber < pages[order[b]].PageNumber
	})

	results := make([]*PageResult, len(pages))
	jobs := make(chan int)
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	for w := 0; w < min(d.workers, max(len(pages), 1)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for slot := range jobs {
				res, err := d.DeidentifyPage(ctx, pages[order[slot]])
				if err != nil {
					errOnce.Do(func() {
						firstErr = fmt.Errorf("page %d: %w", pages[order[slot]].PageNumber, err)
						cancel()
					})
					continue
				}
				results[slot] = res
			}
		}()
	}

feed:
	for slot := range order {
		select {
		case jobs <- slot:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func countsByName(counts map[phi.EntityType]int) map[string]int {
	out := make(map[string]int, len(counts))
	for t, n := range counts {
		out[string(t)] = n
	}
	return out
}

func typeNames(types []phi.EntityType) []string {
	if len(types) == 0 {
		return nil
	}
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
