package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/phi-sentinel/internal/events"
	"github.com/raaihank/phi-sentinel/internal/logger"
	"github.com/raaihank/phi-sentinel/internal/metadata"
	"github.com/raaihank/phi-sentinel/internal/phi"
	"github.com/raaihank/phi-sentinel/internal/reid"
)

// TokensFor returns the placeholder format written by a redaction method
func TokensFor(method string) phi.TokenFunc {
	if method == metadata.MethodFallback {
		return phi.BracketToken
	}
	return phi.TokenFunc(nil).OrDefault()
}

// Reidentifier reconstructs pages and records them in the document map
type Reidentifier struct {
	store  MetadataStore
	maps   reid.MapStore
	events events.Publisher
	logger *logger.Logger
}

// NewReidentifier creates a Reidentifier. store is only needed for requests
// without inline metadata; a nil maps skips map merging.
func NewReidentifier(store MetadataStore, maps reid.MapStore, pub events.Publisher, log *zap.Logger) *Reidentifier {
	if log == nil {
		log = zap.NewNop()
	}
	if pub == nil {
		pub = events.Discard{}
	}
	return &Reidentifier{
		store:  store,
		maps:   maps,
		events: pub,
		logger: &logger.Logger{Logger: log.With(zap.String("component", "reidentifier"))},
	}
}

// ReidentifyPage splices original text back into an anonymized page.
// Missing placeholders are reported in the result, not as an error.
func (r *Reidentifier) ReidentifyPage(ctx context.Context, in ReidInput) (*ReidResult, error) {
	start := time.Now()

	m, err := r.metadataFor(ctx, in)
	if err != nil {
		return nil, err
	}
	page := in.PageNumber
	if page == 0 {
		page = m.PageNumber
	}

	entities := m.PageEntities(page)
	tok := TokensFor(m.Method)
	report := reid.ReidentifyWith(in.AnonymizedText, entities, tok)

	res := &ReidResult{
		Text:       report.Text,
		Resolved:   report.Resolved,
		Unresolved: make([]string, 0, len(report.Unresolved)),
		Ambiguous:  report.Ambiguous,
		Complete:   report.Complete(),
	}
	for _, e := range report.Unresolved {
		res.Unresolved = append(res.Unresolved, unresolvedID(e))
	}

	if r.maps != nil {
		merged, err := r.maps.MergePage(ctx, m.DocID, m.DocName, page, reid.BuildPageWith(entities, tok))
		if err != nil {
			return nil, fmt.Errorf("failed to update re-identification map: %w", err)
		}
		res.MapPages = merged.PageNumbers()
	}
	res.Duration = time.Since(start)

	r.events.Publish(events.Event{
		Type:      events.EventTypePageReidentified,
		RequestID: in.RequestID,
		Data: events.PageEvent{
			DocID:      m.DocID,
			Page:       page,
			Method:     m.Method,
			Entities:   len(entities),
			Unresolved: len(report.Unresolved),
			Ambiguous:  typeNames(report.Ambiguous),
			DurationMS: float64(res.Duration.Microseconds()) / 1000,
		},
	})

	log := r.logger.WithDocument(m.DocID, page).With(zap.String("request_id", in.RequestID))
	if !res.Complete {
		log.Warn("Page partially re-identified",
			zap.Int("resolved", res.Resolved),
			zap.Strings("unresolved", res.Unresolved))
	} else {
		log.Info("Page re-identified", zap.Int("resolved", res.Resolved))
	}
	return res, nil
}

func (r *Reidentifier) metadataFor(ctx context.Context, in ReidInput) (*metadata.Metadata, error) {
	m := in.Metadata
	if m == nil {
		if r.store == nil {
			return nil, fmt.Errorf("%w: metadata is required when no metadata store is configured", ErrInvalidInput)
		}
		if in.DocID == "" || in.PageNumber < 1 {
			return nil, fmt.Errorf("%w: doc_id and page_number are required to load metadata", ErrInvalidInput)
		}
		loaded, err := r.store.GetMetadata(ctx, in.DocID, in.PageNumber)
		if err != nil {
			return nil, err
		}
		m = loaded
	} else if err := m.Validate(); err != nil {
		return nil, err
	}

	if in.DocID != "" && in.DocID != m.DocID {
		return nil, fmt.Errorf("%w: request %q, metadata %q", phi.ErrDocumentMismatch, in.DocID, m.DocID)
	}
	return m, nil
}

// unresolvedID never exposes entity text
func unresolvedID(e phi.Entity) string {
	if e.EntityID != "" {
		return e.EntityID
	}
	return fmt.Sprintf("%s@%d", e.EntityType, e.Start)
}
