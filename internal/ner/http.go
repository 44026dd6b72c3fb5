package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/raaihank/phi-sentinel/internal/phi"
)

const maxResponseBytes = 16 << 20

// HTTPSource calls an NER sidecar's /classify endpoint. The sidecar reports
// character offsets, as Python pipelines do; they are converted to byte
// offsets on receipt. It is safe for concurrent use.
type HTTPSource struct {
	url     string
	model   string
	timeout time.Duration
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewHTTPSource creates a sidecar client from cfg. A zero rate disables
// rate limiting.
func NewHTTPSource(cfg Config, logger *zap.Logger) *HTTPSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}

	return &HTTPSource{
		url:     strings.TrimRight(cfg.URL, "/") + "/classify",
		model:   cfg.Model,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  logger,
	}
}

type classifyRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

// Model returns the configured model name
func (s *HTTPSource) Model() string {
	return s.model
}

// Candidates sends text to the sidecar. Every failure is a *phi.SourceError
// that matches phi.ErrModelUnavailable.
func (s *HTTPSource) Candidates(ctx context.Context, text string) ([]phi.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, phi.NewSourceError("timeout", phi.CodeSourceTimeout, "rate limit wait aborted", err)
	}

	body, err := json.Marshal(classifyRequest{Text: text, Model: s.model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal classify request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, phi.NewSourceError("source_unreachable", phi.CodeSourceUnreachable, "failed to build classify request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, phi.NewSourceError("timeout", phi.CodeSourceTimeout, "ner sidecar timed out", err)
		}
		return nil, phi.NewSourceError("source_unreachable", phi.CodeSourceUnreachable, "ner sidecar unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, phi.NewSourceError("bad_response", phi.CodeSourceBadResponse,
			fmt.Sprintf("ner sidecar returned status %d", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, phi.NewSourceError("bad_response", phi.CodeSourceBadResponse, "failed to read ner response", err)
	}
	candidates, err := decodeSpans(data)
	if err != nil {
		return nil, phi.NewSourceError("bad_response", phi.CodeSourceBadResponse, "failed to decode ner response", err)
	}
	toByteOffsets(text, candidates)

	s.logger.Debug("NER sidecar responded",
		zap.Int("candidates", len(candidates)),
		zap.Duration("duration", time.Since(start)))
	return candidates, nil
}

// toByteOffsets rewrites the sidecar's character offsets as byte offsets of
// text and fills in missing span text
func toByteOffsets(text string, candidates []phi.Candidate) {
	ascii := phi.IsASCII(text)
	for i, c := range candidates {
		if c.Start < 0 || c.End <= c.Start {
			continue
		}
		if !ascii {
			c.Start, c.End = phi.ByteOffsets(text, c.Start, c.End)
		}
		if c.Text == "" && c.End <= len(text) && c.Start < c.End {
			c.Text = text[c.Start:c.End]
		}
		candidates[i] = c
	}
}

// decodeSpans accepts {"spans": [...]} or a bare array. Spans may name their
// type as entity_type, entity_group or label.
func decodeSpans(data []byte) ([]phi.Candidate, error) {
	var raw []json.RawMessage
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, err
		}
	} else {
		var envelope struct {
			Spans []json.RawMessage `json:"spans"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, err
		}
		raw = envelope.Spans
	}

	out := make([]phi.Candidate, 0, len(raw))
	for _, r := range raw {
		var c phi.Candidate
		if err := json.Unmarshal(r, &c); err != nil {
			return nil, err
		}
		if c.EntityType == "" {
			var alt struct {
				Label string `json:"label"`
			}
			if err := json.Unmarshal(r, &alt); err == nil {
				c.EntityType = alt.Label
			}
		}
		out = append(out, c)
	}
	return out, nil
}
