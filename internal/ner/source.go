// Package ner produces model candidates for a page of text. Sources either
// call an inference sidecar over HTTP, run a token-classification model
// in-process, or replay recorded candidates.
package ner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/phi-sentinel/internal/phi"
)

// Backend selects the candidate source implementation
type Backend string

const (
	// BackendHTTP calls an NER sidecar's /classify endpoint
	BackendHTTP Backend = "http"
	// BackendONNX runs a token-classification model through ONNX Runtime
	BackendONNX Backend = "onnx"
	// BackendStatic replays candidates from a JSON file
	BackendStatic Backend = "static"
	// BackendPatterns supplies no model candidates; only pattern detectors run
	BackendPatterns Backend = "patterns"
	// BackendNone has no model; every page goes to basic redaction
	BackendNone Backend = "none"
)

// Source produces raw candidates for one page of text
type Source interface {
	Candidates(ctx context.Context, text string) ([]phi.Candidate, error)
	// Model names the model recorded in metadata and used in cache keys
	Model() string
}

// Config contains candidate source configuration
type Config struct {
	Backend    Backend       `yaml:"backend" mapstructure:"backend"`
	Model      string        `yaml:"model" mapstructure:"model"`
	URL        string        `yaml:"url" mapstructure:"url"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RatePerSec float64       `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst      int           `yaml:"burst" mapstructure:"burst"`
	ModelPath  string        `yaml:"model_path" mapstructure:"model_path"`
	VocabPath  string        `yaml:"vocab_path" mapstructure:"vocab_path"`
	Labels     []string      `yaml:"labels" mapstructure:"labels"`
	MaxLength  int           `yaml:"max_length" mapstructure:"max_length"`
	Lowercase  bool          `yaml:"lowercase" mapstructure:"lowercase"`
	StaticPath string        `yaml:"static_path" mapstructure:"static_path"`
}

// DefaultConfig returns settings for the HTTP sidecar backend
func DefaultConfig() Config {
	return Config{
		Backend:    BackendHTTP,
		Model:      "StanfordAIMI/stanford-deidentifier-base",
		URL:        "http://localhost:8001",
		Timeout:    30 * time.Second,
		RatePerSec: 20,
		Burst:      5,
		MaxLength:  512,
		Lowercase:  true,
	}
}

// Validate checks the settings the selected backend needs
func (c Config) Validate() error {
	switch c.Backend {
	case BackendHTTP:
		if c.URL == "" {
			return fmt.Errorf("ner url is required for the http backend")
		}
	case BackendONNX:
		if c.ModelPath == "" || c.VocabPath == "" {
			return fmt.Errorf("ner model_path and vocab_path are required for the onnx backend")
		}
		if len(c.Labels) == 0 {
			return fmt.Errorf("ner labels are required for the onnx backend")
		}
		if c.MaxLength < 8 {
			return fmt.Errorf("ner max_length must be at least 8")
		}
	case BackendStatic:
		if c.StaticPath == "" {
			return fmt.Errorf("ner static_path is required for the static backend")
		}
	case BackendPatterns, BackendNone:
	default:
		return fmt.Errorf("unknown ner backend: %q", c.Backend)
	}
	return nil
}

// New creates the source selected by cfg.Backend
func New(cfg Config, logger *zap.Logger) (Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case BackendHTTP:
		src := NewHTTPSource(cfg, logger)
		logger.Info("Created HTTP candidate source", zap.String("model", cfg.Model))
		return src, nil
	case BackendONNX:
		src, err := NewOnnxSource(cfg, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Created ONNX candidate source", zap.String("model", cfg.Model))
		return src, nil
	case BackendStatic:
		return LoadStaticFile(cfg.StaticPath, cfg.Model)
	case BackendPatterns:
		return &StaticSource{Name: "patterns"}, nil
	default:
		return Unavailable{Reason: "no candidate model configured"}, nil
	}
}

// StaticSource replays fixed candidates. ByText entries win over Default.
type StaticSource struct {
	Name    string
	ByText  map[string][]phi.Candidate
	Default []phi.Candidate
}

// Candidates returns the recorded candidates for text
func (s *StaticSource) Candidates(ctx context.Context, text string) ([]phi.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c, ok := s.ByText[text]; ok {
		return append([]phi.Candidate(nil), c...), nil
	}
	return append([]phi.Candidate(nil), s.Default...), nil
}

// Model returns the recorded model name
func (s *StaticSource) Model() string {
	return s.Name
}

// LoadStaticFile reads a JSON array of candidates
func LoadStaticFile(path, model string) (*StaticSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read candidates: %w", err)
	}
	var candidates []phi.Candidate
	if err := json.Unmarshal(data, &candidates); err != nil {
		return nil, fmt.Errorf("failed to parse candidates: %w", err)
	}
	if model == "" {
		model = "static"
	}
	return &StaticSource{Name: model, Default: candidates}, nil
}

// Unavailable always fails, routing every page to basic redaction
type Unavailable struct {
	Reason string
}

// Candidates reports the model as unavailable
func (u Unavailable) Candidates(context.Context, string) ([]phi.Candidate, error) {
	return nil, phi.NewSourceError("model_unavailable", phi.CodeSourceNotBuilt, u.Reason, nil)
}

// Model is empty; no model ran
func (u Unavailable) Model() string {
	return ""
}
