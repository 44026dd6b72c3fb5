//go:build onnx
// +build onnx

package ner

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/raaihank/phi-sentinel/internal/phi"
)

// OnnxSource runs a BERT token-classification model in-process
type OnnxSource struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	tokenizer  *WordPiece
	labels     []string
	maxLength  int
	model      string
	logger     *zap.Logger
	mu         sync.Mutex
	ready      bool
}

// NewOnnxSource loads the vocabulary and model. Requires build tag 'onnx'.
func NewOnnxSource(cfg Config, logger *zap.Logger) (Source, error) {
	vocab, err := LoadVocabFile(cfg.VocabPath)
	if err != nil {
		return nil, phi.NewSourceError("model_unavailable", phi.CodeSourceNotBuilt, "failed to load vocabulary", err)
	}
	tokenizer, err := NewWordPiece(vocab, cfg.Lowercase)
	if err != nil {
		return nil, phi.NewSourceError("model_unavailable", phi.CodeSourceNotBuilt, "invalid vocabulary", err)
	}

	if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, phi.NewSourceError("model_unavailable", phi.CodeSourceNotBuilt, "onnx runtime init failed", err)
		}
	}

	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, phi.NewSourceError("model_unavailable", phi.CodeSourceNotBuilt, "failed to inspect model", err)
	}
	if len(outputsInfo) == 0 {
		return nil, phi.NewSourceError("model_unavailable", phi.CodeSourceNotBuilt, "model reports no outputs", nil)
	}

	var inputNames []string
	for _, ii := range inputsInfo {
		inputNames = append(inputNames, ii.Name)
	}

	sess, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputNames, []string{outputsInfo[0].Name}, nil)
	if err != nil {
		return nil, phi.NewSourceError("model_unavailable", phi.CodeSourceNotBuilt, "session creation failed", err)
	}

	logger.Info("ONNX candidate model ready",
		zap.String("model", cfg.Model),
		zap.Strings("inputs", inputNames),
		zap.Int("labels", len(cfg.Labels)))

	return &OnnxSource{
		session:    sess,
		inputNames: inputNames,
		tokenizer:  tokenizer,
		labels:     cfg.Labels,
		maxLength:  cfg.MaxLength,
		model:      cfg.Model,
		logger:     logger,
		ready:      true,
	}, nil
}

// Model returns the configured model name
func (s *OnnxSource) Model() string {
	return s.model
}

// Close releases the session
func (s *OnnxSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	s.ready = false
	return nil
}

// Candidates tokenizes text into windows, runs each through the model and
// aggregates the piece labels into spans
func (s *OnnxSource) Candidates(ctx context.Context, text string) ([]phi.Candidate, error) {
	start := time.Now()
	tokens := s.tokenizer.Tokenize(text)
	if len(tokens) == 0 {
		return []phi.Candidate{}, nil
	}

	var preds []Prediction
	for _, enc := range s.tokenizer.Encode(tokens, s.maxLength) {
		if err := ctx.Err(); err != nil {
			return nil, phi.NewSourceError("timeout", phi.CodeSourceTimeout, "inference cancelled", err)
		}
		windowPreds, err := s.run(enc)
		if err != nil {
			return nil, phi.NewSourceError("inference_failed", phi.CodeSourceInference, "inference failed", err)
		}
		preds = append(preds, windowPreds...)
	}

	candidates := Aggregate(text, preds, s.labels)
	s.logger.Debug("ONNX inference complete",
		zap.Int("tokens", len(tokens)),
		zap.Int("candidates", len(candidates)),
		zap.Duration("duration", time.Since(start)))
	return candidates, nil
}

func (s *OnnxSource) run(enc Encoding) ([]Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return nil, fmt.Errorf("onnx session closed")
	}

	seqLen := int64(len(enc.InputIDs))
	shape := ort.NewShape(1, seqLen)
	byName := map[string][]int64{
		"input_ids":      enc.InputIDs,
		"attention_mask": enc.AttentionMask,
		"token_type_ids": enc.TokenTypeIDs,
	}

	inputs := make([]ort.Value, 0, len(s.inputNames))
	for _, name := range s.inputNames {
		data, ok := byName[strings.ToLower(name)]
		if !ok {
			data = make([]int64, seqLen)
		}
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s tensor: %w", name, err)
		}
		defer t.Destroy()
		inputs = append(inputs, t)
	}

	outputs := make([]ort.Value, 1)
	if err := s.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("onnx returned no outputs")
	}
	defer outputs[0].Destroy()

	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type (want float32 tensor)")
	}
	outShape := logits.GetShape()
	if len(outShape) != 3 || outShape[1] != seqLen {
		return nil, fmt.Errorf("unexpected output shape %v", outShape)
	}
	numLabels := int(outShape[2])
	if numLabels != len(s.labels) {
		return nil, fmt.Errorf("model has %d labels, configured %d", numLabels, len(s.labels))
	}

	data := logits.GetData()
	preds := make([]Prediction, len(enc.Tokens))
	for i, tok := range enc.Tokens {
		// position 0 is [CLS]
		row := data[(i+1)*numLabels : (i+2)*numLabels]
		preds[i] = Prediction{Token: tok, Probs: softmax(row)}
	}
	return preds, nil
}
