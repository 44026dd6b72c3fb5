//go:build !onnx
// +build !onnx

package ner

import (
	"go.uber.org/zap"

	"github.com/raaihank/phi-sentinel/internal/phi"
)

// NewOnnxSource reports the model as unavailable when the 'onnx' build tag
// is not set
func NewOnnxSource(cfg Config, logger *zap.Logger) (Source, error) {
	logger.Warn("ONNX backend requested but not compiled in", zap.String("model", cfg.Model))
	return nil, phi.NewSourceError("model_unavailable", phi.CodeSourceNotBuilt, "onnx backend not built", nil)
}
