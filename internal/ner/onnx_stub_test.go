//go:build !onnx
// +build !onnx

package ner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/raaihank/phi-sentinel/internal/phi"
)

func TestOnnxSourceNotBuilt(t *testing.T) {
	cfg := Config{Backend: BackendONNX, ModelPath: "m.onnx", VocabPath: "vocab.txt", Labels: []string{"O"}, MaxLength: 128}
	_, err := New(cfg, zap.NewNop())
	assert.ErrorIs(t, err, phi.ErrModelUnavailable)
}
