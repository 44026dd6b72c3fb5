package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/phi-sentinel/internal/config"
	"github.com/raaihank/phi-sentinel/internal/logger"
	"github.com/raaihank/phi-sentinel/internal/metadata"
	"github.com/raaihank/phi-sentinel/internal/ner"
	"github.com/raaihank/phi-sentinel/internal/pipeline"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.GetDefaults()
	cfg.NER.Backend = ner.BackendNone
	cfg.Storage.Metadata.DSN = "file:" + filepath.Join(dir, "meta.db")
	cfg.Storage.ReidMap.Dir = filepath.Join(dir, "maps")
	return cfg
}

func TestBuildWiresFallbackAndStore(t *testing.T) {
	ctx := context.Background()
	svc, err := Build(ctx, testConfig(t), logger.Nop(), Options{})
	require.NoError(t, err)
	defer svc.Close()

	require.NotNil(t, svc.Store)
	assert.True(t, svc.Deidentifier.FallbackEnabled())

	res, err := svc.Deidentifier.DeidentifyPage(ctx, pipeline.PageInput{
		DocID: "doc-1", PageNumber: 1, Text: "SSN: 123-45-6789",
	})
	require.NoError(t, err)
	assert.Equal(t, "SSN: [SSN]", res.AnonymizedText)
	assert.Equal(t, metadata.MethodFallback, res.Method)

	stored, err := svc.Store.GetMetadata(ctx, "doc-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.TotalEntitiesRedacted)

	back, err := svc.Reidentifier.ReidentifyPage(ctx, pipeline.ReidInput{
		DocID: "doc-1", PageNumber: 1, AnonymizedText: res.AnonymizedText,
	})
	require.NoError(t, err)
	assert.Equal(t, "SSN: 123-45-6789", back.Text)
	assert.Equal(t, []int{1}, back.MapPages)
}

func TestBuildSkipStore(t *testing.T) {
	svc, err := Build(context.Background(), testConfig(t), logger.Nop(), Options{SkipStore: true})
	require.NoError(t, err)
	defer svc.Close()
	assert.Nil(t, svc.Store)
}

func TestBuildRejectsRedisMapsWithoutRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.ReidMap.Backend = "redis"
	_, err := Build(context.Background(), cfg, logger.Nop(), Options{})
	assert.Error(t, err)
}

func TestHubConfig(t *testing.T) {
	ec := config.GetDefaults().Events
	ec.Username, ec.Password = "audit", "secret"
	hc := HubConfig(ec)
	assert.Equal(t, ec.MaxConnections, hc.MaxConnections)
	assert.Equal(t, "audit", hc.Username)
	assert.Equal(t, []string{"*"}, hc.AllowedOrigins)
}
