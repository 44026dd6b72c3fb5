package batch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/phi-sentinel/internal/detectors"
	"github.com/raaihank/phi-sentinel/internal/fallback"
	"github.com/raaihank/phi-sentinel/internal/metadata"
	"github.com/raaihank/phi-sentinel/internal/ner"
	"github.com/raaihank/phi-sentinel/internal/phi"
	"github.com/raaihank/phi-sentinel/internal/pipeline"
	"github.com/raaihank/phi-sentinel/internal/resolver"
)

func newDeidentifier(t *testing.T, source ner.Source) *pipeline.Deidentifier {
	t.Helper()
	set, err := detectors.New([]string{detectors.Age})
	require.NoError(t, err)
	fb, err := fallback.New(nil, zap.NewNop())
	require.NoError(t, err)
	d, err := pipeline.New(pipeline.Config{Policy: resolver.DefaultPolicy()}, pipeline.Deps{
		Source:    source,
		Detectors: set,
		Fallback:  fb,
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)
	return d
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDetectFileFormat(t *testing.T) {
	cases := map[string]FileFormat{
		"pages.csv":     FormatCSV,
		"pages.PARQUET": FormatParquet,
		"pages.jsonl":   FormatJSONL,
		"pages.json":    FormatJSONL,
		"pages":         FormatCSV,
	}
	for name, want := range cases {
		assert.Equal(t, want, DetectFileFormat(name), name)
	}
}

func TestProcessCSV(t *testing.T) {
	input := writeFile(t, "clinic.csv", "page_number,text,doc_id\n"+
		"1,\"Age: 42, follow up\",doc-1\n"+
		"2,\"SSN 123-45-6789\",doc-1\n"+
		"x,bad page number,doc-1\n"+
		"3,,doc-1\n"+
		"1,Age 7,\n")
	out := t.TempDir()

	p := NewProcessor(newDeidentifier(t, &ner.StaticSource{Name: "static"}), Config{Workers: 2, OutputDir: out}, zap.NewNop())
	res, err := p.ProcessFile(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, int64(5), res.TotalRecords)
	assert.Equal(t, int64(3), res.Deidentified)
	assert.Equal(t, int64(2), res.Invalid)
	assert.Equal(t, int64(0), res.Failed)
	assert.Equal(t, 2, res.Documents)
	assert.Equal(t, 2, res.Counts["AGE"])
	assert.Len(t, res.Errors, 2)

	text, err := os.ReadFile(filepath.Join(out, AnonymizedFileName("doc-1", 1)))
	require.NoError(t, err)
	assert.Equal(t, "Age: AGE, follow up", string(text))

	doc, err := os.ReadFile(filepath.Join(out, MetadataFileName("doc-1", 1)))
	require.NoError(t, err)
	m, err := metadata.Decode(doc)
	require.NoError(t, err)
	assert.Equal(t, "page_1_AGE_1", m.Entities[0].EntityID)

	// missing doc_id falls back to the file name
	assert.FileExists(t, filepath.Join(out, AnonymizedFileName("clinic", 1)))
}

func TestProcessJSONLWithFallback(t *testing.T) {
	input := writeFile(t, "pages.jsonl",
		`{"doc_id":"doc-9","doc_name":"scan.pdf","page_number":1,"text":"SSN: 123-45-6789"}`+"\n"+
			`{"doc_id":"doc-9","page_number":"two","text":"x"}`+"\n"+
			`{"doc_id":"doc-9","page_number":2,"text":"call 555-123-4567"}`+"\n")
	out := t.TempDir()

	p := NewProcessor(newDeidentifier(t, ner.Unavailable{Reason: "offline"}), Config{OutputDir: out}, zap.NewNop())
	res, err := p.ProcessFile(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Deidentified)
	assert.Equal(t, int64(2), res.Fallback)
	assert.Equal(t, int64(1), res.Invalid)
	assert.Equal(t, 1, res.Counts["SSN"])
	assert.Equal(t, 1, res.Counts["PHONE"])

	text, err := os.ReadFile(filepath.Join(out, AnonymizedFileName("doc-9", 1)))
	require.NoError(t, err)
	assert.Equal(t, "SSN: [SSN]", string(text))
}

func TestProcessParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := parquet.NewWriter(f)
	for _, rec := range []PageRecord{
		{DocID: "doc-p", DocName: "p.pdf", PageNumber: 1, Text: "Patient John Smith"},
		{DocID: "doc-p", DocName: "p.pdf", PageNumber: 2, Text: "Age: 60"},
	} {
		require.NoError(t, w.Write(rec))
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	source := &ner.StaticSource{Name: "static", ByText: map[string][]phi.Candidate{
		"Patient John Smith": {{EntityType: "PATIENT", Text: "John Smith", Start: 8, End: 18, Score: 0.9}},
	}}
	out := t.TempDir()
	p := NewProcessor(newDeidentifier(t, source), Config{Workers: 2, OutputDir: out}, zap.NewNop())
	res, err := p.ProcessFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Deidentified)
	assert.Equal(t, 1, res.Counts["PERSON"])

	text, err := os.ReadFile(filepath.Join(out, AnonymizedFileName("doc-p", 1)))
	require.NoError(t, err)
	assert.Equal(t, "Patient PERSON", string(text))
}

func TestProcessFileErrors(t *testing.T) {
	p := NewProcessor(newDeidentifier(t, &ner.StaticSource{}), Config{OutputDir: t.TempDir()}, zap.NewNop())

	_, err := p.ProcessFile(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)

	_, err = p.ProcessFile(context.Background(), writeFile(t, "no_text.csv", "doc_id,page_number\nd,1\n"))
	assert.Error(t, err)
}
