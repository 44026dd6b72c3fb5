package ner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/phi-sentinel/internal/phi"
)

var testVocab = []string{
	"[PAD]", "[UNK]", "[CLS]", "[SEP]",
	"patient", "john", "smith", "seen", "at", "mercy", "hospital",
	"sm", "##ith", "jo", "##hn", ",", ".", "on", "45",
}

func newTokenizer(t *testing.T) *WordPiece {
	t.Helper()
	v, err := LoadVocab(strings.NewReader(strings.Join(testVocab, "\n")))
	require.NoError(t, err)
	w, err := NewWordPiece(v, true)
	require.NoError(t, err)
	return w
}

func TestLoadVocab(t *testing.T) {
	v, err := LoadVocab(strings.NewReader("[PAD]\r\n[UNK]\nhello\nhello\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, v["[PAD]"])
	assert.Equal(t, 2, v["hello"], "first occurrence wins")

	_, err = NewWordPiece(v, true)
	assert.Error(t, err, "vocab without [CLS] and [SEP] is rejected")
}

func TestWordPieceOffsets(t *testing.T) {
	w := newTokenizer(t)
	text := "Patient JOHN Smith, seen."
	tokens := w.Tokenize(text)

	var pieces []string
	for _, tok := range tokens {
		pieces = append(pieces, tok.Piece)
		if tok.Piece != unkToken {
			assert.Equal(t, strings.TrimPrefix(tok.Piece, "##"), strings.ToLower(text[tok.Start:tok.End]))
		}
	}
	assert.Equal(t, []string{"patient", "john", "smith", ",", "seen", "."}, pieces)
	assert.Equal(t, 3, tokens[3].Word)
}

func TestWordPieceSubwordsAndUnknown(t *testing.T) {
	w := newTokenizer(t)

	t.Run("continuation pieces", func(t *testing.T) {
		w2, err := NewWordPiece(Vocab{"[UNK]": 1, "[CLS]": 2, "[SEP]": 3, "jo": 4, "##hn": 5, "##ny": 6}, true)
		require.NoError(t, err)
		tokens := w2.Tokenize("Johnny")
		require.Len(t, tokens, 3)
		assert.Equal(t, []int{4, 5, 6}, []int{tokens[0].ID, tokens[1].ID, tokens[2].ID})
		assert.Equal(t, 0, tokens[0].Start)
		assert.Equal(t, 4, tokens[2].Start)
		assert.Equal(t, 6, tokens[2].End)
	})

	t.Run("unknown word becomes one [UNK]", func(t *testing.T) {
		tokens := w.Tokenize("Zyx")
		require.Len(t, tokens, 1)
		assert.Equal(t, unkToken, tokens[0].Piece)
		assert.Equal(t, 0, tokens[0].Start)
		assert.Equal(t, 3, tokens[0].End)
	})

	t.Run("multibyte text keeps byte offsets", func(t *testing.T) {
		text := "Zoë seen"
		tokens := w.Tokenize(text)
		require.Len(t, tokens, 2)
		assert.Equal(t, "Zoë", text[tokens[0].Start:tokens[0].End])
		assert.Equal(t, "seen", text[tokens[1].Start:tokens[1].End])
	})
}

func TestEncodeWindows(t *testing.T) {
	w, err := NewWordPiece(Vocab{"[UNK]": 1, "[CLS]": 2, "[SEP]": 3, "a": 4, "jo": 5, "##hn": 6}, false)
	require.NoError(t, err)
	tokens := w.Tokenize("a a john a")
	require.Len(t, tokens, 5)

	encs := w.Encode(tokens, 5)
	require.Len(t, encs, 2)
	// john would straddle the boundary, so the first window stops before it
	assert.Equal(t, []int64{2, 4, 4, 3}, encs[0].InputIDs)
	assert.Equal(t, []int64{2, 5, 6, 4, 3}, encs[1].InputIDs)
	assert.Equal(t, []int64{1, 1, 1, 1, 1}, encs[1].AttentionMask)
	assert.Len(t, encs[1].TokenTypeIDs, 5)
	assert.Len(t, encs[1].Tokens, 3)
}

func TestSplitLabel(t *testing.T) {
	cases := []struct {
		label, prefix, typ string
	}{
		{"O", "", ""},
		{"B-PATIENT", "B", "PATIENT"},
		{"I-HCW", "I", "HCW"},
		{"S-DATE", "B", "DATE"},
		{"PHONE", "", "PHONE"},
	}
	for _, tc := range cases {
		prefix, typ := splitLabel(tc.label)
		assert.Equal(t, tc.prefix, prefix, tc.label)
		assert.Equal(t, tc.typ, typ, tc.label)
	}
}

func TestAggregate(t *testing.T) {
	labels := []string{"O", "B-PATIENT", "I-PATIENT", "B-HOSPITAL", "I-HOSPITAL"}
	onehot := func(i int, p float32) []float32 {
		probs := make([]float32, len(labels))
		for j := range probs {
			probs[j] = (1 - p) / float32(len(labels)-1)
		}
		probs[i] = p
		return probs
	}
	tok := func(word, start, end int) Token { return Token{Word: word, Start: start, End: end} }

	text := "Patient John Smith seen at Mercy Hospital"
	preds := []Prediction{
		{Token: tok(0, 0, 7), Probs: onehot(0, 0.99)},
		{Token: tok(1, 8, 12), Probs: onehot(1, 0.9)},
		{Token: tok(2, 13, 15), Probs: onehot(2, 0.8)},
		{Token: tok(2, 15, 18), Probs: onehot(0, 0.6)},
		{Token: tok(3, 19, 23), Probs: onehot(0, 0.99)},
		{Token: tok(4, 24, 26), Probs: onehot(0, 0.99)},
		{Token: tok(5, 27, 32), Probs: onehot(3, 0.7)},
		{Token: tok(6, 33, 41), Probs: onehot(4, 0.9)},
	}

	got := Aggregate(text, preds, labels)
	require.Len(t, got, 2)

	assert.Equal(t, "PATIENT", got[0].EntityType)
	assert.Equal(t, "John Smith", got[0].Text)
	assert.Equal(t, 8, got[0].Start)
	assert.Equal(t, 18, got[0].End)
	assert.InDelta(t, 0.85, got[0].Score, 1e-6)

	assert.Equal(t, "HOSPITAL", got[1].EntityType)
	assert.Equal(t, "Mercy Hospital", got[1].Text)
	assert.InDelta(t, 0.8, got[1].Score, 1e-6)
}

func TestAggregateExpandsToWordBoundaries(t *testing.T) {
	labels := []string{"O", "B-ID"}
	text := "MRN AB12345 ok"
	preds := []Prediction{
		{Token: Token{Word: 0, Start: 0, End: 3}, Probs: []float32{0.9, 0.1}},
		{Token: Token{Word: 1, Start: 6, End: 11}, Probs: []float32{0.2, 0.8}},
	}
	got := Aggregate(text, preds, labels)
	require.Len(t, got, 1)
	assert.Equal(t, "AB12345", got[0].Text)
	assert.Equal(t, 4, got[0].Start)
}

func TestSoftmax(t *testing.T) {
	p := softmax([]float32{1, 1, 1, 1})
	for _, v := range p {
		assert.InDelta(t, 0.25, v, 1e-6)
	}
	p = softmax([]float32{1000, 0})
	assert.InDelta(t, 1.0, p[0], 1e-6)
	assert.Empty(t, softmax(nil))
}

func TestHTTPSource(t *testing.T) {
	var gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/classify", r.URL.Path)
		var req classifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotText = req.Text
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"spans":[
			{"entity_group":"PATIENT","word":"John","start":8,"end":12,"score":0.97},
			{"label":"DATE","text":"2024-01-02","start":20,"end":30,"score":0.9}
		]}`))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.URL = srv.URL + "/"
	src := NewHTTPSource(cfg, zap.NewNop())

	got, err := src.Candidates(context.Background(), "Patient John seen on 2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, "Patient John seen on 2024-01-02", gotText)
	require.Len(t, got, 2)
	assert.Equal(t, phi.Candidate{EntityType: "PATIENT", Text: "John", Start: 8, End: 12, Score: 0.97}, got[0])
	assert.Equal(t, "DATE", got[1].EntityType)
	assert.Equal(t, cfg.Model, src.Model())
}

func TestHTTPSourceBareArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(` [{"entity_type":"PERSON","text":"Ann","start":0,"end":3,"score":0.8}]`))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.URL = srv.URL
	got, err := NewHTTPSource(cfg, nil).Candidates(context.Background(), "Ann")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "PERSON", got[0].EntityType)
}

func TestHTTPSourceCharacterOffsets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"entity_type":"PERSON","text":"John Smith","start":12,"end":22,"score":0.9},
			{"entity_type":"DATE","start":26,"end":36,"score":0.9}]`))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.URL = srv.URL
	text := "Café visit: John Smith on 2024-01-02"
	got, err := NewHTTPSource(cfg, nil).Candidates(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "John Smith", text[got[0].Start:got[0].End])
	assert.Equal(t, 13, got[0].Start)
	assert.Equal(t, "2024-01-02", got[1].Text)
}

func TestHTTPSourceFailures(t *testing.T) {
	t.Run("error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		cfg := DefaultConfig()
		cfg.URL = srv.URL
		_, err := NewHTTPSource(cfg, zap.NewNop()).Candidates(context.Background(), "x")
		require.Error(t, err)
		assert.ErrorIs(t, err, phi.ErrModelUnavailable)

		var se *phi.SourceError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, phi.CodeSourceBadResponse, se.Code)
	})

	t.Run("garbage body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>"))
		}))
		defer srv.Close()

		cfg := DefaultConfig()
		cfg.URL = srv.URL
		_, err := NewHTTPSource(cfg, zap.NewNop()).Candidates(context.Background(), "x")
		assert.ErrorIs(t, err, phi.ErrModelUnavailable)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		cfg := DefaultConfig()
		cfg.URL = url
		_, err := NewHTTPSource(cfg, zap.NewNop()).Candidates(context.Background(), "x")
		var se *phi.SourceError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, phi.CodeSourceUnreachable, se.Code)
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		cfg := DefaultConfig()
		cfg.URL = srv.URL
		cfg.Timeout = 50 * time.Millisecond
		_, err := NewHTTPSource(cfg, zap.NewNop()).Candidates(context.Background(), "x")
		assert.ErrorIs(t, err, phi.ErrModelUnavailable)
	})
}

func TestStaticSource(t *testing.T) {
	src := &StaticSource{
		Name:    "fixture",
		ByText:  map[string][]phi.Candidate{"Ann": {{EntityType: "PERSON", Text: "Ann", Start: 0, End: 3}}},
		Default: []phi.Candidate{},
	}
	got, err := src.Candidates(context.Background(), "Ann")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = src.Candidates(context.Background(), "other")
	require.NoError(t, err)
	assert.Empty(t, got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Candidates(ctx, "Ann")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewSource(t *testing.T) {
	log := zap.NewNop()

	src, err := New(DefaultConfig(), log)
	require.NoError(t, err)
	assert.IsType(t, &HTTPSource{}, src)

	src, err = New(Config{Backend: BackendNone}, log)
	require.NoError(t, err)
	_, err = src.Candidates(context.Background(), "x")
	assert.ErrorIs(t, err, phi.ErrModelUnavailable)

	src, err = New(Config{Backend: BackendPatterns}, log)
	require.NoError(t, err)
	got, err := src.Candidates(context.Background(), "x")
	require.NoError(t, err)
	assert.Empty(t, got)

	path := filepath.Join(t.TempDir(), "candidates.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"entity_group":"PATIENT","word":"Ann","start":0,"end":3,"score":0.9}]`), 0o600))
	src, err = New(Config{Backend: BackendStatic, StaticPath: path, Model: "replay"}, log)
	require.NoError(t, err)
	assert.Equal(t, "replay", src.Model())
	got, err = src.Candidates(context.Background(), "Ann")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "PATIENT", got[0].EntityType)

	_, err = New(Config{Backend: "gpu"}, log)
	assert.Error(t, err)
	_, err = New(Config{Backend: BackendHTTP}, log)
	assert.Error(t, err)
	_, err = New(Config{Backend: BackendONNX, ModelPath: "m.onnx", VocabPath: "vocab.txt"}, log)
	assert.Error(t, err, "labels are required")
}
