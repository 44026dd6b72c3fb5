package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/phi-sentinel/internal/metadata"
	"github.com/raaihank/phi-sentinel/internal/phi"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "meta.db")
	s, err := New(context.Background(), Config{Driver: "sqlite", DSN: dsn}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func pageMetadata(docID string, page int) *metadata.Metadata {
	b := metadata.Builder{
		Models: []string{"test-model"},
		Now:    func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
	return b.Build(metadata.Page{DocID: docID, DocName: "report.pdf", PageNumber: page},
		metadata.MethodEnsemble,
		[]phi.Entity{
			{EntityType: phi.TypePerson, Text: "John Smith", Start: 8, End: 18, Score: 0.9},
			{EntityType: phi.TypeAge, Text: "45", Start: 24, End: 26, Score: 0.9},
		})
}

func TestSaveAndGetMetadata(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	m := pageMetadata("doc-1", 1)
	require.NoError(t, s.SaveMetadata(ctx, m))

	got, err := s.GetMetadata(ctx, "doc-1", 1)
	require.NoError(t, err)
	assert.Equal(t, m.Entities, got.Entities)
	assert.Equal(t, m.Timestamp, got.Timestamp)
	assert.Equal(t, "page_1_PERSON_1", got.Entities[0].EntityID)

	_, err = s.GetMetadata(ctx, "doc-1", 2)
	assert.ErrorIs(t, err, phi.ErrPageNotFound)
}

func TestSaveMetadataIsInsertOnly(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.SaveMetadata(ctx, pageMetadata("doc-1", 1)))

	changed := pageMetadata("doc-1", 1)
	changed.Entities = changed.Entities[:1]
	changed.TotalEntitiesRedacted = 1
	err := s.SaveMetadata(ctx, changed)
	assert.ErrorIs(t, err, phi.ErrMetadataExists)

	got, err := s.GetMetadata(ctx, "doc-1", 1)
	require.NoError(t, err)
	assert.Len(t, got.Entities, 2, "the original document is untouched")
}

func TestSaveMetadataRejectsInvalid(t *testing.T) {
	s := newStore(t)
	m := pageMetadata("", 1)
	assert.ErrorIs(t, s.SaveMetadata(context.Background(), m), phi.ErrInvalidMetadata)

	m = pageMetadata("doc-1", 1)
	m.Entities[0].End = m.Entities[0].Start
	assert.ErrorIs(t, s.SaveMetadata(context.Background(), m), phi.ErrInvalidMetadata)
}

func TestListPages(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for _, page := range []int{3, 1, 2} {
		require.NoError(t, s.SaveMetadata(ctx, pageMetadata("doc-1", page)))
	}
	require.NoError(t, s.SaveMetadata(ctx, pageMetadata("doc-2", 1)))

	pages, err := s.ListPages(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, pages, 3)
	for i, p := range pages {
		assert.Equal(t, i+1, p.PageNumber)
		assert.Equal(t, metadata.MethodEnsemble, p.Method)
		assert.Equal(t, 2, p.TotalEntities)
	}

	pages, err = s.ListPages(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, pages)
}

func TestCorrections(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.SaveMetadata(ctx, pageMetadata("doc-1", 1)))

	_, err := s.LatestCorrection(ctx, "doc-1", 1)
	assert.ErrorIs(t, err, phi.ErrPageNotFound)

	first := &Correction{DocID: "doc-1", PageNumber: 1, Author: "reviewer-a", Note: "missed a name"}
	require.NoError(t, s.AppendCorrection(ctx, first))
	assert.NotZero(t, first.ID)

	second := &Correction{
		DocID: "doc-1", PageNumber: 1, Author: "reviewer-b",
		Entities: []phi.Entity{{EntityType: phi.TypePerson, Text: "Smith", Start: 13, End: 18}},
	}
	require.NoError(t, s.AppendCorrection(ctx, second))

	latest, err := s.LatestCorrection(ctx, "doc-1", 1)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, "reviewer-b", latest.Author)
	assert.Equal(t, second.Entities, latest.Entities)

	got, err := s.GetMetadata(ctx, "doc-1", 1)
	require.NoError(t, err)
	assert.Len(t, got.Entities, 2, "corrections never modify metadata")

	err = s.AppendCorrection(ctx, &Correction{DocID: "doc-1", PageNumber: 9, Author: "x"})
	assert.ErrorIs(t, err, phi.ErrPageNotFound)
	assert.Error(t, s.AppendCorrection(ctx, &Correction{DocID: "doc-1", PageNumber: 1}))
}

func TestConcurrentSavesOfSamePage(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.SaveMetadata(ctx, pageMetadata("doc-1", 1))
		}()
	}
	wg.Wait()
	close(errs)

	saved := 0
	for err := range errs {
		if err == nil {
			saved++
			continue
		}
		assert.ErrorIs(t, err, phi.ErrMetadataExists)
	}
	assert.Equal(t, 1, saved)
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), Config{Driver: "mysql"}, nil)
	assert.Error(t, err)
}

func TestMaskDatabaseURL(t *testing.T) {
	assert.Equal(t, "postgres://phi:***@db:5432/phi", maskDatabaseURL("postgres://phi:secret@db:5432/phi"))
	assert.Equal(t, "file:meta.db", maskDatabaseURL("file:meta.db"))
}
