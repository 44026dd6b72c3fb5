package reid

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// FileMapStore keeps one reid_map_{doc_id}.json file per document
type FileMapStore struct {
	dir    string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewFileMapStore creates the directory if needed
func NewFileMapStore(dir string, log *zap.Logger) (*FileMapStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create map directory: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FileMapStore{dir: dir, logger: log}, nil
}

// MapFileName is the file name used for a document's map
func MapFileName(docID string) string {
	return "reid_map_" + SafeName(docID) + ".json"
}

// Path returns the map file path for a document
func (s *FileMapStore) Path(docID string) string {
	return filepath.Join(s.dir, MapFileName(docID))
}

// Load reads a document's map
func (s *FileMapStore) Load(_ context.Context, docID string) (*Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(docID)
}

func (s *FileMapStore) load(docID string) (*Map, error) {
	data, err := os.ReadFile(s.Path(docID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrMapNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read map: %w", err)
	}
	return DecodeMap(data)
}

// MergePage read-modify-writes the document's map file. An unreadable file
// or one written for another document is replaced.
func (s *FileMapStore) MergePage(_ context.Context, docID, docName string, page int, pm PageMap) (*Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load(docID)
	switch {
	case errors.Is(err, ErrMapNotFound):
		existing = nil
	case err != nil:
		s.logger.Warn("Replacing unreadable re-identification map",
			zap.String("doc_id", docID),
			zap.Error(err))
		existing = nil
	case existing.DocID != docID:
		s.logger.Warn("Replacing map written for another document",
			zap.String("doc_id", docID),
			zap.String("found_doc_id", existing.DocID))
	}

	merged := MergePage(existing, docID, docName, page, pm)
	data, err := EncodeMap(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode map: %w", err)
	}
	if err := WriteFileAtomic(s.Path(docID), data); err != nil {
		return nil, err
	}

	s.logger.Debug("Re-identification map updated",
		zap.String("doc_id", docID),
		zap.Int("page", page),
		zap.Int("pages", len(merged.Pages)),
		zap.Int("replacements", len(pm.Replacements)))
	return merged, nil
}

// WriteFileAtomic writes to a temp file in the same directory and renames it
// over path
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".phi-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}
	return nil
}

// SafeName turns a document ID into a file name component that cannot
// escape its directory
func SafeName(docID string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, docID)
	if name == "" || name == "." || name == ".." {
		return "document"
	}
	return name
}
