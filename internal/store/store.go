// Package store keeps page redaction metadata and reviewer corrections in
// PostgreSQL or SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/raaihank/phi-sentinel/internal/metadata"
	"github.com/raaihank/phi-sentinel/internal/phi"
)

// Store handles metadata persistence
type Store struct {
	db     *sqlx.DB
	driver string
	logger *zap.Logger
}

// New connects, configures the pool and creates the schema
func New(ctx context.Context, config Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch config.Driver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported metadata driver: %q", config.Driver)
	}

	db, err := sqlx.ConnectContext(ctx, config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	maxOpen := config.MaxOpenConns
	if config.Driver == "sqlite" {
		// a single writer avoids SQLITE_BUSY under concurrent page saves
		maxOpen = 1
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	s := &Store{db: db, driver: config.Driver, logger: logger}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Metadata store initialized",
		zap.String("driver", config.Driver),
		zap.String("dsn", maskDatabaseURL(config.DSN)))
	return s, nil
}

// Migrate creates the tables if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	idColumn := "BIGSERIAL PRIMARY KEY"
	if s.driver == "sqlite" {
		idColumn = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS redaction_metadata (
			doc_id TEXT NOT NULL,
			page_number INTEGER NOT NULL,
			doc_name TEXT NOT NULL,
			method TEXT NOT NULL,
			total_entities INTEGER NOT NULL,
			document TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (doc_id, page_number)
		)`,
		`CREATE TABLE IF NOT EXISTS redaction_corrections (
			id ` + idColumn + `,
			doc_id TEXT NOT NULL,
			page_number INTEGER NOT NULL,
			author TEXT NOT NULL,
			note TEXT NOT NULL,
			entities TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_corrections_page ON redaction_corrections (doc_id, page_number)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

// SaveMetadata stores a page's metadata once. A second save for the same
// document page returns phi.ErrMetadataExists.
func (s *Store) SaveMetadata(ctx context.Context, m *metadata.Metadata) error {
	if m.DocID == "" || m.PageNumber < 1 {
		return fmt.Errorf("%w: metadata needs a doc_id and a page number", phi.ErrInvalidMetadata)
	}
	if err := m.Validate(); err != nil {
		return err
	}
	doc, err := metadata.Encode(m)
	if err != nil {
		return err
	}

	query := s.db.Rebind(`
		INSERT INTO redaction_metadata (doc_id, page_number, doc_name, method, total_entities, document, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (doc_id, page_number) DO NOTHING`)

	res, err := s.db.ExecContext(ctx, query,
		m.DocID, m.PageNumber, m.DocName, m.Method, m.TotalEntitiesRedacted, string(doc), m.Timestamp.UTC())
	if err != nil {
		s.logger.Error("Failed to save metadata",
			zap.String("doc_id", m.DocID),
			zap.Int("page", m.PageNumber),
			zap.Error(err))
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s page %d", phi.ErrMetadataExists, m.DocID, m.PageNumber)
	}

	s.logger.Debug("Metadata saved",
		zap.String("doc_id", m.DocID),
		zap.Int("page", m.PageNumber),
		zap.Int("entities", m.TotalEntitiesRedacted))
	return nil
}

// GetMetadata loads and validates a page's metadata
func (s *Store) GetMetadata(ctx context.Context, docID string, page int) (*metadata.Metadata, error) {
	var doc string
	query := s.db.Rebind(`SELECT document FROM redaction_metadata WHERE doc_id = ? AND page_number = ?`)
	if err := s.db.GetContext(ctx, &doc, query, docID, page); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s page %d", phi.ErrPageNotFound, docID, page)
		}
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}
	return metadata.Decode([]byte(doc))
}

// ListPages summarizes every stored page of a document in page order
func (s *Store) ListPages(ctx context.Context, docID string) ([]PageSummary, error) {
	query := s.db.Rebind(`
		SELECT doc_id, doc_name, page_number, method, total_entities, created_at
		FROM redaction_metadata
		WHERE doc_id = ?
		ORDER BY page_number`)

	pages := []PageSummary{}
	if err := s.db.SelectContext(ctx, &pages, query, docID); err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	return pages, nil
}

// AppendCorrection records a correction for a stored page
func (s *Store) AppendCorrection(ctx context.Context, c *Correction) error {
	if c.Author == "" {
		return fmt.Errorf("correction author is required")
	}
	var exists bool
	check := s.db.Rebind(`SELECT EXISTS(SELECT 1 FROM redaction_metadata WHERE doc_id = ? AND page_number = ?)`)
	if err := s.db.GetContext(ctx, &exists, check, c.DocID, c.PageNumber); err != nil {
		return fmt.Errorf("failed to check page: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s page %d", phi.ErrPageNotFound, c.DocID, c.PageNumber)
	}

	entities := c.Entities
	if entities == nil {
		entities = []phi.Entity{}
	}
	data, err := json.Marshal(entities)
	if err != nil {
		return fmt.Errorf("failed to marshal correction: %w", err)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	query := s.db.Rebind(`
		INSERT INTO redaction_corrections (doc_id, page_number, author, note, entities, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`)
	if err := s.db.QueryRowxContext(ctx, query,
		c.DocID, c.PageNumber, c.Author, c.Note, string(data), c.CreatedAt,
	).Scan(&c.ID); err != nil {
		return fmt.Errorf("failed to save correction: %w", err)
	}

	s.logger.Info("Correction recorded",
		zap.String("doc_id", c.DocID),
		zap.Int("page", c.PageNumber),
		zap.Int64("correction_id", c.ID),
		zap.Int("entities", len(entities)))
	return nil
}

// LatestCorrection returns the most recent correction for a page
func (s *Store) LatestCorrection(ctx context.Context, docID string, page int) (*Correction, error) {
	query := s.db.Rebind(`
		SELECT id, doc_id, page_number, author, note, entities, created_at
		FROM redaction_corrections
		WHERE doc_id = ? AND page_number = ?
		ORDER BY id DESC
		LIMIT 1`)

	var row correctionRow
	if err := s.db.GetContext(ctx, &row, query, docID, page); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no correction for %s page %d", phi.ErrPageNotFound, docID, page)
		}
		return nil, fmt.Errorf("failed to load correction: %w", err)
	}

	c := &Correction{
		ID:         row.ID,
		DocID:      row.DocID,
		PageNumber: row.PageNumber,
		Author:     row.Author,
		Note:       row.Note,
		CreatedAt:  row.CreatedAt,
	}
	if err := json.Unmarshal([]byte(row.Entities), &c.Entities); err != nil {
		return nil, fmt.Errorf("%w: correction %d: %v", phi.ErrInvalidMetadata, row.ID, err)
	}
	return c, nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// maskDatabaseURL masks the password in a database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	scheme := strings.Index(userPart, "://")
	if colon := strings.LastIndex(userPart, ":"); colon > scheme+2 {
		return userPart[:colon+1] + "***" + url[at:]
	}
	return url
}
