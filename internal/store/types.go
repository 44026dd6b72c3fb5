package store

import (
	"time"

	"github.com/raaihank/phi-sentinel/internal/phi"
)

// Config contains database configuration
type Config struct {
	Driver          string        `yaml:"driver" mapstructure:"driver"` // sqlite or postgres
	DSN             string        `yaml:"dsn" mapstructure:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// PageSummary describes a stored page without its entities
type PageSummary struct {
	DocID         string    `db:"doc_id" json:"doc_id"`
	DocName       string    `db:"doc_name" json:"doc_name"`
	PageNumber    int       `db:"page_number" json:"page_number"`
	Method        string    `db:"method" json:"method"`
	TotalEntities int       `db:"total_entities" json:"total_entities"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Correction is a reviewer's amendment to a page's entity list. It is
// recorded beside the original metadata, which never changes.
type Correction struct {
	ID         int64        `db:"id" json:"id"`
	DocID      string       `db:"doc_id" json:"doc_id"`
	PageNumber int          `db:"page_number" json:"page_number"`
	Author     string       `db:"author" json:"author"`
	Note       string       `db:"note" json:"note,omitempty"`
	Entities   []phi.Entity `db:"-" json:"entities"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
}

// correctionRow is the stored form of a Correction
type correctionRow struct {
	ID         int64     `db:"id"`
	DocID      string    `db:"doc_id"`
	PageNumber int       `db:"page_number"`
	Author     string    `db:"author"`
	Note       string    `db:"note"`
	Entities   string    `db:"entities"`
	CreatedAt  time.Time `db:"created_at"`
}
