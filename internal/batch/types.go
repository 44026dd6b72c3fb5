// Package batch de-identifies page datasets offline. Pages are read from
// CSV, Parquet or JSON Lines files and written out as anonymized text plus
// metadata files.
package batch

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// PageRecord is one page of a dataset
type PageRecord struct {
	DocID      string `csv:"doc_id" parquet:"doc_id" json:"doc_id"`
	DocName    string `csv:"doc_name" parquet:"doc_name" json:"doc_name"`
	PageNumber int64  `csv:"page_number" parquet:"page_number" json:"page_number"`
	Text       string `csv:"text" parquet:"text" json:"text"`
}

// Result summarizes a processed file
type Result struct {
	TotalRecords int64          `json:"total_records"`
	Invalid      int64          `json:"invalid"`
	Deidentified int64          `json:"deidentified"`
	Fallback     int64          `json:"fallback"`
	Failed       int64          `json:"failed"`
	Entities     int64          `json:"entities"`
	Counts       map[string]int `json:"counts"`
	Documents    int            `json:"documents"`
	Duration     time.Duration  `json:"duration"`
	OutputDir    string         `json:"output_dir"`
	Errors       []string       `json:"errors,omitempty"`
}

// Config contains batch processing configuration
type Config struct {
	Workers       int    `yaml:"workers" mapstructure:"workers"`
	OutputDir     string `yaml:"output_dir" mapstructure:"output_dir"`
	ProgressEvery int    `yaml:"progress_every" mapstructure:"progress_every"`
	// MaxTextBytes rejects oversized pages; zero disables the check
	MaxTextBytes int `yaml:"max_text_bytes" mapstructure:"max_text_bytes"`
}

// maxErrors bounds the errors kept in a Result
const maxErrors = 100

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSONL   FileFormat = "jsonl"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSONL
	default:
		return FormatCSV
	}
}

// AnonymizedFileName names the anonymized text output of a page
func AnonymizedFileName(safeDocID string, page int) string {
	return pageFileName(safeDocID, page, "anonymized.txt")
}

// MetadataFileName names the metadata output of a page
func MetadataFileName(safeDocID string, page int) string {
	return pageFileName(safeDocID, page, "metadata.json")
}

func pageFileName(safeDocID string, page int, suffix string) string {
	return fmt.Sprintf("%s_page_%d_%s", safeDocID, page, suffix)
}
