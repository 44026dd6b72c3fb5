package batch

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/segmentio/parquet-go"
)

// RecordReader yields page records until io.EOF
type RecordReader interface {
	Next() (*PageRecord, error)
	Close() error
}

// Open returns a reader for the file's format
func Open(path string) (RecordReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}

	switch DetectFileFormat(path) {
	case FormatParquet:
		return &parquetReader{file: file, reader: parquet.NewReader(file)}, nil
	case FormatJSONL:
		return &jsonReader{file: file, decoder: json.NewDecoder(file)}, nil
	default:
		r, err := newCSVReader(file)
		if err != nil {
			file.Close()
			return nil, err
		}
		return r, nil
	}
}

// csvReader maps columns by header name, so column order is free
type csvReader struct {
	file    *os.File
	reader  *csv.Reader
	columns map[string]int
	row     int
}

func newCSVReader(file *os.File) (*csvReader, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	if _, ok := columns["text"]; !ok {
		return nil, fmt.Errorf("CSV header has no text column: %v", header)
	}
	return &csvReader{file: file, reader: reader, columns: columns, row: 1}, nil
}

func (r *csvReader) Next() (*PageRecord, error) {
	fields, err := r.reader.Read()
	r.row++
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, &RowError{Row: int64(r.row), Message: parseErr.Err.Error()}
		}
		return nil, err
	}

	get := func(name string) string {
		if i, ok := r.columns[name]; ok && i < len(fields) {
			return fields[i]
		}
		return ""
	}

	rec := &PageRecord{
		DocID:   strings.TrimSpace(get("doc_id")),
		DocName: strings.TrimSpace(get("doc_name")),
		Text:    get("text"),
	}
	if raw := strings.TrimSpace(get("page_number")); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &RowError{Row: int64(r.row), Field: "page_number", Message: "not a number"}
		}
		rec.PageNumber = n
	}
	return rec, nil
}

func (r *csvReader) Close() error {
	return r.file.Close()
}

type parquetReader struct {
	file   *os.File
	reader *parquet.Reader
}

func (r *parquetReader) Next() (*PageRecord, error) {
	var rec PageRecord
	if err := r.reader.Read(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *parquetReader) Close() error {
	r.reader.Close()
	return r.file.Close()
}

// jsonReader reads one JSON object per line
type jsonReader struct {
	file    *os.File
	decoder *json.Decoder
	row     int64
}

func (r *jsonReader) Next() (*PageRecord, error) {
	var rec PageRecord
	r.row++
	if err := r.decoder.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			// the decoder cannot resynchronize after a syntax error
			return nil, fmt.Errorf("invalid JSON at record %d: %w", r.row, err)
		}
		return nil, &RowError{Row: r.row, Message: err.Error()}
	}
	return &rec, nil
}

func (r *jsonReader) Close() error {
	return r.file.Close()
}

// RowError is a record that could not be read; reading can continue
type RowError struct {
	Row     int64  `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *RowError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Message)
	}
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}
