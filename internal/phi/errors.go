package phi

import "errors"

var (
	// ErrMalformedCandidate marks a candidate missing its type, text or a valid span.
	ErrMalformedCandidate = errors.New("malformed candidate")
	// ErrModelUnavailable marks a failed candidate-generation step.
	ErrModelUnavailable = errors.New("candidate model unavailable")
	// ErrTokenNotFound marks a placeholder that could not be located during re-identification.
	ErrTokenNotFound = errors.New("replacement token not found")
	// ErrInvalidMetadata marks a metadata or map document that fails validation.
	ErrInvalidMetadata = errors.New("invalid redaction metadata")
	// ErrDocumentMismatch marks metadata whose doc_id differs from the request.
	ErrDocumentMismatch = errors.New("document id mismatch")
	// ErrPageNotFound marks a lookup for a page that has no metadata.
	ErrPageNotFound = errors.New("page not found")
	// ErrMetadataExists marks an attempt to overwrite immutable page metadata.
	ErrMetadataExists = errors.New("redaction metadata already exists")
)

// SourceError describes a candidate-source failure with a stable type and code.
type SourceError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
	Err     error  `json:"-"`
}

func (e *SourceError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap lets errors.Is match ErrModelUnavailable for every source failure.
func (e *SourceError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrModelUnavailable, e.Err}
	}
	return []error{ErrModelUnavailable}
}

// NewSourceError wraps err as a candidate-source failure.
func NewSourceError(typ string, code int, message string, err error) *SourceError {
	return &SourceError{Type: typ, Code: code, Message: message, Err: err}
}

// Source failure codes.
const (
	CodeSourceUnreachable = 2001
	CodeSourceBadResponse = 2002
	CodeSourceTimeout     = 2003
	CodeSourceNotBuilt    = 2004
	CodeSourceInference   = 2005
)
