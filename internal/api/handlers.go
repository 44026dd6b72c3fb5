package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/phi-sentinel/internal/metadata"
	"github.com/raaihank/phi-sentinel/internal/phi"
	"github.com/raaihank/phi-sentinel/internal/pipeline"
	"github.com/raaihank/phi-sentinel/internal/store"
)

// DeidentifyRequest is the body of POST /v1/deidentify. A missing doc_id is
// generated and a missing page_number defaults to 1.
type DeidentifyRequest struct {
	DocID      string `json:"doc_id"`
	DocName    string `json:"doc_name"`
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
}

// DeidentifyResponse carries the anonymized page and its metadata
type DeidentifyResponse struct {
	DocID          string                 `json:"doc_id"`
	PageNumber     int                    `json:"page_number"`
	AnonymizedText string                 `json:"anonymized_text"`
	Operators      map[string]string      `json:"operators"`
	Method         string                 `json:"method"`
	Counts         map[phi.EntityType]int `json:"counts"`
	Ambiguous      []phi.EntityType       `json:"ambiguous,omitempty"`
	FallbackReason string                 `json:"fallback_reason,omitempty"`
	Metadata       *metadata.Metadata     `json:"metadata"`
	DurationMS     float64                `json:"duration_ms"`
}

// CorrectionRequest is the body of a correction post
type CorrectionRequest struct {
	Author   string       `json:"author"`
	Note     string       `json:"note"`
	Entities []phi.Entity `json:"entities"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			s.logger.Warn("Metadata store health check failed", zap.Error(err))
			status["status"] = "degraded"
			status["store"] = "unreachable"
			code = http.StatusServiceUnavailable
		} else {
			status["store"] = "ok"
		}
	}
	writeJSON(w, code, status)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":             "phi-sentinel",
		"version":          Version,
		"model":            s.deid.Model(),
		"ner_backend":      s.config.NER.Backend,
		"fallback_enabled": s.deid.FallbackEnabled(),
		"detectors":        s.config.Detectors,
		"store_enabled":    s.store != nil,
		"uptime_seconds":   int64(time.Since(s.started).Seconds()),
	}
	if s.hub != nil {
		info["events"] = s.hub.GetStats()
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDeidentify(w http.ResponseWriter, r *http.Request) {
	var req DeidentifyRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.DocID == "" {
		req.DocID = uuid.NewString()
	}
	if req.PageNumber == 0 {
		req.PageNumber = 1
	}
	if req.PageNumber < 0 {
		writeError(w, http.StatusBadRequest, "page_number must be positive")
		return
	}

	res, err := s.deid.DeidentifyPage(r.Context(), pipeline.PageInput{
		DocID:      req.DocID,
		DocName:    req.DocName,
		PageNumber: req.PageNumber,
		Text:       req.Text,
		RequestID:  getRequestID(r.Context()),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, DeidentifyResponse{
		DocID:          req.DocID,
		PageNumber:     req.PageNumber,
		AnonymizedText: res.AnonymizedText,
		Operators:      res.Operators,
		Method:         res.Method,
		Counts:         res.Counts,
		Ambiguous:      res.Ambiguous,
		FallbackReason: res.FallbackReason,
		Metadata:       res.Metadata,
		DurationMS:     float64(res.Duration.Microseconds()) / 1000,
	})
}

func (s *Server) handleReidentify(w http.ResponseWriter, r *http.Request) {
	var req pipeline.ReidInput
	if !s.decode(w, r, &req) {
		return
	}
	req.RequestID = getRequestID(r.Context())

	res, err := s.reid.ReidentifyPage(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListPages(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	pages, err := s.store.ListPages(r.Context(), mux.Vars(r)["doc_id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	docID, page, ok := s.pageVars(w, r)
	if !ok || !s.requireStore(w) {
		return
	}
	m, err := s.store.GetMetadata(r.Context(), docID, page)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleAddCorrection(w http.ResponseWriter, r *http.Request) {
	docID, page, ok := s.pageVars(w, r)
	if !ok || !s.requireStore(w) {
		return
	}
	var req CorrectionRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Author == "" {
		writeError(w, http.StatusBadRequest, "author is required")
		return
	}

	c := &store.Correction{
		DocID:      docID,
		PageNumber: page,
		Author:     req.Author,
		Note:       req.Note,
		Entities:   req.Entities,
	}
	if err := s.store.AppendCorrection(r.Context(), c); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleLatestCorrection(w http.ResponseWriter, r *http.Request) {
	docID, page, ok := s.pageVars(w, r)
	if !ok || !s.requireStore(w) {
		return
	}
	c, err := s.store.LatestCorrection(r.Context(), docID, page)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) pageVars(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	vars := mux.Vars(r)
	page, err := strconv.Atoi(vars["page"])
	if err != nil || page < 1 {
		writeError(w, http.StatusBadRequest, "invalid page number")
		return "", 0, false
	}
	return vars["doc_id"], page, true
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "metadata store is not configured")
		return false
	}
	return true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeServiceError maps domain errors to status codes. Messages carry
// identifiers only.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := getRequestID(r.Context())
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, phi.ErrPageNotFound):
		code = http.StatusNotFound
	case errors.Is(err, phi.ErrMetadataExists):
		code = http.StatusConflict
	case errors.Is(err, phi.ErrDocumentMismatch), errors.Is(err, phi.ErrInvalidMetadata):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, phi.ErrModelUnavailable):
		code = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}

	if code >= http.StatusInternalServerError {
		s.logger.WithRequestID(requestID).Error("Request failed", zap.Error(err))
	}
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeJSON(w, code, errorResponse{Error: msg, RequestID: requestID})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
