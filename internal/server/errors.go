package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Guliveer/procsnap/internal/auth"
	"github.com/Guliveer/procsnap/internal/ingest"
	"github.com/Guliveer/procsnap/internal/query"
	"github.com/Guliveer/procsnap/internal/store"
)

// Error codes as constants
const (
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeMethodNotAllowed  = "METHOD_NOT_ALLOWED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"requestId"`
	Timestamp time.Time              `json:"timestamp"`
	Retryable bool                   `json:"retryable"`
}

// writeError writes error response
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, statusCode int,
	code, message string, retryable bool, details map[string]interface{}) {

	requestID := requestIDFrom(r)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	s.respondJSON(w, statusCode, ErrorResponse{
		Code:      code,
		Message:   message,
		Details:   details,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Retryable: retryable,
	})
}

// writeServiceError maps an ingestion, query or auth error onto its HTTP
// reply. Auth replies never echo the supplied key.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ingest.ValidationError
	switch {
	case errors.Is(err, auth.ErrMissingKey):
		s.writeError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized,
			"Missing API key", false, nil)
	case errors.Is(err, auth.ErrInvalidKey):
		s.writeError(w, r, http.StatusForbidden, ErrCodeForbidden,
			"Invalid API key", false, nil)
	case errors.As(err, &verr):
		fields := make(map[string]interface{}, len(verr.Fields))
		for k, v := range verr.Fields {
			fields[k] = v
		}
		s.writeError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest,
			"Invalid snapshot payload", false, map[string]interface{}{"fields": fields})
	case errors.Is(err, query.ErrInvalidLimit):
		s.writeError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest,
			err.Error(), false, nil)
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, r, http.StatusNotFound, ErrCodeNotFound,
			"Snapshot not found", false, nil)
	default:
		s.logger.Error("Request failed",
			zap.String("request_id", requestIDFrom(r)),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, ErrCodeInternalError,
			"Internal server error", true, nil)
	}
}

func (s *Server) writeMethodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, r, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed,
		"Method not allowed", false, map[string]interface{}{"allowed": allowed})
}

// respondJSON encodes data before writing headers so an encoding failure
// can still produce a 500.
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		s.logger.Error("JSON encoding failed", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Warn("Response write failed", zap.Error(err))
	}
}
