package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/Guliveer/procsnap/internal/auth"
	"github.com/Guliveer/procsnap/internal/ingest"
	"github.com/Guliveer/procsnap/internal/query"
)

// IngestResponse is the reply to a stored snapshot.
type IngestResponse struct {
	SnapshotID string `json:"snapshot_id"`
}

// handleIngest handles POST /api/v1/process-snapshots/
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}

	key := r.Header.Get(auth.Header)
	if err := s.keys.Check(key); err != nil {
		s.rejectIngest(w, r, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ingestRejected.WithLabelValues("too_large").Inc()
			s.writeError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest,
				"Request body too large", false, map[string]interface{}{"limit_bytes": tooLarge.Limit})
			return
		}
		ingestRejected.WithLabelValues("read_error").Inc()
		s.writeError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest,
			"Failed to read request body", false, nil)
		return
	}

	res, err := s.ingest.Ingest(r.Context(), body, key)
	if err != nil {
		s.rejectIngest(w, r, err)
		return
	}

	snapshotsIngested.Inc()
	processesIngested.Add(float64(res.Processes))
	s.respondJSON(w, http.StatusCreated, IngestResponse{SnapshotID: res.SnapshotID})
}

func (s *Server) rejectIngest(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ingest.ValidationError
	reason := "internal"
	switch {
	case errors.Is(err, auth.ErrMissingKey):
		reason = "unauthorized"
	case errors.Is(err, auth.ErrInvalidKey):
		reason = "forbidden"
	case errors.As(err, &verr):
		reason = "invalid"
	}
	ingestRejected.WithLabelValues(reason).Inc()
	s.writeServiceError(w, r, err)
}

// handleLatest handles GET /api/v1/process-snapshots/latest
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}

	snap, err := s.query.Latest(r.Context(), r.URL.Query().Get("hostname"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, snap)
}

// handleList handles GET /api/v1/process-snapshots/list
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}

	params := r.URL.Query()
	limit, err := query.ParseLimit(params.Get("limit"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	summaries, err := s.query.List(r.Context(), params.Get("hostname"), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, summaries)
}

// handleGet handles GET /api/v1/process-snapshots/{id}
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}

	snap, err := s.query.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, snap)
}
