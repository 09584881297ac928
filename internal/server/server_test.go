package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Guliveer/procsnap/internal/auth"
	"github.com/Guliveer/procsnap/internal/config"
	"github.com/Guliveer/procsnap/internal/ingest"
	"github.com/Guliveer/procsnap/internal/query"
	"github.com/Guliveer/procsnap/internal/store"
)

const testKey = "test-agent-key"

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *store.Store) {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.CreateSchema(context.Background()); err != nil {
		t.Fatal(err)
	}

	cfg := ConfigFromCollector(config.DefaultCollectorConfig())
	if mutate != nil {
		mutate(cfg)
	}
	keys := auth.NewKeySet([]string{testKey})
	in := ingest.New(keys, st, zap.NewNop())
	q := query.New(st, 20, 500)
	s := New(cfg, keys, in, q, st, zap.NewNop())
	s.SetReady(true)
	return s, st
}

func do(t *testing.T, s *Server, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if key != "" {
		req.Header.Set(auth.Header, key)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error body %q: %v", w.Body.String(), err)
	}
	return resp
}

const validBody = `{"hostname": "h1", "created_at": "2024-01-01T00:00:00Z", "processes": [
	{"pid": 1, "ppid": 0, "name": "init", "cpu_percent": 0.5, "memory_rss": 1024, "memory_percent": 0.1},
	{"pid": 2, "ppid": 1, "name": "sh", "cpu_percent": null, "memory_rss": null, "memory_percent": null}
]}`

func ingestOK(t *testing.T, s *Server, body string) string {
	t.Helper()
	w := do(t, s, http.MethodPost, "/api/v1/process-snapshots/", testKey, body)
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest status = %d, body %s", w.Code, w.Body.String())
	}
	var resp IngestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.SnapshotID
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := do(t, s, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if w.Header().Get("Content-Type") != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", w.Header().Get("Content-Type"))
	}
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("database is locked") }

func TestReadyEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)

	tests := []struct {
		name           string
		ready          bool
		store          Pinger
		expectedStatus int
	}{
		{"ready", true, s.store, http.StatusOK},
		{"not serving", false, s.store, http.StatusServiceUnavailable},
		{"store down", true, failingPinger{}, http.StatusServiceUnavailable},
		{"no store check", true, nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.SetReady(tt.ready)
			s.store = tt.store

			w := do(t, s, http.MethodGet, "/ready", "", "")
			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}
}

func TestIngestAndQuery(t *testing.T) {
	s, st := newTestServer(t, nil)

	id := ingestOK(t, s, validBody)
	if id == "" {
		t.Fatal("expected snapshot_id in response")
	}
	if n, _ := st.CountProcesses(context.Background()); n != 2 {
		t.Errorf("stored processes = %d, want 2", n)
	}

	for _, path := range []string{
		"/api/v1/process-snapshots/latest",
		"/api/v1/process-snapshots/latest?hostname=h1",
		"/api/v1/process-snapshots/" + id,
	} {
		w := do(t, s, http.MethodGet, path, "", "")
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d, body %s", path, w.Code, w.Body.String())
		}
		var snap store.Snapshot
		if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
			t.Fatal(err)
		}
		if snap.ID != id || snap.Hostname != "h1" || len(snap.Processes) != 2 {
			t.Errorf("GET %s = %+v", path, snap)
		}
		if snap.Processes[1].CPUPercent != nil {
			t.Errorf("GET %s: null cpu_percent came back as %v", path, *snap.Processes[1].CPUPercent)
		}
	}

	w := do(t, s, http.MethodGet, "/api/v1/process-snapshots/latest?hostname=h2", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("latest for unknown host status = %d, want 404", w.Code)
	}
	if resp := decodeError(t, w); resp.Code != ErrCodeNotFound {
		t.Errorf("code = %s, want %s", resp.Code, ErrCodeNotFound)
	}
}

func TestIngest_PathWithoutTrailingSlash(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := do(t, s, http.MethodPost, "/api/v1/process-snapshots", testKey, validBody)
	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", w.Code)
	}
}

func TestIngest_Auth(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		status int
		code   string
	}{
		{"missing key", "", http.StatusUnauthorized, ErrCodeUnauthorized},
		{"invalid key", "guess-123", http.StatusForbidden, ErrCodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, st := newTestServer(t, nil)
			w := do(t, s, http.MethodPost, "/api/v1/process-snapshots/", tt.key, validBody)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if resp := decodeError(t, w); resp.Code != tt.code {
				t.Errorf("code = %s, want %s", resp.Code, tt.code)
			}
			if tt.key != "" && strings.Contains(w.Body.String(), tt.key) {
				t.Error("error body must not echo the supplied key")
			}
			if n, _ := st.CountSnapshots(context.Background()); n != 0 {
				t.Errorf("stored snapshots = %d after auth failure", n)
			}
		})
	}
}

func TestIngest_ValidationError(t *testing.T) {
	s, st := newTestServer(t, nil)
	body := `{"hostname": "h1", "processes": [{"pid": 1, "ppid": 0, "name": "ok"}, {"ppid": 0, "name": "bad"}]}`

	w := do(t, s, http.MethodPost, "/api/v1/process-snapshots/", testKey, body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	resp := decodeError(t, w)
	if resp.Code != ErrCodeInvalidRequest {
		t.Errorf("code = %s, want %s", resp.Code, ErrCodeInvalidRequest)
	}
	fields, ok := resp.Details["fields"].(map[string]interface{})
	if !ok {
		t.Fatalf("details = %v, want fields map", resp.Details)
	}
	if _, ok := fields["processes[1].pid"]; !ok {
		t.Errorf("fields = %v, want processes[1].pid", fields)
	}
	if n, _ := st.CountProcesses(context.Background()); n != 0 {
		t.Errorf("stored processes = %d, want 0", n)
	}
}

func TestIngest_BodyTooLarge(t *testing.T) {
	s, _ := newTestServer(t, func(c *Config) { c.MaxBodyBytes = 64 })
	w := do(t, s, http.MethodPost, "/api/v1/process-snapshots/", testKey, validBody)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := do(t, s, http.MethodGet, "/api/v1/process-snapshots/", "", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
	if w.Header().Get("Allow") != http.MethodPost {
		t.Errorf("Allow = %q, want POST", w.Header().Get("Allow"))
	}
	if resp := decodeError(t, w); resp.Code != ErrCodeMethodNotAllowed {
		t.Errorf("code = %s", resp.Code)
	}

	w = do(t, s, http.MethodDelete, "/api/v1/process-snapshots/latest", "", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE latest status = %d, want 405", w.Code)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	s, _ := newTestServer(t, nil)
	for _, id := range []string{"not-a-uuid", "6f1c2b9e-3d4a-4c1e-9f2a-1b2c3d4e5f60"} {
		w := do(t, s, http.MethodGet, "/api/v1/process-snapshots/"+id, "", "")
		if w.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", id, w.Code)
		}
	}
}

func TestList(t *testing.T) {
	s, _ := newTestServer(t, nil)
	for i := 0; i < 5; i++ {
		body := fmt.Sprintf(`{"hostname": "h1", "created_at": "2024-01-01T00:00:0%dZ", "processes": [{"pid": 1, "ppid": 0, "name": "a"}]}`, i)
		ingestOK(t, s, body)
	}

	w := do(t, s, http.MethodGet, "/api/v1/process-snapshots/list?hostname=h1&limit=2", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var got []map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0]["created_at"] != "2024-01-01T00:00:04Z" {
		t.Errorf("first created_at = %v, want newest", got[0]["created_at"])
	}
	if got[0]["count"] != float64(1) {
		t.Errorf("count = %v, want 1", got[0]["count"])
	}
	if _, ok := got[0]["processes"]; ok {
		t.Error("list summaries must not embed process records")
	}

	for _, bad := range []string{"0", "-1", "ten"} {
		w := do(t, s, http.MethodGet, "/api/v1/process-snapshots/list?limit="+bad, "", "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want 400", bad, w.Code)
		}
	}
}

func TestProtectReads(t *testing.T) {
	s, _ := newTestServer(t, func(c *Config) { c.ProtectReads = true })
	id := ingestOK(t, s, validBody)

	paths := []string{
		"/api/v1/process-snapshots/latest",
		"/api/v1/process-snapshots/list",
		"/api/v1/process-snapshots/" + id,
	}
	for _, path := range paths {
		if w := do(t, s, http.MethodGet, path, "", ""); w.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without key status = %d, want 401", path, w.Code)
		}
		if w := do(t, s, http.MethodGet, path, testKey, ""); w.Code != http.StatusOK {
			t.Errorf("GET %s with key status = %d, want 200", path, w.Code)
		}
	}
}

func TestRateLimiting(t *testing.T) {
	s, _ := newTestServer(t, func(c *Config) {
		c.RateLimit = 1
		c.RateLimitBurst = 1
	})

	if w := do(t, s, http.MethodGet, "/api/v1/process-snapshots/list", "", ""); w.Code != http.StatusOK {
		t.Errorf("expected first request to succeed, got %d", w.Code)
	}

	w := do(t, s, http.MethodGet, "/api/v1/process-snapshots/list", "", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected rate limit error with status 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", w.Header().Get("Retry-After"))
	}
	if resp := decodeError(t, w); !resp.Retryable || resp.Code != ErrCodeRateLimitExceeded {
		t.Errorf("error = %+v, want retryable %s", resp, ErrCodeRateLimitExceeded)
	}
}

func TestPanicRecovery(t *testing.T) {
	s, _ := newTestServer(t, nil)
	handler := s.withMiddleware(func(http.ResponseWriter, *http.Request) {
		panic("test panic")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
	if resp := decodeError(t, w); resp.Code != ErrCodeInternalError || resp.RequestID == "" {
		t.Errorf("error = %+v", resp)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	s, _ := newTestServer(t, nil)

	t.Run("uses provided request ID", func(t *testing.T) {
		expectedID := "550e8400-e29b-41d4-a716-446655440000"
		req := httptest.NewRequest(http.MethodGet, "/api/v1/process-snapshots/list", nil)
		req.Header.Set("X-Request-Id", expectedID)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		if got := w.Header().Get("X-Request-Id"); got != expectedID {
			t.Errorf("expected request ID %s, got %s", expectedID, got)
		}
	})

	t.Run("regenerates invalid UUID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/process-snapshots/list", nil)
		req.Header.Set("X-Request-Id", "not-a-valid-uuid")
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		got := w.Header().Get("X-Request-Id")
		if got == "" || got == "not-a-valid-uuid" {
			t.Errorf("expected a generated request ID, got %q", got)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ingestOK(t, s, validBody)

	w := do(t, s, http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	for _, name := range []string{"procsnap_snapshots_ingested_total", "procsnap_http_requests_total"} {
		if !strings.Contains(w.Body.String(), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	s, _ := newTestServer(t, func(c *Config) { c.ShutdownTimeout = time.Second })
	s.SetReady(false)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		if resp, err = http.Get(url); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never answered: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
	if s.isReady() {
		t.Error("server should not be ready after shutdown")
	}
}
