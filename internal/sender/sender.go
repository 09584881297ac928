// Package sender implements the HTTP snapshot sender with retry logic.
// It marshals a snapshot to JSON and POSTs it to the collector ingestion
// endpoint with exponential backoff on failure.
package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Guliveer/procsnap/internal/clock"
	"github.com/Guliveer/procsnap/internal/config"
	"github.com/Guliveer/procsnap/internal/models"
)

const (
	// apiKeyHeader carries the shared-secret credential.
	apiKeyHeader = "X-API-Key"

	// maxLoggedBody bounds the response body excerpt logged on failure.
	maxLoggedBody = 200
)

// Options holds delivery settings.
type Options struct {
	URL            string
	APIKey         string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffFactor  float64
}

// OptionsFromConfig maps agent configuration onto sender options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		URL:            cfg.Server.URL,
		APIKey:         cfg.Server.APIKey,
		ConnectTimeout: cfg.Delivery.ConnectTimeout.Duration,
		ReadTimeout:    cfg.Delivery.ReadTimeout.Duration,
		MaxRetries:     cfg.Delivery.MaxRetries,
		BackoffBase:    cfg.Delivery.BackoffBase.Duration,
		BackoffFactor:  cfg.Delivery.BackoffFactor,
	}
}

// Sender delivers snapshots to the collector with bounded retries.
type Sender struct {
	client *http.Client
	opts   Options
	logger *zap.Logger
	sleep  clock.SleepFunc
}

// New creates a Sender. Connect and read timeouts bound each attempt
// separately: the dialer and TLS handshake use the connect timeout, the
// wait for response headers uses the read timeout.
func New(opts Options, logger *zap.Logger) *Sender {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.BackoffFactor < 1 {
		opts.BackoffFactor = 1
	}

	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		MaxIdleConns:          2,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Sender{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.ConnectTimeout + opts.ReadTimeout,
		},
		opts:   opts,
		logger: logger,
		sleep:  clock.Sleep,
	}
}

// WithSleep replaces the wall-clock backoff sleep. Intended for tests.
func (s *Sender) WithSleep(fn clock.SleepFunc) *Sender {
	s.sleep = fn
	return s
}

// Send delivers the snapshot, retrying on transport errors and non-2xx
// responses. It returns true as soon as an attempt is confirmed with a 2xx
// status; after MaxRetries failed attempts it returns false. Backoff starts
// at BackoffBase and multiplies by BackoffFactor after every failed attempt.
func (s *Sender) Send(ctx context.Context, snap models.Snapshot) bool {
	data, err := json.Marshal(snap)
	if err != nil {
		s.logger.Error("Failed to marshal snapshot", zap.Error(err))
		return false
	}

	delay := s.opts.BackoffBase
	for attempt := 1; attempt <= s.opts.MaxRetries; attempt++ {
		status, err := s.doSend(ctx, data)
		if err == nil {
			s.logger.Info("Snapshot sent successfully",
				zap.Int("attempt", attempt),
				zap.Int("status", status),
				zap.Int("processes", len(snap.Processes)))
			return true
		}

		s.logger.Warn("Send failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.opts.MaxRetries),
			zap.Int("status", status),
			zap.Error(err))

		if attempt == s.opts.MaxRetries {
			break
		}

		s.logger.Debug("Retrying send", zap.Duration("delay", delay))
		if err := s.sleep(ctx, delay); err != nil {
			s.logger.Warn("Send aborted", zap.Error(err))
			return false
		}
		delay = time.Duration(float64(delay) * s.opts.BackoffFactor)
	}

	s.logger.Error("All retries exhausted",
		zap.Int("attempts", s.opts.MaxRetries),
		zap.String("hostname", snap.Hostname))
	return false
}

// doSend performs a single HTTP POST to the ingest endpoint. It returns the
// response status (0 when no response was received) and a non-nil error for
// anything but a 2xx response.
func (s *Sender) doSend(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, s.opts.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}

	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, &statusError{statusCode: resp.StatusCode, body: string(excerpt)}
}

// statusError indicates the server answered with a non-2xx status.
type statusError struct {
	statusCode int
	body       string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("server returned %d", e.statusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.statusCode, e.body)
}
