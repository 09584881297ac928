// Package ingest accepts snapshot payloads from agents. A payload is
// authenticated, validated as a whole, given a server timestamp when the
// agent sent none, and persisted atomically: either the snapshot and every
// one of its process records become visible, or nothing does.
package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Guliveer/procsnap/internal/auth"
	"github.com/Guliveer/procsnap/internal/store"
)

// Store persists one snapshot and its records in a single transaction.
type Store interface {
	InsertSnapshot(ctx context.Context, hostname string, createdAt time.Time, procs []store.Process) (string, error)
}

// Result describes a stored snapshot.
type Result struct {
	SnapshotID string
	Hostname   string
	Processes  int
}

// Service is the ingestion pipeline.
type Service struct {
	keys   *auth.KeySet
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

// New creates an ingestion Service.
func New(keys *auth.KeySet, st Store, logger *zap.Logger) *Service {
	return &Service{
		keys:   keys,
		store:  st,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock replaces the clock used for defaulted timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Ingest authenticates key, validates raw and stores the snapshot.
// Authentication failures are auth.ErrMissingKey or auth.ErrInvalidKey and
// happen before the payload is read. Shape problems are *ValidationError.
func (s *Service) Ingest(ctx context.Context, raw []byte, key string) (Result, error) {
	if err := s.keys.Check(key); err != nil {
		return Result{}, err
	}

	p, err := parsePayload(raw)
	if err != nil {
		return Result{}, err
	}

	createdAt := p.createdAt
	if !p.hasTime {
		createdAt = s.now().UTC()
	}

	id, err := s.store.InsertSnapshot(ctx, p.hostname, createdAt, p.processes)
	if err != nil {
		return Result{}, fmt.Errorf("persisting snapshot for %s: %w", p.hostname, err)
	}

	s.logger.Info("Snapshot ingested",
		zap.String("id", id),
		zap.String("hostname", p.hostname),
		zap.Time("created_at", createdAt),
		zap.Int("processes", len(p.processes)))

	return Result{SnapshotID: id, Hostname: p.hostname, Processes: len(p.processes)}, nil
}
