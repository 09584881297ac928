// Package query serves read-only views of stored snapshots.
package query

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/Guliveer/procsnap/internal/store"
)

// ErrInvalidLimit is returned for a list limit below 1 or not an integer.
var ErrInvalidLimit = errors.New("limit must be a positive integer")

// Reader is the read side of the snapshot store.
type Reader interface {
	LatestSnapshot(ctx context.Context, hostname string) (*store.Snapshot, error)
	ListSnapshots(ctx context.Context, hostname string, limit int) ([]store.Summary, error)
	GetSnapshot(ctx context.Context, id string) (*store.Snapshot, error)
}

// Service answers snapshot queries.
type Service struct {
	store        Reader
	defaultLimit int
	maxLimit     int
}

// New creates a query Service. List requests without a limit use
// defaultLimit; larger limits are clamped to maxLimit.
func New(r Reader, defaultLimit, maxLimit int) *Service {
	if defaultLimit < 1 {
		defaultLimit = 20
	}
	if maxLimit < defaultLimit {
		maxLimit = defaultLimit
	}
	return &Service{store: r, defaultLimit: defaultLimit, maxLimit: maxLimit}
}

// Latest returns the newest snapshot, for one host when hostname is set.
// It returns store.ErrNotFound when nothing matches.
func (s *Service) Latest(ctx context.Context, hostname string) (*store.Snapshot, error) {
	return s.store.LatestSnapshot(ctx, strings.TrimSpace(hostname))
}

// List returns snapshot summaries newest first. A zero limit selects the
// default.
func (s *Service) List(ctx context.Context, hostname string, limit int) ([]store.Summary, error) {
	switch {
	case limit < 0:
		return nil, ErrInvalidLimit
	case limit == 0:
		limit = s.defaultLimit
	case limit > s.maxLimit:
		limit = s.maxLimit
	}
	return s.store.ListSnapshots(ctx, strings.TrimSpace(hostname), limit)
}

// Get returns one snapshot by id. An id that is not a UUID cannot name a
// snapshot and yields store.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*store.Snapshot, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, store.ErrNotFound
	}
	return s.store.GetSnapshot(ctx, parsed.String())
}

// ParseLimit reads a limit query parameter. An empty value is 0, meaning
// the default.
func ParseLimit(v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, ErrInvalidLimit
	}
	return n, nil
}
