// Package snapshot packages sampled process records with host identity and
// a capture timestamp.
package snapshot

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Guliveer/procsnap/internal/models"
)

// Builder wraps process records into a Snapshot.
type Builder struct {
	hostname string
	now      func() time.Time
}

// NewBuilder creates a Builder for the given hostname. An empty hostname is
// resolved from the operating system.
func NewBuilder(hostname string) (*Builder, error) {
	hostname = strings.TrimSpace(hostname)
	if hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolving hostname: %w", err)
		}
		hostname = h
	}
	if hostname == "" {
		return nil, fmt.Errorf("resolving hostname: empty result")
	}
	return &Builder{hostname: hostname, now: time.Now}, nil
}

// WithClock replaces the time source. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Hostname returns the host identifier stamped on every snapshot.
func (b *Builder) Hostname() string { return b.hostname }

// Build returns a Snapshot capturing records at the current UTC time.
// The records slice is copied so later changes by the caller do not leak in.
func (b *Builder) Build(records []models.ProcessRecord) models.Snapshot {
	procs := make([]models.ProcessRecord, len(records))
	copy(procs, records)
	return models.Snapshot{
		Hostname:  b.hostname,
		CreatedAt: b.now().UTC(),
		Processes: procs,
	}
}
