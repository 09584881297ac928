// Package scheduler implements the agent's sample, build and send cycle.
// In one-shot mode it runs a single cycle; in continuous mode it repeats the
// cycle forever, sleeping for the configured interval after each one. The
// interval is added on top of each cycle's own cost, so the effective period
// is never shorter than the interval.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Guliveer/procsnap/internal/buffer"
	"github.com/Guliveer/procsnap/internal/clock"
	"github.com/Guliveer/procsnap/internal/models"
)

// ErrDeliveryFailed is returned by Run in one-shot mode when the snapshot
// could not be delivered.
var ErrDeliveryFailed = errors.New("snapshot delivery failed")

// Sampler produces the process records of one cycle.
type Sampler interface {
	Sample(ctx context.Context) ([]models.ProcessRecord, error)
}

// Builder packages process records into a snapshot.
type Builder interface {
	Build(records []models.ProcessRecord) models.Snapshot
}

// Deliverer sends a snapshot and reports confirmed success.
type Deliverer interface {
	Send(ctx context.Context, snap models.Snapshot) bool
}

// Spool holds snapshots whose delivery was exhausted.
type Spool interface {
	Store(snap models.Snapshot) error
	Pending() ([]buffer.Entry, error)
	Remove(e buffer.Entry) error
}

// Scheduler runs agent cycles.
type Scheduler struct {
	sampler  Sampler
	builder  Builder
	sender   Deliverer
	spool    Spool
	interval time.Duration
	sleep    clock.SleepFunc
	logger   *zap.Logger
}

// New creates a Scheduler. An interval of zero or less selects one-shot mode.
func New(sampler Sampler, builder Builder, sender Deliverer, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		sampler:  sampler,
		builder:  builder,
		sender:   sender,
		interval: interval,
		sleep:    clock.Sleep,
		logger:   logger,
	}
}

// WithSpool enables local spooling of undelivered snapshots.
func (s *Scheduler) WithSpool(sp Spool) *Scheduler {
	s.spool = sp
	return s
}

// WithSleep replaces the wall-clock interval sleep. Intended for tests.
func (s *Scheduler) WithSleep(fn clock.SleepFunc) *Scheduler {
	s.sleep = fn
	return s
}

// Run executes cycles until done. In one-shot mode it returns after a single
// cycle, with ErrDeliveryFailed if that cycle did not deliver. In continuous
// mode it returns only when ctx is cancelled; failed cycles are logged and the
// loop carries on.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Info("Running one-shot snapshot")
		if !s.cycle(ctx) {
			return ErrDeliveryFailed
		}
		return nil
	}

	s.logger.Info("Running continuously", zap.Duration("interval", s.interval))
	for {
		s.cycle(ctx)
		if err := s.sleep(ctx, s.interval); err != nil {
			return nil
		}
	}
}

// cycle samples, builds and sends one snapshot. It reports whether the
// snapshot was delivered.
func (s *Scheduler) cycle(ctx context.Context) bool {
	records, err := s.sampler.Sample(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("Sampling failed", zap.Error(err))
		}
		return false
	}

	snap := s.builder.Build(records)
	s.logger.Debug("Built snapshot",
		zap.String("hostname", snap.Hostname),
		zap.Time("created_at", snap.CreatedAt),
		zap.Int("processes", len(snap.Processes)))

	if !s.sender.Send(ctx, snap) {
		s.logger.Error("Snapshot delivery failed", zap.String("hostname", snap.Hostname))
		s.spoolSnapshot(snap)
		return false
	}

	s.drainSpool(ctx)
	return true
}

// spoolSnapshot stores an undelivered snapshot when a spool is configured.
// Without one the snapshot is dropped.
func (s *Scheduler) spoolSnapshot(snap models.Snapshot) {
	if s.spool == nil {
		s.logger.Warn("No spool configured, dropping snapshot",
			zap.Int("processes", len(snap.Processes)))
		return
	}
	if err := s.spool.Store(snap); err != nil {
		s.logger.Error("Failed to spool snapshot", zap.Error(err))
	}
}

// drainSpool resends spooled snapshots oldest-first after a successful
// delivery. A spooled snapshot is removed only once delivered; the drain stops
// at the first failure and leaves the rest for a later cycle.
func (s *Scheduler) drainSpool(ctx context.Context) {
	if s.spool == nil {
		return
	}

	pending, err := s.spool.Pending()
	if err != nil {
		s.logger.Error("Failed to read spool", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}

	s.logger.Info("Flushing spooled snapshots", zap.Int("count", len(pending)))
	for _, e := range pending {
		if ctx.Err() != nil {
			return
		}
		if !s.sender.Send(ctx, e.Snapshot) {
			s.logger.Warn("Spool flush interrupted, keeping remaining snapshots")
			return
		}
		if err := s.spool.Remove(e); err != nil {
			s.logger.Error("Failed to remove delivered snapshot from spool",
				zap.String("file", e.Path),
				zap.Error(err))
		}
	}
}
