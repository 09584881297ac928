// Package retention periodically purges snapshots older than a maximum age.
package retention

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Guliveer/procsnap/internal/clock"
)

// Deleter removes snapshots created before a cutoff.
type Deleter interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Purger deletes expired snapshots on a fixed interval.
type Purger struct {
	store    Deleter
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
	sleep    clock.SleepFunc
	logger   *zap.Logger
}

// New creates a Purger. A maxAge of zero or less disables purging.
func New(st Deleter, maxAge, interval time.Duration, logger *zap.Logger) *Purger {
	return &Purger{
		store:    st,
		maxAge:   maxAge,
		interval: interval,
		now:      time.Now,
		sleep:    clock.Sleep,
		logger:   logger,
	}
}

// WithClock replaces the wall clock and interval sleep. Intended for tests.
func (p *Purger) WithClock(now func() time.Time, sleep clock.SleepFunc) *Purger {
	p.now = now
	p.sleep = sleep
	return p
}

// Run purges once immediately and then after every interval until ctx is
// cancelled. Purge failures are logged and retried on the next tick.
func (p *Purger) Run(ctx context.Context) error {
	if p.maxAge <= 0 {
		p.logger.Info("Retention disabled, keeping snapshots forever")
		return nil
	}

	p.logger.Info("Retention enabled",
		zap.Duration("max_age", p.maxAge),
		zap.Duration("interval", p.interval))

	for {
		p.PurgeOnce(ctx)
		if err := p.sleep(ctx, p.interval); err != nil {
			return nil
		}
	}
}

// PurgeOnce deletes every snapshot older than the maximum age and returns
// how many were removed.
func (p *Purger) PurgeOnce(ctx context.Context) int64 {
	cutoff := p.now().UTC().Add(-p.maxAge)
	n, err := p.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("Retention purge failed", zap.Error(err))
		}
		return 0
	}
	if n > 0 {
		p.logger.Info("Purged expired snapshots",
			zap.Int64("count", n),
			zap.Time("cutoff", cutoff))
	}
	return n
}
