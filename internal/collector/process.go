// Process sampler: two timed passes over the process table.
// The first pass primes CPU counters, the second collects figures against them.
package collector

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Guliveer/procsnap/internal/clock"
	"github.com/Guliveer/procsnap/internal/models"
)

// DefaultSampleWindow is the pause between the priming and collection passes.
const DefaultSampleWindow = 200 * time.Millisecond

// Sampler produces per-process CPU and memory records.
type Sampler struct {
	table  ProcessTable
	window time.Duration
	sleep  clock.SleepFunc
	logger *zap.Logger
}

// SamplerOption customizes a Sampler.
type SamplerOption func(*Sampler)

// WithSleep replaces the wall-clock sleep used for the sampling window.
func WithSleep(fn clock.SleepFunc) SamplerOption {
	return func(s *Sampler) { s.sleep = fn }
}

// WithWindow sets the sampling window.
func WithWindow(d time.Duration) SamplerOption {
	return func(s *Sampler) {
		if d > 0 {
			s.window = d
		}
	}
}

// NewSampler creates a sampler reading from the given process table.
func NewSampler(table ProcessTable, logger *zap.Logger, opts ...SamplerOption) *Sampler {
	s := &Sampler{
		table:  table,
		window: DefaultSampleWindow,
		sleep:  clock.Sleep,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sample takes one measurement of every process that survives both passes.
// Individual process errors are silently skipped; only a failure to list the
// process table or a cancelled context aborts the sample.
func (s *Sampler) Sample(ctx context.Context) ([]models.ProcessRecord, error) {
	pids, err := s.table.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	primed := make([]int32, 0, len(pids))
	for _, pid := range pids {
		if err := s.table.Prime(ctx, pid); err != nil {
			continue
		}
		primed = append(primed, pid)
	}

	if err := s.sleep(ctx, s.window); err != nil {
		return nil, err
	}

	records := make([]models.ProcessRecord, 0, len(primed))
	for _, pid := range primed {
		rec, err := s.table.Read(ctx, pid)
		if err != nil {
			continue
		}
		if strings.TrimSpace(rec.Name) == "" {
			continue
		}
		rec.CPUPercent = round2(rec.CPUPercent)
		rec.MemoryPercent = round2(rec.MemoryPercent)
		records = append(records, rec)
	}

	s.logger.Debug("Sampled processes",
		zap.Int("listed", len(pids)),
		zap.Int("primed", len(primed)),
		zap.Int("collected", len(records)))

	return records, nil
}

// round2 rounds to two decimal digits.
func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}
