// OS-backed process table.
// Uses gopsutil for cross-platform process listing.
package collector

import (
	"context"
	"fmt"
	"sync"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/Guliveer/procsnap/internal/models"
)

// SystemTable implements ProcessTable over the live OS process table.
// gopsutil keeps the CPU baseline on the *process.Process value, so primed
// handles are held until the next List.
type SystemTable struct {
	mu       sync.Mutex
	procs    map[int32]*process.Process
	totalMem uint64
}

// NewSystemTable creates a process table backed by gopsutil.
func NewSystemTable() *SystemTable {
	return &SystemTable{procs: make(map[int32]*process.Process)}
}

// List returns all current pids and resets primed state.
func (t *SystemTable) List(ctx context.Context) ([]int32, error) {
	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.procs = make(map[int32]*process.Process, len(pids))
	t.totalMem = totalMemory(ctx)
	t.mu.Unlock()

	return pids, nil
}

// Prime opens the process and takes the zero-window CPU reading.
func (t *SystemTable) Prime(ctx context.Context, pid int32) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return fmt.Errorf("pid %d: %w", pid, ErrProcessGone)
	}
	if _, err := p.PercentWithContext(ctx, 0); err != nil {
		return fmt.Errorf("pid %d: %w", pid, ErrProcessGone)
	}

	t.mu.Lock()
	t.procs[pid] = p
	t.mu.Unlock()
	return nil
}

// Read collects the figures of a primed process. Name and parent pid are
// required; memory figures default to zero when unreadable.
func (t *SystemTable) Read(ctx context.Context, pid int32) (models.ProcessRecord, error) {
	t.mu.Lock()
	p, ok := t.procs[pid]
	total := t.totalMem
	delete(t.procs, pid)
	t.mu.Unlock()

	if !ok {
		return models.ProcessRecord{}, fmt.Errorf("pid %d not primed: %w", pid, ErrProcessGone)
	}

	name, err := p.NameWithContext(ctx)
	if err != nil {
		return models.ProcessRecord{}, fmt.Errorf("pid %d name: %w", pid, ErrProcessGone)
	}
	ppid, err := p.PpidWithContext(ctx)
	if err != nil {
		return models.ProcessRecord{}, fmt.Errorf("pid %d ppid: %w", pid, ErrProcessGone)
	}

	rec := models.ProcessRecord{
		PID:  pid,
		PPID: ppid,
		Name: name,
	}

	// A failed CPU read leaves the figure at zero rather than dropping the record.
	if cpu, err := p.PercentWithContext(ctx, 0); err == nil {
		rec.CPUPercent = cpu
	}

	if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
		rec.MemoryRSS = mi.RSS
		rec.MemoryPercent = memoryPercent(mi.RSS, total)
	}

	return rec, nil
}
