// Total RAM lookup, the denominator for per-process memory percent.
// Uses gopsutil for cross-platform memory metrics.
package collector

import (
	"context"

	"github.com/shirou/gopsutil/v3/mem"
)

// totalMemory returns total system RAM in bytes, or 0 if it cannot be read.
func totalMemory(ctx context.Context) uint64 {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil || v == nil {
		return 0
	}
	return v.Total
}

// memoryPercent returns rss as a percentage of total; 0 when total is unknown.
func memoryPercent(rss, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(rss) / float64(total) * 100
}
