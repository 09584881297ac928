// Package models defines the snapshot data structures produced by the agent.
// These structures are serialized to JSON for transmission to the collector.
package models

import "time"

// ProcessRecord represents a single process's resource usage at sample time.
type ProcessRecord struct {
	PID           int32   `json:"pid"`
	PPID          int32   `json:"ppid"`
	Name          string  `json:"name"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryRSS     uint64  `json:"memory_rss"`
	MemoryPercent float64 `json:"memory_percent"`
}

// Snapshot is one timestamped capture of a host's process table.
// It is the payload sent to the collector via POST /api/v1/process-snapshots/.
type Snapshot struct {
	Hostname  string          `json:"hostname"`
	CreatedAt time.Time       `json:"created_at"`
	Processes []ProcessRecord `json:"processes"`
}
