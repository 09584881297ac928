package store

import "time"

// Process is one stored process record. Optional figures are nil when the
// agent did not report them.
type Process struct {
	PID           int64    `json:"pid"`
	PPID          int64    `json:"ppid"`
	Name          string   `json:"name"`
	CPUPercent    *float64 `json:"cpu_percent"`
	MemoryRSS     *int64   `json:"memory_rss"`
	MemoryPercent *float64 `json:"memory_percent"`
}

// Snapshot is a stored snapshot with all of its process records.
type Snapshot struct {
	ID        string    `json:"id"`
	Hostname  string    `json:"hostname"`
	CreatedAt time.Time `json:"created_at"`
	Processes []Process `json:"processes"`
}

// Summary describes a snapshot without its process records.
type Summary struct {
	ID           string    `json:"id"`
	Hostname     string    `json:"hostname"`
	CreatedAt    time.Time `json:"created_at"`
	ProcessCount int       `json:"count"`
}
