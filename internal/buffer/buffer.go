// Package buffer provides a local file-based spool for undelivered snapshots.
// Snapshots are written as timestamped JSON files when the collector is
// unavailable. Data persists across crashes and reboots. Auto-cleanup
// enforces size limits.
package buffer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Guliveer/procsnap/internal/models"
)

// Buffer provides local file-based storage for snapshots whose delivery
// was exhausted. Each snapshot is stored as a separate JSON file.
type Buffer struct {
	dir       string
	maxSizeMB int
	logger    *zap.Logger
	mu        sync.Mutex
	seq       uint64
}

// Entry is one spooled snapshot.
type Entry struct {
	Path     string
	Snapshot models.Snapshot
}

// New creates a new file-based buffer at the given directory path.
// The directory is created if it does not exist.
func New(dir string, maxSizeMB int, logger *zap.Logger) (*Buffer, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}
	return &Buffer{
		dir:       dir,
		maxSizeMB: maxSizeMB,
		logger:    logger,
	}, nil
}

// Store saves a snapshot to a timestamped JSON file.
// If the buffer exceeds the configured size limit, the oldest snapshot is dropped.
func (b *Buffer) Store(snap models.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxSizeMB > 0 && b.currentSizeMB() >= b.maxSizeMB {
		b.logger.Warn("Buffer full, dropping oldest snapshot")
		b.dropOldest()
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	// Names sort chronologically; the sequence keeps same-millisecond stores apart.
	b.seq++
	name := fmt.Sprintf("%s-%06d.json", time.Now().UTC().Format("20060102T150405.000"), b.seq%1000000)
	tmp := filepath.Join(b.dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(b.dir, name))
}

// Pending reads all spooled snapshots in chronological order without
// removing them. Corrupted files are removed and logged.
func (b *Buffer) Pending() ([]Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, err
	}

	var pending []Entry
	for _, entry := range entries {
		if !isSpoolFile(entry) {
			continue
		}

		path := filepath.Join(b.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			b.logger.Warn("Failed to read buffer file",
				zap.String("file", path),
				zap.Error(err))
			continue
		}

		var snap models.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			b.logger.Warn("Failed to parse buffer file, removing corrupted file",
				zap.String("file", path),
				zap.Error(err))
			os.Remove(path)
			continue
		}

		pending = append(pending, Entry{Path: path, Snapshot: snap})
	}

	return pending, nil
}

// Remove deletes a spooled snapshot after it has been delivered.
func (b *Buffer) Remove(e Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Count returns the number of spooled snapshot files.
func (b *Buffer) Count() int {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, e := range entries {
		if isSpoolFile(e) {
			count++
		}
	}
	return count
}

func isSpoolFile(e os.DirEntry) bool {
	name := e.Name()
	return !e.IsDir() && filepath.Ext(name) == ".json" && name[0] != '.'
}

// currentSizeMB returns the total size of all buffer files in megabytes.
// Must be called with b.mu held.
func (b *Buffer) currentSizeMB() int {
	var totalSize int64
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return 0
	}
	for _, entry := range entries {
		if info, err := entry.Info(); err == nil {
			totalSize += info.Size()
		}
	}
	return int(totalSize / (1024 * 1024))
}

// dropOldest removes the oldest buffer file to free space.
// Must be called with b.mu held.
func (b *Buffer) dropOldest() {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if isSpoolFile(entry) {
			path := filepath.Join(b.dir, entry.Name())
			if err := os.Remove(path); err != nil {
				b.logger.Warn("Failed to remove oldest buffer file",
					zap.String("file", path),
					zap.Error(err))
			}
			return // Remove just one
		}
	}
}
