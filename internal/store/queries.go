package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Snapshot operations

// InsertSnapshot stores a snapshot and all of its process records in one
// transaction and returns the assigned snapshot id. If any insert fails the
// transaction is rolled back and nothing from this call becomes visible.
func (s *Store) InsertSnapshot(ctx context.Context, hostname string, createdAt time.Time, procs []Process) (string, error) {
	if !InRange(createdAt) {
		return "", fmt.Errorf("snapshot at %s: %w", createdAt.UTC().Format(time.RFC3339), ErrTimeOutOfRange)
	}
	id := uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, hostname, created_at) VALUES (?, ?, ?)`,
		id, hostname, createdAt.UTC().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert snapshot: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("failed to read snapshot seq: %w", err)
	}

	if len(procs) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO processes
			(snapshot_seq, pid, ppid, name, cpu_percent, memory_rss, memory_percent)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return "", fmt.Errorf("failed to prepare process insert: %w", err)
		}
		defer stmt.Close()

		for i, p := range procs {
			if _, err := stmt.ExecContext(ctx,
				seq, p.PID, p.PPID, p.Name,
				nullFloat(p.CPUPercent), nullInt(p.MemoryRSS), nullFloat(p.MemoryPercent),
			); err != nil {
				return "", fmt.Errorf("failed to insert process %d (pid %d): %w", i, p.PID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return id, nil
}

// LatestSnapshot returns the most recently created snapshot, optionally
// restricted to one hostname. Ties on created_at go to the later insert.
func (s *Store) LatestSnapshot(ctx context.Context, hostname string) (*Snapshot, error) {
	query := `SELECT seq, id, hostname, created_at FROM snapshots`
	var args []interface{}
	if hostname != "" {
		query += ` WHERE hostname = ?`
		args = append(args, hostname)
	}
	query += ` ORDER BY created_at DESC, seq DESC LIMIT 1`

	return s.readSnapshot(ctx, query, args...)
}

// GetSnapshot retrieves a snapshot by id.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	return s.readSnapshot(ctx, `SELECT seq, id, hostname, created_at FROM snapshots WHERE id = ?`, id)
}

// readSnapshot loads one snapshot row and its processes in a single read
// transaction.
func (s *Store) readSnapshot(ctx context.Context, query string, args ...interface{}) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin read: %w", err)
	}
	defer tx.Rollback()

	var (
		snap      Snapshot
		seq       int64
		createdAt int64
	)
	err = tx.QueryRowContext(ctx, query, args...).Scan(&seq, &snap.ID, &snap.Hostname, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	snap.CreatedAt = time.Unix(0, createdAt).UTC()

	rows, err := tx.QueryContext(ctx, `
		SELECT pid, ppid, name, cpu_percent, memory_rss, memory_percent
		FROM processes
		WHERE snapshot_seq = ?
		ORDER BY id
	`, seq)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes for snapshot %s: %w", snap.ID, err)
	}
	defer rows.Close()

	snap.Processes = make([]Process, 0)
	for rows.Next() {
		var (
			p      Process
			cpu    sql.NullFloat64
			rss    sql.NullInt64
			memPct sql.NullFloat64
		)
		if err := rows.Scan(&p.PID, &p.PPID, &p.Name, &cpu, &rss, &memPct); err != nil {
			return nil, fmt.Errorf("failed to scan process: %w", err)
		}
		p.CPUPercent = floatPtr(cpu)
		p.MemoryRSS = intPtr(rss)
		p.MemoryPercent = floatPtr(memPct)
		snap.Processes = append(snap.Processes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate processes: %w", err)
	}

	return &snap, nil
}

// ListSnapshots returns up to limit snapshot summaries, newest first,
// optionally restricted to one hostname.
func (s *Store) ListSnapshots(ctx context.Context, hostname string, limit int) ([]Summary, error) {
	query := `
		SELECT s.id, s.hostname, s.created_at,
		       (SELECT COUNT(*) FROM processes p WHERE p.snapshot_seq = s.seq)
		FROM snapshots s
	`
	var args []interface{}
	if hostname != "" {
		query += ` WHERE s.hostname = ?`
		args = append(args, hostname)
	}
	query += ` ORDER BY s.created_at DESC, s.seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	summaries := make([]Summary, 0)
	for rows.Next() {
		var (
			sum       Summary
			createdAt int64
		)
		if err := rows.Scan(&sum.ID, &sum.Hostname, &createdAt, &sum.ProcessCount); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		sum.CreatedAt = time.Unix(0, createdAt).UTC()
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}

	return summaries, nil
}

// DeleteOlderThan removes every snapshot created before cutoff, together
// with its process records, and returns the number of snapshots removed.
// Cutoffs outside the storable range are clamped to it.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	switch {
	case cutoff.Before(MinCreatedAt):
		return 0, nil
	case cutoff.After(MaxCreatedAt):
		cutoff = MaxCreatedAt
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE created_at < ?`, cutoff.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted snapshots: %w", err)
	}
	return n, nil
}

// CountProcesses returns the total number of stored process records.
func (s *Store) CountProcesses(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count processes: %w", err)
	}
	return n, nil
}

// CountSnapshots returns the total number of stored snapshots.
func (s *Store) CountSnapshots(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return n, nil
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}
