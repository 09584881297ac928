// Package store persists snapshots and their process records in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when no snapshot matches a query.
	ErrNotFound = errors.New("snapshot not found")
	// ErrTimeOutOfRange is returned for a created_at the store cannot hold.
	ErrTimeOutOfRange = errors.New("created_at outside storable range")
)

// created_at is stored as unix nanoseconds, which bounds the storable range.
var (
	MinCreatedAt = time.Unix(0, math.MinInt64).UTC()
	MaxCreatedAt = time.Unix(0, math.MaxInt64).UTC()
)

// InRange reports whether t can be stored as a snapshot's created_at.
func InRange(t time.Time) bool {
	return !t.Before(MinCreatedAt) && !t.After(MaxCreatedAt)
}

// Store provides SQLite database operations for procsnap.
type Store struct {
	db *sql.DB
}

// New creates a new Store with the specified database path.
// Use ":memory:" for in-memory databases (useful for testing).
func New(dbPath string) (*Store, error) {
	memory := dbPath == ":memory:"

	dsn := dbPath
	if !memory {
		// Pragmas in the DSN apply to every pooled connection.
		dsn = "file:" + strings.TrimPrefix(dbPath, "file:") +
			"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	} else {
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(4)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// CreateSchema creates all tables and indexes.
func (s *Store) CreateSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
