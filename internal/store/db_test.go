package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.CreateSchema(context.Background()); err != nil {
		t.Fatalf("CreateSchema() failed: %v", err)
	}
	return s
}

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func procs(n int) []Process {
	out := make([]Process, n)
	for i := range out {
		out[i] = Process{
			PID:           int64(i + 1),
			PPID:          int64(i),
			Name:          fmt.Sprintf("proc-%d", i),
			CPUPercent:    f64(float64(i) / 10),
			MemoryRSS:     i64(int64(i) * 1024),
			MemoryPercent: f64(0.5),
		}
	}
	return out
}

func TestCreateSchema_Idempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSchema(context.Background()); err != nil {
		t.Errorf("second CreateSchema() error = %v", err)
	}
}

func TestInsertAndGetSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 12, 30, 0, 123000000, time.UTC)

	in := procs(3)
	in[2].CPUPercent = nil
	in[2].MemoryRSS = nil

	id, err := s.InsertSnapshot(ctx, "h1", created, in)
	if err != nil {
		t.Fatalf("InsertSnapshot() error = %v", err)
	}
	if id == "" {
		t.Fatal("InsertSnapshot() returned an empty id")
	}

	got, err := s.GetSnapshot(ctx, id)
	if err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	if got.ID != id || got.Hostname != "h1" {
		t.Errorf("got id=%q host=%q, want %q h1", got.ID, got.Hostname, id)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if len(got.Processes) != 3 {
		t.Fatalf("len(Processes) = %d, want 3", len(got.Processes))
	}
	for i, p := range got.Processes {
		if p.PID != in[i].PID || p.Name != in[i].Name {
			t.Errorf("Processes[%d] = %+v, want pid %d name %q", i, p, in[i].PID, in[i].Name)
		}
	}
	if got.Processes[2].CPUPercent != nil || got.Processes[2].MemoryRSS != nil {
		t.Errorf("null figures should round-trip as nil, got %+v", got.Processes[2])
	}
	if got.Processes[1].MemoryRSS == nil || *got.Processes[1].MemoryRSS != 1024 {
		t.Errorf("Processes[1].MemoryRSS = %v, want 1024", got.Processes[1].MemoryRSS)
	}
}

func TestInsertSnapshot_EmptyProcessList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.InsertSnapshot(ctx, "h1", time.Now(), nil)
	if err != nil {
		t.Fatalf("InsertSnapshot() error = %v", err)
	}
	got, err := s.GetSnapshot(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Processes == nil || len(got.Processes) != 0 {
		t.Errorf("Processes = %#v, want empty non-nil slice", got.Processes)
	}
}

// A failing record in the middle must leave neither the snapshot nor any of
// the records inserted before it.
func TestInsertSnapshot_AtomicRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := procs(6)
	in[4].Name = ""

	if _, err := s.InsertSnapshot(ctx, "h1", time.Now(), in); err == nil {
		t.Fatal("InsertSnapshot() should fail on an invalid record")
	}

	snaps, err := s.CountSnapshots(ctx)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := s.CountProcesses(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snaps != 0 || rows != 0 {
		t.Errorf("after rollback: snapshots=%d processes=%d, want 0 and 0", snaps, rows)
	}
}

func TestInsertSnapshot_TimeRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, ts := range []time.Time{
		time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(1500, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC),
		MaxCreatedAt.Add(time.Nanosecond),
	} {
		if _, err := s.InsertSnapshot(ctx, "h1", ts, procs(1)); !errors.Is(err, ErrTimeOutOfRange) {
			t.Errorf("InsertSnapshot(%v) error = %v, want ErrTimeOutOfRange", ts, err)
		}
	}
	if n, _ := s.CountSnapshots(ctx); n != 0 {
		t.Fatalf("snapshots = %d, want 0 after rejected inserts", n)
	}

	for _, ts := range []time.Time{MinCreatedAt, MaxCreatedAt} {
		id, err := s.InsertSnapshot(ctx, "h1", ts, procs(1))
		if err != nil {
			t.Fatalf("InsertSnapshot(%v) error = %v", ts, err)
		}
		got, err := s.GetSnapshot(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if !got.CreatedAt.Equal(ts) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, ts)
		}
	}

	if n, err := s.DeleteOlderThan(ctx, time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)); err != nil || n != 0 {
		t.Errorf("DeleteOlderThan(year 1) = %d, %v, want 0, nil", n, err)
	}
	if n, err := s.DeleteOlderThan(ctx, time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)); err != nil || n != 1 {
		t.Errorf("DeleteOlderThan(year 9999) = %d, %v, want 1, nil", n, err)
	}
}

func TestGetSnapshot_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSnapshot(context.Background(), "00000000-0000-0000-0000-000000000000")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSnapshot() error = %v, want ErrNotFound", err)
	}
}

func TestLatestSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := s.LatestSnapshot(ctx, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LatestSnapshot() on empty store error = %v, want ErrNotFound", err)
	}

	mustInsert := func(host string, at time.Time) string {
		t.Helper()
		id, err := s.InsertSnapshot(ctx, host, at, procs(1))
		if err != nil {
			t.Fatal(err)
		}
		return id
	}

	mustInsert("h1", base)
	h2 := mustInsert("h2", base.Add(time.Minute))
	h1Late := mustInsert("h1", base.Add(30*time.Second))

	tests := []struct {
		name     string
		hostname string
		wantID   string
	}{
		{"any host", "", h2},
		{"h1", "h1", h1Late},
		{"h2", "h2", h2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.LatestSnapshot(ctx, tt.hostname)
			if err != nil {
				t.Fatalf("LatestSnapshot(%q) error = %v", tt.hostname, err)
			}
			if got.ID != tt.wantID {
				t.Errorf("LatestSnapshot(%q) = %s, want %s", tt.hostname, got.ID, tt.wantID)
			}
		})
	}

	if _, err := s.LatestSnapshot(ctx, "unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestSnapshot(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestLatestSnapshot_TieGoesToLaterInsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := s.InsertSnapshot(ctx, "h1", at, nil); err != nil {
		t.Fatal(err)
	}
	second, err := s.InsertSnapshot(ctx, "h1", at, nil)
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.LatestSnapshot(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != second {
		t.Errorf("LatestSnapshot() = %s, want the later insert %s", got.ID, second)
	}
}

func TestListSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := s.InsertSnapshot(ctx, "h1", base.Add(time.Duration(i)*time.Minute), procs(i+1))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	if _, err := s.InsertSnapshot(ctx, "h2", base.Add(time.Hour), procs(1)); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListSnapshots(ctx, "h1", 2)
	if err != nil {
		t.Fatalf("ListSnapshots() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != ids[4] || got[1].ID != ids[3] {
		t.Errorf("ListSnapshots() ids = [%s %s], want [%s %s]", got[0].ID, got[1].ID, ids[4], ids[3])
	}
	if got[0].ProcessCount != 5 || got[1].ProcessCount != 4 {
		t.Errorf("counts = [%d %d], want [5 4]", got[0].ProcessCount, got[1].ProcessCount)
	}

	all, err := s.ListSnapshots(ctx, "", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 6 || all[0].Hostname != "h2" {
		t.Errorf("ListSnapshots(all) = %d entries, first host %q; want 6 and h2", len(all), all[0].Hostname)
	}

	none, err := s.ListSnapshots(ctx, "unknown", 10)
	if err != nil {
		t.Fatal(err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("ListSnapshots(unknown) = %#v, want empty non-nil slice", none)
	}
}

func TestDeleteOlderThan_Cascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := s.InsertSnapshot(ctx, "h1", now.Add(-48*time.Hour), procs(3)); err != nil {
		t.Fatal(err)
	}
	keep, err := s.InsertSnapshot(ctx, "h1", now, procs(2))
	if err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteOlderThan(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}

	rows, err := s.CountProcesses(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rows != 2 {
		t.Errorf("processes after purge = %d, want 2", rows)
	}
	if _, err := s.GetSnapshot(ctx, keep); err != nil {
		t.Errorf("recent snapshot should survive: %v", err)
	}
}

func TestFileStore_ConcurrentInserts(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "procsnap.db"))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	if err := s.CreateSchema(ctx); err != nil {
		t.Fatal(err)
	}

	const writers, perWriter = 4, 5
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				host := fmt.Sprintf("host-%d", w)
				if _, err := s.InsertSnapshot(ctx, host, time.Now(), procs(10)); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent insert: %v", err)
	}

	snaps, err := s.CountSnapshots(ctx)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := s.CountProcesses(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snaps != writers*perWriter || rows != writers*perWriter*10 {
		t.Errorf("snapshots=%d processes=%d, want %d and %d", snaps, rows, writers*perWriter, writers*perWriter*10)
	}
}
