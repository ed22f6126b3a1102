package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ecobridge/internal/aggregator"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	aggregator.Reset()
	dbPath := filepath.Join(t.TempDir(), "economy.db")
	s, err := Open(dbPath, 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Shutdown(); err != nil {
			t.Logf("shutdown: %v", err)
		}
	})
	return s
}

func TestOpenCreatesSchemaAndAcceptsWrites(t *testing.T) {
	s := openTestStore(t)

	s.LogEvent(1000, "player-a", 50, 500, `{"kind":"sell"}`)
	s.LogEvent(2000, "player-b", -25, 475, `{"kind":"buy"}`)

	if err := s.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	total, dropped := s.Stats()
	if total != 2 {
		t.Fatalf("total logs = %d, want 2", total)
	}
	if dropped != 0 {
		t.Fatalf("dropped logs = %d, want 0", dropped)
	}
}

func TestLogEventDropsWhenQueueFull(t *testing.T) {
	s := &Store{events: make(chan logEvent, 1)}
	s.LogEvent(1, "p", 1, 1, "")
	s.LogEvent(2, "p", 1, 1, "")
	s.LogEvent(3, "p", 1, 1, "")

	total, dropped := s.Stats()
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if dropped == 0 {
		t.Fatalf("expected at least one dropped event with a capacity-1 queue and no drain")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	if err := s.Shutdown(); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := s.Shutdown(); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestAcquireReaderRespectsPoolBound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	g1, err := s.AcquireReader(ctx)
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	g2, err := s.AcquireReader(ctx)
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		g3, err := s.AcquireReader(ctx)
		if err == nil {
			close(acquired)
			g3.Release()
		}
	}()

	select {
	case <-acquired:
		t.Fatalf("third acquire succeeded before any release, pool bound of 2 not enforced")
	case <-time.After(100 * time.Millisecond):
	}

	g1.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("third acquire never unblocked after release")
	}
	g2.Release()
}

func TestWarmStartHydratesAggregator(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "economy.db")
	s, err := Open(dbPath, 2)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	now := time.Now().UnixMilli()
	s.LogEvent(now-1000, "p1", 10, 100, "")
	s.LogEvent(now-2000, "p2", 20, 200, "")
	if err := s.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	aggregator.Reset()
	s2, err := Open(dbPath, 2)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Shutdown()

	if got := aggregator.Len(); got != 2 {
		t.Fatalf("aggregator.Len() after warm start = %d, want 2", got)
	}
}

func TestNeffFromColdStoreMatchesWrittenEvents(t *testing.T) {
	aggregator.Reset()
	t.Cleanup(aggregator.Reset)
	dbPath := filepath.Join(t.TempDir(), "economy.db")
	s, err := Open(dbPath, 2)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	now := time.Now().UnixMilli()
	s.LogEvent(now, "p1", 100, 1000, "")
	if err := s.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	// Shutdown flushes the writer and closes the database, so query the
	// flushed event through a freshly opened store.
	s2, err := Open(dbPath, 2)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Shutdown()

	neff, err := s2.NeffFromColdStore(context.Background(), now, 7)
	if err != nil {
		t.Fatalf("NeffFromColdStore: %v", err)
	}
	if neff <= 0 {
		t.Fatalf("NeffFromColdStore = %v, want > 0 with a fresh event in range", neff)
	}
}

func TestOpenReturnsErrDDLOnIncompatibleSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "economy.db")

	// Pre-create economy_log without the ts column the migration's index
	// needs. CREATE TABLE IF NOT EXISTS then leaves the table as-is, so
	// CREATE INDEX IF NOT EXISTS idx_ts ON economy_log (ts) fails and Open
	// must surface that as ErrDDL, not ErrOpen.
	pre, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("pre-open: %v", err)
	}
	if _, err := pre.Exec(`CREATE TABLE economy_log (player_uuid VARCHAR)`); err != nil {
		t.Fatalf("pre-create table: %v", err)
	}
	if err := pre.Close(); err != nil {
		t.Fatalf("pre-close: %v", err)
	}

	_, err = Open(dbPath, 2)
	if err == nil {
		t.Fatalf("Open on incompatible schema succeeded, want ErrDDL")
	}
	if !errors.Is(err, ErrDDL) {
		t.Fatalf("Open error = %v, want wrapping ErrDDL", err)
	}
}

func TestOpenReturnsErrOpenOnUnwritablePath(t *testing.T) {
	// A path inside a nonexistent directory can never be opened by the
	// sqlite driver; Open must surface that as ErrOpen.
	dbPath := filepath.Join(t.TempDir(), "no-such-dir", "economy.db")
	_, err := Open(dbPath, 2)
	if err == nil {
		t.Fatalf("Open on unwritable path succeeded, want ErrOpen")
	}
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("Open error = %v, want wrapping ErrOpen", err)
	}
}

func TestNeffFromColdStoreNonPositiveTau(t *testing.T) {
	s := openTestStore(t)
	got, err := s.NeffFromColdStore(context.Background(), time.Now().UnixMilli(), 0)
	if err != nil {
		t.Fatalf("NeffFromColdStore: %v", err)
	}
	if got != 0 {
		t.Fatalf("NeffFromColdStore with tau=0 = %v, want 0", got)
	}
}
