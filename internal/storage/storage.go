// Package storage is the persistence layer: a bounded-queue asynchronous
// cold-store writer, a reader connection pool, and warm-start hydration
// of the aggregator's hot window. See spec.md §3 ("Cold store") and §5.
//
// Modeled on the teacher's internal/db package (modernc.org/sqlite,
// WAL mode, IF NOT EXISTS migrations) plus its semaphore-bounded
// concurrency idiom (internal/esi/client.go), using
// golang.org/x/sync/semaphore in place of a raw buffered-channel
// semaphore, and golang.org/x/sync/singleflight to dedup concurrent
// warm-start hydration requests the way internal/esi/order_cache.go
// dedups concurrent region-order fetches.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	_ "modernc.org/sqlite"

	"ecobridge/internal/aggregator"
	"ecobridge/internal/logger"
	"ecobridge/internal/macro"
	"ecobridge/internal/model"
)

const (
	logTag = "STORAGE"

	queueCapacity     = 50_000
	batchSize         = 1024
	batchFlushTimeout = 50 * time.Millisecond
	defaultReaderPool = 6
	warmStartDays     = 90

	// shutdownSentinelTs signals the writer goroutine to flush and exit.
	shutdownSentinelTs = -1
)

// Sentinel errors distinguishing the three init_db failure modes boundary
// maps to distinct negative codes (spec.md §6: -4 open, -5 DDL, -6 pool).
// Wrapped with %w so callers can errors.Is against these.
var (
	ErrOpen = errors.New("cold store open failed")
	ErrDDL  = errors.New("cold store migration failed")
	ErrPool = errors.New("cold store reader pool failed")
)

type logEvent struct {
	ts      int64
	uuid    string
	delta   float64
	balance float64
	meta    string
}

// Store owns the cold-store connection, the async writer goroutine, and
// the bounded reader pool. Exactly one Store should exist per process —
// Open is meant to be called once by the boundary package's init-once
// guard (spec.md §9, "Global mutable state").
type Store struct {
	db *sql.DB

	events chan logEvent
	done   chan struct{}

	readerSem    *semaphore.Weighted
	hydrateGroup singleflight.Group

	totalLogs   atomic.Uint64
	droppedLogs atomic.Uint64

	closeOnce sync.Once
}

// Open creates (or attaches to) the SQLite cold store at dbPath, runs
// migrations, warm-starts the aggregator's hot window from the last 90
// days of history, and spawns the writer goroutine. readerPoolSize <= 0
// uses the default of 6.
func Open(dbPath string, readerPoolSize int) (*Store, error) {
	if readerPoolSize <= 0 {
		readerPoolSize = defaultReaderPool
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrOpen, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrOpen, err)
	}
	db.SetMaxOpenConns(readerPoolSize + 1) // +1 for the dedicated writer

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS economy_log (
			ts          BIGINT,
			player_uuid VARCHAR,
			delta       DOUBLE,
			balance     DOUBLE,
			metadata    VARCHAR
		);
		CREATE INDEX IF NOT EXISTS idx_ts ON economy_log (ts);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrDDL, err)
	}

	s := &Store{
		db:        db,
		events:    make(chan logEvent, queueCapacity),
		done:      make(chan struct{}),
		readerSem: semaphore.NewWeighted(int64(readerPoolSize)),
	}

	if err := s.primeReaderPool(readerPoolSize); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.warmStart(); err != nil {
		logger.Warn(logTag, fmt.Sprintf("warm-start hydration failed: %v", err))
	}

	go s.writerLoop()

	logger.Success(logTag, fmt.Sprintf("opened %s (reader pool=%d)", dbPath, readerPoolSize))
	return s, nil
}

// primeReaderPool eagerly opens and releases readerPoolSize connections,
// the Go analogue of the Rust original's try_clone-per-slot loop that
// populates ConnectionPool before init returns. A failure here means the
// reader pool could never be stood up even though the write handle and
// schema are fine, so it is reported separately from ErrOpen/ErrDDL.
func (s *Store) primeReaderPool(readerPoolSize int) error {
	ctx := context.Background()
	conns := make([]*sql.Conn, 0, readerPoolSize)
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	for i := 0; i < readerPoolSize; i++ {
		conn, err := s.db.Conn(ctx)
		if err != nil {
			return fmt.Errorf("%w: slot %d: %v", ErrPool, i, err)
		}
		if err := conn.PingContext(ctx); err != nil {
			conn.Close()
			return fmt.Errorf("%w: slot %d: %v", ErrPool, i, err)
		}
		conns = append(conns, conn)
	}
	return nil
}

// warmStart loads every record newer than now-90d, ascending by ts, into
// the aggregator's hot window.
func (s *Store) warmStart() error {
	_, err, _ := s.hydrateGroup.Do("warm-start", func() (any, error) {
		cutoff := time.Now().UnixMilli() - int64(warmStartDays)*86_400_000
		rows, err := s.db.Query(`SELECT ts, delta FROM economy_log WHERE ts > ? ORDER BY ts ASC`, cutoff)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var records []model.HistoryRecord
		for rows.Next() {
			var rec model.HistoryRecord
			if err := rows.Scan(&rec.Timestamp, &rec.Amount); err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}

		aggregator.Hydrate(records)
		logger.Stats("warm_start_records", len(records))
		return len(records), nil
	})
	return err
}

// LogEvent enqueues a trade for durable storage. Non-blocking: on a full
// queue, the event is dropped and the dropped-log counter is incremented,
// exactly as spec.md §5 requires.
func (s *Store) LogEvent(ts int64, uuid string, delta, balance float64, meta string) {
	s.totalLogs.Add(1)
	select {
	case s.events <- logEvent{ts: ts, uuid: uuid, delta: delta, balance: balance, meta: meta}:
	default:
		s.droppedLogs.Add(1)
		logger.Warn(logTag, "event queue full, dropping log event")
	}
}

// Stats returns the relaxed-read total/dropped log counters.
func (s *Store) Stats() (total, dropped uint64) {
	return s.totalLogs.Load(), s.droppedLogs.Load()
}

// Shutdown sends the sentinel shutdown event and waits for the writer
// goroutine to flush its buffer and exit. Safe to call more than once.
func (s *Store) Shutdown() error {
	var sendErr error
	s.closeOnce.Do(func() {
		select {
		case s.events <- logEvent{ts: shutdownSentinelTs, meta: "SHUTDOWN_SIGNAL"}:
		default:
			sendErr = fmt.Errorf("shutdown: event queue full")
			close(s.events)
		}
		<-s.done
		s.db.Close()
	})
	return sendErr
}

func (s *Store) writerLoop() {
	defer close(s.done)

	tx, err := s.db.Begin()
	if err != nil {
		logger.Error(logTag, fmt.Sprintf("writer: begin tx: %v", err))
		return
	}
	pending := 0

	flush := func() {
		if pending == 0 {
			return
		}
		if err := tx.Commit(); err != nil {
			logger.Error(logTag, fmt.Sprintf("writer: commit: %v", err))
		}
		pending = 0
		tx, err = s.db.Begin()
		if err != nil {
			logger.Error(logTag, fmt.Sprintf("writer: begin tx: %v", err))
		}
	}

	ticker := time.NewTicker(batchFlushTimeout)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				flush()
				return
			}
			if ev.ts == shutdownSentinelTs {
				flush()
				return
			}
			if _, err := tx.Exec(
				`INSERT INTO economy_log (ts, player_uuid, delta, balance, metadata) VALUES (?, ?, ?, ?, ?)`,
				ev.ts, ev.uuid, ev.delta, ev.balance, ev.meta,
			); err != nil {
				logger.Error(logTag, fmt.Sprintf("writer: insert: %v", err))
				continue
			}
			pending++
			if pending >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// ReaderGuard owns one checked-out reader connection. Release returns it
// to the pool unconditionally, including when the caller panics — call
// it via defer immediately after a successful Acquire.
type ReaderGuard struct {
	conn    *sql.Conn
	release func()
}

// Conn returns the underlying pooled connection.
func (g *ReaderGuard) Conn() *sql.Conn { return g.conn }

// Release returns the connection to the pool. Safe to call multiple
// times.
func (g *ReaderGuard) Release() {
	if g.release != nil {
		g.release()
		g.release = nil
	}
}

// AcquireReader checks out one reader connection, bounded by the
// semaphore-backed pool. Callers must release the guard on every exit
// path (defer it immediately).
func (s *Store) AcquireReader(ctx context.Context) (*ReaderGuard, error) {
	if err := s.readerSem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire reader: %w", err)
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		s.readerSem.Release(1)
		return nil, fmt.Errorf("checkout connection: %w", err)
	}
	var once sync.Once
	return &ReaderGuard{
		conn: conn,
		release: func() {
			once.Do(func() {
				conn.Close()
				s.readerSem.Release(1)
			})
		},
	}, nil
}

// NeffFromColdStore is the fallback Neff query path (spec.md §4.1,
// "retained behind the same Neff contract for environments without the
// hot window"): a SQL scan that applies the same decay weight per row.
// SQLite has no builtin EXP, so the weight is computed in Go as rows
// stream in rather than pushed into the query.
func (s *Store) NeffFromColdStore(ctx context.Context, now int64, tau float64) (float64, error) {
	if tau <= 0 {
		return 0, nil
	}

	guard, err := s.AcquireReader(ctx)
	if err != nil {
		return 0, err
	}
	defer guard.Release()

	tailBound := now - int64(10*tau*86_400_000)
	futureBound := now + 60_000

	rows, err := guard.Conn().QueryContext(ctx,
		`SELECT ts, delta FROM economy_log WHERE ts >= ? AND ts <= ? ORDER BY ts ASC`,
		tailBound, futureBound)
	if err != nil {
		return 0, fmt.Errorf("neff fallback query: %w", err)
	}
	defer rows.Close()

	k := 1.0 / (tau * 86_400_000)
	var sum float64
	for rows.Next() {
		var ts int64
		var delta float64
		if err := rows.Scan(&ts, &delta); err != nil {
			return 0, fmt.Errorf("neff fallback scan: %w", err)
		}
		exponent := macro.Clamp(-float64(now-ts)*k, -745.0, 0.0)
		sum += math.Abs(delta) * math.Exp(exponent)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	return sum, nil
}
