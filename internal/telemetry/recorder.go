// Package telemetry records local-only query metrics: an append-only
// search log in SQLite, an in-process latency histogram, and a ring of
// recent zero-result queries. Nothing here ever leaves the machine.
package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// driverName is the pure-Go SQLite driver registration name.
const driverName = "sqlite"

// zeroRingSize bounds the recent zero-result query ring.
const zeroRingSize = 32

// latencyBounds are the histogram bucket upper bounds. The last bucket is
// unbounded.
var latencyBounds = []time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// SearchEvent is one recorded query.
type SearchEvent struct {
	Query   string
	Variant string
	Tags    []string
	Hits    int
	Latency time.Duration
	At      time.Time
}

// ZeroResult is a query that matched nothing.
type ZeroResult struct {
	Query string    `json:"query"`
	Tags  []string  `json:"tags,omitempty"`
	At    time.Time `json:"at"`
}

// Stats is a snapshot for the status surfaces.
type Stats struct {
	TotalSearches  int64           `json:"total_searches"`
	ZeroResults    int64           `json:"zero_results"`
	AvgLatencyMS   float64         `json:"avg_latency_ms"`
	LatencyBuckets []LatencyBucket `json:"latency_buckets"`
	RecentZero     []ZeroResult    `json:"recent_zero,omitempty"`
}

// LatencyBucket is one histogram bucket.
type LatencyBucket struct {
	UpperMS int64 `json:"upper_ms"` // 0 means unbounded
	Count   int64 `json:"count"`
}

// Recorder persists search events. A nil Recorder is a valid no-op, so
// callers never need to branch on whether telemetry is enabled.
type Recorder struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *slog.Logger

	buckets  []int64
	zeroRing []ZeroResult
}

// NewRecorder opens (or creates) the telemetry database. When enabled is
// false it returns nil, the no-op recorder.
func NewRecorder(enabled bool, dbPath string, logger *slog.Logger) (*Recorder, error) {
	if !enabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
	}

	db, err := sql.Open(driverName, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry database: %w", err)
	}

	// Single writer suits SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS searches (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	at         TEXT    NOT NULL,
	query      TEXT    NOT NULL,
	variant    TEXT    NOT NULL,
	tags       TEXT    NOT NULL DEFAULT '',
	hits       INTEGER NOT NULL,
	latency_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_searches_at ON searches(at);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create telemetry schema: %w", err)
	}

	return &Recorder{
		db:      db,
		logger:  logger,
		buckets: make([]int64, len(latencyBounds)+1),
	}, nil
}

// RecordSearch logs one query. Failures are logged and swallowed; metrics
// must never fail a search.
func (r *Recorder) RecordSearch(ctx context.Context, ev SearchEvent) {
	if r == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	r.mu.Lock()
	r.buckets[bucketFor(ev.Latency)]++
	if ev.Hits == 0 && strings.TrimSpace(ev.Query) != "" {
		r.zeroRing = append(r.zeroRing, ZeroResult{Query: ev.Query, Tags: ev.Tags, At: ev.At})
		if len(r.zeroRing) > zeroRingSize {
			r.zeroRing = r.zeroRing[len(r.zeroRing)-zeroRingSize:]
		}
	}
	r.mu.Unlock()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO searches (at, query, variant, tags, hits, latency_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.At.UTC().Format(time.RFC3339Nano),
		ev.Query,
		ev.Variant,
		strings.Join(ev.Tags, ","),
		ev.Hits,
		ev.Latency.Milliseconds(),
	)
	if err != nil {
		r.logger.Warn("failed to record search event", "error", err)
	}
}

// Stats summarizes everything recorded so far.
func (r *Recorder) Stats(ctx context.Context) (*Stats, error) {
	if r == nil {
		return &Stats{}, nil
	}

	var total, zero int64
	var avgMS sql.NullFloat64
	row := r.db.QueryRowContext(ctx, `
SELECT COUNT(*),
       COALESCE(SUM(CASE WHEN hits = 0 THEN 1 ELSE 0 END), 0),
       AVG(latency_ms)
FROM searches`)
	if err := row.Scan(&total, &zero, &avgMS); err != nil {
		return nil, fmt.Errorf("failed to query telemetry stats: %w", err)
	}

	stats := &Stats{
		TotalSearches: total,
		ZeroResults:   zero,
	}
	if avgMS.Valid {
		stats.AvgLatencyMS = avgMS.Float64
	}

	r.mu.Lock()
	for i, count := range r.buckets {
		b := LatencyBucket{Count: count}
		if i < len(latencyBounds) {
			b.UpperMS = latencyBounds[i].Milliseconds()
		}
		stats.LatencyBuckets = append(stats.LatencyBuckets, b)
	}
	stats.RecentZero = append(stats.RecentZero, r.zeroRing...)
	r.mu.Unlock()

	return stats, nil
}

// Close closes the database.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	return r.db.Close()
}

func bucketFor(d time.Duration) int {
	for i, bound := range latencyBounds {
		if d < bound {
			return i
		}
	}
	return len(latencyBounds)
}
