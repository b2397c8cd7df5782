// Package telemetry records query metrics in a local SQLite database.
//
// Recording is best-effort: a telemetry failure never fails a search.
package telemetry

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pborenstein/temoa/internal/store"
)

// QueryEvent is one recorded search.
type QueryEvent struct {
	Vault       string
	Query       string
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
}

// Recorder persists query events.
type Recorder struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// Open creates or opens the telemetry database at path.
func Open(path string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry db: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS query_terms (
		term TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 1,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

	CREATE TABLE IF NOT EXISTS zero_result_queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		vault TEXT NOT NULL,
		query TEXT NOT NULL,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS query_latency_stats (
		date TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create telemetry schema: %w", err)
	}

	return &Recorder{db: db}, nil
}

// Record stores one query event. Errors are logged, never returned.
func (r *Recorder) Record(ev QueryEvent) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	tx, err := r.db.Begin()
	if err != nil {
		slog.Debug("telemetry_begin_failed", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = tx.Rollback() }()

	for _, term := range store.Tokenize(ev.Query) {
		if _, err := tx.Exec(`
			INSERT INTO query_terms (term, count, last_seen)
			VALUES (?, 1, CURRENT_TIMESTAMP)
			ON CONFLICT(term) DO UPDATE SET count = count + 1, last_seen = CURRENT_TIMESTAMP
		`, term); err != nil {
			slog.Debug("telemetry_term_failed", slog.String("error", err.Error()))
			return
		}
	}

	if ev.ResultCount == 0 {
		if _, err := tx.Exec(`
			INSERT INTO zero_result_queries (vault, query) VALUES (?, ?)
		`, ev.Vault, ev.Query); err != nil {
			slog.Debug("telemetry_zero_failed", slog.String("error", err.Error()))
			return
		}
		// Circular buffer: keep only the most recent 100.
		_, _ = tx.Exec(`
			DELETE FROM zero_result_queries
			WHERE id NOT IN (SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT 100)
		`)
	}

	date := ev.Timestamp.Format("2006-01-02")
	if _, err := tx.Exec(`
		INSERT INTO query_latency_stats (date, bucket, count)
		VALUES (?, ?, 1)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + 1
	`, date, latencyBucket(ev.Latency)); err != nil {
		slog.Debug("telemetry_latency_failed", slog.String("error", err.Error()))
		return
	}

	if err := tx.Commit(); err != nil {
		slog.Debug("telemetry_commit_failed", slog.String("error", err.Error()))
	}
}

// latencyBucket maps a duration to its histogram bucket.
func latencyBucket(d time.Duration) string {
	switch {
	case d < 50*time.Millisecond:
		return "<50ms"
	case d < 200*time.Millisecond:
		return "50-200ms"
	case d < 1*time.Second:
		return "200ms-1s"
	case d < 2*time.Second:
		return "1-2s"
	default:
		return ">2s"
	}
}

// TopTerms returns the most frequent query terms.
func (r *Recorder) TopTerms(limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("recorder is closed")
	}

	rows, err := r.db.Query(`SELECT term FROM query_terms ORDER BY count DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var terms []string
	for rows.Next() {
		var term string
		if err := rows.Scan(&term); err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	return terms, rows.Err()
}

// ZeroResultCount returns how many recent queries found nothing.
func (r *Recorder) ZeroResultCount() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, fmt.Errorf("recorder is closed")
	}

	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM zero_result_queries`).Scan(&count)
	return count, err
}

// Close releases the database handle.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.db.Close()
}
