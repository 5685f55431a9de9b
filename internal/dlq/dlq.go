// Package dlq is a local SQLite spool for ingestion candidates that failed
// for store reasons, so they can be replayed once the store recovers.
package dlq

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite" // register driver

	"github.com/sells-group/jobstore/internal/resilience"
)

// DefaultMaxRetries bounds replays of a single entry.
const DefaultMaxRetries = 3

// Entry is one spooled candidate.
type Entry struct {
	ID           string         `json:"id" yaml:"id"`
	BatchID      string         `json:"batch_id" yaml:"batch_id"`
	Index        int            `json:"index" yaml:"index"`
	Payload      map[string]any `json:"payload" yaml:"payload"`
	Error        string         `json:"error" yaml:"error"`
	ErrorType    string         `json:"error_type" yaml:"error_type"` // resilience.Kind
	RetryCount   int            `json:"retry_count" yaml:"retry_count"`
	MaxRetries   int            `json:"max_retries" yaml:"max_retries"`
	NextRetryAt  time.Time      `json:"next_retry_at" yaml:"next_retry_at"`
	CreatedAt    time.Time      `json:"created_at" yaml:"created_at"`
	LastFailedAt time.Time      `json:"last_failed_at" yaml:"last_failed_at"`
}

// CanRetry returns true if this entry hasn't exceeded its max retry count.
func (e *Entry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// Filter specifies criteria for listing entries.
type Filter struct {
	ErrorType string `json:"error_type,omitempty"`
	DueOnly   bool   `json:"due_only,omitempty"` // only retryable entries whose next_retry_at has passed
	Limit     int    `json:"limit,omitempty"`
}

// NextRetry returns when an entry that has failed retryCount times may be
// replayed: one minute doubling per failure, capped at one hour.
func NextRetry(retryCount int, now time.Time) time.Time {
	d := time.Minute * time.Duration(math.Pow(2, float64(retryCount)))
	if d > time.Hour || d <= 0 {
		d = time.Hour
	}
	return now.Add(d)
}

// Spool persists entries in a SQLite database.
type Spool struct {
	db         *sql.DB
	maxRetries int
	now        func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS dead_letters (
	id             TEXT PRIMARY KEY,
	batch_id       TEXT NOT NULL,
	item_index     INTEGER NOT NULL,
	payload        TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  INTEGER NOT NULL,
	created_at     INTEGER NOT NULL,
	last_failed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dead_letters_next_retry ON dead_letters(next_retry_at);
CREATE INDEX IF NOT EXISTS idx_dead_letters_error_type ON dead_letters(error_type);
`

// Open opens (creating if needed) the spool at dsn and configures WAL mode.
func Open(dsn string, maxRetries int) (*Spool, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "dlq: open")
	}
	// A single writer keeps in-memory databases shared and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "dlq: exec %s", pragma)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "dlq: migrate")
	}

	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Spool{db: db, maxRetries: maxRetries, now: time.Now}, nil
}

// Close closes the database.
func (s *Spool) Close() error {
	return eris.Wrap(s.db.Close(), "dlq: close")
}

// Enqueue inserts or refreshes an entry. Missing id, timestamps and retry
// limit are filled in.
func (s *Spool) Enqueue(ctx context.Context, e Entry) error {
	now := s.now().UTC()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.ErrorType == "" {
		e.ErrorType = string(resilience.KindTransient)
	}
	if e.MaxRetries <= 0 {
		e.MaxRetries = s.maxRetries
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.LastFailedAt.IsZero() {
		e.LastFailedAt = now
	}
	if e.NextRetryAt.IsZero() {
		e.NextRetryAt = NextRetry(e.RetryCount, now)
	}

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return eris.Wrap(err, "dlq: marshal payload")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dead_letters
		 (id, batch_id, item_index, payload, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   error = excluded.error, error_type = excluded.error_type, retry_count = excluded.retry_count,
		   next_retry_at = excluded.next_retry_at, last_failed_at = excluded.last_failed_at`,
		e.ID, e.BatchID, e.Index, string(payload), e.Error, e.ErrorType,
		e.RetryCount, e.MaxRetries,
		e.NextRetryAt.UnixMilli(), e.CreatedAt.UnixMilli(), e.LastFailedAt.UnixMilli(),
	)
	return eris.Wrap(err, "dlq: enqueue")
}

// List returns entries matching f, oldest retry time first.
func (s *Spool) List(ctx context.Context, f Filter) ([]Entry, error) {
	query := `SELECT id, batch_id, item_index, payload, error, error_type, retry_count, max_retries,
	          next_retry_at, created_at, last_failed_at
	          FROM dead_letters WHERE 1 = 1`
	var args []any

	if f.DueOnly {
		query += ` AND next_retry_at <= ? AND retry_count < max_retries`
		args = append(args, s.now().UTC().UnixMilli())
	}
	if f.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, f.ErrorType)
	}
	query += ` ORDER BY next_retry_at ASC, created_at ASC`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "dlq: list")
	}
	defer rows.Close() //nolint:errcheck

	var entries []Entry
	for rows.Next() {
		var (
			e                        Entry
			payload                  string
			nextRetry, created, last int64
		)
		if err := rows.Scan(&e.ID, &e.BatchID, &e.Index, &payload, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &nextRetry, &created, &last); err != nil {
			return nil, eris.Wrap(err, "dlq: scan entry")
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, eris.Wrapf(err, "dlq: unmarshal payload %s", e.ID)
		}
		e.NextRetryAt = time.UnixMilli(nextRetry).UTC()
		e.CreatedAt = time.UnixMilli(created).UTC()
		e.LastFailedAt = time.UnixMilli(last).UTC()
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "dlq: list iterate")
}

// IncrementRetry records another failed replay of id.
func (s *Spool) IncrementRetry(ctx context.Context, id string, lastErr string) error {
	var retryCount int
	err := s.db.QueryRowContext(ctx, `SELECT retry_count FROM dead_letters WHERE id = ?`, id).Scan(&retryCount)
	if eris.Is(err, sql.ErrNoRows) {
		return eris.Errorf("dlq: entry not found: %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "dlq: load entry %s", id)
	}

	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx,
		`UPDATE dead_letters
		 SET retry_count = retry_count + 1, next_retry_at = ?, error = ?, last_failed_at = ?
		 WHERE id = ?`,
		NextRetry(retryCount+1, now).UnixMilli(), lastErr, now.UnixMilli(), id,
	)
	return eris.Wrapf(err, "dlq: increment retry %s", id)
}

// Remove deletes id.
func (s *Spool) Remove(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id)
	return eris.Wrap(err, "dlq: remove")
}

// Count returns the number of spooled entries.
func (s *Spool) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&n)
	return n, eris.Wrap(err, "dlq: count")
}
