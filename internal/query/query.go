// Package query serves read-side listing, counting and aggregate stats over
// live (non-superseded) job records.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/jobstore/internal/db"
	"github.com/sells-group/jobstore/internal/model"
	"github.com/sells-group/jobstore/internal/store"
)

// DefaultLimit caps List when the filter sets none.
const DefaultLimit = 100

// MaxLimit is the largest page List will return.
const MaxLimit = 1000

// Filter selects live records. Zero values match everything.
type Filter struct {
	Site   string          `json:"site,omitempty"`
	Search string          `json:"search,omitempty"`
	Status model.JobStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Stats is an aggregate snapshot of the live store.
type Stats struct {
	Total       int64            `json:"total" yaml:"total"`
	BySite      map[string]int64 `json:"by_site" yaml:"by_site"`
	ByStatus    map[string]int64 `json:"by_status" yaml:"by_status"`
	Recent      int64            `json:"recent" yaml:"recent"`
	Window      time.Duration    `json:"window" yaml:"window"`
	GeneratedAt time.Time        `json:"generated_at" yaml:"generated_at"`
}

// Service runs read queries through the store's connection gate.
type Service struct {
	store store.Store
	now   func() time.Time
}

// NewService creates a query Service.
func NewService(st store.Store) *Service {
	return &Service{store: st, now: time.Now}
}

// where renders the WHERE clause for f starting at placeholder $1.
func (f Filter) where() (string, []any) {
	clauses := []string{`duplicate_of = ''`}
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Site != "" {
		clauses = append(clauses, "site = "+next(f.Site))
	}
	if f.Status != "" {
		clauses = append(clauses, "status = "+next(string(f.Status)))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		p := next("%" + escapeLike(s) + "%")
		clauses = append(clauses, fmt.Sprintf("(title ILIKE %[1]s OR company ILIKE %[1]s OR summary ILIKE %[1]s)", p))
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// List returns one page of live records, newest observation first.
func (s *Service) List(ctx context.Context, f Filter) ([]model.JobRecord, error) {
	where, args := f.where()
	query := `SELECT ` + store.JobColumns() + ` FROM jobs` + where + ` ORDER BY observed_at DESC, id`

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(` LIMIT $%d`, len(args))

	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	var out []model.JobRecord
	err := s.store.WithConn(ctx, func(q db.Querier) error {
		rows, err := q.Query(ctx, query, args...)
		if err != nil {
			return eris.Wrap(err, "query: list jobs")
		}
		defer rows.Close()

		for rows.Next() {
			r, err := store.ScanJob(rows)
			if err != nil {
				return eris.Wrap(err, "query: scan job")
			}
			out = append(out, *r)
		}
		return eris.Wrap(rows.Err(), "query: list jobs iterate")
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns how many live records match f. Limit and Offset are ignored.
func (s *Service) Count(ctx context.Context, f Filter) (int64, error) {
	where, args := f.where()
	var n int64
	err := s.store.WithConn(ctx, func(q db.Querier) error {
		return eris.Wrap(q.QueryRow(ctx, `SELECT count(*) FROM jobs`+where, args...).Scan(&n), "query: count jobs")
	})
	return n, err
}

// Stats aggregates live records. Recent counts records observed within
// window; a non-positive window counts none.
func (s *Service) Stats(ctx context.Context, window time.Duration) (*Stats, error) {
	now := s.now().UTC()
	st := &Stats{
		BySite:      map[string]int64{},
		ByStatus:    map[string]int64{},
		Window:      window,
		GeneratedAt: now,
	}
	cutoff := now.Add(-window)
	if window <= 0 {
		cutoff = now.Add(time.Hour)
	}

	err := s.store.WithConn(ctx, func(q db.Querier) error {
		err := q.QueryRow(ctx,
			`SELECT count(*), count(*) FILTER (WHERE observed_at >= $1) FROM jobs WHERE duplicate_of = ''`,
			cutoff,
		).Scan(&st.Total, &st.Recent)
		if err != nil {
			return eris.Wrap(err, "query: stats totals")
		}

		if err := groupCounts(ctx, q, "site", st.BySite); err != nil {
			return err
		}
		return groupCounts(ctx, q, "status", st.ByStatus)
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// groupCounts fills into with live-row counts grouped by column, which must
// be a trusted identifier.
func groupCounts(ctx context.Context, q db.Querier, column string, into map[string]int64) error {
	rows, err := q.Query(ctx, fmt.Sprintf(
		`SELECT %[1]s, count(*) FROM jobs WHERE duplicate_of = '' GROUP BY %[1]s ORDER BY %[1]s`, column))
	if err != nil {
		return eris.Wrapf(err, "query: stats by %s", column)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			n   int64
		)
		if err := rows.Scan(&key, &n); err != nil {
			return eris.Wrapf(err, "query: scan stats by %s", column)
		}
		if key == "" {
			key = "unknown"
		}
		into[key] += n
	}
	return eris.Wrapf(rows.Err(), "query: stats by %s iterate", column)
}
