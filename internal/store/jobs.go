package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/jobstore/internal/db"
	"github.com/sells-group/jobstore/internal/dedupe"
	"github.com/sells-group/jobstore/internal/model"
)

// jobColumns is the full column list in scan order.
var jobColumns = []string{
	"id", "url", "url_key",
	"title", "company", "location", "summary", "description", "requirements", "benefits",
	"salary_range", "job_type", "experience_level",
	"skills", "keywords", "required_skills",
	"site", "source", "status",
	"match_score", "compatibility_score", "confidence",
	"sources", "source_urls", "source_sites", "merged_from_count", "merged_at", "duplicate_of",
	"title_key", "company_key", "location_key",
	"observed_at", "created_at", "updated_at",
}

// JobColumns returns the select list for the jobs table.
func JobColumns() string {
	return strings.Join(jobColumns, ", ")
}

// ColumnNames returns a copy of the jobs column names in scan order.
func ColumnNames() []string {
	return slices.Clone(jobColumns)
}

// JobValues returns r's column values in JobColumns order.
func JobValues(r *model.JobRecord) []any {
	return []any{
		r.ID, r.URL, r.URLKey,
		r.Title, r.Company, r.Location, r.Summary, r.Description, r.Requirements, r.Benefits,
		r.SalaryRange, r.JobType, r.ExperienceLevel,
		r.Skills.Strings(), r.Keywords.Strings(), r.RequiredSkills.Strings(),
		r.Site, r.Source, string(r.Status),
		r.MatchScore, r.CompatibilityScore, r.Confidence,
		r.Sources.Strings(), r.SourceURLs.Strings(), r.SourceSites.Strings(), r.MergedFromCount, r.MergedAt, r.DuplicateOf,
		r.TitleKey, r.CompanyKey, r.LocationKey,
		r.ObservedAt, r.CreatedAt, r.UpdatedAt,
	}
}

// ScanJob reads one jobs row selected with JobColumns.
func ScanJob(row pgx.Row) (*model.JobRecord, error) {
	var (
		r                              model.JobRecord
		status                         string
		skills, keywords, required     []string
		sources, sourceURLs, sourceSit []string
	)
	err := row.Scan(
		&r.ID, &r.URL, &r.URLKey,
		&r.Title, &r.Company, &r.Location, &r.Summary, &r.Description, &r.Requirements, &r.Benefits,
		&r.SalaryRange, &r.JobType, &r.ExperienceLevel,
		&skills, &keywords, &required,
		&r.Site, &r.Source, &status,
		&r.MatchScore, &r.CompatibilityScore, &r.Confidence,
		&sources, &sourceURLs, &sourceSit, &r.MergedFromCount, &r.MergedAt, &r.DuplicateOf,
		&r.TitleKey, &r.CompanyKey, &r.LocationKey,
		&r.ObservedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = model.JobStatus(status)
	r.Skills = model.StringSet(skills)
	r.Keywords = model.StringSet(keywords)
	r.RequiredSkills = model.StringSet(required)
	r.Sources = model.StringSet(sources)
	r.SourceURLs = model.StringSet(sourceURLs)
	r.SourceSites = model.StringSet(sourceSit)
	return &r, nil
}

func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ", ")
}

var insertJobSQL = fmt.Sprintf(`INSERT INTO jobs (%s) VALUES (%s)`,
	strings.Join(jobColumns, ", "), placeholders(1, len(jobColumns)))

// Insert writes a new row on q, which is normally a chunk transaction. Id,
// timestamps, status and match keys are filled when unset.
func (s *PostgresStore) Insert(ctx context.Context, q db.Querier, r *model.JobRecord) error {
	now := time.Now().UTC()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = model.JobStatusNew
	}
	if r.MergedFromCount < 1 {
		r.MergedFromCount = 1
	}
	if r.ObservedAt.IsZero() {
		r.ObservedAt = now
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	dedupe.ApplyKeys(r)

	if _, err := q.Exec(ctx, insertJobSQL, JobValues(r)...); err != nil {
		return eris.Wrapf(err, "postgres: insert job %s", r.ID)
	}
	return nil
}

// GetJob returns the row with id, superseded or not.
func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.JobRecord, error) {
	var out *model.JobRecord
	err := s.WithConn(ctx, func(q db.Querier) error {
		r, err := ScanJob(q.QueryRow(ctx, `SELECT `+JobColumns()+` FROM jobs WHERE id = $1`, id))
		if eris.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "postgres: get job %s", id)
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: get job %s", id)
		}
		out = r
		return nil
	})
	return out, err
}

// updatable maps caller-facing field names onto columns and their coercion.
var updatable = map[string]string{
	"title":               "text",
	"company":             "text",
	"location":            "text",
	"summary":             "text",
	"description":         "text",
	"requirements":        "text",
	"benefits":            "text",
	"salary_range":        "text",
	"job_type":            "text",
	"experience_level":    "text",
	"site":                "text",
	"source":              "text",
	"skills":              "list",
	"keywords":            "list",
	"required_skills":     "list",
	"match_score":         "score",
	"compatibility_score": "score",
	"confidence":          "score",
	"status":              "status",
}

// keyColumns are recomputed whenever their source field changes.
var keyColumns = map[string]string{
	"title":    "title_key",
	"company":  "company_key",
	"location": "location_key",
}

// UpdateFields applies a partial update in a single statement and returns
// the updated row. A status change is guarded in the WHERE clause so that
// two concurrent writers cannot move a record backwards.
func (s *PostgresStore) UpdateFields(ctx context.Context, id string, fields map[string]any) (*model.JobRecord, error) {
	if len(fields) == 0 {
		return s.GetJob(ctx, id)
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		if _, ok := updatable[name]; !ok {
			return nil, eris.Wrapf(ErrUnknownField, "postgres: update job %s: %q", id, name)
		}
		names = append(names, name)
	}
	// Deterministic statement text.
	slices.Sort(names)

	var (
		sets   []string
		args   = []any{id}
		status model.JobStatus
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	for _, name := range names {
		v := fields[name]
		switch updatable[name] {
		case "text":
			text := model.CoerceString(v)
			add(name, text)
			if keyCol, ok := keyColumns[name]; ok {
				add(keyCol, dedupe.NormalizeText(text))
			}
		case "list":
			add(name, model.CoerceList(v).Strings())
		case "score":
			if f, ok := model.CoerceFloat(v); ok {
				add(name, f)
			} else {
				add(name, nil)
			}
		case "status":
			status = model.JobStatus(model.CoerceString(v))
			if !status.Valid() {
				return nil, eris.Wrapf(ErrInvalidTransition, "postgres: update job %s: unknown status %q", id, status)
			}
			add(name, string(status))
		}
	}
	add("updated_at", time.Now().UTC())

	query := `UPDATE jobs SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`
	if status != "" {
		preds := make([]string, 0, 4)
		for _, p := range status.Predecessors() {
			preds = append(preds, string(p))
		}
		args = append(args, preds)
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	query += ` RETURNING ` + JobColumns()

	var out *model.JobRecord
	err := s.WithConn(ctx, func(q db.Querier) error {
		r, err := ScanJob(q.QueryRow(ctx, query, args...))
		if err == nil {
			out = r
			return nil
		}
		if db.IsUniqueViolation(err) {
			return eris.Wrapf(ErrConflict, "postgres: update job %s: %v", id, err)
		}
		if !eris.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(err, "postgres: update job %s", id)
		}

		// Nothing updated: either the row is gone or the status guard failed.
		var current string
		probeErr := q.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
		if eris.Is(probeErr, pgx.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "postgres: update job %s", id)
		}
		if probeErr != nil {
			return eris.Wrapf(probeErr, "postgres: update job %s: probe status", id)
		}
		return eris.Wrapf(ErrInvalidTransition, "postgres: update job %s: %s -> %s", id, current, status)
	})
	return out, err
}

// DeleteJob removes a row and every row it absorbed. It returns the number
// of rows removed, or ErrNotFound when id does not exist.
func (s *PostgresStore) DeleteJob(ctx context.Context, id string) (int64, error) {
	var n int64
	err := s.WithConn(ctx, func(q db.Querier) error {
		tag, err := q.Exec(ctx, `DELETE FROM jobs WHERE id = $1 OR duplicate_of = $1`, id)
		if err != nil {
			return eris.Wrapf(err, "postgres: delete job %s", id)
		}
		n = tag.RowsAffected()
		if n == 0 {
			return eris.Wrapf(ErrNotFound, "postgres: delete job %s", id)
		}
		return nil
	})
	return n, err
}

// SweepOlderThan deletes rows last observed before cutoff. Applied rows are
// kept; superseded rows whose canonical row is gone are removed with them.
func (s *PostgresStore) SweepOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.WithTx(ctx, func(q db.Querier) error {
		tag, err := q.Exec(ctx,
			`DELETE FROM jobs WHERE observed_at < $1 AND status <> $2`,
			cutoff.UTC(), string(model.JobStatusApplied))
		if err != nil {
			return eris.Wrap(err, "postgres: sweep jobs")
		}
		n = tag.RowsAffected()

		tag, err = q.Exec(ctx,
			`DELETE FROM jobs d WHERE d.duplicate_of <> '' AND NOT EXISTS (SELECT 1 FROM jobs c WHERE c.id = d.duplicate_of)`)
		if err != nil {
			return eris.Wrap(err, "postgres: sweep orphaned duplicates")
		}
		n += tag.RowsAffected()
		return nil
	})
	return n, err
}

// ListLive returns every non-superseded row in creation order.
func (s *PostgresStore) ListLive(ctx context.Context) ([]model.JobRecord, error) {
	var out []model.JobRecord
	err := s.WithConn(ctx, func(q db.Querier) error {
		rows, err := q.Query(ctx,
			`SELECT `+JobColumns()+` FROM jobs WHERE duplicate_of = '' ORDER BY created_at, id`)
		if err != nil {
			return eris.Wrap(err, "postgres: list live jobs")
		}
		defer rows.Close()

		for rows.Next() {
			r, err := ScanJob(rows)
			if err != nil {
				return eris.Wrap(err, "postgres: scan job")
			}
			out = append(out, *r)
		}
		return eris.Wrap(rows.Err(), "postgres: list live jobs iterate")
	})
	return out, err
}

var applyMergeSQL = func() string {
	var sets []string
	for i, col := range jobColumns {
		if col == "id" {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+1))
	}
	return `UPDATE jobs SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`
}()

// ApplyMerge writes a merge result on q, which must be a transaction. The
// absorbed rows are superseded first so the base row can take over their
// match keys without tripping the unique indexes.
func (s *PostgresStore) ApplyMerge(ctx context.Context, q db.Querier, merged *model.JobRecord, absorbed []string) error {
	now := time.Now().UTC()
	if len(absorbed) > 0 {
		if _, err := q.Exec(ctx,
			`UPDATE jobs SET duplicate_of = $1, updated_at = $2 WHERE id = ANY($3) AND duplicate_of = ''`,
			merged.ID, now, absorbed); err != nil {
			return eris.Wrapf(err, "postgres: supersede duplicates of %s", merged.ID)
		}
	}

	merged.UpdatedAt = now
	tag, err := q.Exec(ctx, applyMergeSQL, JobValues(merged)...)
	if err != nil {
		return eris.Wrapf(err, "postgres: write merged job %s", merged.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: write merged job %s", merged.ID)
	}
	return nil
}
