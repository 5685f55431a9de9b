package store

import (
	"context"
	"embed"
	"io/fs"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/jobstore/internal/db"
	"github.com/sells-group/jobstore/internal/dedupe"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockID serializes concurrent Migrate calls across processes.
const migrationLockID = 7305512

// legacyColumns lists every column a pre-migration jobs table may be
// missing, with the definition used to add it.
var legacyColumns = []struct{ name, ddl string }{
	{"url", "TEXT NOT NULL DEFAULT ''"},
	{"url_key", "TEXT NOT NULL DEFAULT ''"},
	{"title", "TEXT NOT NULL DEFAULT ''"},
	{"company", "TEXT NOT NULL DEFAULT ''"},
	{"location", "TEXT NOT NULL DEFAULT ''"},
	{"summary", "TEXT NOT NULL DEFAULT ''"},
	{"description", "TEXT NOT NULL DEFAULT ''"},
	{"requirements", "TEXT NOT NULL DEFAULT ''"},
	{"benefits", "TEXT NOT NULL DEFAULT ''"},
	{"salary_range", "TEXT NOT NULL DEFAULT ''"},
	{"job_type", "TEXT NOT NULL DEFAULT ''"},
	{"experience_level", "TEXT NOT NULL DEFAULT ''"},
	{"skills", "TEXT[] NOT NULL DEFAULT '{}'"},
	{"keywords", "TEXT[] NOT NULL DEFAULT '{}'"},
	{"required_skills", "TEXT[] NOT NULL DEFAULT '{}'"},
	{"site", "TEXT NOT NULL DEFAULT ''"},
	{"source", "TEXT NOT NULL DEFAULT ''"},
	{"status", "TEXT NOT NULL DEFAULT 'new'"},
	{"match_score", "DOUBLE PRECISION"},
	{"compatibility_score", "DOUBLE PRECISION"},
	{"confidence", "DOUBLE PRECISION"},
	{"sources", "TEXT[] NOT NULL DEFAULT '{}'"},
	{"source_urls", "TEXT[] NOT NULL DEFAULT '{}'"},
	{"source_sites", "TEXT[] NOT NULL DEFAULT '{}'"},
	{"merged_from_count", "INTEGER NOT NULL DEFAULT 1"},
	{"merged_at", "TIMESTAMPTZ"},
	{"duplicate_of", "TEXT NOT NULL DEFAULT ''"},
	{"title_key", "TEXT NOT NULL DEFAULT ''"},
	{"company_key", "TEXT NOT NULL DEFAULT ''"},
	{"location_key", "TEXT NOT NULL DEFAULT ''"},
	{"observed_at", "TIMESTAMPTZ NOT NULL DEFAULT now()"},
	{"created_at", "TIMESTAMPTZ NOT NULL DEFAULT now()"},
	{"updated_at", "TIMESTAMPTZ NOT NULL DEFAULT now()"},
}

// keyBackfillStep is recorded in schema_migrations once match keys have
// been derived for pre-existing rows. Rows whose text normalizes to an empty
// key would otherwise look pending on every start.
const keyBackfillStep = "backfill_match_keys"

// Migrate brings the schema up to date inside one transaction:
// legacy tables are patched with any missing columns, match keys are
// backfilled once, then pending migrations/*.sql files run in filename order.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	return s.WithTx(ctx, func(q db.Querier) error {
		if _, err := q.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
			return eris.Wrap(err, "postgres: acquire migration lock")
		}

		existing, err := existingColumns(ctx, q)
		if err != nil {
			return err
		}
		applied, err := appliedMigrations(ctx, q)
		if err != nil {
			return err
		}

		if len(existing) > 0 {
			if err := patchLegacyColumns(ctx, q, existing, log); err != nil {
				return err
			}
			if !applied[keyBackfillStep] {
				if err := backfillKeys(ctx, q, log); err != nil {
					return err
				}
			}
		}

		if err := applyMigrations(ctx, q, applied, log); err != nil {
			return err
		}
		if applied[keyBackfillStep] {
			return nil
		}
		return recordMigration(ctx, q, keyBackfillStep)
	})
}

// existingColumns returns the columns of the jobs table, or an empty set
// when the table does not exist yet.
func existingColumns(ctx context.Context, q db.Querier) (map[string]bool, error) {
	rows, err := q.Query(ctx,
		`SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = 'jobs'`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: probe columns")
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan column name")
		}
		cols[name] = true
	}
	return cols, eris.Wrap(rows.Err(), "postgres: probe columns iterate")
}

func patchLegacyColumns(ctx context.Context, q db.Querier, existing map[string]bool, log *zap.Logger) error {
	for _, c := range legacyColumns {
		if existing[c.name] {
			continue
		}
		log.Info("adding missing column", zap.String("column", c.name))
		if _, err := q.Exec(ctx, `ALTER TABLE jobs ADD COLUMN IF NOT EXISTS `+c.name+` `+c.ddl); err != nil {
			return eris.Wrapf(err, "postgres: add column %s", c.name)
		}
	}
	return nil
}

// backfillKeys derives match keys for rows that predate them. Legacy rows
// that collide on a key are superseded by the earliest row holding it so the
// unique indexes can be built.
func backfillKeys(ctx context.Context, q db.Querier, log *zap.Logger) error {
	rows, err := q.Query(ctx,
		`SELECT id, url, title, company, location, duplicate_of FROM jobs ORDER BY created_at, id`)
	if err != nil {
		return eris.Wrap(err, "postgres: load rows for backfill")
	}
	type legacyRow struct{ id, url, title, company, location, duplicateOf string }
	var all []legacyRow
	for rows.Next() {
		var r legacyRow
		if err := rows.Scan(&r.id, &r.url, &r.title, &r.company, &r.location, &r.duplicateOf); err != nil {
			rows.Close()
			return eris.Wrap(err, "postgres: scan backfill row")
		}
		all = append(all, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "postgres: backfill iterate")
	}

	byURL := make(map[string]string)
	byTitleCompany := make(map[string]string)
	superseded := 0
	for _, r := range all {
		urlKey := dedupe.NormalizeURL(r.url)
		titleKey := dedupe.NormalizeText(r.title)
		companyKey := dedupe.NormalizeText(r.company)
		locationKey := dedupe.NormalizeText(r.location)

		dupOf := r.duplicateOf
		if dupOf == "" {
			tc := ""
			if titleKey != "" && companyKey != "" {
				tc = titleKey + "\x00" + companyKey
			}
			switch {
			case urlKey != "" && byURL[urlKey] != "":
				dupOf = byURL[urlKey]
			case tc != "" && byTitleCompany[tc] != "":
				dupOf = byTitleCompany[tc]
			default:
				if urlKey != "" {
					byURL[urlKey] = r.id
				}
				if tc != "" {
					byTitleCompany[tc] = r.id
				}
			}
			if dupOf != "" {
				superseded++
			}
		}

		if _, err := q.Exec(ctx,
			`UPDATE jobs SET url_key = $2, title_key = $3, company_key = $4, location_key = $5, duplicate_of = $6 WHERE id = $1`,
			r.id, urlKey, titleKey, companyKey, locationKey, dupOf); err != nil {
			return eris.Wrapf(err, "postgres: backfill keys for %s", r.id)
		}
	}

	log.Info("backfilled match keys",
		zap.Int("rows", len(all)),
		zap.Int("superseded", superseded),
	)
	return nil
}

func applyMigrations(ctx context.Context, q db.Querier, applied map[string]bool, log *zap.Logger) error {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "postgres: read migration dir")
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}

		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "postgres: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))
		if _, err := q.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "postgres: apply migration %s", name)
		}
		if err := recordMigration(ctx, q, name); err != nil {
			return err
		}
	}
	return nil
}

func recordMigration(ctx context.Context, q db.Querier, name string) error {
	_, err := q.Exec(ctx,
		`INSERT INTO schema_migrations (filename, applied_at) VALUES ($1, now())`, name)
	return eris.Wrapf(err, "postgres: record migration %s", name)
}

// appliedMigrations creates the bookkeeping table when needed and returns
// the recorded steps.
func appliedMigrations(ctx context.Context, q db.Querier) (map[string]bool, error) {
	if _, err := q.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return nil, eris.Wrap(err, "postgres: ensure migration table")
	}

	rows, err := q.Query(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan migration row")
		}
		applied[name] = true
	}
	return applied, eris.Wrap(rows.Err(), "postgres: applied migrations iterate")
}
