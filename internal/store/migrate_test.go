package store

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectMigrationFiles(mock pgxmock.PgxPoolIface) {
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS jobs`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs("0001_create_jobs.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`ALTER TABLE jobs ADD COLUMN IF NOT EXISTS sources`).
		WillReturnResult(pgxmock.NewResult("ALTER", 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs("0002_provenance.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`CREATE UNIQUE INDEX IF NOT EXISTS uq_jobs_url_key`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs("0003_indexes.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func expectLockAndProbe(mock pgxmock.PgxPoolIface, cols *pgxmock.Rows, applied ...string) {
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`FROM information_schema.columns`).WillReturnRows(cols)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	rows := pgxmock.NewRows([]string{"filename"})
	for _, name := range applied {
		rows.AddRow(name)
	}
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).WillReturnRows(rows)
}

func expectBackfillRecorded(mock pgxmock.PgxPoolIface) {
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs(keyBackfillStep).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func fullColumns() *pgxmock.Rows {
	cols := pgxmock.NewRows([]string{"column_name"})
	for _, c := range jobColumns {
		cols.AddRow(c)
	}
	return cols
}

func TestMigrate_FreshDatabase(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	expectLockAndProbe(mock, pgxmock.NewRows([]string{"column_name"}))
	expectMigrationFiles(mock)
	expectBackfillRecorded(mock)
	mock.ExpectCommit()

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_AlreadyApplied(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	expectLockAndProbe(mock, fullColumns(),
		"0001_create_jobs.sql", "0002_provenance.sql", "0003_indexes.sql", keyBackfillStep)
	mock.ExpectCommit()

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_LegacyTablePatchedAndBackfilled(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	cols := pgxmock.NewRows([]string{"column_name"})
	for _, c := range jobColumns {
		if c == "duplicate_of" || c == "location_key" {
			continue
		}
		cols.AddRow(c)
	}

	expectLockAndProbe(mock, cols)
	mock.ExpectExec(`ALTER TABLE jobs ADD COLUMN IF NOT EXISTS duplicate_of TEXT NOT NULL DEFAULT ''`).
		WillReturnResult(pgxmock.NewResult("ALTER", 0))
	mock.ExpectExec(`ALTER TABLE jobs ADD COLUMN IF NOT EXISTS location_key`).
		WillReturnResult(pgxmock.NewResult("ALTER", 0))
	mock.ExpectQuery(`SELECT id, url, title, company, location, duplicate_of FROM jobs ORDER BY created_at, id`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "title", "company", "location", "duplicate_of"}).
			AddRow("a", "https://x.io/jobs/1?utm_source=mail", "Data Engineer", "Acme", "NYC", "").
			AddRow("b", "https://X.io/jobs/1/", "Data Engineer (Contract)", "Other", "", "").
			AddRow("c", "", "data engineer", "ACME", "Boston", ""))
	mock.ExpectExec(`UPDATE jobs SET url_key = \$2, title_key = \$3, company_key = \$4, location_key = \$5, duplicate_of = \$6 WHERE id = \$1`).
		WithArgs("a", "https://x.io/jobs/1", "data engineer", "acme", "nyc", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE jobs SET url_key`).
		WithArgs("b", "https://x.io/jobs/1", "data engineer contract", "other", "", "a").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE jobs SET url_key`).
		WithArgs("c", "", "data engineer", "acme", "boston", "a").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectMigrationFiles(mock)
	expectBackfillRecorded(mock)
	mock.ExpectCommit()

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_BackfillRunsOnceForEmptyKeys(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	migrations := []string{"0001_create_jobs.sql", "0002_provenance.sql", "0003_indexes.sql"}

	// First start: the punctuation-only title normalizes to an empty key.
	expectLockAndProbe(mock, fullColumns(), migrations...)
	mock.ExpectQuery(`SELECT id, url, title, company, location, duplicate_of FROM jobs`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "title", "company", "location", "duplicate_of"}).
			AddRow("q", "https://x.io/jobs/9", "???", "Acme", "", ""))
	mock.ExpectExec(`UPDATE jobs SET url_key`).
		WithArgs("q", "https://x.io/jobs/9", "", "acme", "", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectBackfillRecorded(mock)
	mock.ExpectCommit()

	require.NoError(t, s.Migrate(context.Background()))

	// Second start: the step is recorded, so the table is not scanned again.
	expectLockAndProbe(mock, fullColumns(), append(migrations, keyBackfillStep)...)
	mock.ExpectCommit()

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_LockFailureRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs(migrationLockID).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := s.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration lock")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationFilesOrdered(t *testing.T) {
	entries, err := migrationFS.ReadDir("migrations")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"0001_create_jobs.sql", "0002_provenance.sql", "0003_indexes.sql"}, names)
}
