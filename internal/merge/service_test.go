package merge

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/jobstore/internal/dedupe"
	"github.com/sells-group/jobstore/internal/model"
	"github.com/sells-group/jobstore/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	st := store.New(mock, store.PoolConfig{MaxConns: 2, BorrowTimeout: 100 * time.Millisecond})
	svc := NewService(st, dedupe.NewDetector(), 1)
	svc.now = func() time.Time { return mergeTime }
	return svc, mock
}

func liveRows(records ...model.JobRecord) *pgxmock.Rows {
	rows := pgxmock.NewRows(store.ColumnNames())
	for i := range records {
		r := records[i]
		if r.Status == "" {
			r.Status = model.JobStatusNew
		}
		rows.AddRow(store.JobValues(&r)...)
	}
	return rows
}

func anyArgs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}

func TestService_Run(t *testing.T) {
	svc, mock := newTestService(t)

	a := keyed("a", "https://x.io/1", "Data Engineer", "Acme", "")
	b := keyed("b", "https://y.io/9", "Data Engineer", "Acme", "Austin")
	b.Summary = "Builds the warehouse."
	c := keyed("c", "", "Accountant", "Globex", "")

	mock.ExpectQuery(`FROM jobs WHERE duplicate_of = ''`).
		WillReturnRows(liveRows(a, b, c))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE jobs SET duplicate_of = \$1`).
		WithArgs("b", pgxmock.AnyArg(), []string{"a"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE jobs SET url = \$2`).
		WithArgs(anyArgs(len(store.ColumnNames()))...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	res, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Scanned)
	assert.Equal(t, 1, res.Clusters)
	assert.Equal(t, 1, res.Merged)
	assert.Equal(t, 1, res.Absorbed)
	assert.Zero(t, res.Failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Run_NothingToMerge(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery(`FROM jobs WHERE duplicate_of = ''`).
		WillReturnRows(liveRows(
			keyed("a", "https://x.io/1", "Data Engineer", "Acme", ""),
			keyed("b", "https://x.io/2", "Designer", "Acme", ""),
		))

	res, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scanned)
	assert.Zero(t, res.Clusters)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Run_ClusterFailureRecorded(t *testing.T) {
	svc, mock := newTestService(t)

	a := keyed("a", "", "Dev", "Acme", "")
	b := keyed("b", "", "Dev", "Acme", "")

	mock.ExpectQuery(`FROM jobs WHERE duplicate_of = ''`).
		WillReturnRows(liveRows(a, b))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE jobs SET duplicate_of`).
		WithArgs("a", pgxmock.AnyArg(), []string{"b"}).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	res, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"cluster a: fatal store failure"}, res.Errors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Run_LoadError(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery(`FROM jobs WHERE duplicate_of = ''`).WillReturnError(assert.AnError)

	_, err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load live jobs")
}
