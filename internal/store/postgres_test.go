package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/jobstore/internal/db"
	"github.com/sells-group/jobstore/internal/resilience"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := New(mock, PoolConfig{MaxConns: 2, BorrowTimeout: 200 * time.Millisecond})
	return s, mock
}

func anyArgs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}

func TestPoolConfig_Defaults(t *testing.T) {
	cfg := PoolConfig{MinConns: 9}.withDefaults()
	assert.Equal(t, defaultMaxConns, cfg.MaxConns)
	assert.Equal(t, int32(0), cfg.MinConns)
	assert.Equal(t, defaultBorrowTimeout, cfg.BorrowTimeout)
}

func TestWithConn_BorrowTimeout(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := New(mock, PoolConfig{MaxConns: 1, BorrowTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.WithConn(ctx, func(db.Querier) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	start := time.Now()
	err = s.WithConn(ctx, func(db.Querier) error {
		t.Fatal("borrow should not succeed while the only connection is held")
		return nil
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.True(t, errors.Is(err, resilience.ErrPoolExhausted))
	assert.Equal(t, resilience.KindTransient, resilience.Classify(err))
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)

	close(release)
	wg.Wait()

	called := false
	require.NoError(t, s.WithConn(ctx, func(db.Querier) error {
		called = true
		return nil
	}))
	assert.True(t, called, "slot must be released after the holder returns")
}

func TestWithConn_ReleasesOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := New(mock, PoolConfig{MaxConns: 1, BorrowTimeout: 20 * time.Millisecond})
	for i := 0; i < 3; i++ {
		err := s.WithConn(context.Background(), func(db.Querier) error { return assert.AnError })
		assert.ErrorIs(t, err, assert.AnError)
	}
}

func TestWithConn_ContextCancelled(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := New(mock, PoolConfig{MaxConns: 1, BorrowTimeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Fill the only slot so Acquire has to wait on the cancelled context.
	require.NoError(t, s.gate.Acquire(context.Background(), 1))
	defer s.gate.Release(1)

	err = s.WithConn(ctx, func(db.Querier) error { return nil })
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWithTx_Commit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE jobs SET status`).WithArgs("j1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(q db.Querier) error {
		_, err := q.Exec(context.Background(), `UPDATE jobs SET status = 'processed' WHERE id = $1`, "j1")
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollbackOnError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(db.Querier) error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_CommitFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("connection lost"))

	err := s.WithTx(context.Background(), func(db.Querier) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit transaction")
	assert.Equal(t, resilience.KindFatal, resilience.Classify(err))
}

func TestWithTx_BeginFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin().WillReturnError(errors.New("db error"))

	err := s.WithTx(context.Background(), func(db.Querier) error {
		t.Fatal("fn must not run without a transaction")
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin transaction")
}

func TestPing(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`SELECT 1`).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClose_NoPool(t *testing.T) {
	s := &PostgresStore{}
	assert.NoError(t, s.Close())
}
