package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/jobstore/internal/db"
	"github.com/sells-group/jobstore/internal/resilience"
)

// PostgresStore implements Store using pgxpool. Every borrow goes through a
// weighted semaphore sized to the pool so callers wait at most BorrowTimeout
// instead of queueing inside pgxpool indefinitely.
type PostgresStore struct {
	pool          db.Pool
	gate          *semaphore.Weighted
	borrowTimeout time.Duration
	closeFn       func()
}

// PoolConfig holds connection pool sizing and borrow behavior.
type PoolConfig struct {
	MaxConns      int32         `yaml:"max_conns" mapstructure:"pool_size"`
	MinConns      int32         `yaml:"min_conns" mapstructure:"min_conns"`
	BorrowTimeout time.Duration `yaml:"borrow_timeout" mapstructure:"-"`
}

const (
	defaultMaxConns      = int32(5)
	defaultBorrowTimeout = 5 * time.Second
)

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxConns <= 0 {
		c.MaxConns = defaultMaxConns
	}
	if c.MinConns < 0 || c.MinConns > c.MaxConns {
		c.MinConns = 0
	}
	if c.BorrowTimeout <= 0 {
		c.BorrowTimeout = defaultBorrowTimeout
	}
	return c
}

// NewPostgres creates a PostgresStore with a connection pool of exactly
// cfg.MaxConns connections.
func NewPostgres(ctx context.Context, connString string, cfg PoolConfig) (*PostgresStore, error) {
	cfg = cfg.withDefaults()

	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = cfg.MaxConns
	pgxCfg.MinConns = cfg.MinConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	zap.L().Debug("postgres: pool ready",
		zap.Int32("max_conns", cfg.MaxConns),
		zap.Duration("borrow_timeout", cfg.BorrowTimeout),
	)

	s := New(pool, cfg)
	s.closeFn = pool.Close
	return s, nil
}

// New wraps an existing pool. Used by NewPostgres and by tests with pgxmock.
func New(pool db.Pool, cfg PoolConfig) *PostgresStore {
	cfg = cfg.withDefaults()
	return &PostgresStore{
		pool:          pool,
		gate:          semaphore.NewWeighted(int64(cfg.MaxConns)),
		borrowTimeout: cfg.BorrowTimeout,
	}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// borrow takes one slot from the gate, waiting at most borrowTimeout. The
// returned release func must be called exactly once.
func (s *PostgresStore) borrow(ctx context.Context) (func(), error) {
	bctx, cancel := context.WithTimeout(ctx, s.borrowTimeout)
	defer cancel()

	if err := s.gate.Acquire(bctx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "postgres: borrow connection")
		}
		return nil, resilience.NewTransientError(
			eris.Wrapf(resilience.ErrPoolExhausted, "postgres: no connection within %s", s.borrowTimeout), 0)
	}
	return func() { s.gate.Release(1) }, nil
}

// WithConn runs fn with a borrowed, non-transactional handle.
func (s *PostgresStore) WithConn(ctx context.Context, fn func(q db.Querier) error) error {
	release, err := s.borrow(ctx)
	if err != nil {
		return err
	}
	defer release()

	return fn(s.pool)
}

// WithTx runs fn inside a transaction on a borrowed connection. The
// transaction commits when fn returns nil and rolls back otherwise.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(q db.Querier) error) error {
	release, err := s.borrow(ctx)
	if err != nil {
		return err
	}
	defer release()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit transaction")
}

// Ping verifies the store is reachable through the gate.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.WithConn(ctx, func(q db.Querier) error {
		_, err := q.Exec(ctx, "SELECT 1")
		return eris.Wrap(err, "postgres: ping")
	})
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
