// Package store persists canonical job records in Postgres behind a
// fixed-size, timeout-bounded connection gate.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/jobstore/internal/db"
	"github.com/sells-group/jobstore/internal/model"
)

var (
	// ErrNotFound is returned when no row has the requested id.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a status update would move a
	// record backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrUnknownField is returned when UpdateFields names a column that is
	// not caller-mutable.
	ErrUnknownField = errors.New("field is not updatable")
	// ErrConflict is returned when an update would give a record the same
	// match key as another live record.
	ErrConflict = errors.New("another live job has the same match key")
)

// Store defines the persistence interface shared by ingestion, the merge
// pass, the query layer and the HTTP API.
type Store interface {
	// Borrowing
	WithConn(ctx context.Context, fn func(q db.Querier) error) error
	WithTx(ctx context.Context, fn func(q db.Querier) error) error

	// Jobs
	Insert(ctx context.Context, q db.Querier, r *model.JobRecord) error
	GetJob(ctx context.Context, id string) (*model.JobRecord, error)
	UpdateFields(ctx context.Context, id string, fields map[string]any) (*model.JobRecord, error)
	DeleteJob(ctx context.Context, id string) (int64, error)
	SweepOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Merge pass
	ListLive(ctx context.Context) ([]model.JobRecord, error)
	ApplyMerge(ctx context.Context, q db.Querier, merged *model.JobRecord, absorbed []string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
