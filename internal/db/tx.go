package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Savepoint runs fn inside a named savepoint on q. When fn fails the
// savepoint is rolled back so the enclosing transaction stays usable; the
// original error is returned. If the rollback itself fails the transaction
// is unusable and a wrapped rollback error is returned instead.
func Savepoint(ctx context.Context, q Querier, name string, fn func() error) error {
	ident := pgx.Identifier{name}.Sanitize()
	if _, err := q.Exec(ctx, "SAVEPOINT "+ident); err != nil {
		return eris.Wrapf(err, "db: savepoint %s", name)
	}

	if err := fn(); err != nil {
		if _, rbErr := q.Exec(ctx, "ROLLBACK TO SAVEPOINT "+ident); rbErr != nil {
			return eris.Wrapf(rbErr, "db: rollback to savepoint %s", name)
		}
		return err
	}

	if _, err := q.Exec(ctx, "RELEASE SAVEPOINT "+ident); err != nil {
		return eris.Wrapf(err, "db: release savepoint %s", name)
	}
	return nil
}

// IsUniqueViolation reports whether err is a Postgres unique_violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// IsStatementError reports whether err was raised by the server for a single
// statement (constraint, data or syntax error). Such errors leave the
// connection healthy; anything else (closed connection, network failure) does not.
func IsStatementError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
