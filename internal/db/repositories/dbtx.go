// dbtx.go defines the query surface shared by *sql.DB, *sql.Tx and *sqlx.Tx so every
// repository can run either standalone or inside a caller-owned transaction.
package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// DBTX is satisfied by *sql.DB, *sql.Tx, *sqlx.DB and *sqlx.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation
const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint violation,
// optionally restricted to a named constraint or index.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// invalidTextRepresentation is raised when a value such as a malformed UUID
// cannot be cast to the column type
const invalidTextRepresentation = "22P02"

// IsInvalidInput reports whether PostgreSQL rejected a query argument as
// unparseable for its column type.
func IsInvalidInput(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == invalidTextRepresentation
}
