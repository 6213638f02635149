package worker

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// isDataError reports whether PostgreSQL rejected the row itself. Such rows
// will never succeed and are dropped instead of requeued. Class 22 is data
// exception and class 23 is integrity constraint violation.
func isDataError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return len(pgErr.Code) == 5 && (pgErr.Code[:2] == "22" || pgErr.Code[:2] == "23")
}
