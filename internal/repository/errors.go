package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrConflict means the transaction could not commit due to contention
	// (serialization failure or deadlock). The caller retries with backoff.
	ErrConflict = errors.New("conflict")
)

// isRetryable reports whether err is a Postgres serialization failure or
// deadlock. Callers map it to ErrConflict.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// isUniqueViolation reports a duplicate-key insert (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
