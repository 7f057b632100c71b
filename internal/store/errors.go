package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrConstraint marks a uniqueness, foreign key, check or not-null
	// violation reported by the database.
	ErrConstraint = eris.New("store: constraint violation")
)

const sqliteConstraint = 19 // SQLITE_CONSTRAINT primary result code

// IsConstraint reports whether err is a constraint violation from either
// backend.
func IsConstraint(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConstraint) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 23: integrity constraint violation.
		return len(pgErr.Code) == 5 && pgErr.Code[:2] == "23"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqliteConstraint
	}
	return false
}

// classify wraps err with msg and tags constraint violations with
// ErrConstraint so callers can tell them apart from transport failures.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	if IsConstraint(err) {
		return eris.Wrap(errors.Join(ErrConstraint, err), msg)
	}
	return eris.Wrap(err, msg)
}
