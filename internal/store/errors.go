package store

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound indicates a missing record lookup.
var ErrNotFound = errors.New("record not found")

// ErrBusy indicates transient lock contention. Callers retry the whole
// logical transaction, never an individual statement.
var ErrBusy = errors.New("database busy")

// ErrNoSpace indicates the database ran out of storage.
var ErrNoSpace = errors.New("database out of space")

// mapError folds driver errors into the package sentinels so callers
// can branch with errors.Is without importing pgx.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			// serialization_failure, deadlock_detected, lock_not_available
			return errors.Join(ErrBusy, err)
		case "53100":
			return errors.Join(ErrNoSpace, err)
		}
	}
	return err
}
