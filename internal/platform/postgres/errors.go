package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/siphomateke/zra-helper-sub001/internal/store"
)

// constraintViolations maps the PostgreSQL integrity error codes that
// task_nodes can raise onto store sentinels.
var constraintViolations = map[string]struct {
	sentinel error
	kind     string
}{
	"23505": {store.ErrDuplicate, "unique violation"},
	"23503": {store.ErrInvalidEntity, "foreign key violation"},
	"23514": {store.ErrInvalidEntity, "check constraint violation"},
	"23502": {store.ErrInvalidEntity, "not null violation"},
}

// MapError translates a database error into a store sentinel while keeping
// the driver error in the message. Errors without a mapping are returned
// unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	violation, ok := constraintViolations[pgErr.Code]
	if !ok {
		return err
	}
	subject := pgErr.ConstraintName
	if subject == "" {
		subject = pgErr.ColumnName
	}
	return fmt.Errorf("%w: %s (%s): %v", violation.sentinel, violation.kind, subject, err)
}

// IsNotFoundError reports whether err means the row does not exist, either
// straight from database/sql or already mapped to store.ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || store.IsNotFoundError(err)
}
