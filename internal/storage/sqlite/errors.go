package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shawkridge/athena/internal/apperr"
)

// wrapDBError converts sql.ErrNoRows to apperr.ErrNotFound and attaches
// operation context.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
	}
	if isUniqueConstraint(err) {
		return fmt.Errorf("%s: %w", op, apperr.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, apperr.Wrap("sqlite", err))
}

// isUniqueConstraint checks for a SQLite unique-constraint violation by
// message text, the only portable signal available without importing
// the driver's internal error codes.
func isUniqueConstraint(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
