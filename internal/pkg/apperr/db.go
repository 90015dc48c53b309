package apperr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Postgres SQLSTATE codes the services care about.
const (
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
)

// FromDB classifies a storage error. Already classified errors pass through
// unchanged; unknown errors are wrapped with op and stay unclassified.
func FromDB(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != nil {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NotFound(op, "record not found").Wrap(err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgDeadlockDetected, pgSerializationFailure:
			return Conflict(op, "row is locked by a concurrent operation, retry").Wrap(errors.Join(ErrLockContention, err))
		case pgUniqueViolation:
			return Conflict(op, "duplicate %s", pgErr.ConstraintName).Wrap(err)
		case pgCheckViolation:
			return Conflict(op, "constraint %s violated", pgErr.ConstraintName).Wrap(err)
		}
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueMessage(err) {
		return Conflict(op, "duplicate record").Wrap(err)
	}
	if isBusyMessage(err) {
		return Conflict(op, "database is busy, retry").Wrap(errors.Join(ErrLockContention, err))
	}

	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueMessage(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint") || strings.Contains(msg, "unique failed")
}

func isBusyMessage(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}
