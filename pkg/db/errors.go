package db

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

func pgCode(err error) (string, string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName, true
	}
	return "", "", false
}

// IsUniqueViolation reports whether err is a unique violation, optionally on
// the named constraint. SQLite errors are matched on their message text.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if code, constraint, ok := pgCode(err); ok {
		if code != pgerrcode.UniqueViolation {
			return false
		}
		return constraintName == "" || constraint == constraintName
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") && !strings.Contains(msg, "duplicate key value") {
		return false
	}
	return constraintName == "" || strings.Contains(msg, constraintName)
}

// IsLockTimeout reports whether the store gave up waiting for a row lock.
func IsLockTimeout(err error) bool {
	if err == nil {
		return false
	}
	if code, _, ok := pgCode(err); ok {
		return code == pgerrcode.LockNotAvailable || code == pgerrcode.QueryCanceled
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsSerializationFailure covers serialization and deadlock aborts.
func IsSerializationFailure(err error) bool {
	code, _, ok := pgCode(err)
	return ok && (code == pgerrcode.SerializationFailure || code == pgerrcode.DeadlockDetected)
}

// IsCheckViolation reports a CHECK constraint rejection.
func IsCheckViolation(err error) bool {
	if err == nil {
		return false
	}
	if code, _, ok := pgCode(err); ok {
		return code == pgerrcode.CheckViolation
	}
	return strings.Contains(err.Error(), "CHECK constraint failed")
}

// IsTransient reports store failures a client may retry.
func IsTransient(err error) bool {
	return IsLockTimeout(err) || IsSerializationFailure(err) || errors.Is(err, context.DeadlineExceeded)
}
