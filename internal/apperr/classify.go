package apperr

import (
	"context"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	mysqlDuplicateEntry  = 1062
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213

	pgUniqueViolation   = "23505"
	pgLockNotAvailable  = "55P03"
	pgDeadlockDetected  = "40P01"
	pgSerializationFail = "40001"
)

// IsUniqueViolation reports whether err is a duplicate-key error from any of
// the supported drivers.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	// sqlite reports constraint failures as plain text
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsLockConflict reports whether err means a row lock could not be obtained
// in time, including deadlock victims.
func IsLockConflict(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlLockWaitTimeout || myErr.Number == mysqlDeadlock
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgDeadlockDetected, pgSerializationFail:
			return true
		}
	}
	return strings.Contains(err.Error(), "database is locked")
}

// FromStorage maps a driver error to the taxonomy. Errors that already belong
// to the taxonomy pass through untouched.
func FromStorage(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || IsLockConflict(err) {
		return ErrLockTimeout.Wrap(err)
	}
	return ErrStorageFailure.Wrap(err)
}
