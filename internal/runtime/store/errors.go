package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// DuplicateParticipantError reports a create for a phone number that is
// already stored.
type DuplicateParticipantError struct {
	PhoneNumber int64
	Err         error
}

func (e *DuplicateParticipantError) Error() string {
	return fmt.Sprintf("participant with phone number %d already exists", e.PhoneNumber)
}

func (e *DuplicateParticipantError) Unwrap() error { return e.Err }

// StoreUnavailableError reports a lost or unreachable connection. The
// operation may be retried once the store is reachable again.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("participant store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// IsDuplicate reports whether err is or wraps a *DuplicateParticipantError.
func IsDuplicate(err error) bool {
	var dup *DuplicateParticipantError
	return errors.As(err, &dup)
}

// IsUnavailable reports whether err is or wraps a *StoreUnavailableError.
func IsUnavailable(err error) bool {
	var unavailable *StoreUnavailableError
	return errors.As(err, &unavailable)
}

const (
	pgUniqueViolation       = "23505"
	pgConnectionClass       = "08"
	pgAdminShutdown         = "57P01"
	pgCrashShutdown         = "57P02"
	pgCannotConnectNow      = "57P03"
	pgInsufficientResources = "53"
)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isConnectionLoss(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return isUnavailableSQLState(string(pqErr.Code))
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return isUnavailableSQLState(pgErr.Code)
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrNotADB:
			return true
		}
	}
	return false
}

func isUnavailableSQLState(code string) bool {
	switch {
	case len(code) >= 2 && code[:2] == pgConnectionClass:
		return true
	case len(code) >= 2 && code[:2] == pgInsufficientResources:
		return true
	case code == pgAdminShutdown, code == pgCrashShutdown, code == pgCannotConnectNow:
		return true
	}
	return false
}

// classify maps driver errors onto the store's error types.
func classify(op string, phoneNumber int64, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	case isUniqueViolation(err):
		return &DuplicateParticipantError{PhoneNumber: phoneNumber, Err: err}
	case isConnectionLoss(err):
		return &StoreUnavailableError{Op: op, Err: err}
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
