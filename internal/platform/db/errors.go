package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrDataUnavailable marks a failure to reach reference data. Callers must
// treat it as "could not check", never as "checked, nothing found".
var ErrDataUnavailable = errors.New("reference data unavailable")

// ErrNotFound is returned by single-row lookups that matched nothing.
var ErrNotFound = errors.New("not found")

// UnavailableError wraps a port failure with the operation that hit it.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrDataUnavailable, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrDataUnavailable) match without losing the cause.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrDataUnavailable
}

// Unavailable wraps err as a data-unavailable failure of op. Nil stays nil and
// already-wrapped errors are returned as is.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDataUnavailable) {
		return err
	}
	return &UnavailableError{Op: op, Err: err}
}

// IsUnavailable reports whether err is a data-unavailable failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrDataUnavailable)
}

// Lookup classifies the error of a single-row read: no rows becomes
// ErrNotFound, anything else is a data-unavailable failure of op.
func Lookup(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return Unavailable(op, err)
}
