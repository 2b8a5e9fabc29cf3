// Package apperr defines the error kinds shared by the dispatch core and its adapters.
// Callers wrap a kind with detail via fmt.Errorf("%w: ...") and test it with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrNoCandidates = errors.New("no eligible resources")
	ErrInvalidCode  = errors.New("invalid code")
	ErrSettlement   = errors.New("settlement not confirmed")

	// ErrNoBeds is reported when a bed pool has nothing left to hold.
	ErrNoBeds = fmt.Errorf("%w: no beds available", ErrConflict)
)

func Validation(format string, args ...any) error {
	return wrap(ErrValidation, format, args...)
}

func NotFound(format string, args ...any) error {
	return wrap(ErrNotFound, format, args...)
}

func Conflict(format string, args ...any) error {
	return wrap(ErrConflict, format, args...)
}

func Expired(format string, args ...any) error {
	return wrap(ErrExpired, format, args...)
}

func wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
