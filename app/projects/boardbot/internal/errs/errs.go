// Package errs defines the error kinds shared by the dispatch, broker and bot packages.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrTransient = errors.New("transient")
	ErrInvalid   = errors.New("invalid")
	ErrFatal     = errors.New("fatal")
	ErrPlatform  = errors.New("platform error")
)

// Error wraps a cause with its kind and the operation that failed.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%v: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newErr(kind error, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(op, format string, args ...any) error { return newErr(ErrNotFound, op, format, args...) }
func Conflict(op, format string, args ...any) error { return newErr(ErrConflict, op, format, args...) }
func Invalid(op, format string, args ...any) error  { return newErr(ErrInvalid, op, format, args...) }

// Transient marks err as retryable I/O failure.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: ErrTransient, Op: op, Err: err}
}

func Fatal(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: ErrFatal, Op: op, Err: err}
}

func Platform(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: ErrPlatform, Op: op, Err: err}
}

// Wrap attaches kind to err unless err already carries a kind.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func KindOf(err error) error {
	for _, k := range []error{ErrNotFound, ErrConflict, ErrInvalid, ErrTransient, ErrFatal, ErrPlatform} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// HTTPStatus maps an error to the response code surfaced by the API.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrTransient):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}
