// Package status defines the error taxonomy shared across the engine:
// NotFound, Corruption, IOError, NotSupported, InvalidArgument, and OK.
package status

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a Status the way the client-facing API distinguishes
// failures from one another.
type Kind int

const (
	OK Kind = iota
	NotFound
	Corruption
	IOError
	NotSupported
	InvalidArgument
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case NotFound:
		return "not found"
	case Corruption:
		return "corruption"
	case IOError:
		return "IO error"
	case NotSupported:
		return "not supported"
	case InvalidArgument:
		return "invalid argument"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned across package boundaries.
// It carries a Kind so callers can branch on taxonomy (status.Is) without
// string matching, while still behaving like a normal wrapped error.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the taxonomy of err, or OK if err is nil, or IOError if
// err is a plain error not produced by this package.
func KindOf(err error) Kind {
	if err == nil {
		return OK
	}
	var se *Error
	if errors.As(err, &se) {
		return se.kind
	}
	return IOError
}

func Is(err error, kind Kind) bool { return KindOf(err) == kind }

func newf(kind Kind, cause error, format string, args ...any) error {
	return errors.WithStack(&Error{kind: kind, msg: fmt.Sprintf(format, args...), err: cause})
}

func NotFoundf(format string, args ...any) error { return newf(NotFound, nil, format, args...) }

func Corruptionf(format string, args ...any) error { return newf(Corruption, nil, format, args...) }

func IOErrorf(cause error, format string, args ...any) error {
	return newf(IOError, cause, format, args...)
}

func NotSupportedf(format string, args ...any) error {
	return newf(NotSupported, nil, format, args...)
}

func InvalidArgumentf(format string, args ...any) error {
	return newf(InvalidArgument, nil, format, args...)
}

// WrapIO classifies an opaque filesystem error as IOError, preserving
// the original error via Unwrap/errors.Cause.
func WrapIO(err error, context string) error {
	if err == nil {
		return nil
	}
	return newf(IOError, err, "%s", context)
}
