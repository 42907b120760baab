package provider

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a provider-boundary failure.
type Kind string

const (
	KindAccessDenied      Kind = "access_denied"
	KindUnavailable       Kind = "provider_unavailable"
	KindInvalidRange      Kind = "invalid_range"
	KindInvalidArgument   Kind = "invalid_argument"
	KindMalformedResponse Kind = "malformed_response"
)

// Sentinels for errors.Is. A MalformedResponse error also matches
// ErrProviderUnavailable.
var (
	ErrAccessDenied        = errors.New("calendar access denied")
	ErrProviderUnavailable = errors.New("calendar provider unavailable")
	ErrInvalidRange        = errors.New("invalid range")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrMalformedResponse   = errors.New("malformed provider response")
)

// Error is a tagged provider failure.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrAccessDenied:
		return e.Kind == KindAccessDenied
	case ErrProviderUnavailable:
		return e.Kind == KindUnavailable || e.Kind == KindMalformedResponse
	case ErrInvalidRange:
		return e.Kind == KindInvalidRange
	case ErrInvalidArgument:
		return e.Kind == KindInvalidArgument
	case ErrMalformedResponse:
		return e.Kind == KindMalformedResponse
	}
	return false
}

// Retryable reports whether a caller may retry once after remediation.
func (e *Error) Retryable() bool {
	return e.Kind == KindUnavailable || e.Kind == KindMalformedResponse
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func AccessDenied(format string, args ...any) *Error {
	return newError(KindAccessDenied, nil, format, args...)
}

func Unavailable(err error, format string, args ...any) *Error {
	return newError(KindUnavailable, err, format, args...)
}

func InvalidRange(format string, args ...any) *Error {
	return newError(KindInvalidRange, nil, format, args...)
}

func InvalidArgument(format string, args ...any) *Error {
	return newError(KindInvalidArgument, nil, format, args...)
}

func Malformed(err error, format string, args ...any) *Error {
	return newError(KindMalformedResponse, err, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain. Untagged
// errors are provider faults and report KindUnavailable.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnavailable
}

// Tag makes sure err carries a Kind. Already-tagged errors are returned
// unchanged; anything else is wrapped as ProviderUnavailable. Context
// cancellation is passed through untouched so callers can tell an
// abandoned request from a failed one.
func Tag(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return Unavailable(err, "%s", op)
}
