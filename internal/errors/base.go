package errors

import (
	"errors"
	"fmt"

	"mmhedge/pkg/exception"
)

var (
	_ error = (*wrappedError)(nil)
	_ error = (*taggedError)(nil)
)

func New(text string) error {
	return errors.New(text)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func Wrap(err error, text string) error {
	if err == nil {
		return nil
	}

	if len(text) == 0 {
		return err
	}

	return &wrappedError{
		err: err,
		msg: text,
	}
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return Wrap(err, fmt.Sprintf(format, args...))
}

// Tag wraps err with a message and classifies it as kind. Is matches both
// kind and anything err wraps.
func Tag(kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return &taggedError{
		kind: kind,
		err:  err,
		msg:  fmt.Sprintf(format, args...),
	}
}

type wrappedError struct {
	err error
	msg string
}

const sep = ", err: "

func (err wrappedError) Error() string {
	if err.err == nil {
		return err.msg
	}

	return err.msg + sep + err.err.Error()
}

func (err wrappedError) Unwrap() error {
	if err.err == nil {
		return errors.New(err.msg)
	}

	return err.err
}

type taggedError struct {
	kind error
	err  error
	msg  string
}

func (err taggedError) Error() string {
	return err.msg + sep + err.kind.Error() + ": " + err.err.Error()
}

func (err taggedError) Unwrap() []error {
	return []error{err.kind, err.err}
}

// Kind names the taxonomy bucket an error belongs to, "unknown" otherwise.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, exception.ErrInvalidBook):
		return "invalid_book"
	case errors.Is(err, exception.ErrInvalidStrategyParams):
		return "invalid_strategy_params"
	case errors.Is(err, exception.ErrReconciliation):
		return "reconciliation"
	case errors.Is(err, exception.ErrFillStream):
		return "fill_stream"
	case errors.Is(err, exception.ErrHedgeSubmission):
		return "hedge_submission"
	case errors.Is(err, exception.ErrVenueAuth):
		return "venue_auth"
	case errors.Is(err, exception.ErrSetup):
		return "setup"
	default:
		return "unknown"
	}
}

// Fatal reports whether err must stop the owning trader loop.
func Fatal(err error) bool {
	return errors.Is(err, exception.ErrVenueAuth) ||
		errors.Is(err, exception.ErrInvalidStrategyParams) ||
		errors.Is(err, exception.ErrSetup)
}
