// Package apperr defines the error kinds shared across shopsync components.
package apperr

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	// ErrFetchFailed is a network or HTTP failure; callers may retry.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrInvalidConfig means a config blob failed validation before use.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrExtractor is raised by the pluggable extractor.
	ErrExtractor = errors.New("extractor error")
	// ErrConflictExists means a strict create hit an existing target record.
	ErrConflictExists = errors.New("conflict: record already exists")
	// ErrConstraintViolation means the target store rejected a statement.
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrInvalidFilter is returned for an empty or unusable history filter.
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrNotYetTransferred is returned when a resend has nothing to update.
	ErrNotYetTransferred = errors.New("not yet transferred")
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
)

// Error attaches an operation name and an underlying cause to a kind.
type Error struct {
	Kind error
	Op   string
	Err  error
}

// E builds an *Error. A nil cause is allowed.
func E(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Ef builds an *Error whose cause is a formatted message.
func Ef(kind error, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	default:
		return e.Kind.Error()
	}
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether err is worth retrying with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrFetchFailed)
}

// Kind returns the first known kind in err's chain, or nil.
func Kind(err error) error {
	for _, k := range []error{
		ErrFetchFailed, ErrInvalidConfig, ErrExtractor, ErrConflictExists,
		ErrConstraintViolation, ErrInvalidFilter, ErrNotYetTransferred,
		ErrNotFound, ErrInvalidState,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Message returns the cause text without the kind prefix, for storing in notes.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Err != nil {
		return ae.Err.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
