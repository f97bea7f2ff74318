package operations

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCancelled is the root of every cancellation flavored error.
	ErrCancelled = errors.New("cancelled")

	// ErrActivityCancelled is synthesized by Operation.Run when the host monitor reports
	// cancellation and the body did not report a cancellation of its own.
	ErrActivityCancelled = fmt.Errorf("activity %w", ErrCancelled)

	// ErrOperationCancelled is returned to the version-control client to make it abort an
	// in-flight call, and is the error such a client reports once it has aborted.
	ErrOperationCancelled = fmt.Errorf("operation %w", ErrCancelled)
)

// cancelledError tags an arbitrary error as a cancellation.
type cancelledError struct{ err error }

func (e *cancelledError) Error() string { return e.err.Error() }
func (e *cancelledError) Unwrap() error { return e.err }

// unreportableError tags an error that is logged but never alerted to the user.
type unreportableError struct{ err error }

func (e *unreportableError) Error() string { return e.err.Error() }
func (e *unreportableError) Unwrap() error { return e.err }

// hiddenError tags an error that is neither alerted nor logged.
type hiddenError struct{ err error }

func (e *hiddenError) Error() string { return e.err.Error() }
func (e *hiddenError) Unwrap() error { return e.err }

// panicError wraps a value recovered from a panicking operation body.
type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

// NewCancelledError tags err as a cancellation, e.g. the cancel exception of a client library.
// Cancellations are rendered as "cancelled" on the console and never logged.
func NewCancelledError(err error) error {
	if err == nil {
		return ErrCancelled
	}

	return &cancelledError{err: err}
}

// NewUnreportableError tags err as unreportable: it still becomes an ERROR status and is
// logged, but must not trigger a user facing alert.
func NewUnreportableError(err error) error {
	return &unreportableError{err: err}
}

// NewHiddenError tags err as hidden: it becomes an ERROR status but is filtered from the
// persistent log.
func NewHiddenError(err error) error {
	return &hiddenError{err: err}
}

// IsCancellation reports whether err is cancellation flavored.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	var ce *cancelledError

	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) || errors.As(err, &ce)
}

// ClassifyFailure maps an error onto its FailureKind. Cancellation takes precedence over the
// other markers so that a cancelled hidden step is still rendered as cancelled.
func ClassifyFailure(err error) FailureKind {
	if err == nil {
		return KindReportable
	}
	if IsCancellation(err) {
		return KindCancelled
	}

	var he *hiddenError
	if errors.As(err, &he) {
		return KindHidden
	}

	var ue *unreportableError
	if errors.As(err, &ue) {
		return KindUnreportable
	}

	return KindReportable
}
