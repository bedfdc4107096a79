package store

import (
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/zonestats/internal/resilience"
)

// ErrUnavailable marks failures to reach the document store, as opposed to
// queries that succeeded and found nothing.
var ErrUnavailable = eris.New("store unavailable")

// UnavailableError carries the failing operation and its cause. It matches
// both ErrUnavailable and the cause under errors.Is.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return "store unavailable: " + e.Op + ": " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() []error {
	return []error{ErrUnavailable, e.Err}
}

// Unavailable classifies err as a store connectivity failure for op.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return err
	}
	return &UnavailableError{Op: op, Err: err}
}

// IsUnavailable reports whether err is a store connectivity failure,
// including rejections by an open circuit breaker.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, resilience.ErrCircuitOpen)
}

// Classify marks err as unavailability when it is a connectivity failure,
// a timeout or an open-circuit rejection. Other errors are wrapped with op
// and stay distinguishable from an unreachable store.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsUnavailable(err) || resilience.IsTransient(err) {
		return Unavailable(op, err)
	}
	return eris.Wrapf(err, "store: %s", op)
}
