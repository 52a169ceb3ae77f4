// Package rwlock implements the asynchronous reader/writer lock that every
// index in the engine uses to arbitrate concurrent access.
package rwlock

import (
	"github.com/pkg/errors"
)

// Sentinel failures surfaced by the lock. Callers should use errors.Is
// against these rather than comparing error strings.
var (
	// ErrTimeout is returned when a timed acquisition does not succeed
	// before its deadline.
	ErrTimeout = errors.New("rwlock: timed out waiting for lock")

	// ErrCanceled is returned when the context passed to an *Async
	// acquisition is canceled before the lock is granted.
	ErrCanceled = errors.New("rwlock: acquisition canceled")

	// ErrInvalidTimeout is returned for any timeout less than -1.
	ErrInvalidTimeout = errors.New("rwlock: timeout must be -1 (infinite), 0 (try), or positive")

	// ErrNotHeld is returned by ExitRead/ExitWrite when the caller does
	// not currently hold the corresponding lock. This is a programming
	// error: exits must be matched 1:1 with a successful enter.
	ErrNotHeld = errors.New("rwlock: exit called without a matching enter")
)

// InvalidStateError wraps ErrNotHeld with the operation that triggered it,
// so callers get a stack trace on %+v the way the rest of this module's
// errors do.
type InvalidStateError struct {
	Op string
}

func (e *InvalidStateError) Error() string {
	return "rwlock: " + e.Op + ": no matching enter for this exit"
}

func (e *InvalidStateError) Unwrap() error { return ErrNotHeld }

func newInvalidState(op string) error {
	return errors.WithStack(&InvalidStateError{Op: op})
}
