package rwlock

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Infinite and Try are the two distinguished timeout values from spec: -1
// blocks forever, 0 attempts a single non-blocking acquisition.
const (
	Infinite = -1
	Try      = 0
)

// writerState is the per-writer bookkeeping attached to whichever writer is
// either active or has just been admitted and is draining readers. It is
// reused across back-to-back writers so that readers who queued behind the
// first writer stay queued behind every writer already ahead of them,
// preserving writer priority.
type writerState struct {
	isActive bool

	// readerGate is closed, releasing every reader queued behind this
	// writer chain at once, when a writer exits with no further writer
	// waiting. A closed channel is the idiomatic Go analogue of
	// releasing a counting semaphore N times: every receiver wakes
	// together instead of being signaled one at a time.
	readerGate chan struct{}
	waiters    int
}

// Lock is the asynchronous, writer-priority reader/writer lock described in
// spec.md §4.A. Multiple readers may hold it concurrently, or a single
// writer may hold it exclusively. A writer that arrives while readers are
// active is admitted ahead of any reader that has not yet recorded itself
// as active, so writers never starve behind a continuous stream of
// readers.
type Lock struct {
	name string
	log  zerolog.Logger

	mu             sync.Mutex
	activeReaders  int
	pendingWriters int
	current        *writerState

	// writerGate admits one writer candidate at a time into the
	// "becoming active" critical section below.
	writerGate *semaphore.Weighted
	// drainGate is acquired by an admitted writer that must wait for
	// already-active readers to finish, and released by the last such
	// reader to exit.
	drainGate *semaphore.Weighted
}

// New returns a lock identified by name (used only for log fields).
func New(name string, log zerolog.Logger) *Lock {
	l := &Lock{
		name:       name,
		log:        log,
		writerGate: semaphore.NewWeighted(1),
		drainGate:  semaphore.NewWeighted(1),
	}
	// drainGate starts held, so a draining writer's Acquire blocks until
	// the last reader's Release.
	l.drainGate.TryAcquire(1)
	return l
}

func timeoutToContext(parent context.Context, timeoutMs int) (context.Context, context.CancelFunc, error) {
	if parent == nil {
		parent = context.Background()
	}
	switch {
	case timeoutMs == Infinite:
		ctx, cancel := context.WithCancel(parent)
		return ctx, cancel, nil
	case timeoutMs < Infinite:
		return nil, nil, errors.WithStack(ErrInvalidTimeout)
	default:
		ctx, cancel := context.WithTimeout(parent, time.Duration(timeoutMs)*time.Millisecond)
		return ctx, cancel, nil
	}
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.WithStack(ErrTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return errors.WithStack(ErrCanceled)
	}
	return err
}

// EnterRead blocks the calling goroutine until shared access is granted or
// timeoutMs elapses. timeoutMs follows the -1/0/>0 convention above.
func (l *Lock) EnterRead(timeoutMs int) error {
	ctx, cancel, err := timeoutToContext(nil, timeoutMs)
	if err != nil {
		return err
	}
	defer cancel()
	return l.enterRead(ctx)
}

// EnterReadAsync is the cooperative-suspension counterpart of EnterRead: it
// returns immediately with a channel that receives the eventual result,
// letting the caller's goroutine do other work instead of blocking on the
// acquisition. Go's goroutines already park cheaply on channel receives, so
// this is implemented by running the same acquisition logic on a fresh
// goroutine rather than via a separate suspend/resume machinery.
func (l *Lock) EnterReadAsync(ctx context.Context, timeoutMs int) <-chan error {
	result := make(chan error, 1)
	waitCtx, cancel, err := timeoutToContext(ctx, timeoutMs)
	if err != nil {
		result <- err
		close(result)
		return result
	}
	go func() {
		defer cancel()
		result <- l.enterRead(waitCtx)
		close(result)
	}()
	return result
}

// TryEnterRead attempts shared access without blocking and reports whether
// it succeeded.
func (l *Lock) TryEnterRead() (bool, error) {
	err := l.EnterRead(Try)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrTimeout) {
		return false, nil
	}
	return false, err
}

func (l *Lock) enterRead(ctx context.Context) error {
	l.mu.Lock()
	if l.current == nil {
		l.activeReaders++
		l.mu.Unlock()
		l.log.Debug().Str("lock", l.name).Msg("reader admitted immediately")
		return nil
	}

	ws := l.current
	if ws.readerGate == nil {
		ws.readerGate = make(chan struct{})
	}
	ws.waiters++
	gate := ws.readerGate
	l.mu.Unlock()

	select {
	case <-gate:
		l.mu.Lock()
		ws.waiters--
		l.activeReaders++
		l.mu.Unlock()
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		ws.waiters--
		l.mu.Unlock()
		return translate(ctx.Err())
	}
}

// ExitRead releases shared access previously granted by EnterRead or
// EnterReadAsync. Calling it without a matching enter is a programming
// error and returns InvalidStateError.
func (l *Lock) ExitRead() error {
	l.mu.Lock()
	if l.activeReaders == 0 {
		l.mu.Unlock()
		return newInvalidState("ExitRead")
	}
	l.activeReaders--
	mustDrain := l.activeReaders == 0 && l.current != nil && l.current.isActive
	l.mu.Unlock()

	if mustDrain {
		l.drainGate.Release(1)
	}
	return nil
}

// EnterWrite blocks the calling goroutine until exclusive access is
// granted or timeoutMs elapses.
func (l *Lock) EnterWrite(timeoutMs int) error {
	ctx, cancel, err := timeoutToContext(nil, timeoutMs)
	if err != nil {
		return err
	}
	defer cancel()
	return l.enterWrite(ctx)
}

// EnterWriteAsync is the suspending counterpart of EnterWrite; see
// EnterReadAsync for why a goroutine+channel stands in for suspension.
func (l *Lock) EnterWriteAsync(ctx context.Context, timeoutMs int) <-chan error {
	result := make(chan error, 1)
	waitCtx, cancel, err := timeoutToContext(ctx, timeoutMs)
	if err != nil {
		result <- err
		close(result)
		return result
	}
	go func() {
		defer cancel()
		result <- l.enterWrite(waitCtx)
		close(result)
	}()
	return result
}

// TryEnterWrite attempts exclusive access without blocking.
func (l *Lock) TryEnterWrite() (bool, error) {
	err := l.EnterWrite(Try)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrTimeout) {
		return false, nil
	}
	return false, err
}

func (l *Lock) enterWrite(ctx context.Context) error {
	l.mu.Lock()
	l.pendingWriters++
	l.mu.Unlock()

	if !l.writerGate.TryAcquire(1) {
		if err := l.writerGate.Acquire(ctx, 1); err != nil {
			l.mu.Lock()
			l.pendingWriters--
			l.mu.Unlock()
			return translate(err)
		}
	}

	l.mu.Lock()
	l.pendingWriters--
	ws := l.current
	if ws == nil {
		ws = &writerState{}
		l.current = ws
	}
	ws.isActive = true
	needDrain := l.activeReaders > 0
	l.mu.Unlock()

	if !needDrain {
		l.log.Debug().Str("lock", l.name).Msg("writer admitted, no readers to drain")
		return nil
	}

	if err := l.drainGate.Acquire(ctx, 1); err != nil {
		// Rewind: this writer never became the holder. Hand the slot
		// back exactly as exitWrite would, so the lock's state is
		// indistinguishable from this acquisition never happening.
		l.mu.Lock()
		ws.isActive = false
		if l.pendingWriters == 0 {
			l.current = nil
			if ws.readerGate != nil {
				close(ws.readerGate)
			}
		}
		l.mu.Unlock()
		l.writerGate.Release(1)
		return translate(err)
	}

	l.log.Debug().Str("lock", l.name).Msg("writer admitted after draining readers")
	return nil
}

// ExitWrite releases exclusive access previously granted by EnterWrite or
// EnterWriteAsync.
func (l *Lock) ExitWrite() error {
	l.mu.Lock()
	ws := l.current
	if ws == nil || !ws.isActive {
		l.mu.Unlock()
		return newInvalidState("ExitWrite")
	}

	if l.pendingWriters == 0 {
		l.current = nil
		if ws.readerGate != nil {
			close(ws.readerGate)
		}
	} else {
		// Another writer is already queued on writerGate; reuse this
		// state so the readers waiting on ws.readerGate stay queued
		// behind the whole chain of writers, not just this one.
		ws.isActive = false
	}
	l.mu.Unlock()

	l.writerGate.Release(1)
	return nil
}

// IsReadLockHeld and IsWriteLockHeld report coarse hold state for the lock
// as a whole (not per-caller — the lock itself has no notion of caller
// identity). They exist to satisfy the Lockable capability set consumed by
// LockingTransactionScope; see internal/txn.Lockable.
func (l *Lock) IsReadLockHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activeReaders > 0
}

func (l *Lock) IsWriteLockHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current != nil && l.current.isActive
}
