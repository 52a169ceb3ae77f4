package txn

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Scope is the LockingTransactionScope from spec.md §4.D: it unifies lock
// acquisition, two-phase-commit enlistment, and cleanup into one object a
// caller constructs, uses, and disposes.
//
// A given Lockable may be acquired at most once per scope, per mode —
// repeat WaitReader/WaitWriter calls for a Lockable already held in that
// mode are no-ops, because the underlying rwlock.Lock is not recursive.
type Scope struct {
	id  uuid.UUID
	log zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	timeoutMs int

	ambient *AmbientTransaction

	readerLocks map[Lockable]struct{}
	writerLocks map[Lockable]struct{}

	completeRequested bool
	disposed          bool
}

// NewScope derives an internal cancellation source whose deadline equals
// timeoutMs (following the -1/0/>0 convention the lock package uses).
func NewScope(timeoutMs int, log zerolog.Logger) *Scope {
	var ctx context.Context
	var cancel context.CancelFunc
	if timeoutMs >= 0 {
		ctx, cancel = context.WithTimeout(context.Background(), time.Duration(timeoutMs)*time.Millisecond)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	return newScope(ctx, cancel, timeoutMs, log)
}

// NewScopeWithContext uses an externally owned cancellation source; the
// scope imposes no deadline of its own. ctx is what Dispose passes to the
// participants' Commit/Rollback callbacks; WaitReader/WaitWriter acquire
// locks with an infinite timeout and are not interrupted when ctx is
// canceled.
func NewScopeWithContext(ctx context.Context, log zerolog.Logger) *Scope {
	return newScope(ctx, func() {}, -1, log)
}

func newScope(ctx context.Context, cancel context.CancelFunc, timeoutMs int, log zerolog.Logger) *Scope {
	return &Scope{
		id:          uuid.New(),
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
		timeoutMs:   timeoutMs,
		ambient:     NewAmbientTransaction(log),
		readerLocks: make(map[Lockable]struct{}),
		writerLocks: make(map[Lockable]struct{}),
	}
}

// WaitReader acquires shared access to lockable, recording it so Dispose
// releases it exactly once. If lockable also implements Participant it is
// enlisted in the scope's ambient transaction. Calling this again for a
// lockable already held as a reader in this scope is a no-op.
func (s *Scope) WaitReader(lockable Lockable) error {
	if _, already := s.readerLocks[lockable]; already {
		return nil
	}
	if err := lockable.EnterRead(s.timeoutMs); err != nil {
		return err
	}
	s.readerLocks[lockable] = struct{}{}
	if p, ok := lockable.(Participant); ok {
		s.ambient.Enlist(p)
	}
	return nil
}

// WaitWriter acquires exclusive access to lockable, recording it so
// Dispose releases it exactly once, and enlists it as a Participant when
// it implements that interface. Repeat calls for a lockable already held
// as a writer in this scope are no-ops.
func (s *Scope) WaitWriter(lockable Lockable) error {
	if _, already := s.writerLocks[lockable]; already {
		return nil
	}
	if err := lockable.EnterWrite(s.timeoutMs); err != nil {
		return err
	}
	s.writerLocks[lockable] = struct{}{}
	if p, ok := lockable.(Participant); ok {
		s.ambient.Enlist(p)
	}
	return nil
}

// WaitReaderAsync is the suspending counterpart of WaitReader: it returns
// immediately with a channel the caller can select on, while the
// acquisition proceeds on its own goroutine.
func (s *Scope) WaitReaderAsync(lockable Lockable) <-chan error {
	result := make(chan error, 1)
	go func() {
		result <- s.WaitReader(lockable)
		close(result)
	}()
	return result
}

// WaitWriterAsync is the suspending counterpart of WaitWriter.
func (s *Scope) WaitWriterAsync(lockable Lockable) <-chan error {
	result := make(chan error, 1)
	go func() {
		result <- s.WaitWriter(lockable)
		close(result)
	}()
	return result
}

// Complete signals that Dispose should commit the ambient transaction
// rather than roll it back. Without a call to Complete, Dispose always
// rolls back.
func (s *Scope) Complete() {
	s.completeRequested = true
}

// Dispose finalizes the ambient transaction — Commit if Complete was
// called, Rollback otherwise — and only then releases every lock this
// scope acquired. That ordering matters: a participant's Commit/Rollback
// callback must observe the same lock state under which its mutations
// occurred, so locks must still be held while the transaction finalizes.
func (s *Scope) Dispose() error {
	if s.disposed {
		return nil
	}
	s.disposed = true
	defer s.cancel()

	var err error
	if s.completeRequested {
		err = s.ambient.Commit(s.ctx)
	} else {
		err = s.ambient.Rollback(s.ctx)
	}

	for lockable := range s.writerLocks {
		if exitErr := lockable.ExitWrite(); exitErr != nil {
			s.log.Warn().Str("scope", s.id.String()).Err(exitErr).Msg("failed to release writer lock on dispose")
		}
	}
	for lockable := range s.readerLocks {
		if exitErr := lockable.ExitRead(); exitErr != nil {
			s.log.Warn().Str("scope", s.id.String()).Err(exitErr).Msg("failed to release reader lock on dispose")
		}
	}

	return err
}
