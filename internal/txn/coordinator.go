package txn

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AmbientTransaction is the minimal two-phase-commit coordinator the
// design notes in spec.md §9 call for when no host-supplied ambient
// transaction facility exists: it calls Prepare on every enlisted
// participant, then, if every Prepare succeeded, Commit on each participant
// that voted Prepared (Done voters are skipped), otherwise Rollback on all
// of them.
type AmbientTransaction struct {
	id  uuid.UUID
	log zerolog.Logger

	mu           sync.Mutex
	participants []Participant
}

// NewAmbientTransaction creates a coordinator with no participants yet
// enlisted.
func NewAmbientTransaction(log zerolog.Logger) *AmbientTransaction {
	return &AmbientTransaction{id: uuid.New(), log: log}
}

// ID returns the coordinator's identifier, used only for log fields.
func (t *AmbientTransaction) ID() uuid.UUID { return t.id }

// Enlist adds p to the set of participants this transaction will drive
// through Prepare/Commit or Rollback. Enlisting the same participant twice
// is a no-op.
func (t *AmbientTransaction) Enlist(p Participant) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, existing := range t.participants {
		if existing == p {
			return
		}
	}
	t.participants = append(t.participants, p)
}

// Commit runs the two-phase protocol: Prepare on every participant, then
// Commit on every participant that voted Prepared (Done voters are
// skipped, matching spec.md §4.B/§4.C). If any Prepare fails, every
// enlisted participant is rolled back instead and the Prepare error is
// returned.
func (t *AmbientTransaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	prepared := make([]Participant, 0, len(t.participants))
	for _, p := range t.participants {
		vote, err := p.Prepare(ctx)
		if err != nil {
			t.log.Debug().Str("txn", t.id.String()).Err(err).Msg("prepare failed, rolling back all participants")
			t.rollbackAllLocked(ctx)
			return err
		}
		if vote == Prepared {
			prepared = append(prepared, p)
		}
	}

	for _, p := range prepared {
		if err := p.Commit(ctx); err != nil {
			// This engine has no durable log to recover from a
			// partially-committed transaction, so a commit failure
			// after a successful prepare is unrecoverable here; the
			// caller's InDoubt hook would be the place a host with
			// real durability plugs in recovery.
			t.log.Error().Str("txn", t.id.String()).Err(err).Msg("commit failed after successful prepare")
			return err
		}
	}

	t.participants = nil
	return nil
}

// Rollback rolls back every enlisted participant without a prepare phase.
// It is what Dispose calls when Complete was never requested.
func (t *AmbientTransaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rollbackAllLocked(ctx)
}

func (t *AmbientTransaction) rollbackAllLocked(ctx context.Context) error {
	var firstErr error
	for _, p := range t.participants {
		if err := p.Rollback(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.participants = nil
	return firstErr
}
