// Package index implements components B, C and F of the engine: the
// unique index, the foreign index, and the change-event channel that
// propagates referential-integrity notifications between them.
package index

import (
	"context"

	"github.com/rs/zerolog"

	"gammafour-data/internal/row"
	"gammafour-data/internal/rwlock"
	"gammafour-data/internal/txn"
)

// KeyFunc extracts the indexed key from a row. Add, Remove and Update call
// it only on rows that satisfy the index's FilterFunc; GetKey and
// ForeignIndex.GetParent call it without consulting the filter.
type KeyFunc[K comparable] func(r row.Row) K

// FilterFunc reports whether r belongs in the index at all. The default,
// installed when HasFilter is never called, admits every row.
type FilterFunc func(r row.Row) bool

// undoKind tags the two possible reverse-mutation records a UniqueIndex
// pushes. Tagged records are used instead of closures (per spec.md §9) so
// the stack is inspectable and its entries are not opaque function
// pointers.
type undoKind int

const (
	undoDeleteKey undoKind = iota // reverses an Add: drop the key
	undoInsertRow                 // reverses a Remove: restore key -> row
)

type undoRecord[K comparable] struct {
	kind undoKind
	key  K
	row  row.Row
}

func (u undoRecord[K]) apply(idx *UniqueIndex[K]) {
	switch u.kind {
	case undoDeleteKey:
		delete(idx.rows, u.key)
	case undoInsertRow:
		idx.rows[u.key] = u.row
	}
}

// UniqueIndex is a transactional key -> row map, analogous to a primary
// key. It is safe to share across goroutines only through the reader/
// writer lock it embeds: callers must hold that lock (normally via a
// LockingTransactionScope) before calling any method below.
type UniqueIndex[K comparable] struct {
	*rwlock.Lock

	name     string
	keyFn    KeyFunc[K]
	filterFn FilterFunc
	log      zerolog.Logger

	rows    map[K]row.Row
	undo    []undoRecord[K]
	changed changeChannel
}

// NewUniqueIndex creates an empty, unconfigured index. Call HasIndex (and
// optionally HasFilter) before using it.
func NewUniqueIndex[K comparable](name string, log zerolog.Logger) *UniqueIndex[K] {
	return &UniqueIndex[K]{
		Lock:     rwlock.New(name, log),
		name:     name,
		log:      log,
		filterFn: func(row.Row) bool { return true },
		rows:     make(map[K]row.Row),
	}
}

// HasIndex registers the key function and returns the receiver for
// fluent-style configuration at construction time.
func (idx *UniqueIndex[K]) HasIndex(fn KeyFunc[K]) *UniqueIndex[K] {
	idx.keyFn = fn
	return idx
}

// HasFilter registers the membership predicate and returns the receiver.
func (idx *UniqueIndex[K]) HasFilter(fn FilterFunc) *UniqueIndex[K] {
	idx.filterFn = fn
	return idx
}

// Name returns the index's configured name, used in error messages and
// log fields.
func (idx *UniqueIndex[K]) Name() string { return idx.name }

// Subscribe registers a ForeignIndex (or any other observer) to receive
// every future change event this index publishes.
func (idx *UniqueIndex[K]) Subscribe(s Subscriber) {
	idx.changed.subscribe(s)
}

// Add inserts key(r) -> r if the row passes the filter. It fails with
// DuplicateKeyError if the key is already present.
func (idx *UniqueIndex[K]) Add(r row.Row) error {
	if idx.keyFn == nil {
		return ErrKeyFuncNotSet
	}
	if !idx.filterFn(r) {
		return nil
	}

	key := idx.keyFn(r)
	if _, exists := idx.rows[key]; exists {
		return newDuplicateKey(idx.name, key)
	}

	idx.rows[key] = r
	idx.undo = append(idx.undo, undoRecord[K]{kind: undoDeleteKey, key: key})

	return idx.changed.publish(ChangeEvent{
		Action:     Add,
		Current:    r,
		CurrentKey: key,
	})
}

// Remove deletes key(r) if the row passes the filter and the key is
// present. Removing an absent key is a silent no-op, matching the table's
// tolerance for idempotent deletes.
func (idx *UniqueIndex[K]) Remove(r row.Row) error {
	if idx.keyFn == nil {
		return ErrKeyFuncNotSet
	}
	if !idx.filterFn(r) {
		return nil
	}

	key := idx.keyFn(r)
	existing, exists := idx.rows[key]
	if !exists {
		return nil
	}

	delete(idx.rows, key)
	idx.undo = append(idx.undo, undoRecord[K]{kind: undoInsertRow, key: key, row: existing})

	return idx.changed.publish(ChangeEvent{
		Action:      Delete,
		Previous:    existing,
		PreviousKey: key,
	})
}

// Update moves r from its Previous-version key to its Current-version key.
// If the key has not changed, Update is a no-op: the row's value at rest
// is whatever the caller already mutated in place.
func (idx *UniqueIndex[K]) Update(r row.Row) error {
	if idx.keyFn == nil {
		return ErrKeyFuncNotSet
	}

	previous := r.Version(row.Previous)
	current := r.Version(row.Current)

	previousAdmitted := idx.filterFn(previous)
	currentAdmitted := idx.filterFn(current)

	var previousKey, currentKey K
	if previousAdmitted {
		previousKey = idx.keyFn(previous)
	}
	if currentAdmitted {
		currentKey = idx.keyFn(current)
	}

	if previousAdmitted && currentAdmitted && previousKey == currentKey {
		return nil
	}

	var removed, inserted bool

	if previousAdmitted {
		if existing, exists := idx.rows[previousKey]; exists {
			delete(idx.rows, previousKey)
			idx.undo = append(idx.undo, undoRecord[K]{kind: undoInsertRow, key: previousKey, row: existing})
			removed = true
		}
	}

	if currentAdmitted {
		if _, exists := idx.rows[currentKey]; exists {
			return newDuplicateKey(idx.name, currentKey)
		}
		idx.rows[currentKey] = current
		idx.undo = append(idx.undo, undoRecord[K]{kind: undoDeleteKey, key: currentKey})
		inserted = true
	}

	if !removed && !inserted {
		return nil
	}

	ev := ChangeEvent{Action: Update, Previous: previous, Current: current}
	if removed {
		ev.PreviousKey = previousKey
	}
	if inserted {
		ev.CurrentKey = currentKey
	}
	return idx.changed.publish(ev)
}

// Contains reports whether key is present in the index.
func (idx *UniqueIndex[K]) Contains(key K) bool {
	_, ok := idx.rows[key]
	return ok
}

// Find returns the row stored under key, if any.
func (idx *UniqueIndex[K]) Find(key K) (row.Row, bool) {
	r, ok := idx.rows[key]
	return r, ok
}

// MustFind returns the row stored under key, or RecordNotFoundError.
func (idx *UniqueIndex[K]) MustFind(key K) (row.Row, error) {
	r, ok := idx.rows[key]
	if !ok {
		return nil, newRecordNotFound(idx.name, key)
	}
	return r, nil
}

// GetKey returns r's indexed key.
func (idx *UniqueIndex[K]) GetKey(r row.Row) (K, error) {
	if idx.keyFn == nil {
		var zero K
		return zero, ErrKeyFuncNotSet
	}
	return idx.keyFn(r), nil
}

// Prepare implements txn.Participant. An index with nothing on its undo
// stack made no change this transaction and can be skipped in phase two.
func (idx *UniqueIndex[K]) Prepare(_ context.Context) (txn.Vote, error) {
	if len(idx.undo) == 0 {
		return txn.Done, nil
	}
	return txn.Prepared, nil
}

// Commit implements txn.Participant by discarding the undo stack.
func (idx *UniqueIndex[K]) Commit(_ context.Context) error {
	idx.undo = idx.undo[:0]
	return nil
}

// Rollback implements txn.Participant by applying every undo record in
// LIFO order, making the index's state identical to what it was before
// the transaction began. It does not re-publish a Rollback change event
// (see the Rollback action's doc comment) — any dependent ForeignIndex
// must be enlisted in the same scope to roll back its own state.
func (idx *UniqueIndex[K]) Rollback(_ context.Context) error {
	for i := len(idx.undo) - 1; i >= 0; i-- {
		idx.undo[i].apply(idx)
	}
	idx.undo = idx.undo[:0]
	return nil
}

// InDoubt implements txn.Participant. This engine keeps no durable log to
// recover a prepared-but-uncommitted index from, so an in-doubt outcome is
// always a fatal condition.
func (idx *UniqueIndex[K]) InDoubt(_ context.Context) error {
	panic("index: in-doubt resolution is not supported by the in-memory engine")
}
