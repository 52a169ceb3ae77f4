package index

import (
	"context"

	"github.com/rs/zerolog"

	"gammafour-data/internal/row"
	"gammafour-data/internal/rwlock"
	"gammafour-data/internal/txn"
)

type foreignUndoKind int

const (
	foreignUndoRemove foreignUndoKind = iota // reverses an Add: drop r from bucket[key]
	foreignUndoAdd                           // reverses a Remove: restore r into bucket[key]
)

type foreignUndoRecord[K comparable] struct {
	kind foreignUndoKind
	key  K
	r    row.Row
}

func (u foreignUndoRecord[K]) apply(idx *ForeignIndex[K]) {
	switch u.kind {
	case foreignUndoRemove:
		idx.removeFromBucket(u.key, u.r)
	case foreignUndoAdd:
		idx.addToBucket(u.key, u.r)
	}
}

// ForeignIndex is a transactional key -> set-of-rows map whose keys are
// required to exist in a designated parent UniqueIndex. It subscribes to
// the parent's change channel for the lifetime of the process and aborts
// any parent mutation that would orphan one of its own rows.
type ForeignIndex[K comparable] struct {
	*rwlock.Lock

	name     string
	keyFn    KeyFunc[K]
	filterFn FilterFunc
	log      zerolog.Logger

	parent *UniqueIndex[K]
	rows   map[K]map[row.Row]struct{}
	undo   []foreignUndoRecord[K]
}

// NewForeignIndex creates an index tied to parent and subscribes it to
// the parent's change channel. Call HasIndex (and optionally HasFilter)
// before using it.
func NewForeignIndex[K comparable](name string, parent *UniqueIndex[K], log zerolog.Logger) *ForeignIndex[K] {
	fi := &ForeignIndex[K]{
		Lock:     rwlock.New(name, log),
		name:     name,
		log:      log,
		filterFn: func(row.Row) bool { return true },
		parent:   parent,
		rows:     make(map[K]map[row.Row]struct{}),
	}
	parent.Subscribe(fi.onParentChanged)
	return fi
}

// HasIndex registers the key function and returns the receiver for
// fluent-style configuration.
func (idx *ForeignIndex[K]) HasIndex(fn KeyFunc[K]) *ForeignIndex[K] {
	idx.keyFn = fn
	return idx
}

// HasFilter registers the membership predicate and returns the receiver.
func (idx *ForeignIndex[K]) HasFilter(fn FilterFunc) *ForeignIndex[K] {
	idx.filterFn = fn
	return idx
}

// Name returns the index's configured name.
func (idx *ForeignIndex[K]) Name() string { return idx.name }

func (idx *ForeignIndex[K]) addToBucket(key K, r row.Row) {
	bucket, ok := idx.rows[key]
	if !ok {
		bucket = make(map[row.Row]struct{})
		idx.rows[key] = bucket
	}
	bucket[r] = struct{}{}
}

func (idx *ForeignIndex[K]) removeFromBucket(key K, r row.Row) {
	bucket, ok := idx.rows[key]
	if !ok {
		return
	}
	delete(bucket, r)
	if len(bucket) == 0 {
		delete(idx.rows, key)
	}
}

// onParentChanged is invoked synchronously, in the parent's mutating
// goroutine, whenever the parent UniqueIndex publishes a change event. A
// Delete or key-changing Update of a key this foreign index still has
// children under is rejected: the parent mutation must not be allowed to
// orphan rows that reference it.
func (idx *ForeignIndex[K]) onParentChanged(ev ChangeEvent) error {
	if ev.Action != Delete && ev.Action != Update {
		return nil
	}
	key, ok := ev.PreviousKey.(K)
	if !ok {
		return nil
	}
	if bucket, exists := idx.rows[key]; exists && len(bucket) > 0 {
		op := "delete"
		if ev.Action == Update {
			op = "update"
		}
		return newConstraintViolation(op, idx.name)
	}
	return nil
}

// Add inserts r into the bucket for key(r) if r passes the filter. It
// fails with MissingParentKeyError if the parent index does not contain
// that key, or DuplicateKeyError if r is already in the bucket.
func (idx *ForeignIndex[K]) Add(r row.Row) error {
	if idx.keyFn == nil {
		return ErrKeyFuncNotSet
	}
	if !idx.filterFn(r) {
		return nil
	}

	key := idx.keyFn(r)
	if !idx.parent.Contains(key) {
		return newMissingParentKey(idx.name, key)
	}
	if bucket, exists := idx.rows[key]; exists {
		if _, already := bucket[r]; already {
			return newDuplicateKey(idx.name, key)
		}
	}

	idx.addToBucket(key, r)
	idx.undo = append(idx.undo, foreignUndoRecord[K]{kind: foreignUndoRemove, key: key, r: r})
	return nil
}

// Remove deletes r from the bucket for key(r) if r passes the filter and
// is present. Removing an absent row is a silent no-op.
func (idx *ForeignIndex[K]) Remove(r row.Row) error {
	if idx.keyFn == nil {
		return ErrKeyFuncNotSet
	}
	if !idx.filterFn(r) {
		return nil
	}

	key := idx.keyFn(r)
	bucket, exists := idx.rows[key]
	if !exists {
		return nil
	}
	if _, present := bucket[r]; !present {
		return nil
	}

	idx.removeFromBucket(key, r)
	idx.undo = append(idx.undo, foreignUndoRecord[K]{kind: foreignUndoAdd, key: key, r: r})
	return nil
}

// Update moves r from its Previous-version bucket to its Current-version
// bucket when the key has changed.
func (idx *ForeignIndex[K]) Update(r row.Row) error {
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

	if previousAdmitted {
		if bucket, exists := idx.rows[previousKey]; exists {
			if _, present := bucket[r]; present {
				idx.removeFromBucket(previousKey, r)
				idx.undo = append(idx.undo, foreignUndoRecord[K]{kind: foreignUndoAdd, key: previousKey, r: r})
			}
		}
	}

	if currentAdmitted {
		if !idx.parent.Contains(currentKey) {
			return newMissingParentKey(idx.name, currentKey)
		}
		if bucket, exists := idx.rows[currentKey]; exists {
			if _, already := bucket[r]; already {
				return newDuplicateKey(idx.name, currentKey)
			}
		}
		idx.addToBucket(currentKey, r)
		idx.undo = append(idx.undo, foreignUndoRecord[K]{kind: foreignUndoRemove, key: currentKey, r: r})
	}

	return nil
}

// GetChildren returns the rows currently indexed under parentRow's key.
func (idx *ForeignIndex[K]) GetChildren(parentRow row.Row) ([]row.Row, error) {
	key, err := idx.parent.GetKey(parentRow)
	if err != nil {
		return nil, err
	}
	bucket, ok := idx.rows[key]
	if !ok {
		return nil, nil
	}
	out := make([]row.Row, 0, len(bucket))
	for r := range bucket {
		out = append(out, r)
	}
	return out, nil
}

// GetParent returns the row in the parent UniqueIndex whose key matches
// childRow's indexed key, if any.
func (idx *ForeignIndex[K]) GetParent(childRow row.Row) (row.Row, bool) {
	if idx.keyFn == nil {
		return nil, false
	}
	return idx.parent.Find(idx.keyFn(childRow))
}

// HasParent reports whether childRow is either not indexed here (filter
// rejects it) or has a corresponding parent row.
func (idx *ForeignIndex[K]) HasParent(childRow row.Row) bool {
	if !idx.filterFn(childRow) {
		return true
	}
	_, ok := idx.GetParent(childRow)
	return ok
}

// Prepare implements txn.Participant.
func (idx *ForeignIndex[K]) Prepare(_ context.Context) (txn.Vote, error) {
	if len(idx.undo) == 0 {
		return txn.Done, nil
	}
	return txn.Prepared, nil
}

// Commit implements txn.Participant by discarding the undo stack.
func (idx *ForeignIndex[K]) Commit(_ context.Context) error {
	idx.undo = idx.undo[:0]
	return nil
}

// Rollback implements txn.Participant by applying every undo record in
// LIFO order.
func (idx *ForeignIndex[K]) Rollback(_ context.Context) error {
	for i := len(idx.undo) - 1; i >= 0; i-- {
		idx.undo[i].apply(idx)
	}
	idx.undo = idx.undo[:0]
	return nil
}

// InDoubt implements txn.Participant; see UniqueIndex.InDoubt.
func (idx *ForeignIndex[K]) InDoubt(_ context.Context) error {
	panic("index: in-doubt resolution is not supported by the in-memory engine")
}
