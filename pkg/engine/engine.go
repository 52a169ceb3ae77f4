// Package engine is the only package generated table/row code is meant to
// import. It exposes the capability set from spec.md §6:
//
//  1. construct/configure a UniqueIndex and attach it to a table;
//  2. construct a ForeignIndex tied to a parent UniqueIndex;
//  3. obtain a LockingTransactionScope, acquire reader/writer access to
//     every index/table/row the scope will touch, mutate, Complete, and
//     Dispose.
//
// Everything here is a thin re-export of internal/index, internal/row, and
// internal/txn — the facade exists so the generated layer never has to
// import "internal/..." packages directly.
package engine

import (
	"context"

	"github.com/rs/zerolog"

	"gammafour-data/internal/index"
	"gammafour-data/internal/row"
	"gammafour-data/internal/txn"
)

// Row, row-version, and table contracts (component E).
type (
	Row     = row.Row
	Version = row.Version
	Table   = row.Table
)

const (
	Original = row.Original
	Previous = row.Previous
	Current  = row.Current
)

// Two-phase-commit and locking contracts shared by every transactional
// component.
type (
	Participant = txn.Participant
	Vote        = txn.Vote
	Lockable    = txn.Lockable
)

const (
	Prepared = txn.Prepared
	Done     = txn.Done
)

// Change-event vocabulary (component F).
type (
	Action      = index.Action
	ChangeEvent = index.ChangeEvent
	Subscriber  = index.Subscriber
)

const (
	Add      = index.Add
	Update   = index.Update
	Delete   = index.Delete
	Rollback = index.Rollback
)

// Error taxonomy (spec.md §7).
type (
	DuplicateKeyError        = index.DuplicateKeyError
	MissingParentKeyError    = index.MissingParentKeyError
	ConstraintViolationError = index.ConstraintViolationError
	RecordNotFoundError      = index.RecordNotFoundError
)

var ErrConstraintAbort = index.ErrConstraintAbort

// UniqueIndex and ForeignIndex re-export the generic index types so
// callers can name them without reaching into internal/index.
type (
	UniqueIndex[K comparable]  = index.UniqueIndex[K]
	ForeignIndex[K comparable] = index.ForeignIndex[K]
	KeyFunc[K comparable]      = index.KeyFunc[K]
	FilterFunc                 = index.FilterFunc
)

// NewUniqueIndex constructs an empty, unconfigured unique index. Call
// HasIndex (and optionally HasFilter) on the result before using it.
func NewUniqueIndex[K comparable](name string, log zerolog.Logger) *UniqueIndex[K] {
	return index.NewUniqueIndex[K](name, log)
}

// NewForeignIndex constructs an index tied to parent and subscribes it to
// the parent's change channel.
func NewForeignIndex[K comparable](name string, parent *UniqueIndex[K], log zerolog.Logger) *ForeignIndex[K] {
	return index.NewForeignIndex[K](name, parent, log)
}

// Scope is the LockingTransactionScope from spec.md §4.D.
type Scope = txn.Scope

// NewScope derives an internal cancellation source whose deadline equals
// timeoutMs.
func NewScope(timeoutMs int, log zerolog.Logger) *Scope {
	return txn.NewScope(timeoutMs, log)
}

// NewScopeWithContext uses an externally owned cancellation source and
// imposes no deadline of its own.
func NewScopeWithContext(ctx context.Context, log zerolog.Logger) *Scope {
	return txn.NewScopeWithContext(ctx, log)
}
