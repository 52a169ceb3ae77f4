package index

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrConstraintAbort is the sentinel that ConstraintViolationError unwraps
// to; ForeignIndex returns that error from its change subscriber to abort
// the mutation that triggered the event. Any other error returned by a
// subscriber also aborts the mutation, but only ConstraintViolationError
// carries the structured fields callers expect to inspect.
var ErrConstraintAbort = errors.New("index: constraint violation")

// DuplicateKeyError is returned by UniqueIndex.Add/Update when the row's
// key is already present, and by ForeignIndex.Add/Update when the
// same row is already present in the target bucket.
type DuplicateKeyError struct {
	IndexName string
	Key       interface{}
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("index %q: duplicate key %v", e.IndexName, e.Key)
}

func newDuplicateKey(indexName string, key interface{}) error {
	return errors.WithStack(&DuplicateKeyError{IndexName: indexName, Key: key})
}

// MissingParentKeyError is returned by ForeignIndex.Add/Update when the
// child row's key is not present in the parent UniqueIndex.
type MissingParentKeyError struct {
	IndexName string
	Key       interface{}
}

func (e *MissingParentKeyError) Error() string {
	return fmt.Sprintf("index %q: key %v not found in parent unique index", e.IndexName, e.Key)
}

func newMissingParentKey(indexName string, key interface{}) error {
	return errors.WithStack(&MissingParentKeyError{IndexName: indexName, Key: key})
}

// ConstraintViolationError is raised when a parent UniqueIndex mutation
// (Delete, or an Update that changes the key) would orphan one or more
// rows still present in a dependent ForeignIndex.
type ConstraintViolationError struct {
	Operation string
	IndexName string
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("index %q: cannot %s, rows depend on this key", e.IndexName, e.Operation)
}

func (e *ConstraintViolationError) Unwrap() error { return ErrConstraintAbort }

func newConstraintViolation(op, indexName string) error {
	return errors.WithStack(&ConstraintViolationError{Operation: op, IndexName: indexName})
}

// RecordNotFoundError is returned by find-by-key variants that must
// succeed rather than report absence via a boolean.
type RecordNotFoundError struct {
	TableName string
	Key       interface{}
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("table %q: record %v not found", e.TableName, e.Key)
}

func newRecordNotFound(tableName string, key interface{}) error {
	return errors.WithStack(&RecordNotFoundError{TableName: tableName, Key: key})
}

// ErrKeyFuncNotSet is returned by any index operation when HasIndex was
// never called to register a key function.
var ErrKeyFuncNotSet = errors.New("index: key function not set")
