package index_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gammafour-data/internal/index"
)

func newTestIndexPair() (*index.UniqueIndex[int], *index.ForeignIndex[int]) {
	log := zerolog.Nop()
	customers := index.NewUniqueIndex[int]("Customers.PK", log).HasIndex(intKey("CustomerID"))
	orders := index.NewForeignIndex[int]("Orders.CustomerID", customers, log).HasIndex(intKey("CustomerID"))
	return customers, orders
}

func TestForeignIndexRejectsMissingParent(t *testing.T) {
	_, orders := newTestIndexPair()

	err := orders.Add(newTestRow(map[string]interface{}{"CustomerID": 1}))
	var missing *index.MissingParentKeyError
	require.ErrorAs(t, err, &missing)
}

func TestForeignIndexAddAndGetChildren(t *testing.T) {
	customers, orders := newTestIndexPair()
	alice := newTestRow(map[string]interface{}{"CustomerID": 7})
	order := newTestRow(map[string]interface{}{"CustomerID": 7})

	require.NoError(t, customers.Add(alice))
	require.NoError(t, orders.Add(order))

	children, err := orders.GetChildren(alice)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, order, children[0])
}

// TestForeignIndexBlocksParentDelete exercises S4: deleting a parent key
// that still has dependent children must be rejected with a
// ConstraintViolationError, and rolling back the rejected delete must
// leave both indexes as they were.
func TestForeignIndexBlocksParentDelete(t *testing.T) {
	customers, orders := newTestIndexPair()
	alice := newTestRow(map[string]interface{}{"CustomerID": 7})
	order := newTestRow(map[string]interface{}{"CustomerID": 7})

	require.NoError(t, customers.Add(alice))
	require.NoError(t, orders.Add(order))
	require.NoError(t, customers.Commit(context.Background()))

	err := customers.Remove(alice)
	var violation *index.ConstraintViolationError
	require.ErrorAs(t, err, &violation)
	require.ErrorIs(t, err, index.ErrConstraintAbort)

	// The rejected delete already mutated the undo stack; only a scope
	// rollback (exercised here directly on the participant) restores the
	// parent key, mirroring how a LockingTransactionScope disposed
	// without Complete undoes a failed mutation.
	require.NoError(t, customers.Rollback(context.Background()))

	assert.True(t, customers.Contains(7), "rollback after a rejected delete must leave the parent key in place")
	children, err := orders.GetChildren(alice)
	require.NoError(t, err)
	assert.Len(t, children, 1, "rejected delete must leave the child row in place")
}

func TestForeignIndexAllowsParentDeleteOnceChildless(t *testing.T) {
	customers, orders := newTestIndexPair()
	alice := newTestRow(map[string]interface{}{"CustomerID": 7})
	order := newTestRow(map[string]interface{}{"CustomerID": 7})

	require.NoError(t, customers.Add(alice))
	require.NoError(t, orders.Add(order))
	require.NoError(t, orders.Remove(order))

	assert.NoError(t, customers.Remove(alice))
	assert.False(t, customers.Contains(7))
}

func TestForeignIndexRollbackRestoresBucket(t *testing.T) {
	customers, orders := newTestIndexPair()
	alice := newTestRow(map[string]interface{}{"CustomerID": 7})
	order := newTestRow(map[string]interface{}{"CustomerID": 7})
	require.NoError(t, customers.Add(alice))

	_, err := customers.Prepare(context.Background())
	require.NoError(t, err)
	require.NoError(t, customers.Commit(context.Background()))

	require.NoError(t, orders.Add(order))
	require.NoError(t, orders.Rollback(context.Background()))

	children, err := orders.GetChildren(alice)
	require.NoError(t, err)
	assert.Empty(t, children)
}
