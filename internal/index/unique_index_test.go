package index_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gammafour-data/internal/index"
	"gammafour-data/internal/txn"
)

func newTestUniqueIndex() *index.UniqueIndex[int] {
	return index.NewUniqueIndex[int]("Customers.PK", zerolog.Nop()).HasIndex(intKey("ID"))
}

func TestUniqueIndexAddAndFind(t *testing.T) {
	idx := newTestUniqueIndex()
	r := newTestRow(map[string]interface{}{"ID": 1})

	require.NoError(t, idx.Add(r))
	assert.True(t, idx.Contains(1))

	found, ok := idx.Find(1)
	require.True(t, ok)
	assert.Equal(t, r, found)
}

// TestUniqueIndexDuplicateKeyRejected exercises S3.
func TestUniqueIndexDuplicateKeyRejected(t *testing.T) {
	idx := newTestUniqueIndex()
	require.NoError(t, idx.Add(newTestRow(map[string]interface{}{"ID": 1})))

	err := idx.Add(newTestRow(map[string]interface{}{"ID": 1}))
	var dup *index.DuplicateKeyError
	require.ErrorAs(t, err, &dup)

	found, ok := idx.Find(1)
	require.True(t, ok)
	assert.Equal(t, 1, mustField(t, found, "ID"))
}

func TestUniqueIndexRemoveIsIdempotent(t *testing.T) {
	idx := newTestUniqueIndex()
	require.NoError(t, idx.Remove(newTestRow(map[string]interface{}{"ID": 99})))
	assert.False(t, idx.Contains(99))
}

func TestUniqueIndexMustFindMissingKey(t *testing.T) {
	idx := newTestUniqueIndex()
	_, err := idx.MustFind(7)
	var notFound *index.RecordNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

// TestUniqueIndexRollbackAfterKeyChangingUpdate exercises S5: an Update
// that moves a row from key 42 to key 43 must be fully undone by Rollback.
func TestUniqueIndexRollbackAfterKeyChangingUpdate(t *testing.T) {
	idx := newTestUniqueIndex()
	r := newTestRow(map[string]interface{}{"ID": 42})
	require.NoError(t, idx.Add(r))

	_, err := idx.Prepare(context.Background())
	require.NoError(t, err)
	require.NoError(t, idx.Commit(context.Background()))

	r.setKey("ID", 43)
	require.NoError(t, idx.Update(r))
	assert.True(t, idx.Contains(43))
	assert.False(t, idx.Contains(42))

	require.NoError(t, idx.Rollback(context.Background()))
	assert.True(t, idx.Contains(42))
	assert.False(t, idx.Contains(43))
}

func TestUniqueIndexUpdateWithUnchangedKeyIsNoop(t *testing.T) {
	idx := newTestUniqueIndex()
	r := newTestRow(map[string]interface{}{"ID": 5})
	require.NoError(t, idx.Add(r))

	vote, err := idx.Prepare(context.Background())
	require.NoError(t, err)
	require.Equal(t, txn.Prepared, vote, "an index with an uncommitted Add votes Prepared")
	require.NoError(t, idx.Commit(context.Background()))

	require.NoError(t, idx.Update(r))
	assert.True(t, idx.Contains(5))
}

func TestUniqueIndexPrepareVotesPreparedWithOutstandingUndo(t *testing.T) {
	idx := newTestUniqueIndex()
	require.NoError(t, idx.Add(newTestRow(map[string]interface{}{"ID": 1})))

	vote, err := idx.Prepare(context.Background())
	require.NoError(t, err)
	assert.Equal(t, txn.Prepared, vote)
}
