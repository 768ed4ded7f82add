package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sharemarket/storage"
)

type record struct {
	Value uint64
}

func TestManagerRoundTrip(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())

	var out record
	ok, err := mgr.KVGet([]byte("missing"), &out)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mgr.KVPut([]byte("key"), record{Value: 7}))
	ok, err = mgr.KVGet([]byte("key"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(7), out.Value)

	require.NoError(t, mgr.KVDelete([]byte("key")))
	ok, err = mgr.KVGet([]byte("key"), &out)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTxnReadThroughAndShadowing(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	require.NoError(t, mgr.KVPut([]byte("a"), record{Value: 1}))

	txn := mgr.Begin()

	var out record
	ok, err := txn.KVGet([]byte("a"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), out.Value)

	// A staged write shadows the database value inside the transaction but
	// stays invisible outside it until Commit.
	require.NoError(t, txn.KVPut([]byte("a"), record{Value: 2}))
	ok, err = txn.KVGet([]byte("a"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), out.Value)

	ok, err = mgr.KVGet([]byte("a"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), out.Value)

	// A staged delete hides the database value.
	require.NoError(t, txn.KVDelete([]byte("a")))
	ok, err = txn.KVGet([]byte("a"), &out)
	require.NoError(t, err)
	require.False(t, ok)

	// Writing again after a delete resurrects the key.
	require.NoError(t, txn.KVPut([]byte("a"), record{Value: 3}))
	require.NoError(t, txn.Commit())

	ok, err = mgr.KVGet([]byte("a"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(3), out.Value)
}

func TestTxnDiscardDropsStagedMutations(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	require.NoError(t, mgr.KVPut([]byte("keep"), record{Value: 1}))

	txn := mgr.Begin()
	require.NoError(t, txn.KVPut([]byte("new"), record{Value: 9}))
	require.NoError(t, txn.KVDelete([]byte("keep")))
	txn.Discard()
	require.NoError(t, txn.Commit())

	var out record
	ok, err := mgr.KVGet([]byte("keep"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = mgr.KVGet([]byte("new"), &out)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTxnCommitDetectsConflictingWrite(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	require.NoError(t, mgr.KVPut([]byte("acct"), record{Value: 10}))

	txn := mgr.Begin()
	var out record
	ok, err := txn.KVGet([]byte("acct"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, txn.KVPut([]byte("acct"), record{Value: out.Value + 5}))

	// A second committer updates the same key before the first lands.
	other := mgr.Begin()
	ok, err = other.KVGet([]byte("acct"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, other.KVPut([]byte("acct"), record{Value: out.Value + 3}))
	require.NoError(t, other.Commit())

	require.ErrorIs(t, txn.Commit(), ErrConflict)

	// The winner's update survives intact.
	ok, err = mgr.KVGet([]byte("acct"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(13), out.Value)
}

func TestTxnCommitDetectsCreatedKey(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())

	txn := mgr.Begin()
	var out record
	ok, err := txn.KVGet([]byte("fresh"), &out)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, txn.KVPut([]byte("fresh"), record{Value: 1}))

	require.NoError(t, mgr.KVPut([]byte("fresh"), record{Value: 2}))

	require.ErrorIs(t, txn.Commit(), ErrConflict)

	ok, err = mgr.KVGet([]byte("fresh"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), out.Value)
}

func TestTxnBlindWriteCommitsPastConcurrentUpdate(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	require.NoError(t, mgr.KVPut([]byte("k"), record{Value: 1}))

	// The transaction never reads the key, so a concurrent update to it does
	// not invalidate the commit.
	txn := mgr.Begin()
	require.NoError(t, txn.KVPut([]byte("k"), record{Value: 7}))
	require.NoError(t, mgr.KVPut([]byte("k"), record{Value: 2}))
	require.NoError(t, txn.Commit())

	var out record
	ok, err := mgr.KVGet([]byte("k"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(7), out.Value)
}

func TestTxnReadsAreRepeatable(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	require.NoError(t, mgr.KVPut([]byte("k"), record{Value: 1}))

	txn := mgr.Begin()
	var out record
	ok, err := txn.KVGet([]byte("k"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), out.Value)

	require.NoError(t, mgr.KVPut([]byte("k"), record{Value: 2}))

	// The transaction keeps seeing its first read, and the stale snapshot
	// surfaces as a conflict at commit time.
	ok, err = txn.KVGet([]byte("k"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), out.Value)

	require.NoError(t, txn.KVPut([]byte("k"), record{Value: 3}))
	require.ErrorIs(t, txn.Commit(), ErrConflict)
}

func TestTxnDiscardAfterCommitIsNoop(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())

	txn := mgr.Begin()
	require.NoError(t, txn.KVPut([]byte("k"), record{Value: 4}))
	require.NoError(t, txn.Commit())
	txn.Discard()
	require.NoError(t, txn.Commit())

	var out record
	ok, err := mgr.KVGet([]byte("k"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(4), out.Value)
}
