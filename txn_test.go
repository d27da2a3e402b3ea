package tinykv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBegin_Nesting_ReturnsErrTxActive(t *testing.T) {
	s := openTestStore(t)

	tx, err := s.Begin(true)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = s.Begin(true)
	require.ErrorIs(t, err, ErrTxActive)
}

func TestTx_CommitPersistsWrites(t *testing.T) {
	s := openTestStore(t)

	tx, err := s.Begin(true)
	require.NoError(t, err)
	require.NoError(t, s.Put([]byte("k"), []byte("v")))
	require.NoError(t, tx.Commit())

	v, found, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v"), v)
}

func TestTx_RollbackDiscardsWrites(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put([]byte("k"), []byte("before")))

	tx, err := s.Begin(true)
	require.NoError(t, err)
	require.NoError(t, s.Put([]byte("k"), []byte("after")))
	require.NoError(t, tx.Rollback())

	v, found, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("before"), v)
}

func TestTx_DoubleCommitReturnsErrNoTx(t *testing.T) {
	s := openTestStore(t)
	tx, err := s.Begin(true)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.ErrorIs(t, tx.Commit(), ErrNoTx)
}

func TestTx_CommitThenRollbackReturnsErrNoTx(t *testing.T) {
	s := openTestStore(t)
	tx, err := s.Begin(true)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.ErrorIs(t, tx.Rollback(), ErrNoTx)
}

func TestBegin_AfterPriorTxFinishedSucceeds(t *testing.T) {
	s := openTestStore(t)
	tx1, err := s.Begin(true)
	require.NoError(t, err)
	require.NoError(t, tx1.Commit())

	tx2, err := s.Begin(false)
	require.NoError(t, err)
	require.NoError(t, tx2.Commit())
}

func TestTx_ReadOnlyDoesNotBlockAutoCommitWrites(t *testing.T) {
	s := openTestStore(t)
	tx, err := s.Begin(false)
	require.NoError(t, err)
	defer tx.Commit()

	// A read-only Tx pins a reader slot but has no write txID to join;
	// auto-committed writes must still succeed independently of it.
	require.NoError(t, s.Put([]byte("k"), []byte("v")))
	v, found, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v"), v)
}
