package tinykv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, it *Iterator) (keys, values []string) {
	t.Helper()
	defer it.Close()
	for !it.Eof() {
		keys = append(keys, string(it.Key()))
		values = append(values, string(it.Value()))
		require.NoError(t, it.Next())
	}
	return keys, values
}

func TestIterator_OrdersKeysAscending(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put([]byte("banana"), []byte("2")))
	require.NoError(t, s.Put([]byte("apple"), []byte("1")))
	require.NoError(t, s.Put([]byte("cherry"), []byte("3")))

	it, err := s.DefaultCF().Iterator()
	require.NoError(t, err)
	keys, values := collect(t, it)

	require.Equal(t, []string{"apple", "banana", "cherry"}, keys)
	require.Equal(t, []string{"1", "2", "3"}, values)
}

func TestIterator_EmptyColumnFamily(t *testing.T) {
	s := openTestStore(t)
	it, err := s.DefaultCF().Iterator()
	require.NoError(t, err)
	require.True(t, it.Eof())
	it.Close()
}

func TestPrefixIterator_StopsAtBoundary(t *testing.T) {
	s := openTestStore(t)
	for _, k := range []string{"user:1", "user:2", "user:3", "order:1"} {
		require.NoError(t, s.Put([]byte(k), []byte("v")))
	}

	it, err := s.DefaultCF().PrefixIterator([]byte("user:"))
	require.NoError(t, err)
	keys, _ := collect(t, it)

	require.Equal(t, []string{"user:1", "user:2", "user:3"}, keys)
}

func TestIterator_SkipsExpiredEntries(t *testing.T) {
	s := openTestStore(t)
	now := NowMs()
	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	require.NoError(t, s.PutTTL([]byte("b"), []byte("2"), now-10))
	require.NoError(t, s.Put([]byte("c"), []byte("3")))

	it, err := s.DefaultCF().Iterator()
	require.NoError(t, err)
	keys, _ := collect(t, it)

	require.Equal(t, []string{"a", "c"}, keys)
}

func TestIterator_OnDroppedCFReturnsErrCFGone(t *testing.T) {
	s := openTestStore(t)
	cf, err := s.CFCreate("temp")
	require.NoError(t, err)
	require.NoError(t, s.CFDrop("temp"))

	_, err = cf.Iterator()
	require.ErrorIs(t, err, ErrCFGone)
}
