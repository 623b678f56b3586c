/*
File Name:  Store_test.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package store

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, store Store) {
	_, found := store.Get([]byte("missing"))
	assert.False(t, found)

	require.NoError(t, store.Set([]byte("a"), []byte("1")))
	require.NoError(t, store.Set([]byte("b"), []byte("2")))
	require.NoError(t, store.Set([]byte("a"), []byte("3")))

	value, found := store.Get([]byte("a"))
	require.True(t, found)
	assert.Equal(t, []byte("3"), value)
	assert.Equal(t, uint64(2), store.Count())

	var keys []string
	store.Iterate(func(key, value []byte) {
		keys = append(keys, string(key))
	})
	sort.Strings(keys)
	assert.Equal(t, []string{"a", "b"}, keys)

	store.Delete([]byte("a"))
	_, found = store.Get([]byte("a"))
	assert.False(t, found)
	assert.Equal(t, uint64(1), store.Count())
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	testStore(t, store)
	assert.NoError(t, store.Close())
}

func TestMemoryStoreCopiesValue(t *testing.T) {
	store := NewMemoryStore()
	data := []byte("value")
	require.NoError(t, store.Set([]byte("k"), data))
	data[0] = 'X'

	value, _ := store.Get([]byte("k"))
	assert.Equal(t, []byte("value"), value)
}

func TestPogrebStore(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "blacklist")

	store, err := NewPogrebStore(filename)
	require.NoError(t, err)
	testStore(t, store)
	require.NoError(t, store.Close())

	// data survives reopening
	store, err = NewPogrebStore(filename)
	require.NoError(t, err)
	defer store.Close()

	value, found := store.Get([]byte("b"))
	require.True(t, found)
	assert.Equal(t, []byte("2"), value)
}
