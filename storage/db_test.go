package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()
	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	value := []byte("one")
	require.NoError(t, db.Put([]byte("a/1"), value))
	value[0] = 'x'
	require.NoError(t, db.Put([]byte("a/2"), []byte("two")))
	require.NoError(t, db.Put([]byte("b/1"), []byte("three")))

	got, err := db.Get([]byte("a/1"))
	require.NoError(t, err)
	require.Equal(t, []byte("one"), got)

	keys, err := db.Keys([]byte("a/"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("a/1"), []byte("a/2")}, keys)

	require.NoError(t, db.Delete([]byte("a/1")))
	require.NoError(t, db.Delete([]byte("a/1")))
	_, err = db.Get([]byte("a/1"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := NewLevelDB(dir)
	require.NoError(t, err)
	exerciseDatabase(t, db)
	db.Close()

	reopened, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get([]byte("b/1"))
	require.NoError(t, err)
	require.Equal(t, []byte("three"), got)
}
