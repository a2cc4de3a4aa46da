package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lesd/les/internal/entry"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	e := entry.Entry{Path: "/tmp/a.txt", Kind: entry.File, Size: 10, Mtime: 100}

	require.NoError(t, s.Put(e))

	got, err := s.Get(e.Path)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get("/does/not/exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	e := entry.Entry{Path: "/tmp/a.txt", Kind: entry.File, Size: 1, Mtime: 1}
	require.NoError(t, s.Put(e))
	require.NoError(t, s.Delete(e.Path))

	_, err := s.Get(e.Path)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent path is not an error.
	assert.NoError(t, s.Delete(e.Path))
}

func TestScanAllOrdersByPath(t *testing.T) {
	s := openTestStore(t)
	paths := []string{"/z", "/a", "/m"}
	for _, p := range paths {
		require.NoError(t, s.Put(entry.Entry{Path: p, Kind: entry.File, Size: 1, Mtime: 1}))
	}

	var seen []string
	require.NoError(t, s.ScanAll(func(e entry.Entry) error {
		seen = append(seen, e.Path)
		return nil
	}))

	assert.Equal(t, []string{"/a", "/m", "/z"}, seen)
}

func TestClear(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put(entry.Entry{Path: "/a", Kind: entry.File}))
	require.NoError(t, s.Clear())

	var count int
	require.NoError(t, s.ScanAll(func(entry.Entry) error {
		count++
		return nil
	}))
	assert.Equal(t, 0, count)
}

func TestReopenPreservesData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Put(entry.Entry{Path: "/a", Kind: entry.File, Size: 5, Mtime: 9}))
	require.NoError(t, s1.Flush())
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get("/a")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.Size)
}
