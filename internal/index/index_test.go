package index

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lesd/les/internal/entry"
)

func TestInsertAndGet(t *testing.T) {
	ix := New()
	e := entry.Entry{Path: "/a", Kind: entry.File, Size: 1, Mtime: 1}
	ix.InsertOrReplace(e)

	got, ok := ix.Get("/a")
	assert.True(t, ok)
	assert.Equal(t, e, got)
	assert.Equal(t, 1, ix.Len())
}

func TestInsertOrReplaceReplaces(t *testing.T) {
	ix := New()
	ix.InsertOrReplace(entry.Entry{Path: "/a", Size: 1})
	ix.InsertOrReplace(entry.Entry{Path: "/a", Size: 2})

	got, _ := ix.Get("/a")
	assert.Equal(t, uint64(2), got.Size)
	assert.Equal(t, 1, ix.Len())
}

func TestRemove(t *testing.T) {
	ix := New()
	ix.InsertOrReplace(entry.Entry{Path: "/a"})
	ix.Remove("/a")

	_, ok := ix.Get("/a")
	assert.False(t, ok)
}

func TestRemovePrefix(t *testing.T) {
	ix := New()
	ix.InsertOrReplace(entry.Entry{Path: "/a"})
	ix.InsertOrReplace(entry.Entry{Path: "/a/b"})
	ix.InsertOrReplace(entry.Entry{Path: "/a/b/c"})
	ix.InsertOrReplace(entry.Entry{Path: "/ab"}) // must survive: not actually nested

	ix.RemovePrefix("/a")

	_, ok := ix.Get("/a")
	assert.False(t, ok)
	_, ok = ix.Get("/a/b")
	assert.False(t, ok)
	_, ok = ix.Get("/a/b/c")
	assert.False(t, ok)
	_, ok = ix.Get("/ab")
	assert.True(t, ok, "/ab is not under /a and must not be removed")
}

func TestSnapshot(t *testing.T) {
	ix := New()
	ix.InsertOrReplace(entry.Entry{Path: "/a"})
	ix.InsertOrReplace(entry.Entry{Path: "/b"})

	snap := ix.Snapshot()
	paths := []string{snap[0].Path, snap[1].Path}
	sort.Strings(paths)
	assert.Equal(t, []string{"/a", "/b"}, paths)
}

func TestReset(t *testing.T) {
	ix := New()
	ix.InsertOrReplace(entry.Entry{Path: "/a"})
	ix.Reset()
	assert.Equal(t, 0, ix.Len())
}
