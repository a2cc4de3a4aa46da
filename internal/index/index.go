// Package index holds the authoritative in-memory query surface: every
// Entry currently known, kept in sync with the Entry Store by a single
// serialized Writer.
package index

import (
	"sync"

	"github.com/lesd/les/internal/entry"
)

// Index is a concurrent-safe container of Entry records keyed by path.
// Readers take a read lock only long enough to copy a Snapshot; they then
// evaluate against that snapshot without blocking writers, per spec.md §5
// option (b).
type Index struct {
	mu      sync.RWMutex
	entries map[string]entry.Entry
}

// New returns an empty Index.
func New() *Index {
	return &Index{entries: make(map[string]entry.Entry)}
}

// InsertOrReplace adds e, or replaces the existing entry at e.Path.
func (ix *Index) InsertOrReplace(e entry.Entry) {
	ix.mu.Lock()
	ix.entries[e.Path] = e
	ix.mu.Unlock()
}

// Remove deletes the entry at path, if any.
func (ix *Index) Remove(path string) {
	ix.mu.Lock()
	delete(ix.entries, path)
	ix.mu.Unlock()
}

// RemovePrefix deletes path and every entry whose path has path+"/" as a
// prefix — the subtree-delete semantics a directory removal requires.
func (ix *Index) RemovePrefix(path string) {
	prefix := path + "/"
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.entries, path)
	for p := range ix.entries {
		if len(p) > len(prefix) && p[:len(prefix)] == prefix {
			delete(ix.entries, p)
		}
	}
}

// Get returns the entry at path, if present.
func (ix *Index) Get(path string) (entry.Entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.entries[path]
	return e, ok
}

// Len returns the number of entries currently held.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Snapshot returns a copy of every entry, safe to range over without
// holding the Index lock. Order is unspecified (spec.md §4.2); callers
// that need sorted output (the Query Engine) sort it themselves.
func (ix *Index) Snapshot() []entry.Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]entry.Entry, 0, len(ix.entries))
	for _, e := range ix.entries {
		out = append(out, e)
	}
	return out
}

// pathsUnder returns path itself (if present) plus every entry whose path
// has path+"/" as a prefix. Used by Writer to drive per-path store deletes
// when a directory subtree is removed.
func (ix *Index) pathsUnder(path string) []string {
	prefix := path + "/"
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []string
	if _, ok := ix.entries[path]; ok {
		out = append(out, path)
	}
	for p := range ix.entries {
		if len(p) > len(prefix) && p[:len(prefix)] == prefix {
			out = append(out, p)
		}
	}
	return out
}

// Reset discards every entry, for --rebuild.
func (ix *Index) Reset() {
	ix.mu.Lock()
	ix.entries = make(map[string]entry.Entry)
	ix.mu.Unlock()
}
