package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lesd/les/internal/entry"
	"github.com/lesd/les/internal/logging"
)

func discardLogger() *logging.Logger {
	return logging.New(slog.New(slog.NewTextHandler(io.Discard, nil)), "test")
}

type fakeWriter struct {
	mu            sync.Mutex
	puts          []entry.Entry
	removes       []string
	removeSubtree []string
}

func (f *fakeWriter) Put(_ context.Context, e entry.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, e)
	return nil
}

func (f *fakeWriter) Remove(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes = append(f.removes, path)
	return nil
}

func (f *fakeWriter) RemoveSubtree(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeSubtree = append(f.removeSubtree, path)
	return nil
}

func (f *fakeWriter) snapshotPuts() []entry.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]entry.Entry, len(f.puts))
	copy(out, f.puts)
	return out
}

func (f *fakeWriter) snapshotRemoveSubtree() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.removeSubtree))
	copy(out, f.removeSubtree)
	return out
}

func TestOnCreateIndexesNewFile(t *testing.T) {
	dir := t.TempDir()
	fw := &fakeWriter{}
	w, err := New(fw, nil, discardLogger())
	require.NoError(t, err)
	defer w.Close()

	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o644))

	w.onCreate(context.Background(), path)

	puts := fw.snapshotPuts()
	require.Len(t, puts, 1)
	assert.Equal(t, path, puts[0].Path)
	assert.Equal(t, uint64(2), puts[0].Size)
}

func TestOnCreateDirectoryWalksNewSubtree(t *testing.T) {
	dir := t.TempDir()
	fw := &fakeWriter{}
	w, err := New(fw, nil, discardLogger())
	require.NoError(t, err)
	defer w.Close()

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "nested.txt"), []byte("x"), 0o644))

	w.onCreate(context.Background(), sub)

	// onCreate(sub) should Put the dir entry, install a watch on it, and
	// walk the new subtree so that files created before the watch was
	// added are indexed too.
	puts := fw.snapshotPuts()
	require.Len(t, puts, 2)
	assert.Equal(t, sub, puts[0].Path)
	assert.True(t, puts[0].IsDir())
	assert.Equal(t, filepath.Join(sub, "nested.txt"), puts[1].Path)

	w.mu.Lock()
	_, watched := w.watched[sub]
	w.mu.Unlock()
	assert.True(t, watched, "expected new subdirectory to be watched")
}

func TestOnModifyReindexesFile(t *testing.T) {
	dir := t.TempDir()
	fw := &fakeWriter{}
	w, err := New(fw, nil, discardLogger())
	require.NoError(t, err)
	defer w.Close()

	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	w.onModify(context.Background(), path)

	puts := fw.snapshotPuts()
	require.Len(t, puts, 1)
	assert.Equal(t, uint64(11), puts[0].Size)
}

func TestOnModifyIgnoresRaceWithDelete(t *testing.T) {
	dir := t.TempDir()
	fw := &fakeWriter{}
	w, err := New(fw, nil, discardLogger())
	require.NoError(t, err)
	defer w.Close()

	w.onModify(context.Background(), filepath.Join(dir, "never-existed.txt"))
	assert.Empty(t, fw.snapshotPuts())
}

func TestOnRemoveDropsWatchAndSubtree(t *testing.T) {
	dir := t.TempDir()
	fw := &fakeWriter{}
	w, err := New(fw, nil, discardLogger())
	require.NoError(t, err)
	defer w.Close()

	w.addWatch(dir)
	w.onRemove(context.Background(), dir)

	w.mu.Lock()
	_, stillWatched := w.watched[dir]
	w.mu.Unlock()
	assert.False(t, stillWatched)

	assert.Equal(t, []string{dir}, fw.snapshotRemoveSubtree())
}

func TestExcludedEventsAreIgnored(t *testing.T) {
	dir := t.TempDir()
	fw := &fakeWriter{}
	w, err := New(fw, []string{"skip-me"}, discardLogger())
	require.NoError(t, err)
	defer w.Close()

	path := filepath.Join(dir, "skip-me.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	// onCreate itself doesn't check exclusion (handle does), so dispatch
	// the event through handle and check that nothing is indexed.
	w.handle(context.Background(), fsnotify.Event{Name: path, Op: fsnotify.Create})
	time.Sleep(debounceWindow + 100*time.Millisecond)
	assert.Empty(t, fw.snapshotPuts())
	assert.False(t, excluded(path, nil))
	assert.True(t, excluded(path, w.excludes))
}

func TestDebounceCollapsesRapidModifies(t *testing.T) {
	dir := t.TempDir()
	fw := &fakeWriter{}
	w, err := New(fw, nil, discardLogger())
	require.NoError(t, err)
	defer w.Close()

	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	ctx := context.Background()
	var calls int
	var mu sync.Mutex
	for i := 0; i < 5; i++ {
		w.debounce(ctx, path, func() {
			mu.Lock()
			calls++
			mu.Unlock()
		})
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(debounceWindow + 100*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "rapid modifies within the debounce window should collapse to one action")
}

func TestRescanRootReindexesExistingEntries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("abc"), 0o644))
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.txt"), []byte("de"), 0o644))

	fw := &fakeWriter{}
	w, err := New(fw, nil, discardLogger())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.RescanRoot(context.Background(), dir))

	var paths []string
	for _, e := range fw.snapshotPuts() {
		paths = append(paths, e.Path)
	}
	assert.Contains(t, paths, filepath.Join(dir, "a.txt"))
	assert.Contains(t, paths, filepath.Join(sub, "b.txt"))
}

func TestEndToEndCreateDetectedViaRealWatch(t *testing.T) {
	dir := t.TempDir()
	fw := &fakeWriter{}
	w, err := New(fw, nil, discardLogger())
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, []string{dir}))

	path := filepath.Join(dir, "new.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o644))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range fw.snapshotPuts() {
			if e.Path == path {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected %s to be indexed via real fsnotify watch within the deadline", path)
}
