// Package watcher subscribes to filesystem change notifications under the
// configured roots and translates them into Index mutations, grounded on
// the fsnotify-based watch loop in Yakitrak-obsidian-cli's pkg/cache
// service (markDirty/watchLoop/rescanDir), generalized from a single vault
// to an arbitrary set of roots and indexing metadata instead of content.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lesd/les/internal/entry"
	"github.com/lesd/les/internal/logging"
)

// debounceWindow coalesces bursts of modify events for the same path
// (spec.md §4.4).
const debounceWindow = 50 * time.Millisecond

// writer is the subset of *index.Writer the watcher needs.
type writer interface {
	Put(ctx context.Context, e entry.Entry) error
	Remove(ctx context.Context, path string) error
	RemoveSubtree(ctx context.Context, path string) error
}

// Watcher watches every configured root recursively (by adding one
// fsnotify watch per directory, since fsnotify itself does not recurse)
// and applies create/modify/delete/rename events to the Index via writer.
type Watcher struct {
	fsw      *fsnotify.Watcher
	w        writer
	excludes []string
	log      *logging.Logger

	mu       sync.Mutex
	watched  map[string]struct{}
	pending  map[string]*time.Timer // debounce timers, keyed by path
	overflow chan string            // signalled ("") when the OS reports lost events
}

// New creates a Watcher. Call Start to begin subscribing to roots.
func New(w writer, excludes []string, log *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsw:      fsw,
		w:        w,
		excludes: excludes,
		log:      log,
		watched:  make(map[string]struct{}),
		pending:  make(map[string]*time.Timer),
		overflow: make(chan string, 16),
	}, nil
}

// Start subscribes to every root (recursively) and launches the event
// loop. It returns once every root's initial subtree is watched.
func (w *Watcher) Start(ctx context.Context, roots []string) error {
	for _, r := range roots {
		if err := w.addRecursive(r); err != nil {
			w.log.Warn("failed to watch root", "root", r, "error", err)
		}
	}
	go w.loop(ctx)
	return nil
}

// Close stops the watcher and releases its OS resources.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// addRecursive walks dir and adds an fsnotify watch on it and every
// non-excluded subdirectory, mirroring addWatch/rescanDir in the teacher.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsPermission(walkErr) {
				w.log.Warn("permission denied while installing watches", "path", p, "error", walkErr)
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if excluded(p, w.excludes) {
			return fs.SkipDir
		}
		w.addWatch(p)
		return nil
	})
}

func (w *Watcher) addWatch(dir string) {
	w.mu.Lock()
	if _, ok := w.watched[dir]; ok {
		w.mu.Unlock()
		return
	}
	w.watched[dir] = struct{}{}
	w.mu.Unlock()
	if err := w.fsw.Add(dir); err != nil {
		w.log.Warn("failed to add watch", "path", dir, "error", err)
	}
}

func (w *Watcher) dropWatch(dir string) {
	w.mu.Lock()
	delete(w.watched, dir)
	w.mu.Unlock()
	_ = w.fsw.Remove(dir)
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", "error", err)
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Lost events: the caller drains Overflow() and issues a
				// RescanRoot per configured root to recover (spec.md §4.4,
				// §7). We have no single "affected root" from fsnotify, so
				// every configured root is signalled.
				select {
				case w.overflow <- "":
				default:
				}
			}
		}
	}
}

// Overflow signals that at least one lost/overflowed event was reported by
// the OS and a partial rescan of the watched roots is recommended.
func (w *Watcher) Overflow() <-chan string {
	return w.overflow
}

// handle classifies a raw fsnotify event and applies it, per the table in
// spec.md §4.4.
func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if excluded(ev.Name, w.excludes) {
		return
	}

	switch {
	case ev.Op&fsnotify.Create == fsnotify.Create:
		w.debounce(ctx, ev.Name, func() { w.onCreate(ctx, ev.Name) })
	case ev.Op&fsnotify.Write == fsnotify.Write:
		w.debounce(ctx, ev.Name, func() { w.onModify(ctx, ev.Name) })
	case ev.Op&fsnotify.Remove == fsnotify.Remove:
		w.onRemove(ctx, ev.Name)
	case ev.Op&fsnotify.Rename == fsnotify.Rename:
		// fsnotify reports a rename as an event on the old name only; the
		// new name (if still under a watched root) arrives as its own
		// Create. Treat the old name as gone, matching spec.md's
		// "rename within/out of watched roots" -> delete(old) [+create(new)].
		w.onRemove(ctx, ev.Name)
	}
}

// debounce collapses repeated events for the same path within
// debounceWindow into a single action (spec.md §4.4).
func (w *Watcher) debounce(ctx context.Context, path string, action func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(debounceWindow, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		if ctx.Err() == nil {
			action()
		}
	})
}

func (w *Watcher) onCreate(ctx context.Context, path string) {
	info, err := os.Lstat(path)
	if err != nil {
		return
	}
	if info.Mode()&os.ModeSymlink != 0 {
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			return
		}
		info, err = os.Stat(resolved)
		if err != nil {
			return
		}
	}
	e, ok := toEntry(path, info)
	if !ok {
		return
	}
	if err := w.w.Put(ctx, e); err != nil {
		w.log.Warn("failed to index created path", "path", path, "error", err)
		return
	}
	if info.IsDir() {
		// Cover it recursively: RescanRoot adds a sub-watch per directory
		// and indexes everything in the new subtree that was created before
		// the watch was installed (spec.md §4.4).
		if err := w.RescanRoot(ctx, path); err != nil {
			w.log.Warn("failed to watch new directory", "path", path, "error", err)
		}
	}
}

func (w *Watcher) onModify(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil {
		// Modify racing with a delete; let the (already queued, or
		// upcoming) remove event clean this up.
		return
	}
	e, ok := toEntry(path, info)
	if !ok {
		return
	}
	if err := w.w.Put(ctx, e); err != nil {
		w.log.Warn("failed to re-index modified path", "path", path, "error", err)
	}
}

func (w *Watcher) onRemove(ctx context.Context, path string) {
	w.dropWatch(path)
	if err := w.w.RemoveSubtree(ctx, path); err != nil {
		w.log.Warn("failed to remove path from index", "path", path, "error", err)
	}
}

// RescanRoot performs a partial rescan of root, used to recover from a
// lost/overflowed event queue (spec.md §4.4, §7). It re-adds watches and
// re-indexes every file found; it does not remove entries for paths that
// vanished, since Scan already covers existence going forward via the
// normal watch stream — callers that need full reconciliation should run
// --rebuild instead.
func (w *Watcher) RescanRoot(ctx context.Context, root string) error {
	if err := w.addRecursive(root); err != nil {
		return err
	}
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if excluded(p, w.excludes) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if p == root {
			// The root itself is never indexed as an entry, matching the
			// Scanner's behavior for the same spec.md §8 invariant.
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		e, ok := toEntry(p, info)
		if !ok {
			return nil
		}
		return w.w.Put(ctx, e)
	})
}

func toEntry(path string, info os.FileInfo) (entry.Entry, bool) {
	k := entry.File
	size := uint64(0)
	if info.IsDir() {
		k = entry.Dir
	} else if !info.Mode().IsRegular() {
		return entry.Entry{}, false
	} else {
		size = uint64(info.Size())
	}
	return entry.Entry{
		Path:  path,
		Kind:  k,
		Size:  size,
		Mtime: info.ModTime().Unix(),
	}, true
}

func excluded(path string, excludes []string) bool {
	for _, x := range excludes {
		if x != "" && strings.Contains(path, x) {
			return true
		}
	}
	return false
}
