// Package scanner performs the recursive directory traversal that
// populates the index on --rebuild (at startup or through the rebuild RPC
// op), grounded on the
// filepath.WalkDir-based crawl idiom seen throughout the pack (e.g.
// obsidian-cli's Service.initialCrawl).
package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/lesd/les/internal/entry"
	"github.com/lesd/les/internal/logging"
)

// Emit is called once per discovered, non-excluded Entry.
type Emit func(entry.Entry) error

// Scanner walks a fixed set of roots and emits entries for everything it
// finds, honoring an exclusion predicate and following in-root symlinks
// without looping.
type Scanner struct {
	log     *logging.Logger
	visited map[devIno]struct{}
}

type devIno struct {
	dev uint64
	ino uint64
}

// New returns a Scanner that logs through log.
func New(log *logging.Logger) *Scanner {
	return &Scanner{log: log, visited: make(map[devIno]struct{})}
}

// Scan walks every root in turn, calling emit for each non-excluded file
// or directory. Permission-denied subtrees are logged and skipped; the
// scan otherwise continues. Scan is idempotent: identical inputs always
// produce the same emitted entries (spec.md §4.3).
func (s *Scanner) Scan(ctx context.Context, roots []string, excludes []string, emit Emit) error {
	s.visited = make(map[devIno]struct{})
	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.scanRoot(ctx, root, root, excludes, emit); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) scanRoot(ctx context.Context, root, path string, excludes []string, emit Emit) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if os.IsPermission(walkErr) {
				s.log.Warn("permission denied, skipping subtree", "path", p, "error", walkErr)
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			s.log.Warn("walk error, skipping path", "path", p, "error", walkErr)
			return nil
		}

		if excluded(p, excludes) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if p == root {
			// The configured root itself is never indexed as an entry,
			// only paths reachable under it are (spec.md 8's "reachable
			// from R" invariant, scenario 2). WalkDir always visits its
			// starting path first; skip emitting just that one.
			return nil
		}

		info, err := d.Info()
		if err != nil {
			s.log.Warn("stat failed, skipping", "path", p, "error", err)
			return nil
		}

		if info.Mode()&os.ModeSymlink != 0 {
			return s.followSymlink(ctx, root, p, excludes, emit)
		}

		// No visited-set check here: WalkDir already visits each real
		// directory entry exactly once, so loop guarding is only needed
		// where symlinks can reintroduce a cycle (followSymlink).
		e, ok := toEntry(p, info)
		if !ok {
			return nil
		}
		return emit(e)
	})
}

// followSymlink resolves a symlink and, if its target lies within root,
// treats it as the resolved entry (recursing into directories); links
// that are broken, or whose target lies outside root (the root currently
// being scanned), are omitted, even when the target is inside another
// configured root (spec.md §3, §4.3).
func (s *Scanner) followSymlink(ctx context.Context, root, p string, excludes []string, emit Emit) error {
	target, err := filepath.EvalSymlinks(p)
	if err != nil {
		// Broken link.
		return nil
	}
	rel, err := filepath.Rel(root, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil
	}
	info, err := os.Stat(target)
	if err != nil {
		return nil
	}
	if !s.markVisited(info) {
		return nil
	}
	if info.IsDir() {
		// filepath.WalkDir does not descend into a symlink passed as its
		// start path; a trailing separator makes it resolve the link. The
		// start entry is reported under the link's own path.
		start := p + string(filepath.Separator)
		return s.scanRoot(ctx, root, start, excludes, func(e entry.Entry) error {
			if e.Path == start {
				e.Path = p
			}
			return emit(e)
		})
	}
	e, ok := toEntry(p, info)
	if !ok {
		return nil
	}
	return emit(e)
}

// markVisited records (dev, inode) and reports whether this is the first
// time it has been seen, guarding against symlink loops.
func (s *Scanner) markVisited(info os.FileInfo) bool {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		// Platform without Stat_t (not expected on the Linux target this
		// spec covers); treat as always-first-visit.
		return true
	}
	key := devIno{dev: uint64(stat.Dev), ino: stat.Ino}
	if _, seen := s.visited[key]; seen {
		return false
	}
	s.visited[key] = struct{}{}
	return true
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

// excluded reports whether any exclusion substring occurs in path.
func excluded(path string, excludes []string) bool {
	for _, x := range excludes {
		if x != "" && strings.Contains(path, x) {
			return true
		}
	}
	return false
}
