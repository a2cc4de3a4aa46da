package index

import (
	"context"
	"fmt"

	"github.com/lesd/les/internal/entry"
	"github.com/lesd/les/internal/logging"
)

// durableStore is the subset of *store.Store the Writer needs. Defined
// here (rather than imported) so this package does not depend on
// internal/store, keeping the dependency direction store -> index -> ...
// one way.
type durableStore interface {
	Put(entry.Entry) error
	Delete(path string) error
	Clear() error
}

// mutation is one pending Store+Index change, applied by the single writer
// goroutine in receipt order.
type mutation struct {
	kind   mutationKind
	entry  entry.Entry // used by put
	path   string      // used by remove/removePrefix
	result chan error
}

type mutationKind int

const (
	mutPut mutationKind = iota
	mutRemove
	mutRemovePrefix
	mutClear
)

// Writer is the single serialized writer for an Index backed by a Store.
// Scanner and Watcher are the only callers (spec.md §5: "the Scanner and
// the Watcher are the only writers"); both submit mutations through Put,
// Remove and RemoveSubtree (and a rebuild through Clear), which the writer
// goroutine applies Store-first, then Index, logging and
// skipping the Index update on Store failure so the two never diverge
// (spec.md §4.1).
type Writer struct {
	store   durableStore
	index   *Index
	log     *logging.Logger
	queue   chan mutation
	closeCh chan struct{}
	doneCh  chan struct{}
}

// NewWriter starts the writer goroutine. Close must be called to stop it.
func NewWriter(store durableStore, ix *Index, log *logging.Logger) *Writer {
	w := &Writer{
		store:   store,
		index:   ix,
		log:     log,
		queue:   make(chan mutation, 256),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	defer close(w.doneCh)
	for {
		select {
		case m := <-w.queue:
			m.result <- w.apply(m)
		case <-w.closeCh:
			return
		}
	}
}

func (w *Writer) apply(m mutation) error {
	switch m.kind {
	case mutPut:
		if err := w.store.Put(m.entry); err != nil {
			w.log.Warn("store put failed, index left unchanged", "path", m.entry.Path, "error", err)
			return fmt.Errorf("index writer: put %s: %w", m.entry.Path, err)
		}
		w.index.InsertOrReplace(m.entry)
		return nil
	case mutRemove:
		if err := w.store.Delete(m.path); err != nil {
			w.log.Warn("store delete failed, index left unchanged", "path", m.path, "error", err)
			return fmt.Errorf("index writer: delete %s: %w", m.path, err)
		}
		w.index.Remove(m.path)
		return nil
	case mutRemovePrefix:
		// The store exposes no range-delete (spec.md §4.1 does not require
		// one), so the subtree's member paths are read back from the
		// in-memory Index — which still holds the pre-delete state — and
		// removed from the store one at a time. Each path is pruned from
		// the Index immediately after its Store delete succeeds, rather
		// than all at once at the end, so a delete failing partway through
		// never leaves an already-deleted-from-Store path still sitting in
		// the Index.
		for _, p := range w.index.pathsUnder(m.path) {
			if err := w.store.Delete(p); err != nil {
				w.log.Warn("store delete failed during subtree removal", "path", p, "error", err)
				return fmt.Errorf("index writer: remove subtree %s: %w", m.path, err)
			}
			w.index.Remove(p)
		}
		return nil
	case mutClear:
		if err := w.store.Clear(); err != nil {
			w.log.Warn("store clear failed, index left unchanged", "error", err)
			return fmt.Errorf("index writer: clear: %w", err)
		}
		w.index.Reset()
		return nil
	default:
		return fmt.Errorf("index writer: unknown mutation kind %d", m.kind)
	}
}

// Put durably stores e and reflects it into the Index.
func (w *Writer) Put(ctx context.Context, e entry.Entry) error {
	return w.submit(ctx, mutation{kind: mutPut, entry: e})
}

// Remove durably deletes path and removes it from the Index.
func (w *Writer) Remove(ctx context.Context, path string) error {
	return w.submit(ctx, mutation{kind: mutRemove, path: path})
}

// RemoveSubtree removes path and every indexed entry nested under it from
// both the Store and the Index, deleting each member from the Store one at
// a time.
func (w *Writer) RemoveSubtree(ctx context.Context, path string) error {
	return w.submit(ctx, mutation{kind: mutRemovePrefix, path: path})
}

// Clear durably wipes the Store and resets the Index, going through the
// same serialized queue as every other mutation so a concurrent rebuild
// can never race a Scanner/Watcher-driven Put or Remove (spec.md §5: at
// most one writer task active at a time).
func (w *Writer) Clear(ctx context.Context) error {
	return w.submit(ctx, mutation{kind: mutClear})
}

func (w *Writer) submit(ctx context.Context, m mutation) error {
	m.result = make(chan error, 1)
	select {
	case w.queue <- m:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.closeCh:
		return fmt.Errorf("index writer: closed")
	}
	select {
	case err := <-m.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the writer goroutine.
func (w *Writer) Close() {
	close(w.closeCh)
	<-w.doneCh
}
