// Package daemon is the Lifecycle Controller: it sequences startup
// (spec.md §4.7), owns the long-lived components, and implements graceful
// shutdown on SIGINT/SIGTERM.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lesd/les/internal/config"
	"github.com/lesd/les/internal/entry"
	"github.com/lesd/les/internal/index"
	"github.com/lesd/les/internal/logging"
	"github.com/lesd/les/internal/query"
	"github.com/lesd/les/internal/rpcserver"
	"github.com/lesd/les/internal/scanner"
	"github.com/lesd/les/internal/store"
	"github.com/lesd/les/internal/watcher"
)

// ShutdownGrace bounds how long the RPC server's Shutdown waits, after
// closing the listener, for in-flight requests to drain before it unlinks
// the socket (spec.md §4.7).
const ShutdownGrace = 5 * time.Second

// Daemon wires the Entry Store, In-Memory Index, Scanner, Watcher, Query
// Engine, and RPC Server together and drives the startup/shutdown sequence.
type Daemon struct {
	cfg config.Config
	log *logging.Logger

	st      *store.Store
	idx     *index.Index
	writer  *index.Writer
	scan    *scanner.Scanner
	watch   *watcher.Watcher
	engine  *query.Engine
	server  *rpcserver.Server

	rebuildMu sync.Mutex
	rebuilding bool
	lastScan   time.Time
}

// New constructs a Daemon from cfg. It does not yet open the store or
// start any component; call Run for that.
func New(cfg config.Config, log *logging.Logger) *Daemon {
	d := &Daemon{cfg: cfg, log: log}
	d.engine = query.NewEngine(cfg.Excludes)
	return d
}

// Run executes the full startup sequence (spec.md §4.7 steps 2-6), then
// blocks until ctx is cancelled (step 7's signal handling is the caller's
// responsibility — see cmd/lesd, which cancels ctx on SIGINT/SIGTERM),
// then performs graceful shutdown.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.cfg.Validate(); err != nil {
		return err
	}

	st, err := store.Open(d.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("daemon: opening store: %w", err)
	}
	d.st = st
	defer st.Close()

	d.idx = index.New()
	d.writer = index.NewWriter(d.st, d.idx, d.log.With("subsystem", "writer"))
	defer d.writer.Close()

	if d.cfg.Rebuild {
		d.log.Notice("rebuild requested: clearing store and index")
		if err := d.writer.Clear(ctx); err != nil {
			return fmt.Errorf("daemon: clearing store: %w", err)
		}
	} else {
		if err := d.loadFromStore(); err != nil {
			return fmt.Errorf("daemon: loading index from store: %w", err)
		}
		d.log.Info("index loaded from store", "count", d.idx.Len())
	}

	d.scan = scanner.New(d.log.With("subsystem", "scanner"))

	w, err := watcher.New(d.writer, d.cfg.Excludes, d.log.With("subsystem", "watcher"))
	if err != nil {
		return fmt.Errorf("daemon: creating watcher: %w", err)
	}
	d.watch = w
	if err := d.watch.Start(ctx, d.cfg.Roots); err != nil {
		return fmt.Errorf("daemon: starting watcher: %w", err)
	}
	defer d.watch.Close()
	go d.watchOverflow(ctx)

	if d.cfg.Rebuild {
		// Events the watcher emits while the scan is running are applied
		// through the same serialized Writer queue as the scan's own
		// inserts; because the queue totally orders all mutations and
		// insert_or_replace is idempotent, this is equivalent to queuing
		// watcher events and draining them after the scan completes
		// (spec.md §4.7 step 5, §9) without a second explicit queue.
		if err := d.runScan(ctx); err != nil {
			return fmt.Errorf("daemon: initial scan: %w", err)
		}
	}

	d.server = rpcserver.New(d.cfg.Socket, d, d.log.With("subsystem", "rpc"))
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- d.server.ListenAndServe(ctx)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownGrace)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.log.Warn("error during rpc server shutdown", "error", err)
	}
	if err := d.st.Flush(); err != nil {
		d.log.Warn("error flushing store on shutdown", "error", err)
	}
	return nil
}

func (d *Daemon) loadFromStore() error {
	return d.st.ScanAll(func(e entry.Entry) error {
		d.idx.InsertOrReplace(e)
		return nil
	})
}

func (d *Daemon) runScan(ctx context.Context) error {
	d.log.Notice("scan starting", "roots", d.cfg.Roots)
	start := time.Now()
	count := 0
	err := d.scan.Scan(ctx, d.cfg.Roots, d.cfg.Excludes, func(e entry.Entry) error {
		count++
		return d.writer.Put(ctx, e)
	})
	d.lastScan = time.Now()
	d.log.Notice("scan complete", "entries", count, "elapsed", time.Since(start))
	return err
}

func (d *Daemon) watchOverflow(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.watch.Overflow():
			d.log.Warn("watcher reported an overflow; rescanning roots")
			for _, r := range d.cfg.Roots {
				if err := d.watch.RescanRoot(ctx, r); err != nil {
					d.log.Warn("partial rescan failed", "root", r, "error", err)
				}
			}
		}
	}
}

// Query implements rpcserver.Backend.
func (d *Daemon) Query(ctx context.Context, q query.Query) (query.Result, error) {
	snapshot := d.idx.Snapshot()
	return d.engine.Run(ctx, q, snapshot)
}

// Rebuild implements rpcserver.Backend: it schedules a background full
// rescan and returns immediately (spec.md §4.6).
func (d *Daemon) Rebuild() {
	d.rebuildMu.Lock()
	if d.rebuilding {
		d.rebuildMu.Unlock()
		return
	}
	d.rebuilding = true
	d.rebuildMu.Unlock()

	go func() {
		defer func() {
			d.rebuildMu.Lock()
			d.rebuilding = false
			d.rebuildMu.Unlock()
		}()
		ctx := context.Background()
		// Go through the serialized Writer, not the Store/Index directly:
		// the Watcher is already running and submitting Put/Remove calls
		// on its own goroutine, so a direct Clear/Reset here could race
		// one of those and leave the Store and Index diverged (spec.md
		// §5's single-writer discipline).
		if err := d.writer.Clear(ctx); err != nil {
			d.log.Error("rebuild: clearing store failed", "error", err)
			return
		}
		if err := d.runScan(ctx); err != nil {
			d.log.Error("rebuild: scan failed", "error", err)
		}
	}()
}

// Stats implements rpcserver.Backend.
func (d *Daemon) Stats() rpcserver.Stats {
	return rpcserver.Stats{Count: d.idx.Len()}
}
