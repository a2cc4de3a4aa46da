package rpcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/lesd/les/internal/entry"
	"github.com/lesd/les/internal/logging"
	"github.com/lesd/les/internal/query"
)

// Stats is the payload for the "stats" op.
type Stats struct {
	Count int
}

// Backend is what the RPC server dispatches requests to. internal/daemon
// implements it, wiring the Query Engine, Index, and Scanner behind the
// three ops spec.md §4.6 defines.
type Backend interface {
	Query(ctx context.Context, q query.Query) (query.Result, error)
	Rebuild()
	Stats() Stats
}

// Server accepts connections on a Unix domain socket and serves the
// newline-delimited JSON protocol from spec.md §4.6.
type Server struct {
	path    string
	backend Backend
	log     *logging.Logger

	mu       sync.Mutex
	ln       net.Listener
	wg       sync.WaitGroup
	closing  bool
}

// New constructs a Server bound to socketPath (not yet listening).
func New(socketPath string, backend Backend, log *logging.Logger) *Server {
	return &Server{path: socketPath, backend: backend, log: log}
}

// ListenAndServe creates the socket (owner-only permissions), removing any
// stale socket file left by a prior unclean shutdown, and begins accepting
// connections. It blocks until the listener is closed by Shutdown or an
// unrecoverable accept error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rpcserver: removing stale socket: %w", err)
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("rpcserver: listen %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("rpcserver: chmod socket: %w", err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return nil
			}
			return fmt.Errorf("rpcserver: accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

// Shutdown stops accepting new connections, waits (up to ctx's deadline)
// for in-flight requests to drain, and unlinks the socket file.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	ln := s.ln
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rpcserver: removing socket: %w", err)
	}
	return nil
}

// serveConn reads and answers requests on conn strictly in order until the
// client disconnects or sends malformed JSON (which closes the connection
// after one error response, per spec.md §4.6).
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	w := bufio.NewWriter(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, Response{OK: false, Error: fmt.Sprintf("malformed request: %v", err)})
			return
		}

		resp := s.dispatch(ctx, req)
		if err := s.writeResponse(w, resp); err != nil {
			// Client disconnected mid-write; evaluation already happened
			// and is not cancelled by this (spec.md §5).
			return
		}
	}
}

func (s *Server) writeResponse(w *bufio.Writer, resp Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := w.Write(b); err != nil {
		return err
	}
	return w.Flush()
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Op {
	case "query":
		q := req.Query.toQuery()
		result, err := s.backend.Query(ctx, q)
		if err != nil {
			return Response{OK: false, Error: err.Error()}
		}
		return Response{
			OK:        true,
			Entries:   toWireEntries(result.Entries),
			Truncated: result.Truncated,
			Error:     result.Err,
		}
	case "rebuild":
		s.backend.Rebuild()
		return Response{OK: true}
	case "stats":
		st := s.backend.Stats()
		return Response{OK: true, Count: st.Count}
	default:
		return Response{OK: false, Error: "unknown op"}
	}
}

func toWireEntries(entries []entry.Entry) []WireEntry {
	out := make([]WireEntry, len(entries))
	for i, e := range entries {
		out[i] = WireEntry{Path: e.Path, Kind: kindString(e.Kind), Size: e.Size, Mtime: e.Mtime}
	}
	return out
}

func kindString(k entry.Kind) string {
	if k == entry.Dir {
		return "d"
	}
	return "f"
}
