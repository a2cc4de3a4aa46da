// Package client is the thin RPC client cmd/les builds on: it dials the
// daemon's Unix socket, sends one newline-delimited JSON request, and
// decodes the response (spec.md §4.6). CLI flag parsing, the interactive
// prompt loop, and output formatting are the external-collaborator surface
// (spec.md §1, §6) and stay in cmd/les.
package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/lesd/les/internal/query"
	"github.com/lesd/les/internal/rpcserver"
)

// Client holds a connection to a running daemon.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects to the daemon listening on socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("client: connect to %s: %w", socketPath, err)
	}
	return &Client{conn: conn, r: bufio.NewReader(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Query sends a query request and returns the decoded result.
func (c *Client) Query(q query.Query) (rpcserver.Response, error) {
	return c.roundTrip(rpcserver.Request{Op: "query", Query: toWireQuery(q)})
}

// Rebuild triggers a background rescan.
func (c *Client) Rebuild() (rpcserver.Response, error) {
	return c.roundTrip(rpcserver.Request{Op: "rebuild"})
}

// Stats fetches the index size (the response's Count).
func (c *Client) Stats() (rpcserver.Response, error) {
	return c.roundTrip(rpcserver.Request{Op: "stats"})
}

func (c *Client) roundTrip(req rpcserver.Request) (rpcserver.Response, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return rpcserver.Response{}, err
	}
	b = append(b, '\n')
	if _, err := c.conn.Write(b); err != nil {
		return rpcserver.Response{}, fmt.Errorf("client: write: %w", err)
	}

	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return rpcserver.Response{}, fmt.Errorf("client: read: %w", err)
	}
	var resp rpcserver.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return rpcserver.Response{}, fmt.Errorf("client: decode response: %w", err)
	}
	return resp, nil
}

func toWireQuery(q query.Query) *rpcserver.WireQuery {
	return &rpcserver.WireQuery{
		Pattern:   q.Pattern,
		Mode:      string(q.Mode),
		FilesOnly: q.FilesOnly,
		DirsOnly:  q.DirsOnly,
		MinSize:   q.MinSize,
		MaxSize:   q.MaxSize,
		MinMtime:  q.MinMtime,
		MaxMtime:  q.MaxMtime,
		Roots:     q.Roots,
		Excludes:  q.Excludes,
		Content:   q.Content,
		Limit:     q.Limit,
	}
}
