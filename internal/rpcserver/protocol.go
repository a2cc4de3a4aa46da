// Package rpcserver implements the request/response RPC service described
// in spec.md §4.6: newline-delimited JSON over a local Unix domain socket,
// one goroutine per connection, requests served strictly in order on each
// connection. Grounded on rclone's fs/rc request/response conventions
// (rc.Params, rc.WriteJSON) adapted from HTTP to a raw socket.
package rpcserver

import "github.com/lesd/les/internal/query"

// Request is the envelope every client message is decoded into.
type Request struct {
	Op    string     `json:"op"`
	Query *WireQuery `json:"query,omitempty"`
}

// WireQuery mirrors query.Query for JSON transport; pointer fields keep
// "absent" distinguishable from "zero" for the optional bounds.
type WireQuery struct {
	Pattern   string   `json:"pattern"`
	Mode      string   `json:"mode,omitempty"`
	FilesOnly bool     `json:"files_only,omitempty"`
	DirsOnly  bool     `json:"dirs_only,omitempty"`
	MinSize   *uint64  `json:"min_size,omitempty"`
	MaxSize   *uint64  `json:"max_size,omitempty"`
	MinMtime  *int64   `json:"min_mtime,omitempty"`
	MaxMtime  *int64   `json:"max_mtime,omitempty"`
	Roots     []string `json:"roots,omitempty"`
	Excludes  []string `json:"excludes,omitempty"`
	Content   string   `json:"content,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

// toQuery converts the wire shape into an internal query.Query.
func (q *WireQuery) toQuery() query.Query {
	if q == nil {
		return query.Query{}
	}
	return query.Query{
		Pattern:   q.Pattern,
		Mode:      query.Mode(q.Mode),
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

// WireEntry mirrors entry.Entry for JSON transport.
type WireEntry struct {
	Path  string `json:"path"`
	Kind  string `json:"kind"`
	Size  uint64 `json:"size"`
	Mtime int64  `json:"mtime"`
}

// Response is the envelope every server reply is encoded from.
type Response struct {
	OK        bool        `json:"ok"`
	Error     string      `json:"error,omitempty"`
	Entries   []WireEntry `json:"entries,omitempty"`
	Truncated bool        `json:"truncated,omitempty"`
	Count     int         `json:"count,omitempty"`
}
