// Package query implements the Query Engine: it evaluates a Query against
// an Index snapshot and produces a Result, grounded on the filter-pipeline
// shape seen in the pack's query engines (e.g. gastrolog/internal/query).
package query

import (
	"context"
	"fmt"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/lesd/les/internal/entry"
)

// Mode selects how Pattern is interpreted.
type Mode string

// Pattern interpretation modes (spec.md §3).
const (
	ModeSubstring Mode = "substring"
	ModeGlob      Mode = "glob"
	ModeRegex     Mode = "regex"
)

// DefaultLimit is applied when Query.Limit is zero.
const DefaultLimit = 1000

// DefaultContentDeadline bounds the optional content pass (spec.md §5).
const DefaultContentDeadline = 30 * time.Second

// Query is the value object a client assembles and sends to the server.
type Query struct {
	Pattern   string
	Mode      Mode
	FilesOnly bool
	DirsOnly  bool

	MinSize *uint64
	MaxSize *uint64

	MinMtime *int64
	MaxMtime *int64

	Roots    []string
	Excludes []string

	Content string

	Limit int
}

// Result is the ordered, possibly-truncated outcome of running a Query.
type Result struct {
	Entries   []entry.Entry
	Truncated bool
	// Err carries a non-fatal explanation when the content pass hit its
	// soft deadline and returned a partial result (spec.md §5).
	Err string
}

// Engine evaluates queries against Index snapshots.
type Engine struct {
	// GlobalExcludes are the daemon-wide exclusion substrings (spec.md §3),
	// unioned with any per-query Excludes.
	GlobalExcludes []string
	ContentDeadline time.Duration
}

// NewEngine returns an Engine with the given daemon-wide exclusions.
func NewEngine(globalExcludes []string) *Engine {
	return &Engine{GlobalExcludes: globalExcludes, ContentDeadline: DefaultContentDeadline}
}

// Run evaluates q against entries (an Index snapshot) and returns the
// Result. entries need not be sorted; Run sorts the survivors itself.
func (e *Engine) Run(ctx context.Context, q Query, entries []entry.Entry) (Result, error) {
	if q.FilesOnly && q.DirsOnly {
		return Result{}, fmt.Errorf("query: files_only and dirs_only are mutually exclusive")
	}

	matcher, err := buildMatcher(q.Mode, q.Pattern)
	if err != nil {
		return Result{}, err
	}

	excludes := make([]string, 0, len(e.GlobalExcludes)+len(q.Excludes))
	excludes = append(excludes, e.GlobalExcludes...)
	excludes = append(excludes, q.Excludes...)

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	var survivors []entry.Entry
	for _, en := range entries {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if !passesFilters(en, q, excludes) {
			continue
		}
		if !matcher(en.Path) {
			continue
		}
		survivors = append(survivors, en)
	}

	var contentErr string
	if q.Content != "" {
		deadline := e.ContentDeadline
		if deadline <= 0 {
			deadline = DefaultContentDeadline
		}
		cctx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()
		filtered, timedOut := filterByContent(cctx, survivors, q.Content)
		survivors = filtered
		if timedOut {
			contentErr = "content pass exceeded soft deadline; results are partial"
		}
	}

	sort.Slice(survivors, func(i, j int) bool { return survivors[i].Path < survivors[j].Path })

	truncated := contentErr != ""
	if len(survivors) > limit {
		survivors = survivors[:limit]
		truncated = true
	}

	return Result{Entries: survivors, Truncated: truncated, Err: contentErr}, nil
}

// passesFilters applies type -> size -> mtime -> root-prefix -> exclude
// filters, in the order spec.md §4.5 mandates, short-circuiting on the
// first failure.
func passesFilters(en entry.Entry, q Query, excludes []string) bool {
	if q.FilesOnly && en.IsDir() {
		return false
	}
	if q.DirsOnly && !en.IsDir() {
		return false
	}
	if q.MinSize != nil && en.Size < *q.MinSize {
		return false
	}
	if q.MaxSize != nil && en.Size > *q.MaxSize {
		return false
	}
	if q.MinMtime != nil && en.Mtime < *q.MinMtime {
		return false
	}
	if q.MaxMtime != nil && en.Mtime > *q.MaxMtime {
		return false
	}
	if len(q.Roots) > 0 && !underAnyRoot(en.Path, q.Roots) {
		return false
	}
	for _, x := range excludes {
		if x != "" && strings.Contains(en.Path, x) {
			return false
		}
	}
	return true
}

// underAnyRoot reports whether path is, or is directly/indirectly inside,
// one of roots — directory-boundary aware so "/a" matches "/a/b" but not
// "/ab" (spec.md §3, §4.5).
func underAnyRoot(p string, roots []string) bool {
	for _, r := range roots {
		if p == r || strings.HasPrefix(p, r+"/") {
			return true
		}
	}
	return false
}

// buildMatcher compiles the name predicate for mode/pattern.
func buildMatcher(mode Mode, pattern string) (func(string) bool, error) {
	switch mode {
	case "", ModeSubstring:
		if pattern == "" {
			return func(string) bool { return true }, nil
		}
		return func(p string) bool { return strings.Contains(p, pattern) }, nil
	case ModeGlob:
		if pattern == "" {
			return func(string) bool { return true }, nil
		}
		// Matched against the full path, not the basename — a documented
		// choice (spec.md §9 Open Question), matching path.Match's
		// "/"-delimited semantics against the whole string.
		return func(p string) bool {
			ok, err := path.Match(pattern, p)
			return err == nil && ok
		}, nil
	case ModeRegex:
		if pattern == "" {
			return func(string) bool { return true }, nil
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("query: invalid regex: %w", err)
		}
		// Unanchored "contains a match" semantics, fixed per spec.md §4.5/§9.
		return re.MatchString, nil
	default:
		return nil, fmt.Errorf("query: unknown mode %q", mode)
	}
}

// filterByContent opens each surviving file and keeps it only if it
// contains substr. Files that fail to open are skipped, not reported as
// an error (spec.md §4.5, §7). Directories never match. If ctx's deadline
// is hit first, filterByContent returns what it found so far and true.
func filterByContent(ctx context.Context, entries []entry.Entry, substr string) ([]entry.Entry, bool) {
	var out []entry.Entry
	needle := []byte(substr)
	for _, en := range entries {
		if ctx.Err() != nil {
			return out, true
		}
		if en.IsDir() {
			continue
		}
		if fileContains(en.Path, needle) {
			out = append(out, en)
		}
	}
	return out, false
}

func fileContains(path string, needle []byte) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	const chunkSize = 64 * 1024
	overlap := len(needle) - 1
	if overlap < 0 {
		overlap = 0
	}
	buf := make([]byte, chunkSize+overlap)
	carry := 0
	for {
		n, err := f.Read(buf[carry:])
		total := carry + n
		if total > 0 && bytesContains(buf[:total], needle) {
			return true
		}
		if err != nil {
			return false
		}
		if overlap > 0 && total >= overlap {
			copy(buf[:overlap], buf[total-overlap:total])
			carry = overlap
		} else {
			carry = total
		}
	}
}

func bytesContains(haystack, needle []byte) bool {
	return strings.Contains(string(haystack), string(needle))
}
