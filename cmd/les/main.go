// Command les is the client: it turns CLI flags into a single Query
// request, prints the results, and exits. It is the external-collaborator
// surface spec.md §1/§6 describes (argument parsing, output formatting,
// the interactive prompt loop) — the daemon (cmd/lesd) holds the real
// logic.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lesd/les/internal/client"
	"github.com/lesd/les/internal/config"
	"github.com/lesd/les/internal/query"
)

func main() {
	var (
		socket    string
		mode      string
		filesOnly bool
		dirsOnly  bool
		minSize   string
		maxSize   string
		minMtime  int64
		maxMtime  int64
		roots     []string
		excludes  []string
		content   string
	)

	cmd := &cobra.Command{
		Use:   "les [pattern]",
		Short: "Query the les daemon for matching file names",
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := ""
			if len(args) > 0 {
				pattern = args[0]
			}

			q := query.Query{
				Pattern:   pattern,
				Mode:      query.Mode(mode),
				FilesOnly: filesOnly,
				DirsOnly:  dirsOnly,
				Roots:     roots,
				Excludes:  excludes,
				Content:   content,
			}
			if minSize != "" {
				v, err := strconv.ParseUint(minSize, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid --min-size: %w", err)
				}
				q.MinSize = &v
			}
			if maxSize != "" {
				v, err := strconv.ParseUint(maxSize, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid --max-size: %w", err)
				}
				q.MaxSize = &v
			}
			if cmd.Flags().Changed("min-mtime") {
				q.MinMtime = &minMtime
			}
			if cmd.Flags().Changed("max-mtime") {
				q.MaxMtime = &maxMtime
			}

			return runQuery(socket, q)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&socket, "socket", config.DefaultSocket, "path to the daemon's RPC unix socket")
	flags.StringVar(&mode, "mode", "substring", "pattern mode: substring, glob, regex")
	flags.BoolVar(&filesOnly, "files-only", false, "only match files")
	flags.BoolVar(&dirsOnly, "dirs-only", false, "only match directories")
	flags.StringVar(&minSize, "min-size", "", "minimum size in bytes, inclusive")
	flags.StringVar(&maxSize, "max-size", "", "maximum size in bytes, inclusive")
	flags.Int64Var(&minMtime, "min-mtime", 0, "minimum mtime (unix seconds), inclusive")
	flags.Int64Var(&maxMtime, "max-mtime", 0, "maximum mtime (unix seconds), inclusive")
	flags.StringArrayVar(&roots, "roots", nil, "restrict matches to paths under this root (repeatable)")
	flags.StringArrayVar(&excludes, "exclude", nil, "exclude paths containing this substring (repeatable)")
	flags.StringVar(&content, "content", "", "also require this substring in file contents")
	flags.Bool("interactive", false, "read patterns from stdin in a loop")

	cmd.RunE = wrapInteractive(cmd.RunE, &socket)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// wrapInteractive adds the "empty line exits" interactive loop spec.md §6
// describes, without disturbing the single-shot path above.
func wrapInteractive(inner func(*cobra.Command, []string) error, socket *string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		interactive, _ := cmd.Flags().GetBool("interactive")
		if !interactive {
			return inner(cmd, args)
		}
		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("> ")
			if !scanner.Scan() {
				return nil
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				return nil
			}
			if err := runQuery(*socket, query.Query{Pattern: line, Mode: query.ModeSubstring}); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		}
	}
}

// displayKind renders the wire kind ("d" or "f") as the "d"/"-" spec.md §6
// specifies for the client's own output format.
func displayKind(wireKind string) string {
	if wireKind == "d" {
		return "d"
	}
	return "-"
}

func runQuery(socket string, q query.Query) error {
	c, err := client.Dial(socket)
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.Query(q)
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("query failed: %s", resp.Error)
	}
	for _, e := range resp.Entries {
		fmt.Printf("%s\t%d\t%d\t%s\n", displayKind(e.Kind), e.Size, e.Mtime, e.Path)
	}
	if resp.Truncated {
		fmt.Fprintln(os.Stderr, "(results truncated)")
	}
	if resp.Error != "" {
		fmt.Fprintln(os.Stderr, resp.Error)
	}
	return nil
}
