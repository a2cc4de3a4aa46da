// Command lesd is the local-everything-search daemon: it maintains the
// persistent file index and answers queries over a Unix socket. Flag
// parsing follows the teacher's cobra/pflag convention; everything past
// flag parsing delegates to internal/daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lesd/les/internal/config"
	"github.com/lesd/les/internal/daemon"
	"github.com/lesd/les/internal/logging"
)

func main() {
	var cfg config.Config

	cmd := &cobra.Command{
		Use:   "lesd",
		Short: "Background file-name search daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVar(&cfg.Roots, "roots", nil, "root directory to index (repeatable, defaults to /)")
	flags.StringArrayVar(&cfg.Excludes, "exclude", nil, "substring to exclude from scanning/queries (repeatable)")
	flags.StringVar(&cfg.DBPath, "db-path", config.DefaultDBPath, "path to the entry store database file")
	flags.StringVar(&cfg.Socket, "socket", config.DefaultSocket, "path to the RPC unix socket")
	flags.BoolVar(&cfg.Rebuild, "rebuild", false, "clear the store and index and rescan before serving")
	flags.StringVar(&cfg.LogLevel, "log-level", "info", "log level: debug, info, warn, error")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	if len(cfg.Roots) == 0 {
		cfg.Roots = []string{"/"}
	}

	log := logging.NewDefault("lesd", logging.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := daemon.New(cfg, log)
	if err := d.Run(ctx); err != nil {
		log.Error("daemon exited with error", "error", err)
		return err
	}
	return nil
}
