// Command osmupload exercises the changeset upload engine from the
// command line: start a storage-backed session, feed it an osmChange
// document, or run schema migrations, without standing up the HTTP
// transport the core spec deliberately leaves out.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var logLevel string

	root := &cobra.Command{
		Use:   "osmupload",
		Short: "osmChange upload engine",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML limits config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(logLevel)})))
	}

	root.AddCommand(newServeCmd(&configPath), newUploadCmd(&configPath), newMigrateCmd(&configPath))
	return root
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
