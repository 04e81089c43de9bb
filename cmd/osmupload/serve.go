package main

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/config"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/storage"
)

func newServeCmd(configPath *string) *cobra.Command {
	var dbPath string
	var serverMode bool
	var serverHost string
	var serverPort int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "open the storage engine and hold it ready for upload sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			limits, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := storage.New(ctx, storage.Config{
				Path:        dbPath,
				ServerMode:  serverMode,
				ServerHost:  serverHost,
				ServerPort:  serverPort,
				LockTimeout: limits.ChangesetLockTimeout,
			})
			if err != nil {
				return err
			}
			defer store.Close()

			slog.Info("osmupload storage ready", "path", dbPath, "server_mode", serverMode)
			<-ctx.Done()
			slog.Info("shutting down")
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "./osmupload-data", "embedded Dolt database directory")
	cmd.Flags().BoolVar(&serverMode, "server-mode", false, "connect to a running dolt sql-server instead of embedded mode")
	cmd.Flags().StringVar(&serverHost, "server-host", "127.0.0.1", "dolt sql-server host")
	cmd.Flags().IntVar(&serverPort, "server-port", 3307, "dolt sql-server port")
	return cmd
}
