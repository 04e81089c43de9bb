package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/config"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/storage"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	var dbPath string
	var serverMode bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "create or update the changeset/node/way/relation schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			limits, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			// storage.New runs the idempotent schema initializer as part
			// of opening the store, so migrate is just open-then-close.
			store, err := storage.New(cmd.Context(), storage.Config{
				Path:        dbPath,
				ServerMode:  serverMode,
				LockTimeout: limits.ChangesetLockTimeout,
			})
			if err != nil {
				return err
			}
			defer store.Close()
			slog.Info("schema up to date", "path", dbPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "./osmupload-data", "embedded Dolt database directory")
	cmd.Flags().BoolVar(&serverMode, "server-mode", false, "connect to a running dolt sql-server instead of embedded mode")
	return cmd
}
