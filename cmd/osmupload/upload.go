package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/config"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/osm"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/storage"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/upload"
)

func newUploadCmd(configPath *string) *cobra.Command {
	var dbPath string
	var changesetID int64
	var uploaderID int64
	var contentType string
	var accept string

	cmd := &cobra.Command{
		Use:   "upload <osmChange-file>",
		Short: "apply an osmChange document to a changeset and print the diffResult",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limits, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			payload, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}

			ctx := cmd.Context()
			store, err := storage.New(ctx, storage.Config{Path: dbPath, LockTimeout: limits.ChangesetLockTimeout})
			if err != nil {
				return err
			}
			defer store.Close()

			req := upload.Request{
				ChangesetID: osm.ChangesetID(changesetID),
				UploaderID:  osm.UserID(uploaderID),
				ContentType: parseContentType(contentType),
				Accept:      parseContentType(accept),
				Payload:     payload,
			}

			body, mediaType, err := upload.Run(ctx, store, limits, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "# %s\n", mediaType)
			_, err = cmd.OutOrStdout().Write(body)
			return err
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "./osmupload-data", "embedded Dolt database directory")
	cmd.Flags().Int64Var(&changesetID, "changeset", 0, "changeset id to upload against")
	cmd.Flags().Int64Var(&uploaderID, "user", 0, "uploading user id")
	cmd.Flags().StringVar(&contentType, "content-type", "xml", "osmChange document format: xml or json")
	cmd.Flags().StringVar(&accept, "accept", "xml", "diffResult response format: xml or json")
	_ = cmd.MarkFlagRequired("changeset")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func parseContentType(s string) upload.ContentType {
	if s == "json" || s == "application/json" {
		return upload.ContentTypeJSON
	}
	return upload.ContentTypeXML
}
