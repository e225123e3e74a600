package main

import (
	"context"
	"errors"
	"fmt"

	"replayctl/internal/archive"
	"replayctl/internal/credentials"
	"replayctl/internal/logging"

	"github.com/spf13/cobra"
)

var authHeadersFile string

var authCmd = &cobra.Command{
	Use:   "auth <coll>",
	Short: "Send fresh credential headers for a collection",
	Long: `Posts credential headers to the backend's updateAuth endpoint for a
collection loaded on demand from delegated storage.

The headers file holds either {"headers": {...}} or a flat JSON object,
for example {"Authorization": "Bearer ..."}.`,
	Args: cobra.ExactArgs(1),
	RunE: runAuth,
}

func init() {
	authCmd.Flags().StringVar(&authHeadersFile, "headers-file", "", "JSON headers file (default: credentials.headers_file)")
}

func runAuth(cmd *cobra.Command, args []string) error {
	path := authHeadersFile
	if path == "" {
		path = cfg.Credentials.HeadersFile
	}
	if path == "" {
		return errors.New("no headers file: pass --headers-file or set credentials.headers_file")
	}
	headers, err := credentials.LoadHeaders(path)
	if err != nil {
		return err
	}

	client, err := archive.NewClient(cfg.APIURL(), cfg.GetBackendTimeout(), logs.Get(logging.CategoryArchive))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	if err := client.UpdateAuth(ctx, args[0], headers); err != nil {
		return fmt.Errorf("failed to update credentials for %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Updated credentials for %s (%d headers)\n", args[0], len(headers))
	return nil
}
