package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"replayctl/internal/archive"
	"replayctl/internal/logging"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	collsSort string
	collsDesc bool
	collsJSON bool
)

var collsCmd = &cobra.Command{
	Use:   "colls",
	Short: "List and delete archive collections",
	Long: `Manage the collections known to the replay backend.

Subcommands:
  list     - List collections, sorted by title, sourceUrl, ctime or size
  delete   - Delete a collection`,
}

var collsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collections",
	Args:  cobra.NoArgs,
	RunE:  runCollsList,
}

var collsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a collection",
	Args:  cobra.ExactArgs(1),
	RunE:  runCollsDelete,
}

func init() {
	collsListCmd.Flags().StringVar(&collsSort, "sort", "title", "Sort key: title, sourceUrl, ctime, size")
	collsListCmd.Flags().BoolVar(&collsDesc, "desc", false, "Sort descending")
	collsListCmd.Flags().BoolVar(&collsJSON, "json", false, "Print the listing as JSON")

	collsCmd.AddCommand(collsListCmd)
	collsCmd.AddCommand(collsDeleteCmd)
}

func newIndex() (*archive.Index, error) {
	client, err := archive.NewClient(cfg.APIURL(), cfg.GetBackendTimeout(), logs.Get(logging.CategoryArchive))
	if err != nil {
		return nil, err
	}
	return archive.NewIndex(client, logs.Get(logging.CategoryArchive)), nil
}

func runCollsList(cmd *cobra.Command, args []string) error {
	key, err := archive.ParseSortKey(collsSort)
	if err != nil {
		return err
	}
	index, err := newIndex()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	if err := index.Load(ctx); err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	colls := index.Sorted(key, collsDesc)
	if collsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(colls)
	}
	return printCollections(cmd.OutOrStdout(), colls)
}

func printCollections(w io.Writer, colls []archive.Collection) error {
	if len(colls) == 0 {
		_, err := fmt.Fprintln(w, "No collections found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSOURCE\tCREATED\tSIZE")
	for _, c := range colls {
		created := "-"
		if t := c.Created(); !t.IsZero() {
			created = humanize.Time(t)
		}
		source := c.SourceURL
		if c.OnDemand {
			source += " (on demand)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.DisplayTitle(), source, created, humanize.Bytes(uint64(c.Size)))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Total: %d collections\n", len(colls))
	return err
}

func runCollsDelete(cmd *cobra.Command, args []string) error {
	index, err := newIndex()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	if err := index.Load(ctx); err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	if err := index.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s (%d collections remain)\n", args[0], len(index.Collections()))
	return nil
}
