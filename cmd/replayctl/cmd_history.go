package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"replayctl/cmd/replayctl/ui"
	"replayctl/internal/history"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded replay locations",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum entries to show (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := history.NewStore(cfg.History.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer store.Close()

	entries, err := store.List(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	return printHistory(cmd.OutOrStdout(), entries)
}

func printHistory(w io.Writer, entries []history.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No history recorded.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UPDATED\tCOLL\tCAPTURE\tVISITS\tTITLE\tURL")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			humanize.Time(e.UpdatedAt), e.Collection, ui.CaptureDate(e.Timestamp), e.Visits, e.Title, e.URL)
	}
	return tw.Flush()
}
