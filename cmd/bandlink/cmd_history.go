package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	cmdHistory = &cobra.Command{
		Use:   "history",
		Short: "List recorded transfers",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
)

var historyLimit int
var historyKind string
var historyJSON bool

func init() {
	rootCmd.AddCommand(cmdHistory)
	cmdHistory.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum transfers to show, 0 for all")
	cmdHistory.Flags().StringVar(&historyKind, "kind", "", "Only show dfu or sync transfers")
	cmdHistory.Flags().BoolVar(&historyJSON, "json", false, "Print JSON")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(_ context.Context, a *app) error {
		return a.history(cmd, historyLimit, historyKind, historyJSON)
	})
}

func (a *app) history(cmd *cobra.Command, limit int, kind string, asJSON bool) error {
	fetch := limit
	if kind != "" {
		fetch = 0
	}
	transfers, err := a.store.ListTransfers(fetch)
	if err != nil {
		return fmt.Errorf("list transfers: %w", err)
	}
	if kind != "" {
		filtered := transfers[:0]
		for _, t := range transfers {
			if t.Kind == kind {
				filtered = append(filtered, t)
			}
		}
		transfers = filtered
		if limit > 0 && len(transfers) > limit {
			transfers = transfers[:limit]
		}
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(transfers)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tDEVICE\tSTARTED\tSTATE\tBYTES\tELAPSED\tERROR")
	for _, t := range transfers {
		state := t.State
		if t.Verified != nil && !*t.Verified {
			state += " (digest mismatch)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			t.ID, t.Kind, t.Device, t.StartedAt.Format(time.DateTime), state,
			t.Bytes, t.Elapsed.Round(time.Millisecond), t.Error)
	}
	return w.Flush()
}
