package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/odvcencio/autopilot/pkg/config"
	"github.com/odvcencio/autopilot/pkg/runlog"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs from the run ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), a, limit, asJSON, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}

func runHistory(ctx context.Context, a *app, limit int, asJSON bool, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ledger, err := runlog.Open(config.ExpandPath(a.cfg.History.Path))
	if err != nil {
		return classify(err)
	}
	defer ledger.Close()

	entries, err := ledger.Recent(ctx, limit)
	if err != nil {
		return classify(err)
	}

	if asJSON {
		if entries == nil {
			entries = []runlog.Entry{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		if !a.cfg.History.Enabled {
			fmt.Fprintln(out, "Enable history.enabled in the config (or set AUTOPILOT_HISTORY_PATH) to record runs.")
		}
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tPLAN\tREPO\tSTATUS\tDURATION\tDETAIL")
	for _, e := range entries {
		status := e.Status
		if e.DryRun && status != "dry_run" {
			status += " (dry run)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.StartedAt.Local().Format("2006-01-02 15:04:05"),
			e.PlanID,
			e.Repo,
			status,
			(time.Duration(e.DurationMS) * time.Millisecond).String(),
			e.Detail,
		)
	}
	return tw.Flush()
}
