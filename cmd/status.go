package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/enrich-cli/internal/ledger"
	"github.com/sells-group/enrich-cli/internal/model"
)

var (
	statusTag      string
	statusJSON     bool
	statusWatch    bool
	statusInterval time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show progress and cost for a scope's active or latest run",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initLocalEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		scope := model.Scope{Tag: statusTag}

		for {
			snap, err := ledger.Snapshot(ctx, e.Store, scope)
			if err != nil {
				return eris.Wrap(err, "status snapshot")
			}

			if statusJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(snap); err != nil {
					return err
				}
			} else {
				formatSnapshot(os.Stdout, snap)
			}

			if !statusWatch || snap.Pipeline == nil || snap.Pipeline.Status.Terminal() {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(statusInterval):
			}
		}
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusTag, "tag", "", "entity list tag (required)")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the snapshot as JSON")
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "poll until the run reaches a terminal state")
	statusCmd.Flags().DurationVar(&statusInterval, "interval", 5*time.Second, "poll interval for --watch")
	_ = statusCmd.MarkFlagRequired("tag")
	rootCmd.AddCommand(statusCmd)
}

// formatSnapshot writes the run header and per-stage progress table.
func formatSnapshot(out io.Writer, snap *model.StatusSnapshot) {
	if snap.Pipeline == nil {
		fmt.Fprintln(out, "No runs found for this scope.")
		return
	}
	p := snap.Pipeline

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", p.ID)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", p.Status)
	if p.Reason != "" {
		_, _ = fmt.Fprintf(w, "Reason:\t%s\n", p.Reason)
	}
	_, _ = fmt.Fprintf(w, "Started:\t%s\n", p.StartedAt.Format("2006-01-02 15:04:05"))
	_, _ = fmt.Fprintf(w, "Total cost:\t$%.4f\n", p.TotalCost)
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, "STAGE\tDONE\tFAILED\tELIGIBLE\tCOST\tCURRENT")
	_, _ = fmt.Fprintln(w, "-----\t----\t------\t--------\t----\t-------")
	for _, code := range p.EnabledStages {
		sr, ok := snap.Stages[code]
		if !ok {
			_, _ = fmt.Fprintf(w, "%s\t-\t-\t-\t-\tpending\n", code)
			continue
		}
		current := ""
		if sr.CurrentItem != nil {
			current = sr.CurrentItem.Name
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t$%.4f\t%s\n",
			code, sr.Done, sr.Failed, sr.EligibleTotal, sr.Cost, current)
	}

	for _, code := range p.EnabledStages {
		sr, ok := snap.Stages[code]
		if !ok || len(sr.FailedItems) == 0 {
			continue
		}
		_, _ = fmt.Fprintf(w, "\nFailed in %s:\n", code)
		for _, item := range sr.FailedItems {
			_, _ = fmt.Fprintf(w, "  %s\t%s\n", item.Name, item.Error)
		}
	}
	_ = w.Flush()
}
