package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/enrich-cli/internal/eligibility"
)

var (
	estimateFlags requestFlags
	estimateJSON  bool
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Project eligible counts and cost for a run without executing it",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initLocalEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		req, err := estimateFlags.build()
		if err != nil {
			return err
		}

		est, err := e.Eval.Estimate(ctx, req)
		if err != nil {
			return eris.Wrap(err, "estimate")
		}

		if estimateJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(est)
		}

		formatEstimate(os.Stdout, req.EnabledStages, est)
		return nil
	},
}

func init() {
	estimateFlags.register(estimateCmd)
	estimateCmd.Flags().BoolVar(&estimateJSON, "json", false, "print the estimate as JSON")
	rootCmd.AddCommand(estimateCmd)
}

// formatEstimate writes the per-stage projection in enabled-stage order.
func formatEstimate(out io.Writer, order []string, est *eligibility.Estimate) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STAGE\tELIGIBLE\tPER ITEM\tEST COST\tNOTE")
	_, _ = fmt.Fprintln(w, "-----\t--------\t--------\t--------\t----")

	for _, code := range order {
		se, ok := est.Stages[code]
		if !ok {
			continue
		}
		note := ""
		if se.Gate {
			note = "gate (free)"
		} else if se.EligibleCount == 0 && se.UpstreamPotential > 0 {
			note = fmt.Sprintf("up to %d pending upstream gate", se.UpstreamPotential)
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t$%.4f\t$%.4f\t%s\n",
			se.StageCode, se.EligibleCount, se.CostPerItem, se.EstimatedCost, note)
	}
	_, _ = fmt.Fprintf(w, "\nTotal estimated cost:\t$%.4f\n", est.TotalCost)
	_ = w.Flush()
}
