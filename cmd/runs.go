package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect run history",
	Long:  "Commands for listing runs, viewing their configuration, and drilling into per-entity outcomes.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		e, err := initLocalEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		tag, _ := cmd.Flags().GetString("tag")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		page, _ := cmd.Flags().GetInt("page")

		runs, err := e.Store.ListRuns(ctx, store.RunFilter{
			Tag:    tag,
			Status: model.RunStatus(status),
			Limit:  limit,
			Offset: pageOffset(page, limit),
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run's full configuration and outcome",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initLocalEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		run, err := e.Store.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs entities --

var runsEntitiesCmd = &cobra.Command{
	Use:   "entities <run-id>",
	Short: "Show per-entity outcomes for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initLocalEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		stageCode, _ := cmd.Flags().GetString("stage")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		page, _ := cmd.Flags().GetInt("page")

		outcomes, err := e.Store.RunOutcomes(ctx, args[0], store.OutcomeFilter{
			StageCode: stageCode,
			Status:    model.CompletionStatus(status),
			Limit:     limit,
			Offset:    pageOffset(page, limit),
		})
		if err != nil {
			return eris.Wrap(err, "runs entities")
		}

		if len(outcomes) == 0 {
			fmt.Fprintln(os.Stderr, "No outcomes found.")
			return nil
		}
		formatOutcomes(os.Stdout, outcomes)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("tag", "", "filter by scope tag")
	runsListCmd.Flags().String("status", "", "filter by run status (configuring, running, completed, failed, stopped)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsListCmd.Flags().Int("page", 1, "1-based page of results")

	runsEntitiesCmd.Flags().String("stage", "", "filter by stage code")
	runsEntitiesCmd.Flags().String("status", "", "filter by completion status")
	runsEntitiesCmd.Flags().Int("limit", 200, "max number of outcomes to display")
	runsEntitiesCmd.Flags().Int("page", 1, "1-based page of results")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsEntitiesCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.PipelineRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTAG\tSTATUS\tSTAGES\tCOST\tSTARTED")
	_, _ = fmt.Fprintln(w, "--\t---\t------\t------\t----\t-------")

	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t$%.4f\t%s\n",
			truncateID(r.ID),
			r.Scope.Tag,
			r.Status,
			len(r.EnabledStages),
			r.TotalCost,
			r.StartedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatOutcomes writes a run's per-entity drill-down to w.
func formatOutcomes(out io.Writer, outcomes []model.EntityOutcome) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ENTITY\tNAME\tSTAGE\tSTATUS\tCOST\tERROR")
	_, _ = fmt.Fprintln(w, "------\t----\t-----\t------\t----\t-----")

	for _, o := range outcomes {
		status := string(o.Status)
		if o.Passed != nil {
			if *o.Passed {
				status = "passed"
			} else {
				status = "failed gate"
			}
		}
		errMsg := o.Error
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t$%.4f\t%s\n",
			truncateID(o.EntityID), o.Name, o.StageCode, status, o.Cost, errMsg)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
