package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/review"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review and resolve failed or flagged entities",
}

// -- review list --

var (
	reviewListTag   string
	reviewListStage string
)

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List entities awaiting corrective action for a stage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		e, err := initLocalEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		wf := review.New(e.Store, e.Registry)
		items, err := wf.List(ctx, model.Scope{Tag: reviewListTag}, reviewListStage)
		if err != nil {
			return eris.Wrap(err, "review list")
		}

		if len(items) == 0 {
			fmt.Fprintln(os.Stderr, "Nothing pending review.")
			return nil
		}
		formatReviewItems(os.Stdout, items)
		return nil
	},
}

// -- review resolve --

var (
	resolveStage    string
	resolveEntity   string
	resolveDecision string
	resolveBy       string
)

var reviewResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Apply a decision to a pending entity",
	Long:  "Decisions: approve keeps the record and clears it from the queue, retry makes the entity eligible again on the next run, disqualify permanently excludes it from the stage.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		e, err := initLocalEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		wf := review.New(e.Store, e.Registry)
		err = wf.Resolve(ctx, review.ResolveRequest{
			EntityID:  resolveEntity,
			StageCode: resolveStage,
			Decision:  model.ReviewDecision(resolveDecision),
			DecidedBy: resolveBy,
		})
		if err != nil {
			return eris.Wrap(err, "review resolve")
		}
		fmt.Fprintf(os.Stdout, "%s: %s on %s\n", resolveDecision, resolveEntity, resolveStage)
		return nil
	},
}

// -- review history --

var reviewHistoryCmd = &cobra.Command{
	Use:   "history <entity-id> <stage>",
	Short: "Show the resolution audit trail for an entity and stage",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initLocalEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		wf := review.New(e.Store, e.Registry)
		resolutions, err := wf.History(ctx, args[0], args[1])
		if err != nil {
			return eris.Wrap(err, "review history")
		}
		if len(resolutions) == 0 {
			fmt.Fprintln(os.Stderr, "No resolutions recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "DECIDED\tDECISION\tBY")
		for _, r := range resolutions {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n",
				r.DecidedAt.Format("2006-01-02 15:04"), r.Decision, r.DecidedBy)
		}
		return w.Flush()
	},
}

func init() {
	reviewListCmd.Flags().StringVar(&reviewListTag, "tag", "", "entity list tag (required)")
	reviewListCmd.Flags().StringVar(&reviewListStage, "stage", "", "stage code (required)")
	_ = reviewListCmd.MarkFlagRequired("tag")
	_ = reviewListCmd.MarkFlagRequired("stage")

	reviewResolveCmd.Flags().StringVar(&resolveStage, "stage", "", "stage code (required)")
	reviewResolveCmd.Flags().StringVar(&resolveEntity, "entity", "", "entity ID (required)")
	reviewResolveCmd.Flags().StringVar(&resolveDecision, "decision", "", "approve, retry, or disqualify (required)")
	reviewResolveCmd.Flags().StringVar(&resolveBy, "by", "", "operator applying the decision")
	_ = reviewResolveCmd.MarkFlagRequired("stage")
	_ = reviewResolveCmd.MarkFlagRequired("entity")
	_ = reviewResolveCmd.MarkFlagRequired("decision")

	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewResolveCmd)
	reviewCmd.AddCommand(reviewHistoryCmd)
	rootCmd.AddCommand(reviewCmd)
}

// formatReviewItems writes the pending queue as a table.
func formatReviewItems(out io.Writer, items []model.ReviewItem) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ENTITY\tNAME\tSTATUS\tFLAGS\tCOST\tERROR")
	_, _ = fmt.Fprintln(w, "------\t----\t------\t-----\t----\t-----")
	for _, item := range items {
		errMsg := item.Error
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t$%.4f\t%s\n",
			truncateID(item.EntityID), item.Name, item.Status,
			strings.Join(item.Flags, ","), item.Cost, errMsg)
	}
	_ = w.Flush()
}
