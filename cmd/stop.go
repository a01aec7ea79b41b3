package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/enrich-cli/internal/model"
)

var stopTag string

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the scope's active run",
	Long:  "Marks the active run stopped. The executing process picks the signal up at the next stage boundary; in-flight entity executions finish and are recorded. Stopping an already-terminal run is a no-op.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initLocalEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		run, err := e.Store.ActiveRun(ctx, stopTag)
		if err != nil {
			return eris.Wrap(err, "find active run")
		}
		if run == nil {
			fmt.Fprintln(os.Stderr, "No active run for this scope.")
			return nil
		}

		if err := e.Store.UpdateRunStatus(ctx, run.ID, model.RunStatusStopped, "stop requested"); err != nil {
			return eris.Wrap(err, "stop run")
		}
		fmt.Fprintf(os.Stdout, "run %s stopped\n", run.ID)
		return nil
	},
}

func init() {
	stopCmd.Flags().StringVar(&stopTag, "tag", "", "entity list tag (required)")
	_ = stopCmd.MarkFlagRequired("tag")
	rootCmd.AddCommand(stopCmd)
}
