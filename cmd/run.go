package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/ledger"
	"github.com/sells-group/enrich-cli/internal/model"
)

var (
	runFlags  requestFlags
	runDetach bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an enrichment run over a scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initRunEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		req, err := runFlags.build()
		if err != nil {
			return err
		}

		runID, err := e.Scheduler.Start(ctx, req)
		if err != nil {
			return eris.Wrap(err, "start run")
		}
		fmt.Fprintf(os.Stdout, "run %s started\n", runID)

		if runDetach {
			return nil
		}

		e.Scheduler.Wait(runID)

		snap, err := ledger.Snapshot(ctx, e.Store, req.Scope)
		if err != nil {
			return eris.Wrap(err, "final snapshot")
		}
		formatSnapshot(os.Stdout, snap)

		run, err := e.Store.GetRun(ctx, runID)
		if err != nil {
			return eris.Wrap(err, "load run")
		}
		zap.L().Info("run finished",
			zap.String("run_id", runID),
			zap.String("status", string(run.Status)),
			zap.Float64("total_cost", run.TotalCost),
		)
		if run.Status == model.RunStatusFailed {
			return eris.Errorf("run failed: %s", run.Reason)
		}
		return nil
	},
}

func init() {
	runFlags.register(runCmd)
	runCmd.Flags().BoolVar(&runFlags.allowEmpty, "allow-empty", false, "treat a run with no eligible entities as completed instead of failed")
	runCmd.Flags().BoolVar(&runDetach, "detach", false, "start the run and return immediately")
	rootCmd.AddCommand(runCmd)
}
