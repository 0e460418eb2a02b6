package cli

import (
	"github.com/spf13/cobra"
)

var (
	runProcessDate string
	runInitialLoad bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runProcessDate, "process-date", "", "Date of the raw batch to process (YYYY-MM-DD)")
	runCmd.Flags().BoolVar(&runInitialLoad, "initial-load", false, "Overwrite the partitions of the batch instead of merging (bootstrap only)")
	_ = runCmd.MarkFlagRequired("process-date")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sessionize the raw batch of one day",
	Long: "Loads raw/<process-date>.csv[.sz], pulls the recent history of the affected\n" +
		"(user_id, product_code) pairs back from the session table, sessionizes the union\n" +
		"and merges the result in one transaction.",
	Args: cobra.NoArgs,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Orchestrator().Run(cmd.Context(), runProcessDate, runInitialLoad)
	if res != nil {
		if perr := printJSON(cmd.OutOrStdout(), map[string]interface{}{
			"run_id":        res.RunID,
			"process_date":  res.ProcessDate,
			"mode":          res.Mode,
			"committed":     res.Committed,
			"batch_events":  res.BatchEvents,
			"duplicates":    res.Duplicates,
			"history_rows":  res.HistoryRows,
			"candidates":    res.Candidates,
			"late_events":   res.LateEvents,
			"inserted":      res.Inserted,
			"updated":       res.Updated,
			"unchanged":     res.Unchanged,
			"deleted":       res.Deleted,
			"skipped":       res.Skipped,
			"table_version": res.TableVersion,
			"snapshot":      res.Snapshot,
			"duration":      res.Duration.String(),
			"stages":        res.Stages,
		}); perr != nil && err == nil {
			err = perr
		}
	}
	return err
}
