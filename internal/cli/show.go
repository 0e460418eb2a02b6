package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/arkilian/sessionize/pkg/types"
)

var (
	showLimit int
	runsLimit int
)

func init() {
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(runsCmd)
	showCmd.Flags().IntVarP(&showLimit, "limit", "n", 100, "Number of rows to print (0 for all)")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Number of runs to print")
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print session rows ordered by user, product and time",
	Args:  cobra.NoArgs,
	RunE:  runShow,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Print the run history, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

func runShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.Table().Scan(cmd.Context(), showLimit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER_ID\tEVENT_ID\tPRODUCT_CODE\tTIMESTAMP\tSESSION_START\tSESSION_ID\tPARTITION_DATE")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.UserID, r.EventID, r.ProductCode, types.FormatEventTimestamp(r.Timestamp),
			formatOptional(r.SessionStart), orNull(r.SessionIDString()), r.PartitionDate)
	}
	return tw.Flush()
}

func runRuns(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.Table().Runs(cmd.Context(), runsLimit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tPROCESS_DATE\tMODE\tCANDIDATES\tINSERTED\tUPDATED\tUNCHANGED\tSKIPPED\tCOMMITTED_AT\tRUN_ID")
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.TableVersion, r.ProcessDate, r.Mode, r.Candidates, r.Inserted, r.Updated,
			r.Unchanged, r.Skipped, r.CommittedAt.Format(time.RFC3339), r.RunID)
	}
	return tw.Flush()
}

func formatOptional(ts *time.Time) string {
	if ts == nil {
		return "null"
	}
	return types.FormatTimestamp(*ts)
}

func orNull(s string) string {
	if s == "" {
		return "null"
	}
	return s
}
