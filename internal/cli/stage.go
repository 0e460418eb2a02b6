package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	stageProcessDate string
	stageFile        string
	stageCompress    bool
)

func init() {
	rootCmd.AddCommand(stageCmd)
	stageCmd.Flags().StringVar(&stageProcessDate, "process-date", "", "Date the batch is staged for (YYYY-MM-DD)")
	stageCmd.Flags().StringVarP(&stageFile, "file", "f", "", "Local CSV batch (.csv or .csv.sz)")
	stageCmd.Flags().BoolVar(&stageCompress, "compress", true, "Upload snappy framed (.csv.sz)")
	_ = stageCmd.MarkFlagRequired("process-date")
	_ = stageCmd.MarkFlagRequired("file")
}

var stageCmd = &cobra.Command{
	Use:   "stage",
	Short: "Validate a local batch and upload it as the raw batch of a day",
	Args:  cobra.NoArgs,
	RunE:  runStage,
}

func runStage(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	objectPath, err := a.Stage(cmd.Context(), stageFile, stageProcessDate, stageCompress)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Staged %s\n", objectPath)
	return nil
}
