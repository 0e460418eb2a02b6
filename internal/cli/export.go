package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arkilian/sessionize/internal/export"
)

var (
	restoreObject string
	restoreDest   string
)

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().StringVar(&restoreObject, "object", "", "Snapshot object path (e.g. snapshots/sessions-v000000000007.db.sz)")
	restoreCmd.Flags().StringVar(&restoreDest, "dest", "", "Local path to write the restored database to")
	_ = restoreCmd.MarkFlagRequired("object")
	_ = restoreCmd.MarkFlagRequired("dest")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Publish a snapshot of the session table to object storage",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Download a published snapshot into a local database file",
	Args:  cobra.NoArgs,
	RunE:  runRestore,
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Exporter().Export(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]interface{}{
		"object":        res.ObjectPath,
		"table_version": res.TableVersion,
		"bytes":         res.Bytes,
		"pruned":        res.Pruned,
	})
}

func runRestore(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := export.Restore(cmd.Context(), a.Storage(), restoreObject, restoreDest); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Restored %s to %s\n", restoreObject, restoreDest)
	return nil
}
