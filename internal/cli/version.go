package cli

import (
	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X github.com/arkilian/sessionize/internal/cli.version=...".
var (
	version = "dev"
	commit  = "unknown"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSON(cmd.OutOrStdout(), map[string]string{
			"name":    "sessionize",
			"version": version,
			"commit":  commit,
		})
	},
}
