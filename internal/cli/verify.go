package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	serrors "github.com/arkilian/sessionize/internal/errors"
	"github.com/arkilian/sessionize/internal/sessionizer"
)

var verifyMaxViolations int

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().IntVar(&verifyMaxViolations, "max", 50, "Maximum violations to print")
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the session invariants over the whole persisted table",
	Long: "Scans every persisted row and checks that session_start is non-decreasing per\n" +
		"(user_id, product_code), that every session id names an action event, and that\n" +
		"no row is pending after the first session opened. Exits 1 on any violation.",
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.Table().Scan(cmd.Context(), 0)
	if err != nil {
		return err
	}

	violations := sessionizer.Check(rows, a.Sessionizer().Actions())
	out := cmd.OutOrStdout()
	if len(violations) == 0 {
		fmt.Fprintf(out, "OK: %d rows verified\n", len(rows))
		return nil
	}

	for i, v := range violations {
		if i == verifyMaxViolations {
			fmt.Fprintf(out, "... %d more\n", len(violations)-i)
			break
		}
		fmt.Fprintln(out, v.String())
	}
	return serrors.NewSessionError(serrors.CodeInconsistentSession,
		fmt.Sprintf("%d violations in %d rows", len(violations), len(rows)))
}
