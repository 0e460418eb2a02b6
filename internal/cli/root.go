// Package cli implements the sessionize command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arkilian/sessionize/internal/app"
	"github.com/arkilian/sessionize/internal/config"
	serrors "github.com/arkilian/sessionize/internal/errors"
	"github.com/arkilian/sessionize/internal/logging"
)

var (
	cfgFile   string
	dataDir   string
	tablePath string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Base directory for local data (overrides config)")
	rootCmd.PersistentFlags().StringVar(&tablePath, "table", "", "Path of the session table database (overrides config)")
}

var rootCmd = &cobra.Command{
	Use:   "sessionize",
	Short: "Incremental sessionization of user activity events",
	Long: "Assigns daily batches of user activity events to sessions per (user_id, product_code)\n" +
		"and keeps the persisted session table consistent as new days arrive.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cmd.SetContext(logging.WithLogger(cmd.Context(), logging.NewLogger()))
		return nil
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context; an interrupted run rolls back.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		reportError(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// reportError prints err, flagging transient failures worth retrying.
func reportError(w io.Writer, err error) {
	if serrors.IsRetryable(err) {
		fmt.Fprintf(w, "Error: %v (retryable)\n", err)
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}

// loadConfig builds the configuration from file, environment and flags.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile, func(c *config.Config) {
		if dataDir != "" {
			c.DataDir = dataDir
		}
		if tablePath != "" {
			c.TablePath = tablePath
		}
	})
}

// openApp loads configuration and opens the application resources.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

func printJSON(w io.Writer, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
