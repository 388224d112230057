package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const concurrencyNote = `Never run two rowshift instances against the same database at the same
time: new primary keys are computed as MAX(id)+1 and concurrent runs can
pick the same key.`

func main() {
	var (
		configPath string
		envFile    string
		logLevel   string
	)

	rootCmd := &cobra.Command{
		Use:   "rowshift",
		Short: "Keep demo databases fresh by copying recent rows forward in time",
		Long: `rowshift

Fills the time range since the previous run with copies of the rows that
were written one offset (60 days by default) earlier. Copied rows get new
primary keys and every configured timestamp column is moved forward by
the offset. The time of each run is stored as the last updated marker.

` + concurrencyNote,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "resources/config.json", "Path to config file (.json, .yaml or .yml)")
	rootCmd.PersistentFlags().StringVarP(&envFile, "env-file", "e", ".env", "Path to .env file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")

	opts := func() options {
		return options{configPath: configPath, envFile: envFile, logLevel: logLevel}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.AddCommand(
		newRunCommand(ctx, opts),
		newBackfillCommand(ctx, opts),
		newDeleteCommand(ctx, opts),
		newWindowCommand(ctx, opts),
		newMarkerCommand(ctx, opts),
	)

	// Execute
	code := 0
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		code = 1
	}
	stop()
	os.Exit(code)
}
