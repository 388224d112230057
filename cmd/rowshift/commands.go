package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vitebski/rowshift/internal/analyzer"
	"github.com/vitebski/rowshift/internal/cleaner"
	"github.com/vitebski/rowshift/internal/config"
	"github.com/vitebski/rowshift/internal/connector"
	"github.com/vitebski/rowshift/internal/generator"
	"github.com/vitebski/rowshift/internal/marker"
	"github.com/vitebski/rowshift/internal/populator"
	"github.com/vitebski/rowshift/internal/utils"
	"github.com/vitebski/rowshift/pkg/models"
)

// errTablesFailed makes the process exit non-zero after a summary was printed
var errTablesFailed = errors.New("one or more tables failed")

type options struct {
	configPath string
	envFile    string
	logLevel   string
}

// app holds everything a command needs after configuration is loaded
type app struct {
	logger *logrus.Logger
	cfg    *config.Config
	tables []models.TableSpec
	db     *connector.DatabaseConnector
	loc    *time.Location
}

// loadApp reads .env, the config file and the table list. Any failure
// here happens before a table is touched.
func loadApp(opts options) (*app, error) {
	// Setup logging
	logger := utils.SetupLogging(opts.logLevel)

	// Load environment variables
	utils.LoadEnvironmentVariables(opts.envFile, logger)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		logger.Errorf("Invalid configuration: %v", err)
		return nil, err
	}
	if opts.logLevel == "" && cfg.LogLevel != "" {
		level, _ := logrus.ParseLevel(cfg.LogLevel)
		logger.SetLevel(level)
	}

	tables, err := config.LoadTables(cfg.TablesPath())
	if err != nil {
		logger.Errorf("Invalid table list: %v", err)
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	params := cfg.DatabaseParams()
	if !utils.ValidateConnectionParams(params, logger) {
		return nil, fmt.Errorf("invalid database connection parameters")
	}

	return &app{
		logger: logger,
		cfg:    cfg,
		tables: tables,
		db:     connector.NewDatabaseConnector(params, logger),
		loc:    loc,
	}, nil
}

func (a *app) markerStore() (marker.Store, error) {
	return marker.New(a.cfg.Marker.Kind, a.cfg.MarkerPath(), a.db, a.loc)
}

func (a *app) populator() (*populator.DatabasePopulator, error) {
	allocator, err := a.cfg.IDAllocator()
	if err != nil {
		return nil, err
	}
	cutoff, err := a.cfg.CutoffTime()
	if err != nil {
		return nil, err
	}
	store, err := a.markerStore()
	if err != nil {
		return nil, err
	}

	dataGenerator := generator.NewDataGenerator(a.db, allocator, a.logger)
	dataGenerator.OffsetDays = a.cfg.OffsetDays()
	dataGenerator.Cutoff = cutoff

	return populator.NewDatabasePopulator(
		a.db,
		analyzer.NewSchemaAnalyzer(a.db, a.logger),
		dataGenerator,
		store,
		a.tables,
		a.logger,
	), nil
}

func newRunCommand(ctx context.Context, opts func() options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Generate rows for the time since the last run and advance the marker",
		Long: `Generate rows for [last updated marker, now] from the rows one offset
earlier, then store now as the new marker.

The marker is advanced even when some tables fail. Failed tables are
listed with the exact template window so they can be re-run with the
backfill command.

` + concurrencyNote,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(opts())
			if err != nil {
				return err
			}

			if err := a.db.Connect(ctx); err != nil {
				a.logger.Errorf("Failed to connect to database: %v", err)
				return err
			}
			defer a.db.Disconnect()

			dbPopulator, err := a.populator()
			if err != nil {
				return err
			}

			a.logger.Info("Starting data generation...")
			summary, err := dbPopulator.Run(ctx, time.Now().In(a.loc))
			if summary != nil {
				utils.PrintSummary(cmd.OutOrStdout(), summary)
			}
			if err != nil {
				return err
			}
			if len(summary.FailedTables()) > 0 {
				return errTablesFailed
			}
			return nil
		},
	}
}

func newBackfillCommand(ctx context.Context, opts func() options) *cobra.Command {
	var (
		from       string
		to         string
		tableNames []string
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Re-run generation for an explicit template window without touching the marker",
		Long: `Copy the rows whose timestamp column lies in [--from, --to] forward by the
offset. The last updated marker is neither read nor written. Use it to
re-run tables that failed in a scheduled run.

Rows already generated for the window are copied again when it is
re-run.

` + concurrencyNote,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(opts())
			if err != nil {
				return err
			}

			window, err := parseWindow(from, to, a.loc)
			if err != nil {
				return err
			}
			tables, err := config.SelectTables(a.tables, splitNames(tableNames))
			if err != nil {
				return err
			}

			if err := a.db.Connect(ctx); err != nil {
				a.logger.Errorf("Failed to connect to database: %v", err)
				return err
			}
			defer a.db.Disconnect()

			dbPopulator, err := a.populator()
			if err != nil {
				return err
			}

			summary := dbPopulator.Backfill(ctx, window, tables)
			utils.PrintSummary(cmd.OutOrStdout(), summary)
			if err := ctx.Err(); err != nil {
				return err
			}
			if len(summary.FailedTables()) > 0 {
				return errTablesFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Start of the template window (RFC3339 or YYYY-MM-DDTHH:MM:SS)")
	cmd.Flags().StringVar(&to, "to", "", "End of the template window")
	cmd.Flags().StringSliceVarP(&tableNames, "table", "t", nil, "Only process these tables (repeatable or comma separated)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newDeleteCommand(ctx context.Context, opts func() options) *cobra.Command {
	var (
		since      string
		tableNames []string
	)

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete generated rows at or after a cutoff",
		Long: `Delete every row whose timestamp column is at or after --since (the
configured cutoff by default) from each configured table. Tables are
emptied in reverse dependency order, each in its own transaction.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(opts())
			if err != nil {
				return err
			}

			cutoff, err := a.cfg.CutoffTime()
			if err != nil {
				return err
			}
			if since != "" {
				if cutoff, err = marker.Parse(since, a.loc); err != nil {
					return fmt.Errorf("invalid --since: %w", err)
				}
			}
			tables, err := config.SelectTables(a.tables, splitNames(tableNames))
			if err != nil {
				return err
			}

			if err := a.db.Connect(ctx); err != nil {
				a.logger.Errorf("Failed to connect to database: %v", err)
				return err
			}
			defer a.db.Disconnect()

			results := cleaner.NewCleaner(a.db, a.logger).DeleteSince(ctx, tables, cutoff)
			utils.PrintDeleteSummary(cmd.OutOrStdout(), results, cutoff)
			for _, r := range results {
				if r.Err != nil {
					return errTablesFailed
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "Delete rows at or after this time (default: generator.cutoff)")
	cmd.Flags().StringSliceVarP(&tableNames, "table", "t", nil, "Only delete from these tables")
	return cmd
}

func newWindowCommand(ctx context.Context, opts func() options) *cobra.Command {
	return &cobra.Command{
		Use:   "window",
		Short: "Print the window the next run would use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(opts())
			if err != nil {
				return err
			}
			defer a.db.Disconnect()

			dbPopulator, err := a.populator()
			if err != nil {
				return err
			}

			now := time.Now().In(a.loc)
			window, lastUpdated, err := dbPopulator.NextWindow(ctx, now)
			if err != nil {
				return err
			}

			target := window.Shifted(a.cfg.OffsetDays())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Last updated:    %s\n", lastUpdated.Format(time.RFC3339Nano))
			fmt.Fprintf(out, "Now:             %s\n", now.Format(time.RFC3339Nano))
			fmt.Fprintf(out, "Template window: %s to %s\n", window.Start.Format(time.RFC3339Nano), window.End.Format(time.RFC3339Nano))
			fmt.Fprintf(out, "Target window:   %s to %s\n", target.Start.Format(time.RFC3339Nano), target.End.Format(time.RFC3339Nano))
			return nil
		},
	}
}

func newMarkerCommand(ctx context.Context, opts func() options) *cobra.Command {
	markerCmd := &cobra.Command{
		Use:   "marker",
		Short: "Inspect or set the last updated marker",
	}

	markerCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the last updated marker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(opts())
			if err != nil {
				return err
			}
			defer a.db.Disconnect()

			store, err := a.markerStore()
			if err != nil {
				return err
			}
			t, err := store.Load(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), marker.Format(t))
			return nil
		},
	})

	markerCmd.AddCommand(&cobra.Command{
		Use:   "set TIMESTAMP",
		Short: "Overwrite the last updated marker, e.g. to seed a new deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(opts())
			if err != nil {
				return err
			}
			defer a.db.Disconnect()

			t, err := marker.Parse(args[0], a.loc)
			if err != nil {
				return err
			}
			if now := time.Now(); t.After(now) {
				return fmt.Errorf("marker %s is in the future", marker.Format(t))
			}

			store, err := a.markerStore()
			if err != nil {
				return err
			}
			if err := store.Save(ctx, t); err != nil {
				return err
			}
			a.logger.Infof("Last updated marker set to %s", marker.Format(t))
			return nil
		},
	})

	return markerCmd
}

// parseWindow reads --from/--to into a template window
func parseWindow(from, to string, loc *time.Location) (models.GenerationWindow, error) {
	start, err := marker.Parse(from, loc)
	if err != nil {
		return models.GenerationWindow{}, fmt.Errorf("invalid --from: %w", err)
	}
	end, err := marker.Parse(to, loc)
	if err != nil {
		return models.GenerationWindow{}, fmt.Errorf("invalid --to: %w", err)
	}
	if end.Before(start) {
		return models.GenerationWindow{}, fmt.Errorf("--to %s is before --from %s", to, from)
	}
	return models.GenerationWindow{Start: start, End: end}, nil
}

// splitNames flattens table flags given as "a,b" or repeated
func splitNames(values []string) []string {
	var names []string
	for _, v := range values {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}
