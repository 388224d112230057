package populator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/rowshift/internal/analyzer"
	"github.com/vitebski/rowshift/internal/connector"
	"github.com/vitebski/rowshift/internal/generator"
	"github.com/vitebski/rowshift/internal/marker"
	"github.com/vitebski/rowshift/pkg/models"
)

// DatabasePopulator drives a generation run over every configured table
type DatabasePopulator struct {
	DB             *connector.DatabaseConnector
	SchemaAnalyzer *analyzer.SchemaAnalyzer
	DataGenerator  *generator.DataGenerator
	Marker         marker.Store
	Tables         []models.TableSpec
	Logger         logrus.FieldLogger
}

// NewDatabasePopulator creates a new database populator.
// Tables are processed in the order given.
func NewDatabasePopulator(
	db *connector.DatabaseConnector,
	schemaAnalyzer *analyzer.SchemaAnalyzer,
	dataGenerator *generator.DataGenerator,
	store marker.Store,
	tables []models.TableSpec,
	logger logrus.FieldLogger,
) *DatabasePopulator {
	return &DatabasePopulator{
		DB:             db,
		SchemaAnalyzer: schemaAnalyzer,
		DataGenerator:  dataGenerator,
		Marker:         store,
		Tables:         tables,
		Logger:         logger,
	}
}

// NextWindow returns the template window a run started at now would use
func (dp *DatabasePopulator) NextWindow(ctx context.Context, now time.Time) (models.GenerationWindow, time.Time, error) {
	lastUpdated, err := dp.Marker.Load(ctx)
	if err != nil {
		return models.GenerationWindow{}, time.Time{}, fmt.Errorf("failed to load last updated marker: %w", err)
	}
	window, err := generator.ComputeWindow(lastUpdated, now, dp.DataGenerator.OffsetDays)
	if err != nil {
		return models.GenerationWindow{}, lastUpdated, err
	}
	return window, lastUpdated, nil
}

// Run fills [marker, now] with shifted copies of the rows in the window
// one offset earlier, then stores now as the new marker.
//
// The marker is advanced even when some tables failed; those tables are
// listed in the summary and must be re-run with Backfill.
func (dp *DatabasePopulator) Run(ctx context.Context, now time.Time) (*models.RunSummary, error) {
	runID := uuid.NewString()
	logger := dp.Logger.WithField("run_id", runID)

	window, lastUpdated, err := dp.NextWindow(ctx, now)
	if err != nil {
		logger.Errorf("Cannot start run: %v", err)
		return nil, err
	}

	logger.Infof("Generating rows for %s to %s from templates between %s and %s",
		lastUpdated.Format(time.RFC3339), now.Format(time.RFC3339),
		window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339))

	summary := &models.RunSummary{RunID: runID, Window: window}
	summary.Results = dp.processTables(ctx, logger, dp.Tables, window)

	if err := ctx.Err(); err != nil {
		logger.Warningf("Run interrupted, last updated marker left at %s", lastUpdated.Format(time.RFC3339))
		return summary, err
	}

	if err := dp.Marker.Save(ctx, now); err != nil {
		logger.Errorf("Failed to update last updated marker: %v", err)
		return summary, fmt.Errorf("failed to save last updated marker: %w", err)
	}
	summary.MarkerAdvanced = true
	logger.Infof("Updated last updated marker to %s", now.Format(time.RFC3339))

	if failed := summary.FailedTables(); len(failed) > 0 {
		logger.Warningf("Tables failed and will not be retried by the next run: %s (template window %s to %s)",
			strings.Join(failed, ", "),
			window.Start.Format(time.RFC3339Nano), window.End.Format(time.RFC3339Nano))
	}

	return summary, nil
}

// Backfill processes tables against an explicit template window and
// leaves the marker untouched
func (dp *DatabasePopulator) Backfill(ctx context.Context, window models.GenerationWindow, tables []models.TableSpec) *models.RunSummary {
	runID := uuid.NewString()
	logger := dp.Logger.WithFields(logrus.Fields{"run_id": runID, "backfill": true})

	logger.Infof("Backfilling %d tables from templates between %s and %s", len(tables),
		window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339))

	summary := &models.RunSummary{RunID: runID, Window: window}
	summary.Results = dp.processTables(ctx, logger, tables, window)
	return summary
}

// processTables runs every table in order; a failing table never stops
// the loop
func (dp *DatabasePopulator) processTables(ctx context.Context, logger logrus.FieldLogger, tables []models.TableSpec, window models.GenerationWindow) []models.TableResult {
	results := make([]models.TableResult, 0, len(tables))
	gen := dp.DataGenerator.WithLogger(logger)

	for _, table := range tables {
		if ctx.Err() != nil {
			break
		}

		tableLogger := logger.WithField("table", table.Name)
		tableLogger.Infof("Processing table: %s", table.Name)

		result := models.TableResult{Table: table.Name}

		resolved, err := dp.SchemaAnalyzer.ResolveColumnTypes(ctx, table)
		if err != nil {
			tableLogger.Errorf("Error processing table %s: %v", table.Name, err)
			result.Err = err
			results = append(results, result)
			continue
		}

		stats, err := gen.GenerateTable(ctx, resolved, window)
		result.RowsWritten = stats.Written
		result.RowsSkipped = stats.Skipped
		if err != nil {
			// Nothing from a failed table is committed
			result.RowsWritten = 0
			result.Err = err
			tableLogger.Errorf("Error processing table %s: %v", table.Name, err)
		}
		results = append(results, result)
	}

	return results
}
