package generator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/rowshift/internal/connector"
	"github.com/vitebski/rowshift/pkg/models"
)

// DataGenerator copies template rows from a historical window back into
// their table with shifted timestamps and fresh primary keys
type DataGenerator struct {
	DB        *connector.DatabaseConnector
	Allocator IDAllocator
	// OffsetDays is applied with AddDate, keeping the wall clock time
	OffsetDays int
	Cutoff     time.Time
	Logger     logrus.FieldLogger
}

// NewDataGenerator creates a new data generator with the default offset and cutoff
func NewDataGenerator(db *connector.DatabaseConnector, allocator IDAllocator, logger logrus.FieldLogger) *DataGenerator {
	if allocator == nil {
		allocator = MaxQueryAllocator{}
	}
	return &DataGenerator{
		DB:         db,
		Allocator:  allocator,
		OffsetDays: DefaultOffsetDays,
		Cutoff:     DefaultCutoff,
		Logger:     logger,
	}
}

// WithLogger returns a copy of the generator that logs to logger
func (dg *DataGenerator) WithLogger(logger logrus.FieldLogger) *DataGenerator {
	c := *dg
	c.Logger = logger
	return &c
}

// Generate processes one table against the window and returns the number
// of rows written. Inserts are committed once, after the last row.
func (dg *DataGenerator) Generate(ctx context.Context, table models.TableSpec, window models.GenerationWindow) (int, error) {
	stats, err := dg.GenerateTable(ctx, table, window)
	return stats.Written, err
}

// GenerateTable is Generate with fetched and skipped row counts
func (dg *DataGenerator) GenerateTable(ctx context.Context, table models.TableSpec, window models.GenerationWindow) (models.TableStats, error) {
	var stats models.TableStats
	logger := dg.Logger.WithField("table", table.Name)
	dialect := dg.DB.Dialect()

	tx, err := dg.DB.BeginTx(ctx)
	if err != nil {
		return stats, err
	}
	// Rollback is a no-op once the transaction is committed
	defer func() { _ = tx.Rollback() }()

	// Fetch rows from the historical window and use them as templates
	templates, err := dg.fetchTemplateRows(ctx, tx, dialect, table, window)
	if err != nil {
		return stats, err
	}
	stats.Fetched = len(templates)
	logger.Debugf("Fetched %d template rows between %s and %s", len(templates),
		window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339))

	var ids IDSource
	insertSQL := dialect.InsertSQL(table)

	for _, template := range templates {
		row, err := dg.transformRow(table, template)
		if err != nil {
			var mismatch *TypeMismatch
			if errors.As(err, &mismatch) {
				logger.WithFields(logrus.Fields{
					"column": mismatch.Column,
					"value":  fmt.Sprintf("%v", mismatch.Value),
					"row":    fmt.Sprintf("%v", template),
				}).Warningf("Skipping row: %v", err)
				stats.Skipped++
				continue
			}
			return stats, err
		}

		if ids == nil {
			if ids, err = dg.Allocator.Reserve(ctx, tx, dialect, table); err != nil {
				return stats, err
			}
		}

		// The ID column always receives a freshly assigned key
		id, err := ids.Next(ctx)
		if err != nil {
			return stats, err
		}
		row[0] = id

		if err := dg.CheckLegality(table, row); err != nil {
			logger.WithField("row", fmt.Sprintf("%v", row)).Errorf("Aborting table: %v", err)
			return stats, err
		}

		if _, err := tx.ExecContext(ctx, insertSQL, row...); err != nil {
			return stats, &connector.QueryError{Query: insertSQL, Err: err}
		}
		logger.Debugf("Inserted row: %v", row)
		stats.Written++
	}

	if err := tx.Commit(); err != nil {
		return stats, &connector.QueryError{Query: "COMMIT", Err: err}
	}

	logger.Infof("Rows written: %d into table: %s (skipped %d)", stats.Written, table.Name, stats.Skipped)
	return stats, nil
}

// fetchTemplateRows selects every row whose timestamp column lies in the window
func (dg *DataGenerator) fetchTemplateRows(ctx context.Context, tx *sql.Tx, dialect connector.Dialect, table models.TableSpec, window models.GenerationWindow) ([]models.Row, error) {
	query := dialect.SelectWindowSQL(table)

	rows, err := tx.QueryContext(ctx, query, window.Start, window.End)
	if err != nil {
		return nil, &connector.QueryError{Query: query, Err: err}
	}
	defer rows.Close()

	var templates []models.Row
	for rows.Next() {
		values := make(models.Row, len(table.AllColumns))
		valuePtrs := make([]interface{}, len(values))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, &connector.QueryError{Query: query, Err: err}
		}
		templates = append(templates, values)
	}
	if err := rows.Err(); err != nil {
		return nil, &connector.QueryError{Query: query, Err: err}
	}

	return templates, nil
}

// transformRow builds the row to insert from a template: values are
// normalized by column type and datagen columns are shifted by OffsetDays
func (dg *DataGenerator) transformRow(table models.TableSpec, template models.Row) (models.Row, error) {
	row := template.Clone()

	for i, column := range table.AllColumns {
		typ := table.TypeOf(column)
		value, err := normalizeValue(typ, row[i])
		if err != nil {
			return nil, &TypeMismatch{Table: table.Name, Column: column, Expected: typ, Value: row[i]}
		}
		row[i] = value
	}

	for _, column := range table.ColumnsToDatagen {
		i := table.ColumnIndex(column)
		if i < 0 {
			return nil, fmt.Errorf("column %s is not part of %s.allColumns", column, table.Name)
		}
		ts, ok := row[i].(time.Time)
		if !ok {
			return nil, &TypeMismatch{Table: table.Name, Column: column, Expected: models.ColumnTypeTimestamp, Value: row[i]}
		}
		row[i] = ts.AddDate(0, 0, dg.OffsetDays)
	}

	return row, nil
}

// CheckLegality rejects rows whose datagen columns fall before the cutoff
func (dg *DataGenerator) CheckLegality(table models.TableSpec, row models.Row) error {
	for _, column := range table.ColumnsToDatagen {
		ts, ok := row[table.ColumnIndex(column)].(time.Time)
		if !ok {
			continue
		}
		if ts.Before(dg.Cutoff) {
			return &LegalityViolation{Table: table.Name, Column: column, Value: ts, Cutoff: dg.Cutoff, Row: row}
		}
	}
	return nil
}
