package cleaner

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/rowshift/internal/connector"
	"github.com/vitebski/rowshift/pkg/models"
)

// Cleaner removes generated rows from the configured tables
type Cleaner struct {
	DB     *connector.DatabaseConnector
	Logger logrus.FieldLogger
}

// NewCleaner creates a new cleaner
func NewCleaner(db *connector.DatabaseConnector, logger logrus.FieldLogger) *Cleaner {
	return &Cleaner{DB: db, Logger: logger}
}

// DeleteSince deletes every row whose timestamp column is at or after
// since. Tables are visited in reverse order, so dependents are emptied
// before the tables they reference. Each table runs in its own
// transaction; a failing table is logged and recorded in its result.
func (c *Cleaner) DeleteSince(ctx context.Context, tables []models.TableSpec, since time.Time) []models.TableResult {
	results := make([]models.TableResult, 0, len(tables))

	for i := len(tables) - 1; i >= 0; i-- {
		table := tables[i]
		logger := c.Logger.WithField("table", table.Name)

		deleted, err := c.deleteTable(ctx, table, since)
		if err != nil {
			logger.Errorf("Error deleting from table %s: %v", table.Name, err)
		} else {
			logger.Infof("Deleted %d rows since %s from %s", deleted, since.Format(time.RFC3339), table.Name)
		}
		results = append(results, models.TableResult{Table: table.Name, RowsDeleted: deleted, Err: err})
	}

	return results
}

func (c *Cleaner) deleteTable(ctx context.Context, table models.TableSpec, since time.Time) (int64, error) {
	tx, err := c.DB.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	query := c.DB.Dialect().DeleteSinceSQL(table)
	result, err := tx.ExecContext(ctx, query, since)
	if err != nil {
		return 0, &connector.QueryError{Query: query, Err: err}
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, &connector.QueryError{Query: query, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return 0, &connector.QueryError{Query: "COMMIT", Err: err}
	}
	return deleted, nil
}
