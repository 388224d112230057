package connector

import (
	"fmt"
	"strings"

	"github.com/vitebski/rowshift/pkg/models"
)

// Supported driver names, as registered with database/sql
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite3"
)

// Dialect renders the SQL statements rowshift issues for one driver
type Dialect struct {
	Driver string
	Schema string
}

// NewDialect returns the dialect for a driver name
func NewDialect(driver, schema string) (Dialect, error) {
	switch driver {
	case DriverPostgres:
		if schema == "" {
			schema = "public"
		}
		return Dialect{Driver: driver, Schema: schema}, nil
	case DriverMySQL:
		return Dialect{Driver: driver, Schema: schema}, nil
	case DriverSQLite:
		// sqlite has a single schema per file
		return Dialect{Driver: driver}, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database driver: %q", driver)
	}
}

// Placeholder returns the n-th (1-based) bind parameter marker
func (d Dialect) Placeholder(n int) string {
	if d.Driver == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Placeholders returns count comma separated bind parameter markers
func (d Dialect) Placeholders(count int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = d.Placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}

// Table returns the schema qualified table name
func (d Dialect) Table(name string) string {
	if d.Schema == "" {
		return name
	}
	return d.Schema + "." + name
}

// SelectWindowSQL selects the template rows of a table whose timestamp
// column lies in a closed interval
func (d Dialect) SelectWindowSQL(table models.TableSpec) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s BETWEEN %s AND %s",
		strings.Join(table.AllColumns, ", "),
		d.Table(table.Name),
		table.TimestampColumn,
		d.Placeholder(1),
		d.Placeholder(2),
	)
}

// MaxIDSQL selects the current maximum primary key of a table.
// With lock set, mysql also locks the scanned index range.
func (d Dialect) MaxIDSQL(table models.TableSpec, lock bool) string {
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s", table.IDColumn(), d.Table(table.Name))
	if lock && d.Driver == DriverMySQL {
		query += " FOR UPDATE"
	}
	return query
}

// LockTableSQL returns a statement that blocks concurrent inserts into a
// table until the surrounding transaction ends, or "" when the driver has
// no such statement
func (d Dialect) LockTableSQL(table models.TableSpec) string {
	if d.Driver == DriverPostgres {
		return fmt.Sprintf("LOCK TABLE %s IN SHARE ROW EXCLUSIVE MODE", d.Table(table.Name))
	}
	return ""
}

// InsertSQL inserts one row using the full column list of a table
func (d Dialect) InsertSQL(table models.TableSpec) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.Table(table.Name),
		strings.Join(table.AllColumns, ", "),
		d.Placeholders(len(table.AllColumns)),
	)
}

// DeleteSinceSQL deletes every row at or after a cutoff
func (d Dialect) DeleteSinceSQL(table models.TableSpec) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s >= %s",
		d.Table(table.Name), table.TimestampColumn, d.Placeholder(1))
}

// ColumnTypesSQL lists (column name, data type) pairs for a table.
// The returned args follow the query's placeholders. Postgres folds the
// unquoted names rendered by Table to lower case, so the catalog lookup
// does too.
func (d Dialect) ColumnTypesSQL(database, table string) (string, []interface{}) {
	switch d.Driver {
	case DriverSQLite:
		return "SELECT name AS column_name, type AS data_type FROM pragma_table_info(?)", []interface{}{table}
	case DriverMySQL:
		return `SELECT column_name, data_type
			FROM information_schema.columns
			WHERE table_schema = ?
			AND table_name = ?
			ORDER BY ordinal_position`, []interface{}{database, table}
	default:
		return `SELECT column_name, data_type
			FROM information_schema.columns
			WHERE table_schema = $1
			AND table_name = $2
			ORDER BY ordinal_position`, []interface{}{strings.ToLower(d.Schema), strings.ToLower(table)}
	}
}

// MarkerSelectSQL reads the last-updated marker row
func (d Dialect) MarkerSelectSQL() string {
	return "SELECT last_updated FROM " + d.Table("update_tracker")
}

// MarkerUpdateSQL overwrites the last-updated marker row
func (d Dialect) MarkerUpdateSQL() string {
	return fmt.Sprintf("UPDATE %s SET last_updated = %s", d.Table("update_tracker"), d.Placeholder(1))
}

// MarkerInsertSQL seeds the last-updated marker row
func (d Dialect) MarkerInsertSQL() string {
	return fmt.Sprintf("INSERT INTO %s (last_updated) VALUES (%s)", d.Table("update_tracker"), d.Placeholder(1))
}
