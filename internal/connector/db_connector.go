package connector

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/rowshift/pkg/models"
)

// DatabaseConnector handles database connection and query execution
type DatabaseConnector struct {
	Driver   string
	Host     string
	User     string
	Password string
	Database string
	Port     string
	Schema   string
	SSLMode  string
	DB       *sql.DB
	Logger   logrus.FieldLogger
}

// NewDatabaseConnector creates a new database connector.
// Empty parameters fall back to ROWSHIFT_DB_* environment variables.
func NewDatabaseConnector(params models.DatabaseParams, logger logrus.FieldLogger) *DatabaseConnector {
	driver := params.Driver
	if driver == "" {
		driver = getEnvOrDefault("ROWSHIFT_DB_DRIVER", DriverPostgres)
	}

	host := params.Host
	if host == "" {
		host = getEnvOrDefault("ROWSHIFT_DB_HOST", "localhost")
	}
	user := params.User
	if user == "" {
		user = getEnvOrDefault("ROWSHIFT_DB_USER", "")
	}
	password := params.Password
	if password == "" {
		password = getEnvOrDefault("ROWSHIFT_DB_PASSWORD", "")
	}
	database := params.Database
	if database == "" {
		database = getEnvOrDefault("ROWSHIFT_DB_NAME", "")
	}
	port := params.Port
	if port == "" {
		port = getEnvOrDefault("ROWSHIFT_DB_PORT", DefaultPort(driver))
	}
	sslMode := params.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return &DatabaseConnector{
		Driver:   driver,
		Host:     host,
		User:     user,
		Password: password,
		Database: database,
		Port:     port,
		Schema:   params.Schema,
		SSLMode:  sslMode,
		Logger:   logger,
	}
}

// DefaultPort returns the conventional port of a driver
func DefaultPort(driver string) string {
	switch driver {
	case DriverMySQL:
		return "3306"
	case DriverSQLite:
		return ""
	default:
		return "5432"
	}
}

// DSN builds the driver specific data source name
func (dc *DatabaseConnector) DSN() (string, error) {
	switch dc.Driver {
	case DriverPostgres:
		parts := []string{
			"host=" + quoteDSNValue(dc.Host),
			"port=" + quoteDSNValue(dc.Port),
			"user=" + quoteDSNValue(dc.User),
			"dbname=" + quoteDSNValue(dc.Database),
			"sslmode=" + quoteDSNValue(dc.SSLMode),
		}
		if dc.Password != "" {
			parts = append(parts, "password="+quoteDSNValue(dc.Password))
		}
		return strings.Join(parts, " "), nil
	case DriverMySQL:
		cfg := mysql.NewConfig()
		cfg.User = dc.User
		cfg.Passwd = dc.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(dc.Host, dc.Port)
		cfg.DBName = dc.Database
		cfg.ParseTime = true
		return cfg.FormatDSN(), nil
	case DriverSQLite:
		return "file:" + dc.Database + "?_loc=UTC", nil
	default:
		return "", fmt.Errorf("unsupported database driver: %q", dc.Driver)
	}
}

// quoteDSNValue quotes a libpq key/value connection string value
func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Dialect returns the SQL dialect matching the connector's driver
func (dc *DatabaseConnector) Dialect() Dialect {
	d, err := NewDialect(dc.Driver, dc.Schema)
	if err != nil {
		// Connect rejects unknown drivers, fall back to the default for rendering
		d, _ = NewDialect(DriverPostgres, dc.Schema)
	}
	return d
}

// Connect establishes a connection to the database
func (dc *DatabaseConnector) Connect(ctx context.Context) error {
	if dc.Database == "" {
		return &ConnectionError{Op: "connect", Err: fmt.Errorf("database name must be provided either in the config file or as ROWSHIFT_DB_NAME environment variable")}
	}

	dsn, err := dc.DSN()
	if err != nil {
		return &ConnectionError{Op: "connect", Err: err}
	}

	db, err := sql.Open(dc.Driver, dsn)
	if err != nil {
		dc.Logger.Errorf("Error opening %s database: %v", dc.Driver, err)
		return &ConnectionError{Op: "open", Err: err}
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		dc.Logger.Errorf("Error pinging %s database: %v", dc.Driver, err)
		_ = db.Close()
		return &ConnectionError{Op: "ping", Err: err}
	}

	// One connection per run
	db.SetMaxOpenConns(1)

	dc.DB = db
	dc.Logger.Infof("Connected to %s database: %s", dc.Driver, dc.Database)
	return nil
}

// Disconnect closes the database connection
func (dc *DatabaseConnector) Disconnect() {
	if dc.DB != nil {
		err := dc.DB.Close()
		if err != nil {
			dc.Logger.Errorf("Error closing database connection: %v", err)
		} else {
			dc.Logger.Infof("%s connection closed", dc.Driver)
		}
	}
}

func (dc *DatabaseConnector) ensureConnected(ctx context.Context) error {
	if dc.DB == nil {
		return dc.Connect(ctx)
	}
	return nil
}

// BeginTx starts a transaction
func (dc *DatabaseConnector) BeginTx(ctx context.Context) (*sql.Tx, error) {
	if err := dc.ensureConnected(ctx); err != nil {
		return nil, err
	}

	tx, err := dc.DB.BeginTx(ctx, nil)
	if err != nil {
		dc.Logger.Errorf("Error starting transaction: %v", err)
		return nil, &ConnectionError{Op: "begin transaction", Err: err}
	}
	return tx, nil
}

// ExecuteQuery executes a SQL query and returns the results
func (dc *DatabaseConnector) ExecuteQuery(ctx context.Context, query string, params ...interface{}) ([]map[string]interface{}, error) {
	if err := dc.ensureConnected(ctx); err != nil {
		return nil, err
	}

	rows, err := dc.DB.QueryContext(ctx, query, params...)
	if err != nil {
		dc.Logger.Errorf("Error executing query: %v", err)
		return nil, &QueryError{Query: query, Err: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		dc.Logger.Errorf("Error getting columns: %v", err)
		return nil, &QueryError{Query: query, Err: err}
	}

	var results []map[string]interface{}

	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range columns {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			dc.Logger.Errorf("Error scanning row: %v", err)
			return nil, &QueryError{Query: query, Err: err}
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			// Convert []byte to string for text fields
			if b, ok := values[i].([]byte); ok {
				row[strings.ToLower(col)] = string(b)
			} else {
				row[strings.ToLower(col)] = values[i]
			}
		}

		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		dc.Logger.Errorf("Error iterating rows: %v", err)
		return nil, &QueryError{Query: query, Err: err}
	}

	return results, nil
}

// ExecuteStatement executes a SQL statement and returns the number of affected rows
func (dc *DatabaseConnector) ExecuteStatement(ctx context.Context, query string, params ...interface{}) (int64, error) {
	if err := dc.ensureConnected(ctx); err != nil {
		return 0, err
	}

	result, err := dc.DB.ExecContext(ctx, query, params...)
	if err != nil {
		dc.Logger.Errorf("Error executing statement: %v", err)
		return 0, &QueryError{Query: query, Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		dc.Logger.Errorf("Error getting affected rows: %v", err)
		return 0, &QueryError{Query: query, Err: err}
	}

	return affected, nil
}

// getEnvOrDefault gets an environment variable or returns a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
