package utils

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/rowshift/internal/connector"
	"github.com/vitebski/rowshift/pkg/models"
)

// SetupLogging configures the logging system
func SetupLogging(logLevel string) *logrus.Logger {
	// Create a new logger
	logger := logrus.New()

	// Get log level from environment variable or parameter
	levelStr := logLevel
	if levelStr == "" {
		levelStr = os.Getenv("ROWSHIFT_LOG_LEVEL")
		if levelStr == "" {
			levelStr = "info"
		}
	}

	// Parse log level
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}

	// Configure logger
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetOutput(os.Stdout)

	logger.Debugf("Logging configured with level: %s", level)
	return logger
}

// LoadEnvironmentVariables loads environment variables from a .env file.
// Variables already set in the environment are not overwritten.
func LoadEnvironmentVariables(envFile string, logger *logrus.Logger) bool {
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		sampleEnvFile := envFile + ".sample"
		if _, err := os.Stat(sampleEnvFile); err == nil {
			logger.Infof("No %s file found, but %s exists. Consider copying %s to %s and updating it.",
				envFile, sampleEnvFile, sampleEnvFile, envFile)
		} else {
			logger.Debugf("No %s file found, using existing environment variables", envFile)
		}
		return false
	}

	if err := godotenv.Load(envFile); err != nil {
		logger.Warningf("Error loading %s file: %v", envFile, err)
		return false
	}
	logger.Infof("Loaded environment variables from %s", envFile)

	// Log all available ROWSHIFT_* environment variables (for debugging)
	if logger.IsLevelEnabled(logrus.DebugLevel) {
		for _, env := range os.Environ() {
			if !strings.HasPrefix(env, "ROWSHIFT_") {
				continue
			}
			parts := strings.SplitN(env, "=", 2)
			if len(parts) != 2 {
				continue
			}
			// Mask password
			if parts[0] == "ROWSHIFT_DB_PASSWORD" {
				logger.Debugf("%s=********", parts[0])
			} else {
				logger.Debugf("%s=%s", parts[0], parts[1])
			}
		}
	}

	return true
}

// ValidateConnectionParams validates database connection parameters
func ValidateConnectionParams(params models.DatabaseParams, logger logrus.FieldLogger) bool {
	if params.Database == "" {
		logger.Error("Database name is required")
		return false
	}

	// sqlite only needs a file path
	if params.Driver == connector.DriverSQLite {
		return true
	}

	if params.Host == "" {
		logger.Error("Database host is required")
		return false
	}

	if params.User == "" {
		logger.Error("Database user is required")
		return false
	}

	if params.Password == "" { // Empty password is allowed
		logger.Warning("Database password is empty")
	}

	if _, err := strconv.Atoi(params.Port); err != nil {
		logger.Errorf("Invalid port number: %s", params.Port)
		return false
	}

	return true
}

// PrintSummary prints a summary of a generation run
func PrintSummary(w io.Writer, summary *models.RunSummary) {
	failed := summary.FailedTables()

	fmt.Fprintln(w, "\n"+strings.Repeat("=", 50))
	fmt.Fprintln(w, "DATA GENERATION SUMMARY")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintf(w, "Run ID: %s\n", summary.RunID)
	fmt.Fprintf(w, "Template window: %s to %s\n",
		summary.Window.Start.Format(time.RFC3339), summary.Window.End.Format(time.RFC3339))
	fmt.Fprintf(w, "Total tables processed: %d\n", len(summary.Results))
	fmt.Fprintf(w, "Successful tables: %d\n", len(summary.SuccessfulTables()))
	fmt.Fprintf(w, "Failed tables: %d\n", len(failed))
	fmt.Fprintf(w, "Total rows inserted: %d\n", summary.TotalRowsWritten())

	fmt.Fprintln(w, "\nRows per table:")
	for _, r := range summary.Results {
		status := "ok"
		if r.Err != nil {
			status = "FAILED: " + r.Err.Error()
		}
		fmt.Fprintf(w, "  - %s: %d written, %d skipped (%s)\n", r.Table, r.RowsWritten, r.RowsSkipped, status)
	}

	if len(failed) > 0 {
		fmt.Fprintln(w, "\nFailed tables are not retried by the next run. Re-run them with:")
		fmt.Fprintf(w, "  rowshift backfill --from %s --to %s --table %s\n",
			summary.Window.Start.Format(time.RFC3339Nano), summary.Window.End.Format(time.RFC3339Nano),
			strings.Join(failed, ","))
	}
	if summary.MarkerAdvanced {
		fmt.Fprintln(w, "\nLast updated marker advanced.")
	}

	fmt.Fprintln(w, strings.Repeat("=", 50))
}

// PrintDeleteSummary prints the per-table results of a delete
func PrintDeleteSummary(w io.Writer, results []models.TableResult, since time.Time) {
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 50))
	fmt.Fprintf(w, "DELETED ROWS SINCE %s\n", since.Format(time.RFC3339))
	fmt.Fprintln(w, strings.Repeat("=", 50))

	var total int64
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(w, "  - %s: FAILED: %v\n", r.Table, r.Err)
			continue
		}
		total += r.RowsDeleted
		fmt.Fprintf(w, "  - %s: %d rows\n", r.Table, r.RowsDeleted)
	}
	fmt.Fprintf(w, "Total rows deleted: %d\n", total)
	fmt.Fprintln(w, strings.Repeat("=", 50))
}
