package utils

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/rowshift/pkg/models"
)

func TestSetupLogging(t *testing.T) {
	t.Setenv("ROWSHIFT_LOG_LEVEL", "")

	// Test with default log level
	logger := SetupLogging("")
	if logger == nil {
		t.Fatal("Expected logger to be created, got nil")
	}
	if logger.Level != logrus.InfoLevel {
		t.Errorf("Expected default log level to be info, got %s", logger.Level)
	}

	// Test with specific log level
	logger = SetupLogging("debug")
	if logger.Level != logrus.DebugLevel {
		t.Errorf("Expected log level to be debug, got %s", logger.Level)
	}

	logger = SetupLogging("warn")
	if logger.Level != logrus.WarnLevel {
		t.Errorf("Expected log level to be warn, got %s", logger.Level)
	}

	// Test with invalid log level (should default to info)
	logger = SetupLogging("invalid")
	if logger.Level != logrus.InfoLevel {
		t.Errorf("Expected log level to be info for invalid input, got %s", logger.Level)
	}

	// Environment variable is used when no level is given
	t.Setenv("ROWSHIFT_LOG_LEVEL", "error")
	logger = SetupLogging("")
	if logger.Level != logrus.ErrorLevel {
		t.Errorf("Expected log level to be error from the environment, got %s", logger.Level)
	}
}

func TestLoadEnvironmentVariables(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress log output during tests

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")

	if LoadEnvironmentVariables(envFile, logger) {
		t.Error("Expected false when the .env file does not exist")
	}

	t.Setenv("ROWSHIFT_DB_HOST", "")
	os.Unsetenv("ROWSHIFT_DB_HOST")
	if err := os.WriteFile(envFile, []byte("ROWSHIFT_DB_HOST=db.from.file\n"), 0o644); err != nil {
		t.Fatalf("Failed to write .env: %v", err)
	}

	if !LoadEnvironmentVariables(envFile, logger) {
		t.Fatal("Expected the .env file to be loaded")
	}
	if got := os.Getenv("ROWSHIFT_DB_HOST"); got != "db.from.file" {
		t.Errorf("Expected ROWSHIFT_DB_HOST from the .env file, got %q", got)
	}
}

func TestValidateConnectionParams(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress log output during tests

	valid := models.DatabaseParams{Driver: "postgres", Host: "localhost", User: "user", Password: "password", Database: "database", Port: "5432"}
	if !ValidateConnectionParams(valid, logger) {
		t.Error("Expected validation to pass with valid parameters")
	}

	tests := map[string]func(p *models.DatabaseParams){
		"missing host":     func(p *models.DatabaseParams) { p.Host = "" },
		"missing user":     func(p *models.DatabaseParams) { p.User = "" },
		"missing database": func(p *models.DatabaseParams) { p.Database = "" },
		"invalid port":     func(p *models.DatabaseParams) { p.Port = "invalid" },
	}
	for name, mutate := range tests {
		params := valid
		mutate(&params)
		if ValidateConnectionParams(params, logger) {
			t.Errorf("Expected validation to fail with %s", name)
		}
	}

	// Empty password is allowed
	params := valid
	params.Password = ""
	if !ValidateConnectionParams(params, logger) {
		t.Error("Expected validation to pass with empty password")
	}

	// sqlite only needs the file path
	if !ValidateConnectionParams(models.DatabaseParams{Driver: "sqlite3", Database: "/tmp/rowshift.db"}, logger) {
		t.Error("Expected validation to pass for sqlite with a database path")
	}
}

func TestPrintSummary(t *testing.T) {
	summary := &models.RunSummary{
		RunID: "run-1",
		Window: models.GenerationWindow{
			Start: time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 8, 2, 0, 0, 0, 0, time.UTC),
		},
		Results: []models.TableResult{
			{Table: "users", RowsWritten: 4},
			{Table: "orders", Err: errors.New("connection refused")},
		},
		MarkerAdvanced: true,
	}

	var buf bytes.Buffer
	PrintSummary(&buf, summary)
	out := buf.String()

	for _, want := range []string{
		"Run ID: run-1",
		"Total rows inserted: 4",
		"Failed tables: 1",
		"orders: 0 written, 0 skipped (FAILED: connection refused)",
		"rowshift backfill --from 2024-06-02T00:00:00Z --to 2024-08-02T00:00:00Z --table orders",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected summary to contain %q, got:\n%s", want, out)
		}
	}
}

func TestPrintDeleteSummary(t *testing.T) {
	var buf bytes.Buffer
	PrintDeleteSummary(&buf, []models.TableResult{
		{Table: "comments", RowsDeleted: 7},
		{Table: "posts", Err: errors.New("permission denied")},
		{Table: "users", RowsDeleted: 2},
	}, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	if !strings.Contains(buf.String(), "Total rows deleted: 9") {
		t.Errorf("Expected a total of 9 deleted rows, got:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "posts: FAILED: permission denied") {
		t.Errorf("Expected the failed table to be reported, got:\n%s", buf.String())
	}
}
