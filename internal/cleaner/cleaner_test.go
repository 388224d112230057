package cleaner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/rowshift/internal/connector"
	"github.com/vitebski/rowshift/pkg/models"
)

func newMockCleaner(t *testing.T) (*Cleaner, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress log output during tests
	db := &connector.DatabaseConnector{Driver: connector.DriverPostgres, DB: sqlDB, Logger: logger}
	return NewCleaner(db, logger), mock
}

func TestDeleteSinceIsolatesFailures(t *testing.T) {
	cleaner, mock := newMockCleaner(t)
	since := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	tables := []models.TableSpec{
		{Name: "users", TimestampColumn: "created_at"},
		{Name: "posts", TimestampColumn: "published_at"},
		{Name: "comments", TimestampColumn: "written_at"},
	}

	// Reverse order: comments, posts, users
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM public.comments WHERE written_at >= $1").
		WithArgs(since).
		WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM public.posts WHERE published_at >= $1").
		WithArgs(since).
		WillReturnError(errors.New("permission denied for table posts"))
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM public.users WHERE created_at >= $1").
		WithArgs(since).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	results := cleaner.DeleteSince(context.Background(), tables, since)

	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if results[0].Table != "comments" || results[0].RowsDeleted != 12 || results[0].Err != nil {
		t.Errorf("Unexpected result for comments: %+v", results[0])
	}
	var queryErr *connector.QueryError
	if results[1].Table != "posts" || !errors.As(results[1].Err, &queryErr) {
		t.Errorf("Expected a QueryError for posts, got %+v", results[1])
	}
	if results[2].Table != "users" || results[2].RowsDeleted != 3 || results[2].Err != nil {
		t.Errorf("Unexpected result for users: %+v", results[2])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestDeleteSinceNoTables(t *testing.T) {
	cleaner, mock := newMockCleaner(t)

	if results := cleaner.DeleteSince(context.Background(), nil, time.Now()); len(results) != 0 {
		t.Errorf("Expected no results, got %d", len(results))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}
