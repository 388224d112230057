package generator

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

const (
	selectEventsSQL = "SELECT id, name, payload, created_at, updated_at FROM public.events WHERE created_at BETWEEN $1 AND $2"
	maxEventsSQL    = "SELECT MAX(id) FROM public.events"
	insertEventsSQL = "INSERT INTO public.events (id, name, payload, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)"
)

var eventsColumns = []string{"id", "name", "payload", "created_at", "updated_at"}

func eventsSpec() models.TableSpec {
	return models.TableSpec{
		Name:             "events",
		TimestampColumn:  "created_at",
		AllColumns:       eventsColumns,
		ColumnsToDatagen: []string{"created_at", "updated_at"},
		ColumnTypes: map[string]models.ColumnType{
			"id":         models.ColumnTypeInteger,
			"name":       models.ColumnTypeText,
			"payload":    models.ColumnTypeJSON,
			"created_at": models.ColumnTypeTimestamp,
			"updated_at": models.ColumnTypeTimestamp,
		},
	}
}

func testWindow() models.GenerationWindow {
	return models.GenerationWindow{
		Start: time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 8, 2, 0, 0, 0, 0, time.UTC),
	}
}

func createTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress log output during tests
	return logger
}

func newMockGenerator(t *testing.T, allocator IDAllocator) (*DataGenerator, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	logger := createTestLogger()
	db := &connector.DatabaseConnector{Driver: "postgres", DB: sqlDB, Logger: logger}
	return NewDataGenerator(db, allocator, logger), mock
}

func TestGenerateShiftsTimestampsAndAssignsIDs(t *testing.T) {
	dg, mock := newMockGenerator(t, nil)
	window := testWindow()

	created1 := time.Date(2024, 6, 10, 8, 30, 0, 0, time.UTC)
	updated1 := time.Date(2024, 6, 11, 9, 0, 0, 0, time.UTC)
	created2 := time.Date(2024, 7, 20, 23, 59, 59, 0, time.UTC)
	updated2 := time.Date(2024, 7, 21, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(selectEventsSQL).
		WithArgs(window.Start, window.End).
		WillReturnRows(sqlmock.NewRows(eventsColumns).
			AddRow(int64(3), "alpha", []byte(`{"b": 2, "a": {"y": 1, "x": [1, 2]}}`), created1, updated1).
			AddRow(int64(4), "beta", nil, created2, updated2))
	mock.ExpectQuery(maxEventsSQL).WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(10)))
	mock.ExpectExec(insertEventsSQL).
		WithArgs(int64(11), "alpha", `{"a":{"x":[1,2],"y":1},"b":2}`, created1.AddDate(0, 0, DefaultOffsetDays), updated1.AddDate(0, 0, DefaultOffsetDays)).
		WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectQuery(maxEventsSQL).WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(11)))
	mock.ExpectExec(insertEventsSQL).
		WithArgs(int64(12), "beta", nil, created2.AddDate(0, 0, DefaultOffsetDays), updated2.AddDate(0, 0, DefaultOffsetDays)).
		WillReturnResult(sqlmock.NewResult(12, 1))
	mock.ExpectCommit()

	written, err := dg.Generate(context.Background(), eventsSpec(), window)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if written != 2 {
		t.Errorf("Expected 2 rows written, got %d", written)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestGenerateEmptyTableStartsAtOne(t *testing.T) {
	dg, mock := newMockGenerator(t, nil)
	window := testWindow()
	created := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(selectEventsSQL).
		WithArgs(window.Start, window.End).
		WillReturnRows(sqlmock.NewRows(eventsColumns).AddRow(int64(1), "only", nil, created, created))
	mock.ExpectQuery(maxEventsSQL).WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectExec(insertEventsSQL).
		WithArgs(int64(1), "only", nil, created.AddDate(0, 0, DefaultOffsetDays), created.AddDate(0, 0, DefaultOffsetDays)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if _, err := dg.Generate(context.Background(), eventsSpec(), window); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestGenerateSkipsRowsWithNonTimestampValues(t *testing.T) {
	dg, mock := newMockGenerator(t, nil)
	window := testWindow()
	created := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(selectEventsSQL).
		WithArgs(window.Start, window.End).
		WillReturnRows(sqlmock.NewRows(eventsColumns).
			AddRow(int64(1), "broken", nil, created, "yesterday").
			AddRow(int64(2), "null-ts", nil, created, nil).
			AddRow(int64(3), "fine", nil, created, created))
	mock.ExpectQuery(maxEventsSQL).WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(3)))
	mock.ExpectExec(insertEventsSQL).
		WithArgs(int64(4), "fine", nil, created.AddDate(0, 0, DefaultOffsetDays), created.AddDate(0, 0, DefaultOffsetDays)).
		WillReturnResult(sqlmock.NewResult(4, 1))
	mock.ExpectCommit()

	stats, err := dg.GenerateTable(context.Background(), eventsSpec(), window)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if stats.Fetched != 3 || stats.Written != 1 || stats.Skipped != 2 {
		t.Errorf("Expected 3 fetched, 1 written, 2 skipped, got %+v", stats)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestGenerateSkipsRowsWithInvalidJSON(t *testing.T) {
	dg, mock := newMockGenerator(t, nil)
	window := testWindow()
	created := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(selectEventsSQL).
		WithArgs(window.Start, window.End).
		WillReturnRows(sqlmock.NewRows(eventsColumns).
			AddRow(int64(1), "broken", []byte(`{"a":`), created, created))
	mock.ExpectCommit()

	stats, err := dg.GenerateTable(context.Background(), eventsSpec(), window)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if stats.Skipped != 1 || stats.Written != 0 {
		t.Errorf("Expected the row to be skipped, got %+v", stats)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestGenerateAbortsOnLegalityViolation(t *testing.T) {
	dg, mock := newMockGenerator(t, nil)
	window := models.GenerationWindow{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC),
	}
	legal := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	illegal := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(selectEventsSQL).
		WithArgs(window.Start, window.End).
		WillReturnRows(sqlmock.NewRows(eventsColumns).
			AddRow(int64(1), "legal", nil, legal, legal).
			AddRow(int64(2), "illegal", nil, illegal, legal))
	mock.ExpectQuery(maxEventsSQL).WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(2)))
	mock.ExpectExec(insertEventsSQL).
		WithArgs(int64(3), "legal", nil, legal.AddDate(0, 0, DefaultOffsetDays), legal.AddDate(0, 0, DefaultOffsetDays)).
		WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectQuery(maxEventsSQL).WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(3)))
	mock.ExpectRollback()

	written, err := dg.Generate(context.Background(), eventsSpec(), window)

	var violation *LegalityViolation
	if !errors.As(err, &violation) {
		t.Fatalf("Expected a LegalityViolation, got %v", err)
	}
	if violation.Column != "created_at" {
		t.Errorf("Expected the violation on created_at, got %s", violation.Column)
	}
	if !violation.Value.Equal(illegal.AddDate(0, 0, DefaultOffsetDays)) {
		t.Errorf("Expected the offending value to be the shifted timestamp, got %s", violation.Value)
	}
	if written != 1 {
		t.Errorf("Expected 1 row executed before the violation, got %d", written)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestGenerateRollsBackOnInsertFailure(t *testing.T) {
	dg, mock := newMockGenerator(t, nil)
	window := testWindow()
	created := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(selectEventsSQL).
		WithArgs(window.Start, window.End).
		WillReturnRows(sqlmock.NewRows(eventsColumns).AddRow(int64(1), "dup", nil, created, created))
	mock.ExpectQuery(maxEventsSQL).WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(1)))
	mock.ExpectExec(insertEventsSQL).WillReturnError(errors.New("duplicate key value violates unique constraint"))
	mock.ExpectRollback()

	_, err := dg.Generate(context.Background(), eventsSpec(), window)
	var queryErr *connector.QueryError
	if !errors.As(err, &queryErr) {
		t.Fatalf("Expected a QueryError, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestGenerateWithReservedRange(t *testing.T) {
	dg, mock := newMockGenerator(t, RangeAllocator{})
	window := testWindow()
	created := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(selectEventsSQL).
		WithArgs(window.Start, window.End).
		WillReturnRows(sqlmock.NewRows(eventsColumns).
			AddRow(int64(1), "a", nil, created, created).
			AddRow(int64(2), "b", nil, created, created))
	mock.ExpectExec("LOCK TABLE public.events IN SHARE ROW EXCLUSIVE MODE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(maxEventsSQL).WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(20)))
	mock.ExpectExec(insertEventsSQL).
		WithArgs(int64(21), "a", nil, created.AddDate(0, 0, DefaultOffsetDays), created.AddDate(0, 0, DefaultOffsetDays)).
		WillReturnResult(sqlmock.NewResult(21, 1))
	mock.ExpectExec(insertEventsSQL).
		WithArgs(int64(22), "b", nil, created.AddDate(0, 0, DefaultOffsetDays), created.AddDate(0, 0, DefaultOffsetDays)).
		WillReturnResult(sqlmock.NewResult(22, 1))
	mock.ExpectCommit()

	written, err := dg.Generate(context.Background(), eventsSpec(), window)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if written != 2 {
		t.Errorf("Expected 2 rows written, got %d", written)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestGenerateFetchFailure(t *testing.T) {
	dg, mock := newMockGenerator(t, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(selectEventsSQL).WillReturnError(errors.New("relation \"public.events\" does not exist"))
	mock.ExpectRollback()

	_, err := dg.Generate(context.Background(), eventsSpec(), testWindow())
	var queryErr *connector.QueryError
	if !errors.As(err, &queryErr) {
		t.Fatalf("Expected a QueryError, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestNewIDAllocator(t *testing.T) {
	if a, err := NewIDAllocator(""); err != nil {
		t.Errorf("Unexpected error: %v", err)
	} else if _, ok := a.(MaxQueryAllocator); !ok {
		t.Errorf("Expected the default strategy to be max_query, got %T", a)
	}
	if a, err := NewIDAllocator("reserved_range"); err != nil {
		t.Errorf("Unexpected error: %v", err)
	} else if _, ok := a.(RangeAllocator); !ok {
		t.Errorf("Expected a RangeAllocator, got %T", a)
	}
	if _, err := NewIDAllocator("uuid"); err == nil {
		t.Error("Expected an error for an unknown strategy")
	}
}
