package models

import "time"

// ColumnType is the declared storage type of a table column
type ColumnType string

const (
	ColumnTypeUnknown   ColumnType = ""
	ColumnTypeInteger   ColumnType = "integer"
	ColumnTypeText      ColumnType = "text"
	ColumnTypeTimestamp ColumnType = "timestamp"
	ColumnTypeJSON      ColumnType = "json"
	ColumnTypeBoolean   ColumnType = "boolean"
	ColumnTypeNumeric   ColumnType = "numeric"
	ColumnTypeBinary    ColumnType = "binary"
)

// TableSpec describes one table to generate data for.
// The first entry of AllColumns is the integer primary key.
type TableSpec struct {
	Name             string                `json:"name" yaml:"name"`
	TimestampColumn  string                `json:"timestampColumn" yaml:"timestampColumn"`
	AllColumns       []string              `json:"allColumns" yaml:"allColumns"`
	ColumnsToDatagen []string              `json:"columnsToDatagen" yaml:"columnsToDatagen"`
	ColumnTypes      map[string]ColumnType `json:"columnTypes,omitempty" yaml:"columnTypes,omitempty"`
	DependsOn        []string              `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
}

// IDColumn returns the primary key column
func (t TableSpec) IDColumn() string {
	if len(t.AllColumns) == 0 {
		return ""
	}
	return t.AllColumns[0]
}

// TypeOf returns the declared type of a column, or ColumnTypeUnknown
func (t TableSpec) TypeOf(column string) ColumnType {
	if t.ColumnTypes == nil {
		return ColumnTypeUnknown
	}
	return t.ColumnTypes[column]
}

// ColumnIndex returns the position of a column in AllColumns, or -1
func (t TableSpec) ColumnIndex(column string) int {
	for i, c := range t.AllColumns {
		if c == column {
			return i
		}
	}
	return -1
}

// HasAllColumnTypes reports whether every column has a declared type
func (t TableSpec) HasAllColumnTypes() bool {
	for _, c := range t.AllColumns {
		if t.TypeOf(c) == ColumnTypeUnknown {
			return false
		}
	}
	return true
}

// Row is one record, ordered like TableSpec.AllColumns
type Row []interface{}

// Clone returns a shallow copy of the row
func (r Row) Clone() Row {
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// GenerationWindow is a closed time interval [Start, End]
type GenerationWindow struct {
	Start time.Time
	End   time.Time
}

// Shifted returns the window moved forward by days calendar days
func (w GenerationWindow) Shifted(days int) GenerationWindow {
	return GenerationWindow{Start: w.Start.AddDate(0, 0, days), End: w.End.AddDate(0, 0, days)}
}

// Contains reports whether t falls inside the window, bounds included
func (w GenerationWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// DatabaseParams holds connection parameters for the target store
type DatabaseParams struct {
	Driver   string
	Host     string
	Port     string
	User     string
	Password string
	Database string
	Schema   string
	SSLMode  string
}

// TableStats counts what happened to the template rows of one table
type TableStats struct {
	Fetched int
	Written int
	Skipped int
}

// TableResult is the outcome of processing one table
type TableResult struct {
	Table       string
	RowsWritten int
	RowsSkipped int
	RowsDeleted int64
	Err         error
}

// RunSummary is the outcome of one scheduled run or backfill
type RunSummary struct {
	RunID          string
	Window         GenerationWindow
	Results        []TableResult
	MarkerAdvanced bool
}

// FailedTables returns the names of tables that returned an error
func (s *RunSummary) FailedTables() []string {
	var failed []string
	for _, r := range s.Results {
		if r.Err != nil {
			failed = append(failed, r.Table)
		}
	}
	return failed
}

// SuccessfulTables returns the names of tables that completed
func (s *RunSummary) SuccessfulTables() []string {
	var ok []string
	for _, r := range s.Results {
		if r.Err == nil {
			ok = append(ok, r.Table)
		}
	}
	return ok
}

// TotalRowsWritten sums RowsWritten over all tables
func (s *RunSummary) TotalRowsWritten() int {
	total := 0
	for _, r := range s.Results {
		total += r.RowsWritten
	}
	return total
}
