package generator

import (
	"fmt"
	"time"

	"github.com/vitebski/rowshift/pkg/models"
)

// LegalityViolation is returned when a row about to be inserted holds a
// shifted timestamp earlier than the cutoff. It aborts the table.
type LegalityViolation struct {
	Table  string
	Column string
	Value  time.Time
	Cutoff time.Time
	Row    models.Row
}

func (e *LegalityViolation) Error() string {
	return fmt.Sprintf("insert into %s is illegal for row %v: column %s holds %s, before cutoff %s",
		e.Table, e.Row, e.Column, e.Value.Format(time.RFC3339), e.Cutoff.Format(time.RFC3339))
}

// TypeMismatch reports a template row value that does not match the
// declared column type. The row is skipped.
type TypeMismatch struct {
	Table    string
	Column   string
	Expected models.ColumnType
	Value    interface{}
}

func (e *TypeMismatch) Error() string {
	return fmt.Sprintf("column %s.%s is declared %s but holds %T(%v)", e.Table, e.Column, e.Expected, e.Value, e.Value)
}
