package generator

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vitebski/rowshift/internal/connector"
	"github.com/vitebski/rowshift/pkg/models"
)

// ID strategy names accepted in configuration
const (
	StrategyMaxQuery      = "max_query"
	StrategyReservedRange = "reserved_range"
)

// Querier is the subset of *sql.Tx used to assign IDs
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// IDSource hands out primary keys for one table transaction
type IDSource interface {
	Next(ctx context.Context) (int64, error)
}

// IDAllocator decides how new primary keys are assigned
type IDAllocator interface {
	// Reserve prepares ID assignment for a table inside q's transaction
	Reserve(ctx context.Context, q Querier, dialect connector.Dialect, table models.TableSpec) (IDSource, error)
}

// NewIDAllocator returns the allocator for a strategy name
func NewIDAllocator(strategy string) (IDAllocator, error) {
	switch strategy {
	case "", StrategyMaxQuery:
		return MaxQueryAllocator{}, nil
	case StrategyReservedRange:
		return RangeAllocator{}, nil
	default:
		return nil, fmt.Errorf("unknown id strategy: %q", strategy)
	}
}

// MaxQueryAllocator re-reads MAX(id) before every row and uses max+1.
// Two concurrent runs against one table can compute the same ID.
type MaxQueryAllocator struct{}

// Reserve implements IDAllocator
func (MaxQueryAllocator) Reserve(ctx context.Context, q Querier, dialect connector.Dialect, table models.TableSpec) (IDSource, error) {
	return &maxQuerySource{q: q, query: dialect.MaxIDSQL(table, false)}, nil
}

type maxQuerySource struct {
	q     Querier
	query string
}

func (s *maxQuerySource) Next(ctx context.Context) (int64, error) {
	maxID, err := queryMaxID(ctx, s.q, s.query)
	if err != nil {
		return 0, err
	}
	return maxID + 1, nil
}

// RangeAllocator locks the table, reads MAX(id) once and hands out
// consecutive IDs from memory for the rest of the transaction.
type RangeAllocator struct{}

// Reserve implements IDAllocator
func (RangeAllocator) Reserve(ctx context.Context, q Querier, dialect connector.Dialect, table models.TableSpec) (IDSource, error) {
	if lock := dialect.LockTableSQL(table); lock != "" {
		if _, err := q.ExecContext(ctx, lock); err != nil {
			return nil, &connector.QueryError{Query: lock, Err: err}
		}
	}

	maxID, err := queryMaxID(ctx, q, dialect.MaxIDSQL(table, true))
	if err != nil {
		return nil, err
	}
	return &rangeSource{next: maxID + 1}, nil
}

type rangeSource struct {
	next int64
}

func (s *rangeSource) Next(ctx context.Context) (int64, error) {
	id := s.next
	s.next++
	return id, nil
}

// queryMaxID runs a MAX(id) query; an empty table yields 0
func queryMaxID(ctx context.Context, q Querier, query string) (int64, error) {
	var maxID sql.NullInt64
	if err := q.QueryRowContext(ctx, query).Scan(&maxID); err != nil {
		return 0, &connector.QueryError{Query: query, Err: err}
	}
	if !maxID.Valid {
		return 0, nil
	}
	return maxID.Int64, nil
}
