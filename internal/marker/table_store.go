package marker

import (
	"context"
	"fmt"
	"time"

	"github.com/vitebski/rowshift/internal/connector"
)

// TableStore keeps the marker in the single row of update_tracker.last_updated
type TableStore struct {
	DB       *connector.DatabaseConnector
	Location *time.Location
}

// NewTableStore creates a database backed marker store
func NewTableStore(db *connector.DatabaseConnector, loc *time.Location) *TableStore {
	return &TableStore{DB: db, Location: loc}
}

// Load implements Store
func (s *TableStore) Load(ctx context.Context) (time.Time, error) {
	rows, err := s.DB.ExecuteQuery(ctx, s.DB.Dialect().MarkerSelectSQL())
	if err != nil {
		return time.Time{}, err
	}
	if len(rows) == 0 || rows[0]["last_updated"] == nil {
		return time.Time{}, fmt.Errorf("%w: update_tracker has no last_updated value", ErrNotFound)
	}

	switch v := rows[0]["last_updated"].(type) {
	case time.Time:
		return v, nil
	case string:
		return Parse(v, s.Location)
	default:
		return time.Time{}, fmt.Errorf("unexpected last_updated value %v (%T)", v, v)
	}
}

// Save implements Store. The row is inserted when update_tracker is empty.
func (s *TableStore) Save(ctx context.Context, t time.Time) error {
	dialect := s.DB.Dialect()

	affected, err := s.DB.ExecuteStatement(ctx, dialect.MarkerUpdateSQL(), t)
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	_, err = s.DB.ExecuteStatement(ctx, dialect.MarkerInsertSQL(), t)
	return err
}

// New returns the store for a configured kind
func New(kind, path string, db *connector.DatabaseConnector, loc *time.Location) (Store, error) {
	switch kind {
	case "", KindFile:
		if path == "" {
			return nil, fmt.Errorf("marker path is required for the file store")
		}
		return NewFileStore(path, loc), nil
	case KindTable:
		return NewTableStore(db, loc), nil
	default:
		return nil, fmt.Errorf("unknown marker kind: %q", kind)
	}
}
