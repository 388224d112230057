package marker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ContractVersion identifies the marker format: a single timestamp that is
// read once when a run starts and overwritten once, with the run's start
// time, when it ends.
const ContractVersion = 1

// Marker store kinds accepted in configuration
const (
	KindFile  = "file"
	KindTable = "table"
)

// ErrNotFound is returned by Load when no marker has been written yet
var ErrNotFound = errors.New("last updated marker not found")

// Store persists the last-updated marker.
type Store interface {
	// Load returns the stored marker, or an error wrapping ErrNotFound.
	Load(ctx context.Context) (time.Time, error)

	// Save overwrites the stored marker.
	Save(ctx context.Context, t time.Time) error
}

// layouts accepted when reading a marker, in order of preference
var layouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02",
}

// Parse reads a marker value. Values without a zone offset are
// interpreted in loc.
func Parse(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if loc == nil {
		loc = time.Local
	}

	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid marker timestamp %q", value)
}

// Format renders a marker value the way stores write it
func Format(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}
