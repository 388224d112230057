package generator

import (
	"fmt"
	"time"

	"github.com/vitebski/rowshift/pkg/models"
)

// DefaultOffsetDays is the distance, in calendar days, between template
// rows and generated rows
const DefaultOffsetDays = 60

// DefaultCutoff is the earliest shifted timestamp allowed into a table
var DefaultCutoff = time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

// ComputeWindow returns the template window for a run that fills
// [lastUpdated, now]: both ends moved back by offsetDays calendar days.
// The shift keeps the wall clock, so a DST change inside the span does not
// move the bounds by an hour.
func ComputeWindow(lastUpdated, now time.Time, offsetDays int) (models.GenerationWindow, error) {
	if lastUpdated.After(now) {
		return models.GenerationWindow{}, fmt.Errorf("last updated marker %s is after the current time %s",
			lastUpdated.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	return models.GenerationWindow{
		Start: lastUpdated.AddDate(0, 0, -offsetDays),
		End:   now.AddDate(0, 0, -offsetDays),
	}, nil
}
