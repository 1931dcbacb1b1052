package bridge

import (
	"fmt"
	"time"
)

const (
	secondsPerDay = 24 * 60 * 60
	daysPerWeek   = 7
	daysPerYear   = 365
)

// DurationString renders a time span in venue duration units. The venue
// accepts whole seconds, days, weeks, or years; spans are rounded up so the
// requested window is always covered.
func DurationString(span time.Duration) string {
	secs := int64(span / time.Second)
	if span%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	if secs < secondsPerDay {
		return fmt.Sprintf("%d S", secs)
	}
	days := secs / secondsPerDay
	if secs%secondsPerDay != 0 {
		days++
	}
	switch {
	case days < daysPerWeek:
		return fmt.Sprintf("%d D", days)
	case days%daysPerWeek == 0 && days < daysPerYear:
		return fmt.Sprintf("%d W", days/daysPerWeek)
	case days < daysPerYear:
		return fmt.Sprintf("%d D", days)
	default:
		years := days / daysPerYear
		if days%daysPerYear != 0 {
			years++
		}
		return fmt.Sprintf("%d Y", years)
	}
}
