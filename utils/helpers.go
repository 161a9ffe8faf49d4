package utils

import (
	"fmt"
	"time"
)

func IsValidInterval(interval string) bool {
	switch interval {
	case "Minute", "Hour", "Day", "Week", "Month", "Quarter", "Year":
		return true
	default:
		return false
	}
}

// DefaultRange is used when a stats request names no start time.
const DefaultRange = 7 * 24 * time.Hour

// ParseTimeRange reads RFC 3339 start and end values. A missing end is now
// and a missing start is DefaultRange before end.
func ParseTimeRange(startStr, endStr string, now time.Time) (start, end time.Time, err error) {
	end = now
	if endStr != "" {
		if end, err = time.Parse(time.RFC3339, endStr); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end time %q: %w", endStr, err)
		}
	}
	start = end.Add(-DefaultRange)
	if startStr != "" {
		if start, err = time.Parse(time.RFC3339, startStr); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start time %q: %w", startStr, err)
		}
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start time %s is after end time %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return start, end, nil
}
