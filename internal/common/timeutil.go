package common

import (
	"fmt"
	"time"
)

// Timestamps travel as naive ISO strings (no timezone) and are interpreted
// as UTC throughout, matching the storage representation.

const isoFormat = "2006-01-02T15:04:05"

var timeLayouts = []string{
	"2006-01-02T15:04:05.999999",
	isoFormat,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	time.RFC3339,
}

// ParseTime parses a timestamp in any of the accepted naive ISO layouts.
func ParseTime(value string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad time format: %q", value)
}

// FormatISO renders a timestamp as a naive ISO-8601 string.
func FormatISO(t time.Time) string {
	return t.UTC().Format(isoFormat)
}

// FormatISOPtr renders an optional timestamp, nil in for nil out.
func FormatISOPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := FormatISO(*t)
	return &s
}

// FormatDuration renders a duration the way Python's timedelta prints:
// "H:MM:SS", with a day prefix once it exceeds 24 hours.
func FormatDuration(d time.Duration) string {
	seconds := int64(d.Seconds())
	if seconds < 0 {
		seconds = 0
	}
	days := seconds / 86400
	seconds -= days * 86400
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60
	if days == 1 {
		return fmt.Sprintf("1 day, %d:%02d:%02d", hours, minutes, secs)
	}
	if days > 1 {
		return fmt.Sprintf("%d days, %d:%02d:%02d", days, hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
}
