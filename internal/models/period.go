package models

import (
	"fmt"
	"strings"
	"time"
)

// TimePeriod is a bucketing granularity for the job count endpoint.
type TimePeriod string

const (
	PeriodHourly  TimePeriod = "HOURLY"
	PeriodDaily   TimePeriod = "DAILY"
	PeriodMonthly TimePeriod = "MONTHLY"
	PeriodYearly  TimePeriod = "YEARLY"
)

// ParseTimePeriod uppercases and validates a period string.
func ParseTimePeriod(value string) (TimePeriod, error) {
	period := TimePeriod(strings.ToUpper(value))
	switch period {
	case PeriodHourly, PeriodDaily, PeriodMonthly, PeriodYearly:
		return period, nil
	}
	return "", fmt.Errorf("unsupported period: %q", value)
}

// Title returns the period in title case for the wire ("Hourly", "Daily"...).
func (p TimePeriod) Title() string {
	s := strings.ToLower(string(p))
	return strings.ToUpper(s[:1]) + s[1:]
}

// Label formats a bucket start in the period's label format.
func (p TimePeriod) Label(t time.Time) string {
	switch p {
	case PeriodHourly:
		return t.UTC().Format("2006-01-02 15:04")
	case PeriodDaily:
		return t.UTC().Format("2006-01-02")
	case PeriodMonthly:
		return t.UTC().Format("2006-01")
	default:
		return t.UTC().Format("2006")
	}
}

// Strftime returns the SQLite strftime format that buckets a unix timestamp
// into this period's label.
func (p TimePeriod) Strftime() string {
	switch p {
	case PeriodHourly:
		return "%Y-%m-%d %H:00"
	case PeriodDaily:
		return "%Y-%m-%d"
	case PeriodMonthly:
		return "%Y-%m"
	default:
		return "%Y"
	}
}

// ParseLabel parses a bucket label back into its start time.
func (p TimePeriod) ParseLabel(label string) (time.Time, error) {
	switch p {
	case PeriodHourly:
		return time.ParseInLocation("2006-01-02 15:04", label, time.UTC)
	case PeriodDaily:
		return time.ParseInLocation("2006-01-02", label, time.UTC)
	case PeriodMonthly:
		return time.ParseInLocation("2006-01", label, time.UTC)
	default:
		return time.ParseInLocation("2006", label, time.UTC)
	}
}

// Next returns the start of the bucket following the one starting at t.
func (p TimePeriod) Next(t time.Time) time.Time {
	switch p {
	case PeriodHourly:
		return t.Add(time.Hour)
	case PeriodDaily:
		return t.AddDate(0, 0, 1)
	case PeriodMonthly:
		return t.AddDate(0, 1, 0)
	default:
		return t.AddDate(1, 0, 0)
	}
}

// Zoom returns the next finer period for drill-down links, and whether one
// exists (hourly is the finest).
func (p TimePeriod) Zoom() (TimePeriod, bool) {
	switch p {
	case PeriodYearly:
		return PeriodMonthly, true
	case PeriodMonthly:
		return PeriodDaily, true
	case PeriodDaily:
		return PeriodHourly, true
	}
	return "", false
}
