package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimePeriod(t *testing.T) {
	period, err := ParseTimePeriod("daily")
	require.NoError(t, err)
	assert.Equal(t, PeriodDaily, period)

	_, err = ParseTimePeriod("weekly")
	require.Error(t, err)
	assert.EqualError(t, err, `unsupported period: "weekly"`)
}

func TestPeriodTitle(t *testing.T) {
	assert.Equal(t, "Hourly", PeriodHourly.Title())
	assert.Equal(t, "Yearly", PeriodYearly.Title())
}

func TestPeriodLabelRoundTrip(t *testing.T) {
	ts := time.Date(2020, 3, 7, 14, 0, 0, 0, time.UTC)

	tests := []struct {
		period TimePeriod
		label  string
		start  time.Time
	}{
		{PeriodHourly, "2020-03-07 14:00", time.Date(2020, 3, 7, 14, 0, 0, 0, time.UTC)},
		{PeriodDaily, "2020-03-07", time.Date(2020, 3, 7, 0, 0, 0, 0, time.UTC)},
		{PeriodMonthly, "2020-03", time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)},
		{PeriodYearly, "2020", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.label, tt.period.Label(ts), string(tt.period))
		parsed, err := tt.period.ParseLabel(tt.label)
		require.NoError(t, err)
		assert.Equal(t, tt.start, parsed, string(tt.period))
	}
}

func TestPeriodNext(t *testing.T) {
	start := time.Date(2020, 12, 31, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), PeriodHourly.Next(start))

	day := time.Date(2020, 2, 28, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2020, 2, 29, 0, 0, 0, 0, time.UTC), PeriodDaily.Next(day))

	month := time.Date(2020, 12, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), PeriodMonthly.Next(month))

	year := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), PeriodYearly.Next(year))
}

func TestPeriodZoom(t *testing.T) {
	zoom, ok := PeriodYearly.Zoom()
	require.True(t, ok)
	assert.Equal(t, PeriodMonthly, zoom)

	zoom, ok = PeriodMonthly.Zoom()
	require.True(t, ok)
	assert.Equal(t, PeriodDaily, zoom)

	zoom, ok = PeriodDaily.Zoom()
	require.True(t, ok)
	assert.Equal(t, PeriodHourly, zoom)

	_, ok = PeriodHourly.Zoom()
	assert.False(t, ok)
}
