package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"2020-01-02T10:30:00", time.Date(2020, 1, 2, 10, 30, 0, 0, time.UTC)},
		{"2020-01-02T10:30:00.500000", time.Date(2020, 1, 2, 10, 30, 0, 500000000, time.UTC)},
		{"2020-01-02T10:30", time.Date(2020, 1, 2, 10, 30, 0, 0, time.UTC)},
		{"2020-01-02 10:30:00", time.Date(2020, 1, 2, 10, 30, 0, 0, time.UTC)},
		{"2020-01-02", time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseTime(tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}
}

func TestParseTimeRejectsGarbage(t *testing.T) {
	_, err := ParseTime("not-a-time")
	require.Error(t, err)
	assert.EqualError(t, err, `bad time format: "not-a-time"`)
}

func TestFormatISO(t *testing.T) {
	ts := time.Date(2020, 1, 2, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, "2020-01-02T10:30:00", FormatISO(ts))

	// Non-UTC input renders in UTC.
	loc := time.FixedZone("plus2", 2*3600)
	assert.Equal(t, "2020-01-02T08:30:00", FormatISO(time.Date(2020, 1, 2, 10, 30, 0, 0, loc)))
}

func TestFormatISOPtr(t *testing.T) {
	assert.Nil(t, FormatISOPtr(nil))

	ts := time.Date(2020, 1, 2, 10, 30, 0, 0, time.UTC)
	got := FormatISOPtr(&ts)
	require.NotNil(t, got)
	assert.Equal(t, "2020-01-02T10:30:00", *got)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00:00"},
		{30 * time.Minute, "0:30:00"},
		{time.Hour, "1:00:00"},
		{3*time.Hour + 25*time.Minute + 45*time.Second, "3:25:45"},
		{25*time.Hour + time.Minute + time.Second, "1 day, 1:01:01"},
		{49 * time.Hour, "2 days, 1:00:00"},
		{-time.Minute, "0:00:00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.d), tt.d.String())
	}
}
