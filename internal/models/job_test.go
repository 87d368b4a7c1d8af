package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJobStatus(t *testing.T) {
	status, err := ParseJobStatus("finished")
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, status)

	status, err = ParseJobStatus("CLAIMED")
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, status)

	_, err = ParseJobStatus("bogus")
	require.Error(t, err)
	assert.EqualError(t, err, `unsupported status: "bogus"`)
}

func TestJobStatusTitle(t *testing.T) {
	assert.Equal(t, "Available", StatusAvailable.Title())
	assert.Equal(t, "Finished", StatusFinished.Title())
}

func TestJobStatusTimestampField(t *testing.T) {
	assert.Equal(t, "claimed_at", StatusClaimed.TimestampField())
	assert.Equal(t, "claimed_at", StatusStarted.TimestampField())
	assert.Equal(t, "finished_at", StatusFinished.TimestampField())
	assert.Equal(t, "failed_at", StatusFailed.TimestampField())
	assert.Equal(t, "added_at", StatusAvailable.TimestampField())
}

func TestValidateJobPayload(t *testing.T) {
	err := ValidateJobPayload(map[string]interface{}{})
	require.Error(t, err)
	assert.EqualError(t, err, "Missing required fields: id, source_url")

	err = ValidateJobPayload(map[string]interface{}{"id": "a"})
	require.Error(t, err)
	assert.EqualError(t, err, "Missing required fields: source_url")

	err = ValidateJobPayload(map[string]interface{}{
		"id": "a", "source_url": "u", "zeta": 1, "alpha": 2,
	})
	require.Error(t, err)
	assert.EqualError(t, err, "These fields do not exist or are for internal use: alpha, zeta")

	err = ValidateJobPayload(map[string]interface{}{"id": 42, "source_url": "u"})
	require.Error(t, err)
	assert.EqualError(t, err, "Expected string in field 'id'")

	err = ValidateJobPayload(map[string]interface{}{
		"id": "a", "source_url": "u", "type": "render", "target_url": "t",
		"view_result_url": "v", "added_timestamp": "2020-01-01T00:00:00",
	})
	assert.NoError(t, err)
}

func TestJobFromPayload(t *testing.T) {
	now := time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC)

	job, err := JobFromPayload(map[string]interface{}{
		"id": "j1", "source_url": "http://in/j1", "type": "render",
	}, now)
	require.NoError(t, err)
	assert.Equal(t, "j1", job.ID)
	assert.Equal(t, "render", job.Type)
	assert.Equal(t, StatusAvailable, job.CurrentStatus)
	assert.False(t, job.Claimed)
	require.NotNil(t, job.AddedAt)
	assert.Equal(t, now, *job.AddedAt)
}

func TestJobFromPayloadBackdated(t *testing.T) {
	now := time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC)

	job, err := JobFromPayload(map[string]interface{}{
		"id": "j1", "source_url": "u", "added_timestamp": "2019-12-31T23:00:00",
	}, now)
	require.NoError(t, err)
	require.NotNil(t, job.AddedAt)
	assert.Equal(t, time.Date(2019, 12, 31, 23, 0, 0, 0, time.UTC), *job.AddedAt)

	_, err = JobFromPayload(map[string]interface{}{
		"id": "j1", "source_url": "u", "added_timestamp": "yesterday",
	}, now)
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestSamePayload(t *testing.T) {
	a := &Job{ID: "j1", Type: "render", SourceURL: "s", TargetURL: "t", ViewResultURL: "v"}
	b := &Job{ID: "j1", Type: "render", SourceURL: "s", TargetURL: "t", ViewResultURL: "v",
		Claimed: true, Worker: "w"}
	assert.True(t, a.SamePayload(b))

	c := &Job{ID: "j1", Type: "render", SourceURL: "other"}
	assert.False(t, a.SamePayload(c))
}
