package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/molflow/microq/internal/common"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	StatusAvailable JobStatus = "AVAILABLE"
	StatusClaimed   JobStatus = "CLAIMED"
	StatusStarted   JobStatus = "STARTED"
	StatusFinished  JobStatus = "FINISHED"
	StatusFailed    JobStatus = "FAILED"
)

// AllJobStatuses lists the valid lifecycle states.
var AllJobStatuses = []JobStatus{
	StatusAvailable, StatusClaimed, StatusStarted, StatusFinished, StatusFailed,
}

// ParseJobStatus uppercases and validates a status string.
func ParseJobStatus(value string) (JobStatus, error) {
	status := JobStatus(strings.ToUpper(value))
	for _, s := range AllJobStatuses {
		if status == s {
			return status, nil
		}
	}
	return "", fmt.Errorf("unsupported status: %q", value)
}

// Title returns the status in title case, as used by the JobStates map.
func (s JobStatus) Title() string {
	str := strings.ToLower(string(s))
	if str == "" {
		return ""
	}
	return strings.ToUpper(str[:1]) + str[1:]
}

// TimestampField returns the job column that timestamps this state.
func (s JobStatus) TimestampField() string {
	switch s {
	case StatusClaimed, StatusStarted:
		return "claimed_at"
	case StatusFinished:
		return "finished_at"
	case StatusFailed:
		return "failed_at"
	default:
		return "added_at"
	}
}

// Job is one row in a project's job table. The id is caller supplied and
// unique per project; id, type and the three URLs are immutable after insert.
type Job struct {
	ID            string
	Type          string
	SourceURL     string
	TargetURL     string
	ViewResultURL string

	Claimed       bool
	CurrentStatus JobStatus
	Worker        string
	WorkerOutput  string

	AddedAt        *time.Time
	ClaimedAt      *time.Time
	FinishedAt     *time.Time
	FailedAt       *time.Time
	ProcessingTime *float64 // seconds, reported by the worker
}

// SamePayload reports whether an insert payload describes the same job, so
// that re-posting an identical job can succeed without effect.
func (j *Job) SamePayload(other *Job) bool {
	return j.ID == other.ID &&
		j.Type == other.Type &&
		j.SourceURL == other.SourceURL &&
		j.TargetURL == other.TargetURL &&
		j.ViewResultURL == other.ViewResultURL
}

// Field names accepted in a job insert payload.
var (
	jobRequiredFields = []string{"id", "source_url"}
	jobAllowedFields  = map[string]bool{
		"id":              true,
		"type":            true,
		"source_url":      true,
		"target_url":      true,
		"view_result_url": true,
		"added_timestamp": true,
	}
	jobStringFields = []string{
		"id", "type", "source_url", "target_url", "view_result_url",
	}
)

// ValidationError reports a bad job insert payload. The message is part of
// the API contract.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ValidateJobPayload checks an insert payload for missing required fields,
// unknown fields and wrongly typed values.
func ValidateJobPayload(payload map[string]interface{}) error {
	var missing []string
	for _, field := range jobRequiredFields {
		if _, ok := payload[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{
			Message: "Missing required fields: " + strings.Join(missing, ", "),
		}
	}

	var unknown []string
	for field := range payload {
		if !jobAllowedFields[field] {
			unknown = append(unknown, field)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return &ValidationError{
			Message: "These fields do not exist or are for internal use: " +
				strings.Join(unknown, ", "),
		}
	}

	for _, field := range jobStringFields {
		value, ok := payload[field]
		if !ok {
			continue
		}
		if _, ok := value.(string); !ok {
			return &ValidationError{
				Message: fmt.Sprintf("Expected string in field '%s'", field),
			}
		}
	}
	return nil
}

// JobFromPayload builds a Job from a validated insert payload. The added
// timestamp defaults to now and may be backdated through the payload's
// added_timestamp field or the request's now parameter.
func JobFromPayload(payload map[string]interface{}, now time.Time) (*Job, error) {
	if err := ValidateJobPayload(payload); err != nil {
		return nil, err
	}

	str := func(field string) string {
		if value, ok := payload[field].(string); ok {
			return value
		}
		return ""
	}

	added := now
	if raw, ok := payload["added_timestamp"].(string); ok && raw != "" {
		parsed, err := common.ParseTime(raw)
		if err != nil {
			return nil, &ValidationError{Message: err.Error()}
		}
		added = parsed
	}

	return &Job{
		ID:            str("id"),
		Type:          str("type"),
		SourceURL:     str("source_url"),
		TargetURL:     str("target_url"),
		ViewResultURL: str("view_result_url"),
		Claimed:       false,
		CurrentStatus: StatusAvailable,
		AddedAt:       &added,
	}, nil
}
