package models

import (
	"regexp"
	"time"
)

// Project id: ASCII, starts with a letter, at most 64 characters. Job tables
// are named after the project id, so this also keeps DDL injection-safe.
var projectIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]{0,63}$`)

// ValidProjectID reports whether id is an acceptable project identifier.
func ValidProjectID(id string) bool {
	return projectIDPattern.MatchString(id)
}

// Project is one row in the projects registry. The counters are maintained
// redundantly with the job rows for O(1) status reads; they are only ever
// updated incrementally.
type Project struct {
	ID                 string
	Name               string
	CreatedAt          time.Time
	CreatedBy          string
	ProcessingImageURL string
	Environment        map[string]interface{}
	Deadline           *time.Time

	NrAdded             int64
	NrClaimed           int64
	NrFinished          int64
	NrFailed            int64
	ProcessingTimeTotal float64 // seconds

	LastAddedAt   *time.Time
	LastClaimedAt *time.Time
}

// Active reports whether the project still has jobs to hand out.
func (p *Project) Active() bool {
	return p.NrAdded > p.NrClaimed
}

// ProjectUpdate carries the user-settable project fields for a PUT. Nil
// means "leave unchanged"; DeadlineSet distinguishes clearing the deadline
// from not touching it.
type ProjectUpdate struct {
	Name               *string
	Deadline           *time.Time
	DeadlineSet        bool
	ProcessingImageURL *string
	Environment        map[string]interface{}
}

// ProjectSettableFields is the allowed key set for a project PUT body.
var ProjectSettableFields = map[string]bool{
	"name":                 true,
	"deadline":             true,
	"environment":          true,
	"processing_image_url": true,
}
