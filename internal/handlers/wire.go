package handlers

import (
	"github.com/molflow/microq/internal/common"
	"github.com/molflow/microq/internal/models"
)

// URL builders for the wire payloads. root is the request's URL root with a
// trailing slash.

func projectURL(root, project string) string {
	return root + "rest_api/" + APIVersion + "/" + project
}

func jobsURL(root, project string) string {
	return projectURL(root, project) + "/jobs"
}

func strOrNil(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// PrettyJob renders the public listing shape of a job.
func PrettyJob(job *models.Job, project, root string) map[string]interface{} {
	return map[string]interface{}{
		"Id":             job.ID,
		"Type":           strOrNil(job.Type),
		"Status":         string(job.CurrentStatus),
		"Added":          common.FormatISOPtr(job.AddedAt),
		"Claimed":        common.FormatISOPtr(job.ClaimedAt),
		"IsClaimed":      job.Claimed,
		"Finished":       common.FormatISOPtr(job.FinishedAt),
		"Failed":         common.FormatISOPtr(job.FailedAt),
		"ProcessingTime": floatOrNil(job.ProcessingTime),
		"Worker":         strOrNil(job.Worker),
		"URLS": map[string]interface{}{
			"URL-Input":  strOrNil(job.SourceURL),
			"URL-Output": jobsURL(root, project) + "/" + job.ID + "/output",
			"URL-Result": strOrNil(job.ViewResultURL),
		},
	}
}

// WorkerJob renders the worker-facing fetch shape: everything a worker needs
// to run the job and report back.
func WorkerJob(job *models.Job, project *models.Project, root string) map[string]interface{} {
	jobURL := jobsURL(root, project.ID) + "/" + job.ID

	environment := project.Environment
	if environment == nil {
		environment = map[string]interface{}{}
	}

	return map[string]interface{}{
		"JobID":       job.ID,
		"Environment": environment,
		"URLS": map[string]interface{}{
			"URL-image":  strOrNil(project.ProcessingImageURL),
			"URL-source": strOrNil(job.SourceURL),
			"URL-target": strOrNil(job.TargetURL),
			"URL-claim":  jobURL + "/claim",
			"URL-status": jobURL + "/status",
			"URL-output": jobURL + "/output",
		},
	}
}

// PrettyProject renders the public shape of a project. prioScore is either a
// float64 or nil; the listing and the status view disagree about it.
func PrettyProject(p *models.Project, prioScore interface{}, root string) map[string]interface{} {
	environment := p.Environment
	if environment == nil {
		environment = map[string]interface{}{}
	}

	return map[string]interface{}{
		"Id":                  p.ID,
		"Name":                p.Name,
		"Environment":         environment,
		"CreatedAt":           common.FormatISO(p.CreatedAt),
		"CreatedBy":           p.CreatedBy,
		"Deadline":            common.FormatISOPtr(p.Deadline),
		"LastJobAddedAt":      common.FormatISOPtr(p.LastAddedAt),
		"LastJobClaimedAt":    common.FormatISOPtr(p.LastClaimedAt),
		"NrJobsAdded":         p.NrAdded,
		"NrJobsClaimed":       p.NrClaimed,
		"NrJobsFinished":      p.NrFinished,
		"NrJobsFailed":        p.NrFailed,
		"TotalProcessingTime": p.ProcessingTimeTotal,
		"PrioScore":           prioScore,
		"URLS": map[string]interface{}{
			"URL-Status":           projectURL(root, p.ID),
			"URL-Processing-image": strOrNil(p.ProcessingImageURL),
		},
	}
}

func floatOrNil(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
