package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/molflow/microq/internal/common"
	"github.com/molflow/microq/internal/interfaces"
	"github.com/molflow/microq/internal/lifecycle"
	"github.com/molflow/microq/internal/models"
	"github.com/molflow/microq/internal/scheduler"
)

// JobHandler serves the per-project job endpoints and the worker protocol
// (fetch, claim, status, output).
type JobHandler struct {
	jobs      interfaces.JobStore
	projects  interfaces.ProjectStore
	manager   *lifecycle.Manager
	scheduler *scheduler.Scheduler
	auth      Authenticator
	logger    arbor.ILogger
}

// NewJobHandler creates a job handler.
func NewJobHandler(jobs interfaces.JobStore, projects interfaces.ProjectStore,
	manager *lifecycle.Manager, sched *scheduler.Scheduler,
	auth Authenticator, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobs:      jobs,
		projects:  projects,
		manager:   manager,
		scheduler: sched,
		auth:      auth,
		logger:    logger,
	}
}

// windowedStatuses are the states a time-windowed job listing can filter on.
var windowedStatuses = map[models.JobStatus]bool{
	models.StatusClaimed:  true,
	models.StatusFinished: true,
	models.StatusFailed:   true,
}

// ListHandler handles GET /{project}/jobs.
func (h *JobHandler) ListHandler(w http.ResponseWriter, r *http.Request, project string) {
	query := r.URL.Query()

	filter := interfaces.JobFilter{
		Type:   query.Get("type"),
		Worker: query.Get("worker"),
	}

	var status models.JobStatus
	if raw := query.Get("status"); raw != "" {
		parsed, err := models.ParseJobStatus(raw)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		status = parsed
		filter.Status = parsed
	}

	start, end, err := parseWindow(query.Get("start"), query.Get("end"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if start != nil || end != nil {
		if status == "" {
			WriteError(w, http.StatusBadRequest,
				"Param @start and @end can only be used together with @status")
			return
		}
		if !windowedStatuses[status] {
			WriteError(w, http.StatusBadRequest,
				fmt.Sprintf("unsupported status: %q", string(status)))
			return
		}
		// The window selects on the state's timestamp, not the current state.
		filter.Status = ""
		filter.TimeField = status
		filter.Start = start
		filter.End = end
	}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("bad limit: %q", raw))
			return
		}
		filter.Limit = limit
	}

	if ok, err := h.projectExists(w, r, project); !ok || err != nil {
		return
	}

	jobs, err := h.jobs.List(r.Context(), project, filter)
	if err != nil {
		h.logger.Error().Err(err).Str("project", project).Msg("Failed to list jobs")
		WriteStoreError(w, err)
		return
	}

	root := URLRoot(r)
	pretty := make([]map[string]interface{}, 0, len(jobs))
	for _, job := range jobs {
		pretty = append(pretty, PrettyJob(job, project, root))
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"Version": APIVersion,
		"Project": project,
		"Jobs":    pretty,
		"Status":  strOrNil(string(status)),
		"Start":   common.FormatISOPtr(start),
		"End":     common.FormatISOPtr(end),
		"Worker":  strOrNil(filter.Worker),
	})
}

// CreateHandler handles POST /{project}/jobs: one job object or a list,
// all-or-nothing.
func (h *JobHandler) CreateHandler(w http.ResponseWriter, r *http.Request, project string) {
	username, ok := RequireUser(w, r, h.auth)
	if !ok {
		return
	}

	var raw json.RawMessage
	if !DecodeJSON(w, r, &raw) {
		return
	}

	now, err := RequestTime(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	// ?now= backdates the insert, overriding any added_timestamp in the body.
	nowParam := r.URL.Query().Get("now")

	var payloads []map[string]interface{}
	var isList bool
	var single map[string]interface{}
	if err := json.Unmarshal(raw, &single); err == nil {
		payloads = []map[string]interface{}{single}
	} else {
		var list []map[string]interface{}
		if err := json.Unmarshal(raw, &list); err != nil {
			WriteError(w, http.StatusBadRequest, "Invalid input")
			return
		}
		payloads = list
		isList = true
	}

	jobs := make([]*models.Job, 0, len(payloads))
	var validationErrors []string
	for i, payload := range payloads {
		if nowParam != "" {
			payload["added_timestamp"] = nowParam
		}
		job, err := models.JobFromPayload(payload, now)
		if err != nil {
			if isList {
				validationErrors = append(validationErrors,
					fmt.Sprintf("Job#%d: %s", i, err.Error()))
				continue
			}
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		jobs = append(jobs, job)
	}
	if len(validationErrors) > 0 {
		WriteError(w, http.StatusBadRequest, strings.Join(validationErrors, "\n"))
		return
	}

	if _, err := h.manager.AddJobs(r.Context(), project, username, jobs); err != nil {
		var conflictErr *lifecycle.ConflictError
		if errors.As(err, &conflictErr) {
			WriteError(w, http.StatusConflict, conflictErr.Message)
			return
		}
		h.logger.Error().Err(err).Str("project", project).Msg("Failed to add jobs")
		WriteStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// FetchHandler handles GET /{project}/jobs/fetch: the next available job of
// this project, in the worker-facing shape.
func (h *JobHandler) FetchHandler(w http.ResponseWriter, r *http.Request, project string) {
	if _, ok := RequireUser(w, r, h.auth); !ok {
		return
	}

	p, err := h.projects.Get(r.Context(), project)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	job, err := h.jobs.FetchUnclaimed(r.Context(), project, h.scheduler.Window())
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "No unclaimed jobs available")
			return
		}
		h.logger.Error().Err(err).Str("project", project).Msg("Failed to fetch job")
		WriteStoreError(w, err)
		return
	}

	h.writeWorkerJob(w, r, p, job)
}

// FetchSpecificHandler handles GET /{project}/jobs/{id}/fetch.
func (h *JobHandler) FetchSpecificHandler(w http.ResponseWriter, r *http.Request, project, jobID string) {
	if _, ok := RequireUser(w, r, h.auth); !ok {
		return
	}

	p, err := h.projects.Get(r.Context(), project)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	job, err := h.jobs.Get(r.Context(), project, jobID)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	h.writeWorkerJob(w, r, p, job)
}

// FetchAnyHandler handles GET /projects/jobs/fetch: picks a project by
// priority weight, then serves one of its jobs.
func (h *JobHandler) FetchAnyHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := RequireUser(w, r, h.auth); !ok {
		return
	}

	project, job, err := h.scheduler.NextJob(r.Context(), time.Now().UTC())
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "No unclaimed jobs available")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to schedule job")
		WriteStoreError(w, err)
		return
	}

	h.writeWorkerJob(w, r, project, job)
}

func (h *JobHandler) writeWorkerJob(w http.ResponseWriter, r *http.Request,
	project *models.Project, job *models.Job) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"Version": APIVersion,
		"Project": project.ID,
		"Job":     WorkerJob(job, project, URLRoot(r)),
	})
}

// ClaimGetHandler handles GET /{project}/jobs/{id}/claim.
func (h *JobHandler) ClaimGetHandler(w http.ResponseWriter, r *http.Request, project, jobID string) {
	if ok, err := h.projectExists(w, r, project); !ok || err != nil {
		return
	}
	job, err := h.jobs.Get(r.Context(), project, jobID)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"Version":   APIVersion,
		"ID":        job.ID,
		"Claimed":   job.Claimed,
		"Worker":    strOrNil(job.Worker),
		"ClaimedAt": common.FormatISOPtr(job.ClaimedAt),
	})
}

// ClaimPutHandler handles PUT /{project}/jobs/{id}/claim: the single-claim
// protocol. Exactly one of K concurrent claimers wins.
func (h *JobHandler) ClaimPutHandler(w http.ResponseWriter, r *http.Request, project, jobID string) {
	if _, ok := RequireUser(w, r, h.auth); !ok {
		return
	}

	var body struct {
		Worker string `json:"Worker"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}
	if body.Worker == "" {
		WriteError(w, http.StatusBadRequest, "Missing required field: Worker")
		return
	}

	now, err := RequestTime(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if ok, err := h.projectExists(w, r, project); !ok || err != nil {
		return
	}

	if err := h.manager.Claim(r.Context(), project, jobID, body.Worker, now); err != nil {
		WriteStoreError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"Version": APIVersion,
		"ID":      jobID,
		"Claimed": true,
		"Worker":  body.Worker,
	})
}

// ClaimDeleteHandler handles DELETE /{project}/jobs/{id}/claim: releases the
// claim so the job can be handed out again.
func (h *JobHandler) ClaimDeleteHandler(w http.ResponseWriter, r *http.Request, project, jobID string) {
	if _, ok := RequireUser(w, r, h.auth); !ok {
		return
	}

	if ok, err := h.projectExists(w, r, project); !ok || err != nil {
		return
	}

	if err := h.manager.Release(r.Context(), project, jobID); err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"Version": APIVersion,
		"ID":      jobID,
		"Claimed": false,
	})
}

// StatusGetHandler handles GET /{project}/jobs/{id}/status.
func (h *JobHandler) StatusGetHandler(w http.ResponseWriter, r *http.Request, project, jobID string) {
	if ok, err := h.projectExists(w, r, project); !ok || err != nil {
		return
	}
	job, err := h.jobs.Get(r.Context(), project, jobID)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"Version": APIVersion,
		"ID":      job.ID,
		"Status":  string(job.CurrentStatus),
	})
}

// StatusPutHandler handles PUT /{project}/jobs/{id}/status: a worker reports
// progress or the final verdict.
func (h *JobHandler) StatusPutHandler(w http.ResponseWriter, r *http.Request, project, jobID string) {
	if _, ok := RequireUser(w, r, h.auth); !ok {
		return
	}

	var body struct {
		Status         *string  `json:"Status"`
		ProcessingTime *float64 `json:"ProcessingTime"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}
	if body.Status == nil {
		WriteError(w, http.StatusBadRequest, "Missing required field: Status")
		return
	}
	status, err := models.ParseJobStatus(*body.Status)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	now, err := RequestTime(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if ok, err := h.projectExists(w, r, project); !ok || err != nil {
		return
	}

	if err := h.manager.SetStatus(r.Context(), project, jobID, status, body.ProcessingTime, now); err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"Version": APIVersion,
		"ID":      jobID,
		"Status":  string(status),
	})
}

// OutputGetHandler handles GET /{project}/jobs/{id}/output.
func (h *JobHandler) OutputGetHandler(w http.ResponseWriter, r *http.Request, project, jobID string) {
	if ok, err := h.projectExists(w, r, project); !ok || err != nil {
		return
	}
	job, err := h.jobs.Get(r.Context(), project, jobID)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"Version": APIVersion,
		"ID":      job.ID,
		"Output":  job.WorkerOutput,
	})
}

// OutputPutHandler handles PUT /{project}/jobs/{id}/output: replaces the
// streamed worker log.
func (h *JobHandler) OutputPutHandler(w http.ResponseWriter, r *http.Request, project, jobID string) {
	if _, ok := RequireUser(w, r, h.auth); !ok {
		return
	}

	var body struct {
		Output *string `json:"Output"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}
	if body.Output == nil {
		WriteError(w, http.StatusBadRequest, "Missing required field: Output")
		return
	}

	if ok, err := h.projectExists(w, r, project); !ok || err != nil {
		return
	}

	if err := h.jobs.SetOutput(r.Context(), project, jobID, *body.Output); err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"Version": APIVersion,
		"ID":      jobID,
	})
}

// projectExists writes a 404 when the project is unknown. Returns (true, nil)
// when the caller may proceed.
func (h *JobHandler) projectExists(w http.ResponseWriter, r *http.Request, project string) (bool, error) {
	exists, err := h.projects.Exists(r.Context(), project)
	if err != nil {
		WriteStoreError(w, err)
		return false, err
	}
	if !exists {
		WriteError(w, http.StatusNotFound, "Not found")
		return false, nil
	}
	return true, nil
}

// parseWindow parses optional start/end query parameters into a [start, end)
// window.
func parseWindow(rawStart, rawEnd string) (*time.Time, *time.Time, error) {
	var start, end *time.Time
	if rawStart != "" {
		t, err := common.ParseTime(rawStart)
		if err != nil {
			return nil, nil, err
		}
		start = &t
	}
	if rawEnd != "" {
		t, err := common.ParseTime(rawEnd)
		if err != nil {
			return nil, nil, err
		}
		end = &t
	}
	return start, end, nil
}
