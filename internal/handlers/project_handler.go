package handlers

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/molflow/microq/internal/common"
	"github.com/molflow/microq/internal/interfaces"
	"github.com/molflow/microq/internal/models"
	"github.com/molflow/microq/internal/scheduler"
)

// ProjectHandler serves the projects registry endpoints.
type ProjectHandler struct {
	projects interfaces.ProjectStore
	jobs     interfaces.JobStore
	auth     Authenticator
	logger   arbor.ILogger
}

// NewProjectHandler creates a project handler.
func NewProjectHandler(projects interfaces.ProjectStore, jobs interfaces.JobStore,
	auth Authenticator, logger arbor.ILogger) *ProjectHandler {
	return &ProjectHandler{
		projects: projects,
		jobs:     jobs,
		auth:     auth,
		logger:   logger,
	}
}

// ListHandler handles GET /projects. The listing always shows the sampling
// weight as PrioScore.
func (h *ProjectHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	filter := interfaces.ProjectFilter{
		OnlyActive: r.URL.Query().Get("only_active") == "1",
	}
	projects, err := h.projects.List(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list projects")
		WriteStoreError(w, err)
		return
	}

	now := time.Now().UTC()
	root := URLRoot(r)
	pretty := make([]map[string]interface{}, 0, len(projects))
	for _, p := range projects {
		pretty = append(pretty, PrettyProject(p, scheduler.Weight(p, now), root))
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"Version":  APIVersion,
		"Projects": pretty,
	})
}

// StatusHandler handles GET and HEAD /{project}: the pretty project plus
// job-state counts and an ETA estimate.
func (h *ProjectHandler) StatusHandler(w http.ResponseWriter, r *http.Request, project string) {
	now, err := RequestTime(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.projects.Get(r.Context(), project)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	counts, err := h.jobs.CountByStatus(r.Context(), project)
	if err != nil {
		h.logger.Error().Err(err).Str("project", project).Msg("Failed to count jobs")
		WriteStoreError(w, err)
		return
	}
	states := make(map[string]int64, len(counts))
	for status, count := range counts {
		states[status.Title()] = count
	}

	eta, err := h.estimateETA(r, project, counts[models.StatusAvailable], now)
	if err != nil {
		h.logger.Error().Err(err).Str("project", project).Msg("Failed to estimate ETA")
		WriteStoreError(w, err)
		return
	}

	// The status view reports no score for a project without a deadline.
	var prioScore interface{}
	if p.Deadline != nil {
		prioScore = scheduler.Weight(p, now)
	}

	root := URLRoot(r)
	data := PrettyProject(p, prioScore, root)
	urls := data["URLS"].(map[string]interface{})
	urls["URL-DailyCount"] = jobsURL(root, project) + "/count?period=daily"
	urls["URL-Jobs"] = jobsURL(root, project)
	urls["URL-Workers"] = projectURL(root, project) + "/workers"
	data["Version"] = APIVersion
	data["Project"] = p.ID
	data["JobStates"] = states
	data["ETA"] = eta

	WriteJSON(w, http.StatusOK, data)
}

// estimateETA projects time-to-empty from the claim rate of the last full
// hour before now. Nil when no jobs were claimed in that window.
func (h *ProjectHandler) estimateETA(r *http.Request, project string,
	nrTodo int64, now time.Time) (interface{}, error) {

	if nrTodo == 0 {
		return common.FormatDuration(0), nil
	}

	end := now.Truncate(time.Hour)
	start := end.Add(-time.Hour)
	buckets, err := h.jobs.CountByTimePeriod(r.Context(), project, models.StatusClaimed,
		models.PeriodHourly, &start, &end, false)
	if err != nil {
		return nil, err
	}
	if len(buckets) == 0 {
		// No job claimed the last hour, assume no workers are active.
		return nil, nil
	}

	claimedLastHour := buckets[0].Count
	etaSecs := 3600 * float64(nrTodo) / float64(claimedLastHour)
	return common.FormatDuration(time.Duration(etaSecs) * time.Second), nil
}

// UpdateHandler handles PUT /{project}: creates (201) or updates (204).
func (h *ProjectHandler) UpdateHandler(w http.ResponseWriter, r *http.Request, project string) {
	username, ok := RequireUser(w, r, h.auth)
	if !ok {
		return
	}

	var body map[string]interface{}
	if !DecodeJSON(w, r, &body) {
		return
	}

	update, err := parseProjectUpdate(body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	exists, err := h.projects.Exists(r.Context(), project)
	if err != nil {
		WriteStoreError(w, err)
		return
	}

	if !exists {
		if err := h.projects.Insert(r.Context(), project, username, update); err != nil {
			WriteStoreError(w, err)
			return
		}
		if err := h.jobs.EnsureTable(r.Context(), project); err != nil {
			h.logger.Error().Err(err).Str("project", project).Msg("Failed to create job table")
			WriteStoreError(w, err)
			return
		}
		h.logger.Info().Str("project", project).Str("creator", username).Msg("Project created")
		WriteJSON(w, http.StatusCreated, map[string]string{
			"Version": APIVersion,
			"ID":      project,
		})
		return
	}

	if err := h.projects.Update(r.Context(), project, update); err != nil {
		WriteStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteHandler handles DELETE /{project}: drops the registry row and the
// job table.
func (h *ProjectHandler) DeleteHandler(w http.ResponseWriter, r *http.Request, project string) {
	if _, ok := RequireUser(w, r, h.auth); !ok {
		return
	}

	if err := h.projects.Remove(r.Context(), project); err != nil {
		WriteStoreError(w, err)
		return
	}
	if err := h.jobs.Drop(r.Context(), project); err != nil {
		h.logger.Error().Err(err).Str("project", project).Msg("Failed to drop job table")
		WriteStoreError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"Version": APIVersion,
		"Project": project,
	})
}

// WorkersHandler is a stub kept for the URLs that reference it.
func (h *ProjectHandler) WorkersHandler(w http.ResponseWriter, r *http.Request, project string) {
	WriteError(w, http.StatusNotImplemented, "Not implemented")
}

// parseProjectUpdate validates a project PUT body against the settable
// field set and converts it to a typed update.
func parseProjectUpdate(body map[string]interface{}) (*models.ProjectUpdate, error) {
	var unknown []string
	for field := range body {
		if !models.ProjectSettableFields[field] {
			unknown = append(unknown, field)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &models.ValidationError{
			Message: "These fields do not exist or are for internal use: " +
				strings.Join(unknown, ", "),
		}
	}

	update := &models.ProjectUpdate{}

	if raw, ok := body["name"]; ok {
		name, ok := raw.(string)
		if !ok {
			return nil, &models.ValidationError{Message: "Expected string in field 'name'"}
		}
		update.Name = &name
	}
	if raw, ok := body["deadline"]; ok {
		update.DeadlineSet = true
		if raw != nil {
			str, ok := raw.(string)
			if !ok {
				return nil, &models.ValidationError{Message: "Expected string in field 'deadline'"}
			}
			deadline, err := common.ParseTime(str)
			if err != nil {
				return nil, &models.ValidationError{Message: err.Error()}
			}
			update.Deadline = &deadline
		}
	}
	if raw, ok := body["processing_image_url"]; ok {
		url, ok := raw.(string)
		if !ok {
			return nil, &models.ValidationError{
				Message: "Expected string in field 'processing_image_url'",
			}
		}
		update.ProcessingImageURL = &url
	}
	if raw, ok := body["environment"]; ok {
		env, ok := raw.(map[string]interface{})
		if !ok {
			return nil, &models.ValidationError{
				Message: "Expected object in field 'environment'",
			}
		}
		update.Environment = env
	}

	return update, nil
}
