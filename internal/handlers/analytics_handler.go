package handlers

import (
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/molflow/microq/internal/analyzer"
	"github.com/molflow/microq/internal/common"
	"github.com/molflow/microq/internal/interfaces"
	"github.com/molflow/microq/internal/models"
)

// maxAnalyzedJobs bounds the failure analysis page.
const maxAnalyzedJobs = 1000

// AnalyticsHandler serves the time-bucketed count endpoint and the failed-job
// output analysis.
type AnalyticsHandler struct {
	jobs     interfaces.JobStore
	projects interfaces.ProjectStore
	logger   arbor.ILogger
}

// NewAnalyticsHandler creates an analytics handler.
func NewAnalyticsHandler(jobs interfaces.JobStore, projects interfaces.ProjectStore,
	logger arbor.ILogger) *AnalyticsHandler {
	return &AnalyticsHandler{
		jobs:     jobs,
		projects: projects,
		logger:   logger,
	}
}

type countBucket struct {
	claimed  int64
	finished int64
	failed   int64
	workers  int64
}

// CountHandler handles GET /{project}/jobs/count.
func (h *AnalyticsHandler) CountHandler(w http.ResponseWriter, r *http.Request, project string) {
	query := r.URL.Query()

	period := models.PeriodDaily
	if raw := query.Get("period"); raw != "" {
		parsed, err := models.ParseTimePeriod(raw)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		period = parsed
	}

	start, end, err := parseWindow(query.Get("start"), query.Get("end"))
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
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}

	buckets := make(map[string]*countBucket)
	bucket := func(label string) *countBucket {
		if b, ok := buckets[label]; ok {
			return b
		}
		b := &countBucket{}
		buckets[label] = b
		return b
	}

	type metric struct {
		state    models.JobStatus
		distinct bool
		assign   func(b *countBucket, count int64)
	}
	metrics := []metric{
		{models.StatusClaimed, false, func(b *countBucket, c int64) { b.claimed = c }},
		{models.StatusFinished, false, func(b *countBucket, c int64) { b.finished = c }},
		{models.StatusFailed, false, func(b *countBucket, c int64) { b.failed = c }},
		{models.StatusClaimed, true, func(b *countBucket, c int64) { b.workers = c }},
	}
	for _, m := range metrics {
		counts, err := h.jobs.CountByTimePeriod(r.Context(), project, m.state, period,
			start, end, m.distinct)
		if err != nil {
			h.logger.Error().Err(err).Str("project", project).Msg("Failed to count jobs by period")
			WriteStoreError(w, err)
			return
		}
		for _, c := range counts {
			m.assign(bucket(c.Label), c.Count)
		}
	}

	labels := make([]string, 0, len(buckets))
	for label := range buckets {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	root := URLRoot(r)
	counts := make([]map[string]interface{}, 0, len(labels))
	for _, label := range labels {
		bucketStart, err := period.ParseLabel(label)
		if err != nil {
			WriteStoreError(w, err)
			return
		}
		counts = append(counts, renderBucket(root, project, period, label, bucketStart, buckets[label]))
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"Version":    APIVersion,
		"Project":    project,
		"PeriodType": period.Title(),
		"Start":      common.FormatISOPtr(start),
		"End":        common.FormatISOPtr(end),
		"Counts":     counts,
	})
}

// renderBucket renders one count bucket with its drill-down URLs. Per-metric
// URLs appear only for nonzero counts; URL-Zoom steps down one granularity
// and is absent on hourly buckets.
func renderBucket(root, project string, period models.TimePeriod,
	label string, bucketStart time.Time, b *countBucket) map[string]interface{} {

	bucketEnd := period.Next(bucketStart)
	startParam := url.QueryEscape(common.FormatISO(bucketStart))
	endParam := url.QueryEscape(common.FormatISO(bucketEnd))
	window := "start=" + startParam + "&end=" + endParam

	urls := map[string]interface{}{}
	jobsWindow := func(status models.JobStatus) string {
		return jobsURL(root, project) + "?status=" + string(status) + "&" + window
	}
	if b.claimed > 0 {
		urls["URL-JobsClaimed"] = jobsWindow(models.StatusClaimed)
	}
	if b.finished > 0 {
		urls["URL-JobsFinished"] = jobsWindow(models.StatusFinished)
	}
	if b.failed > 0 {
		urls["URL-JobsFailed"] = jobsWindow(models.StatusFailed)
	}
	if b.workers > 0 {
		urls["URL-ActiveWorkers"] = projectURL(root, project) + "/workers?" + window
	}
	if zoom, ok := period.Zoom(); ok {
		urls["URL-Zoom"] = jobsURL(root, project) + "/count?period=" + string(zoom) + "&" + window
	}

	return map[string]interface{}{
		"Period":        label,
		"JobsClaimed":   b.claimed,
		"JobsFinished":  b.finished,
		"JobsFailed":    b.failed,
		"ActiveWorkers": b.workers,
		"URLS":          urls,
	}
}

// FailuresHandler handles GET /{project}/failures: entropy-ranked error
// lines across the project's failed jobs.
func (h *AnalyticsHandler) FailuresHandler(w http.ResponseWriter, r *http.Request, project string) {
	start, end, err := parseWindow(r.URL.Query().Get("start"), r.URL.Query().Get("end"))
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
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}

	filter := interfaces.JobFilter{Limit: maxAnalyzedJobs}
	if start != nil || end != nil {
		filter.TimeField = models.StatusFailed
		filter.Start = start
		filter.End = end
	} else {
		filter.Status = models.StatusFailed
	}

	jobs, err := h.jobs.List(r.Context(), project, filter)
	if err != nil {
		h.logger.Error().Err(err).Str("project", project).Msg("Failed to list failed jobs")
		WriteStoreError(w, err)
		return
	}

	outputs := make([]analyzer.JobOutput, 0, len(jobs))
	for _, job := range jobs {
		outputs = append(outputs, analyzer.JobOutput{ID: job.ID, Output: job.WorkerOutput})
	}
	groups := analyzer.RankErrors(outputs)

	root := URLRoot(r)
	lines := make([]map[string]interface{}, 0, len(groups))
	for _, group := range groups {
		commonLines := make([]map[string]interface{}, 0, len(group.CommonLines))
		for _, line := range group.CommonLines {
			commonLines = append(commonLines, map[string]interface{}{
				"Line":  line.Line,
				"Score": line.Score,
			})
		}
		lines = append(lines, map[string]interface{}{
			"Score":       group.Score,
			"Line":        group.Line,
			"CommonLines": commonLines,
			"Jobs":        group.JobIDs,
		})
	}

	summaries := make(map[string]interface{}, len(jobs))
	for _, job := range jobs {
		summaries[job.ID] = PrettyJob(job, project, root)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"Version": APIVersion,
		"Project": project,
		"Lines":   lines,
		"Jobs":    summaries,
	})
}
