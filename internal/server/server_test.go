package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/molflow/microq/internal/app"
	"github.com/molflow/microq/internal/common"
)

const (
	adminUser = "admin"
	adminPass = "sqrrl"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	config := common.NewDefaultConfig()
	config.Database.Path = filepath.Join(t.TempDir(), "test.db")
	config.Tokens.Path = "" // in-memory
	config.Reconcile.Enabled = false

	application, err := app.New(config, common.GetLogger())
	require.NoError(t, err)
	require.NoError(t, application.StorageErr)
	t.Cleanup(func() { application.Close() })

	srv := New(application)
	ts := httptest.NewServer(srv.server.Handler)
	t.Cleanup(ts.Close)
	return ts
}

// doJSON fires a request with optional basic auth and JSON body, decoding a
// JSON response body when there is one.
func doJSON(t *testing.T, method, url, user, pass string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.SetBasicAuth(user, pass)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]interface{}
	if len(bytes.TrimSpace(data)) > 0 {
		require.NoError(t, json.Unmarshal(data, &decoded), string(data))
	}
	return resp, decoded
}

func createProject(t *testing.T, ts *httptest.Server, project string) {
	t.Helper()
	resp, _ := doJSON(t, http.MethodPut, ts.URL+"/rest_api/v4/"+project,
		adminUser, adminPass, map[string]interface{}{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestHealthAndVersion(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/health", "", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/version", "", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["version"])
}

func TestRouting(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/rest_api/v9/projects", "", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/rest_api/v4/projects", adminUser, adminPass, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	// Project segments that cannot be table names never reach storage.
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/rest_api/v4/bad--id!/jobs", "", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/rest_api/v4/unknownproj", "", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProjectCRUD(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodPut, ts.URL+"/rest_api/v4/proj1",
		adminUser, adminPass, map[string]interface{}{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "v4", body["Version"])
	assert.Equal(t, "proj1", body["ID"])

	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/rest_api/v4/proj1",
		adminUser, adminPass, map[string]interface{}{"name": "Renamed"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = doJSON(t, http.MethodPut, ts.URL+"/rest_api/v4/proj1",
		adminUser, adminPass, map[string]interface{}{"bogus": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "These fields do not exist or are for internal use: bogus", body["error"])

	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/rest_api/v4/proj1",
		"", "", map[string]interface{}{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/rest_api/v4/proj1", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Renamed", body["Name"])
	assert.Equal(t, adminUser, body["CreatedBy"])

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/rest_api/v4/projects", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["Projects"], 1)

	resp, body = doJSON(t, http.MethodDelete, ts.URL+"/rest_api/v4/proj1",
		adminUser, adminPass, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "proj1", body["Project"])

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/rest_api/v4/proj1", "", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJobLifecycle(t *testing.T) {
	ts := newTestServer(t)
	createProject(t, ts, "proj1")
	jobsURL := ts.URL + "/rest_api/v4/proj1/jobs"

	payload := map[string]interface{}{"id": "j1", "source_url": "http://src/j1"}
	resp, _ := doJSON(t, http.MethodPost, jobsURL, adminUser, adminPass, payload)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Re-posting the identical job succeeds without effect.
	resp, _ = doJSON(t, http.MethodPost, jobsURL, adminUser, adminPass, payload)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// The same id with a different payload is rejected.
	resp, body := doJSON(t, http.MethodPost, jobsURL, adminUser, adminPass,
		map[string]interface{}{"id": "j1", "source_url": "http://other/j1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "A job with id j1 already exists.", body["error"])

	resp, body = doJSON(t, http.MethodGet, jobsURL, "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "proj1", body["Project"])
	assert.Len(t, body["Jobs"], 1)

	resp, _ = doJSON(t, http.MethodGet, jobsURL+"/fetch", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, jobsURL+"/fetch", adminUser, adminPass, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	job := body["Job"].(map[string]interface{})
	assert.Equal(t, "j1", job["JobID"])
	urls := job["URLS"].(map[string]interface{})
	assert.Contains(t, urls["URL-claim"], "/rest_api/v4/proj1/jobs/j1/claim")

	resp, body = doJSON(t, http.MethodPut, jobsURL+"/j1/claim", adminUser, adminPass,
		map[string]interface{}{"Worker": "w1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["Claimed"])
	assert.Equal(t, "w1", body["Worker"])

	resp, body = doJSON(t, http.MethodPut, jobsURL+"/j1/claim", adminUser, adminPass,
		map[string]interface{}{"Worker": "w2"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Job is already claimed", body["error"])

	resp, body = doJSON(t, http.MethodGet, jobsURL+"/j1/claim", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["Claimed"])
	assert.Equal(t, "w1", body["Worker"])

	resp, body = doJSON(t, http.MethodPut, jobsURL+"/j1/status", adminUser, adminPass,
		map[string]interface{}{"Status": "finished", "ProcessingTime": 60.0})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "FINISHED", body["Status"])

	resp, body = doJSON(t, http.MethodGet, jobsURL+"/j1/status", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "FINISHED", body["Status"])

	resp, _ = doJSON(t, http.MethodPut, jobsURL+"/j1/output", adminUser, adminPass,
		map[string]interface{}{"Output": "all good"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, jobsURL+"/j1/output", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "all good", body["Output"])

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/rest_api/v4/proj1", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["NrJobsAdded"])
	assert.Equal(t, float64(1), body["NrJobsFinished"])
	assert.Equal(t, float64(60), body["TotalProcessingTime"])
	states := body["JobStates"].(map[string]interface{})
	assert.Equal(t, float64(1), states["Finished"])
}

func TestJobListPostsProjectAutoCreated(t *testing.T) {
	ts := newTestServer(t)

	// Posting jobs to an unknown project creates it on the fly.
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/rest_api/v4/fresh/jobs",
		adminUser, adminPass, []map[string]interface{}{
			{"id": "j1", "source_url": "http://src/j1"},
			{"id": "j2", "source_url": "http://src/j2"},
		})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/rest_api/v4/fresh", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["NrJobsAdded"])
	assert.Equal(t, adminUser, body["CreatedBy"])
}

func TestJobListValidation(t *testing.T) {
	ts := newTestServer(t)
	createProject(t, ts, "proj1")
	jobsURL := ts.URL + "/rest_api/v4/proj1/jobs"

	resp, body := doJSON(t, http.MethodGet,
		jobsURL+"?start=2020-01-01T00:00:00&end=2020-01-02T00:00:00", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Param @start and @end can only be used together with @status", body["error"])

	resp, _ = doJSON(t, http.MethodGet,
		jobsURL+"?status=AVAILABLE&start=2020-01-01T00:00:00", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doJSON(t, http.MethodPost, jobsURL, adminUser, adminPass,
		[]map[string]interface{}{
			{"id": "ok", "source_url": "u"},
			{"source_url": "u"},
		})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Job#1: Missing required fields: id", body["error"])
}

func TestBackdatedClaimsAndCount(t *testing.T) {
	ts := newTestServer(t)
	createProject(t, ts, "projc")
	jobsURL := ts.URL + "/rest_api/v4/projc/jobs"

	resp, _ := doJSON(t, http.MethodPost, jobsURL, adminUser, adminPass,
		[]map[string]interface{}{
			{"id": "j1", "source_url": "u1"},
			{"id": "j2", "source_url": "u2"},
		})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPut, jobsURL+"/j1/claim?now=2000-01-01T10:05:00",
		adminUser, adminPass, map[string]interface{}{"Worker": "w1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodPut, jobsURL+"/j2/claim?now=2000-01-01T11:10:00",
		adminUser, adminPass, map[string]interface{}{"Worker": "w1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, jobsURL+"/count?period=hourly", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hourly", body["PeriodType"])
	counts := body["Counts"].([]interface{})
	require.Len(t, counts, 2)

	first := counts[0].(map[string]interface{})
	assert.Equal(t, "2000-01-01 10:00", first["Period"])
	assert.Equal(t, float64(1), first["JobsClaimed"])
	assert.Equal(t, float64(1), first["ActiveWorkers"])
	urls := first["URLS"].(map[string]interface{})
	assert.Contains(t, urls, "URL-JobsClaimed")
	assert.NotContains(t, urls, "URL-JobsFinished")
	assert.NotContains(t, urls, "URL-Zoom")

	resp, body = doJSON(t, http.MethodGet, jobsURL+"/count?period=daily", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	counts = body["Counts"].([]interface{})
	require.Len(t, counts, 1)
	day := counts[0].(map[string]interface{})
	assert.Equal(t, "2000-01-01", day["Period"])
	assert.Equal(t, float64(2), day["JobsClaimed"])
	urls = day["URLS"].(map[string]interface{})
	assert.Contains(t, fmt.Sprint(urls["URL-Zoom"]), "period=HOURLY")

	// The windowed listing matches the bucket's drill-down URL.
	resp, body = doJSON(t, http.MethodGet,
		jobsURL+"?status=CLAIMED&start=2000-01-01T10:00:00&end=2000-01-01T11:00:00", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	jobs := body["Jobs"].([]interface{})
	require.Len(t, jobs, 1)
	assert.Equal(t, "j1", jobs[0].(map[string]interface{})["Id"])
}

func TestFailuresAnalysis(t *testing.T) {
	ts := newTestServer(t)
	createProject(t, ts, "proj1")
	jobsURL := ts.URL + "/rest_api/v4/proj1/jobs"

	for i, output := range []string{
		"common error line\nonly in first",
		"common error line\nonly in second",
	} {
		id := fmt.Sprintf("j%d", i+1)
		resp, _ := doJSON(t, http.MethodPost, jobsURL, adminUser, adminPass,
			map[string]interface{}{"id": id, "source_url": "u"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp, _ = doJSON(t, http.MethodPut, jobsURL+"/"+id+"/claim", adminUser, adminPass,
			map[string]interface{}{"Worker": "w1"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp, _ = doJSON(t, http.MethodPut, jobsURL+"/"+id+"/status", adminUser, adminPass,
			map[string]interface{}{"Status": "FAILED"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp, _ = doJSON(t, http.MethodPut, jobsURL+"/"+id+"/output", adminUser, adminPass,
			map[string]interface{}{"Output": output})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/rest_api/v4/proj1/failures", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	lines := body["Lines"].([]interface{})
	require.Len(t, lines, 3)
	top := lines[0].(map[string]interface{})
	assert.Equal(t, "common error line", top["Line"])
	assert.Len(t, top["Jobs"], 2)

	summaries := body["Jobs"].(map[string]interface{})
	assert.Contains(t, summaries, "j1")
	assert.Contains(t, summaries, "j2")
}

func TestFetchAcrossProjects(t *testing.T) {
	ts := newTestServer(t)
	createProject(t, ts, "only")

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/rest_api/v4/projects/jobs/fetch",
		adminUser, adminPass, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/rest_api/v4/only/jobs",
		adminUser, adminPass, map[string]interface{}{"id": "j1", "source_url": "u"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/rest_api/v4/projects/jobs/fetch",
		adminUser, adminPass, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "only", body["Project"])
	assert.Equal(t, "j1", body["Job"].(map[string]interface{})["JobID"])
}

func TestAdminUsersAndTokens(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/rest_api/admin/users",
		adminUser, adminPass, map[string]string{"username": "bob", "password": "secret"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "bob", body["username"])
	userID := body["userid"].(string)
	require.NotEmpty(t, userID)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/rest_api/admin/users",
		adminUser, adminPass, map[string]string{"username": "bob", "password": "other"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "User already exists", body["error"])

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/rest_api/admin/users",
		adminUser, adminPass, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing required fields: username, password", body["error"])

	// Plain users cannot manage accounts.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/rest_api/admin/users",
		"bob", "secret", map[string]string{"username": "eve", "password": "x"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// The admin endpoints are also reachable under the version segment.
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/rest_api/v4/admin/users/"+userID,
		adminUser, adminPass, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bob", body["username"])

	// Tokens trade credentials for a short-lived bearer id usable as the
	// basic-auth username.
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/rest_api/token", "bob", "secret", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := body["token"].(string)
	require.NotEmpty(t, token)
	assert.Equal(t, float64(600), body["duration"])

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/rest_api/v4/tokproj/jobs",
		token, "", map[string]interface{}{"id": "j1", "source_url": "u"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/rest_api/v4/tokproj", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bob", body["CreatedBy"])

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/rest_api/token", "bob", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/rest_api/admin/users/"+userID,
		adminUser, adminPass, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/rest_api/admin/users/"+userID,
		adminUser, adminPass, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReleaseClaim(t *testing.T) {
	ts := newTestServer(t)
	createProject(t, ts, "proj1")
	jobsURL := ts.URL + "/rest_api/v4/proj1/jobs"

	resp, _ := doJSON(t, http.MethodPost, jobsURL, adminUser, adminPass,
		map[string]interface{}{"id": "j1", "source_url": "u"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodPut, jobsURL+"/j1/claim", adminUser, adminPass,
		map[string]interface{}{"Worker": "w1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodDelete, jobsURL+"/j1/claim", adminUser, adminPass, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["Claimed"])

	// The job is claimable again.
	resp, _ = doJSON(t, http.MethodPut, jobsURL+"/j1/claim", adminUser, adminPass,
		map[string]interface{}{"Worker": "w2"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/rest_api/v4/proj1", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["NrJobsClaimed"])
}

func TestJobEndpointsUnknownProject(t *testing.T) {
	ts := newTestServer(t)
	jobsURL := ts.URL + "/rest_api/v4/ghost/jobs/j1"

	// Job endpoints on a project that was never registered return 404, even
	// though its job table does not exist yet.
	cases := []struct {
		method string
		path   string
		body   interface{}
	}{
		{http.MethodGet, "/claim", nil},
		{http.MethodPut, "/claim", map[string]interface{}{"Worker": "w1"}},
		{http.MethodDelete, "/claim", nil},
		{http.MethodGet, "/status", nil},
		{http.MethodPut, "/status", map[string]interface{}{"Status": "finished"}},
		{http.MethodGet, "/output", nil},
		{http.MethodPut, "/output", map[string]interface{}{"Output": "x"}},
	}
	for _, tc := range cases {
		resp, body := doJSON(t, tc.method, jobsURL+tc.path, adminUser, adminPass, tc.body)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "%s %s", tc.method, tc.path)
		assert.Equal(t, "Not found", body["error"], "%s %s", tc.method, tc.path)
	}
}
