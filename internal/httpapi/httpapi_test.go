package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choiwab/promptsmith/internal/adapters/generator"
	"github.com/choiwab/promptsmith/internal/adapters/judge"
	"github.com/choiwab/promptsmith/internal/adapters/planner"
	"github.com/choiwab/promptsmith/internal/adapters/refiner"
	"github.com/choiwab/promptsmith/internal/blobstore"
	"github.com/choiwab/promptsmith/internal/compare"
	"github.com/choiwab/promptsmith/internal/eval"
	"github.com/choiwab/promptsmith/internal/ids"
	"github.com/choiwab/promptsmith/internal/repository"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	factory := ids.NewFactory(ids.SystemClock{})
	blobs := blobstore.New(t.TempDir(), "/blobs")
	repo := repository.NewInMemory(factory, blobs)
	gen := generator.NewStub()

	evalOrch := eval.New(repo, blobs, factory, gen, judge.NewDeterministicJudge(), planner.NewDeterministicPlanner(), refiner.NewDeterministicRefiner(), nil, nil)
	compareOrch := compare.New(repo, blobs, factory, nil, nil, nil, nil)

	handler := NewRouter(Deps{
		Repo:      repo,
		Blobs:     blobs,
		IDs:       factory,
		Generator: gen,
		Compare:   compareOrch,
		Eval:      evalOrch,
	})
	return httptest.NewServer(handler)
}

func postJSON(t *testing.T, srv *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestCreateProjectThenGenerateThenCompare(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp := postJSON(t, srv, "/projects", map[string]string{"project_id": "proj-1", "name": "demo"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	genResp := postJSON(t, srv, "/generate", map[string]interface{}{
		"project_id": "proj-1",
		"prompt":     "a red bicycle in a park",
		"model":      "stub-v1",
	})
	require.Equal(t, http.StatusOK, genResp.StatusCode)
	var generated generateResponse
	require.NoError(t, json.NewDecoder(genResp.Body).Decode(&generated))
	genResp.Body.Close()
	assert.Equal(t, "success", generated.Status)
	require.NotEmpty(t, generated.CommitID)

	baselineResp := postJSON(t, srv, "/baseline", map[string]string{"project_id": "proj-1", "commit_id": generated.CommitID})
	require.Equal(t, http.StatusOK, baselineResp.StatusCode)
	baselineResp.Body.Close()

	editResp := postJSON(t, srv, "/generate", map[string]interface{}{
		"project_id":       "proj-1",
		"prompt":           "a blue bicycle in a park",
		"model":            "stub-v1",
		"parent_commit_id": generated.CommitID,
	})
	require.Equal(t, http.StatusOK, editResp.StatusCode)
	var edited generateResponse
	require.NoError(t, json.NewDecoder(editResp.Body).Decode(&edited))
	editResp.Body.Close()

	compareResp := postJSON(t, srv, "/compare", map[string]string{
		"project_id":          "proj-1",
		"candidate_commit_id": edited.CommitID,
	})
	require.Equal(t, http.StatusOK, compareResp.StatusCode)
	var report map[string]interface{}
	require.NoError(t, json.NewDecoder(compareResp.Body).Decode(&report))
	compareResp.Body.Close()
	assert.Contains(t, report, "verdict")
	assert.Equal(t, true, report["degraded"])
}

func TestCreateProjectRejectsMissingProjectID(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp := postJSON(t, srv, "/projects", map[string]string{"name": "demo"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var envelope errorEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	resp.Body.Close()
	assert.Equal(t, "INVALID_REQUEST", envelope.Error.Code)
	assert.NotEmpty(t, envelope.Error.RequestID)
}

func TestGetEvalRunUnknownIDReturns404(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/eval-runs/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateEvalRunEndToEnd(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	createResp := postJSON(t, srv, "/eval-runs", map[string]interface{}{
		"project_id":       "proj-2",
		"base_prompt":      "a mountain vista at sunrise",
		"objective_preset": "aesthetic",
		"n_variants":       2,
		"quality":          "low",
	})
	require.Equal(t, http.StatusOK, createResp.StatusCode)
	var run map[string]interface{}
	require.NoError(t, json.NewDecoder(createResp.Body).Decode(&run))
	createResp.Body.Close()
	runID, ok := run["run_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, runID)

	deadline := time.Now().Add(5 * time.Second)
	var status string
	for time.Now().Before(deadline) {
		getResp, err := http.Get(srv.URL + "/eval-runs/" + runID)
		require.NoError(t, err)
		var polled map[string]interface{}
		require.NoError(t, json.NewDecoder(getResp.Body).Decode(&polled))
		getResp.Body.Close()
		status, _ = polled["status"].(string)
		if status == "completed" || status == "completed_degraded" || status == "failed" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, "completed_degraded", status)
}
