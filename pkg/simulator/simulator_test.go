package simulator

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundlink/missionwatch/pkg/logging"
	"github.com/groundlink/missionwatch/pkg/models"
)

const runWait = 5 * time.Second

func testMission() models.Mission {
	return models.Mission{
		ID:   "recon",
		Name: "Recon",
		Nodes: []models.MissionNode{
			{ID: "collect", Label: "Collect", Type: "task"},
			{ID: "analyze", Label: "Analyze", Type: "task", DependsOn: []string{"collect"}},
			{ID: "report", Label: "Report", Type: "task", DependsOn: []string{"analyze"}},
		},
	}
}

func newTestEngine(t *testing.T, scripts map[string]*NodeScript) *Engine {
	t.Helper()
	engine := NewEngine(logging.Discard())
	engine.SetStepDelay(2 * time.Millisecond)
	engine.AddMission(testMission(), scripts)
	return engine
}

func waitRunStatus(t *testing.T, e *Engine, runID string, want models.RunStatus) models.Run {
	t.Helper()
	var run models.Run
	require.Eventually(t, func() bool {
		r, ok := e.Run(runID)
		if !ok {
			return false
		}
		run = r
		return r.Status == want
	}, runWait, 2*time.Millisecond, "run never reached %s (last: %s)", want, run.Status)
	return run
}

func TestRunCompletesInDependencyOrder(t *testing.T) {
	engine := newTestEngine(t, map[string]*NodeScript{
		"collect": {Output: "40 frames", Files: []string{"frames.bin"}},
	})

	run, err := engine.StartRun("recon")
	require.NoError(t, err)

	final := waitRunStatus(t, engine, run.ID, models.RunStatusCompleted)
	require.NotNil(t, final.CompletedAt)
	for id, ns := range final.NodeStates {
		assert.Equal(t, models.NodeStatusCompleted, ns.Status, "node %s", id)
	}
	assert.Equal(t, "40 frames", final.NodeStates["collect"].Output)
	assert.Equal(t, []string{"frames.bin"}, final.NodeStates["collect"].Files)
}

func TestScriptedFailureCascades(t *testing.T) {
	engine := newTestEngine(t, map[string]*NodeScript{
		"analyze": {Fail: true},
	})

	run, err := engine.StartRun("recon")
	require.NoError(t, err)

	final := waitRunStatus(t, engine, run.ID, models.RunStatusFailed)
	assert.Equal(t, models.NodeStatusCompleted, final.NodeStates["collect"].Status)
	assert.Equal(t, models.NodeStatusFailed, final.NodeStates["analyze"].Status)
	assert.Equal(t, "scripted failure", final.NodeStates["analyze"].Error)
	assert.Equal(t, models.NodeStatusFailed, final.NodeStates["report"].Status)
	assert.Equal(t, "upstream dependency failed", final.NodeStates["report"].Error)
}

func TestRetryResumesFailedRun(t *testing.T) {
	engine := newTestEngine(t, map[string]*NodeScript{
		"analyze": {Fail: true},
	})

	run, err := engine.StartRun("recon")
	require.NoError(t, err)
	waitRunStatus(t, engine, run.ID, models.RunStatusFailed)

	require.NoError(t, engine.RetryNode(run.ID, "analyze"))

	final := waitRunStatus(t, engine, run.ID, models.RunStatusCompleted)
	assert.Equal(t, models.NodeStatusCompleted, final.NodeStates["analyze"].Status)
	assert.Equal(t, models.NodeStatusCompleted, final.NodeStates["report"].Status)
}

func TestRetryRejectsNonFailedNode(t *testing.T) {
	engine := newTestEngine(t, nil)

	run, err := engine.StartRun("recon")
	require.NoError(t, err)
	waitRunStatus(t, engine, run.ID, models.RunStatusCompleted)

	err = engine.RetryNode(run.ID, "collect")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not failed")

	assert.Error(t, engine.RetryNode(run.ID, "no-such-node"))
	assert.Error(t, engine.RetryNode("no-such-run", "collect"))
}

func TestAbortStopsRun(t *testing.T) {
	engine := newTestEngine(t, map[string]*NodeScript{
		"collect": {Duration: time.Second},
	})

	run, err := engine.StartRun("recon")
	require.NoError(t, err)

	require.NoError(t, engine.Abort(run.ID))
	final := waitRunStatus(t, engine, run.ID, models.RunStatusAborted)
	require.NotNil(t, final.CompletedAt)

	// Aborting a finished run is a no-op.
	require.NoError(t, engine.Abort(run.ID))
}

func TestStartRunUnknownMission(t *testing.T) {
	engine := newTestEngine(t, nil)
	_, err := engine.StartRun("nonexistent")
	require.Error(t, err)
}

func TestRouterServesRESTSurface(t *testing.T) {
	engine := newTestEngine(t, nil)
	server := httptest.NewServer(engine.Router())
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/health")
	require.NoError(t, err)
	var health struct {
		Status   string `json:"status"`
		Watchers int    `json:"watchers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 0, health.Watchers)

	resp, err = http.Get(server.URL + "/api/v1/missions/recon")
	require.NoError(t, err)
	var mission models.Mission
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&mission))
	resp.Body.Close()
	assert.Equal(t, "Recon", mission.Name)

	resp, err = http.Get(server.URL + "/api/v1/missions/unknown")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	body := bytes.NewBufferString(`{"missionId":"recon"}`)
	resp, err = http.Post(server.URL+"/api/v1/runs", "application/json", body)
	require.NoError(t, err)
	var run models.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, run.ID)

	resp, err = http.Get(server.URL + "/api/v1/runs/" + run.ID)
	require.NoError(t, err)
	var fetched models.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fetched))
	resp.Body.Close()
	assert.Equal(t, run.ID, fetched.ID)

	resp, err = http.Get(server.URL + "/api/v1/runs")
	require.NoError(t, err)
	var runs []models.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	resp.Body.Close()
	assert.Len(t, runs, 1)

	waitRunStatus(t, engine, run.ID, models.RunStatusCompleted)

	// Retrying a completed node conflicts.
	resp, err = http.Post(server.URL+"/api/v1/runs/"+run.ID+"/nodes/collect/retry", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestStartRunHandlerRejectsMissingMissionID(t *testing.T) {
	engine := newTestEngine(t, nil)
	server := httptest.NewServer(engine.Router())
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/v1/runs", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoadMissionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
id: recon
name: Recon
nodes:
  - id: collect
    label: Collect
    type: task
    duration: 15ms
    output: "40 frames"
    files: [frames.bin]
  - id: analyze
    label: Analyze
    type: agent
    dependsOn: [collect]
    fail: true
edges:
  - from: collect
    to: analyze
`), 0o644))

	mission, scripts, err := LoadMissionFile(path)
	require.NoError(t, err)
	assert.Equal(t, "recon", mission.ID)
	require.Len(t, mission.Nodes, 2)
	assert.Equal(t, []string{"collect"}, mission.Nodes[1].DependsOn)
	require.Len(t, mission.Edges, 1)

	require.Contains(t, scripts, "collect")
	assert.Equal(t, 15*time.Millisecond, scripts["collect"].Duration)
	assert.Equal(t, "40 frames", scripts["collect"].Output)
	assert.True(t, scripts["analyze"].Fail)
}

func TestLoadMissionFileRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
id: bad
nodes:
  - id: a
    duration: quickly
`), 0o644))

	_, _, err := LoadMissionFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad duration")
}

func TestLoadMissionDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("id: alpha\nname: Alpha\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte("id: bravo\nname: Bravo\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	engine := NewEngine(logging.Discard())
	require.NoError(t, engine.LoadMissionDir(dir))

	_, ok := engine.Mission("alpha")
	assert.True(t, ok)
	_, ok = engine.Mission("bravo")
	assert.True(t, ok)
}
