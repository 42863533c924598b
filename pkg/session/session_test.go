package session

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundlink/missionwatch/pkg/client"
	"github.com/groundlink/missionwatch/pkg/eventlog"
	"github.com/groundlink/missionwatch/pkg/logging"
	"github.com/groundlink/missionwatch/pkg/models"
	"github.com/groundlink/missionwatch/pkg/simulator"
)

const sessionWait = 5 * time.Second

// harness runs a full simulator engine behind httptest and points a session
// at it, exercising the real REST client and websocket path end to end.
type harness struct {
	engine *simulator.Engine
	server *httptest.Server
	rest   *client.HTTPEngineClient
}

func newHarness(t *testing.T, scripts map[string]*simulator.NodeScript) *harness {
	t.Helper()
	engine := simulator.NewEngine(logging.Discard())
	engine.SetStepDelay(2 * time.Millisecond)
	engine.AddMission(models.Mission{
		ID:   "recon",
		Name: "Recon",
		Nodes: []models.MissionNode{
			{ID: "collect", Label: "Collect", Type: "task"},
			{ID: "analyze", Label: "Analyze", Type: "task", DependsOn: []string{"collect"}},
			{ID: "report", Label: "Report", Type: "task", DependsOn: []string{"analyze"}},
		},
	}, scripts)

	server := httptest.NewServer(engine.Router())
	t.Cleanup(server.Close)

	return &harness{
		engine: engine,
		server: server,
		rest:   client.NewHTTPEngineClient(server.URL + "/api/v1"),
	}
}

func (h *harness) config() Config {
	return Config{
		StreamURL:      "ws" + strings.TrimPrefix(h.server.URL, "http") + "/api/v1/events",
		Engine:         h.rest,
		ReconnectDelay: 50 * time.Millisecond,
		Logger:         logging.Discard(),
	}
}

func TestSessionObservesRunToCompletion(t *testing.T) {
	h := newHarness(t, map[string]*simulator.NodeScript{
		"collect": {Output: "40 frames"},
	})

	concluded := make(chan models.RunStatus, 1)
	cfg := h.config()
	cfg.Hooks.OnRunConcluded = func(outcome models.RunStatus) {
		select {
		case concluded <- outcome:
		default:
		}
	}
	sess, err := New(cfg)
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.Start(context.Background(), ""))
	require.Eventually(t, sess.Connected, sessionWait, 5*time.Millisecond)

	run, err := h.engine.StartRun("recon")
	require.NoError(t, err)

	select {
	case outcome := <-concluded:
		assert.Equal(t, models.RunStatusCompleted, outcome)
	case <-time.After(sessionWait):
		t.Fatal("run never concluded")
	}

	snap := sess.Snapshot()
	assert.Equal(t, run.ID, snap.RunID)
	require.Len(t, snap.Nodes, 3)
	node, ok := snap.Node("collect")
	require.True(t, ok)
	assert.Equal(t, models.NodeStatusCompleted, node.Status)
	assert.Equal(t, "Collect", node.Label)
	assert.Equal(t, "40 frames", node.Output)

	// The layout places analyze strictly right of collect.
	cx := snap.Layout.Positions["collect"].X
	ax := snap.Layout.Positions["analyze"].X
	assert.Less(t, cx, ax)

	assert.NotEmpty(t, sess.Log().Filter(eventlog.Filter{Type: "DONE"}))
}

func TestSessionHydratesExistingRun(t *testing.T) {
	h := newHarness(t, nil)

	run, err := h.engine.StartRun("recon")
	require.NoError(t, err)

	// Let the run finish before the observer ever connects.
	require.Eventually(t, func() bool {
		r, ok := h.engine.Run(run.ID)
		return ok && r.Status == models.RunStatusCompleted
	}, sessionWait, 2*time.Millisecond)

	sess, err := New(h.config())
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.Start(context.Background(), run.ID))

	snap := sess.Snapshot()
	assert.Equal(t, run.ID, snap.RunID)
	require.Len(t, snap.Nodes, 3)
	assert.True(t, sess.Store().IsRunConcluded())
	assert.Equal(t, models.RunStatusCompleted, sess.Store().RunOutcome())
}

func TestSessionRetryFailedRecoversRun(t *testing.T) {
	h := newHarness(t, map[string]*simulator.NodeScript{
		"analyze": {Fail: true},
	})

	var outcomes []models.RunStatus
	concluded := make(chan models.RunStatus, 4)
	cfg := h.config()
	cfg.Hooks.OnRunConcluded = func(outcome models.RunStatus) {
		concluded <- outcome
	}
	sess, err := New(cfg)
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.Start(context.Background(), ""))
	require.Eventually(t, sess.Connected, sessionWait, 5*time.Millisecond)

	_, err = h.engine.StartRun("recon")
	require.NoError(t, err)

	select {
	case outcome := <-concluded:
		outcomes = append(outcomes, outcome)
		require.Equal(t, models.RunStatusFailed, outcome)
	case <-time.After(sessionWait):
		t.Fatal("run never failed")
	}

	// Only the root failure is planned, not its cascaded descendant.
	require.Eventually(t, func() bool {
		plan := sess.PlanRetry()
		return len(plan) == 1 && plan[0] == "analyze"
	}, sessionWait, 5*time.Millisecond)

	planned, err := sess.RetryFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"analyze"}, planned)

	select {
	case outcome := <-concluded:
		outcomes = append(outcomes, outcome)
		assert.Equal(t, models.RunStatusCompleted, outcome)
	case <-time.After(sessionWait):
		t.Fatal("run never recovered")
	}

	require.Len(t, outcomes, 2)
	node, ok := sess.Snapshot().Node("report")
	require.True(t, ok)
	assert.Equal(t, models.NodeStatusCompleted, node.Status)
}

func TestSessionAbort(t *testing.T) {
	h := newHarness(t, map[string]*simulator.NodeScript{
		"collect": {Duration: time.Second},
	})

	sess, err := New(h.config())
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.Start(context.Background(), ""))
	require.Eventually(t, sess.Connected, sessionWait, 5*time.Millisecond)

	run, err := h.engine.StartRun("recon")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return sess.Snapshot().RunID == run.ID
	}, sessionWait, 5*time.Millisecond)

	require.NoError(t, sess.Abort())

	require.Eventually(t, func() bool {
		return sess.Store().RunStatus() == models.RunStatusAborted
	}, sessionWait, 5*time.Millisecond, "abort never observed")
}

func TestSessionAbortWithoutRun(t *testing.T) {
	h := newHarness(t, nil)
	sess, err := New(h.config())
	require.NoError(t, err)
	defer sess.Close()

	assert.Error(t, sess.Abort())
}

func TestSessionRequiresCollaborators(t *testing.T) {
	_, err := New(Config{Engine: nil, StreamURL: "ws://localhost/events"})
	assert.Error(t, err)

	h := newHarness(t, nil)
	_, err = New(Config{Engine: h.rest})
	assert.Error(t, err)
}

func TestSessionRejectsBadSchedule(t *testing.T) {
	h := newHarness(t, nil)
	cfg := h.config()
	cfg.ReconcileSchedule = "whenever"
	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconcile schedule")
}

func TestSessionClosedOperations(t *testing.T) {
	h := newHarness(t, nil)
	sess, err := New(h.config())
	require.NoError(t, err)

	sess.Close()
	sess.Close() // idempotent

	assert.ErrorIs(t, sess.Start(context.Background(), ""), ErrClosed)
	_, err = sess.RetryFailed(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
