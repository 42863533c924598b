// Package simulator is a development stand-in for the external mission
// execution engine: it serves the REST surface missionwatch consumes, drives
// scripted run lifecycles, and broadcasts the event stream over WebSocket
// with a read-only SSE mirror. It exists for local development and
// integration tests; it implements none of the real engine's scheduling.
package simulator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/groundlink/missionwatch/pkg/logging"
	"github.com/groundlink/missionwatch/pkg/models"
)

// NodeScript controls how the simulator executes one node.
type NodeScript struct {
	// Duration is how long the node "runs" (defaults to StepDelay)
	Duration time.Duration

	// Fail makes the first attempt fail; a retry clears the flag
	Fail bool

	// Output is reported on completion
	Output string

	// Files are reported on completion
	Files []string
}

// DefaultStepDelay paces scripted execution when a node has no duration.
const DefaultStepDelay = 300 * time.Millisecond

// Engine simulates mission execution in memory.
type Engine struct {
	logger logging.Logger
	hub    *Hub

	stepDelay time.Duration

	mu       sync.RWMutex
	missions map[string]models.Mission
	scripts  map[string]map[string]*NodeScript // missionID -> nodeID
	runs     map[string]*models.Run
	driving  map[string]bool // runID -> lifecycle goroutine active
}

// NewEngine creates an empty simulator engine.
func NewEngine(logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		logger:    logger,
		hub:       NewHub(logger),
		stepDelay: DefaultStepDelay,
		missions:  make(map[string]models.Mission),
		scripts:   make(map[string]map[string]*NodeScript),
		runs:      make(map[string]*models.Run),
		driving:   make(map[string]bool),
	}
}

// SetStepDelay overrides the default pacing. Tests use very small values.
func (e *Engine) SetStepDelay(d time.Duration) {
	e.stepDelay = d
}

// Hub exposes the event broadcaster for transport handlers.
func (e *Engine) Hub() *Hub {
	return e.hub
}

// AddMission registers a mission definition with per-node scripts. A nil
// scripts map runs every node successfully at the default pace.
func (e *Engine) AddMission(m models.Mission, scripts map[string]*NodeScript) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.missions[m.ID] = m
	if scripts == nil {
		scripts = make(map[string]*NodeScript)
	}
	e.scripts[m.ID] = scripts
}

// Mission fetches a definition by id.
func (e *Engine) Mission(id string) (models.Mission, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.missions[id]
	return m, ok
}

// Runs lists runs sorted by start time, newest first.
func (e *Engine) Runs() []models.Run {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.Run, 0, len(e.runs))
	for _, r := range e.runs {
		out = append(out, copyRun(r))
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].StartedAt, out[j].StartedAt
		if ti == nil || tj == nil {
			return out[i].ID < out[j].ID
		}
		return ti.After(*tj)
	})
	return out
}

// Run fetches a run snapshot by id.
func (e *Engine) Run(id string) (models.Run, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runs[id]
	if !ok {
		return models.Run{}, false
	}
	return copyRun(r), true
}

// StartRun creates a run for a mission and drives its lifecycle in the
// background.
func (e *Engine) StartRun(missionID string) (models.Run, error) {
	e.mu.Lock()
	mission, ok := e.missions[missionID]
	if !ok {
		e.mu.Unlock()
		return models.Run{}, fmt.Errorf("unknown mission %q", missionID)
	}

	now := time.Now()
	run := &models.Run{
		ID:         uuid.New().String(),
		MissionID:  missionID,
		Status:     models.RunStatusRunning,
		NodeStates: make(map[string]models.NodeState, len(mission.Nodes)),
		StartedAt:  &now,
	}
	for _, n := range mission.Nodes {
		run.NodeStates[n.ID] = models.NodeState{Status: models.NodeStatusPending}
	}
	e.runs[run.ID] = run
	e.driving[run.ID] = true
	e.mu.Unlock()

	e.logger.Info("run started", logging.F("run_id", run.ID), logging.F("mission_id", missionID))
	e.hub.Broadcast(models.Event{Type: models.EventRunStarted, RunID: run.ID, MissionID: missionID})

	go e.driveRun(run.ID)
	return copyRun(run), nil
}

// RetryNode re-executes one failed node. The first retry of a scripted
// failure succeeds; downstream nodes that failed in cascade are reset so the
// run can resume through them.
func (e *Engine) RetryNode(runID, nodeID string) error {
	e.mu.Lock()
	run, ok := e.runs[runID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("unknown run %q", runID)
	}
	ns, ok := run.NodeStates[nodeID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("unknown node %q in run %q", nodeID, runID)
	}
	if ns.Status != models.NodeStatusFailed {
		e.mu.Unlock()
		return fmt.Errorf("node %q is not failed", nodeID)
	}

	// Retried nodes succeed on the next attempt.
	if script := e.scripts[run.MissionID][nodeID]; script != nil {
		script.Fail = false
	}

	run.NodeStates[nodeID] = models.NodeState{Status: models.NodeStatusRetrying}
	for _, id := range e.failedDescendantsLocked(run, nodeID) {
		run.NodeStates[id] = models.NodeState{Status: models.NodeStatusPending}
	}
	run.Status = models.RunStatusRunning
	run.CompletedAt = nil
	alreadyDriving := e.driving[runID]
	e.driving[runID] = true
	e.mu.Unlock()

	e.hub.Broadcast(models.Event{Type: models.EventNodeRetrying, RunID: runID, NodeID: nodeID, RetryCount: 1})
	if !alreadyDriving {
		go e.driveRun(runID)
	}
	return nil
}

// Abort terminates a run without finishing its nodes.
func (e *Engine) Abort(runID string) error {
	e.mu.Lock()
	run, ok := e.runs[runID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("unknown run %q", runID)
	}
	if run.Status.Terminal() {
		e.mu.Unlock()
		return nil
	}
	now := time.Now()
	run.Status = models.RunStatusAborted
	run.CompletedAt = &now
	e.driving[runID] = false
	e.mu.Unlock()

	e.hub.Broadcast(models.Event{Type: models.EventRunAborted, RunID: runID})
	return nil
}

// failedDescendantsLocked walks edges forward from nodeID collecting failed
// nodes, so a retry lets the cascade re-run.
func (e *Engine) failedDescendantsLocked(run *models.Run, nodeID string) []string {
	mission := e.missions[run.MissionID]
	children := make(map[string][]string)
	for _, edge := range missionEdges(mission) {
		children[edge.From] = append(children[edge.From], edge.To)
	}

	var out []string
	seen := map[string]bool{nodeID: true}
	queue := append([]string(nil), children[nodeID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		if run.NodeStates[id].Status == models.NodeStatusFailed {
			out = append(out, id)
		}
		queue = append(queue, children[id]...)
	}
	return out
}

// missionEdges merges declared dependsOn pairs with explicit edges.
func missionEdges(m models.Mission) []models.Edge {
	edges := append([]models.Edge(nil), m.Edges...)
	for _, n := range m.Nodes {
		for _, dep := range n.DependsOn {
			edges = append(edges, models.Edge{From: dep, To: n.ID})
		}
	}
	return edges
}

func copyRun(r *models.Run) models.Run {
	out := *r
	out.NodeStates = make(map[string]models.NodeState, len(r.NodeStates))
	for id, ns := range r.NodeStates {
		out.NodeStates[id] = ns
	}
	return out
}
