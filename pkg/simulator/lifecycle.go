package simulator

import (
	"time"

	"github.com/groundlink/missionwatch/pkg/logging"
	"github.com/groundlink/missionwatch/pkg/models"
)

// driveRun walks the mission DAG, executing ready nodes one at a time for
// deterministic event order. A scripted failure cascades: every pending
// descendant fails with an upstream error, which is exactly the shape the
// retry planner distinguishes root failures from.
func (e *Engine) driveRun(runID string) {
	for {
		e.mu.Lock()
		run, ok := e.runs[runID]
		if !ok || !e.driving[runID] {
			e.mu.Unlock()
			return
		}
		mission := e.missions[run.MissionID]
		nodeID, found := e.nextReadyLocked(run, mission)
		if !found {
			done := !anyActive(run)
			e.mu.Unlock()
			if done {
				e.concludeRun(runID)
				return
			}
			// A retry may re-arm the run; poll gently.
			time.Sleep(e.stepDelay)
			continue
		}

		script := e.scripts[run.MissionID][nodeID]
		run.NodeStates[nodeID] = models.NodeState{Status: models.NodeStatusScheduled}
		e.mu.Unlock()

		e.hub.Broadcast(models.Event{Type: models.EventNodeScheduled, RunID: runID, NodeID: nodeID})

		now := time.Now()
		e.mu.Lock()
		run.NodeStates[nodeID] = models.NodeState{Status: models.NodeStatusRunning, StartedAt: &now}
		e.mu.Unlock()
		e.hub.Broadcast(models.Event{Type: models.EventNodeStarted, RunID: runID, NodeID: nodeID})

		duration := e.stepDelay
		if script != nil && script.Duration > 0 {
			duration = script.Duration
		}
		time.Sleep(duration)

		e.mu.Lock()
		if !e.driving[runID] {
			e.mu.Unlock()
			return
		}
		if script != nil && script.Fail {
			run.NodeStates[nodeID] = models.NodeState{Status: models.NodeStatusFailed, Error: "scripted failure"}
			cascaded := e.cascadeFailLocked(run, mission, nodeID)
			e.mu.Unlock()

			e.hub.Broadcast(models.Event{Type: models.EventNodeFailed, RunID: runID, NodeID: nodeID, Error: "scripted failure"})
			for _, id := range cascaded {
				e.hub.Broadcast(models.Event{Type: models.EventNodeFailed, RunID: runID, NodeID: id, Error: "upstream dependency failed"})
			}
			continue
		}

		ns := models.NodeState{Status: models.NodeStatusCompleted}
		var output string
		var files []string
		if script != nil {
			output = script.Output
			files = script.Files
			ns.Output = output
			ns.Files = files
		}
		run.NodeStates[nodeID] = ns
		e.mu.Unlock()

		e.hub.Broadcast(models.Event{
			Type:   models.EventNodeCompleted,
			RunID:  runID,
			NodeID: nodeID,
			Output: output,
			Files:  files,
		})
	}
}

// nextReadyLocked returns a pending/retrying node whose parents have all
// completed, in mission declaration order.
func (e *Engine) nextReadyLocked(run *models.Run, mission models.Mission) (string, bool) {
	parents := make(map[string][]string)
	for _, edge := range missionEdges(mission) {
		parents[edge.To] = append(parents[edge.To], edge.From)
	}

	for _, n := range mission.Nodes {
		status := run.NodeStates[n.ID].Status
		if status != models.NodeStatusPending && status != models.NodeStatusRetrying {
			continue
		}
		ready := true
		for _, p := range parents[n.ID] {
			if run.NodeStates[p].Status != models.NodeStatusCompleted {
				ready = false
				break
			}
		}
		if ready {
			return n.ID, true
		}
	}
	return "", false
}

// cascadeFailLocked fails every pending transitive descendant of nodeID and
// returns them in the order failed.
func (e *Engine) cascadeFailLocked(run *models.Run, mission models.Mission, nodeID string) []string {
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
		if run.NodeStates[id].Status == models.NodeStatusPending {
			run.NodeStates[id] = models.NodeState{Status: models.NodeStatusFailed, Error: "upstream dependency failed"}
			out = append(out, id)
		}
		queue = append(queue, children[id]...)
	}
	return out
}

// anyActive reports whether any node still has work to do.
func anyActive(run *models.Run) bool {
	for _, ns := range run.NodeStates {
		if !ns.Status.Terminal() {
			return true
		}
	}
	return false
}

// concludeRun records and broadcasts the run verdict.
func (e *Engine) concludeRun(runID string) {
	e.mu.Lock()
	run, ok := e.runs[runID]
	if !ok || run.Status.Terminal() {
		e.mu.Unlock()
		return
	}
	outcome := models.RunStatusCompleted
	eventType := models.EventRunCompleted
	for _, ns := range run.NodeStates {
		if ns.Status == models.NodeStatusFailed {
			outcome = models.RunStatusFailed
			eventType = models.EventRunFailed
			break
		}
	}
	now := time.Now()
	run.Status = outcome
	run.CompletedAt = &now
	e.driving[runID] = false
	e.mu.Unlock()

	e.logger.Info("run concluded", logging.F("run_id", runID), logging.F("outcome", string(outcome)))
	e.hub.Broadcast(models.Event{Type: eventType, RunID: runID})
}
