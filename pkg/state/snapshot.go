package state

import (
	"time"

	"github.com/groundlink/missionwatch/pkg/models"
)

// Snapshot is a consistent read-only copy of the store for presentation
// layers and planners. Nodes appear in first-seen order.
type Snapshot struct {
	RunID       string
	MissionID   string
	MissionName string
	RunStatus   models.RunStatus
	RunError    string
	StartedAt   *time.Time
	CompletedAt *time.Time
	Nodes       []models.Node
	Edges       []models.Edge
	Layout      models.LayoutResult
}

// Node returns the snapshot's copy of a node by id.
func (s Snapshot) Node(id string) (models.Node, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return models.Node{}, false
}

// Snapshot copies the current model. Safe to call from any goroutine.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		RunID:       s.runID,
		MissionID:   s.missionID,
		RunStatus:   s.runStatus,
		RunError:    s.runError,
		StartedAt:   s.runStartedAt,
		CompletedAt: s.runCompletedAt,
		Nodes:       make([]models.Node, 0, len(s.order)),
		Edges:       append([]models.Edge(nil), s.edges...),
		Layout:      s.layout,
	}
	if s.mission != nil {
		snap.MissionName = s.mission.Name
	}
	for _, id := range s.order {
		node := *s.nodes[id]
		node.Files = append([]string(nil), node.Files...)
		snap.Nodes = append(snap.Nodes, node)
	}
	return snap
}

// RunID returns the id of the observed run, if any.
func (s *Store) RunID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runID
}

// NodeCount returns the number of tracked nodes without copying them.
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// RunStatus returns the run's current lifecycle state.
func (s *Store) RunStatus() models.RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runStatus
}

// Layout returns the positions computed at the last topology change.
func (s *Store) Layout() models.LayoutResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.layout
}

// NodeLabel resolves an id to its display label, falling back to the id for
// nodes we have never seen.
func (s *Store) NodeLabel(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if node, ok := s.nodes[id]; ok {
		return node.Label
	}
	return id
}

// SetRunIdentity records which run (and mission) the store observes without
// touching node state. Used when a run_started frame arrives before any
// snapshot has been fetched.
func (s *Store) SetRunIdentity(runID, missionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runID = runID
	if missionID != "" {
		s.missionID = missionID
	}
	if s.runStatus == "" || s.runStatus == models.RunStatusPending {
		s.runStatus = models.RunStatusRunning
		if s.runStartedAt == nil {
			now := time.Now()
			s.runStartedAt = &now
		}
	}
}

// SetRunStatus applies a run-level transition reported by the engine.
// Returns false when the transition is a duplicate terminal no-op.
func (s *Store) SetRunStatus(status models.RunStatus, errText string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setRunStatusLocked(status, errText)
}

func (s *Store) setRunStatusLocked(status models.RunStatus, errText string) bool {
	if s.runStatus == status && status.Terminal() {
		return false
	}
	s.runStatus = status
	if errText != "" {
		s.runError = errText
	}
	if status.Terminal() && s.runCompletedAt == nil {
		now := time.Now()
		s.runCompletedAt = &now
	}
	return true
}

// IsRunConcluded reports whether every known node is in a terminal state.
// An empty store is never concluded.
func (s *Store) IsRunConcluded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.concludedLocked()
}

func (s *Store) concludedLocked() bool {
	if len(s.nodes) == 0 {
		return false
	}
	for _, node := range s.nodes {
		if !node.Status.Terminal() {
			return false
		}
	}
	return true
}

// RunOutcome returns the local verdict once all nodes are terminal: failed
// if any node failed, completed otherwise.
func (s *Store) RunOutcome() models.RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outcomeLocked()
}

func (s *Store) outcomeLocked() models.RunStatus {
	for _, node := range s.nodes {
		if node.Status == models.NodeStatusFailed {
			return models.RunStatusFailed
		}
	}
	return models.RunStatusCompleted
}

// ConcludeIfDone applies the local run verdict when every node is terminal,
// guarding against a missed run_completed/run_failed frame. Returns the
// outcome and whether the run concluded on this call.
func (s *Store) ConcludeIfDone() (models.RunStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.concludedLocked() {
		return "", false
	}
	if s.runStatus.Terminal() {
		return s.runStatus, false
	}
	outcome := s.outcomeLocked()
	s.setRunStatusLocked(outcome, "")
	return outcome, true
}

// FailedNodes lists currently-failed node ids in first-seen order.
func (s *Store) FailedNodes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, id := range s.order {
		if s.nodes[id].Status == models.NodeStatusFailed {
			ids = append(ids, id)
		}
	}
	return ids
}
