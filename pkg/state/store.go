// Package state holds the authoritative in-memory model of one observed
// mission/run. There is a single logical writer (the ingest callback chain);
// readers take consistent snapshots. Layout is recomputed only when graph
// topology changes, never on pure status mutations.
package state

import (
	"sync"
	"time"

	"github.com/groundlink/missionwatch/pkg/layout"
	"github.com/groundlink/missionwatch/pkg/models"
)

// DefaultNodeType is assigned to nodes created lazily from events that
// reference ids absent from the mission definition.
const DefaultNodeType = "task"

// Extras carries the optional payload accompanying a node status change.
type Extras struct {
	Output    string
	Error     string
	Files     []string
	StartedAt *time.Time
}

// Store is the DAG state model for one mission/run.
type Store struct {
	mu sync.RWMutex

	layoutOpts layout.Options

	mission *models.Mission

	runID          string
	missionID      string
	runStatus      models.RunStatus
	runError       string
	runStartedAt   *time.Time
	runCompletedAt *time.Time

	nodes   map[string]*models.Node
	order   []string // first-seen node iteration order
	edges   []models.Edge
	edgeSet map[models.Edge]bool

	layout models.LayoutResult
}

// New creates an empty store. A zero Options value selects the default
// layout spacing.
func New(opts layout.Options) *Store {
	return &Store{
		layoutOpts: opts,
		nodes:      make(map[string]*models.Node),
		edgeSet:    make(map[models.Edge]bool),
	}
}

// SetMission bulk-loads the static definition. Nodes already known from
// earlier events keep their live status; declared nodes not yet seen are
// created pending. Triggers one layout recompute.
func (s *Store) SetMission(m models.Mission) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mission = &m
	s.missionID = m.ID

	for _, mn := range m.Nodes {
		if existing, ok := s.nodes[mn.ID]; ok {
			// The event stream got here first; backfill metadata only.
			if mn.Label != "" {
				existing.Label = mn.Label
			}
			if mn.Type != "" {
				existing.Type = mn.Type
			}
			continue
		}
		node := &models.Node{
			ID:     mn.ID,
			Label:  mn.Label,
			Type:   mn.Type,
			Status: models.NodeStatusPending,
		}
		if node.Label == "" {
			node.Label = mn.ID
		}
		if node.Type == "" {
			node.Type = DefaultNodeType
		}
		s.nodes[mn.ID] = node
		s.order = append(s.order, mn.ID)
	}

	for _, mn := range m.Nodes {
		for _, dep := range mn.DependsOn {
			s.addEdgeLocked(models.Edge{From: dep, To: mn.ID})
		}
	}
	for _, e := range m.Edges {
		s.addEdgeLocked(e)
	}

	s.recomputeLayoutLocked()
}

// SetRun bulk-loads a run snapshot, typically from a REST reconciliation
// fetch. Node states in the snapshot overwrite local state; unknown nodes
// are admitted lazily. Triggers one layout recompute.
func (s *Store) SetRun(run models.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runID = run.ID
	if run.MissionID != "" {
		s.missionID = run.MissionID
	}
	s.runStatus = run.Status
	s.runStartedAt = run.StartedAt
	s.runCompletedAt = run.CompletedAt

	// Apply node states in first-seen order for ids we already track, then
	// admit the rest in the snapshot's map order (Go map order is not
	// stable, so known-order application keeps layouts deterministic).
	for _, id := range s.order {
		if ns, ok := run.NodeStates[id]; ok {
			s.applyStateLocked(id, ns)
		}
	}
	for id, ns := range run.NodeStates {
		if _, ok := s.nodes[id]; !ok {
			s.ensureNodeLocked(id)
			s.applyStateLocked(id, ns)
		}
	}

	s.recomputeLayoutLocked()
}

// applyStateLocked overwrites a known node's live fields from a snapshot.
func (s *Store) applyStateLocked(id string, ns models.NodeState) {
	node := s.nodes[id]
	node.Status = ns.Status
	node.Output = ns.Output
	node.Error = ns.Error
	if ns.Files != nil {
		node.Files = append([]string(nil), ns.Files...)
	}
	if ns.Status == models.NodeStatusRunning {
		node.StartedAt = ns.StartedAt
		if node.StartedAt == nil {
			now := time.Now()
			node.StartedAt = &now
		}
	} else {
		node.StartedAt = nil
	}
}

// ApplyNodeStatus transitions one node. Unknown ids are created with default
// metadata rather than rejected, since events may land before the definition
// is hydrated. Returns true when the node's state actually changed;
// re-applying a terminal status to an already-terminal node is a no-op.
func (s *Store) ApplyNodeStatus(nodeID string, status models.NodeStatus, extras Extras) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, created := s.ensureNodeLocked(nodeID)

	if node.Status == status && status.Terminal() {
		// Duplicate delivery of a terminal event: state stays untouched.
		if created {
			s.recomputeLayoutLocked()
		}
		return created
	}

	node.Status = status
	switch status {
	case models.NodeStatusRunning:
		if extras.StartedAt != nil {
			node.StartedAt = extras.StartedAt
		} else {
			now := time.Now()
			node.StartedAt = &now
		}
	default:
		// startedAt is non-nil iff the node is running.
		node.StartedAt = nil
	}

	if extras.Output != "" {
		node.Output = extras.Output
	}
	switch status {
	case models.NodeStatusFailed:
		node.Error = extras.Error
	case models.NodeStatusCompleted, models.NodeStatusRunning:
		// Leaving a failure path drops the stale error text; only the
		// latest attempt's state is retained.
		node.Error = ""
	}
	if len(extras.Files) > 0 {
		node.Files = append([]string(nil), extras.Files...)
	}

	if created {
		s.recomputeLayoutLocked()
	}
	return true
}

// ensureNodeLocked returns the node for id, creating it with default
// metadata when unknown. The second result reports creation, which implies a
// topology change.
func (s *Store) ensureNodeLocked(id string) (*models.Node, bool) {
	if node, ok := s.nodes[id]; ok {
		return node, false
	}
	node := &models.Node{
		ID:     id,
		Label:  id,
		Type:   DefaultNodeType,
		Status: models.NodeStatusPending,
	}
	s.nodes[id] = node
	s.order = append(s.order, id)
	return node, true
}

// addEdgeLocked registers a dependency pair. Duplicates have no effect.
// Edges naming nodes we have never seen create them lazily so the layout is
// complete.
func (s *Store) addEdgeLocked(e models.Edge) {
	if e.From == "" || e.To == "" || s.edgeSet[e] {
		return
	}
	s.ensureNodeLocked(e.From)
	s.ensureNodeLocked(e.To)
	s.edgeSet[e] = true
	s.edges = append(s.edges, e)
}

// recomputeLayoutLocked rebuilds positions from the current topology.
func (s *Store) recomputeLayoutLocked() {
	s.layout = layout.Compute(s.order, s.edges, s.layoutOpts)
}
