// Package models defines the shared data model for mission observation:
// missions, runs, node state, layout results and transmission log entries.
package models

import "time"

// NodeStatus represents the lifecycle state of a single DAG node.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusScheduled NodeStatus = "scheduled"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusRetrying  NodeStatus = "retrying"
)

// Terminal reports whether the status is a final state for a node.
func (s NodeStatus) Terminal() bool {
	return s == NodeStatusCompleted || s == NodeStatusFailed
}

// Valid reports whether the status is one of the known node states.
func (s NodeStatus) Valid() bool {
	switch s {
	case NodeStatusPending, NodeStatusScheduled, NodeStatusRunning,
		NodeStatusCompleted, NodeStatusFailed, NodeStatusRetrying:
		return true
	}
	return false
}

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusAborted   RunStatus = "aborted"
)

// Terminal reports whether the run has finished in some fashion.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusAborted
}

// Node is one DAG vertex: a unit of work observed during a run.
type Node struct {
	// ID is unique within a mission/run
	ID string `json:"id"`

	// Label is the human-readable name shown in the UI
	Label string `json:"label"`

	// Type is a work-kind tag (e.g. "task", "agent")
	Type string `json:"type"`

	// Status is the current lifecycle state
	Status NodeStatus `json:"status"`

	// StartedAt is non-nil iff Status == running
	StartedAt *time.Time `json:"startedAt,omitempty"`

	// Output holds the node's produced text, if any
	Output string `json:"output,omitempty"`

	// Error holds the failure message when Status == failed
	Error string `json:"error,omitempty"`

	// Files lists produced artifact names in production order
	Files []string `json:"files,omitempty"`
}

// Edge is a dependency pair: To depends on From completing.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// MissionNode is the static metadata a mission declares for one node.
type MissionNode struct {
	ID        string   `json:"id"`
	Label     string   `json:"label"`
	Type      string   `json:"type"`
	DependsOn []string `json:"dependsOn,omitempty"`
}

// Mission is a static DAG definition of work to execute. It is owned by the
// external execution engine and immutable once loaded here.
type Mission struct {
	ID    string        `json:"id"`
	Name  string        `json:"name"`
	Nodes []MissionNode `json:"nodes"`
	Edges []Edge        `json:"edges"`
}

// NodeState is the per-node slice of a run snapshot as reported over REST.
type NodeState struct {
	Status    NodeStatus `json:"status"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	Output    string     `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`
	Files     []string   `json:"files,omitempty"`
}

// Run is one execution instance of a mission with live per-node status.
type Run struct {
	ID          string               `json:"id"`
	MissionID   string               `json:"missionId"`
	Status      RunStatus            `json:"status"`
	NodeStates  map[string]NodeState `json:"nodeStates"`
	StartedAt   *time.Time           `json:"startedAt,omitempty"`
	CompletedAt *time.Time           `json:"completedAt,omitempty"`
}

// Position is an abstract 2D coordinate, not pixels. The presentation layer
// scales and centers independently.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Bounds is the bounding box across all positioned nodes.
type Bounds struct {
	MinX float64 `json:"minX"`
	MinY float64 `json:"minY"`
	MaxX float64 `json:"maxX"`
	MaxY float64 `json:"maxY"`
}

// Width returns the horizontal extent of the bounding box.
func (b Bounds) Width() float64 { return b.MaxX - b.MinX }

// Height returns the vertical extent of the bounding box.
func (b Bounds) Height() float64 { return b.MaxY - b.MinY }

// LayoutResult maps node ids to positions plus the overall bounding box.
// It is derived data, recomputed only when graph topology changes.
type LayoutResult struct {
	Positions map[string]Position `json:"positions"`
	Bounds    Bounds              `json:"bounds"`
}

// LogEntry is one line of the transmission log.
type LogEntry struct {
	// Type tags the entry with the event kind that produced it
	Type string `json:"type"`

	// NodeLabel names the node the entry concerns, if any
	NodeLabel string `json:"nodeLabel,omitempty"`

	// Message is the human-readable text
	Message string `json:"message"`

	// Timestamp is when the entry was appended locally
	Timestamp time.Time `json:"timestamp"`
}
