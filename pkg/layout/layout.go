// Package layout computes a deterministic 2D arrangement of a DAG for
// presentation. It is a pure function of node-id order and edge membership:
// statuses never influence positions, so a layout is only recomputed when
// graph topology changes.
package layout

import "github.com/groundlink/missionwatch/pkg/models"

// Options controls spacing in the abstract coordinate space.
type Options struct {
	// Padding offsets the first column and row from the origin
	Padding float64

	// HGap is the horizontal distance between topological columns
	HGap float64

	// VGap is the vertical distance between rows within a column
	VGap float64

	// NodeWidth and NodeHeight size the node box used for the bounding box
	NodeWidth  float64
	NodeHeight float64
}

// DefaultOptions returns the spacing used when the caller passes a zero
// Options value.
func DefaultOptions() Options {
	return Options{
		Padding:    40,
		HGap:       220,
		VGap:       110,
		NodeWidth:  160,
		NodeHeight: 64,
	}
}

// Compute arranges nodes into columns by topological level and rows by
// first-seen order. nodeIDs must be in stable first-seen iteration order;
// positions are deterministic for a given (nodeIDs, edges) input.
//
// Malformed graphs never fail: nodes that the forward sweep cannot reach
// (cycle members, nodes with an in-cycle ancestor) fall back to level 0 so
// the result is always renderable.
func Compute(nodeIDs []string, edges []models.Edge, opts Options) models.LayoutResult {
	if opts == (Options{}) {
		opts = DefaultOptions()
	}

	levels := Levels(nodeIDs, edges)

	// Group nodes into columns, preserving first-seen order within each.
	columns := make(map[int][]string)
	maxLevel := 0
	for _, id := range nodeIDs {
		lvl := levels[id]
		columns[lvl] = append(columns[lvl], id)
		if lvl > maxLevel {
			maxLevel = lvl
		}
	}

	result := models.LayoutResult{Positions: make(map[string]models.Position, len(nodeIDs))}
	first := true
	for lvl := 0; lvl <= maxLevel; lvl++ {
		for row, id := range columns[lvl] {
			pos := models.Position{
				X: opts.Padding + float64(lvl)*opts.HGap,
				Y: opts.Padding + float64(row)*opts.VGap,
			}
			result.Positions[id] = pos

			right := pos.X + opts.NodeWidth
			bottom := pos.Y + opts.NodeHeight
			if first {
				result.Bounds = models.Bounds{MinX: pos.X, MinY: pos.Y, MaxX: right, MaxY: bottom}
				first = false
				continue
			}
			if pos.X < result.Bounds.MinX {
				result.Bounds.MinX = pos.X
			}
			if pos.Y < result.Bounds.MinY {
				result.Bounds.MinY = pos.Y
			}
			if right > result.Bounds.MaxX {
				result.Bounds.MaxX = right
			}
			if bottom > result.Bounds.MaxY {
				result.Bounds.MaxY = bottom
			}
		}
	}
	return result
}

// Levels assigns a topological level to every node id using Kahn's
// algorithm: a node's level is 1 + the max level of its direct parents, 0
// when it has no parents. Duplicate edges and edges naming unknown nodes are
// ignored. Nodes never dequeued by the sweep keep level 0.
func Levels(nodeIDs []string, edges []models.Edge) map[string]int {
	known := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		known[id] = true
	}

	children := make(map[string][]string)
	indegree := make(map[string]int, len(nodeIDs))
	seen := make(map[models.Edge]bool, len(edges))
	for _, e := range edges {
		if !known[e.From] || !known[e.To] || e.From == e.To || seen[e] {
			continue
		}
		seen[e] = true
		children[e.From] = append(children[e.From], e.To)
		indegree[e.To]++
	}

	levels := make(map[string]int, len(nodeIDs))
	reached := make(map[string]bool, len(nodeIDs))
	queue := make([]string, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		levels[id] = 0
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		reached[id] = true
		for _, child := range children[id] {
			if lvl := levels[id] + 1; lvl > levels[child] {
				levels[child] = lvl
			}
			indegree[child]--
			if indegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	// Nodes the sweep never reached sit inside (or downstream of) a cycle.
	// They fall back to level 0 rather than keeping a partial estimate.
	for _, id := range nodeIDs {
		if !reached[id] {
			levels[id] = 0
		}
	}
	return levels
}
