// Package retry decides the minimal set of failed nodes that need an
// explicit retry request, and issues those requests as a serialized batch.
//
// A failed node whose upstream dependency also failed will be re-triggered
// automatically once the upstream retry completes; asking the engine to
// retry it directly would race the scheduler and duplicate work. Only
// root-failed nodes (failed nodes with no failed direct parent) are planned.
package retry

import (
	"github.com/groundlink/missionwatch/pkg/models"
	"github.com/groundlink/missionwatch/pkg/state"
)

// Plan returns the root-failed node ids in first-seen order, giving batch
// execution a deterministic sequence.
func Plan(snap state.Snapshot) []string {
	failed := make(map[string]bool)
	for _, n := range snap.Nodes {
		if n.Status == models.NodeStatusFailed {
			failed[n.ID] = true
		}
	}
	if len(failed) == 0 {
		return nil
	}

	parents := make(map[string][]string)
	for _, e := range snap.Edges {
		parents[e.To] = append(parents[e.To], e.From)
	}

	var plan []string
	for _, n := range snap.Nodes {
		if !failed[n.ID] {
			continue
		}
		rootFailed := true
		for _, p := range parents[n.ID] {
			if failed[p] {
				rootFailed = false
				break
			}
		}
		if rootFailed {
			plan = append(plan, n.ID)
		}
	}
	return plan
}
