// Package freshness implements the OutputAnalyzer: given a target, it
// determines which nodes are stale relative to their dependencies' output
// timestamps (§4.3 of the design).
package freshness

import (
	"fmt"

	"github.com/tripflow/reflow/internal/graph"
	"github.com/tripflow/reflow/internal/outputremoval"
	"github.com/tripflow/reflow/internal/target"
)

// Result is the outcome of analyzing a target's output freshness.
type Result struct {
	// Invalid is the set of nodes (keyed) whose output predates a
	// dependency's output, and therefore must be re-executed.
	Invalid map[string]*graph.Node
	// Timestamps maps each output to its validated timestamp. An output
	// belonging to an invalid node (or any node downstream of one) is
	// recorded as graph.Absent, so that invalidation propagates through
	// later iterations of the analysis.
	Timestamps map[graph.Output]graph.Timestamp
}

// Analyze walks t in topological order, computing maxDep/minOut per node
// and marking a node invalid whenever its minimum output timestamp predates
// its maximum dependency timestamp. Marking a node invalid overwrites its
// output timestamps with graph.Absent so the invalidation is visible to its
// own dependents later in the same pass.
func Analyze(t target.Target) (*Result, error) {
	g := t.Graph()
	nodes := t.Nodes()

	timestamps := make(map[graph.Output]graph.Timestamp)
	outputsOf := make(map[string][]graph.Output, len(nodes))

	for key, n := range nodes {
		if !n.HasTask() {
			continue
		}
		outs := n.Task().Outputs()
		outputsOf[key] = outs
		for _, o := range outs {
			ts, ok, err := o.Timestamp()
			if err != nil {
				return nil, fmt.Errorf("freshness: reading timestamp for node %q: %w", key, err)
			}
			if !ok {
				timestamps[o] = graph.Absent
			} else {
				timestamps[o] = ts
			}
		}
	}

	// maxDep records, per node, the most recent timestamp seen among its
	// (in-target, direct or indirect) dependencies' outputs. A node with
	// no such timestamp (no dependencies, or dependencies with no
	// outputs) has no entry at all -- that is "-infinity", distinct from
	// graph.Absent which means "+infinity" (a missing output).
	maxDep := make(map[string]graph.Timestamp, len(nodes))
	invalid := make(map[string]*graph.Node)

	for _, n := range g.Order() {
		key := n.Key()
		if _, inTarget := nodes[key]; !inTarget {
			continue
		}

		var maxDepTS graph.Timestamp
		haveMaxDep := false
		consider := func(ts graph.Timestamp) {
			if !haveMaxDep || ts.After(maxDepTS) {
				maxDepTS = ts
				haveMaxDep = true
			}
		}

		for depKey := range n.Dependencies() {
			if _, inTarget := nodes[depKey]; !inTarget {
				continue
			}
			for _, o := range outputsOf[depKey] {
				consider(timestamps[o])
			}
			if dm, ok := maxDep[depKey]; ok {
				consider(dm)
			}
		}
		if haveMaxDep {
			maxDep[key] = maxDepTS
		}

		// minOutTS tracks the earliest *present* own-output timestamp. A
		// missing own output is not "+infinity" here the way a missing
		// dependency output is above -- among nodes that have a dependency
		// to compare against, it forces this node invalid outright rather
		// than being compared against maxDep, since the node has never
		// actually produced that output.
		var minOutTS graph.Timestamp
		haveMinOut := false
		missingOwnOutput := false
		for _, o := range outputsOf[key] {
			ts := timestamps[o]
			if !ts.Present() {
				missingOwnOutput = true
				continue
			}
			if !haveMinOut || minOutTS.After(ts) {
				minOutTS = ts
				haveMinOut = true
			}
		}

		stale := haveMinOut && maxDepTS.After(minOutTS)
		if n.HasTask() && haveMaxDep && (missingOwnOutput || stale) {
			invalid[key] = n
			for _, o := range outputsOf[key] {
				timestamps[o] = graph.Absent
			}
		}
	}

	return &Result{Invalid: invalid, Timestamps: timestamps}, nil
}

// RemoveInvalid analyzes t and deletes the outputs of every invalid node,
// tagged with reason PredatesDependency.
func RemoveInvalid(t target.Target, filter outputremoval.Filter) (*Result, error) {
	result, err := Analyze(t)
	if err != nil {
		return nil, err
	}
	nodes := make([]*graph.Node, 0, len(result.Invalid))
	for _, n := range result.Invalid {
		nodes = append(nodes, n)
	}
	if err := outputremoval.Remove(nodes, outputremoval.PredatesDependency, filter); err != nil {
		return result, err
	}
	return result, nil
}
