// Package target implements non-empty subsets of a graph.Graph used as the
// scope for execution and output operations, including the startingFrom /
// stoppingAfter closure derivations described in the design (§4.2).
package target

import (
	"fmt"

	"github.com/tripflow/reflow/internal/graph"
)

// ValidationError reports an invalid target operation, such as referencing
// a node or key outside the parent target.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "target: " + e.Msg }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Target is a non-empty subset of a Graph's nodes, used as a scope for
// execution and output operations.
type Target interface {
	// Graph returns the parent graph this target is scoped within.
	Graph() *graph.Graph
	// Nodes returns the nodes in this target, keyed by key.
	Nodes() map[string]*graph.Node
	// Contains reports, in O(1), whether a node belongs to this target.
	Contains(n *graph.Node) bool
}

// Of returns the Target representing the whole graph.
func Of(g *graph.Graph) Target {
	return wholeGraph{g: g}
}

type wholeGraph struct {
	g *graph.Graph
}

func (w wholeGraph) Graph() *graph.Graph            { return w.g }
func (w wholeGraph) Nodes() map[string]*graph.Node  { return w.g.Nodes() }
func (w wholeGraph) Contains(n *graph.Node) bool {
	existing, ok := w.g.Nodes()[n.Key()]
	return ok && existing == n
}

// subset is a proper, non-empty subset of a graph's nodes.
type subset struct {
	g     *graph.Graph
	nodes map[string]*graph.Node
}

func (s *subset) Graph() *graph.Graph           { return s.g }
func (s *subset) Nodes() map[string]*graph.Node { return s.nodes }
func (s *subset) Contains(n *graph.Node) bool {
	existing, ok := s.nodes[n.Key()]
	return ok && existing == n
}

func (s *subset) String() string { return fmt.Sprintf("Target(%v)", keys(s.nodes)) }

func keys(m map[string]*graph.Node) []string {
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	return ks
}

// newSubset validates and builds a subset Target, returning the parent
// unchanged if the resulting node set equals it exactly (cheap identity
// optimization per §4.2).
func newSubset(parent Target, nodes map[string]*graph.Node) (Target, error) {
	if len(nodes) == 0 {
		return nil, validationErrorf("target must contain at least one node")
	}
	for _, n := range nodes {
		if !parent.Contains(n) {
			return nil, validationErrorf("node %q is not a member of the parent target", n.Key())
		}
	}
	if len(nodes) == len(parent.Nodes()) {
		return parent, nil
	}
	return &subset{g: parent.Graph(), nodes: nodes}, nil
}

// StartingFrom returns the target for the given nodes plus dependents,
// where dependents are computed over the subgraph induced by t rather than
// the full parent graph. Every node in nodes must belong to t.
func StartingFrom(t Target, nodes []*graph.Node) (Target, error) {
	return closure(t, nodes, func(n *graph.Node) map[string]*graph.Node { return n.Dependents() }, newSubset)
}

// StartingFromKeys is StartingFrom, resolving nodes from keys within t.
func StartingFromKeys(t Target, keys []string) (Target, error) {
	nodes, err := resolveKeys(t, keys)
	if err != nil {
		return nil, err
	}
	return StartingFrom(t, nodes)
}

// StoppingAfter returns the target for the given nodes plus dependencies,
// where dependencies are computed over the subgraph induced by t rather
// than the full parent graph. Every node in nodes must belong to t.
func StoppingAfter(t Target, nodes []*graph.Node) (Target, error) {
	return closure(t, nodes, func(n *graph.Node) map[string]*graph.Node { return n.Dependencies() }, newSubset)
}

// StoppingAfterKeys is StoppingAfter, resolving nodes from keys within t.
func StoppingAfterKeys(t Target, keys []string) (Target, error) {
	nodes, err := resolveKeys(t, keys)
	if err != nil {
		return nil, err
	}
	return StoppingAfter(t, nodes)
}

func resolveKeys(t Target, keys []string) ([]*graph.Node, error) {
	if len(keys) == 0 {
		return nil, validationErrorf("key list must not be empty")
	}
	nodes := make([]*graph.Node, 0, len(keys))
	for _, k := range keys {
		n, ok := t.Nodes()[k]
		if !ok {
			return nil, validationErrorf("key %q does not belong to the parent target", k)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// closure performs an iterative depth-first traversal from the given start
// nodes, expanding via neighborsFunc but restricting the neighbor set to
// members of t BEFORE expanding. This restriction is semantically
// required: a naive "traverse then filter" pulls in neighbors outside t
// (see the discontinuous-target scenario in the design doc).
func closure(t Target, startNodes []*graph.Node, neighborsFunc func(*graph.Node) map[string]*graph.Node,
	build func(Target, map[string]*graph.Node) (Target, error)) (Target, error) {

	if len(startNodes) == 0 {
		return nil, validationErrorf("node list must not be empty")
	}
	for _, n := range startNodes {
		if !t.Contains(n) {
			return nil, validationErrorf("node %q is not a member of the parent target", n.Key())
		}
	}

	seen := make(map[string]*graph.Node, len(startNodes))
	stack := make([]*graph.Node, 0, len(startNodes))
	stack = append(stack, startNodes...)

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[n.Key()]; ok {
			continue
		}
		seen[n.Key()] = n

		for _, neighbor := range neighborsFunc(n) {
			if !t.Contains(neighbor) {
				continue // restrict to the parent target before expanding
			}
			if _, ok := seen[neighbor.Key()]; !ok {
				stack = append(stack, neighbor)
			}
		}
	}

	return build(t, seen)
}
