// Package graph implements the immutable directed acyclic graph of tasks
// that the execution engine runs. A Graph is built once from a collection
// of Builders and is safe to share across many concurrent Executions.
package graph

import (
	"fmt"
	"regexp"

	"github.com/gammazero/toposort"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9_-]{0,254}[A-Za-z0-9])?$`)

// Task is an opaque unit of work supplied by the caller. Outputs must be
// stable across calls: two invocations must describe the same outputs.
type Task interface {
	Outputs() []Output
}

// Output is an opaque external artifact produced by a Task.
type Output interface {
	// Timestamp returns the output's last-modified instant, or ok=false if
	// the output does not currently exist.
	Timestamp() (t Timestamp, ok bool, err error)
	// Delete removes the output. Idempotent: deleting an output that does
	// not exist is not an error.
	Delete() error
}

// Node is a member of a Graph: either a TaskNode (carries a Task) or a
// StructureNode (a pure dependency linker with no work of its own).
//
// Node is a tagged struct rather than an interface hierarchy -- the two
// variants differ only in whether Task is nil, and nothing about a Node's
// identity or graph wiring depends on which variant it is.
type Node struct {
	key          string
	task         Task
	dependencies map[string]*Node
	dependents   map[string]*Node
}

// Key returns the node's stable identifier within its Graph.
func (n *Node) Key() string { return n.key }

// HasTask reports whether this is a TaskNode.
func (n *Node) HasTask() bool { return n.task != nil }

// Task returns the node's associated task, or nil for a StructureNode.
func (n *Node) Task() Task { return n.task }

// Dependencies returns the set of nodes this node depends on, keyed by key.
func (n *Node) Dependencies() map[string]*Node { return n.dependencies }

// Dependents returns the set of nodes that depend on this node, keyed by
// key. This is an inverse relation computed once at Graph construction; it
// is never an ownership edge and is not serialized (see snapshot package).
func (n *Node) Dependents() map[string]*Node { return n.dependents }

func (n *Node) String() string {
	if n.HasTask() {
		return fmt.Sprintf("TaskNode(%s)", n.key)
	}
	return fmt.Sprintf("StructureNode(%s)", n.key)
}

// Builder describes one node to be constructed by Create. Builders are
// compared by identity (pointer equality): the same *Builder value must not
// appear twice in the input collection, and a Builder named as a dependency
// must be present in that same collection.
type Builder struct {
	// Key, if non-empty, is used as the node's key. It must match
	// keyPattern. If empty, Create assigns a fresh identifier.
	Key string

	// Task is required for a TaskNode builder and must be nil for a
	// StructureNode builder.
	Task Task

	// Dependencies lists the builders this node depends on. Every entry
	// must also appear in the collection passed to Create.
	Dependencies []*Builder
}

// ConstructionError reports a problem building a Graph.
type ConstructionError struct {
	Msg string
}

func (e *ConstructionError) Error() string { return "graph: " + e.Msg }

func constructionErrorf(format string, args ...any) error {
	return &ConstructionError{Msg: fmt.Sprintf(format, args...)}
}

// Graph is an immutable DAG of nodes. It is constructed once via Create and
// is safe for concurrent use thereafter.
type Graph struct {
	nodes map[string]*Node // all nodes, keyed
	order []*Node          // topological order, dependency-free nodes first
}

// Create builds a Graph from a collection of builders. See §4.1 of the
// design: keys are assigned, nodes instantiated, dependency/dependent edges
// wired, and the result is topologically sorted. Create fails on an empty
// collection, a repeated builder, a repeated or malformed key, a missing
// referenced dependency, or a cycle (including self-loops).
func Create(builders []*Builder) (*Graph, error) {
	if len(builders) == 0 {
		return nil, constructionErrorf("input collection is empty")
	}

	seen := make(map[*Builder]bool, len(builders))
	for _, b := range builders {
		if seen[b] {
			return nil, constructionErrorf("input collection contains a repeated element")
		}
		seen[b] = true
	}

	keys, err := assignKeys(builders)
	if err != nil {
		return nil, err
	}

	nodes := make(map[*Builder]*Node, len(builders))
	byKey := make(map[string]*Node, len(builders))
	for _, b := range builders {
		key := keys[b]
		n := &Node{key: key, task: b.Task}
		nodes[b] = n
		byKey[key] = n
	}

	// Wire dependencies, validating that every referenced builder is part
	// of this same collection.
	for _, b := range builders {
		n := nodes[b]
		deps := make(map[string]*Node, len(b.Dependencies))
		for _, depBuilder := range b.Dependencies {
			depNode, ok := nodes[depBuilder]
			if !ok {
				return nil, constructionErrorf("input collection is incomplete: missing builder referenced as a dependency of %q", n.key)
			}
			deps[depNode.key] = depNode
		}
		n.dependencies = deps
	}

	// Compute dependents as the exact inverse of dependencies.
	dependents := make(map[string]map[string]*Node, len(builders))
	for _, n := range byKey {
		for _, dep := range n.dependencies {
			if dependents[dep.key] == nil {
				dependents[dep.key] = make(map[string]*Node)
			}
			dependents[dep.key][n.key] = n
		}
	}
	for _, n := range byKey {
		if d := dependents[n.key]; d != nil {
			n.dependents = d
		} else {
			n.dependents = map[string]*Node{}
		}
	}

	order, err := topologicalSort(byKey)
	if err != nil {
		return nil, err
	}

	return &Graph{nodes: byKey, order: order}, nil
}

// assignKeys validates supplied keys and assigns fresh hex identifiers to
// builders that did not supply one, ensuring no collisions either way.
func assignKeys(builders []*Builder) (map[*Builder]string, error) {
	used := make(map[string]bool, len(builders))
	result := make(map[*Builder]string, len(builders))

	for _, b := range builders {
		if b.Key == "" {
			continue
		}
		if !keyPattern.MatchString(b.Key) {
			return nil, constructionErrorf("invalid key %q: must match %s", b.Key, keyPattern.String())
		}
		if used[b.Key] {
			return nil, constructionErrorf("duplicate key %q", b.Key)
		}
		used[b.Key] = true
		result[b] = b.Key
	}

	next := 0
	for _, b := range builders {
		if b.Key != "" {
			continue
		}
		var candidate string
		for {
			candidate = fmt.Sprintf("%08x", next)
			next++
			if !used[candidate] {
				break
			}
		}
		used[candidate] = true
		result[b] = candidate
	}

	return result, nil
}

// topologicalSort runs an iterative topological sort over the node set,
// detecting cycles via github.com/gammazero/toposort -- the same library
// used for DAG ordering across this codebase's lineage.
func topologicalSort(nodes map[string]*Node) ([]*Node, error) {
	var edges []toposort.Edge
	for key, n := range nodes {
		if len(n.dependencies) == 0 {
			edges = append(edges, toposort.Edge{nil, key})
			continue
		}
		for depKey := range n.dependencies {
			edges = append(edges, toposort.Edge{depKey, key})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, constructionErrorf("graph contains a cycle: %v", err)
	}

	order := make([]*Node, 0, len(nodes))
	for _, id := range sorted {
		if id == nil {
			continue
		}
		key, ok := id.(string)
		if !ok {
			continue
		}
		order = append(order, nodes[key])
	}

	if len(order) != len(nodes) {
		return nil, constructionErrorf("topological sort lost nodes: expected %d, got %d (disconnected or malformed graph)", len(nodes), len(order))
	}

	return order, nil
}

// Nodes returns all nodes in the graph, keyed by key. The returned map must
// not be mutated.
func (g *Graph) Nodes() map[string]*Node { return g.nodes }

// Order returns the nodes in topological order (dependency-free first).
func (g *Graph) Order() []*Node { return g.order }

// Node looks up a node by key.
func (g *Graph) Node(key string) (*Node, bool) {
	n, ok := g.nodes[key]
	return n, ok
}

// NodeSet returns the set of all node keys, as a Target would expose it.
func (g *Graph) NodeSet() map[string]*Node { return g.nodes }
