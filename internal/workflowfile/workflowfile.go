// Package workflowfile loads a graph.Graph from a JSON document naming
// shell-command nodes, the declarative format both cmd/reflow and
// cmd/reflow-server accept. It is a thin convenience layer over graph and
// fileoutput: nothing in the engine core depends on it.
package workflowfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/tripflow/reflow/internal/fileoutput"
	"github.com/tripflow/reflow/internal/graph"
)

// Node describes one node of a Definition.
type Node struct {
	// Key is the node's identifier, referenced by other nodes' Dependencies.
	Key string `json:"key"`
	// Command, if non-empty, is run through "sh -c" when the node executes.
	// A node with no Command and no Outputs becomes a fileoutput.NoOp task.
	Command string `json:"command,omitempty"`
	// Outputs lists the file paths the Command is expected to produce.
	Outputs []string `json:"outputs,omitempty"`
	// Dependencies lists the Keys of nodes that must succeed first.
	Dependencies []string `json:"dependencies,omitempty"`
	// Dir, if set, is the working directory Command runs in.
	Dir string `json:"dir,omitempty"`
}

// Definition is the top-level document: a collection of Nodes.
type Definition struct {
	Nodes []Node `json:"nodes"`
}

// Load reads and parses a Definition from path.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflowfile: reading %s: %w", path, err)
	}
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("workflowfile: parsing %s: %w", path, err)
	}
	if len(def.Nodes) == 0 {
		return nil, fmt.Errorf("workflowfile: %s defines no nodes", path)
	}
	return &def, nil
}

// Build constructs a graph.Graph from a Definition. Every node becomes a
// fileoutput.Task (or fileoutput.NoOp for a node with neither a command nor
// declared outputs), wired to its dependencies by key.
func Build(def *Definition) (*graph.Graph, error) {
	builders := make(map[string]*graph.Builder, len(def.Nodes))
	order := make([]*Node, len(def.Nodes))

	for i := range def.Nodes {
		n := &def.Nodes[i]
		order[i] = n
		if n.Key == "" {
			return nil, fmt.Errorf("workflowfile: node at index %d has no key", i)
		}
		if _, dup := builders[n.Key]; dup {
			return nil, fmt.Errorf("workflowfile: duplicate node key %q", n.Key)
		}
		builders[n.Key] = &graph.Builder{
			Key:  n.Key,
			Task: taskFor(n),
		}
	}

	all := make([]*graph.Builder, 0, len(order))
	for _, n := range order {
		b := builders[n.Key]
		for _, depKey := range n.Dependencies {
			dep, ok := builders[depKey]
			if !ok {
				return nil, fmt.Errorf("workflowfile: node %q depends on unknown key %q", n.Key, depKey)
			}
			b.Dependencies = append(b.Dependencies, dep)
		}
		all = append(all, b)
	}

	g, err := graph.Create(all)
	if err != nil {
		return nil, fmt.Errorf("workflowfile: building graph: %w", err)
	}
	return g, nil
}

func taskFor(n *Node) graph.Task {
	if n.Command == "" && len(n.Outputs) == 0 {
		return fileoutput.NoOp{}
	}
	command, dir := n.Command, n.Dir
	return fileoutput.Task{
		Paths: n.Outputs,
		Work: func(ctx context.Context) error {
			if command == "" {
				return nil
			}
			cmd := exec.CommandContext(ctx, "sh", "-c", command)
			cmd.Dir = dir
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			if err := cmd.Run(); err != nil {
				return fmt.Errorf("workflowfile: command for %q: %w", n.Key, err)
			}
			return nil
		},
	}
}
