// Package outputremoval deletes the outputs of a collection of nodes,
// tagged with a reason, optionally filtered by a caller-supplied hook
// (§4.4 of the design).
package outputremoval

import (
	"errors"
	"fmt"

	"github.com/tripflow/reflow/internal/graph"
)

// Reason explains why a node's outputs are being removed.
type Reason int

const (
	// ExecutionFailed: the node's task failed and its partial output is
	// being cleaned up.
	ExecutionFailed Reason = iota
	// RerunRequested: a Strategy asked for the node to run again, discarding
	// its current result.
	RerunRequested
	// RemovalRequested: a caller explicitly asked for output removal.
	RemovalRequested
	// PredatesDependency: the freshness analyzer found the output older
	// than one of its dependencies' outputs.
	PredatesDependency
)

func (r Reason) String() string {
	switch r {
	case ExecutionFailed:
		return "execution-failed"
	case RerunRequested:
		return "rerun-requested"
	case RemovalRequested:
		return "removal-requested"
	case PredatesDependency:
		return "predates-dependency"
	default:
		return "unknown"
	}
}

// Filter is an optional hook invoked once per removal batch. It may mutate
// outputs to drop entries that should be preserved. Implementations are
// not required to be thread-safe; Remove calls it at most once.
type Filter func(outputs map[string][]graph.Output, reason Reason)

// Remove deletes the outputs of the given nodes, tagged with reason. If
// filter is non-nil, it is consulted first and may drop some outputs from
// deletion. A single failing deletion does not prevent attempting the
// rest; all errors are joined via errors.Join.
func Remove(nodes []*graph.Node, reason Reason, filter Filter) error {
	if len(nodes) == 0 {
		return nil
	}

	outputs := make(map[string][]graph.Output, len(nodes))
	for _, n := range nodes {
		if !n.HasTask() {
			continue
		}
		outputs[n.Key()] = n.Task().Outputs()
	}
	if len(outputs) == 0 {
		return nil
	}

	if filter != nil {
		filter(outputs, reason)
	}

	var errs []error
	for key, outs := range outputs {
		for _, o := range outs {
			if err := o.Delete(); err != nil {
				errs = append(errs, fmt.Errorf("deleting output of node %q (%s): %w", key, reason, err))
			}
		}
	}
	return errors.Join(errs...)
}
