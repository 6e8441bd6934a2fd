package execution

import "github.com/tripflow/reflow/internal/scheduler"

// NodeState is a node's position in the execution state machine (§4.6).
type NodeState int

const (
	// Irrelevant is the implicit state of any node outside the execution's
	// target: it is treated as already satisfied for dependency purposes
	// without ever being tracked explicitly.
	Irrelevant NodeState = iota
	// NotReady means at least one dependency has not yet succeeded.
	NotReady
	// Ready means every dependency is satisfied but the node has not been
	// submitted to the scheduler yet. Live dispatch moves a node straight
	// from NotReady to Scheduled; Ready is only observed transiently, or
	// after Thaw downgrades a token-less Scheduled node.
	Ready
	// Scheduled means the node has been submitted and is awaiting a
	// completion report.
	Scheduled
	// Succeeded means the node's task completed without error (or, for a
	// structure node, that it was reached and has nothing to run).
	Succeeded
	// Failed means the node's task reported an error, or the scheduler
	// could not run it at all.
	Failed
)

func (s NodeState) String() string {
	switch s {
	case Irrelevant:
		return "IRRELEVANT"
	case NotReady:
		return "NOT_READY"
	case Ready:
		return "READY"
	case Scheduled:
		return "SCHEDULED"
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// SatisfiesDependency reports whether a dependent may treat a node in this
// state as done.
func (s NodeState) SatisfiesDependency() bool {
	return s == Succeeded || s == Irrelevant
}

// NodeStatus is the state of a single tracked node plus, when Scheduled,
// the token its submission was given.
type NodeStatus struct {
	State NodeState
	Token scheduler.Token
}

// ExecutionState is the lifecycle state of an Execution as a whole.
type ExecutionState int

const (
	// Idle: constructed but Run has not been called yet.
	Idle ExecutionState = iota
	// Running: Run is actively dispatching and awaiting completions.
	Running
	// Shutdown: Run has returned, or Shutdown was called; no further
	// dispatch will happen.
	Shutdown
)

func (s ExecutionState) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Running:
		return "RUNNING"
	case Shutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}
