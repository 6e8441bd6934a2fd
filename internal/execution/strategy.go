package execution

import "github.com/tripflow/reflow/internal/outputremoval"

// TaskCompletionBehavior tells the driver how to proceed after a Strategy
// has observed a task-bearing node finish running.
type TaskCompletionBehavior int

const (
	// Default: continue dispatching dependents if and only if the task
	// succeeded.
	Default TaskCompletionBehavior = iota
	// ForceSuccess: treat the node as having succeeded regardless of the
	// task's actual outcome; its dependents become eligible to run.
	ForceSuccess
	// ForceFailure: treat the node as having failed regardless of the
	// task's actual outcome.
	ForceFailure
	// Continue: record the task's actual outcome, but never halt dispatch
	// of independent nodes because of it, even on failure.
	Continue
	// Halt: stop dispatching further nodes, even if the task succeeded.
	// Nodes already submitted are left to finish.
	Halt
	// Rerun: discard the task's result and submit it again.
	Rerun
)

func (b TaskCompletionBehavior) String() string {
	switch b {
	case Default:
		return "default"
	case ForceSuccess:
		return "force-success"
	case ForceFailure:
		return "force-failure"
	case Continue:
		return "continue"
	case Halt:
		return "halt"
	case Rerun:
		return "rerun"
	default:
		return "unknown"
	}
}

// TaskResult describes one task-bearing node's completed submission, as
// reported to Strategy.AfterTask.
type TaskResult struct {
	Key string
	Err error
}

// Strategy customizes how an Execution reacts to a node becoming eligible
// to run and to a task finishing, generalizing the fixed
// shutdown-on-any-failure behavior into a set of pluggable hooks.
type Strategy interface {
	// BeforeNode is called once a node's dependencies are all satisfied,
	// after it has been marked Scheduled (task nodes) or Succeeded
	// (structure nodes) and before a task node is submitted.
	BeforeNode(key string)

	// AfterTask is called once a task-bearing node's submission has been
	// reported as finished, whether it succeeded or failed. The returned
	// TaskCompletionBehavior tells the driver how to proceed.
	AfterTask(result TaskResult) TaskCompletionBehavior

	// BeforeOutputRemoval is consulted before a task-bearing node's
	// outputs are deleted for reason. Output is only removed if this
	// returns true.
	BeforeOutputRemoval(key string, reason outputremoval.Reason) bool
}

// DefaultStrategy reproduces the baseline behavior: any task failure
// halts dispatch of further nodes, though nodes already scheduled are
// still allowed to finish; ShutdownOnFailure=false instead lets
// independent branches keep running after a failure.
type DefaultStrategy struct {
	ShutdownOnFailure bool
}

func (s DefaultStrategy) BeforeNode(string) {}

func (s DefaultStrategy) AfterTask(result TaskResult) TaskCompletionBehavior {
	if result.Err == nil {
		return Default
	}
	if s.ShutdownOnFailure {
		return Halt
	}
	return Continue
}

func (s DefaultStrategy) BeforeOutputRemoval(string, outputremoval.Reason) bool { return true }

var defaultStrategy = DefaultStrategy{ShutdownOnFailure: true}
