// Package execution drives the concurrent re-execution of a target: it
// submits eligible nodes to a scheduler.TaskScheduler, tracks each node's
// progress, and propagates readiness to dependents as their dependencies
// finish (§4.6 of the design).
package execution

import (
	"context"
	"fmt"
	"sync"

	"github.com/tripflow/reflow/internal/freshness"
	"github.com/tripflow/reflow/internal/graph"
	"github.com/tripflow/reflow/internal/outputremoval"
	"github.com/tripflow/reflow/internal/scheduler"
	"github.com/tripflow/reflow/internal/snapshot"
	"github.com/tripflow/reflow/internal/target"
)

// Option configures an Execution at construction time.
type Option func(*Execution)

// WithStrategy installs a custom Strategy in place of DefaultStrategy.
func WithStrategy(s Strategy) Option {
	return func(e *Execution) { e.strategy = s }
}

// WithOutputFilter installs a Filter consulted before a failed node's
// outputs are deleted.
func WithOutputFilter(f outputremoval.Filter) Option {
	return func(e *Execution) { e.filter = f }
}

type completionMsg struct {
	key string
	err error
}

// Execution drives one run of a target to completion (or failure). It is
// safe for State, Statuses, and Shutdown to be called from any goroutine
// while Run is in progress; Run itself must only be called once.
type Execution struct {
	mu       sync.Mutex
	t        target.Target
	sched    scheduler.TaskScheduler
	strategy Strategy
	filter   outputremoval.Filter

	statuses map[string]*NodeStatus

	state   ExecutionState
	halting bool
	pending int
	errs    []error

	completions chan completionMsg
}

// New constructs an Execution that (re)runs every task-bearing node in t,
// ignoring output freshness.
func New(t target.Target, sched scheduler.TaskScheduler, opts ...Option) (*Execution, error) {
	return newExecution(t, sched, nil, opts...)
}

// NewSkipFresh constructs an Execution that only runs nodes freshness.Analyze
// finds invalid within t; every other task-bearing node starts Succeeded.
func NewSkipFresh(t target.Target, sched scheduler.TaskScheduler, opts ...Option) (*Execution, error) {
	result, err := freshness.Analyze(t)
	if err != nil {
		return nil, fmt.Errorf("execution: analyzing freshness: %w", err)
	}
	return newExecution(t, sched, result.Invalid, opts...)
}

func newExecution(t target.Target, sched scheduler.TaskScheduler, invalid map[string]*graph.Node, opts ...Option) (*Execution, error) {
	if t == nil {
		return nil, fmt.Errorf("execution: target must not be nil")
	}
	if sched == nil {
		return nil, fmt.Errorf("execution: scheduler must not be nil")
	}

	e := &Execution{
		t:           t,
		sched:       sched,
		strategy:    defaultStrategy,
		statuses:    make(map[string]*NodeStatus, len(t.Nodes())),
		completions: make(chan completionMsg, len(t.Nodes())+1),
	}
	for _, opt := range opts {
		opt(e)
	}

	for key, n := range t.Nodes() {
		switch {
		case !n.HasTask():
			e.statuses[key] = &NodeStatus{State: NotReady}
		case invalid == nil:
			e.statuses[key] = &NodeStatus{State: NotReady}
		default:
			if _, stale := invalid[key]; stale {
				e.statuses[key] = &NodeStatus{State: NotReady}
			} else {
				e.statuses[key] = &NodeStatus{State: Succeeded}
			}
		}
	}
	return e, nil
}

// Thaw rebuilds an Execution from a previously frozen snapshot, restoring
// each node's recorded state. A node recorded as SCHEDULED without a token
// was frozen mid-submission and downgrades to Ready so it is resubmitted
// as new work. A node recorded as SCHEDULED with a token instead attempts
// to reattach a completion callback to that token on sched (§4.5(b)); if
// sched rejects the token -- the case for any scheduler whose tokens do
// not survive the round trip to a new instance -- Thaw fails outright
// rather than silently resubmitting an in-flight task.
func Thaw(frozen *snapshot.FrozenExecution, t target.Target, sched scheduler.TaskScheduler, opts ...Option) (*Execution, error) {
	if frozen == nil {
		return nil, fmt.Errorf("execution: frozen snapshot must not be nil")
	}
	e, err := newExecution(t, sched, nil, opts...)
	if err != nil {
		return nil, err
	}

	for key, snap := range frozen.Statuses {
		st, ok := e.statuses[key]
		if !ok {
			return nil, fmt.Errorf("execution: snapshot references key %q not present in target", key)
		}
		switch snap.State {
		case "NOT_READY":
			st.State = NotReady
		case "READY":
			st.State = Ready
		case "SCHEDULED":
			if snap.Token == "" {
				st.State = Ready
				continue
			}
			tok := scheduler.TokenFromString(snap.Token)
			if err := sched.RegisterCallback(tok, nodeCallback{e: e, key: key}); err != nil {
				return nil, fmt.Errorf("execution: reattaching callback for %q (token %s): %w", key, snap.Token, err)
			}
			st.State = Scheduled
			st.Token = tok
			e.pending++
		case "SUCCEEDED":
			st.State = Succeeded
		case "FAILED":
			st.State = Failed
		default:
			return nil, fmt.Errorf("execution: snapshot for %q has unknown state %q", key, snap.State)
		}
	}
	return e, nil
}

// State reports the current lifecycle state.
func (e *Execution) State() ExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Statuses returns a snapshot copy of every tracked node's status.
func (e *Execution) Statuses() map[string]NodeStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]NodeStatus, len(e.statuses))
	for k, v := range e.statuses {
		out[k] = *v
	}
	return out
}

// Run dispatches eligible nodes and blocks until every node in the target
// reaches a terminal state (Succeeded or Failed), ctx is done, or a
// Strategy halts dispatch following a failure. It returns an
// *AggregateError wrapping every TaskFailureError/OutputIOError/
// UnexpectedError/InterruptedError observed, or nil if every node
// succeeded.
func (e *Execution) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.state != Idle {
		e.mu.Unlock()
		return fmt.Errorf("execution: Run called in state %s", e.state)
	}
	e.state = Running
	e.mu.Unlock()

	e.dispatch(ctx)

	for {
		e.mu.Lock()
		remaining := e.pending
		e.mu.Unlock()
		if remaining == 0 {
			break
		}
		select {
		case <-ctx.Done():
			e.mu.Lock()
			e.errs = append(e.errs, &InterruptedError{Err: ctx.Err()})
			e.mu.Unlock()
			goto done
		case msg := <-e.completions:
			e.handleCompletion(ctx, msg)
		}
	}
done:
	e.mu.Lock()
	e.state = Shutdown
	errs := append([]error(nil), e.errs...)
	e.mu.Unlock()

	if len(errs) == 0 {
		return nil
	}
	return &AggregateError{Errs: errs}
}

// Shutdown stops dispatching further nodes. Nodes already submitted are
// left to finish on their own; Run returns once they do, or once ctx
// passed to Run is done.
func (e *Execution) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.halting = true
	if e.state == Running {
		e.state = Shutdown
	}
	e.mu.Unlock()
	return e.sched.Shutdown(ctx)
}

// Freeze produces an immutable snapshot of the execution's current
// bookkeeping, suitable for persisting and later resuming via Thaw.
func (e *Execution) Freeze() (*snapshot.FrozenExecution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	f := &snapshot.FrozenExecution{
		TargetKeys: make([]string, 0, len(e.statuses)),
		Statuses:   make(map[string]snapshot.NodeSnapshot, len(e.statuses)),
	}
	for key, st := range e.statuses {
		f.TargetKeys = append(f.TargetKeys, key)
		state := st.State
		token := ""
		if state == Scheduled {
			if st.Token == nil {
				// Frozen mid-submission: never serialize a structure or
				// task node as SCHEDULED without a token.
				state = Ready
			} else {
				token = st.Token.String()
			}
		}
		f.Statuses[key] = snapshot.NodeSnapshot{State: state.String(), Token: token}
	}
	for _, err := range e.errs {
		f.Errs = append(f.Errs, err.Error())
	}
	return f, nil
}

// nodeCallback adapts one submitted node back into Execution's completion
// channel. It already knows the key it was submitted under, since Submit
// takes it as a per-call argument rather than Execution registering one
// global sink, so -- unlike a token-keyed callback -- no token -> key
// lookup is needed once a report arrives.
type nodeCallback struct {
	e   *Execution
	key string
}

func (c nodeCallback) Succeeded(scheduler.Token) {
	c.e.completions <- completionMsg{key: c.key}
}

func (c nodeCallback) Failed(_ scheduler.Token, err error) {
	c.e.completions <- completionMsg{key: c.key, err: err}
}

func (e *Execution) handleCompletion(ctx context.Context, msg completionMsg) {
	e.mu.Lock()
	st, ok := e.statuses[msg.key]
	if !ok || st.State != Scheduled {
		e.mu.Unlock()
		return // stale report, or already resolved: first-report-wins
	}

	behavior := e.strategy.AfterTask(TaskResult{Key: msg.key, Err: msg.err})

	var outputReason outputremoval.Reason
	removeOutputs := false
	switch behavior {
	case ForceSuccess:
		st.State = Succeeded
	case ForceFailure:
		st.State = Failed
		forcedErr := msg.err
		if forcedErr == nil {
			forcedErr = fmt.Errorf("execution: task %q forced to fail by strategy", msg.key)
		}
		e.errs = append(e.errs, &TaskFailureError{Key: msg.key, Err: forcedErr})
		outputReason, removeOutputs = outputremoval.ExecutionFailed, true
	case Rerun:
		st.State = Ready
		st.Token = nil
		outputReason, removeOutputs = outputremoval.RerunRequested, true
	case Halt, Continue, Default:
		if msg.err != nil {
			st.State = Failed
			e.errs = append(e.errs, &TaskFailureError{Key: msg.key, Err: msg.err})
			outputReason, removeOutputs = outputremoval.ExecutionFailed, true
		} else {
			st.State = Succeeded
		}
		if behavior == Halt {
			e.halting = true
		}
	}
	e.pending--
	node := e.t.Nodes()[msg.key]
	e.mu.Unlock()

	if removeOutputs && e.strategy.BeforeOutputRemoval(msg.key, outputReason) {
		if err := outputremoval.Remove([]*graph.Node{node}, outputReason, e.filter); err != nil {
			e.mu.Lock()
			e.errs = append(e.errs, &OutputIOError{Key: msg.key, Err: err})
			e.mu.Unlock()
		}
	}

	e.mu.Lock()
	halting := e.halting
	e.mu.Unlock()
	if !halting {
		e.dispatch(ctx)
	}
}

// dispatch scans the target to a fixed point, moving every node whose
// dependencies are now satisfied into Succeeded (structure nodes) or
// Scheduled (task nodes), then submits the latter to the scheduler with
// the lock released so a scheduler invoking its callback synchronously
// cannot deadlock against this goroutine.
func (e *Execution) dispatch(ctx context.Context) {
	e.mu.Lock()
	if e.halting {
		e.mu.Unlock()
		return
	}

	var toSubmit []*graph.Node
	var newlyReady []string
	changed := true
	for changed {
		changed = false
		for key, n := range e.t.Nodes() {
			st := e.statuses[key]
			if st.State != NotReady && st.State != Ready {
				continue
			}
			if !e.depsSatisfiedLocked(n) {
				continue
			}
			newlyReady = append(newlyReady, key)
			if !n.HasTask() {
				st.State = Succeeded
				changed = true
				continue
			}
			st.State = Scheduled
			e.pending++
			toSubmit = append(toSubmit, n)
			changed = true
		}
	}
	e.mu.Unlock()

	for _, key := range newlyReady {
		e.strategy.BeforeNode(key)
	}

	for _, n := range toSubmit {
		key := n.Key()
		token, err := e.sched.Submit(ctx, key, n.Task(), nodeCallback{e: e, key: key})
		if err != nil {
			e.handleSubmitError(key, err)
			continue
		}
		e.mu.Lock()
		if st, ok := e.statuses[key]; ok && st.State == Scheduled {
			st.Token = token
		}
		e.mu.Unlock()
	}
}

// handleSubmitError records a scheduler.Submit failure and consults
// strategy.AfterTask the same way handleCompletion does for a reported
// task failure, so a scheduler unable to even accept a node's work halts
// further dispatch under the same policy as the node actually failing.
// ForceSuccess/Rerun are left to handleCompletion: those behaviors need a
// node that genuinely entered Scheduled and can be resubmitted through
// the normal dispatch path, which a node that never left this call never
// does.
func (e *Execution) handleSubmitError(key string, submitErr error) {
	e.mu.Lock()
	e.errs = append(e.errs, &UnexpectedError{Key: key, Err: submitErr})
	e.pending--
	if st, ok := e.statuses[key]; ok {
		st.State = Failed
	}
	e.mu.Unlock()

	if e.strategy.AfterTask(TaskResult{Key: key, Err: submitErr}) == Halt {
		e.mu.Lock()
		e.halting = true
		e.mu.Unlock()
	}
}

// depsSatisfiedLocked must be called with e.mu held.
func (e *Execution) depsSatisfiedLocked(n *graph.Node) bool {
	for depKey := range n.Dependencies() {
		st, tracked := e.statuses[depKey]
		if !tracked {
			continue // outside the target: Irrelevant, trivially satisfied
		}
		if !st.State.SatisfiesDependency() {
			return false
		}
	}
	return true
}
