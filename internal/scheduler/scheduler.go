// Package scheduler defines the collaborator interface the execution
// driver delegates actual task running to, plus the token and callback
// types that connect a running task back to its completion (§6.1/§6.2 of
// the design). Concrete implementations live in localscheduler.
package scheduler

import (
	"context"
	"errors"

	"github.com/tripflow/reflow/internal/graph"
)

// Token identifies one in-flight submission. It is returned by Submit and
// later handed to a TaskCompletionCallback to report that submission's
// outcome, or passed back into RegisterCallback to reattach a callback to
// a submission made earlier.
type Token interface {
	String() string
}

// stringToken reconstructs a Token from its serialized form. A Token's
// only contractual capability is String, so any string a scheduler once
// produced is a legal Token to hand back to that same scheduler.
type stringToken string

func (t stringToken) String() string { return string(t) }

// TokenFromString reconstructs a Token from a previously-serialized
// Token.String() value, for reattaching a callback after a freeze/thaw
// round trip.
func TokenFromString(s string) Token { return stringToken(s) }

// ErrInvalidToken is returned by RegisterCallback when a token does not
// correspond to a submission the scheduler recognizes -- most commonly
// because the token was issued by a different scheduler instance. Tokens
// are scheduler-scoped, not portable, unless a particular implementation
// documents otherwise.
var ErrInvalidToken = errors.New("scheduler: invalid token")

// TaskCompletionCallback is notified exactly once per submitted token,
// whichever of Succeeded/Failed happens first. Implementations must be
// safe to call from any goroutine and must not block for long, since the
// scheduler may invoke it synchronously from within Submit or
// RegisterCallback.
type TaskCompletionCallback interface {
	// Succeeded reports that the task submitted under token finished
	// without error.
	Succeeded(token Token)
	// Failed reports that the task submitted under token finished with
	// err, or that the scheduler could not run it at all.
	Failed(token Token, err error)
}

// TaskScheduler runs a graph.Task's work asynchronously and reports its
// outcome through a TaskCompletionCallback. Implementations may run work
// in-process, in a worker pool, or dispatch it to an external system; the
// execution driver only depends on this interface.
type TaskScheduler interface {
	// Submit schedules task for execution under cb and returns a token
	// identifying the submission. ctx governs the scheduling attempt
	// itself; a scheduler is free to run the task under a different,
	// longer-lived context. Submit may invoke cb synchronously, before
	// returning, if the scheduler can determine the outcome immediately
	// (for example because a worker slot was free and the scheduler
	// supports inline dispatch); in that case the returned token may be
	// nil, since cb has already fired.
	Submit(ctx context.Context, key string, task graph.Task, cb TaskCompletionCallback) (Token, error)

	// RegisterCallback attaches cb to a token issued by an earlier Submit
	// call on this same scheduler instance. If the task has already
	// completed, the relevant callback method fires before RegisterCallback
	// returns. Returns ErrInvalidToken if the scheduler does not recognize
	// token -- in particular, a token produced by a different scheduler
	// instance is always unknown unless that implementation documents
	// token portability.
	RegisterCallback(token Token, cb TaskCompletionCallback) error

	// Shutdown stops accepting new submissions and waits for in-flight
	// work to finish or ctx to be done, whichever comes first.
	Shutdown(ctx context.Context) error
}
