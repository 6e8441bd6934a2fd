// Package localscheduler is a TaskScheduler that runs tasks in-process,
// under bounded concurrency, with circuit-breaker and retry protection
// around each run (§6.1 of the design, grounded on the teacher's resilience
// and parallel-runner collaborators).
package localscheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/tripflow/reflow/internal/graph"
	"github.com/tripflow/reflow/internal/scheduler"
)

// Runnable is the domain-specific capability a graph.Task must carry for
// localscheduler to actually execute it; graph.Task itself only exposes
// Outputs, since the core engine never needs to know how a task runs.
type Runnable interface {
	Run(ctx context.Context) error
}

// RetryConfig configures the exponential backoff applied around each run.
type RetryConfig struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	MaxElapsedTime      time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultRetryConfig mirrors the conservative defaults used elsewhere in
// this codebase for retrying flaky external operations.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithConcurrency bounds how many Runnables may execute at once. Default 4.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithRetryConfig overrides DefaultRetryConfig.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(s *Scheduler) { s.retry = cfg }
}

// WithSynchronousDispatch opts into inline dispatch: Submit runs task on
// the calling goroutine, invoking cb before returning, whenever a worker
// slot is immediately available instead of queuing behind the pool. This
// exercises the §6.1 contract that Submit's token may be nil once cb has
// already fired. Submissions that find every slot busy still fall back to
// the ordinary pooled, asynchronous path.
func WithSynchronousDispatch() Option {
	return func(s *Scheduler) { s.synchronous = true }
}

// token identifies one submission. Its string form is a UUID so it is
// stable across a freeze/thaw round trip even though the in-process
// Scheduler producing it never survives that round trip itself.
type token struct{ id uuid.UUID }

func (t token) String() string { return t.id.String() }

func newToken() token { return token{id: uuid.New()} }

// submission tracks one token's outcome so RegisterCallback can replay it
// to a reattaching callback, or attach one to still-pending work.
type submission struct {
	done   bool
	failed bool
	err    error
	extra  []scheduler.TaskCompletionCallback
}

// Scheduler runs graph.Tasks that also implement Runnable, each through a
// dedicated circuit breaker keyed by the task's concrete Go type, retried
// with exponential backoff until it succeeds, is permanently rejected, or
// ctx is done.
type Scheduler struct {
	mu          sync.Mutex
	breakers    map[string]*gobreaker.CircuitBreaker
	retry       RetryConfig
	group       *errgroup.Group
	sem         chan struct{}
	limit       int
	synchronous bool
	closed      bool
	submissions map[string]*submission
}

// New constructs a Scheduler with a concurrency limit of 4 unless
// overridden by WithConcurrency.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
		retry:       DefaultRetryConfig(),
		group:       &errgroup.Group{},
		limit:       4,
		submissions: make(map[string]*submission),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sem = make(chan struct{}, s.limit)
	return s
}

// RegisterCallback attaches cb to a token issued by an earlier Submit call
// on this Scheduler. A fresh Scheduler (as built after a freeze/thaw round
// trip) never recognizes a token minted by the instance it replaced, since
// this implementation does not make tokens portable across instances.
func (s *Scheduler) RegisterCallback(tok scheduler.Token, cb scheduler.TaskCompletionCallback) error {
	s.mu.Lock()
	sub, ok := s.submissions[tok.String()]
	if !ok {
		s.mu.Unlock()
		return scheduler.ErrInvalidToken
	}
	if sub.done {
		s.mu.Unlock()
		if sub.failed {
			cb.Failed(tok, sub.err)
		} else {
			cb.Succeeded(tok)
		}
		return nil
	}
	sub.extra = append(sub.extra, cb)
	s.mu.Unlock()
	return nil
}

// Submit launches task, either inline or in a pooled goroutine depending
// on WithSynchronousDispatch and whether a worker slot is immediately
// free. The returned token is nil only when cb has already fired.
func (s *Scheduler) Submit(ctx context.Context, key string, task graph.Task, cb scheduler.TaskCompletionCallback) (scheduler.Token, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("localscheduler: Submit called after Shutdown")
	}
	s.mu.Unlock()

	if cb == nil {
		return nil, fmt.Errorf("localscheduler: Submit called without a callback")
	}
	runnable, ok := task.(Runnable)
	if !ok {
		return nil, fmt.Errorf("localscheduler: task %q does not implement Runnable", key)
	}

	tok := newToken()
	s.mu.Lock()
	s.submissions[tok.String()] = &submission{}
	s.mu.Unlock()
	breaker := s.breakerFor(runnable)

	if s.synchronous {
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
			err := runWithRetry(ctx, breaker, runnable, s.retry)
			s.complete(tok, err, cb)
			return nil, nil
		default:
			// No slot immediately free: fall through to the pooled path.
		}
	}

	s.group.Go(func() error {
		s.sem <- struct{}{}
		defer func() { <-s.sem }()
		err := runWithRetry(ctx, breaker, runnable, s.retry)
		s.complete(tok, err, cb)
		return nil // task errors are reported via callback, not the group
	})

	return tok, nil
}

// complete records tok's outcome, fires cb, and replays the same outcome
// to every callback RegisterCallback attached while tok was still pending.
func (s *Scheduler) complete(tok token, err error, cb scheduler.TaskCompletionCallback) {
	s.mu.Lock()
	sub := s.submissions[tok.String()]
	sub.done = true
	sub.failed = err != nil
	sub.err = err
	extra := sub.extra
	s.mu.Unlock()

	report := func(c scheduler.TaskCompletionCallback) {
		if err != nil {
			c.Failed(tok, err)
		} else {
			c.Succeeded(tok)
		}
	}
	report(cb)
	for _, c := range extra {
		report(c)
	}
}

// Shutdown stops accepting submissions and waits for in-flight work to
// drain, or for ctx to be done, whichever happens first.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.group.Wait() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (s *Scheduler) breakerFor(runnable Runnable) *gobreaker.CircuitBreaker {
	name := fmt.Sprintf("%T", runnable)

	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("localscheduler: circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	s.breakers[name] = cb
	return cb
}

func runWithRetry(ctx context.Context, cb *gobreaker.CircuitBreaker, runnable Runnable, cfg RetryConfig) error {
	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		_, err := cb.Execute(func() (interface{}, error) {
			return nil, runnable.Run(ctx)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialInterval
	policy.MaxInterval = cfg.MaxInterval
	policy.MaxElapsedTime = cfg.MaxElapsedTime
	policy.Multiplier = cfg.Multiplier
	policy.RandomizationFactor = cfg.RandomizationFactor

	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}
