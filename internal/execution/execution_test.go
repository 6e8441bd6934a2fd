package execution

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/tripflow/reflow/internal/graph"
	"github.com/tripflow/reflow/internal/scheduler"
	"github.com/tripflow/reflow/internal/snapshot"
	"github.com/tripflow/reflow/internal/target"
)

type noopTask struct{}

func (noopTask) Outputs() []graph.Output { return nil }

type fakeToken string

func (t fakeToken) String() string { return string(t) }

// syncScheduler invokes its callback synchronously, inside Submit, before
// returning -- the hardest case for the driver's lock-release discipline.
// It also records every token it has ever issued, so RegisterCallback can
// recognize a token from this same instance but reject a foreign one --
// exactly as a fresh scheduler built after a real freeze/thaw round trip
// would reject a token minted by the instance it replaced.
type syncScheduler struct {
	mu        sync.Mutex
	fail      map[string]error
	submitErr map[string]error // Submit itself fails for this key, cb never invoked
	n         int
	skipKey   map[string]bool // keys never submitted (used to prove halting)
	known     map[string]bool // tokens this instance has issued
}

func (s *syncScheduler) Submit(ctx context.Context, key string, task graph.Task, cb scheduler.TaskCompletionCallback) (scheduler.Token, error) {
	if err, ok := s.submitErr[key]; ok {
		return nil, err
	}

	s.mu.Lock()
	s.n++
	token := fakeToken(key)
	if s.known == nil {
		s.known = make(map[string]bool)
	}
	s.known[token.String()] = true
	s.mu.Unlock()

	if err, ok := s.fail[key]; ok {
		cb.Failed(token, err)
	} else {
		cb.Succeeded(token)
	}
	return token, nil
}

func (s *syncScheduler) RegisterCallback(tok scheduler.Token, cb scheduler.TaskCompletionCallback) error {
	s.mu.Lock()
	known := s.known[tok.String()]
	err, failed := s.fail[tok.String()]
	s.mu.Unlock()
	if !known {
		return scheduler.ErrInvalidToken
	}
	if failed {
		cb.Failed(tok, err)
	} else {
		cb.Succeeded(tok)
	}
	return nil
}

func (s *syncScheduler) Shutdown(ctx context.Context) error { return nil }

func chain(t *testing.T, keys ...string) (*graph.Graph, target.Target) {
	t.Helper()
	builders := make(map[string]*graph.Builder, len(keys))
	var prev *graph.Builder
	var all []*graph.Builder
	for _, k := range keys {
		b := &graph.Builder{Key: k, Task: noopTask{}}
		if prev != nil {
			b.Dependencies = []*graph.Builder{prev}
		}
		builders[k] = b
		all = append(all, b)
		prev = b
	}
	g, err := graph.Create(all)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return g, target.Of(g)
}

func TestRunAllSucceed(t *testing.T) {
	_, tgt := chain(t, "a", "b", "c")
	sched := &syncScheduler{}

	e, err := New(tgt, sched)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	statuses := e.Statuses()
	for _, k := range []string{"a", "b", "c"} {
		if statuses[k].State != Succeeded {
			t.Errorf("node %q: expected Succeeded, got %s", k, statuses[k].State)
		}
	}
}

func TestRunDefaultStrategyHaltsOnFailure(t *testing.T) {
	_, tgt := chain(t, "a", "b", "c")
	sched := &syncScheduler{fail: map[string]error{"b": errors.New("boom")}}

	e, err := New(tgt, sched)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = e.Run(context.Background())
	if err == nil {
		t.Fatal("expected Run to return an error")
	}
	var tf *TaskFailureError
	if !errors.As(err, &tf) {
		t.Fatalf("expected a TaskFailureError in the aggregate, got %v", err)
	}
	if tf.Key != "b" {
		t.Errorf("expected the failure to be attributed to b, got %q", tf.Key)
	}

	statuses := e.Statuses()
	if statuses["c"].State != NotReady {
		t.Errorf("expected c to never be scheduled after b's failure halts dispatch, got %s", statuses["c"].State)
	}
}

func TestCustomStrategyContinuesAfterFailure(t *testing.T) {
	ba := &graph.Builder{Key: "a", Task: noopTask{}}
	be := &graph.Builder{Key: "e", Task: noopTask{}}
	bf := &graph.Builder{Key: "f", Task: noopTask{}, Dependencies: []*graph.Builder{be}}
	g, err := graph.Create([]*graph.Builder{ba, be, bf})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	tgt := target.Of(g)
	sched := &syncScheduler{fail: map[string]error{"a": errors.New("boom")}}

	e, err := New(tgt, sched, WithStrategy(DefaultStrategy{ShutdownOnFailure: false}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runErr := e.Run(context.Background())
	if runErr == nil {
		t.Fatal("expected an error recording a's failure")
	}

	statuses := e.Statuses()
	if statuses["f"].State != Succeeded {
		t.Errorf("expected f (independent of the failed node) to still run, got %s", statuses["f"].State)
	}
}

func TestSubmitErrorHaltsUnderDefaultStrategy(t *testing.T) {
	// a's Submit call itself errors (the scheduler could not even accept
	// the work). g is an independent root, batched into the very same
	// dispatch pass as a and so submitted regardless of a's outcome; h
	// only becomes eligible in a later dispatch pass once g completes,
	// which is the pass that must never happen once a's submission
	// failure has set halting under the default strategy.
	ba := &graph.Builder{Key: "a", Task: noopTask{}}
	bg := &graph.Builder{Key: "g", Task: noopTask{}}
	bh := &graph.Builder{Key: "h", Task: noopTask{}, Dependencies: []*graph.Builder{bg}}
	graf, err := graph.Create([]*graph.Builder{ba, bg, bh})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	tgt := target.Of(graf)
	sched := &syncScheduler{submitErr: map[string]error{"a": errors.New("scheduler unavailable")}}

	e, err := New(tgt, sched) // default strategy: ShutdownOnFailure true
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runErr := e.Run(context.Background())
	if runErr == nil {
		t.Fatal("expected an error recording a's submission failure")
	}

	statuses := e.Statuses()
	if statuses["a"].State != Failed {
		t.Errorf("expected a to be Failed after its Submit call errored, got %s", statuses["a"].State)
	}
	if statuses["h"].State != NotReady {
		t.Errorf("expected a Submit failure to halt dispatch before h ever becomes eligible, got %s", statuses["h"].State)
	}
}

func TestNewSkipFreshSkipsUpToDateNodes(t *testing.T) {
	g, _ := chain(t, "a", "b")
	sched := &syncScheduler{}

	e, err := NewSkipFresh(target.Of(g), sched)
	if err != nil {
		t.Fatalf("NewSkipFresh: %v", err)
	}
	// noopTask has no outputs, so freshness.Analyze never marks either node
	// invalid: both start Succeeded and Run should submit nothing.
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sched.n != 0 {
		t.Errorf("expected no submissions for already-fresh nodes, got %d", sched.n)
	}
}

func TestFreezeDowngradesTokenlessScheduled(t *testing.T) {
	g, tgt := chain(t, "a")
	e, err := New(tgt, &syncScheduler{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.statuses["a"].State = Scheduled // no token assigned yet

	frozen, err := e.Freeze()
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if frozen.Statuses["a"].State != "READY" {
		t.Errorf("expected a token-less SCHEDULED node to downgrade to READY, got %s", frozen.Statuses["a"].State)
	}
	_ = g
}

func TestThawResubmitsReadyNodes(t *testing.T) {
	_, tgt := chain(t, "a", "b")

	frozen := &snapshot.FrozenExecution{
		TargetKeys: []string{"a", "b"},
		Statuses: map[string]snapshot.NodeSnapshot{
			"a": {State: "READY"},
			"b": {State: "NOT_READY"},
		},
	}

	sched := &syncScheduler{}
	e, err := Thaw(frozen, tgt, sched)
	if err != nil {
		t.Fatalf("Thaw: %v", err)
	}
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	statuses := e.Statuses()
	if statuses["a"].State != Succeeded || statuses["b"].State != Succeeded {
		t.Errorf("expected thawed execution to finish both nodes, got %v", statuses)
	}
}

func TestThawRejectsUnknownTokenForScheduledNode(t *testing.T) {
	_, tgt := chain(t, "a")

	frozen := &snapshot.FrozenExecution{
		TargetKeys: []string{"a"},
		Statuses: map[string]snapshot.NodeSnapshot{
			"a": {State: "SCHEDULED", Token: "token-from-a-previous-process"},
		},
	}

	// A freshly constructed scheduler never recognizes a token minted by
	// the instance it replaced, so Thaw must fail rather than silently
	// resubmitting the in-flight node as new work.
	_, err := Thaw(frozen, tgt, &syncScheduler{})
	if err == nil {
		t.Fatal("expected Thaw to fail when the scheduler rejects the frozen token")
	}
	if !errors.Is(err, scheduler.ErrInvalidToken) {
		t.Errorf("expected the error to wrap ErrInvalidToken, got %v", err)
	}
}

func TestThawReattachesKnownToken(t *testing.T) {
	_, tgt := chain(t, "a")

	sched := &syncScheduler{known: map[string]bool{"tok-a": true}}
	frozen := &snapshot.FrozenExecution{
		TargetKeys: []string{"a"},
		Statuses: map[string]snapshot.NodeSnapshot{
			"a": {State: "SCHEDULED", Token: "tok-a"},
		},
	}

	e, err := Thaw(frozen, tgt, sched)
	if err != nil {
		t.Fatalf("Thaw: %v", err)
	}
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := e.Statuses()["a"].State; got != Succeeded {
		t.Errorf("expected the reattached node to finish Succeeded, got %s", got)
	}
}
