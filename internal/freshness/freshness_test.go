package freshness

import (
	"testing"
	"time"

	"github.com/tripflow/reflow/internal/graph"
	"github.com/tripflow/reflow/internal/target"
)

type fakeOutput struct {
	ts      graph.Timestamp
	present bool
}

func (o *fakeOutput) Timestamp() (graph.Timestamp, bool, error) { return o.ts, o.present, nil }
func (o *fakeOutput) Delete() error                             { o.present = false; return nil }

type fakeTask struct {
	outputs []graph.Output
}

func (t fakeTask) Outputs() []graph.Output { return t.outputs }

func at(seconds int) graph.Timestamp {
	return graph.At(time.Unix(int64(seconds), 0))
}

func taskWith(seconds int) fakeTask {
	return fakeTask{outputs: []graph.Output{&fakeOutput{ts: at(seconds), present: true}}}
}

func missingOutputTask() fakeTask {
	return fakeTask{outputs: []graph.Output{&fakeOutput{present: false}}}
}

func buildChain(t *testing.T, a, b graph.Task) *graph.Graph {
	t.Helper()
	ba := &graph.Builder{Key: "a", Task: a}
	bb := &graph.Builder{Key: "b", Task: b, Dependencies: []*graph.Builder{ba}}
	g, err := graph.Create([]*graph.Builder{ba, bb})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return g
}

func TestAnalyzeFreshDependentIsNotInvalid(t *testing.T) {
	g := buildChain(t, taskWith(1), taskWith(2))
	result, err := Analyze(target.Of(g))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(result.Invalid) != 0 {
		t.Errorf("expected no invalid nodes, got %v", result.Invalid)
	}
}

func TestAnalyzeStaleDependentIsInvalid(t *testing.T) {
	// b was produced before a, so b predates its dependency and is stale.
	g := buildChain(t, taskWith(5), taskWith(1))
	result, err := Analyze(target.Of(g))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if _, ok := result.Invalid["b"]; !ok {
		t.Errorf("expected b to be invalid, got %v", result.Invalid)
	}
	if _, ok := result.Invalid["a"]; ok {
		t.Errorf("a has no dependencies and should never be invalid")
	}
}

func TestAnalyzeMissingOutputIsInvalid(t *testing.T) {
	g := buildChain(t, taskWith(1), missingOutputTask())
	result, err := Analyze(target.Of(g))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if _, ok := result.Invalid["b"]; !ok {
		t.Errorf("expected b with a missing output to be invalid")
	}
}

func TestAnalyzeNodeWithNoDependenciesIsNeverInvalid(t *testing.T) {
	g := buildChain(t, missingOutputTask(), taskWith(1))
	result, err := Analyze(target.Of(g))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if _, ok := result.Invalid["a"]; ok {
		t.Errorf("a has no dependencies; a missing output alone must not make it invalid")
	}
}

func TestAnalyzeInvalidationPropagatesTransitively(t *testing.T) {
	// a(5) -> b(1) invalid -> c(10) should also become invalid, because
	// b's output timestamp is overwritten to Absent once b is marked invalid.
	ba := &graph.Builder{Key: "a", Task: taskWith(5)}
	bb := &graph.Builder{Key: "b", Task: taskWith(1), Dependencies: []*graph.Builder{ba}}
	bc := &graph.Builder{Key: "c", Task: taskWith(10), Dependencies: []*graph.Builder{bb}}
	g, err := graph.Create([]*graph.Builder{ba, bb, bc})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	result, err := Analyze(target.Of(g))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if _, ok := result.Invalid["b"]; !ok {
		t.Errorf("expected b invalid")
	}
	if _, ok := result.Invalid["c"]; !ok {
		t.Errorf("expected invalidation of b to propagate to c")
	}
}

func TestAnalyzeStructureNodeNeverInvalid(t *testing.T) {
	ba := &graph.Builder{Key: "a", Task: taskWith(5)}
	bhub := &graph.Builder{Key: "hub", Dependencies: []*graph.Builder{ba}}
	g, err := graph.Create([]*graph.Builder{ba, bhub})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	result, err := Analyze(target.Of(g))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if _, ok := result.Invalid["hub"]; ok {
		t.Errorf("structure nodes have no outputs and must never be marked invalid")
	}
}

func TestRemoveInvalidDeletesOutputsOfStaleNodes(t *testing.T) {
	staleOut := &fakeOutput{ts: at(1), present: true}
	ba := &graph.Builder{Key: "a", Task: taskWith(5)}
	bb := &graph.Builder{Key: "b", Task: fakeTask{outputs: []graph.Output{staleOut}}, Dependencies: []*graph.Builder{ba}}
	g, err := graph.Create([]*graph.Builder{ba, bb})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := RemoveInvalid(target.Of(g), nil); err != nil {
		t.Fatalf("RemoveInvalid: %v", err)
	}
	if staleOut.present {
		t.Errorf("expected the stale output to have been deleted")
	}
}
