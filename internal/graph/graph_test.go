package graph

import (
	"strings"
	"testing"
)

type fakeOutput struct{}

func (fakeOutput) Timestamp() (Timestamp, bool, error) { return Absent, false, nil }
func (fakeOutput) Delete() error                       { return nil }

type fakeTask struct{}

func (fakeTask) Outputs() []Output { return nil }

func builder(key string, deps ...*Builder) *Builder {
	return &Builder{Key: key, Task: fakeTask{}, Dependencies: deps}
}

func TestCreate(t *testing.T) {
	tests := []struct {
		name        string
		setup       func() []*Builder
		wantErr     bool
		errContains string
	}{
		{
			name:    "empty input fails",
			setup:   func() []*Builder { return nil },
			wantErr: true, errContains: "empty",
		},
		{
			name: "linear chain",
			setup: func() []*Builder {
				a := builder("a")
				b := builder("b", a)
				c := builder("c", b)
				return []*Builder{a, b, c}
			},
			wantErr: false,
		},
		{
			name: "self loop fails",
			setup: func() []*Builder {
				a := &Builder{Key: "a", Task: fakeTask{}}
				a.Dependencies = []*Builder{a}
				return []*Builder{a}
			},
			wantErr: true, errContains: "cycle",
		},
		{
			name: "transitive cycle fails",
			setup: func() []*Builder {
				a := &Builder{Key: "a", Task: fakeTask{}}
				b := &Builder{Key: "b", Task: fakeTask{}}
				c := &Builder{Key: "c", Task: fakeTask{}}
				a.Dependencies = []*Builder{c}
				b.Dependencies = []*Builder{a}
				c.Dependencies = []*Builder{b}
				return []*Builder{a, b, c}
			},
			wantErr: true, errContains: "cycle",
		},
		{
			name: "duplicate key fails",
			setup: func() []*Builder {
				return []*Builder{builder("a"), builder("a")}
			},
			wantErr: true, errContains: "duplicate key",
		},
		{
			name: "repeated builder element fails",
			setup: func() []*Builder {
				b := builder("a")
				return []*Builder{b, b}
			},
			wantErr: true, errContains: "repeated element",
		},
		{
			name: "missing referenced dependency fails",
			setup: func() []*Builder {
				dangling := builder("missing")
				a := builder("a", dangling)
				return []*Builder{a}
			},
			wantErr: true, errContains: "incomplete",
		},
		{
			name: "invalid key format fails",
			setup: func() []*Builder {
				return []*Builder{builder("-bad-")}
			},
			wantErr: true, errContains: "invalid key",
		},
		{
			name: "unkeyed builders get generated keys",
			setup: func() []*Builder {
				return []*Builder{
					{Task: fakeTask{}},
					{Task: fakeTask{}},
				}
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Create(tt.setup())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Create() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error %q does not contain %q", err.Error(), tt.errContains)
				}
				return
			}
			if g == nil {
				t.Fatal("expected non-nil graph")
			}
		})
	}
}

func TestCreateDependentsIsExactInverse(t *testing.T) {
	a := builder("a")
	b := builder("b", a)
	c := builder("c", a)
	g, err := Create([]*Builder{a, b, c})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	nodeA := g.Nodes()["a"]
	if len(nodeA.Dependents()) != 2 {
		t.Fatalf("expected 2 dependents of a, got %d", len(nodeA.Dependents()))
	}
	if _, ok := nodeA.Dependents()["b"]; !ok {
		t.Errorf("expected b to be a dependent of a")
	}
	if _, ok := nodeA.Dependents()["c"]; !ok {
		t.Errorf("expected c to be a dependent of a")
	}
}

func TestCreateTopologicalOrder(t *testing.T) {
	a := builder("a")
	b := builder("b", a)
	c := builder("c", b)
	g, err := Create([]*Builder{c, a, b})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	pos := make(map[string]int, len(g.Order()))
	for i, n := range g.Order() {
		pos[n.Key()] = i
	}
	if pos["a"] > pos["b"] || pos["b"] > pos["c"] {
		t.Errorf("topological order violated: %v", pos)
	}
}

func TestCreateGeneratedKeysDoNotCollideWithSupplied(t *testing.T) {
	collidingKey := &Builder{Key: "00000000", Task: fakeTask{}}
	unkeyed := &Builder{Task: fakeTask{}}
	g, err := Create([]*Builder{collidingKey, unkeyed})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(g.Nodes()) != 2 {
		t.Fatalf("expected 2 distinct nodes, got %d", len(g.Nodes()))
	}
}

func TestStructureNodeHasNoTask(t *testing.T) {
	s := &Builder{Key: "hub"}
	a := builder("a", s)
	g, err := Create([]*Builder{s, a})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	hub := g.Nodes()["hub"]
	if hub.HasTask() {
		t.Errorf("expected structure node to have no task")
	}
	if hub.Task() != nil {
		t.Errorf("expected nil task")
	}
}
