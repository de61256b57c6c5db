package engine

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestDAGBuilder_BuildGraph_EmptyUnits(t *testing.T) {
	builder := NewDAGBuilder()
	graph, err := builder.BuildGraph([]PlanUnit{})
	if err != nil {
		t.Fatalf("Expected no error for empty units, got: %v", err)
	}

	if len(graph.Nodes) != 0 {
		t.Errorf("Expected 0 nodes, got %d", len(graph.Nodes))
	}
	if len(graph.Edges) != 0 {
		t.Errorf("Expected 0 edges, got %d", len(graph.Edges))
	}
	if graph.Depth != 0 {
		t.Errorf("Expected depth 0, got %d", graph.Depth)
	}
}

func unitsFor(deps map[string][]string) []PlanUnit {
	var units []PlanUnit
	for id, d := range deps {
		units = append(units, PlanUnit{ID: id, Path: id, Operation: OperationCreate, Dependencies: d})
	}
	return units
}

func TestDAGBuilder_Phases(t *testing.T) {
	tests := []struct {
		name string
		deps map[string][]string
		want [][]string
	}{
		{
			name: "single",
			deps: map[string][]string{"a": nil},
			want: [][]string{{"a"}},
		},
		{
			name: "linear",
			deps: map[string][]string{"a": nil, "b": {"a"}, "c": {"b"}},
			want: [][]string{{"a"}, {"b"}, {"c"}},
		},
		{
			name: "parallel roots sorted",
			deps: map[string][]string{"z": nil, "m": nil, "a": nil},
			want: [][]string{{"a", "m", "z"}},
		},
		{
			name: "diamond",
			deps: map[string][]string{"a": nil, "b": {"a"}, "c": {"a"}, "d": {"b", "c"}},
			want: [][]string{{"a"}, {"b", "c"}, {"d"}},
		},
		{
			name: "uneven branches",
			deps: map[string][]string{"a": nil, "b": {"a"}, "c": {"b"}, "x": nil, "y": {"x", "c"}},
			want: [][]string{{"a", "x"}, {"b"}, {"c"}, {"y"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			units := unitsFor(tt.deps)
			builder := NewDAGBuilder()
			graph, err := builder.BuildGraph(units)
			if err != nil {
				t.Fatalf("BuildGraph failed: %v", err)
			}

			if got := builder.GetLevels(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("levels = %v, want %v", got, tt.want)
			}
			if graph.Depth != len(tt.want) {
				t.Errorf("depth = %d, want %d", graph.Depth, len(tt.want))
			}
			if !reflect.DeepEqual(graph.Roots, tt.want[0]) {
				t.Errorf("roots = %v, want %v", graph.Roots, tt.want[0])
			}
			for _, u := range units {
				if graph.Nodes[u.ID].Level != u.Phase {
					t.Errorf("unit %s phase %d, node level %d", u.ID, u.Phase, graph.Nodes[u.ID].Level)
				}
			}
			if err := builder.ValidateGraph(graph); err != nil {
				t.Errorf("ValidateGraph failed: %v", err)
			}
		})
	}
}

func TestDAGBuilder_Cycle(t *testing.T) {
	units := unitsFor(map[string][]string{
		"a": nil,
		"b": {"a", "d"},
		"c": {"b"},
		"d": {"c"},
		"e": {"d"},
	})

	_, err := NewDAGBuilder().BuildGraph(units)
	if err == nil {
		t.Fatal("expected cycle error")
	}

	var cycle *CircularDependencyError
	if !errors.As(err, &cycle) {
		t.Fatalf("error = %v, want *CircularDependencyError", err)
	}
	// e is blocked behind the cycle and reported with it.
	if want := []string{"b", "c", "d", "e"}; !reflect.DeepEqual(cycle.Units, want) {
		t.Errorf("unresolved = %v, want %v", cycle.Units, want)
	}
	if !IsPermanent(err) {
		t.Error("cycle error should be permanent")
	}

	var ee *EngineError
	if !errors.As(err, &ee) || ee.Code != ErrCodeCycle {
		t.Errorf("error code = %v, want %s", ee, ErrCodeCycle)
	}
}

func TestDAGBuilder_InvalidUnits(t *testing.T) {
	tests := []struct {
		name  string
		units []PlanUnit
		code  string
	}{
		{
			name:  "empty id",
			units: []PlanUnit{{ID: ""}},
			code:  ErrCodeValidation,
		},
		{
			name:  "duplicate id",
			units: []PlanUnit{{ID: "a"}, {ID: "a"}},
			code:  ErrCodeValidation,
		},
		{
			name:  "dangling dependency",
			units: []PlanUnit{{ID: "a", Path: "a", Dependencies: []string{"missing"}}},
			code:  ErrCodeDanglingDependency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDAGBuilder().BuildGraph(tt.units)
			var ee *EngineError
			if !errors.As(err, &ee) {
				t.Fatalf("error = %v, want *EngineError", err)
			}
			if ee.Code != tt.code {
				t.Errorf("code = %s, want %s", ee.Code, tt.code)
			}
		})
	}
}

func TestDAGBuilder_ToDOT(t *testing.T) {
	units := []PlanUnit{
		{ID: "main.Web", Path: "main.Web", Operation: OperationCreate},
		{ID: "main.Data", Path: "main.Data", Operation: OperationRecreate, Dependencies: []string{"main.Web"}},
	}

	builder := NewDAGBuilder()
	if _, err := builder.BuildGraph(units); err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}

	dot := builder.ToDOT()
	for _, want := range []string{
		"digraph ExecutionGraph {",
		"cluster_phase_0",
		"cluster_phase_1",
		`"main.Web" [label="main.Web\ncreate", fillcolor="lightgreen"`,
		`"main.Data" [label="main.Data\nrecreate", fillcolor="lightcoral"`,
		`"main.Web" -> "main.Data";`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT output missing %q:\n%s", want, dot)
		}
	}
}
