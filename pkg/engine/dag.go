package engine

import (
	"fmt"
	"sort"
	"strings"
)

// DAGBuilder builds a directed acyclic graph (DAG) from plan units.
// It performs topological sorting and assigns phases for parallel execution.
type DAGBuilder struct {
	// units maps plan unit IDs to their plan units
	units map[string]*PlanUnit

	// dependents maps unit IDs to the units that wait for them
	dependents map[string][]string

	// inDegree tracks the number of unfinished dependencies of each node
	inDegree map[string]int

	// levels maps execution phase to unit IDs in that phase
	levels [][]string
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		units:      make(map[string]*PlanUnit),
		dependents: make(map[string][]string),
		inDegree:   make(map[string]int),
	}
}

// BuildGraph constructs an execution graph from plan units and sets the
// Phase of every unit. Phases are deterministic: IDs are sorted within a
// phase.
func (b *DAGBuilder) BuildGraph(units []PlanUnit) (*ExecutionGraph, error) {
	if err := b.initialize(units); err != nil {
		return nil, err
	}

	if err := b.computeLevels(); err != nil {
		return nil, err
	}

	return b.buildExecutionGraph(), nil
}

// initialize sets up the internal data structures from plan units.
func (b *DAGBuilder) initialize(units []PlanUnit) error {
	for i := range units {
		unit := &units[i]
		if unit.ID == "" {
			return NewPermanentError("plan unit has empty ID", nil).
				WithCode(ErrCodeValidation)
		}
		if _, exists := b.units[unit.ID]; exists {
			return NewPermanentError(fmt.Sprintf("duplicate plan unit ID: %s", unit.ID), nil).
				WithCode(ErrCodeValidation)
		}
		b.units[unit.ID] = unit
		b.inDegree[unit.ID] = 0
	}

	for _, id := range b.sortedIDs() {
		unit := b.units[id]
		for _, dep := range unit.Dependencies {
			if _, exists := b.units[dep]; !exists {
				return NewPermanentError(
					fmt.Sprintf("plan unit %s depends on non-existent unit %s", unit.ID, dep),
					nil,
				).WithCode(ErrCodeDanglingDependency).WithResource(unit.Path)
			}

			// dep must complete before unit can start
			b.dependents[dep] = append(b.dependents[dep], unit.ID)
			b.inDegree[unit.ID]++
		}
	}

	return nil
}

func (b *DAGBuilder) sortedIDs() []string {
	ids := make([]string, 0, len(b.units))
	for id := range b.units {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// computeLevels assigns phases with Kahn's algorithm. Nodes left over
// once no root remains are on or behind a cycle.
func (b *DAGBuilder) computeLevels() error {
	remaining := make(map[string]int, len(b.inDegree))
	for id, degree := range b.inDegree {
		remaining[id] = degree
	}

	var current []string
	for _, id := range b.sortedIDs() {
		if remaining[id] == 0 {
			current = append(current, id)
		}
	}

	processed := 0
	for len(current) > 0 {
		b.levels = append(b.levels, current)
		processed += len(current)

		var next []string
		for _, id := range current {
			for _, dependent := range b.dependents[id] {
				remaining[dependent]--
				if remaining[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Strings(next)
		current = next
	}

	if processed != len(b.units) {
		var unresolved []string
		for _, id := range b.sortedIDs() {
			if remaining[id] > 0 {
				unresolved = append(unresolved, id)
			}
		}
		cycle := &CircularDependencyError{Units: unresolved}
		return NewPermanentError("circular dependency detected", cycle).
			WithCode(ErrCodeCycle).
			WithDetail("units", unresolved)
	}

	return nil
}

// buildExecutionGraph creates the final ExecutionGraph structure.
func (b *DAGBuilder) buildExecutionGraph() *ExecutionGraph {
	graph := &ExecutionGraph{
		Nodes: make(map[string]*GraphNode, len(b.units)),
		Edges: make([]GraphEdge, 0),
		Roots: make([]string, 0),
		Depth: len(b.levels),
	}

	for level, ids := range b.levels {
		for _, id := range ids {
			unit := b.units[id]
			unit.Phase = level

			graph.Nodes[id] = &GraphNode{
				ID:           id,
				Level:        level,
				Dependencies: append([]string{}, unit.Dependencies...),
				Dependents:   append([]string{}, b.dependents[id]...),
			}
			if level == 0 {
				graph.Roots = append(graph.Roots, id)
			}
		}
	}

	for _, id := range b.sortedIDs() {
		for _, dep := range b.units[id].Dependencies {
			graph.Edges = append(graph.Edges, GraphEdge{From: dep, To: id})
		}
	}

	return graph
}

// GetLevels returns the computed phases. Each phase contains unit IDs that
// can be executed in parallel.
func (b *DAGBuilder) GetLevels() [][]string {
	return b.levels
}

// ToDOT generates a DOT format representation of the DAG for visualization.
// The output can be rendered with Graphviz tools.
func (b *DAGBuilder) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph ExecutionGraph {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range b.levels {
		fmt.Fprintf(&sb, "  subgraph cluster_phase_%d {\n", level)
		fmt.Fprintf(&sb, "    label=\"Phase %d\";\n", level)
		sb.WriteString("    style=dashed;\n")

		for _, id := range ids {
			unit := b.units[id]
			fmt.Fprintf(&sb, "    %q [label=\"%s\\n%s\", fillcolor=%q, style=\"filled,rounded\"];\n",
				id, unit.Path, unit.Operation, operationColor(unit.Operation))
		}

		sb.WriteString("  }\n\n")
	}

	for _, id := range b.sortedIDs() {
		for _, dep := range b.units[id].Dependencies {
			fmt.Fprintf(&sb, "  %q -> %q;\n", dep, id)
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// operationColor returns a color for visualizing operation types.
func operationColor(op OperationType) string {
	switch op {
	case OperationCreate:
		return "lightgreen"
	case OperationUpdate:
		return "lightblue"
	case OperationDelete, OperationRecreate:
		return "lightcoral"
	case OperationNoop:
		return "lightgray"
	default:
		return "white"
	}
}

// ValidateGraph performs additional validation on the built graph.
func (b *DAGBuilder) ValidateGraph(graph *ExecutionGraph) error {
	if len(graph.Nodes) != len(b.units) {
		return NewPermanentError("graph node count mismatch", nil).
			WithCode(ErrCodeInternal)
	}

	for _, edge := range graph.Edges {
		if _, exists := graph.Nodes[edge.From]; !exists {
			return NewPermanentError(fmt.Sprintf("edge references non-existent node: %s", edge.From), nil).
				WithCode(ErrCodeInternal)
		}
		if _, exists := graph.Nodes[edge.To]; !exists {
			return NewPermanentError(fmt.Sprintf("edge references non-existent node: %s", edge.To), nil).
				WithCode(ErrCodeInternal)
		}
	}

	for _, rootID := range graph.Roots {
		if len(graph.Nodes[rootID].Dependencies) > 0 {
			return NewPermanentError(fmt.Sprintf("root node %s has dependencies", rootID), nil).
				WithCode(ErrCodeInternal)
		}
	}

	return nil
}
