package engine

import (
	"time"

	"github.com/stackzilla/stackzilla/pkg/stores"
)

// PlanUnit is the work to do for one resource path.
type PlanUnit struct {
	// ID identifies the unit within its plan. It is the resource path.
	ID string `json:"id" yaml:"id"`

	// Path is the full resource path.
	Path string `json:"path" yaml:"path"`

	// Type is the resource class name.
	Type string `json:"type" yaml:"type"`

	// Operation is the type of operation to perform.
	Operation OperationType `json:"operation" yaml:"operation"`

	// Dependencies lists plan unit IDs that must complete before this unit.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`

	// Changes describes the attribute changes behind the operation.
	Changes []Change `json:"changes,omitempty" yaml:"changes,omitempty"`

	// Phase is the position of the unit in the execution order. Units in
	// the same phase run concurrently.
	Phase int `json:"phase" yaml:"phase"`
}

// Change represents a single attribute change. Secret and dynamic values
// are masked.
type Change struct {
	// Attribute is the attribute name.
	Attribute string `json:"attribute" yaml:"attribute"`

	// Before is the persisted value.
	Before any `json:"before,omitempty" yaml:"before,omitempty"`

	// After is the blueprint value.
	After any `json:"after,omitempty" yaml:"after,omitempty"`

	// Action describes the change action (add, remove, modify).
	Action ChangeAction `json:"action" yaml:"action"`

	// RequiresRebuild is set when the change forces a recreate.
	RequiresRebuild bool `json:"requires_rebuild,omitempty" yaml:"requires_rebuild,omitempty"`
}

// ChangeAction represents the type of change being made.
type ChangeAction string

const (
	// ChangeActionAdd indicates a new attribute is being added.
	ChangeActionAdd ChangeAction = "add"

	// ChangeActionRemove indicates an attribute is being removed.
	ChangeActionRemove ChangeAction = "remove"

	// ChangeActionModify indicates an attribute value is being changed.
	ChangeActionModify ChangeAction = "modify"
)

// Plan represents a complete execution plan.
type Plan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id" yaml:"id"`

	// Source names the blueprint the plan was built from. It is recorded
	// with the run.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	// CreatedAt is when the plan was created.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`

	// Units are all the plan units, sorted by phase then path.
	Units []PlanUnit `json:"units" yaml:"units"`

	// Phases lists unit IDs per phase.
	Phases [][]string `json:"phases" yaml:"phases"`

	// Graph is the DAG representation of the plan.
	Graph *ExecutionGraph `json:"-" yaml:"-"`

	// Summary provides high-level statistics about the plan.
	Summary PlanSummary `json:"summary" yaml:"summary"`
}

// Unit returns the unit with the given ID, or nil.
func (p *Plan) Unit(id string) *PlanUnit {
	for i := range p.Units {
		if p.Units[i].ID == id {
			return &p.Units[i]
		}
	}
	return nil
}

// HasChanges reports whether any unit mutates a resource.
func (p *Plan) HasChanges() bool {
	for _, u := range p.Units {
		if u.Operation.IsMutating() {
			return true
		}
	}
	return false
}

// PlanSummary provides statistics about a plan.
type PlanSummary struct {
	TotalResources int `json:"total_resources" yaml:"total_resources"`
	ToCreate       int `json:"to_create" yaml:"to_create"`
	ToUpdate       int `json:"to_update" yaml:"to_update"`
	ToRecreate     int `json:"to_recreate" yaml:"to_recreate"`
	ToDelete       int `json:"to_delete" yaml:"to_delete"`
	NoChange       int `json:"no_change" yaml:"no_change"`
}

func (s *PlanSummary) add(op OperationType) {
	s.TotalResources++
	switch op {
	case OperationCreate:
		s.ToCreate++
	case OperationUpdate:
		s.ToUpdate++
	case OperationRecreate:
		s.ToRecreate++
	case OperationDelete:
		s.ToDelete++
	case OperationNoop:
		s.NoChange++
	}
}

// ExecutionGraph represents the DAG of plan units.
type ExecutionGraph struct {
	// Nodes maps plan unit IDs to their graph nodes.
	Nodes map[string]*GraphNode `json:"nodes"`

	// Edges lists all dependency edges in the graph.
	Edges []GraphEdge `json:"edges"`

	// Roots are the plan unit IDs with no dependencies.
	Roots []string `json:"roots"`

	// Depth is the number of phases.
	Depth int `json:"depth"`
}

// GraphNode represents a node in the execution graph.
type GraphNode struct {
	ID           string   `json:"id"`
	Level        int      `json:"level"`
	Dependencies []string `json:"dependencies"`
	Dependents   []string `json:"dependents"`
}

// GraphEdge represents an edge in the execution graph: From must complete
// before To starts.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// UnitResult is the outcome of one plan unit.
type UnitResult struct {
	UnitID    string        `json:"unit_id"`
	Operation OperationType `json:"operation"`
	Status    UnitStatus    `json:"status"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// RunSummary provides statistics about a run.
type RunSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// ApplyResult describes a finished apply or destroy.
type ApplyResult struct {
	RunID    string           `json:"run_id"`
	PlanID   string           `json:"plan_id"`
	Status   stores.RunStatus `json:"status"`
	Units    []UnitResult     `json:"units"`
	Summary  RunSummary       `json:"summary"`
	Duration time.Duration    `json:"duration"`
}

// Result returns the outcome of the unit with the given ID, or nil.
func (r *ApplyResult) Result(id string) *UnitResult {
	for i := range r.Units {
		if r.Units[i].UnitID == id {
			return &r.Units[i]
		}
	}
	return nil
}
