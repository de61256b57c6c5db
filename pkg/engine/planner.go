package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stackzilla/stackzilla/pkg/diff"
	"github.com/stackzilla/stackzilla/pkg/telemetry"
)

// Planner turns a blueprint diff into an ordered execution plan.
type Planner struct {
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// NewPlanner creates a planner. metrics may be nil.
func NewPlanner(logger zerolog.Logger, metrics *telemetry.Metrics) *Planner {
	return &Planner{
		logger:  logger.With().Str("component", "planner").Logger(),
		metrics: metrics,
	}
}

// OperationFor maps a resource diff result to the operation that
// reconciles it.
func OperationFor(r diff.Result) OperationType {
	switch r {
	case diff.New:
		return OperationCreate
	case diff.Conflict:
		return OperationUpdate
	case diff.RebuildRequired:
		return OperationRecreate
	case diff.Deleted:
		return OperationDelete
	default:
		return OperationNoop
	}
}

// BuildPlan creates an execution plan from a blueprint diff. Every
// resource gets a unit, unchanged ones included, so that dependencies
// always resolve. A unit waits for the resources it depends on; a delete
// waits for the deletion of every deleted resource that depended on it.
func (p *Planner) BuildPlan(ctx context.Context, bd *diff.BlueprintDiff) (*Plan, error) {
	if bd == nil {
		return nil, NewPermanentError("blueprint diff is nil", nil).
			WithCode(ErrCodeValidation)
	}
	if err := ctx.Err(); err != nil {
		return nil, NewTransientError("planning cancelled", err).WithCode(ErrCodeCancelled)
	}

	plan := &Plan{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Units:     make([]PlanUnit, 0, len(bd.Resources)),
	}

	paths := bd.Paths()
	for _, path := range paths {
		rd := bd.Resources[path]
		unit := PlanUnit{
			ID:        path,
			Path:      path,
			Type:      rd.Type(),
			Operation: OperationFor(rd.Result),
			Changes:   changesFor(rd),
		}

		if unit.Operation == OperationDelete {
			for _, other := range paths {
				od := bd.Resources[other]
				if od.Result == diff.Deleted && slices.Contains(od.DependsOn(), path) {
					unit.Dependencies = append(unit.Dependencies, other)
				}
			}
		} else {
			unit.Dependencies = rd.DependsOn()
		}

		plan.Summary.add(unit.Operation)
		p.metrics.RecordPlanUnit(string(unit.Operation))
		plan.Units = append(plan.Units, unit)
	}

	if err := p.BuildDAG(plan); err != nil {
		return nil, err
	}

	p.logger.Debug().
		Str("plan_id", plan.ID).
		Int("units", len(plan.Units)).
		Int("phases", len(plan.Phases)).
		Msg("Plan built")

	return plan, nil
}

// changesFor converts attribute diffs to plan changes.
func changesFor(rd *diff.ResourceDiff) []Change {
	changes := make([]Change, 0, len(rd.Attributes))
	for _, ad := range rd.Attributes {
		c := Change{Attribute: ad.Name, RequiresRebuild: ad.RequiresRebuild()}
		switch {
		case ad.DestAttribute == nil:
			c.Action = ChangeActionAdd
			c.After = ad.FilteredSrcValue()
		case ad.SrcAttribute == nil:
			c.Action = ChangeActionRemove
			c.Before = ad.FilteredDestValue()
		default:
			c.Action = ChangeActionModify
			c.Before = ad.FilteredDestValue()
			c.After = ad.FilteredSrcValue()
		}
		changes = append(changes, c)
	}
	return changes
}

// BuildDAG computes the phases of plan and sorts its units by phase, then
// path.
func (p *Planner) BuildDAG(plan *Plan) error {
	builder := NewDAGBuilder()
	graph, err := builder.BuildGraph(plan.Units)
	if err != nil {
		return fmt.Errorf("failed to build DAG: %w", err)
	}
	if err := builder.ValidateGraph(graph); err != nil {
		return fmt.Errorf("graph validation failed: %w", err)
	}

	plan.Graph = graph
	plan.Phases = builder.GetLevels()
	slices.SortStableFunc(plan.Units, func(a, b PlanUnit) int {
		if a.Phase != b.Phase {
			return a.Phase - b.Phase
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return nil
}

// DOT renders the plan graph in Graphviz format.
func (p *Planner) DOT(plan *Plan) (string, error) {
	builder := NewDAGBuilder()
	units := append([]PlanUnit(nil), plan.Units...)
	if _, err := builder.BuildGraph(units); err != nil {
		return "", err
	}
	return builder.ToDOT(), nil
}

// ValidatePlan validates a plan for correctness: every unit has an ID and
// a valid operation, and every dependency names a unit of the plan.
func (p *Planner) ValidatePlan(plan *Plan) error {
	if plan == nil {
		return NewPermanentError("plan is nil", nil).
			WithCode(ErrCodeValidation)
	}

	ids := make(map[string]bool, len(plan.Units))
	for _, unit := range plan.Units {
		ids[unit.ID] = true
	}

	for _, unit := range plan.Units {
		if unit.ID == "" || unit.Path == "" {
			return NewPermanentError("plan unit has empty ID or path", nil).
				WithCode(ErrCodeValidation)
		}
		if err := unit.Operation.Validate(); err != nil {
			return NewPermanentError("invalid plan unit", err).
				WithCode(ErrCodeValidation).
				WithResource(unit.Path)
		}
		for _, dep := range unit.Dependencies {
			if !ids[dep] {
				return NewPermanentError(fmt.Sprintf("dependency %s is not part of the plan", dep), nil).
					WithCode(ErrCodeDanglingDependency).
					WithResource(unit.Path)
			}
		}
	}

	return nil
}
