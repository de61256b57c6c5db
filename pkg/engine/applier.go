package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stackzilla/stackzilla/pkg/diff"
	"github.com/stackzilla/stackzilla/pkg/resource"
	"github.com/stackzilla/stackzilla/pkg/stores"
	"github.com/stackzilla/stackzilla/pkg/telemetry"
)

// DefaultParallelism is the number of units applied at once within a phase.
const DefaultParallelism = 4

// Applier executes plans against resource handlers and records the
// outcome in the store.
type Applier struct {
	store       stores.Store
	logger      zerolog.Logger
	metrics     *telemetry.Metrics
	tracer      *telemetry.Tracer
	events      *telemetry.EventPublisher
	parallelism int
}

// ApplierOption configures an Applier.
type ApplierOption func(*Applier)

// WithParallelism bounds the number of concurrent units per phase.
func WithParallelism(n int) ApplierOption {
	return func(a *Applier) {
		if n > 0 {
			a.parallelism = n
		}
	}
}

// WithMetrics records apply metrics.
func WithMetrics(m *telemetry.Metrics) ApplierOption {
	return func(a *Applier) { a.metrics = m }
}

// WithTracer records a span per run and per unit.
func WithTracer(t *telemetry.Tracer) ApplierOption {
	return func(a *Applier) { a.tracer = t }
}

// WithEvents publishes run and resource events.
func WithEvents(p *telemetry.EventPublisher) ApplierOption {
	return func(a *Applier) { a.events = p }
}

// NewApplier creates an applier persisting to store.
func NewApplier(store stores.Store, logger zerolog.Logger, opts ...ApplierOption) *Applier {
	a := &Applier{
		store:       store,
		logger:      logger.With().Str("component", "applier").Logger(),
		parallelism: DefaultParallelism,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply executes plan phase by phase. Units within a phase run
// concurrently; the first failure cancels the rest of the run. The
// blueprint modules are saved as the new persisted blueprint once the run
// succeeds, or when a failed run already changed a resource, since stored
// records then reference the new classes.
func (a *Applier) Apply(ctx context.Context, plan *Plan, bd *diff.BlueprintDiff, modules []stores.BlueprintModule) (*ApplyResult, error) {
	return a.run(ctx, plan, bd, func(ctx context.Context, _ bool) error {
		return a.store.ReplaceBlueprintModules(ctx, modules)
	})
}

// Destroy deletes every persisted resource, dependents first, and forgets
// the persisted blueprint.
func (a *Applier) Destroy(ctx context.Context, persisted map[string]*resource.Persisted, source string) (*ApplyResult, error) {
	bd, err := diff.NewDiffer(a.logger).Diff(ctx, nil, persisted)
	if err != nil {
		return nil, err
	}

	plan, err := NewPlanner(a.logger, a.metrics).BuildPlan(ctx, bd)
	if err != nil {
		return nil, err
	}
	plan.Source = source

	return a.run(ctx, plan, bd, func(ctx context.Context, complete bool) error {
		// Survivors of a partial destroy still need their classes.
		if !complete {
			return nil
		}
		return a.store.DeleteBlueprintModules(ctx)
	})
}

// run executes plan and then calls finish, with complete reporting whether
// every phase succeeded. finish is skipped when a failed run changed nothing.
func (a *Applier) run(ctx context.Context, plan *Plan, bd *diff.BlueprintDiff, finish func(ctx context.Context, complete bool) error) (*ApplyResult, error) {
	if plan == nil || bd == nil {
		return nil, NewPermanentError("plan and diff are required", nil).WithCode(ErrCodeValidation)
	}
	if plan.Graph == nil {
		return nil, NewPermanentError("plan has no execution graph", nil).WithCode(ErrCodeValidation)
	}

	start := time.Now()
	run := &stores.Run{
		ID:        uuid.New().String(),
		Status:    stores.RunStatusRunning,
		Blueprint: plan.Source,
		Summary:   operationCounts(plan),
		StartedAt: start.UTC(),
	}
	if err := a.store.CreateRun(ctx, run); err != nil {
		return nil, NewTransientError("failed to record run", err).WithCode(ErrCodeStoreFailed)
	}

	logger := a.logger.With().Str("run_id", run.ID).Logger()
	logger.Info().Int("units", len(plan.Units)).Int("phases", len(plan.Phases)).Msg("Run started")
	a.events.Publish(telemetry.Event{Type: telemetry.EventRunStarted, RunID: run.ID, Message: plan.Source})

	ctx, span := a.tracer.Start(ctx, "engine.apply",
		telemetry.AttrRunID.String(run.ID),
		telemetry.AttrPlanID.String(plan.ID),
	)
	defer span.End()

	result := &ApplyResult{
		RunID:  run.ID,
		PlanID: plan.ID,
		Units:  make([]UnitResult, len(plan.Units)),
	}
	index := make(map[string]int, len(plan.Units))
	for i, u := range plan.Units {
		index[u.ID] = i
		result.Units[i] = UnitResult{UnitID: u.ID, Operation: u.Operation, Status: UnitStatusPending}
	}

	var runErr error
	for phase, ids := range plan.Phases {
		if runErr = a.applyPhase(ctx, logger, run.ID, plan, bd, ids, result, index); runErr != nil {
			logger.Error().Err(runErr).Int("phase", phase).Msg("Phase failed")
			break
		}
	}
	if runErr == nil {
		if err := finish(ctx, true); err != nil {
			runErr = NewTransientError("failed to save blueprint", err).WithCode(ErrCodeStoreFailed)
		}
	} else if changed(result) {
		if err := finish(context.WithoutCancel(ctx), false); err != nil {
			logger.Error().Err(err).Msg("Failed to save blueprint after a partial run")
		}
	}

	for i := range result.Units {
		u := &result.Units[i]
		result.Summary.Total++
		switch u.Status {
		case UnitStatusSucceeded:
			result.Summary.Succeeded++
		case UnitStatusFailed:
			result.Summary.Failed++
		default:
			u.Status = UnitStatusSkipped
			result.Summary.Skipped++
		}
	}

	result.Duration = time.Since(start)
	result.Status = stores.RunStatusSucceeded
	switch {
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		result.Status = stores.RunStatusCancelled
	case runErr != nil:
		result.Status = stores.RunStatusFailed
	}

	run.Status = result.Status
	if runErr != nil {
		msg := runErr.Error()
		run.Error = &msg
	}
	// The run is recorded even when ctx was cancelled.
	if err := a.store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Error().Err(err).Msg("Failed to record run result")
		if runErr == nil {
			runErr = NewTransientError("failed to record run", err).WithCode(ErrCodeStoreFailed)
		}
	}

	a.metrics.RecordRun(string(result.Status), result.Duration)
	if runErr != nil {
		telemetry.RecordError(span, runErr)
		a.events.Publish(telemetry.Event{Type: telemetry.EventRunFailed, RunID: run.ID, Message: runErr.Error()})
		return result, runErr
	}

	telemetry.RecordSuccess(span)
	a.events.Publish(telemetry.Event{Type: telemetry.EventRunCompleted, RunID: run.ID, Message: plan.Source})
	logger.Info().
		Int("succeeded", result.Summary.Succeeded).
		Dur("duration", result.Duration).
		Msg("Run completed")
	return result, nil
}

// changed reports whether any unit altered a resource.
func changed(result *ApplyResult) bool {
	for _, u := range result.Units {
		if u.Status == UnitStatusSucceeded && u.Operation != OperationNoop {
			return true
		}
	}
	return false
}

func operationCounts(plan *Plan) map[string]int {
	counts := make(map[string]int)
	for _, u := range plan.Units {
		counts[string(u.Operation)]++
	}
	return counts
}

// applyPhase runs the units of one phase on a bounded errgroup.
func (a *Applier) applyPhase(
	ctx context.Context,
	logger zerolog.Logger,
	runID string,
	plan *Plan,
	bd *diff.BlueprintDiff,
	ids []string,
	result *ApplyResult,
	index map[string]int,
) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.parallelism)

	var mu sync.Mutex
	for _, id := range ids {
		unit := plan.Unit(id)
		rd := bd.Resources[id]

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			start := time.Now()
			err := a.applyUnit(gctx, runID, unit, rd)
			dur := time.Since(start)

			status := UnitStatusSucceeded
			if err != nil {
				status = UnitStatusFailed
				logger.Error().Err(err).Str("resource", unit.Path).Str("operation", string(unit.Operation)).Msg("Unit failed")
			}

			mu.Lock()
			r := &result.Units[index[id]]
			r.Status = status
			r.Duration = dur
			if err != nil {
				r.Error = err.Error()
			}
			mu.Unlock()

			a.metrics.RecordApplyUnit(string(unit.Operation), string(status), dur)
			return err
		})
	}

	return g.Wait()
}

func (a *Applier) applyUnit(ctx context.Context, runID string, unit *PlanUnit, rd *diff.ResourceDiff) error {
	if unit == nil || rd == nil {
		return NewPermanentError("plan unit does not match the diff", nil).WithCode(ErrCodeInternal)
	}
	if unit.Operation == OperationNoop {
		return nil
	}

	ctx, span := a.tracer.StartResourceSpan(ctx, "engine.apply."+string(unit.Operation), unit.Path, unit.Type)
	defer span.End()
	span.SetAttributes(
		telemetry.AttrOperation.String(string(unit.Operation)),
		telemetry.AttrRunID.String(runID),
	)

	var (
		err       error
		eventType string
	)
	switch unit.Operation {
	case OperationCreate:
		err = a.create(ctx, rd.Src)
		eventType = telemetry.EventResourceCreated
	case OperationUpdate:
		err = a.update(ctx, rd)
		eventType = telemetry.EventResourceUpdated
	case OperationRecreate:
		if err = a.delete(ctx, rd.Dest.Resource); err == nil {
			err = a.create(ctx, rd.Src)
		}
		eventType = telemetry.EventResourceCreated
	case OperationDelete:
		err = a.delete(ctx, rd.Dest.Resource)
		eventType = telemetry.EventResourceDeleted
	default:
		err = NewPermanentError(fmt.Sprintf("unsupported operation %s", unit.Operation), nil).
			WithCode(ErrCodeValidation).
			WithResource(unit.Path)
	}

	if err != nil {
		var ee *EngineError
		if errors.As(err, &ee) {
			a.metrics.RecordError(string(ee.Class), ee.Code)
		}
		telemetry.RecordError(span, err)
		return err
	}

	telemetry.RecordSuccess(span)
	a.events.Publish(telemetry.Event{
		Type:     eventType,
		RunID:    runID,
		Resource: unit.Path,
		Data:     map[string]any{"operation": string(unit.Operation)},
	})
	a.logger.Info().
		Str("run_id", runID).
		Str("resource", unit.Path).
		Str("operation", string(unit.Operation)).
		Msg("Resource applied")
	return nil
}

func (a *Applier) create(ctx context.Context, r *resource.Resource) error {
	if h := r.Class().Handler(); h != nil {
		if err := h.Create(ctx, r); err != nil {
			return handlerError(OperationCreate, r.Path(), err)
		}
	}
	if err := a.store.SaveResource(ctx, record(r), r.Values()); err != nil {
		return storeError(OperationCreate, r.Path(), err)
	}
	return nil
}

func (a *Applier) update(ctx context.Context, rd *diff.ResourceDiff) error {
	r := rd.Src
	mods := make([]resource.Modification, 0, len(rd.Attributes))
	for _, ad := range rd.Attributes {
		mods = append(mods, resource.Modification{
			Name:     ad.Name,
			Previous: ad.DestValue,
			Current:  ad.SrcValue,
		})
	}

	if h := r.Class().Handler(); h != nil {
		if err := h.Update(ctx, r, mods); err != nil {
			return handlerError(OperationUpdate, r.Path(), err)
		}
	}
	if err := a.store.SaveResource(ctx, record(r), r.Values()); err != nil {
		return storeError(OperationUpdate, r.Path(), err)
	}
	return nil
}

func (a *Applier) delete(ctx context.Context, r *resource.Resource) error {
	if h := r.Class().Handler(); h != nil {
		if err := h.Delete(ctx, r); err != nil {
			return handlerError(OperationDelete, r.Path(), err)
		}
	}
	if err := a.store.DeleteResource(ctx, r.Path()); err != nil && !errors.Is(err, stores.ErrNotFound) {
		return storeError(OperationDelete, r.Path(), err)
	}
	return nil
}

// record converts a resource to its persisted row.
func record(r *resource.Resource) *stores.ResourceRecord {
	v := r.Version()
	return &stores.ResourceRecord{
		Path:         r.Path(),
		Type:         r.Type(),
		VersionMajor: v.Major,
		VersionMinor: v.Minor,
		VersionBuild: v.Build,
		VersionName:  v.Name,
		DependsOn:    r.DependsOn(),
	}
}

func handlerError(op OperationType, path string, err error) *EngineError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewTransientError(fmt.Sprintf("%s cancelled", op), err).
			WithCode(ErrCodeCancelled).
			WithResource(path).
			WithOperation(string(op))
	}
	return NewPermanentError(fmt.Sprintf("failed to %s resource", op), err).
		WithCode(ErrCodeProviderFailed).
		WithResource(path).
		WithOperation(string(op))
}

func storeError(op OperationType, path string, err error) *EngineError {
	return NewTransientError("failed to persist resource", err).
		WithCode(ErrCodeStoreFailed).
		WithResource(path).
		WithOperation(string(op))
}
