package diff

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/stackzilla/stackzilla/pkg/resource"
	"github.com/stackzilla/stackzilla/pkg/telemetry"
)

// ResourceDiff is the comparison result for one resource path. Src is nil
// for deleted resources and Dest is nil for new ones.
type ResourceDiff struct {
	Path       string              `json:"path" yaml:"path"`
	Result     Result              `json:"result" yaml:"result"`
	Src        *resource.Resource  `json:"-" yaml:"-"`
	Dest       *resource.Persisted `json:"-" yaml:"-"`
	Attributes []*AttributeDiff    `json:"attributes" yaml:"attributes"`
}

// Type returns the class name of whichever side exists, source first.
func (d *ResourceDiff) Type() string {
	if d.Src != nil {
		return d.Src.Type()
	}
	if d.Dest != nil {
		return d.Dest.Type()
	}
	return ""
}

// DependsOn returns the dependencies of whichever side exists, source first.
func (d *ResourceDiff) DependsOn() []string {
	if d.Src != nil {
		return d.Src.DependsOn()
	}
	if d.Dest != nil {
		return d.Dest.DependsOn()
	}
	return nil
}

// BlueprintDiff is the result of comparing a whole blueprint against the
// persisted state. Result is Same when every resource is unchanged and
// Conflict otherwise.
type BlueprintDiff struct {
	Result    Result                   `json:"result" yaml:"result"`
	Resources map[string]*ResourceDiff `json:"resources" yaml:"resources"`
}

// Paths returns the resource paths in sorted order.
func (d *BlueprintDiff) Paths() []string {
	paths := make([]string, 0, len(d.Resources))
	for p := range d.Resources {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Changed returns the resource diffs whose result is not Same, sorted by path.
func (d *BlueprintDiff) Changed() []*ResourceDiff {
	var out []*ResourceDiff
	for _, p := range d.Paths() {
		if rd := d.Resources[p]; rd.Result != Same {
			out = append(out, rd)
		}
	}
	return out
}

// Counts returns the number of resources per result.
func (d *BlueprintDiff) Counts() map[Result]int {
	counts := make(map[Result]int)
	for _, rd := range d.Resources {
		counts[rd.Result]++
	}
	return counts
}

// Differ compares a loaded blueprint with the persisted resources.
type Differ struct {
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  *telemetry.EventPublisher
}

// DifferOption configures a Differ.
type DifferOption func(*Differ)

// WithMetrics records per resource results.
func WithMetrics(m *telemetry.Metrics) DifferOption {
	return func(d *Differ) { d.metrics = m }
}

// WithTracer emits a span per diff.
func WithTracer(t *telemetry.Tracer) DifferOption {
	return func(d *Differ) { d.tracer = t }
}

// WithEvents publishes version incompatibilities.
func WithEvents(p *telemetry.EventPublisher) DifferOption {
	return func(d *Differ) { d.events = p }
}

// NewDiffer creates a Differ.
func NewDiffer(logger zerolog.Logger, opts ...DifferOption) *Differ {
	d := &Differ{logger: logger.With().Str("component", "differ").Logger()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Diff compares every source resource with the destination resource at the
// same path, then lists the destination resources that no longer exist in
// the source. A major version mismatch aborts the diff.
func (d *Differ) Diff(ctx context.Context, src map[string]*resource.Resource, dst map[string]*resource.Persisted) (*BlueprintDiff, error) {
	ctx, span := d.tracer.Start(ctx, "diff.blueprint")
	defer span.End()

	result := &BlueprintDiff{
		Result:    Same,
		Resources: make(map[string]*ResourceDiff, len(src)+len(dst)),
	}

	for _, path := range sortedKeys(src) {
		if err := ctx.Err(); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}

		s := src[path]
		dest, ok := dst[path]
		if !ok {
			result.Resources[path] = newResourceDiff(path, s)
			continue
		}

		if err := CompareVersions(s, dest); err != nil {
			d.metrics.RecordVersionIncompatibility()
			d.events.Publish(telemetry.Event{
				Type:     telemetry.EventVersionIncompatible,
				Resource: path,
				Message:  err.Error(),
			})
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("failed to diff %s: %w", path, err)
		}

		res, attrs := CompareAttributes(s, dest)
		rd := &ResourceDiff{
			Path:       path,
			Result:     res,
			Src:        s,
			Dest:       dest,
			Attributes: attrs.Ordered(),
		}
		for _, ad := range rd.Attributes {
			if ad.RequiresRebuild() {
				rd.Result = RebuildRequired
				break
			}
		}
		result.Resources[path] = rd
	}

	for _, path := range sortedKeys(dst) {
		if _, ok := src[path]; ok {
			continue
		}
		result.Resources[path] = deletedResourceDiff(path, dst[path])
	}

	for _, path := range result.Paths() {
		rd := result.Resources[path]
		conflicts := 0
		for _, ad := range rd.Attributes {
			if ad.Result == Conflict {
				conflicts++
			}
		}
		d.metrics.RecordResourceDiff(rd.Result.String(), conflicts)

		if rd.Result != Same {
			result.Result = Conflict
			d.logger.Debug().
				Str("resource", path).
				Str("result", rd.Result.String()).
				Int("attributes", len(rd.Attributes)).
				Msg("Resource differs")
		}
	}

	span.SetAttributes(telemetry.AttrDiffResult.String(result.Result.String()))
	telemetry.RecordSuccess(span)

	d.logger.Info().
		Int("resources", len(result.Resources)).
		Str("result", result.Result.String()).
		Msg("Blueprint diff completed")

	return result, nil
}

func newResourceDiff(path string, r *resource.Resource) *ResourceDiff {
	rd := &ResourceDiff{Path: path, Result: New, Src: r}
	for i, a := range r.Attributes() {
		rd.Attributes = append(rd.Attributes, &AttributeDiff{
			Name:         a.Name,
			Result:       New,
			SrcValue:     mustGet(r, a.Name),
			SrcAttribute: a,
			Index:        i,
		})
	}
	return rd
}

func deletedResourceDiff(path string, r *resource.Persisted) *ResourceDiff {
	rd := &ResourceDiff{Path: path, Result: Deleted, Dest: r}
	for i, a := range r.Attributes() {
		rd.Attributes = append(rd.Attributes, &AttributeDiff{
			Name:          a.Name,
			Result:        Deleted,
			DestValue:     mustGet(r, a.Name),
			DestAttribute: a,
			Index:         i,
		})
	}
	return rd
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
