// Package null provides resource types that never touch real
// infrastructure. Every lifecycle call is logged and succeeds, unless the
// handler was told to fail.
package null

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stackzilla/stackzilla/pkg/attribute"
	"github.com/stackzilla/stackzilla/pkg/resource"
)

// Type names registered by the provider.
const (
	TypeBase     = "null.base"
	TypeInstance = "null.instance"
	TypeVolume   = "null.volume"
)

// Version is the version of every null type.
var Version = resource.MustParseVersion("1.0.0-FCS")

// Call records one handler invocation.
type Call struct {
	Op            string
	Path          string
	Modifications []resource.Modification
}

// Handler logs lifecycle calls and keeps a record of them.
type Handler struct {
	logger zerolog.Logger

	// FailCreate makes Create return an error for every resource, or only
	// for the listed paths when FailPaths is set.
	FailCreate bool
	FailPaths  map[string]bool

	mu    sync.Mutex
	calls []Call
}

// NewHandler creates a handler that logs to logger.
func NewHandler(logger zerolog.Logger) *Handler {
	return &Handler{logger: logger.With().Str("provider", "null").Logger()}
}

// Create implements resource.Handler.
func (h *Handler) Create(ctx context.Context, r *resource.Resource) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.logger.Debug().Str("resource", r.Path()).Str("type", r.Type()).Msg("Creating")
	h.record(Call{Op: "create", Path: r.Path()})

	if h.FailCreate && (len(h.FailPaths) == 0 || h.FailPaths[r.Path()]) {
		return fmt.Errorf("create %s: testing failure", r.Path())
	}
	return nil
}

// Update implements resource.Handler.
func (h *Handler) Update(ctx context.Context, r *resource.Resource, mods []resource.Modification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.logger.Debug().Str("resource", r.Path()).Int("modifications", len(mods)).Msg("Updating")
	h.record(Call{Op: "update", Path: r.Path(), Modifications: mods})
	return nil
}

// Delete implements resource.Handler.
func (h *Handler) Delete(ctx context.Context, r *resource.Resource) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.logger.Debug().Str("resource", r.Path()).Msg("Deleting")
	h.record(Call{Op: "delete", Path: r.Path()})
	return nil
}

func (h *Handler) record(c Call) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, c)
}

// Calls returns the invocations seen so far.
func (h *Handler) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Call(nil), h.calls...)
}

// Classes builds the null types bound to h.
func Classes(h resource.Handler) []*resource.Class {
	base := resource.MustClass(TypeBase, nil,
		resource.WithVersion(Version),
		resource.WithHandler(h),
		resource.WithDescription("Base of every null resource"),
	)

	instance := resource.MustClass(TypeInstance, base,
		resource.WithDescription("Dummy compute instance"),
		resource.WithAttributes(
			attribute.New("type",
				attribute.Required(),
				attribute.Choices("large", "medium", "small"),
				attribute.Description("Instance size"),
			),
		),
	)

	volume := resource.MustClass(TypeVolume, base,
		resource.WithDescription("Dummy storage volume"),
		resource.WithAttributes(
			attribute.New("format",
				attribute.Choices("xfs", "hdfs", "fat"),
				attribute.Default("xfs"),
				attribute.Description("Filesystem format"),
			),
			attribute.New("size",
				attribute.Required(),
				attribute.Description("Size in GiB"),
			),
			attribute.New("instance",
				attribute.Description("Path of the instance the volume is attached to"),
			),
		),
	)

	return []*resource.Class{base, instance, volume}
}

// Register adds the null types to registry.
func Register(registry *resource.Registry, h resource.Handler) error {
	for _, c := range Classes(h) {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}
