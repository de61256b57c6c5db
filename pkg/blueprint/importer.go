package blueprint

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stackzilla/stackzilla/pkg/resource"
	"github.com/stackzilla/stackzilla/pkg/stores"
)

// Importer rebuilds the persisted blueprint from the store.
type Importer struct {
	store    stores.Store
	loader   *Loader
	registry *resource.Registry
	logger   zerolog.Logger
}

// NewImporter creates an importer.
func NewImporter(store stores.Store, loader *Loader, registry *resource.Registry, logger zerolog.Logger) *Importer {
	return &Importer{
		store:    store,
		loader:   loader,
		registry: registry,
		logger:   logger.With().Str("component", "importer").Logger(),
	}
}

// Load returns every persisted resource keyed by path. Blueprint classes
// are rebuilt from the stored modules so they keep the shape they had when
// last applied.
func (i *Importer) Load(ctx context.Context) (map[string]*resource.Persisted, error) {
	stored, err := i.store.ListBlueprintModules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stored modules: %w", err)
	}

	classes := map[string]*resource.Class{}
	if len(stored) > 0 {
		bp, err := i.loader.LoadModules(ctx, ModulesFromStore(stored))
		if err != nil {
			return nil, fmt.Errorf("failed to load stored blueprint: %w", err)
		}
		classes = bp.Classes
	}

	records, err := i.store.ListResources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}

	out := make(map[string]*resource.Persisted, len(records))
	for _, rec := range records {
		class, ok := classes[rec.Type]
		if !ok {
			if class, err = i.registry.Lookup(rec.Type); err != nil {
				return nil, fmt.Errorf("failed to import %s: %w", rec.Path, err)
			}
		}

		values, err := i.store.ListAttributes(ctx, rec.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to import %s: %w", rec.Path, err)
		}

		r := resource.New(class, rec.Path)
		for _, name := range sortedKeys(values) {
			if err := r.Set(name, values[name]); err != nil {
				i.logger.Debug().
					Str("resource", rec.Path).
					Str("attribute", name).
					Msg("Ignoring stored attribute no longer declared")
			}
		}
		r.SetDependsOn(rec.DependsOn)

		out[rec.Path] = resource.NewPersisted(r, resource.Version{
			Major: rec.VersionMajor,
			Minor: rec.VersionMinor,
			Build: rec.VersionBuild,
			Name:  rec.VersionName,
		})
	}

	i.logger.Debug().Int("resources", len(out)).Msg("Imported persisted blueprint")
	return out, nil
}
