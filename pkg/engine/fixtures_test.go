package engine

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/stackzilla/stackzilla/pkg/attribute"
	"github.com/stackzilla/stackzilla/pkg/diff"
	"github.com/stackzilla/stackzilla/pkg/provider/null"
	"github.com/stackzilla/stackzilla/pkg/resource"
	"github.com/stackzilla/stackzilla/pkg/stores"
)

type testClasses struct {
	instance *resource.Class
	volume   *resource.Class
	disk     *resource.Class
}

func newTestClasses(h resource.Handler) testClasses {
	classes := null.Classes(h)
	volume := classes[2]
	return testClasses{
		instance: classes[1],
		volume:   volume,
		disk: resource.MustClass("test.disk", volume,
			resource.WithAttributes(attribute.New("size", attribute.Required(), attribute.ModifyRebuild())),
		),
	}
}

func newResource(t *testing.T, class *resource.Class, path string, attrs map[string]any, deps ...string) *resource.Resource {
	t.Helper()
	r := resource.New(class, path)
	for name, v := range attrs {
		if err := r.Set(name, v); err != nil {
			t.Fatalf("Set(%s.%s) failed: %v", path, name, err)
		}
	}
	r.SetDependsOn(deps)
	return r
}

// scenario builds a source and destination covering every operation:
//
//	main.Data     create   (depends on main.Web)
//	main.Web      update
//	main.Disk     recreate
//	main.Same     noop
//	main.Old      delete
//	main.OldChild delete   (depended on main.Old)
func scenario(t *testing.T, c testClasses) (map[string]*resource.Resource, map[string]*resource.Persisted) {
	t.Helper()

	src := map[string]*resource.Resource{
		"main.Web":  newResource(t, c.instance, "main.Web", map[string]any{"type": "large"}),
		"main.Data": newResource(t, c.volume, "main.Data", map[string]any{"size": 10}, "main.Web"),
		"main.Disk": newResource(t, c.disk, "main.Disk", map[string]any{"size": 20}),
		"main.Same": newResource(t, c.instance, "main.Same", map[string]any{"type": "small"}),
	}

	persist := func(r *resource.Resource) *resource.Persisted {
		return resource.NewPersisted(r, null.Version)
	}
	dst := map[string]*resource.Persisted{
		"main.Web":      persist(newResource(t, c.instance, "main.Web", map[string]any{"type": "small"})),
		"main.Disk":     persist(newResource(t, c.disk, "main.Disk", map[string]any{"size": 10})),
		"main.Same":     persist(newResource(t, c.instance, "main.Same", map[string]any{"type": "small"})),
		"main.Old":      persist(newResource(t, c.instance, "main.Old", map[string]any{"type": "medium"})),
		"main.OldChild": persist(newResource(t, c.volume, "main.OldChild", map[string]any{"size": 1}, "main.Old")),
	}
	return src, dst
}

func diffOf(t *testing.T, src map[string]*resource.Resource, dst map[string]*resource.Persisted) *diff.BlueprintDiff {
	t.Helper()
	bd, err := diff.NewDiffer(zerolog.Nop()).Diff(context.Background(), src, dst)
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	return bd
}

func buildPlan(t *testing.T, bd *diff.BlueprintDiff) *Plan {
	t.Helper()
	plan, err := NewPlanner(zerolog.Nop(), nil).BuildPlan(context.Background(), bd)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}
	return plan
}

func setupTestStore(t *testing.T) *stores.SQLiteStore {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

// persistAll saves dst as if it had been applied before.
func persistAll(t *testing.T, store stores.Store, dst map[string]*resource.Persisted) {
	t.Helper()
	for _, p := range dst {
		if err := store.SaveResource(context.Background(), record(p.Resource), p.Values()); err != nil {
			t.Fatalf("SaveResource(%s) failed: %v", p.Path(), err)
		}
	}
}
