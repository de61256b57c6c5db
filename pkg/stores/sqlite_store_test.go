package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
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

func testResource(path string) *ResourceRecord {
	return &ResourceRecord{
		Path:         path,
		Type:         "null.volume",
		VersionMajor: 1,
		VersionName:  "FCS",
		DependsOn:    []string{"app.server"},
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("HealthCheck() before Init = %v, want ErrNotInitialized", err)
	}

	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables := []string{"metadata", "resources", "attributes", "blueprint_modules", "runs"}
	for _, table := range tables {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Running the migrations again is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() failed: %v", err)
	}
}

func TestFileDatabaseExistsAndDestroy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zilla.db")
	if Exists(path) {
		t.Fatal("database exists before creation")
	}

	store, err := NewSQLiteStore(Config{Path: path})
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
	if err := store.SetMetadata(ctx, "owner", "ops"); err != nil {
		t.Fatalf("failed to set metadata: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	if !Exists(path) {
		t.Fatal("database file missing after creation")
	}
	if err := Destroy(path); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if Exists(path) {
		t.Fatal("database file still present after Destroy()")
	}
	if err := Destroy(path); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Destroy() error = %v, want ErrNotFound", err)
	}
}

func TestResourceCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := testResource("app.data")
	if err := store.CreateResource(ctx, rec); err != nil {
		t.Fatalf("failed to create resource: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("CreateResource() did not assign an ID")
	}

	if err := store.CreateResource(ctx, testResource("app.data")); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate CreateResource() error = %v, want ErrAlreadyExists", err)
	}

	got, err := store.GetResource(ctx, "app.data")
	if err != nil {
		t.Fatalf("failed to get resource: %v", err)
	}
	if got.Type != "null.volume" || got.VersionMajor != 1 || got.VersionName != "FCS" {
		t.Errorf("unexpected resource %+v", got)
	}
	if len(got.DependsOn) != 1 || got.DependsOn[0] != "app.server" {
		t.Errorf("DependsOn = %v, want [app.server]", got.DependsOn)
	}

	if err := store.UpdateResourceVersion(ctx, "app.data", 1, 2, 3, ""); err != nil {
		t.Fatalf("failed to update version: %v", err)
	}
	got, _ = store.GetResource(ctx, "app.data")
	if got.VersionMinor != 2 || got.VersionBuild != 3 || got.VersionName != "" {
		t.Errorf("version not updated: %+v", got)
	}

	if err := store.CreateResource(ctx, testResource("app.alpha")); err != nil {
		t.Fatalf("failed to create resource: %v", err)
	}
	list, err := store.ListResources(ctx)
	if err != nil {
		t.Fatalf("failed to list resources: %v", err)
	}
	if len(list) != 2 || list[0].Path != "app.alpha" || list[1].Path != "app.data" {
		t.Fatalf("ListResources() not ordered by path: %+v", list)
	}

	if err := store.DeleteResource(ctx, "app.data"); err != nil {
		t.Fatalf("failed to delete resource: %v", err)
	}
	if _, err := store.GetResource(ctx, "app.data"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetResource() after delete = %v, want ErrNotFound", err)
	}
	if err := store.DeleteResource(ctx, "app.data"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second DeleteResource() = %v, want ErrNotFound", err)
	}
	if err := store.UpdateResourceVersion(ctx, "app.data", 2, 0, 0, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateResourceVersion() on missing = %v, want ErrNotFound", err)
	}
}

func TestAttributeOperations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.SetAttribute(ctx, "missing", "size", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetAttribute() on missing resource = %v, want ErrNotFound", err)
	}

	if err := store.CreateResource(ctx, testResource("app.data")); err != nil {
		t.Fatalf("failed to create resource: %v", err)
	}

	values := map[string]any{
		"size":   100,
		"format": "xfs",
		"tags":   []string{"a", "b"},
		"limits": map[string]any{"iops": 3000},
		"unset":  nil,
	}
	for name, v := range values {
		if err := store.SetAttribute(ctx, "app.data", name, v); err != nil {
			t.Fatalf("failed to set %s: %v", name, err)
		}
	}

	size, err := store.GetAttribute(ctx, "app.data", "size")
	if err != nil {
		t.Fatalf("failed to get size: %v", err)
	}
	if size != int64(100) {
		t.Errorf("size = %#v, want int64(100)", size)
	}

	// Upsert replaces the value.
	if err := store.SetAttribute(ctx, "app.data", "size", 200); err != nil {
		t.Fatalf("failed to update size: %v", err)
	}

	attrs, err := store.ListAttributes(ctx, "app.data")
	if err != nil {
		t.Fatalf("failed to list attributes: %v", err)
	}
	if len(attrs) != len(values) {
		t.Fatalf("got %d attributes, want %d", len(attrs), len(values))
	}
	if attrs["size"] != int64(200) {
		t.Errorf("size = %#v, want 200", attrs["size"])
	}
	if tags, ok := attrs["tags"].([]any); !ok || len(tags) != 2 || tags[0] != "a" {
		t.Errorf("tags = %#v", attrs["tags"])
	}
	if limits, ok := attrs["limits"].(map[string]any); !ok || limits["iops"] != int64(3000) {
		t.Errorf("limits = %#v", attrs["limits"])
	}
	if v, ok := attrs["unset"]; !ok || v != nil {
		t.Errorf("unset = %#v, want nil", v)
	}

	if err := store.DeleteAttribute(ctx, "app.data", "format"); err != nil {
		t.Fatalf("failed to delete attribute: %v", err)
	}
	if _, err := store.GetAttribute(ctx, "app.data", "format"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetAttribute() after delete = %v, want ErrNotFound", err)
	}
	if err := store.DeleteAttribute(ctx, "app.data", "format"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second DeleteAttribute() = %v, want ErrNotFound", err)
	}
}

// TestCascadeDelete tests foreign key cascading
func TestCascadeDelete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.SaveResource(ctx, testResource("app.data"), map[string]any{"size": 1, "format": "xfs"}); err != nil {
		t.Fatalf("failed to save resource: %v", err)
	}
	if err := store.DeleteResource(ctx, "app.data"); err != nil {
		t.Fatalf("failed to delete resource: %v", err)
	}

	var count int
	if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM attributes").Scan(&count); err != nil {
		t.Fatalf("failed to count attributes: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 attributes after cascade delete, got %d", count)
	}
}

func TestSaveResource(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := testResource("app.data")
	if err := store.SaveResource(ctx, rec, map[string]any{"size": 1, "format": "xfs"}); err != nil {
		t.Fatalf("failed to save resource: %v", err)
	}
	firstID := rec.ID

	updated := testResource("app.data")
	updated.VersionMinor = 1
	updated.DependsOn = nil
	if err := store.SaveResource(ctx, updated, map[string]any{"size": 2}); err != nil {
		t.Fatalf("failed to re-save resource: %v", err)
	}
	if updated.ID != firstID {
		t.Errorf("re-save changed the ID from %s to %s", firstID, updated.ID)
	}

	got, err := store.GetResource(ctx, "app.data")
	if err != nil {
		t.Fatalf("failed to get resource: %v", err)
	}
	if got.VersionMinor != 1 || len(got.DependsOn) != 0 {
		t.Errorf("resource not updated: %+v", got)
	}

	attrs, err := store.ListAttributes(ctx, "app.data")
	if err != nil {
		t.Fatalf("failed to list attributes: %v", err)
	}
	if len(attrs) != 1 || attrs["size"] != int64(2) {
		t.Errorf("attributes = %v, want only size=2", attrs)
	}
}

func TestSaveResourceRollsBack(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// A channel cannot be JSON encoded, which fails the transaction after
	// the resource row was written.
	err := store.SaveResource(ctx, testResource("app.data"), map[string]any{"a": 1, "b": make(chan int)})
	if err == nil {
		t.Fatal("expected SaveResource() to fail")
	}

	if _, err := store.GetResource(ctx, "app.data"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("resource persisted despite rollback: %v", err)
	}
}

func TestMetadataOperations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.GetMetadata(ctx, "owner"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetMetadata() on missing key = %v, want ErrNotFound", err)
	}

	ok, err := store.HasMetadata(ctx, "owner")
	if err != nil || ok {
		t.Fatalf("HasMetadata() = (%v, %v), want (false, nil)", ok, err)
	}

	if err := store.SetMetadata(ctx, "owner", "ops"); err != nil {
		t.Fatalf("failed to set metadata: %v", err)
	}
	if err := store.SetMetadata(ctx, "owner", map[string]any{"team": "ops", "size": 3}); err != nil {
		t.Fatalf("failed to replace metadata: %v", err)
	}

	v, err := store.GetMetadata(ctx, "owner")
	if err != nil {
		t.Fatalf("failed to get metadata: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["team"] != "ops" || m["size"] != int64(3) {
		t.Errorf("metadata = %#v", v)
	}

	ok, err = store.HasMetadata(ctx, "owner")
	if err != nil || !ok {
		t.Fatalf("HasMetadata() = (%v, %v), want (true, nil)", ok, err)
	}

	if err := store.DeleteMetadata(ctx, "owner"); err != nil {
		t.Fatalf("failed to delete metadata: %v", err)
	}
	if err := store.DeleteMetadata(ctx, "owner"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second DeleteMetadata() = %v, want ErrNotFound", err)
	}
}

func TestBlueprintModules(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := []BlueprintModule{
		{Path: "servers/web.cue", Data: "resources: {}"},
		{Path: "app.cue", Data: "classes: {}"},
	}
	if err := store.ReplaceBlueprintModules(ctx, first); err != nil {
		t.Fatalf("failed to store modules: %v", err)
	}

	modules, err := store.ListBlueprintModules(ctx)
	if err != nil {
		t.Fatalf("failed to list modules: %v", err)
	}
	if len(modules) != 2 || modules[0].Path != "app.cue" {
		t.Fatalf("modules = %+v", modules)
	}

	if err := store.ReplaceBlueprintModules(ctx, []BlueprintModule{{Path: "only.cue", Data: "x: 1"}}); err != nil {
		t.Fatalf("failed to replace modules: %v", err)
	}
	modules, _ = store.ListBlueprintModules(ctx)
	if len(modules) != 1 || modules[0].Data != "x: 1" {
		t.Fatalf("modules after replace = %+v", modules)
	}

	// Duplicate paths abort the replacement and keep the old blueprint.
	dup := []BlueprintModule{{Path: "a.cue"}, {Path: "a.cue"}}
	if err := store.ReplaceBlueprintModules(ctx, dup); err == nil {
		t.Fatal("expected duplicate module paths to fail")
	}
	modules, _ = store.ListBlueprintModules(ctx)
	if len(modules) != 1 || modules[0].Path != "only.cue" {
		t.Fatalf("modules after failed replace = %+v", modules)
	}

	if err := store.DeleteBlueprintModules(ctx); err != nil {
		t.Fatalf("failed to delete modules: %v", err)
	}
	modules, _ = store.ListBlueprintModules(ctx)
	if len(modules) != 0 {
		t.Fatalf("modules after delete = %+v", modules)
	}
}

// TestRunCRUD tests Run CRUD operations
func TestRunCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	older := &Run{Status: RunStatusSucceeded, Blueprint: "./old", StartedAt: time.Now().UTC().Add(-time.Hour)}
	if err := store.CreateRun(ctx, older); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	run := &Run{Status: RunStatusRunning, Blueprint: "./bp"}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if run.ID == "" || run.StartedAt.IsZero() {
		t.Fatal("CreateRun() did not stamp ID and start time")
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != RunStatusRunning || got.CompletedAt != nil || got.Error != nil {
		t.Errorf("unexpected run %+v", got)
	}

	msg := "boom"
	run.Status = RunStatusFailed
	run.Error = &msg
	run.Summary = map[string]int{"create": 2}
	if err := store.UpdateRun(ctx, run); err != nil {
		t.Fatalf("failed to update run: %v", err)
	}

	got, err = store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != RunStatusFailed || got.Error == nil || *got.Error != "boom" {
		t.Errorf("run not updated: %+v", got)
	}
	if got.CompletedAt == nil {
		t.Error("terminal run has no completion time")
	}
	if got.Summary["create"] != 2 {
		t.Errorf("summary = %v", got.Summary)
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != run.ID {
		t.Fatalf("ListRuns() not newest first: %+v", runs)
	}

	page, err := store.ListRuns(ctx, 1, 1)
	if err != nil {
		t.Fatalf("failed to page runs: %v", err)
	}
	if len(page) != 1 || page[0].ID != older.ID {
		t.Fatalf("second page = %+v", page)
	}

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRun() on missing = %v, want ErrNotFound", err)
	}
	if err := store.UpdateRun(ctx, &Run{ID: "missing", Status: RunStatusRunning}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateRun() on missing = %v, want ErrNotFound", err)
	}
}
