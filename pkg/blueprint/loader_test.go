package blueprint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackzilla/stackzilla/pkg/provider/null"
	"github.com/stackzilla/stackzilla/pkg/resource"
)

const mainModule = `
classes: BigVolume: {
	extends: "null.volume"
	version: "1.1.0"
	attributes: size: {default: 100, required: true}
}

resources: {
	Data: {
		type: "BigVolume"
		depends_on: ["Web"]
		attributes: format: "fat"
	}
	Web: {
		type: "null.instance"
		attributes: type: "large"
	}
}
`

const storageModule = `
classes = {
    "FastVolume": {
        "extends": "main.BigVolume",
        "attributes": {
            "format": {"default": "hdfs", "choices": ["hdfs", "xfs"]},
        },
    },
}

resources = {
    "Db": {
        "type": "FastVolume",
        "depends_on": ["main.Web"],
        "attributes": {"size": 5},
    },
}
`

func newTestLoader(t *testing.T, opts ...LoaderOption) (*Loader, *resource.Registry) {
	t.Helper()

	reg := resource.NewRegistry()
	if err := null.Register(reg, null.NewHandler(zerolog.Nop())); err != nil {
		t.Fatalf("failed to register null provider: %v", err)
	}

	loader, err := NewLoader(reg, zerolog.Nop(), opts...)
	if err != nil {
		t.Fatalf("failed to create loader: %v", err)
	}
	return loader, reg
}

func testModules() []Module {
	return []Module{
		{Path: "main.cue", Data: mainModule},
		{Path: "storage/db.star", Data: storageModule},
	}
}

func TestValidatorIdentifier(t *testing.T) {
	v, err := newValidator()
	if err != nil {
		t.Fatalf("newValidator failed: %v", err)
	}

	tests := []struct {
		value string
		valid bool
	}{
		{"Web", true},
		{"_data_1", true},
		{"1web", false},
		{"web-server", false},
		{"", false},
	}

	for _, tt := range tests {
		err := v.Var(tt.value, "identifier")
		if (err == nil) != tt.valid {
			t.Errorf("identifier %q: error = %v, want valid=%v", tt.value, err, tt.valid)
		}
	}
}

func TestModuleName(t *testing.T) {
	tests := []struct {
		path   string
		name   string
		format string
	}{
		{"main.cue", "main", FormatCUE},
		{"servers/web.cue", "servers.web", FormatCUE},
		{"a/b/c.star", "a.b.c", FormatStarlark},
	}

	for _, tt := range tests {
		m := Module{Path: tt.path}
		if got := m.Name(); got != tt.name {
			t.Errorf("Module{%s}.Name() = %s, want %s", tt.path, got, tt.name)
		}
		if got := m.Format(); got != tt.format {
			t.Errorf("Module{%s}.Format() = %s, want %s", tt.path, got, tt.format)
		}
	}
}

func TestLoadModules(t *testing.T) {
	loader, _ := newTestLoader(t)

	bp, err := loader.LoadModules(context.Background(), testModules())
	if err != nil {
		t.Fatalf("LoadModules failed: %v", err)
	}

	wantPaths := []string{"main.Data", "main.Web", "storage.db.Db"}
	paths := bp.Paths()
	if strings.Join(paths, ",") != strings.Join(wantPaths, ",") {
		t.Fatalf("Paths() = %v, want %v", paths, wantPaths)
	}

	data := bp.Resources["main.Data"]
	if data.Type() != "main.BigVolume" {
		t.Errorf("main.Data type = %s, want main.BigVolume", data.Type())
	}
	if data.Version().String() != "1.1.0" {
		t.Errorf("main.Data version = %s, want 1.1.0", data.Version())
	}
	if got := data.MustGet("size"); got != int64(100) {
		t.Errorf("main.Data size = %v (%T), want 100", got, got)
	}
	if got := data.MustGet("format"); got != "fat" {
		t.Errorf("main.Data format = %v, want fat", got)
	}
	if deps := data.DependsOn(); len(deps) != 1 || deps[0] != "main.Web" {
		t.Errorf("main.Data depends_on = %v, want [main.Web]", deps)
	}

	db := bp.Resources["storage.db.Db"]
	if db.Type() != "storage.db.FastVolume" {
		t.Errorf("storage.db.Db type = %s", db.Type())
	}
	// Inherited from main.BigVolume.
	if db.Version().String() != "1.1.0" {
		t.Errorf("storage.db.Db version = %s, want 1.1.0", db.Version())
	}
	if got := db.MustGet("format"); got != "hdfs" {
		t.Errorf("storage.db.Db format = %v, want hdfs", got)
	}
	if got := db.MustGet("size"); got != int64(5) {
		t.Errorf("storage.db.Db size = %v (%T), want 5", got, got)
	}

	volume := bp.Classes["storage.db.FastVolume"]
	base := bp.Classes["main.BigVolume"]
	if volume == nil || base == nil || !volume.IsA(base) {
		t.Fatalf("FastVolume does not extend BigVolume")
	}
	lineage := strings.Join(volume.Lineage(), ",")
	if lineage != "storage.db.FastVolume,main.BigVolume,null.volume,null.base" {
		t.Errorf("lineage = %s", lineage)
	}

	if err := bp.Verify(); err != nil {
		t.Errorf("Verify failed: %v", err)
	}

	stored := bp.StoredModules()
	if len(stored) != 2 || stored[0].Path != "main.cue" || stored[0].Data != mainModule {
		t.Errorf("StoredModules() = %+v", stored)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"main.cue":           mainModule,
		"storage/db.star":    storageModule,
		"README.md":          "ignored",
		".hidden.cue":        "not cue at all {",
		".git/config.cue":    "not cue at all {",
		"cue.mod/module.cue": `module: "example.com/infra"`,
		"storage/notes.txt":  "ignored",
	}
	for name, data := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir failed: %v", err)
		}
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	modules, err := ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(modules) != 2 || modules[0].Path != "main.cue" || modules[1].Path != "storage/db.star" {
		t.Fatalf("ReadDir() = %+v", modules)
	}

	loader, _ := newTestLoader(t)
	bp, err := loader.LoadDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if len(bp.Resources) != 3 {
		t.Errorf("got %d resources, want 3", len(bp.Resources))
	}

	if _, err := ReadDir(filepath.Join(dir, "missing")); err == nil {
		t.Error("ReadDir on a missing directory succeeded")
	}
	if _, err := ReadDir(filepath.Join(dir, "main.cue")); err == nil {
		t.Error("ReadDir on a file succeeded")
	}
}

func TestLoadModulesErrors(t *testing.T) {
	tests := []struct {
		name    string
		modules []Module
		want    string
	}{
		{
			name:    "cue syntax error",
			modules: []Module{{Path: "main.cue", Data: "resources: {"}},
			want:    "main.cue",
		},
		{
			name:    "missing type",
			modules: []Module{{Path: "main.cue", Data: `resources: Web: attributes: type: "large"`}},
			want:    "main.cue",
		},
		{
			name:    "invalid resource name",
			modules: []Module{{Path: "main.cue", Data: `resources: "bad-name": type: "null.instance"`}},
			want:    "main.cue",
		},
		{
			name:    "invalid class version",
			modules: []Module{{Path: "main.cue", Data: `classes: V: {extends: "null.base", version: "one"}`}},
			want:    "main.cue",
		},
		{
			name:    "unknown class",
			modules: []Module{{Path: "main.cue", Data: `resources: Web: type: "aws.instance"`}},
			want:    "resource class not found",
		},
		{
			name:    "unknown parent",
			modules: []Module{{Path: "main.cue", Data: `classes: X: extends: "Missing"`}},
			want:    "resource class not found",
		},
		{
			name:    "unknown attribute",
			modules: []Module{{Path: "main.cue", Data: `resources: Web: {type: "null.instance", attributes: color: "red"}`}},
			want:    "attribute not found",
		},
		{
			name: "class cycle",
			modules: []Module{{Path: "main.cue", Data: `
classes: A: extends: "B"
classes: B: extends: "A"
`}},
			want: "cycle",
		},
		{
			name:    "starlark syntax error",
			modules: []Module{{Path: "main.star", Data: "resources = {"}},
			want:    "main.star",
		},
		{
			name:    "starlark runtime error",
			modules: []Module{{Path: "main.star", Data: "resources = {'Web': 1 // 0}"}},
			want:    "main.star",
		},
		{
			name:    "starlark unsupported value",
			modules: []Module{{Path: "main.star", Data: "resources = {'Web': {'type': len}}"}},
			want:    "unsupported starlark type",
		},
		{
			name:    "unsupported format",
			modules: []Module{{Path: "main.yaml", Data: "resources: {}"}},
			want:    "unsupported module format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader, _ := newTestLoader(t)

			_, err := loader.LoadModules(context.Background(), tt.modules)
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("error = %v, want *ParseError", err)
			}
			if len(perr.Errors) == 0 {
				t.Fatal("ParseError has no errors")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestLoadModulesCollectsAllErrors(t *testing.T) {
	loader, _ := newTestLoader(t)

	_, err := loader.LoadModules(context.Background(), []Module{
		{Path: "a.cue", Data: `resources: Web: type: "aws.instance"`},
		{Path: "b.cue", Data: `resources: Db: type: "gcp.sql"`},
	})
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *ParseError", err)
	}
	if len(perr.Errors) != 2 {
		t.Fatalf("got %d errors, want 2: %v", len(perr.Errors), perr)
	}
	if perr.Errors[0].File != "a.cue" || perr.Errors[1].File != "b.cue" {
		t.Errorf("errors not attributed to their files: %+v", perr.Errors)
	}
}

func TestParseModule(t *testing.T) {
	loader, _ := newTestLoader(t)

	spec, err := loader.ParseModule(context.Background(), Module{Path: "main.cue", Data: mainModule})
	if err != nil {
		t.Fatalf("ParseModule failed: %v", err)
	}
	if len(spec.Classes) != 1 || len(spec.Resources) != 2 {
		t.Fatalf("spec = %+v", spec)
	}
	if !spec.Classes["BigVolume"].Attributes["size"].Required {
		t.Error("size should be required")
	}
	if spec.Resources["Data"].Type != "BigVolume" {
		t.Errorf("Data type = %s", spec.Resources["Data"].Type)
	}
}

func TestStarlarkStruct(t *testing.T) {
	loader, _ := newTestLoader(t)

	bp, err := loader.LoadModules(context.Background(), []Module{{
		Path: "main.star",
		Data: `
web = struct(type = "null.instance", attributes = {"type": "small"})
resources = {"Web": web}
`,
	}})
	if err != nil {
		t.Fatalf("LoadModules failed: %v", err)
	}
	if got := bp.Resources["main.Web"].MustGet("type"); got != "small" {
		t.Errorf("type = %v, want small", got)
	}
}

func TestStarlarkTimeout(t *testing.T) {
	loader, _ := newTestLoader(t, WithStarlarkTimeout(20*time.Millisecond))

	_, err := loader.LoadModules(context.Background(), []Module{{
		Path: "main.star",
		Data: `
def spin():
    for i in range(1000000000):
        pass

spin()
`,
	}})
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *ParseError", err)
	}
	if !strings.Contains(err.Error(), "cancel") {
		t.Errorf("error %q does not mention cancellation", err)
	}
}

func TestLoadModulesCancelled(t *testing.T) {
	loader, _ := newTestLoader(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := loader.LoadModules(ctx, testModules()); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
