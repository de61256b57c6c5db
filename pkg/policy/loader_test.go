package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const denyNothing = `package %s

import rego.v1

deny contains msg if {
	false
	msg := "never"
}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func denyNothingModule(pkg string) string {
	return strings.Replace(denyNothing, "%s", pkg, 1)
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "no-prod-deletes.rego")
	regoContent := `# Blocks deletes of production resources.
# Applies to every plan.
package custom.no_prod_deletes

import rego.v1

deny contains msg if {
	some unit in input.plan.units
	unit.operation == "delete"
	startswith(unit.path, "prod.")
	msg := sprintf("%s is a production resource", [unit.path])
}
`
	writeFile(t, policyFile, regoContent)

	policy, err := loader.loadFromFile(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "no-prod-deletes" {
		t.Errorf("Expected name 'no-prod-deletes', got '%s'", policy.Name)
	}
	if policy.Rego != regoContent {
		t.Error("Rego content doesn't match")
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
	if policy.Severity != SeverityError {
		t.Errorf("Expected severity error, got %s", policy.Severity)
	}
	if want := "Blocks deletes of production resources. Applies to every plan."; policy.Description != want {
		t.Errorf("Expected description %q, got %q", want, policy.Description)
	}
	if policy.Metadata["source"] != policyFile {
		t.Errorf("Expected source metadata, got %v", policy.Metadata)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policy := Policy{
		Name:        "test-json-policy",
		Description: "A test policy",
		Rego:        denyNothingModule("test"),
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"test"},
	}
	data, err := json.Marshal(policy)
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}

	policyFile := filepath.Join(t.TempDir(), "test-policy.json")
	writeFile(t, policyFile, string(data))

	loaded, err := loader.loadFromFile(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if loaded.Name != policy.Name {
		t.Errorf("Expected name '%s', got '%s'", policy.Name, loaded.Name)
	}
	if loaded.Description != policy.Description {
		t.Errorf("Expected description '%s', got '%s'", policy.Description, loaded.Description)
	}
	if loaded.Severity != policy.Severity {
		t.Errorf("Expected severity '%s', got '%s'", policy.Severity, loaded.Severity)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "policy.txt"), "text")
	writeFile(t, filepath.Join(dir, "broken.json"), "{invalid json}")
	writeFile(t, filepath.Join(dir, "unnamed.json"), `{"rego": "package x"}`)

	tests := []struct {
		name string
		file string
	}{
		{"unsupported type", "policy.txt"},
		{"invalid json", "broken.json"},
		{"missing name", "unnamed.json"},
		{"missing file", "absent.rego"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLoader(zerolog.Nop()).loadFromFile(filepath.Join(dir, tt.file)); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestLoadFromDirectory(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "policy1.rego"), denyNothingModule("policy1"))
	writeFile(t, filepath.Join(dir, "policy2.rego"), denyNothingModule("policy2"))
	writeFile(t, filepath.Join(dir, "nested", "deep", "policy3.rego"), denyNothingModule("policy3"))
	writeFile(t, filepath.Join(dir, "README.md"), "# Test")
	writeFile(t, filepath.Join(dir, "broken.json"), "{")

	loaded, err := loader.loadFromDirectory(dir)
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}

	if len(loaded) != 3 {
		t.Errorf("Expected 3 policies, got %d", len(loaded))
	}
}

func TestLoadFromPaths(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "a", "policy1.rego"), denyNothingModule("policy1"))
	writeFile(t, filepath.Join(dir, "b.rego"), denyNothingModule("b"))

	loaded, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(dir, "a"), filepath.Join(dir, "b.rego")})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("Expected 2 policies, got %d", len(loaded))
	}

	if _, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("Expected an error for a missing path")
	}
}

func TestLoadBundle(t *testing.T) {
	bundle := Bundle{
		Name:    "safety",
		Version: "1.0.0",
		Policies: []Policy{
			{Name: "one", Rego: denyNothingModule("one"), Enabled: true},
			{Name: "two", Rego: denyNothingModule("two"), Enabled: true},
		},
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("Failed to marshal bundle: %v", err)
	}
	path := filepath.Join(t.TempDir(), "bundle.json")
	writeFile(t, path, string(data))

	loaded, err := NewLoader(zerolog.Nop()).LoadBundle(path)
	if err != nil {
		t.Fatalf("LoadBundle failed: %v", err)
	}
	if loaded.Name != "safety" || loaded.Version != "1.0.0" || len(loaded.Policies) != 2 {
		t.Errorf("Unexpected bundle: %+v", loaded)
	}
}

func TestLoadFromPathsBundles(t *testing.T) {
	dir := t.TempDir()

	bundle := Bundle{
		Name:    "safety",
		Version: "1.0.0",
		Policies: []Policy{
			{Name: "one", Rego: denyNothingModule("one"), Enabled: true},
			{Name: "two", Rego: denyNothingModule("two"), Severity: SeverityWarning, Enabled: true},
		},
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("Failed to marshal bundle: %v", err)
	}
	bundlePath := filepath.Join(dir, "policies", "safety.bundle.json")
	writeFile(t, bundlePath, string(data))
	writeFile(t, filepath.Join(dir, "policies", "extra.rego"), denyNothingModule("extra"))
	writeFile(t, filepath.Join(dir, "unnamed.bundle.json"), `{"name": "bad", "policies": [{"rego": "package x"}]}`)

	tests := []struct {
		name    string
		path    string
		want    []string
		wantErr bool
	}{
		{name: "bundle file", path: bundlePath, want: []string{"one", "two"}},
		{name: "directory with bundle", path: filepath.Join(dir, "policies"), want: []string{"extra", "one", "two"}},
		{name: "invalid bundle", path: filepath.Join(dir, "unnamed.bundle.json"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loaded, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{tt.path})
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadFromPaths failed: %v", err)
			}

			var names []string
			for _, p := range loaded {
				names = append(names, p.Name)
				if p.Severity == "" {
					t.Errorf("policy %s has no severity", p.Name)
				}
				if p.Name != "extra" && p.Metadata["bundle"] != "safety" {
					t.Errorf("policy %s metadata = %v", p.Name, p.Metadata)
				}
			}
			sort.Strings(names)
			if !slices.Equal(names, tt.want) {
				t.Errorf("Expected policies %v, got %v", tt.want, names)
			}
		})
	}
}

func TestExtractDescription(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"single line", "# Checks things\npackage x", "Checks things"},
		{"multi line", "# Line one\n# Line two\n\npackage x", "Line one Line two"},
		{"blank comment lines", "#\n# Text\n#\npackage x", "Text"},
		{"no comments", "package x\n# trailing", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractDescription(tt.content); got != tt.want {
				t.Errorf("extractDescription() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClearCache(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	path := filepath.Join(t.TempDir(), "cached.rego")
	writeFile(t, path, denyNothingModule("first"))

	if _, err := loader.loadFromFile(path); err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	writeFile(t, path, denyNothingModule("second"))

	cached, _ := loader.loadFromFile(path)
	if !strings.Contains(cached.Rego, "first") {
		t.Error("Expected the cached policy")
	}

	loader.ClearCache()
	fresh, _ := loader.loadFromFile(path)
	if !strings.Contains(fresh.Rego, "second") {
		t.Error("Expected the policy to be reread after ClearCache")
	}
}

func TestLoaderWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.rego")
	writeFile(t, path, denyNothingModule("watched"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan []Policy, 1)
	done := make(chan error, 1)
	go func() {
		done <- NewLoader(zerolog.Nop()).Watch(ctx, []string{dir}, func(p []Policy) error {
			select {
			case reloaded <- p:
			default:
			}
			return nil
		})
	}()

	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(3 * ReloadDelay)
	defer tick.Stop()

	for {
		select {
		case policies := <-reloaded:
			if len(policies) != 1 || policies[0].Name != "watched" {
				t.Errorf("Unexpected reload: %+v", policies)
			}
			cancel()
			if err := <-done; err != nil {
				t.Errorf("Watch returned %v", err)
			}
			return
		case <-tick.C:
			writeFile(t, path, denyNothingModule("watched"))
		case <-deadline:
			t.Fatal("Timed out waiting for reload")
		}
	}
}
