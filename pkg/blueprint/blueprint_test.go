package blueprint

import (
	"context"
	"errors"
	"testing"

	"github.com/stackzilla/stackzilla/pkg/resource"
)

func TestVerify(t *testing.T) {
	loader, _ := newTestLoader(t)

	bp, err := loader.LoadModules(context.Background(), []Module{{
		Path: "main.cue",
		Data: `
resources: {
	Web: {type: "null.instance", attributes: type: "huge"}
	Data: {type: "null.volume", depends_on: ["Web", "other.Missing"]}
	A: {type: "null.base", depends_on: ["B"]}
	B: {type: "null.base", depends_on: ["C"]}
	C: {type: "null.base", depends_on: ["A"]}
}
`,
	}})
	if err != nil {
		t.Fatalf("LoadModules failed: %v", err)
	}

	err = bp.Verify()
	var failure *VerifyFailure
	if !errors.As(err, &failure) {
		t.Fatalf("Verify error = %v, want *VerifyFailure", err)
	}

	var (
		verifyErrs []string
		unknown    []string
		cycles     [][]string
	)
	for _, e := range failure.Errors {
		var verr *resource.VerifyError
		var derr *DependencyError
		switch {
		case errors.As(e, &verr):
			verifyErrs = append(verifyErrs, verr.Resource)
		case errors.As(e, &derr) && len(derr.Cycle) > 0:
			cycles = append(cycles, derr.Cycle)
		case errors.As(e, &derr):
			unknown = append(unknown, derr.Dependency)
		default:
			t.Errorf("unexpected error type %T: %v", e, e)
		}
	}

	// main.Data misses size, main.Web has an invalid type.
	if len(verifyErrs) != 2 || verifyErrs[0] != "main.Data" || verifyErrs[1] != "main.Web" {
		t.Errorf("verify errors for %v, want [main.Data main.Web]", verifyErrs)
	}
	if len(unknown) != 1 || unknown[0] != "other.Missing" {
		t.Errorf("unknown dependencies = %v, want [other.Missing]", unknown)
	}
	if len(cycles) != 1 {
		t.Fatalf("got %d cycles, want 1: %v", len(cycles), cycles)
	}
	want := []string{"main.A", "main.B", "main.C", "main.A"}
	if len(cycles[0]) != len(want) {
		t.Fatalf("cycle = %v, want %v", cycles[0], want)
	}
	for i := range want {
		if cycles[0][i] != want[i] {
			t.Errorf("cycle = %v, want %v", cycles[0], want)
			break
		}
	}
}

func TestVerifySelfDependency(t *testing.T) {
	loader, _ := newTestLoader(t)

	bp, err := loader.LoadModules(context.Background(), []Module{{
		Path: "main.cue",
		Data: `resources: A: {type: "null.base", depends_on: ["A"]}`,
	}})
	if err != nil {
		t.Fatalf("LoadModules failed: %v", err)
	}

	var derr *DependencyError
	if err := bp.Verify(); !errors.As(err, &derr) {
		t.Fatalf("Verify error = %v, want *DependencyError", err)
	}
	if len(derr.Cycle) != 2 {
		t.Errorf("cycle = %v, want [main.A main.A]", derr.Cycle)
	}
}

func TestModulesFromStore(t *testing.T) {
	bp := &Blueprint{Modules: testModules()}

	back := ModulesFromStore(bp.StoredModules())
	if len(back) != len(bp.Modules) {
		t.Fatalf("got %d modules, want %d", len(back), len(bp.Modules))
	}
	for i := range back {
		if back[i] != bp.Modules[i] {
			t.Errorf("module %d = %+v, want %+v", i, back[i], bp.Modules[i])
		}
	}
}
