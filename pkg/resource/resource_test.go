package resource

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stackzilla/stackzilla/pkg/attribute"
)

func names(attrs []*attribute.Attribute) []string {
	out := make([]string, len(attrs))
	for i, a := range attrs {
		out[i] = a.Name
	}
	return out
}

func TestClassResolutionOrderAndOverride(t *testing.T) {
	base := MustClass("test.base", nil,
		WithVersion(Version{Major: 1}),
		WithAttributes(
			attribute.New("a", attribute.Default(1)),
			attribute.New("x", attribute.Default(42)),
		),
	)
	derived := MustClass("test.derived", base,
		WithAttributes(
			attribute.New("z", attribute.Default("zed")),
			attribute.New("x", attribute.Default(88)),
		),
	)

	if got, want := names(derived.Attributes()), []string{"a", "x", "z"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected order %v, got %v", want, got)
	}

	x, ok := derived.Attribute("x")
	if !ok {
		t.Fatal("expected x on derived class")
	}
	if x.Default != int64(88) {
		t.Errorf("expected overridden default 88, got %v", x.Default)
	}

	bx, _ := base.Attribute("x")
	if bx.Default != int64(42) {
		t.Errorf("base declaration changed: %v", bx.Default)
	}

	if derived.Version() != base.Version() {
		t.Errorf("expected inherited version %v, got %v", base.Version(), derived.Version())
	}
	if !derived.IsA(base) || base.IsA(derived) {
		t.Error("unexpected IsA result")
	}
	if got := derived.Lineage(); !reflect.DeepEqual(got, []string{"test.derived", "test.base"}) {
		t.Errorf("unexpected lineage %v", got)
	}
}

func TestNewClassErrors(t *testing.T) {
	if _, err := NewClass("", nil); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := NewClass("dup", nil, WithAttributes(attribute.New("a"), attribute.New("a"))); err == nil {
		t.Error("expected error for duplicate attribute")
	}
	if _, err := NewClass("bad", nil, WithAttributes(attribute.New("a", attribute.Default("q"), attribute.Choices("x")))); err == nil {
		t.Error("expected error for invalid declaration")
	}
}

func TestResourceSeededFromDefaults(t *testing.T) {
	class := MustClass("test.volume", nil, WithAttributes(
		attribute.New("size", attribute.Required()),
		attribute.New("format", attribute.Default("xfs"), attribute.Choices("xfs", "fat")),
	))

	r := New(class, "volumes.Data")

	if r.Path() != "volumes.Data" || r.Type() != "test.volume" {
		t.Errorf("unexpected identity %s", r)
	}
	if v := r.MustGet("format"); v != "xfs" {
		t.Errorf("expected format xfs, got %v", v)
	}
	if v := r.MustGet("size"); v != nil {
		t.Errorf("expected size nil, got %v", v)
	}

	if err := r.Set("size", 10); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v := r.MustGet("size"); v != int64(10) {
		t.Errorf("expected normalized size 10, got %#v", v)
	}

	if err := r.Set("missing", 1); !errors.Is(err, ErrAttributeNotFound) {
		t.Errorf("expected ErrAttributeNotFound, got %v", err)
	}
	if _, err := r.Get("missing"); !errors.Is(err, ErrAttributeNotFound) {
		t.Errorf("expected ErrAttributeNotFound, got %v", err)
	}
}

func TestVerify(t *testing.T) {
	class := MustClass("test.instance", nil, WithAttributes(
		attribute.New("type", attribute.Required(), attribute.Choices("large", "medium", "small")),
		attribute.New("ip", attribute.Dynamic()),
	))

	r := New(class, "servers.Web")
	err := r.Verify()
	var verr *VerifyError
	if !errors.As(err, &verr) {
		t.Fatalf("expected VerifyError, got %v", err)
	}
	if len(verr.Errors) != 1 || verr.Errors[0].Name != "type" {
		t.Errorf("unexpected errors %+v", verr.Errors)
	}

	_ = r.Set("type", "huge")
	_ = r.Set("ip", "10.0.0.1")
	if err := r.Verify(); !errors.As(err, &verr) || len(verr.Errors) != 2 {
		t.Errorf("expected 2 verification errors, got %v", err)
	}

	_ = r.Set("type", "small")
	_ = r.Set("ip", nil)
	if err := r.Verify(); err != nil {
		t.Errorf("expected valid resource, got %v", err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	class := MustClass("test.tags", nil, WithAttributes(attribute.New("tags", attribute.Default([]any{"a"}))))
	r := New(class, "Tags")
	r.SetDependsOn([]string{"Other"})

	c := r.Clone()
	_ = c.Set("tags", []any{"b"})
	c.SetDependsOn(nil)

	if !attribute.Equal(r.MustGet("tags"), []any{"a"}) {
		t.Errorf("original changed: %v", r.MustGet("tags"))
	}
	if len(r.DependsOn()) != 1 {
		t.Errorf("original dependencies changed: %v", r.DependsOn())
	}
}

func TestPersistedVersions(t *testing.T) {
	class := MustClass("test.v", nil, WithVersion(MustParseVersion("1.1.0")))
	p := NewPersisted(New(class, "V"), MustParseVersion("1.0.0-FCS"))

	if p.Version().Minor != 1 {
		t.Errorf("expected current minor 1, got %v", p.Version())
	}
	if p.SavedVersion().Name != "FCS" || p.SavedVersion().Minor != 0 {
		t.Errorf("unexpected saved version %v", p.SavedVersion())
	}
	if !p.Version().Compatible(p.SavedVersion()) {
		t.Error("expected versions to be compatible")
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{in: "1.0.0", want: Version{Major: 1}},
		{in: "2.3.4-beta", want: Version{Major: 2, Minor: 3, Build: 4, Name: "beta"}},
		{in: "1.0", wantErr: true},
		{in: "v1.0.0", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseVersion(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseVersion(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseVersion(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

type recordingHandler struct{ created []string }

func (h *recordingHandler) Create(_ context.Context, r *Resource) error {
	h.created = append(h.created, r.Path())
	return nil
}
func (h *recordingHandler) Update(context.Context, *Resource, []Modification) error { return nil }
func (h *recordingHandler) Delete(context.Context, *Resource) error                 { return nil }

func TestHandlerInheritanceAndRegistry(t *testing.T) {
	h := &recordingHandler{}
	base := MustClass("test.base", nil, WithHandler(h))
	child := MustClass("test.child", base)

	if child.Handler() != h {
		t.Error("expected handler to be inherited")
	}

	reg := NewRegistry()
	reg.MustRegister(base, child)

	if err := reg.Register(base); !errors.Is(err, ErrDuplicateClass) {
		t.Errorf("expected ErrDuplicateClass, got %v", err)
	}
	if _, err := reg.Lookup("test.none"); !errors.Is(err, ErrClassNotFound) {
		t.Errorf("expected ErrClassNotFound, got %v", err)
	}
	got, err := reg.Lookup("test.child")
	if err != nil || got != child {
		t.Errorf("lookup returned %v, %v", got, err)
	}
	if !reflect.DeepEqual(reg.Names(), []string{"test.base", "test.child"}) {
		t.Errorf("unexpected names %v", reg.Names())
	}

	if err := child.Handler().Create(context.Background(), New(child, "C")); err != nil {
		t.Fatal(err)
	}
	if len(h.created) != 1 {
		t.Errorf("expected handler call, got %v", h.created)
	}
}
