package blueprint

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/stackzilla/stackzilla/pkg/attribute"
	"github.com/stackzilla/stackzilla/pkg/resource"
)

// Supported module formats.
const (
	FormatCUE      = "cue"
	FormatStarlark = "star"
)

// Loader turns blueprint modules into resource classes and instances.
type Loader struct {
	registry *resource.Registry
	logger   zerolog.Logger
	validate *validator.Validate

	starlarkTimeout time.Duration

	// cue.Context is not safe for concurrent use.
	mu     sync.Mutex
	cue    *cue.Context
	schema cue.Value
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithStarlarkTimeout bounds the execution time of each .star module.
func WithStarlarkTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) { l.starlarkTimeout = d }
}

// NewLoader creates a loader resolving provider types from registry.
func NewLoader(registry *resource.Registry, logger zerolog.Logger, opts ...LoaderOption) (*Loader, error) {
	ctx := cuecontext.New()
	schema, err := compileSchema(ctx)
	if err != nil {
		return nil, err
	}
	validate, err := newValidator()
	if err != nil {
		return nil, err
	}

	l := &Loader{
		registry:        registry,
		logger:          logger.With().Str("component", "blueprint").Logger(),
		validate:        validate,
		starlarkTimeout: 30 * time.Second,
		cue:             ctx,
		schema:          schema,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// ReadDir reads every module below dir. Hidden entries and the cue.mod
// directory are skipped.
func ReadDir(dir string) ([]Module, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat blueprint %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("blueprint %s is not a directory", dir)
	}

	var modules []Module
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		name := d.Name()
		if d.IsDir() {
			if path != dir && (strings.HasPrefix(name, ".") || name == "cue.mod") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !isModuleFile(name) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read module %s: %w", path, err)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		modules = append(modules, Module{Path: filepath.ToSlash(rel), Data: string(data)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk blueprint %s: %w", dir, err)
	}

	sort.Slice(modules, func(i, j int) bool { return modules[i].Path < modules[j].Path })
	return modules, nil
}

func isModuleFile(name string) bool {
	switch strings.TrimPrefix(filepath.Ext(name), ".") {
	case FormatCUE, FormatStarlark:
		return true
	}
	return false
}

// LoadDir reads and loads the blueprint rooted at dir.
func (l *Loader) LoadDir(ctx context.Context, dir string) (*Blueprint, error) {
	modules, err := ReadDir(dir)
	if err != nil {
		return nil, err
	}
	l.logger.Debug().Str("dir", dir).Int("modules", len(modules)).Msg("Read blueprint modules")
	return l.LoadModules(ctx, modules)
}

// ParseModule decodes a single module without resolving its classes.
func (l *Loader) ParseModule(ctx context.Context, m Module) (*ModuleSpec, error) {
	spec, errs := l.parseModule(ctx, m)
	if len(errs) > 0 {
		return nil, &ParseError{Errors: errs}
	}
	return spec, nil
}

func (l *Loader) parseModule(ctx context.Context, m Module) (*ModuleSpec, []ValidationError) {
	switch m.Format() {
	case FormatCUE:
		l.mu.Lock()
		defer l.mu.Unlock()

		val := l.cue.CompileString(m.Data, cue.Filename(m.Path))
		if err := val.Err(); err != nil {
			return nil, convertCUEErrors(err, m.Path)
		}
		return decodeModule(l.schema, val, l.validate, m.Path)

	case FormatStarlark:
		globals, errs := l.evalStarlark(ctx, m)
		if len(errs) > 0 {
			return nil, errs
		}

		l.mu.Lock()
		defer l.mu.Unlock()

		val := l.cue.Encode(globals)
		if err := val.Err(); err != nil {
			return nil, convertCUEErrors(err, m.Path)
		}
		return decodeModule(l.schema, val, l.validate, m.Path)

	default:
		return nil, []ValidationError{{File: m.Path, Message: fmt.Sprintf("unsupported module format %q", m.Format())}}
	}
}

// classDef is a parsed blueprint class awaiting resolution.
type classDef struct {
	module string
	file   string
	name   string
	spec   ClassSpec
}

// build holds the state of one LoadModules call.
type build struct {
	loader    *Loader
	defs      map[string]*classDef
	classes   map[string]*resource.Class
	failed    map[string]error
	resolving map[string]bool
	errs      []ValidationError
}

// LoadModules parses every module, resolves blueprint classes against each
// other and the provider registry, and instantiates every resource.
func (l *Loader) LoadModules(ctx context.Context, modules []Module) (*Blueprint, error) {
	b := &build{
		loader:    l,
		defs:      make(map[string]*classDef),
		classes:   make(map[string]*resource.Class),
		failed:    make(map[string]error),
		resolving: make(map[string]bool),
	}

	type parsed struct {
		module Module
		spec   *ModuleSpec
	}
	var specs []parsed

	for _, m := range modules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		spec, errs := l.parseModule(ctx, m)
		if len(errs) > 0 {
			b.errs = append(b.errs, errs...)
			continue
		}
		specs = append(specs, parsed{module: m, spec: spec})

		for _, name := range sortedKeys(spec.Classes) {
			full := qualify(m.Name(), name)
			b.defs[full] = &classDef{module: m.Name(), file: m.Path, name: full, spec: spec.Classes[name]}
		}
	}

	for _, name := range sortedKeys(b.defs) {
		b.resolveClass(name)
	}

	bp := &Blueprint{
		Modules:   append([]Module(nil), modules...),
		Classes:   b.classes,
		Resources: make(map[string]*resource.Resource),
	}

	for _, p := range specs {
		for _, name := range sortedKeys(p.spec.Resources) {
			r := b.buildResource(p.module, name, p.spec.Resources[name])
			if r != nil {
				bp.Resources[r.Path()] = r
			}
		}
	}

	if len(b.errs) > 0 {
		return nil, &ParseError{Errors: b.errs}
	}

	l.logger.Debug().
		Int("modules", len(modules)).
		Int("classes", len(bp.Classes)).
		Int("resources", len(bp.Resources)).
		Msg("Blueprint loaded")

	return bp, nil
}

func qualify(module, name string) string {
	if module == "" {
		return name
	}
	return module + "." + name
}

// lookupClass resolves a class reference made from within module.
func (b *build) lookupClass(ref, module string) (*resource.Class, error) {
	candidates := []string{ref}
	if !strings.Contains(ref, ".") {
		candidates = []string{qualify(module, ref), ref}
	}

	for _, name := range candidates {
		if _, ok := b.defs[name]; ok {
			return b.resolveClass(name)
		}
	}
	for _, name := range candidates {
		if c, err := b.loader.registry.Lookup(name); err == nil {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", resource.ErrClassNotFound, ref)
}

// resolveClass builds a blueprint class after its parent, detecting
// inheritance cycles.
func (b *build) resolveClass(name string) (*resource.Class, error) {
	if c, ok := b.classes[name]; ok {
		return c, nil
	}
	if err, ok := b.failed[name]; ok {
		return nil, err
	}

	def := b.defs[name]
	if b.resolving[name] {
		return nil, fmt.Errorf("class inheritance cycle through %s", name)
	}
	b.resolving[name] = true
	defer delete(b.resolving, name)

	parent, err := b.lookupClass(def.spec.Extends, def.module)
	if err != nil {
		b.failed[name] = err
		b.fail(def.file, "classes."+name, err)
		return nil, err
	}

	opts := []resource.ClassOption{
		resource.WithAttributes(attributeDecls(def.spec.Attributes)...),
		resource.WithDescription(def.spec.Description),
	}
	if def.spec.Version != "" {
		v, err := resource.ParseVersion(def.spec.Version)
		if err != nil {
			b.failed[name] = err
			b.fail(def.file, "classes."+name, err)
			return nil, err
		}
		opts = append(opts, resource.WithVersion(v))
	}

	c, err := resource.NewClass(name, parent, opts...)
	if err != nil {
		b.failed[name] = err
		b.fail(def.file, "classes."+name, err)
		return nil, err
	}
	b.classes[name] = c
	return c, nil
}

func attributeDecls(specs map[string]AttributeSpec) []*attribute.Attribute {
	decls := make([]*attribute.Attribute, 0, len(specs))
	for _, name := range sortedKeys(specs) {
		s := specs[name]
		var opts []attribute.Option
		if s.Required {
			opts = append(opts, attribute.Required())
		}
		if s.Default != nil {
			opts = append(opts, attribute.Default(s.Default))
		}
		if len(s.Choices) > 0 {
			opts = append(opts, attribute.Choices(s.Choices...))
		}
		if s.ModifyRebuild {
			opts = append(opts, attribute.ModifyRebuild())
		}
		if s.Dynamic {
			opts = append(opts, attribute.Dynamic())
		}
		if s.Secret {
			opts = append(opts, attribute.Secret())
		}
		if s.Description != "" {
			opts = append(opts, attribute.Description(s.Description))
		}
		decls = append(decls, attribute.New(name, opts...))
	}
	return decls
}

func (b *build) buildResource(m Module, name string, spec ResourceSpec) *resource.Resource {
	path := qualify(m.Name(), name)
	field := "resources." + name

	class, err := b.lookupClass(spec.Type, m.Name())
	if err != nil {
		b.fail(m.Path, field, err)
		return nil
	}

	r := resource.New(class, path)
	for _, attr := range sortedKeys(spec.Attributes) {
		if err := r.Set(attr, spec.Attributes[attr]); err != nil {
			b.fail(m.Path, field, err)
		}
	}

	deps := make([]string, 0, len(spec.DependsOn))
	for _, dep := range spec.DependsOn {
		if !strings.Contains(dep, ".") {
			dep = qualify(m.Name(), dep)
		}
		deps = append(deps, dep)
	}
	r.SetDependsOn(deps)
	return r
}

func (b *build) fail(file, path string, err error) {
	b.errs = append(b.errs, ValidationError{File: file, Path: path, Message: err.Error()})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
