package blueprint

import (
	"github.com/stackzilla/stackzilla/pkg/resource"
	"github.com/stackzilla/stackzilla/pkg/stores"
)

// Blueprint is a loaded set of modules with their resolved classes and
// resource instances, keyed by full path.
type Blueprint struct {
	Modules   []Module
	Classes   map[string]*resource.Class
	Resources map[string]*resource.Resource
}

// Paths returns the resource paths in sorted order.
func (b *Blueprint) Paths() []string {
	return sortedKeys(b.Resources)
}

// Verify checks every resource and its dependencies. It returns a
// *VerifyFailure listing every problem found, or nil.
func (b *Blueprint) Verify() error {
	var errs []error

	for _, path := range b.Paths() {
		r := b.Resources[path]
		if err := r.Verify(); err != nil {
			errs = append(errs, err)
		}
		for _, dep := range r.DependsOn() {
			if _, ok := b.Resources[dep]; !ok {
				errs = append(errs, &DependencyError{Resource: path, Dependency: dep})
			}
		}
	}

	errs = append(errs, b.dependencyCycles()...)

	if len(errs) > 0 {
		return &VerifyFailure{Errors: errs}
	}
	return nil
}

// dependencyCycles reports each dependency cycle once, named after the
// first resource on it in path order.
func (b *Blueprint) dependencyCycles() []error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(b.Resources))
	var stack []string
	var errs []error

	var visit func(path string)
	visit = func(path string) {
		state[path] = visiting
		stack = append(stack, path)

		for _, dep := range b.Resources[path].DependsOn() {
			if _, ok := b.Resources[dep]; !ok {
				continue
			}
			switch state[dep] {
			case unvisited:
				visit(dep)
			case visiting:
				start := 0
				for i, p := range stack {
					if p == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string(nil), stack[start:]...), dep)
				errs = append(errs, &DependencyError{Resource: dep, Cycle: cycle})
			}
		}

		stack = stack[:len(stack)-1]
		state[path] = done
	}

	for _, path := range b.Paths() {
		if state[path] == unvisited {
			visit(path)
		}
	}
	return errs
}

// StoredModules converts the modules for persistence.
func (b *Blueprint) StoredModules() []stores.BlueprintModule {
	out := make([]stores.BlueprintModule, len(b.Modules))
	for i, m := range b.Modules {
		out[i] = stores.BlueprintModule{Path: m.Path, Data: m.Data}
	}
	return out
}

// ModulesFromStore converts persisted modules back for loading.
func ModulesFromStore(stored []stores.BlueprintModule) []Module {
	out := make([]Module, len(stored))
	for i, m := range stored {
		out[i] = Module{Path: m.Path, Data: m.Data}
	}
	return out
}
