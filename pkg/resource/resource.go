// Package resource models infrastructure resources: class descriptors with
// resolved attribute declarations, instances holding attribute values, and
// the version metadata used to detect incompatible schema changes.
package resource

import (
	"fmt"

	"github.com/stackzilla/stackzilla/pkg/attribute"
)

// Resource is one instance of a class, identified by its blueprint path.
//
// A Resource is not safe for concurrent mutation. Callers that compare
// resources while other goroutines may modify them should compare clones.
type Resource struct {
	class     *Class
	path      string
	values    map[string]any
	dependsOn []string
}

// New creates an instance of class, seeding every attribute from its
// declared default.
func New(class *Class, path string) *Resource {
	if class == nil {
		panic("resource: New called with nil class")
	}

	r := &Resource{
		class:  class,
		path:   path,
		values: make(map[string]any, len(class.attrs)),
	}
	for _, a := range class.attrs {
		r.values[a.Name] = a.Initial()
	}
	return r
}

// Path returns the fully qualified name of the resource.
func (r *Resource) Path() string { return r.path }

// Class returns the descriptor of the resource.
func (r *Resource) Class() *Class { return r.class }

// Type returns the class name.
func (r *Resource) Type() string { return r.class.name }

// Version returns the version of the resource's current class.
func (r *Resource) Version() Version { return r.class.version }

// Attributes returns the effective declarations in resolution order.
func (r *Resource) Attributes() []*attribute.Attribute { return r.class.attrs }

// Attribute returns the declaration for name.
func (r *Resource) Attribute(name string) (*attribute.Attribute, bool) {
	return r.class.Attribute(name)
}

// Get returns the current value of an attribute.
func (r *Resource) Get(name string) (any, error) {
	if !r.class.Has(name) {
		return nil, fmt.Errorf("%w: %s.%s", ErrAttributeNotFound, r.path, name)
	}
	return r.values[name], nil
}

// MustGet is like Get but panics for undeclared names.
func (r *Resource) MustGet(name string) any {
	v, err := r.Get(name)
	if err != nil {
		panic(err)
	}
	return v
}

// Set assigns a value to a declared attribute. Choice and required checks
// are deferred to Verify so that a blueprint can be assembled first.
func (r *Resource) Set(name string, value any) error {
	if !r.class.Has(name) {
		return fmt.Errorf("%w: %s.%s", ErrAttributeNotFound, r.path, name)
	}
	r.values[name] = attribute.Normalize(value)
	return nil
}

// Values returns a copy of the attribute values keyed by name.
func (r *Resource) Values() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = attribute.Copy(v)
	}
	return out
}

// DependsOn returns the paths of resources that must be applied first.
func (r *Resource) DependsOn() []string {
	return append([]string(nil), r.dependsOn...)
}

// SetDependsOn replaces the dependency list.
func (r *Resource) SetDependsOn(paths []string) {
	r.dependsOn = append([]string(nil), paths...)
}

// Verify checks every attribute value against its declaration and returns
// a *VerifyError listing all problems found.
func (r *Resource) Verify() error {
	verr := &VerifyError{Resource: r.path}

	for _, a := range r.class.attrs {
		for _, problem := range a.Check(r.values[a.Name]) {
			verr.Add(a.Name, problem)
		}
	}

	if len(verr.Errors) > 0 {
		return verr
	}
	return nil
}

// Clone returns an independent copy of the resource.
func (r *Resource) Clone() *Resource {
	return &Resource{
		class:     r.class,
		path:      r.path,
		values:    r.Values(),
		dependsOn: r.DependsOn(),
	}
}

// String implements fmt.Stringer.
func (r *Resource) String() string {
	return fmt.Sprintf("%s(%s)", r.class.name, r.path)
}

// Persisted is a resource loaded from the database. It carries the version
// recorded when the resource was last saved alongside the version of the
// class that defines it now.
type Persisted struct {
	*Resource
	saved Version
}

// NewPersisted wraps r with the version recorded at its last save.
func NewPersisted(r *Resource, saved Version) *Persisted {
	return &Persisted{Resource: r, saved: saved}
}

// SavedVersion returns the version recorded at the last save.
func (p *Persisted) SavedVersion() Version { return p.saved }
