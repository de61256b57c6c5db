package resource

import (
	"context"
	"fmt"

	"github.com/stackzilla/stackzilla/pkg/attribute"
)

// Modification records the change of a single attribute during an update.
type Modification struct {
	Name     string `json:"name"`
	Previous any    `json:"previous"`
	Current  any    `json:"current"`
}

// Handler performs the provider side of a resource's lifecycle.
type Handler interface {
	Create(ctx context.Context, r *Resource) error
	Update(ctx context.Context, r *Resource, modified []Modification) error
	Delete(ctx context.Context, r *Resource) error
}

// Class is the descriptor shared by every instance of a resource type.
//
// The effective declaration list is resolved when the class is built:
// the ancestor chain is walked from the root down and declarations are
// overwritten by name. An override keeps the position of the declaration
// it replaces; names first declared by a descendant are appended.
type Class struct {
	name        string
	description string
	parent      *Class
	version     Version
	handler     Handler
	own         []*attribute.Attribute
	attrs       []*attribute.Attribute
	index       map[string]int
}

// ClassOption configures a Class under construction.
type ClassOption func(*Class)

// WithVersion sets the class version. Without it the parent's is used.
func WithVersion(v Version) ClassOption {
	return func(c *Class) { c.version = v }
}

// WithAttributes adds declarations owned by the class.
func WithAttributes(attrs ...*attribute.Attribute) ClassOption {
	return func(c *Class) { c.own = append(c.own, attrs...) }
}

// WithHandler sets the lifecycle handler. Without it the parent's is used.
func WithHandler(h Handler) ClassOption {
	return func(c *Class) { c.handler = h }
}

// WithDescription sets a human readable description.
func WithDescription(s string) ClassOption {
	return func(c *Class) { c.description = s }
}

// NewClass builds a class descriptor and resolves its declarations.
func NewClass(name string, parent *Class, opts ...ClassOption) (*Class, error) {
	if name == "" {
		return nil, fmt.Errorf("class name is required")
	}

	c := &Class{name: name, parent: parent}
	for _, opt := range opts {
		opt(c)
	}

	if parent != nil {
		if c.version.IsZero() {
			c.version = parent.version
		}
		if c.handler == nil {
			c.handler = parent.handler
		}
	}

	seen := make(map[string]bool, len(c.own))
	for _, a := range c.own {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("class %s: %w", name, err)
		}
		if seen[a.Name] {
			return nil, fmt.Errorf("class %s: attribute %q declared twice", name, a.Name)
		}
		seen[a.Name] = true
	}

	c.resolve()
	return c, nil
}

// MustClass is like NewClass but panics on error.
func MustClass(name string, parent *Class, opts ...ClassOption) *Class {
	c, err := NewClass(name, parent, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Class) resolve() {
	var chain []*Class
	for n := c; n != nil; n = n.parent {
		chain = append(chain, n)
	}

	c.index = make(map[string]int)
	for i := len(chain) - 1; i >= 0; i-- {
		for _, a := range chain[i].own {
			if pos, ok := c.index[a.Name]; ok {
				c.attrs[pos] = a
				continue
			}
			c.index[a.Name] = len(c.attrs)
			c.attrs = append(c.attrs, a)
		}
	}
}

// Name returns the class name, e.g. "null.volume".
func (c *Class) Name() string { return c.name }

// Description returns the class description.
func (c *Class) Description() string { return c.description }

// Parent returns the parent class or nil.
func (c *Class) Parent() *Class { return c.parent }

// Version returns the class version.
func (c *Class) Version() Version { return c.version }

// Handler returns the lifecycle handler, which may be nil.
func (c *Class) Handler() Handler { return c.handler }

// Attributes returns the resolved declarations in order. The slice must
// not be modified.
func (c *Class) Attributes() []*attribute.Attribute { return c.attrs }

// Attribute returns the effective declaration for name.
func (c *Class) Attribute(name string) (*attribute.Attribute, bool) {
	pos, ok := c.index[name]
	if !ok {
		return nil, false
	}
	return c.attrs[pos], true
}

// Has reports whether name is declared on the class or an ancestor.
func (c *Class) Has(name string) bool {
	_, ok := c.index[name]
	return ok
}

// IsA reports whether c is other or descends from it.
func (c *Class) IsA(other *Class) bool {
	for n := c; n != nil; n = n.parent {
		if n == other {
			return true
		}
	}
	return false
}

// Lineage returns class names from c up to the root.
func (c *Class) Lineage() []string {
	var names []string
	for n := c; n != nil; n = n.parent {
		names = append(names, n.name)
	}
	return names
}
