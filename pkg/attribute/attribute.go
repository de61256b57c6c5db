// Package attribute declares the named fields that make up a resource class.
//
// A declaration is created once, when its class is built, and is shared by
// every instance of that class. Instances only ever hold values.
package attribute

import (
	"errors"
	"fmt"
)

// ErrInvalidDeclaration is returned when a declaration is malformed.
var ErrInvalidDeclaration = errors.New("invalid attribute declaration")

// Attribute describes one named field of a resource class.
type Attribute struct {
	// Name is the field identifier on the owning class.
	Name string `json:"name" yaml:"name"`

	// Required attributes must hold a non-nil value at verification time.
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`

	// Default seeds the value of every new instance. Nil means no default.
	Default any `json:"default,omitempty" yaml:"default,omitempty"`

	// Choices restricts the allowed values. Empty means unrestricted.
	Choices []any `json:"choices,omitempty" yaml:"choices,omitempty"`

	// ModifyRebuild marks attributes whose modification forces the
	// resource to be destroyed and created again.
	ModifyRebuild bool `json:"modify_rebuild,omitempty" yaml:"modify_rebuild,omitempty"`

	// Dynamic attributes are filled in by the provider after creation.
	Dynamic bool `json:"dynamic,omitempty" yaml:"dynamic,omitempty"`

	// Secret attributes are masked whenever they are displayed.
	Secret bool `json:"secret,omitempty" yaml:"secret,omitempty"`

	// Description is a human readable summary.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Option configures an Attribute under construction.
type Option func(*Attribute)

// Required marks the attribute as required.
func Required() Option {
	return func(a *Attribute) { a.Required = true }
}

// Default sets the default value.
func Default(v any) Option {
	return func(a *Attribute) { a.Default = Normalize(v) }
}

// Choices restricts the attribute to the given values.
func Choices(values ...any) Option {
	return func(a *Attribute) {
		a.Choices = make([]any, len(values))
		for i, v := range values {
			a.Choices[i] = Normalize(v)
		}
	}
}

// ModifyRebuild marks the attribute as requiring a rebuild when modified.
func ModifyRebuild() Option {
	return func(a *Attribute) { a.ModifyRebuild = true }
}

// Dynamic marks the attribute as provider-populated.
func Dynamic() Option {
	return func(a *Attribute) { a.Dynamic = true }
}

// Secret marks the attribute as secret.
func Secret() Option {
	return func(a *Attribute) { a.Secret = true }
}

// Description sets the description.
func Description(s string) Option {
	return func(a *Attribute) { a.Description = s }
}

// New creates a declaration with the given name and options.
func New(name string, opts ...Option) *Attribute {
	a := &Attribute{Name: name}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Validate checks that the declaration itself is well formed.
func (a *Attribute) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: nil declaration", ErrInvalidDeclaration)
	}
	if a.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidDeclaration)
	}
	if a.Default != nil && !a.Allows(a.Default) {
		return fmt.Errorf("%w: %s: default %v is not one of %v",
			ErrInvalidDeclaration, a.Name, a.Default, a.Choices)
	}
	return nil
}

// HasDefault reports whether a default value is declared.
func (a *Attribute) HasDefault() bool {
	return a.Default != nil
}

// Allows reports whether v satisfies the declared choices.
func (a *Attribute) Allows(v any) bool {
	if len(a.Choices) == 0 {
		return true
	}
	for _, c := range a.Choices {
		if Equal(c, v) {
			return true
		}
	}
	return false
}

// Check returns the verification problems of v against the declaration.
// A nil slice means the value is acceptable.
func (a *Attribute) Check(v any) []string {
	var problems []string

	if v != nil && !a.Allows(v) {
		problems = append(problems, fmt.Sprintf("%v is not one of the available choices: %v", v, a.Choices))
	}
	if a.Required && v == nil {
		problems = append(problems, "attribute is required but value is nil")
	}
	if a.Dynamic && v != nil {
		problems = append(problems, "attribute is dynamic, value can not be specified")
	}

	return problems
}

// Initial returns a fresh copy of the default, safe to store in an instance.
func (a *Attribute) Initial() any {
	return Copy(a.Default)
}
