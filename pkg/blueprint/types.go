package blueprint

import (
	"fmt"
	"path"
	"strings"
)

// Module is the source of one blueprint file. Path is relative to the
// blueprint root and uses forward slashes, e.g. "servers/web.cue".
type Module struct {
	Path string `json:"path"`
	Data string `json:"data"`
}

// Name returns the dotted module name derived from the path, e.g.
// "servers.web" for "servers/web.cue".
func (m Module) Name() string {
	p := strings.TrimSuffix(m.Path, path.Ext(m.Path))
	return strings.ReplaceAll(p, "/", ".")
}

// Format returns the module format from the file extension.
func (m Module) Format() string {
	return strings.TrimPrefix(path.Ext(m.Path), ".")
}

// ModuleSpec is the decoded content of a module.
type ModuleSpec struct {
	Classes   map[string]ClassSpec    `json:"classes,omitempty" validate:"dive,keys,identifier,endkeys"`
	Resources map[string]ResourceSpec `json:"resources,omitempty" validate:"dive,keys,identifier,endkeys"`
}

// ClassSpec declares a blueprint class that extends a provider type or
// another blueprint class.
type ClassSpec struct {
	// Extends names the parent class: a module-local class, a full
	// blueprint class path or a provider type such as "null.volume".
	Extends string `json:"extends" validate:"required"`

	// Version overrides the version inherited from the parent.
	Version string `json:"version,omitempty" validate:"omitempty,semver"`

	Description string `json:"description,omitempty"`

	// Attributes adds declarations or overrides inherited ones by name.
	Attributes map[string]AttributeSpec `json:"attributes,omitempty" validate:"dive,keys,identifier,endkeys"`
}

// AttributeSpec declares one attribute of a blueprint class.
type AttributeSpec struct {
	Default       any    `json:"default,omitempty"`
	Required      bool   `json:"required,omitempty"`
	Choices       []any  `json:"choices,omitempty"`
	ModifyRebuild bool   `json:"modify_rebuild,omitempty"`
	Dynamic       bool   `json:"dynamic,omitempty"`
	Secret        bool   `json:"secret,omitempty"`
	Description   string `json:"description,omitempty"`
}

// ResourceSpec declares one resource instance.
type ResourceSpec struct {
	// Type names the class: a module-local class, a full blueprint class
	// path or a provider type.
	Type string `json:"type" validate:"required"`

	// DependsOn lists full resource paths or module-local resource names.
	DependsOn []string `json:"depends_on,omitempty" validate:"dive,required"`

	// Attributes assigns values to declared attributes.
	Attributes map[string]any `json:"attributes,omitempty"`
}

// ValidationError is a single problem found while parsing a module.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	var loc string
	switch {
	case e.File != "" && e.Line > 0:
		loc = fmt.Sprintf("%s:%d:%d: ", e.File, e.Line, e.Column)
	case e.File != "":
		loc = e.File + ": "
	}
	if e.Path != "" {
		return fmt.Sprintf("%s%s: %s", loc, e.Path, e.Message)
	}
	return loc + e.Message
}

// ParseError lists every problem found while loading a blueprint.
type ParseError struct {
	Errors []ValidationError `json:"errors"`
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("blueprint has %d error(s): %s", len(e.Errors), strings.Join(msgs, "; "))
}

// VerifyFailure lists every resource that failed verification.
type VerifyFailure struct {
	Errors []error `json:"errors"`
}

// Error implements the error interface.
func (e *VerifyFailure) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("blueprint verification failed: %s", strings.Join(msgs, "; "))
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *VerifyFailure) Unwrap() []error {
	return e.Errors
}

// DependencyError reports an unresolvable or cyclic dependency.
type DependencyError struct {
	Resource   string   `json:"resource"`
	Dependency string   `json:"dependency,omitempty"`
	Cycle      []string `json:"cycle,omitempty"`
}

// Error implements the error interface.
func (e *DependencyError) Error() string {
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("resource %s: dependency cycle %s", e.Resource, strings.Join(e.Cycle, " -> "))
	}
	return fmt.Sprintf("resource %s: unknown dependency %s", e.Resource, e.Dependency)
}
