package resource

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAttributeNotFound is returned when a name is not declared on the
	// resource's class.
	ErrAttributeNotFound = errors.New("attribute not found")

	// ErrClassNotFound is returned by Registry.Lookup for unknown types.
	ErrClassNotFound = errors.New("resource class not found")

	// ErrDuplicateClass is returned when a class name is registered twice.
	ErrDuplicateClass = errors.New("resource class already registered")
)

// AttributeError is a single verification problem.
type AttributeError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// VerifyError lists every verification problem found on a resource.
type VerifyError struct {
	Resource string           `json:"resource"`
	Errors   []AttributeError `json:"errors"`
}

// Add records a problem for an attribute.
func (e *VerifyError) Add(name, message string) {
	e.Errors = append(e.Errors, AttributeError{Name: name, Message: message})
}

// Error implements the error interface.
func (e *VerifyError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, ae := range e.Errors {
		parts[i] = fmt.Sprintf("%s: %s", ae.Name, ae.Message)
	}
	return fmt.Sprintf("resource %s failed verification: %s", e.Resource, strings.Join(parts, "; "))
}
