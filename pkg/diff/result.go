package diff

import (
	"encoding/json"
	"fmt"
)

// Result classifies the outcome of comparing an attribute, a resource or
// a whole blueprint.
type Result int

const (
	// Same means both sides are equivalent.
	Same Result = iota

	// Conflict means the sides differ and need reconciliation.
	Conflict

	// New means the item exists only in the source.
	New

	// Deleted means the item exists only in the destination.
	Deleted

	// RebuildRequired is a Conflict where at least one differing attribute
	// forces the resource to be recreated.
	RebuildRequired
)

var resultNames = map[Result]string{
	Same:            "SAME",
	Conflict:        "CONFLICT",
	New:             "NEW",
	Deleted:         "DELETED",
	RebuildRequired: "REBUILD_REQUIRED",
}

// String returns the upper case name of the result.
func (r Result) String() string {
	if s, ok := resultNames[r]; ok {
		return s
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Changed reports whether the result calls for any action.
func (r Result) Changed() bool {
	return r != Same
}

// ParseResult parses the name produced by String.
func ParseResult(s string) (Result, error) {
	for r, name := range resultNames {
		if name == s {
			return r, nil
		}
	}
	return Same, fmt.Errorf("unknown diff result %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Result) UnmarshalText(b []byte) error {
	parsed, err := ParseResult(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// MarshalYAML implements yaml.Marshaler.
func (r Result) MarshalYAML() (any, error) {
	return r.String(), nil
}
