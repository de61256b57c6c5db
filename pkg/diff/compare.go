package diff

import (
	"errors"
	"fmt"

	"github.com/stackzilla/stackzilla/pkg/attribute"
	"github.com/stackzilla/stackzilla/pkg/resource"
)

// Comparable is the attribute view of a resource consumed by
// CompareAttributes. *resource.Resource and *resource.Persisted satisfy it.
type Comparable interface {
	// Attributes returns the effective, inheritance resolved declarations.
	Attributes() []*attribute.Attribute

	// Get returns the current value of a declared attribute.
	Get(name string) (any, error)
}

// Versioned exposes the version of a resource's current class.
type Versioned interface {
	Version() resource.Version
}

// SavedVersioned exposes the version recorded when a resource was last
// persisted.
type SavedVersioned interface {
	SavedVersion() resource.Version
}

// ErrVersionIncompatibility matches any *VersionIncompatibilityError.
var ErrVersionIncompatibility = errors.New("incompatible resource versions")

// VersionIncompatibilityError is returned by CompareVersions when the
// source and saved destination versions have different majors.
type VersionIncompatibilityError struct {
	Resource    string           `json:"resource,omitempty"`
	Source      resource.Version `json:"source"`
	Destination resource.Version `json:"destination"`
}

// Error implements the error interface.
func (e *VersionIncompatibilityError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("resource %s: source version %s is incompatible with saved version %s",
			e.Resource, e.Source, e.Destination)
	}
	return fmt.Sprintf("source version %s is incompatible with saved version %s", e.Source, e.Destination)
}

// Is makes errors.Is(err, ErrVersionIncompatibility) succeed.
func (e *VersionIncompatibilityError) Is(target error) bool {
	return target == ErrVersionIncompatibility
}

// CompareVersions checks that the source's current major version matches
// the destination's saved major version. Minor and build numbers never
// matter.
func CompareVersions(src Versioned, dest SavedVersioned) error {
	sv := src.Version()
	dv := dest.SavedVersion()

	if sv.Major == dv.Major {
		return nil
	}

	verr := &VersionIncompatibilityError{Source: sv, Destination: dv}
	if p, ok := src.(interface{ Path() string }); ok {
		verr.Resource = p.Path()
	}
	return verr
}

// CompareAttributes compares two resources attribute by attribute.
//
// Names are walked in the source's declaration order followed by the
// destination-only names in the destination's order. An attribute present
// on both sides conflicts when the live values differ. An attribute present
// on only one side always conflicts, with the other side's declaration and
// value left nil. Only conflicts are returned; the aggregate result is Same
// when there are none.
//
// Neither argument is modified. A Comparable that lists an attribute it
// cannot resolve is a programming error and causes a panic.
func CompareAttributes(src, dest Comparable) (Result, Diffs) {
	srcAttrs := src.Attributes()
	destAttrs := dest.Attributes()

	destByName := make(map[string]*attribute.Attribute, len(destAttrs))
	for _, a := range destAttrs {
		destByName[a.Name] = a
	}

	diffs := make(Diffs)
	index := 0
	srcNames := make(map[string]bool, len(srcAttrs))

	for _, sa := range srcAttrs {
		srcNames[sa.Name] = true
		srcVal := mustGet(src, sa.Name)

		da, inDest := destByName[sa.Name]
		if !inDest {
			diffs[sa.Name] = &AttributeDiff{
				Name:         sa.Name,
				Result:       Conflict,
				SrcValue:     srcVal,
				SrcAttribute: sa,
				Index:        index,
			}
			index++
			continue
		}

		destVal := mustGet(dest, sa.Name)
		if !attribute.Equal(srcVal, destVal) {
			diffs[sa.Name] = &AttributeDiff{
				Name:          sa.Name,
				Result:        Conflict,
				SrcValue:      srcVal,
				DestValue:     destVal,
				SrcAttribute:  sa,
				DestAttribute: da,
				Index:         index,
			}
		}
		index++
	}

	for _, da := range destAttrs {
		if srcNames[da.Name] {
			continue
		}
		diffs[da.Name] = &AttributeDiff{
			Name:          da.Name,
			Result:        Conflict,
			DestValue:     mustGet(dest, da.Name),
			DestAttribute: da,
			Index:         index,
		}
		index++
	}

	if len(diffs) == 0 {
		return Same, diffs
	}
	return Conflict, diffs
}

func mustGet(c Comparable, name string) any {
	v, err := c.Get(name)
	if err != nil {
		panic(fmt.Sprintf("diff: resource lists attribute %q but cannot resolve it: %v", name, err))
	}
	return v
}
