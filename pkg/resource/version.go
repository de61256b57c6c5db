package resource

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Version describes the schema generation of a resource class.
//
// A major bump is a breaking schema change. Minor and build bumps are
// additive and always compatible.
type Version struct {
	Major int    `json:"major" yaml:"major"`
	Minor int    `json:"minor" yaml:"minor"`
	Build int    `json:"build" yaml:"build"`
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
}

// ParseVersion parses "major.minor.build" with an optional "-name" suffix,
// e.g. "1.0.0-FCS".
func ParseVersion(s string) (Version, error) {
	v, err := semver.StrictNewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("invalid resource version %q: %w", s, err)
	}
	return Version{
		Major: int(v.Major()),
		Minor: int(v.Minor()),
		Build: int(v.Patch()),
		Name:  v.Prerelease(),
	}, nil
}

// MustParseVersion is like ParseVersion but panics on error. It is meant
// for provider declarations.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the dotted form of the version.
func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Build)
	if v.Name != "" {
		s += " (" + v.Name + ")"
	}
	return s
}

// Compatible reports whether both versions share a major number.
func (v Version) Compatible(other Version) bool {
	return v.Major == other.Major
}

// IsZero reports whether the version was never set.
func (v Version) IsZero() bool {
	return v == Version{}
}
