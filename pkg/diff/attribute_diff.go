package diff

import (
	"sort"

	"github.com/stackzilla/stackzilla/pkg/attribute"
)

const (
	secretMask  = "<secret>"
	dynamicMask = "<TBD>"
)

// AttributeDiff is the comparison result for one attribute name.
//
// SrcAttribute and SrcValue are nil when the attribute only exists on the
// destination, and DestAttribute and DestValue are nil when it only exists
// on the source.
type AttributeDiff struct {
	Name          string               `json:"name" yaml:"name"`
	Result        Result               `json:"result" yaml:"result"`
	SrcValue      any                  `json:"src_value" yaml:"src_value"`
	DestValue     any                  `json:"dest_value" yaml:"dest_value"`
	SrcAttribute  *attribute.Attribute `json:"-" yaml:"-"`
	DestAttribute *attribute.Attribute `json:"-" yaml:"-"`

	// Index is the position of the name in the union walked by the
	// comparison, used to restore a deterministic order.
	Index int `json:"-" yaml:"-"`
}

// declaration returns whichever side's declaration exists, source first.
func (d *AttributeDiff) declaration() *attribute.Attribute {
	if d.SrcAttribute != nil {
		return d.SrcAttribute
	}
	if d.DestAttribute != nil {
		return d.DestAttribute
	}
	panic("diff: attribute diff " + d.Name + " has no declaration on either side")
}

// IsSecret reports whether the attribute is declared secret.
func (d *AttributeDiff) IsSecret() bool {
	return d.declaration().Secret
}

// OnlyInSource reports whether the attribute is missing from the destination.
func (d *AttributeDiff) OnlyInSource() bool {
	return d.SrcAttribute != nil && d.DestAttribute == nil
}

// OnlyInDestination reports whether the attribute is missing from the source.
func (d *AttributeDiff) OnlyInDestination() bool {
	return d.SrcAttribute == nil && d.DestAttribute != nil
}

// RequiresRebuild reports whether changing this attribute forces the
// resource to be recreated. Only value changes count: adding or removing
// an attribute never does.
func (d *AttributeDiff) RequiresRebuild() bool {
	if d.Result != Conflict || d.SrcAttribute == nil || d.DestAttribute == nil {
		return false
	}
	return d.SrcAttribute.ModifyRebuild || d.DestAttribute.ModifyRebuild
}

// FilteredSrcValue returns the source value, masking secret and dynamic
// attributes.
func (d *AttributeDiff) FilteredSrcValue() any {
	return filter(d.SrcAttribute, d.SrcValue)
}

// FilteredDestValue returns the destination value, masking secret and
// dynamic attributes.
func (d *AttributeDiff) FilteredDestValue() any {
	return filter(d.DestAttribute, d.DestValue)
}

func filter(a *attribute.Attribute, v any) any {
	switch {
	case a == nil:
		return v
	case a.Secret:
		return secretMask
	case a.Dynamic:
		return dynamicMask
	default:
		return v
	}
}

// Diffs maps attribute names to their differences.
type Diffs map[string]*AttributeDiff

// Ordered returns the entries in comparison order.
func (d Diffs) Ordered() []*AttributeDiff {
	out := make([]*AttributeDiff, 0, len(d))
	for _, ad := range d {
		out = append(out, ad)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Names returns the attribute names in comparison order.
func (d Diffs) Names() []string {
	ordered := d.Ordered()
	names := make([]string, len(ordered))
	for i, ad := range ordered {
		names[i] = ad.Name
	}
	return names
}
