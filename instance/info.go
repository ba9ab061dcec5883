package instance

import "reflect"

// Info is the value type for a registered instance. ID is the stable
// identity across sources and versions; Version is monotonic within a
// single source; Attributes is a structurally-comparable bag of mutable
// properties (zone, status, metadata, ...).
//
// Info is treated as immutable: every mutation (Apply, WithAttribute)
// returns a new value rather than mutating in place.
type Info struct {
	ID         string
	Version    int64
	Attributes map[string]interface{}
}

// New builds an Info, defensively copying attrs so the caller's map can be
// mutated afterward without affecting the returned value.
func New(id string, version int64, attrs map[string]interface{}) Info {
	return Info{ID: id, Version: version, Attributes: cloneAttrs(attrs)}
}

func cloneAttrs(attrs map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// Attribute returns the value tagged attr, if present.
func (i Info) Attribute(attr string) (interface{}, bool) {
	v, ok := i.Attributes[attr]
	return v, ok
}

// Equal reports structural equality: same id, version, and attribute bag.
func (i Info) Equal(other Info) bool {
	if i.ID != other.ID || i.Version != other.Version {
		return false
	}
	return reflect.DeepEqual(i.Attributes, other.Attributes)
}

// WithAttribute returns a copy of i with attr set to value and Version
// advanced to newVersion. It does not validate newVersion > i.Version;
// callers needing that invariant (Apply) check it explicitly.
func (i Info) WithAttribute(attr string, newVersion int64, value interface{}) Info {
	attrs := cloneAttrs(i.Attributes)
	attrs[attr] = value
	return Info{ID: i.ID, Version: newVersion, Attributes: attrs}
}

// Clone returns a deep copy, safe to hand to a caller that might mutate
// Attributes.
func (i Info) Clone() Info {
	return Info{ID: i.ID, Version: i.Version, Attributes: cloneAttrs(i.Attributes)}
}
