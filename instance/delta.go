package instance

import (
	"errors"
	"reflect"
)

// ErrMalformedDelta is returned by Apply when a delta targets an attribute
// absent from the instance it is applied against.
var ErrMalformedDelta = errors.New("delta targets an attribute absent from the current info")

// ErrStaleDelta is returned by Apply when the delta's version does not
// advance past the current info's version.
var ErrStaleDelta = errors.New("delta version does not advance the current info's version")

// Delta is an attribute-scoped diff: applying it to an Info yields a new
// Info with the named attribute replaced and Version advanced to the
// delta's version.
type Delta struct {
	ID        string
	Version   int64
	Attribute string
	NewValue  interface{}
}

// Apply returns the Info that results from applying d to i. It enforces
// applyDelta(i, d).ID == i.ID and d.Version > i.Version, and rejects deltas
// targeting attributes i does not already have.
func Apply(i Info, d Delta) (Info, error) {
	if d.Version <= i.Version {
		return Info{}, ErrStaleDelta
	}
	if _, ok := i.Attributes[d.Attribute]; !ok {
		return Info{}, ErrMalformedDelta
	}
	return i.WithAttribute(d.Attribute, d.Version, d.NewValue), nil
}

// Diff computes the minimal set of per-attribute deltas that transform
// prior into current, targeted at current.Version. Keys added, changed, or
// removed between the two attribute bags each produce one Delta; a removed
// key's NewValue is nil.
func Diff(prior, current Info) []Delta {
	var deltas []Delta

	seen := make(map[string]bool, len(prior.Attributes)+len(current.Attributes))
	for k, v := range current.Attributes {
		seen[k] = true
		if pv, ok := prior.Attributes[k]; !ok || !reflect.DeepEqual(pv, v) {
			deltas = append(deltas, Delta{ID: current.ID, Version: current.Version, Attribute: k, NewValue: v})
		}
	}
	for k := range prior.Attributes {
		if !seen[k] {
			deltas = append(deltas, Delta{ID: current.ID, Version: current.Version, Attribute: k, NewValue: nil})
		}
	}
	return deltas
}
