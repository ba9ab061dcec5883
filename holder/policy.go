package holder

import "fleetreg/instance"

// SelectionPolicy picks the selected source out of a non-empty copies map.
// It is injected at holder construction so the ordering over sources is
// swappable rather than hard-coded.
type SelectionPolicy func(copies map[instance.Source]instance.Info) instance.Source

// originRank is the default precedence: lower rank wins.
var originRank = map[instance.Origin]int{
	instance.Local:      0,
	instance.Replicated: 1,
	instance.Bootstrap:  2,
	instance.Interest:   3,
}

// DefaultSelectionPolicy implements a deterministic total order: LOCAL
// outranks every other origin; among equal origins, the copy with the
// highest version wins; ties are broken by lexicographic source name.
func DefaultSelectionPolicy() SelectionPolicy {
	return func(copies map[instance.Source]instance.Info) instance.Source {
		var best instance.Source
		var bestInfo instance.Info
		first := true

		for src, info := range copies {
			if first {
				best, bestInfo, first = src, info, false
				continue
			}
			if betterSource(src, best, info, bestInfo) {
				best, bestInfo = src, info
			}
		}
		return best
	}
}

// betterSource reports whether (candidate, candidateInfo) outranks
// (current, currentInfo) under the default policy.
func betterSource(candidate, current instance.Source, candidateInfo, currentInfo instance.Info) bool {
	cr, curr := originRank[candidate.Origin], originRank[current.Origin]
	if cr != curr {
		return cr < curr
	}
	if candidateInfo.Version != currentInfo.Version {
		return candidateInfo.Version > currentInfo.Version
	}
	return candidate.Name < current.Name
}
