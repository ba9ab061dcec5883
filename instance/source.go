// Package instance holds the core value types this module reconciles:
// Source, Info, and Delta. Values here are immutable once constructed.
package instance

import "fmt"

// Origin tags where a registration came from.
type Origin int

const (
	// Local registrations come from clients directly attached to this
	// node; they outrank every other origin in the selection policy.
	Local Origin = iota
	// Replicated registrations were mirrored in from a peer node.
	Replicated
	// Bootstrap registrations were seeded at startup, e.g. from a static
	// config or a cold snapshot load.
	Bootstrap
	// Interest marks a registration synthesized to satisfy a local
	// subscriber's interest rather than a producer's claim.
	Interest
)

func (o Origin) String() string {
	switch o {
	case Local:
		return "LOCAL"
	case Replicated:
		return "REPLICATED"
	case Bootstrap:
		return "BOOTSTRAP"
	case Interest:
		return "INTEREST"
	default:
		return "UNKNOWN"
	}
}

// Source is a tagged origin for a registration. Two sources compare equal
// iff both Origin and Name match.
type Source struct {
	Origin Origin
	Name   string
}

// NewSource builds a Source. Name identifies the specific producer within
// an origin (a replication peer's address, a local client's id, ...).
func NewSource(origin Origin, name string) Source {
	return Source{Origin: origin, Name: name}
}

// Equal reports whether s and other tag the same producer.
func (s Source) Equal(other Source) bool {
	return s.Origin == other.Origin && s.Name == other.Name
}

func (s Source) String() string {
	return fmt.Sprintf("%s:%s", s.Origin, s.Name)
}

// MatchSource builds a registry ForInterest source filter matching exactly
// this source (both Origin and Name).
func MatchSource(s Source) func(Source) bool {
	return func(candidate Source) bool { return candidate.Equal(s) }
}

// MatchOrigin builds a registry ForInterest source filter matching any
// source tagged with origin, regardless of producer name — the filter an
// outbound replication channel uses to pick up every LOCAL registration.
func MatchOrigin(origin Origin) func(Source) bool {
	return func(candidate Source) bool { return candidate.Origin == origin }
}
