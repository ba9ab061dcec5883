package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for comparison via errors.Is(). Each is wrapped in a
// FrameworkError by the call site that returns it so callers get both the
// stable sentinel and operation-specific context.
var (
	// ErrLifecycleClosed is returned by any operation attempted after the
	// registry, channel, or controller that owns it has shut down.
	ErrLifecycleClosed = errors.New("operation attempted after shutdown")

	// ErrStaleVersion is returned when a register/update carries a version
	// lower than the current copy from the same source. An equal version is
	// accepted: a no-op if the info is identical, a replacement otherwise.
	ErrStaleVersion = errors.New("stale version")

	// ErrMalformedDelta is returned when a delta targets an attribute that
	// is absent from the instance info it is applied against.
	ErrMalformedDelta = errors.New("malformed delta")

	// ErrTransportFailure wraps a send/receive error observed by a
	// replication channel.
	ErrTransportFailure = errors.New("transport failure")

	// ErrSlowConsumer is returned to a subscriber whose buffer overflowed.
	ErrSlowConsumer = errors.New("slow consumer")

	// ErrInternal marks an invariant violation. The registry does not
	// return it and does not shut down in response to it.
	ErrInternal = errors.New("internal invariant violation")

	// ErrUnknownSource is returned when a remove targets a source that has
	// no copy in the holder.
	ErrUnknownSource = errors.New("source has no copy in holder")
)

// FrameworkError carries structured context around a sentinel error: which
// operation failed, what kind of component raised it, and which entity (if
// any) it concerns.
type FrameworkError struct {
	Op      string // e.g. "registry.Register", "holder.update"
	Kind    string // "registry", "holder", "replication", "eviction", "config"
	ID      string // instance id, source name, or similar, when applicable
	Message string
	Err     error
}

func (e *FrameworkError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *FrameworkError) Unwrap() error {
	return e.Err
}

// NewFrameworkError builds a FrameworkError wrapping err for operation op in
// component kind.
func NewFrameworkError(op, kind string, err error) *FrameworkError {
	return &FrameworkError{Op: op, Kind: kind, Err: err}
}

// NewFrameworkErrorWithID is NewFrameworkError plus the entity id involved.
func NewFrameworkErrorWithID(op, kind, id string, err error) *FrameworkError {
	return &FrameworkError{Op: op, Kind: kind, ID: id, Err: err}
}

// IsRetryable reports whether err represents a transient condition a caller
// may reasonably retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStaleVersion) || errors.Is(err, ErrTransportFailure)
}

// IsLifecycleClosed reports whether err indicates the target has shut down.
func IsLifecycleClosed(err error) bool {
	return errors.Is(err, ErrLifecycleClosed)
}

// IsSlowConsumer reports whether err is a SlowConsumer termination.
func IsSlowConsumer(err error) bool {
	return errors.Is(err, ErrSlowConsumer)
}
