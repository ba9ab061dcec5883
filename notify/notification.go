// Package notify defines the ChangeNotification record that flows out of a
// holder, through the registry's bus, to subscribers.
package notify

import "fleetreg/instance"

// Kind discriminates the four notification shapes a subscription can see.
type Kind int

const (
	// Add announces a holder's first selected view, or a buffered
	// snapshot entry re-synthesized as an Add during the snapshot/live
	// join.
	Add Kind = iota
	// Modify announces a change to an already-selected view, carrying
	// the attribute-level deltas that produced it.
	Modify
	// Delete announces a holder's last copy being removed.
	Delete
	// BufferSentinel is the synthetic marker separating a subscription's
	// initial snapshot from its live tail.
	BufferSentinel
)

func (k Kind) String() string {
	switch k {
	case Add:
		return "Add"
	case Modify:
		return "Modify"
	case Delete:
		return "Delete"
	case BufferSentinel:
		return "BufferSentinel"
	default:
		return "Unknown"
	}
}

// Notification is one change record: Add(info), Modify(info, deltas),
// Delete(info), or the BufferSentinel (Info and Deltas are zero for the
// sentinel).
type Notification struct {
	Kind   Kind
	Info   instance.Info
	Deltas []instance.Delta

	// Source is the producer whose mutation caused this notification. It
	// is used by ForInterest's optional source filter and is the zero
	// Source for the BufferSentinel.
	Source instance.Source

	// HolderVersion orders notifications for a given instance id. Zero
	// for the BufferSentinel.
	HolderVersion int64
}

// NewAdd builds an Add notification.
func NewAdd(info instance.Info, source instance.Source, holderVersion int64) Notification {
	return Notification{Kind: Add, Info: info, Source: source, HolderVersion: holderVersion}
}

// NewModify builds a Modify notification.
func NewModify(info instance.Info, deltas []instance.Delta, source instance.Source, holderVersion int64) Notification {
	return Notification{Kind: Modify, Info: info, Deltas: deltas, Source: source, HolderVersion: holderVersion}
}

// NewDelete builds a Delete notification.
func NewDelete(info instance.Info, source instance.Source, holderVersion int64) Notification {
	return Notification{Kind: Delete, Info: info, Source: source, HolderVersion: holderVersion}
}

// Sentinel is the BufferSentinel notification.
func Sentinel() Notification {
	return Notification{Kind: BufferSentinel}
}
