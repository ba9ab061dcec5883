// Package holder implements the multi-sourced data holder: the
// per-instance-id container that reconciles concurrent claims from
// distinct sources into one selected view.
package holder

import (
	"sync"

	"fleetreg/core"
	"fleetreg/instance"
	"fleetreg/notify"
)

// Holder is the per-instance-id container. It is created lazily by the
// registry on first register for an id and is mutated only under the
// registry's per-id serialization — Update/Remove are not safe to call
// concurrently with each other on the same Holder. Get/Size
// take an internal read lock and may be called from any goroutine.
type Holder struct {
	id     string
	policy SelectionPolicy

	mu            sync.RWMutex
	copies        map[instance.Source]instance.Info
	selected      *instance.Source
	holderVersion int64
}

// New builds an empty holder for id, selecting among copies with policy.
func New(id string, policy SelectionPolicy) *Holder {
	if policy == nil {
		policy = DefaultSelectionPolicy()
	}
	return &Holder{
		id:     id,
		policy: policy,
		copies: make(map[instance.Source]instance.Info),
	}
}

// ID returns the instance id every copy in this holder shares.
func (h *Holder) ID() string {
	return h.id
}

// Get returns the selected view, if any.
func (h *Holder) Get() (instance.Info, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.selected == nil {
		return instance.Info{}, false
	}
	return h.copies[*h.selected], true
}

// Size returns the number of copies currently held.
func (h *Holder) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.copies)
}

// Empty reports whether the holder has no copies left.
func (h *Holder) Empty() bool {
	return h.Size() == 0
}

// Version returns the current holderVersion.
func (h *Holder) Version() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.holderVersion
}

// Sources returns every source currently holding a copy in this holder,
// selected or not. Used by EvictAll to find every copy a given source
// (or, if no filter, every copy regardless of source) has registered.
func (h *Holder) Sources() []instance.Source {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]instance.Source, 0, len(h.copies))
	for src := range h.copies {
		out = append(out, src)
	}
	return out
}

// Selected returns the currently selected source alongside its info. Used
// by the registry to apply a source filter to a subscription's initial
// snapshot, mirroring the filter bus.publish applies to live notifications.
func (h *Holder) Selected() (instance.Source, instance.Info, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.selected == nil {
		return instance.Source{}, instance.Info{}, false
	}
	return *h.selected, h.copies[*h.selected], true
}

// Update sets copies[source] = info, recomputes the selected view, and
// returns the notification describing the transition, or nil if the view
// did not change. explicitDeltas, when non-nil, seeds the Modify
// notification verbatim but only when source was already the selected
// source and remains so; otherwise deltas are recomputed from the full
// view diff.
//
// wasCreated reports whether this call created the holder's first copy.
func (h *Holder) Update(source instance.Source, info instance.Info, explicitDeltas []instance.Delta) (n *notify.Notification, wasCreated bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.copies[source]; ok {
		if info.Version < existing.Version {
			return nil, false, core.ErrStaleVersion
		}
		if info.Version == existing.Version && info.Equal(existing) {
			return nil, false, nil // idempotent no-op
		}
	}

	var priorSelectedSource instance.Source
	var priorInfo instance.Info
	hadSelected := h.selected != nil
	if hadSelected {
		priorSelectedSource = *h.selected
		priorInfo = h.copies[priorSelectedSource]
	}

	h.copies[source] = info
	wasCreated = !hadSelected

	newSelectedSource := h.policy(h.copies)
	h.selected = &newSelectedSource
	newInfo := h.copies[newSelectedSource]

	switch {
	case !hadSelected:
		h.holderVersion++
		notification := notify.NewAdd(newInfo, source, h.holderVersion)
		return &notification, wasCreated, nil

	case newSelectedSource == priorSelectedSource:
		if newInfo.Equal(priorInfo) {
			return nil, wasCreated, nil
		}
		deltas := explicitDeltas
		if deltas == nil || source != newSelectedSource {
			deltas = instance.Diff(priorInfo, newInfo)
		}
		h.holderVersion++
		notification := notify.NewModify(newInfo, deltas, source, h.holderVersion)
		return &notification, wasCreated, nil

	default:
		deltas := instance.Diff(priorInfo, newInfo)
		h.holderVersion++
		notification := notify.NewModify(newInfo, deltas, source, h.holderVersion)
		return &notification, wasCreated, nil
	}
}

// Remove deletes copies[source] and recomputes the selected view. It
// returns the resulting notification (Delete if the holder is now empty,
// Modify if a different source is now selected, nil otherwise) and whether
// this call removed the holder's last copy.
func (h *Holder) Remove(source instance.Source) (n *notify.Notification, destroyed bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.copies[source]; !ok {
		return nil, false, core.ErrUnknownSource
	}

	var priorSelectedSource instance.Source
	var priorInfo instance.Info
	hadSelected := h.selected != nil
	if hadSelected {
		priorSelectedSource = *h.selected
		priorInfo = h.copies[priorSelectedSource]
	}

	delete(h.copies, source)

	if len(h.copies) == 0 {
		h.selected = nil
		h.holderVersion++
		notification := notify.NewDelete(priorInfo, source, h.holderVersion)
		return &notification, true, nil
	}

	newSelectedSource := h.policy(h.copies)
	h.selected = &newSelectedSource

	if hadSelected && priorSelectedSource == source {
		newInfo := h.copies[newSelectedSource]
		deltas := instance.Diff(priorInfo, newInfo)
		h.holderVersion++
		notification := notify.NewModify(newInfo, deltas, source, h.holderVersion)
		return &notification, false, nil
	}

	return nil, false, nil
}
