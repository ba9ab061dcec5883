// Package registry implements the sourced instance registry: the
// id-indexed collection of holders, the notification bus fanning out
// their transitions, and the subscription fabric joining a consistent
// snapshot to the live tail.
package registry

import (
	"sync"

	"fleetreg/core"
	"fleetreg/eviction"
	"fleetreg/holder"
	"fleetreg/instance"
	"fleetreg/interest"
	"fleetreg/notify"
)

const defaultStripes = 256

// Registry is the sourced, multi-holder registry. It owns one holder per
// instance id, a shard of locks serializing mutation per id, and the bus
// fanning holder transitions out to subscribers.
type Registry struct {
	cfg     *core.Config
	logger  core.Logger
	metrics core.MetricSink
	policy  holder.SelectionPolicy

	locks        *shardedLocks
	holders      sync.Map // id string -> *holder.Holder
	bus          *bus
	evictionCtrl *eviction.Controller

	mu     sync.RWMutex
	closed bool
}

// Opt configures a Registry at construction.
type Opt func(*Registry)

// WithLogger injects a structured logger. Defaults to core.NoOpLogger.
func WithLogger(l core.Logger) Opt {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics injects a metric sink. Defaults to core.NoOpMetricSink.
func WithMetrics(m core.MetricSink) Opt {
	return func(r *Registry) { r.metrics = m }
}

// WithSelectionPolicy overrides the per-holder selection policy. Defaults
// to holder.DefaultSelectionPolicy.
func WithSelectionPolicy(p holder.SelectionPolicy) Opt {
	return func(r *Registry) { r.policy = p }
}

// WithLockStripes overrides the number of id-mutation lock stripes.
func WithLockStripes(n int) Opt {
	return func(r *Registry) {
		if n > 0 {
			r.locks = newShardedLocks(n)
		}
	}
}

// WithEvictionController injects the preservation controller EvictAll
// schedules removals through. Defaults to an unthrottled controller (every
// scheduled eviction drains immediately); inject a controller backed by a
// real quotaStream to throttle eviction under an external rate.
func WithEvictionController(c *eviction.Controller) Opt {
	return func(r *Registry) { r.evictionCtrl = c }
}

// New builds a Registry from cfg, applying any Opts.
func New(cfg *core.Config, opts ...Opt) *Registry {
	r := &Registry{
		cfg:          cfg,
		logger:       core.NoOpLogger{},
		metrics:      core.NoOpMetricSink{},
		policy:       holder.DefaultSelectionPolicy(),
		locks:        newShardedLocks(defaultStripes),
		bus:          newBus(),
		evictionCtrl: eviction.NewUnthrottledController(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// mutate runs fn against the holder for id under that id's shard lock,
// publishing the resulting notification and pruning the holder from the
// map if fn left it empty.
func (r *Registry) mutate(op, id string, fn func(h *holder.Holder) (*notify.Notification, bool, error)) (bool, error) {
	if r.isClosed() {
		return false, core.NewFrameworkErrorWithID(op, "registry", id, core.ErrLifecycleClosed)
	}

	lock := r.locks.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	v, _ := r.holders.LoadOrStore(id, holder.New(id, r.policy))
	h := v.(*holder.Holder)

	n, flag, err := fn(h)
	if err != nil {
		if h.Empty() {
			r.holders.Delete(id)
		}
		return false, core.NewFrameworkErrorWithID(op, "registry", id, err)
	}

	if h.Empty() {
		r.holders.Delete(id)
	}

	if n != nil {
		r.bus.publish(*n)
		r.metrics.IncrCounter("notifications_published", map[string]string{
			"kind": n.Kind.String(),
		})
		r.metrics.SetGauge("bus-depth", float64(r.bus.depth()), nil)
	}

	return flag, nil
}

// Register adds or replaces source's copy of info. It returns true iff
// this call created the holder's first copy.
func (r *Registry) Register(source instance.Source, info instance.Info) (bool, error) {
	created, err := r.mutate("registry.Register", info.ID, func(h *holder.Holder) (*notify.Notification, bool, error) {
		return h.Update(source, info, nil)
	})
	if err != nil {
		if !core.IsRetryable(err) {
			r.logger.Warn("register rejected", map[string]interface{}{"id": info.ID, "source": source.String(), "err": err.Error()})
		}
		return created, err
	}
	r.metrics.IncrCounter("registrations", map[string]string{"origin": source.Origin.String()})
	return created, nil
}

// Update applies a partial change from source, seeding the Modify
// notification with deltas when source remains selected. It returns true
// iff this call created the holder's first copy, mirroring Register.
func (r *Registry) Update(source instance.Source, info instance.Info, deltas []instance.Delta) (bool, error) {
	created, err := r.mutate("registry.Update", info.ID, func(h *holder.Holder) (*notify.Notification, bool, error) {
		return h.Update(source, info, deltas)
	})
	if err != nil {
		if !core.IsRetryable(err) {
			r.logger.Warn("update rejected", map[string]interface{}{"id": info.ID, "source": source.String(), "err": err.Error()})
		}
		return created, err
	}
	r.metrics.IncrCounter("updates", map[string]string{"origin": source.Origin.String()})
	return created, nil
}

// Unregister removes source's copy of id. It returns true iff this call
// removed the holder's last copy.
func (r *Registry) Unregister(source instance.Source, id string) (bool, error) {
	destroyed, err := r.mutate("registry.Unregister", id, func(h *holder.Holder) (*notify.Notification, bool, error) {
		return h.Remove(source)
	})
	if err == nil {
		r.metrics.IncrCounter("unregisters", map[string]string{"origin": source.Origin.String()})
	}
	return destroyed, err
}

// ForSnapshot returns a closed channel pre-loaded with every currently
// selected view matching it — a one-shot read, no subscription held.
func (r *Registry) ForSnapshot(it interest.Interest) (<-chan instance.Info, error) {
	if r.isClosed() {
		return nil, core.NewFrameworkError("registry.ForSnapshot", "registry", core.ErrLifecycleClosed)
	}

	var matches []instance.Info
	r.holders.Range(func(_, v interface{}) bool {
		h := v.(*holder.Holder)
		if info, ok := h.Get(); ok && it.Matches(info) {
			matches = append(matches, info)
		}
		return true
	})

	ch := make(chan instance.Info, len(matches))
	for _, m := range matches {
		ch <- m
	}
	close(ch)
	return ch, nil
}

// GetHolders returns every holder the registry currently tracks.
func (r *Registry) GetHolders() []*holder.Holder {
	var out []*holder.Holder
	r.holders.Range(func(_, v interface{}) bool {
		out = append(out, v.(*holder.Holder))
		return true
	})
	return out
}

type snapshotEntry struct {
	info   instance.Info
	source instance.Source
}

// ForInterest opens a subscription matching it, optionally restricted by
// sourceFilter (nil means no restriction). It follows a snapshot-then-live
// join: the subscriber first receives an Add for every currently matching
// view, then a BufferSentinel, then its live tail with no gap and no
// duplicate relative to the snapshot.
func (r *Registry) ForInterest(it interest.Interest, sourceFilter func(instance.Source) bool) (*Subscription, error) {
	if r.isClosed() {
		return nil, core.NewFrameworkError("registry.ForInterest", "registry", core.ErrLifecycleClosed)
	}

	sub := newSubscriber(it, sourceFilter, r.cfg.SubscriberBufferHighWatermark, nil)
	sub.onClose = func() {
		r.bus.unregister(sub)
		r.metrics.SetGauge("subscribers", float64(r.bus.count()), nil)
	}

	var entries []snapshotEntry
	r.bus.registerAndSnapshot(sub, func() {
		r.holders.Range(func(_, v interface{}) bool {
			h := v.(*holder.Holder)
			src, info, ok := h.Selected()
			if !ok {
				return true
			}
			if sourceFilter != nil && !sourceFilter(src) {
				return true
			}
			if !it.Matches(info) {
				return true
			}
			entries = append(entries, snapshotEntry{info: info, source: src})
			return true
		})
	})

	r.metrics.IncrCounter("subscriptions_opened", nil)
	r.metrics.SetGauge("subscribers", float64(r.bus.count()), nil)
	go r.runSnapshotHandoff(sub, entries)

	return &Subscription{sub: sub}, nil
}

// runSnapshotHandoff performs the snapshot/sentinel/buffered-replay
// sequence guarded by subscriber.sendMu: entries are sent as Add, then
// the sentinel, then the buffer accumulated since registration is
// drained, dedup-transformed, and replayed — all before live delivery
// resumes.
func (r *Registry) runSnapshotHandoff(sub *subscriber, entries []snapshotEntry) {
	sub.sendMu.Lock()
	defer sub.sendMu.Unlock()

	snapshotIDs := make(map[string]bool, len(entries))
	for _, e := range entries {
		snapshotIDs[e.info.ID] = true
		sub.rawSend(notify.NewAdd(e.info, e.source, 0))
	}
	sub.rawSend(notify.Sentinel())

	buffered := sub.finishBuffering()
	sub.stopBuffering()

	for _, n := range transformBuffered(snapshotIDs, buffered) {
		sub.rawSend(n)
	}
}

// EvictAll schedules removal of every copy whose source matches filter —
// or every copy registry-wide, if filter is nil — through the preservation
// controller, so its quotaStream throttles how many holders are actually
// removed and when. It returns the number of holders with at least one
// copy scheduled, not the number already removed: completion happens asynchronously as quota
// grants drain the controller's queue.
func (r *Registry) EvictAll(filter *instance.Source) (int, error) {
	if r.isClosed() {
		return 0, core.NewFrameworkError("registry.EvictAll", "registry", core.ErrLifecycleClosed)
	}

	type candidate struct {
		id     string
		source instance.Source
	}
	var candidates []candidate
	holdersTouched := 0
	r.holders.Range(func(k, v interface{}) bool {
		id := k.(string)
		h := v.(*holder.Holder)
		matched := false
		for _, src := range h.Sources() {
			if filter != nil && !src.Equal(*filter) {
				continue
			}
			candidates = append(candidates, candidate{id: id, source: src})
			matched = true
		}
		if matched {
			holdersTouched++
		}
		return true
	})

	for _, cand := range candidates {
		id, source := cand.id, cand.source
		r.evictionCtrl.Enqueue(eviction.Registration{
			ID:     id,
			Source: source,
			Complete: func() error {
				_, err := r.mutate("registry.EvictAll", id, func(h *holder.Holder) (*notify.Notification, bool, error) {
					return h.Remove(source)
				})
				if err != nil && !core.IsLifecycleClosed(err) {
					// Another path (Unregister, a fresher Register) already
					// removed this copy before its quota arrived; not a
					// failure of EvictAll's own request.
					return nil
				}
				return err
			},
		})
	}

	return holdersTouched, nil
}

// Shutdown idempotently closes the registry: further mutation and
// subscription calls fail with core.ErrLifecycleClosed, and every open
// subscription is terminated with that same error. The eviction
// controller's remaining queue is completed synchronously before Shutdown
// returns.
func (r *Registry) Shutdown() {
	if r.isClosed() {
		return
	}
	// Drain the eviction queue while mutations are still accepted, so each
	// queued removal actually applies.
	r.evictionCtrl.Shutdown()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.bus.mu.Lock()
	subs := make([]*subscriber, 0, len(r.bus.subscribers))
	for sub := range r.bus.subscribers {
		subs = append(subs, sub)
	}
	r.bus.mu.Unlock()

	for _, sub := range subs {
		sub.terminate(core.ErrLifecycleClosed)
	}

	r.logger.Info("registry shut down", map[string]interface{}{
		"namespace":          r.cfg.Namespace,
		"terminatedSubCount": len(subs),
	})
}
