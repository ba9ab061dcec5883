// Package eviction implements a preservation/eviction controller: a FIFO
// queue of registrations awaiting removal, drained gradually under the
// control of an externally supplied quota stream so a single misbehaving
// source (e.g. a disconnected replication peer) cannot evict the whole
// registry in one burst.
//
// Modeled on Eureka2's PreservableRegistryProcessor / QuotaSubscriber: on
// receipt of quota q, dequeue up to q records and complete each; if the
// queue is empty the quota is simply not stored.
package eviction

import (
	"container/list"
	"sync"

	"fleetreg/core"
	"fleetreg/instance"
)

// Registration is one queued eviction candidate: the source whose copy of
// id should be removed, and the func that actually performs the removal
// (typically closing over a *registry.Registry).
type Registration struct {
	ID       string
	Source   instance.Source
	Complete func() error
}

// Controller drains Registrations off its queue as quota arrives on the
// channel supplied at construction. It is started immediately by
// NewController, mirroring the original processor subscribing to its
// quota observable in its constructor.
type Controller struct {
	logger  core.Logger
	metrics core.MetricSink

	mu    sync.Mutex
	queue *list.List

	quota     <-chan int
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Option configures a Controller at construction.
type Option func(*Controller)

// WithLogger injects a structured logger. Defaults to core.NoOpLogger.
func WithLogger(l core.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithMetrics injects a metric sink. Defaults to core.NoOpMetricSink.
func WithMetrics(m core.MetricSink) Option {
	return func(c *Controller) { c.metrics = m }
}

// NewController builds a Controller reading quota grants from quota and
// starts its drain loop in the background.
func NewController(quota <-chan int, opts ...Option) *Controller {
	c := &Controller{
		logger:  core.NoOpLogger{},
		metrics: core.NoOpMetricSink{},
		queue:   list.New(),
		quota:   quota,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.wg.Add(1)
	go c.run()

	return c
}

// unboundedQuota is large enough that a single grant always drains
// whatever is queued at the moment it arrives.
const unboundedQuota = 1 << 30

// NewUnthrottledController builds a Controller fed by an internal quota
// source that keeps every queued registration draining immediately. It is
// the default a Registry falls back to when no externally-throttled
// quotaStream has been injected via WithEvictionController — eviction
// still flows through the controller, it is simply never gated.
func NewUnthrottledController(opts ...Option) *Controller {
	quota := make(chan int)
	c := NewController(quota, opts...)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case quota <- unboundedQuota:
			case <-c.done:
				return
			}
		}
	}()

	return c
}

func (c *Controller) run() {
	defer c.wg.Done()
	for {
		select {
		case q, ok := <-c.quota:
			if !ok {
				return
			}
			if q > 0 {
				c.drain(q)
			}
		case <-c.done:
			return
		}
	}
}

// drain completes up to q queued registrations, stopping early if the
// queue runs dry — the quota is not stored against future arrivals.
func (c *Controller) drain(q int) {
	for i := 0; i < q; i++ {
		reg, ok := c.pop()
		if !ok {
			break
		}
		c.complete(reg)
	}
}

func (c *Controller) pop() (Registration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	front := c.queue.Front()
	if front == nil {
		return Registration{}, false
	}
	c.queue.Remove(front)
	return front.Value.(Registration), true
}

func (c *Controller) complete(reg Registration) {
	if err := reg.Complete(); err != nil {
		c.logger.Warn("eviction completion failed", map[string]interface{}{
			"id":     reg.ID,
			"source": reg.Source.String(),
			"err":    err.Error(),
		})
		return
	}
	c.metrics.IncrCounter("evictions", map[string]string{"origin": reg.Source.Origin.String()})
	c.metrics.SetGauge("eviction_queue_depth", float64(c.Len()), nil)
}

// Enqueue adds reg to the back of the eviction queue. It is not evicted
// until a quota grant reaches it — a registration queued here is
// processed as a normal eviction even if its originating stream already
// errored.
func (c *Controller) Enqueue(reg Registration) {
	c.mu.Lock()
	c.queue.PushBack(reg)
	depth := c.queue.Len()
	c.mu.Unlock()
	c.metrics.SetGauge("eviction_queue_depth", float64(depth), nil)
}

// Len returns the number of registrations currently queued.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}

// Shutdown cancels the quota subscription and synchronously completes
// every still-queued registration before returning. Idempotent.
func (c *Controller) Shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()

		c.mu.Lock()
		remaining := make([]Registration, 0, c.queue.Len())
		for e := c.queue.Front(); e != nil; e = e.Next() {
			remaining = append(remaining, e.Value.(Registration))
		}
		c.queue.Init()
		c.mu.Unlock()

		for _, reg := range remaining {
			c.complete(reg)
		}
	})
}
