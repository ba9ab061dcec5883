// Package replication implements an outbound replication channel: a
// state machine that subscribes to the local registry's full,
// LOCAL-origin view and replays it — and its live tail — to a single
// remote peer connection, interleaved with periodic heartbeats.
//
// Modeled on Eureka's ClientReplicationChannel: one lazily established
// connection shared by every send, a background subscription
// translating Add/Modify/Delete into RegisterCopy/UpdateCopy/UnregisterCopy
// wire calls, and any send failure closing the channel and propagating
// through a lifecycle signal.
package replication

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fleetreg/core"
	"fleetreg/instance"
	"fleetreg/interest"
	"fleetreg/notify"
	"fleetreg/registry"
)

// TransportConnection is the single remote peer connection a Channel
// drives. Every method may be called concurrently with Close, which must
// make them fail fast rather than block indefinitely.
type TransportConnection interface {
	SendRegister(ctx context.Context, info instance.Info) error
	SendUpdate(ctx context.Context, info instance.Info, deltas []instance.Delta) error
	SendUnregister(ctx context.Context, id string) error
	SendHeartbeat(ctx context.Context) error
	Close() error
}

// TransportClient establishes the one connection a Channel will ever use.
type TransportClient interface {
	Connect(ctx context.Context) (TransportConnection, error)
}

type state int32

const (
	stateIdle state = iota
	stateConnected
	stateClosed
)

// Channel replicates one registry's LOCAL-origin view to one remote peer.
// It is a write-once connection cell, the replay-once single-value
// broadcast pattern: Connect is attempted exactly once, and every caller
// observing the channel sees the same connection or the same connection
// error.
type Channel struct {
	reg               *registry.Registry
	client            TransportClient
	heartbeatInterval time.Duration
	sendTimeout       time.Duration
	logger            core.Logger
	metrics           core.MetricSink

	state int32 // atomic state

	connectOnce sync.Once
	connReady   chan struct{}
	connMu      sync.RWMutex
	conn        TransportConnection
	connErr     error

	lifecycleOnce sync.Once
	lifecycleDone chan struct{}
	lifecycleErr  error

	sub *registry.Subscription

	wg sync.WaitGroup
}

// Option configures a Channel at construction.
type Option func(*Channel)

// WithLogger injects a structured logger. Defaults to core.NoOpLogger.
func WithLogger(l core.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// WithMetrics injects a metric sink. Defaults to core.NoOpMetricSink.
func WithMetrics(m core.MetricSink) Option {
	return func(c *Channel) { c.metrics = m }
}

// New builds a Channel against reg using client for transport, and starts
// its registry-replication and heartbeat loops in the background —
// mirroring the original constructor, which wires both before returning.
func New(reg *registry.Registry, client TransportClient, cfg *core.Config, opts ...Option) (*Channel, error) {
	c := &Channel{
		reg:               reg,
		client:            client,
		heartbeatInterval: cfg.HeartbeatInterval,
		sendTimeout:       cfg.ReplicationSendTimeout,
		logger:            core.NoOpLogger{},
		metrics:           core.NoOpMetricSink{},
		connReady:         make(chan struct{}),
		lifecycleDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	sub, err := reg.ForInterest(interest.Full(), instance.MatchOrigin(instance.Local))
	if err != nil {
		return nil, core.NewFrameworkError("replication.New", "replication", err)
	}
	c.sub = sub

	c.wg.Add(2)
	go c.runReplication()
	go c.runHeartbeat()

	return c, nil
}

// Done returns a channel closed when the replication channel reaches a
// terminal state, analogous to context.Context.Done.
func (c *Channel) Done() <-chan struct{} {
	return c.lifecycleDone
}

// Err returns the error that caused termination, or nil after a clean
// Close. Meaningless before Done is closed.
func (c *Channel) Err() error {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.lifecycleErr
}

func (c *Channel) runReplication() {
	defer c.wg.Done()

	conn, err := c.connect(context.Background())
	if err != nil {
		c.fail(core.NewFrameworkError("replication.connect", "replication", err))
		return
	}

	for n := range c.sub.C() {
		if n.Kind == notify.BufferSentinel {
			continue
		}
		if err := c.send(conn, n); err != nil {
			c.fail(core.NewFrameworkError("replication.send", "replication", err))
			return
		}
	}
}

func (c *Channel) send(conn TransportConnection, n notify.Notification) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.sendTimeout)
	defer cancel()

	var err error
	switch n.Kind {
	case notify.Add:
		err = conn.SendRegister(ctx, n.Info)
	case notify.Modify:
		err = conn.SendUpdate(ctx, n.Info, n.Deltas)
	case notify.Delete:
		err = conn.SendUnregister(ctx, n.Info.ID)
	}
	if err != nil {
		return err
	}
	c.metrics.IncrCounter("replication_sends", map[string]string{"kind": n.Kind.String()})
	return nil
}

func (c *Channel) runHeartbeat() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.heartbeat(); err != nil {
				c.fail(core.NewFrameworkError("replication.heartbeat", "replication", err))
				return
			}
		case <-c.lifecycleDone:
			return
		}
	}
}

func (c *Channel) heartbeat() error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return nil // not yet connected; nothing to heartbeat
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.sendTimeout)
	defer cancel()
	if err := conn.SendHeartbeat(ctx); err != nil {
		return err
	}
	c.metrics.IncrCounter("replication_heartbeats", nil)
	return nil
}

// connect lazily establishes the one connection this channel will ever
// use; every caller observes the same result.
func (c *Channel) connect(ctx context.Context) (TransportConnection, error) {
	c.connectOnce.Do(func() {
		atomic.StoreInt32(&c.state, int32(stateConnected))
		conn, err := c.client.Connect(ctx)
		c.connMu.Lock()
		c.conn, c.connErr = conn, err
		c.connMu.Unlock()
		close(c.connReady)
	})
	<-c.connReady
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn, c.connErr
}

func (c *Channel) fail(err error) {
	err = fmt.Errorf("%w: %w", core.ErrTransportFailure, err)
	c.logger.Warn("replication channel failing", map[string]interface{}{"err": err.Error()})
	c.terminate(err)
}

// Close cancels the channel cleanly: no error is recorded on the
// lifecycle signal. Idempotent.
func (c *Channel) Close() error {
	return c.terminate(nil)
}

func (c *Channel) terminate(err error) error {
	if !atomic.CompareAndSwapInt32(&c.state, int32(stateIdle), int32(stateClosed)) &&
		!atomic.CompareAndSwapInt32(&c.state, int32(stateConnected), int32(stateClosed)) {
		return core.ErrLifecycleClosed
	}

	c.sub.Close()

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn != nil {
		_ = conn.Close()
	}

	c.lifecycleOnce.Do(func() {
		c.connMu.Lock()
		c.lifecycleErr = err
		c.connMu.Unlock()
		close(c.lifecycleDone)
	})

	return nil
}
