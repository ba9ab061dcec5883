package registry

import (
	"sync"

	"fleetreg/core"
	"fleetreg/instance"
	"fleetreg/interest"
	"fleetreg/notify"
)

// Subscription is the handle a caller of ForInterest receives: a channel
// of notifications and a way to cancel or inspect a terminal error.
type Subscription struct {
	sub *subscriber
}

// C returns the channel of notifications. It is closed when the
// subscription is cancelled or terminated (e.g. by SlowConsumer).
func (s *Subscription) C() <-chan notify.Notification {
	return s.sub.ch
}

// Close cancels the subscription immediately, releasing its buffer.
func (s *Subscription) Close() {
	s.sub.terminate(nil)
}

// Err returns the terminal error, if the subscription ended abnormally
// (core.ErrSlowConsumer or core.ErrLifecycleClosed). Nil after a clean
// Close.
func (s *Subscription) Err() error {
	s.sub.mu.Lock()
	defer s.sub.mu.Unlock()
	return s.sub.err
}

// subscriber is the bus-internal delivery state for one Subscription.
type subscriber struct {
	interest     interest.Interest
	sourceFilter func(instance.Source) bool
	hwm          int

	onClose func()

	mu        sync.Mutex
	buffering bool
	buffer    []notify.Notification
	closed    bool
	err       error

	// sendMu serializes writes into ch so the snapshot+sentinel+replay
	// sequence (held by the subscribing goroutine) can never interleave
	// with a concurrently delivered live notification.
	sendMu sync.Mutex
	ch     chan notify.Notification
}

func newSubscriber(it interest.Interest, sourceFilter func(instance.Source) bool, hwm int, onClose func()) *subscriber {
	return &subscriber{
		interest:     it,
		sourceFilter: sourceFilter,
		hwm:          hwm,
		buffering:    true,
		ch:           make(chan notify.Notification, hwm),
		onClose:      onClose,
	}
}

// deliver is called by bus.publish for a live (post-registration)
// notification. While buffering, it appends to the internal buffer and
// enforces the high watermark; afterward it forwards directly to ch with
// the same watermark-triggered termination.
func (s *subscriber) deliver(n notify.Notification) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.buffering {
		s.buffer = append(s.buffer, n)
		overflow := len(s.buffer) > s.hwm
		s.mu.Unlock()
		if overflow {
			s.terminate(core.ErrSlowConsumer)
		}
		return
	}
	s.mu.Unlock()

	s.sendLive(n)
}

func (s *subscriber) sendLive(n notify.Notification) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	select {
	case s.ch <- n:
	default:
		s.terminate(core.ErrSlowConsumer)
	}
}

// rawSend is used only by the subscribing goroutine during the
// snapshot/sentinel/replay sequence; it blocks rather than dropping, since
// that phase is finite and not subject to live backpressure.
func (s *subscriber) rawSend(n notify.Notification) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.ch <- n
}

// finishBuffering returns the accumulated live buffer (untransformed; the
// caller applies the dedup rule) and, in the same critical section, flips
// the subscriber into direct live-delivery mode. Must be called while
// sendMu is held by the caller, so later live deliveries wait for the
// replay.
func (s *subscriber) finishBuffering() []notify.Notification {
	s.mu.Lock()
	buffered := s.buffer
	s.buffer = nil
	s.buffering = false
	s.mu.Unlock()
	return buffered
}

func (s *subscriber) stopBuffering() {
	s.mu.Lock()
	s.buffering = false
	s.mu.Unlock()
}

func (s *subscriber) terminate(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	s.mu.Unlock()

	close(s.ch)
	if s.onClose != nil {
		s.onClose()
	}
}
