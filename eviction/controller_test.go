package eviction

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetreg/instance"
)

func completedCounter() (func() error, *int32) {
	var n int32
	return func() error {
		atomic.AddInt32(&n, 1)
		return nil
	}, &n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestQuotaDrainsExactlyUpToQueueDepth(t *testing.T) {
	// S5: ten queued evictions, quota stream 3, 0, 0, 7.
	quota := make(chan int)
	c := NewController(quota)
	defer c.Shutdown()

	var mu sync.Mutex
	var completed []string

	for i := 0; i < 10; i++ {
		id := string(rune('A' + i))
		c.Enqueue(Registration{
			ID:     id,
			Source: instance.NewSource(instance.Replicated, "peer"),
			Complete: func() error {
				mu.Lock()
				completed = append(completed, id)
				mu.Unlock()
				return nil
			},
		})
	}
	require.Equal(t, 10, c.Len())

	quota <- 3
	waitFor(t, func() bool { return c.Len() == 7 })

	quota <- 0
	quota <- 0
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 7, c.Len(), "zero quota must not drain the queue")

	quota <- 7
	waitFor(t, func() bool { return c.Len() == 0 })

	mu.Lock()
	assert.Len(t, completed, 10)
	mu.Unlock()
}

func TestEnqueueAfterQuotaArrivesIsNotRetroactivelyConsumed(t *testing.T) {
	quota := make(chan int)
	c := NewController(quota)
	defer c.Shutdown()

	quota <- 5 // no queue yet; quota is simply not stored
	time.Sleep(10 * time.Millisecond)

	complete, n := completedCounter()
	c.Enqueue(Registration{ID: "A", Complete: complete})
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, int32(0), atomic.LoadInt32(n), "a later registration must not be swept by an earlier quota")
	assert.Equal(t, 1, c.Len())
}

func TestShutdownCompletesRemainingQueueSynchronously(t *testing.T) {
	quota := make(chan int)
	c := NewController(quota)

	complete, n := completedCounter()
	c.Enqueue(Registration{ID: "A", Complete: complete})
	c.Enqueue(Registration{ID: "B", Complete: complete})

	c.Shutdown()

	assert.Equal(t, int32(2), atomic.LoadInt32(n))
	assert.Equal(t, 0, c.Len())
}
