package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetreg/core"
	"fleetreg/eviction"
	"fleetreg/instance"
	"fleetreg/interest"
	"fleetreg/notify"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	cfg, err := core.NewConfig(core.WithSubscriberBufferHighWatermark(8))
	require.NoError(t, err)
	return New(cfg)
}

func drain(t *testing.T, sub *Subscription, n int) []notify.Notification {
	t.Helper()
	out := make([]notify.Notification, 0, n)
	for i := 0; i < n; i++ {
		select {
		case v, ok := <-sub.C():
			if !ok {
				t.Fatalf("channel closed early after %d of %d notifications, subscription err: %v", i, n, sub.Err())
			}
			out = append(out, v)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for notification %d of %d", i, n)
		}
	}
	return out
}

func TestRegisterThenForSnapshotSeesSelectedView(t *testing.T) {
	r := testRegistry(t)
	local := instance.NewSource(instance.Local, "self")

	_, err := r.Register(local, instance.New("A", 1, map[string]interface{}{"appName": "orders"}))
	require.NoError(t, err)

	ch, err := r.ForSnapshot(interest.ByAppName("orders"))
	require.NoError(t, err)

	var got []instance.Info
	for info := range ch {
		got = append(got, info)
	}
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].ID)
}

func TestForInterestSnapshotThenLiveJoin(t *testing.T) {
	// S4: a subscriber opened after A exists sees a snapshot Add, then a
	// sentinel, then live notifications for subsequent changes with no gap.
	r := testRegistry(t)
	local := instance.NewSource(instance.Local, "self")

	_, err := r.Register(local, instance.New("A", 1, nil))
	require.NoError(t, err)

	sub, err := r.ForInterest(interest.Full(), nil)
	require.NoError(t, err)
	defer sub.Close()

	notifications := drain(t, sub, 2)
	assert.Equal(t, notify.Add, notifications[0].Kind)
	assert.Equal(t, "A", notifications[0].Info.ID)
	assert.Equal(t, notify.BufferSentinel, notifications[1].Kind)

	_, err = r.Update(local, instance.New("A", 2, nil), nil)
	require.NoError(t, err)

	live := drain(t, sub, 1)
	assert.Equal(t, notify.Modify, live[0].Kind)
}

func TestForInterestSourceFilterExcludesOtherSources(t *testing.T) {
	r := testRegistry(t)
	local := instance.NewSource(instance.Local, "self")
	peer := instance.NewSource(instance.Replicated, "peer")

	_, err := r.Register(local, instance.New("A", 1, nil))
	require.NoError(t, err)

	sub, err := r.ForInterest(interest.Full(), instance.MatchSource(local))
	require.NoError(t, err)
	defer sub.Close()

	notifications := drain(t, sub, 2)
	assert.Equal(t, notify.Add, notifications[0].Kind)
	assert.Equal(t, notify.BufferSentinel, notifications[1].Kind)

	// A replicated registration for a different id must not reach this
	// source-filtered subscriber.
	_, err = r.Register(peer, instance.New("B", 1, nil))
	require.NoError(t, err)

	// A subsequent local registration should, confirming the filter isn't
	// simply starved.
	_, err = r.Register(local, instance.New("C", 1, nil))
	require.NoError(t, err)

	live := drain(t, sub, 1)
	assert.Equal(t, "C", live[0].Info.ID)
}

func TestUnregisterLastCopyDestroysHolderAndNotifiesDelete(t *testing.T) {
	r := testRegistry(t)
	local := instance.NewSource(instance.Local, "self")

	_, err := r.Register(local, instance.New("A", 1, nil))
	require.NoError(t, err)

	sub, err := r.ForInterest(interest.Full(), nil)
	require.NoError(t, err)
	defer sub.Close()
	_ = drain(t, sub, 2) // snapshot Add + sentinel

	destroyed, err := r.Unregister(local, "A")
	require.NoError(t, err)
	assert.True(t, destroyed)

	live := drain(t, sub, 1)
	assert.Equal(t, notify.Delete, live[0].Kind)

	assert.Empty(t, r.GetHolders())
}

func TestUpdateReportsWhetherItCreatedTheHolder(t *testing.T) {
	r := testRegistry(t)
	local := instance.NewSource(instance.Local, "self")

	created, err := r.Update(local, instance.New("A", 1, nil), nil)
	require.NoError(t, err)
	assert.True(t, created, "first Update for an id must report it created the holder, mirroring Register")

	created, err = r.Update(local, instance.New("A", 2, nil), nil)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestEvictAllRemovesOnlyTargetSourcesCopies(t *testing.T) {
	// EvictAll only schedules removal through the (default, unthrottled)
	// eviction controller, so completion is observed via the resulting
	// Delete notification rather than immediately after the call returns.
	r := testRegistry(t)
	peer := instance.NewSource(instance.Replicated, "peer-1")
	local := instance.NewSource(instance.Local, "self")

	_, err := r.Register(peer, instance.New("A", 1, nil))
	require.NoError(t, err)
	_, err = r.Register(local, instance.New("B", 1, nil))
	require.NoError(t, err)

	sub, err := r.ForInterest(interest.Full(), nil)
	require.NoError(t, err)
	defer sub.Close()
	_ = drain(t, sub, 3) // two snapshot Adds + sentinel, in some order

	n, err := r.EvictAll(&peer)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	live := drain(t, sub, 1)
	assert.Equal(t, notify.Delete, live[0].Kind)
	assert.Equal(t, "A", live[0].Info.ID)

	holders := r.GetHolders()
	require.Len(t, holders, 1)
	assert.Equal(t, "B", holders[0].ID())
}

func TestEvictAllWithNilFilterEvictsEveryCopyRegardlessOfSource(t *testing.T) {
	r := testRegistry(t)
	peer := instance.NewSource(instance.Replicated, "peer-1")
	local := instance.NewSource(instance.Local, "self")

	_, err := r.Register(peer, instance.New("A", 1, nil))
	require.NoError(t, err)
	_, err = r.Register(local, instance.New("B", 1, nil))
	require.NoError(t, err)

	sub, err := r.ForInterest(interest.Full(), nil)
	require.NoError(t, err)
	defer sub.Close()
	_ = drain(t, sub, 3)

	n, err := r.EvictAll(nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_ = drain(t, sub, 2) // Delete for A and Delete for B, in some order
	assert.Empty(t, r.GetHolders())
}

func TestEvictAllThrottledByExternalQuotaStream(t *testing.T) {
	// S5: quota 3, 0, 0, 7 against ten queued evictions yields 3 completions,
	// a quiet period while quota is 0, then the remaining 7.
	quota := make(chan int)
	ctrl := eviction.NewController(quota)
	defer ctrl.Shutdown()

	cfg, err := core.NewConfig(core.WithSubscriberBufferHighWatermark(32))
	require.NoError(t, err)
	r := New(cfg, WithEvictionController(ctrl))
	defer r.Shutdown()

	peer := instance.NewSource(instance.Replicated, "peer-1")
	for i := 0; i < 10; i++ {
		_, err := r.Register(peer, instance.New(string(rune('a'+i)), 1, nil))
		require.NoError(t, err)
	}

	sub, err := r.ForInterest(interest.Full(), nil)
	require.NoError(t, err)
	defer sub.Close()
	_ = drain(t, sub, 11) // ten snapshot Adds + sentinel

	n, err := r.EvictAll(&peer)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	quota <- 3
	deletes := drain(t, sub, 3)
	for _, d := range deletes {
		assert.Equal(t, notify.Delete, d.Kind)
	}

	assertNoNotificationWithin(t, sub, 100*time.Millisecond)

	quota <- 0
	quota <- 0
	assertNoNotificationWithin(t, sub, 100*time.Millisecond)

	quota <- 7
	deletes = drain(t, sub, 7)
	for _, d := range deletes {
		assert.Equal(t, notify.Delete, d.Kind)
	}

	assert.Empty(t, r.GetHolders())
}

func assertNoNotificationWithin(t *testing.T, sub *Subscription, d time.Duration) {
	t.Helper()
	select {
	case n, ok := <-sub.C():
		if ok {
			t.Fatalf("expected no notification within %s, got %+v", d, n)
		}
	case <-time.After(d):
	}
}

func TestShutdownTerminatesSubscriptionsAndRejectsMutation(t *testing.T) {
	r := testRegistry(t)
	sub, err := r.ForInterest(interest.Full(), nil)
	require.NoError(t, err)
	_ = drain(t, sub, 1) // sentinel, no prior entries

	r.Shutdown()
	r.Shutdown() // idempotent

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.ErrorIs(t, sub.Err(), core.ErrLifecycleClosed)

	_, err = r.Register(instance.NewSource(instance.Local, "self"), instance.New("A", 1, nil))
	assert.ErrorIs(t, err, core.ErrLifecycleClosed)
}

func TestStaleRegisterReturnsFrameworkWrappedSentinel(t *testing.T) {
	r := testRegistry(t)
	local := instance.NewSource(instance.Local, "self")

	_, err := r.Register(local, instance.New("A", 3, nil))
	require.NoError(t, err)

	_, err = r.Register(local, instance.New("A", 2, nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrStaleVersion)
}
