package holder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetreg/core"
	"fleetreg/instance"
	"fleetreg/notify"
)

func TestSingleSourceLifecycle(t *testing.T) {
	// S1: register, update, unregister from one source.
	h := New("A", DefaultSelectionPolicy())
	local := instance.NewSource(instance.Local, "srv1")

	n, created, err := h.Update(local, instance.New("A", 1, map[string]interface{}{"zone": "us-east"}), nil)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.True(t, created)
	assert.Equal(t, notify.Add, n.Kind)
	assert.Equal(t, 1, h.Size())

	n, created, err = h.Update(local, instance.New("A", 2, map[string]interface{}{"zone": "us-west"}), nil)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.False(t, created)
	assert.Equal(t, notify.Modify, n.Kind)
	require.Len(t, n.Deltas, 1)
	assert.Equal(t, "zone", n.Deltas[0].Attribute)
	assert.Equal(t, "us-west", n.Deltas[0].NewValue)

	n, destroyed, err := h.Remove(local)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.True(t, destroyed)
	assert.Equal(t, notify.Delete, n.Kind)
	assert.Equal(t, 0, h.Size())
}

func TestTwoSourcesLocalWins(t *testing.T) {
	// S2: LOCAL outranks REPLICATED even with a lower version.
	h := New("A", DefaultSelectionPolicy())
	peer := instance.NewSource(instance.Replicated, "peer")
	self := instance.NewSource(instance.Local, "self")

	n, _, err := h.Update(peer, instance.New("A", 5, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, notify.Add, n.Kind)

	n, _, err = h.Update(self, instance.New("A", 1, nil), nil)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, notify.Modify, n.Kind)
	selected, _ := h.Get()
	assert.Equal(t, int64(1), selected.Version)

	n, _, err = h.Remove(self)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, notify.Modify, n.Kind)
	selected, _ = h.Get()
	assert.Equal(t, int64(5), selected.Version)
}

func TestStaleRegisterRejected(t *testing.T) {
	// S3.
	h := New("A", DefaultSelectionPolicy())
	self := instance.NewSource(instance.Local, "self")

	_, _, err := h.Update(self, instance.New("A", 3, nil), nil)
	require.NoError(t, err)

	n, _, err := h.Update(self, instance.New("A", 2, nil), nil)
	assert.ErrorIs(t, err, core.ErrStaleVersion)
	assert.Nil(t, n)
	assert.Equal(t, 1, h.Size())
}

func TestIdempotentRegisterEmitsNoSecondNotification(t *testing.T) {
	h := New("A", DefaultSelectionPolicy())
	self := instance.NewSource(instance.Local, "self")
	info := instance.New("A", 1, map[string]interface{}{"zone": "us-east"})

	n, _, err := h.Update(self, info, nil)
	require.NoError(t, err)
	require.NotNil(t, n)

	n, _, err = h.Update(self, info, nil)
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestNonSelectedCopyChangeEmitsNoNotification(t *testing.T) {
	h := New("A", DefaultSelectionPolicy())
	local := instance.NewSource(instance.Local, "self")
	peer := instance.NewSource(instance.Replicated, "peer")

	_, _, err := h.Update(local, instance.New("A", 1, nil), nil)
	require.NoError(t, err)

	n, _, err := h.Update(peer, instance.New("A", 99, nil), nil)
	require.NoError(t, err)
	assert.Nil(t, n, "a replicated update while LOCAL is selected must not change the view")
}

func TestHolderVersionStrictlyIncreasesOnlyOnObservableChange(t *testing.T) {
	h := New("A", DefaultSelectionPolicy())
	local := instance.NewSource(instance.Local, "self")
	peer := instance.NewSource(instance.Replicated, "peer")

	n, _, _ := h.Update(local, instance.New("A", 1, nil), nil)
	v1 := n.HolderVersion

	_, _, _ = h.Update(peer, instance.New("A", 99, nil), nil) // no notification
	assert.Equal(t, v1, h.Version())

	n2, _, _ := h.Update(local, instance.New("A", 2, nil), nil)
	assert.Greater(t, n2.HolderVersion, v1)
}

func TestRemoveUnknownSourceIsError(t *testing.T) {
	h := New("A", DefaultSelectionPolicy())
	local := instance.NewSource(instance.Local, "self")
	_, _, err := h.Remove(local)
	assert.ErrorIs(t, err, core.ErrUnknownSource)
}
