package intc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHigherPriorityPushesToFrontWhileIdle(t *testing.T) {
	c := New()
	var order []int

	require.NoError(t, c.RegisterPeripheral(1, 10, func() { order = append(order, 1) }, nil))
	require.NoError(t, c.RegisterPeripheral(2, 5, func() { order = append(order, 2) }, nil))

	require.NoError(t, c.RaisePeripheral(1))
	require.NoError(t, c.RaisePeripheral(2))

	c.RunPending()
	require.Equal(t, []int{2, 1}, order, "lower priority number must preempt to the front and run first")
}

func TestSamePriorityIsFIFO(t *testing.T) {
	c := New()
	var order []int
	require.NoError(t, c.RegisterPeripheral(1, 10, func() { order = append(order, 1) }, nil))
	require.NoError(t, c.RegisterPeripheral(2, 10, func() { order = append(order, 2) }, nil))

	require.NoError(t, c.RaisePeripheral(1))
	require.NoError(t, c.RaisePeripheral(2))
	c.RunPending()
	require.Equal(t, []int{1, 2}, order)
}

func TestNestedPreemptionViaRecursiveRunPending(t *testing.T) {
	c := New()
	var order []int

	require.NoError(t, c.RegisterPeripheral(2, 5, func() { order = append(order, 2) }, nil))
	require.NoError(t, c.RegisterPeripheral(1, 20, func() {
		order = append(order, 1)
		require.NoError(t, c.RaisePeripheral(2))
		// Handler bodies run unmasked: re-checking the queue
		// here is what lets the higher-priority source 2 preempt source 1.
		c.RunPending()
		order = append(order, 10)
	}, nil))

	require.NoError(t, c.RaisePeripheral(1))
	c.RunPending()

	require.Equal(t, []int{1, 2, 10}, order)
}

func TestPrehookRunsBeforeEnqueue(t *testing.T) {
	c := New()
	acked := false
	require.NoError(t, c.RegisterPeripheral(3, 1, func() {
		require.True(t, acked, "prehook must run before the handler is even queued, let alone run")
	}, func() { acked = true }))

	require.NoError(t, c.RaisePeripheral(3))
	require.True(t, acked)
	c.RunPending()
}

func TestRegisterOutOfRangeRejected(t *testing.T) {
	c := New()
	require.Error(t, c.RegisterPeripheral(64, 1, func() {}, nil))
	require.Error(t, c.RegisterLocal(4, 1, func() {}, nil))
}

func TestRaiseUnregisteredSourceFails(t *testing.T) {
	c := New()
	require.Error(t, c.RaisePeripheral(5))
}
