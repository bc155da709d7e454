package pidtab

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateIsMonotonic(t *testing.T) {
	tb := New()
	a := tb.Allocate("taskA")
	b := tb.Allocate("taskB")
	require.Equal(t, a+1, b)
}

func TestLookupReturnsRegisteredHandle(t *testing.T) {
	tb := New()
	pid := tb.Allocate("taskA")
	h, err := tb.Lookup(pid)
	require.NoError(t, err)
	require.Equal(t, "taskA", h)
}

func TestLookupUnknownPIDFails(t *testing.T) {
	tb := New()
	_, err := tb.Lookup(999)
	require.Error(t, err)
}

func TestReapRemovesEntry(t *testing.T) {
	tb := New()
	pid := tb.Allocate("taskA")
	require.Equal(t, 1, tb.Len())
	tb.Reap(pid)
	require.Equal(t, 0, tb.Len())
	_, err := tb.Lookup(pid)
	require.Error(t, err)
}

func TestNextPIDNeverReissuedAfterReap(t *testing.T) {
	tb := New()
	a := tb.Allocate("taskA")
	tb.Reap(a)
	b := tb.Allocate("taskB")
	require.Equal(t, a+1, b, "PID numbers are strictly monotonic even across reaps")
}
