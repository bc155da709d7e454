package buddy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const eightMiB = blockFrame * FrameSize // one max-order block

func newTestAllocator(t *testing.T) *Allocator {
	t.Helper()
	a, err := New(0, eightMiB)
	require.NoError(t, err)
	return a
}

// Property 1: allocator round-trip.
func TestAllocFreeRoundTrip(t *testing.T) {
	a := newTestAllocator(t)
	before := a.Stats()

	type alloc struct {
		frame int64
		order int
	}
	var allocs []alloc
	for _, order := range []int{0, 2, 5, 0, 1, 3} {
		f, err := a.Alloc(order)
		require.NoError(t, err)
		allocs = append(allocs, alloc{f, order})
	}

	// Free in a different order than allocated.
	for i := len(allocs) - 1; i >= 0; i-- {
		require.NoError(t, a.Free(allocs[i].frame, allocs[i].order))
	}

	after := a.Stats()
	require.Equal(t, before, after, "freelist state must return to initial state")
}

// Property 2: buddy merge completeness.
func TestMergeCompleteness(t *testing.T) {
	a := newTestAllocator(t)

	f, err := a.Alloc(3)
	require.NoError(t, err)

	buddyF := f ^ (1 << 3)
	// Allocate order 2 twice: the two allocations split the original
	// order-3 allocation's buddy into a pair of order-2 buddies, and
	// freeing both must merge them back into a free order-3 block.
	lo, err := a.Alloc(2)
	require.NoError(t, err)
	hi, err := a.Alloc(2)
	require.NoError(t, err)
	require.Equal(t, lo^(1<<2), hi, "the two order-2 allocations must be buddies for this test to be meaningful")

	require.NoError(t, a.Free(lo, 2))
	require.NoError(t, a.Free(hi, 2))

	stats := a.Stats()
	require.Greater(t, stats[3], 0, "freeing both order-2 buddies must produce a free order-3 block")

	require.NoError(t, a.Free(f, 3))
	_ = buddyF
}

// Property 3: reserve exclusivity.
func TestReserveExclusivity(t *testing.T) {
	a := newTestAllocator(t)
	require.NoError(t, a.Reserve(0, FrameSize*4))

	for i := 0; i < 1000; i++ {
		f, err := a.Alloc(0)
		require.NoError(t, err)
		require.False(t, f >= 0 && f < 4, "alloc must never return a reserved frame, got %d", f)
	}
}

// buddy worst case: reserve both ends of an 8 MiB region. Each reserved
// frame splits the order-10 half it sits in, so an order-11 alloc must
// fail while order-9 (the largest block left in either half) succeeds.
func TestBuddyWorstCase(t *testing.T) {
	a := newTestAllocator(t)
	require.NoError(t, a.Reserve(0, FrameSize))
	require.NoError(t, a.Reserve(eightMiB-FrameSize, eightMiB))

	_, err := a.Alloc(MaxOrder)
	require.Error(t, err, "order-11 alloc must fail once both ends are reserved")

	_, err = a.Alloc(MaxOrder - 2)
	require.NoError(t, err, "order-9 alloc must still succeed")
}

func TestAllocOutOfMemory(t *testing.T) {
	a := newTestAllocator(t)
	_, err := a.Alloc(MaxOrder)
	require.NoError(t, err)
	_, err = a.Alloc(0)
	require.Error(t, err)
}

func TestAllocOrderTooLarge(t *testing.T) {
	a := newTestAllocator(t)
	_, err := a.Alloc(MaxOrder + 1)
	require.Error(t, err)
}

func TestNewRejectsUnalignedRange(t *testing.T) {
	_, err := New(1, eightMiB)
	require.Error(t, err)
}

func TestReserveRejectsUnalignedRange(t *testing.T) {
	a := newTestAllocator(t)
	require.Error(t, a.Reserve(1, FrameSize))
}
