package slab

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/ppodds/osc2024/internal/buddy"
	"github.com/ppodds/osc2024/internal/kconfig"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	a, err := buddy.New(0, buddy.FrameSize<<buddy.MaxOrder)
	require.NoError(t, err)
	return NewCache(a)
}

// Property 4: slab class monotonicity — every returned pointer is aligned
// to next_power_of_two(max(s, 8)).
func TestAllocAlignment(t *testing.T) {
	c := newTestCache(t)
	for _, size := range []uint32{1, 7, 8, 9, 16, 100, 256, 513, 1024} {
		block, err := c.Alloc(size)
		require.NoError(t, err)
		want := nextPow2(size)
		if want < 8 {
			want = 8
		}
		addr := uintptr(unsafe.Pointer(&block[0]))
		require.Zerof(t, addr%uintptr(want), "size=%d rounded=%d addr=%#x not aligned", size, want, addr)
	}
}

func TestAllocDelegatesAboveMaxClassToBuddy(t *testing.T) {
	c := newTestCache(t)
	block, err := c.Alloc(4096)
	require.NoError(t, err)
	require.Len(t, block, 4096)
}

func TestFreeReturnsBlockToItsClass(t *testing.T) {
	c := newTestCache(t)
	block, err := c.Alloc(32)
	require.NoError(t, err)
	require.NoError(t, c.Free(block, 32))

	idx, _ := classIndexForSize(32)
	require.NotEmpty(t, c.classes[idx].free, "freed block should be back at the head of its class freelist")
}

func TestRefillThreadsOneFrameIntoClassBlocks(t *testing.T) {
	c := newTestCache(t)
	idx, _ := classIndexForSize(64)
	_, err := c.Alloc(64)
	require.NoError(t, err)
	// One frame / 64 bytes per block, minus the one just handed out.
	require.Equal(t, int(kconfig.PageSize/64)-1, len(c.classes[idx].free))
}
