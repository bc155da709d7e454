package mmu

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := NewTable(NewBumpAllocator(0x1000_0000), nil)
	require.NoError(t, err)
	return tbl
}

// Property 5: page-table identity — virt_to_phys_by_table returns
// pa|(va&0xfff) for every mapped (va, pa), until Unmap removes it.
func TestMapThenVirtToPhysIdentity(t *testing.T) {
	tbl := newTestTable(t)
	va := uintptr(0x4000_0000)
	pa := uintptr(0x8000_0000)
	size := uint64(0x4000) // 4 pages

	require.NoError(t, tbl.Map(va, pa, size, AttrNormal, ReadWriteEL1EL0, ShareInner, XN{}))

	for off := uintptr(0); off < uintptr(size); off += 4096 {
		for _, lowBits := range []uintptr{0, 1, 0xFFF} {
			got, err := tbl.VirtToPhys(va + off + lowBits)
			require.NoError(t, err)
			require.Equal(t, pa+off+lowBits, got)
		}
	}

	require.NoError(t, tbl.Unmap(va, size))
	for off := uintptr(0); off < uintptr(size); off += 4096 {
		_, err := tbl.VirtToPhys(va + off)
		require.Error(t, err)
	}
}

func TestMapRejectsUnalignedArgs(t *testing.T) {
	tbl := newTestTable(t)
	require.Error(t, tbl.Map(1, 0x1000, 4096, AttrNormal, ReadWriteEL1EL0, ShareInner, XN{}))
	require.Error(t, tbl.Map(0x1000, 1, 4096, AttrNormal, ReadWriteEL1EL0, ShareInner, XN{}))
	require.Error(t, tbl.Map(0x1000, 0x2000, 100, AttrNormal, ReadWriteEL1EL0, ShareInner, XN{}))
}

func TestVirtToPhysUnmappedFails(t *testing.T) {
	tbl := newTestTable(t)
	_, err := tbl.VirtToPhys(0xdead_b000)
	require.Error(t, err)
}

func TestPermissionsReflectsAccessPerm(t *testing.T) {
	tbl := newTestTable(t)
	va := uintptr(0x2000_0000)
	require.NoError(t, tbl.Map(va, 0x9000_0000, 4096, AttrNormal, ReadOnlyEL1EL0, ShareInner, XN{UXN: true}))

	ap, xn, ok := tbl.Permissions(va)
	require.True(t, ok)
	require.Equal(t, ReadOnlyEL1EL0, ap)
	require.True(t, xn.UXN)
}

func TestMutateHookInvokedOnMapAndUnmap(t *testing.T) {
	calls := 0
	tbl, err := NewTable(NewBumpAllocator(0x2000_0000), func() { calls++ })
	require.NoError(t, err)

	require.NoError(t, tbl.Map(0x3000_0000, 0xA000_0000, 4096, AttrNormal, ReadWriteEL1EL0, ShareInner, XN{}))
	require.NoError(t, tbl.Unmap(0x3000_0000, 4096))
	require.Equal(t, 2, calls, "Map and Unmap must each trigger the barrier+invalidate hook")
}

func TestNewKernelTableTagsMMIOAsDevice(t *testing.T) {
	mmio := []MMIORange{{Lo: 0x3F00_0000, Hi: 0x4000_0000}}
	tbl, err := NewKernelTable(NewBumpAllocator(0x9000_0000), nil, 0xFFFF_0000_0000_0000, 0x4000_0000, mmio)
	require.NoError(t, err)

	// A normal-memory page well below the MMIO window.
	_, err = tbl.VirtToPhys(0xFFFF_0000_0000_0000)
	require.NoError(t, err)

	// Somewhere inside the tagged MMIO window.
	_, err = tbl.VirtToPhys(0xFFFF_0000_0000_0000 + 0x3F00_1000)
	require.NoError(t, err)
}
