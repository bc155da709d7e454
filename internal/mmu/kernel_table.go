package mmu

// bumpAllocator is a trivial TableAllocator handing out ever-increasing
// fake physical addresses for intermediate tables. Production code backs
// this with the buddy allocator; this stand-in exists so the logical layer
// (and its tests) never need a real frame pool.
type bumpAllocator struct {
	next uintptr
	step uintptr
}

func NewBumpAllocator(base uintptr) *bumpAllocator {
	return &bumpAllocator{next: base, step: 4096}
}

func (b *bumpAllocator) AllocTable() (uintptr, error) {
	pa := b.next
	b.next += b.step
	return pa, nil
}

// MMIORange describes a physical window that must be tagged AttrDevice
// rather than AttrNormal when the kernel table identity-maps it.
type MMIORange struct {
	Lo, Hi uintptr
}

// NewKernelTable builds the compile-time-sized kernel translation table:
// the low identityMapBytes of physical memory mapped 1:1 into the kernel
// high half (at highHalfBias), with any MMIO ranges
// tagged Device and everything else Normal.
func NewKernelTable(alloc TableAllocator, onMutate func(), highHalfBias uintptr, identityMapBytes uintptr, mmio []MMIORange) (*Table, error) {
	t, err := NewTable(alloc, onMutate)
	if err != nil {
		return nil, err
	}

	const chunk = uintptr(2 * 1024 * 1024) // map in 2 MiB strides to keep table-build cost linear in the pack count
	for pa := uintptr(0); pa < identityMapBytes; pa += chunk {
		size := chunk
		if pa+size > identityMapBytes {
			size = identityMapBytes - pa
		}
		attr := AttrNormal
		for _, m := range mmio {
			if pa < m.Hi && pa+size > m.Lo {
				attr = AttrDevice
				break
			}
		}
		va := highHalfBias + pa
		if err := t.Map(va, pa, uint64(size), attr, ReadWriteEL1, ShareInner, XN{UXN: true, PXN: false}); err != nil {
			return nil, err
		}
	}
	return t, nil
}
