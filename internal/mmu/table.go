package mmu

import (
	"github.com/ppodds/osc2024/internal/kconfig"
	"github.com/ppodds/osc2024/internal/kerror"
)

// TableAllocator hands the page-table engine a fresh, zeroed 4 KiB frame
// whenever it needs to materialize an intermediate PGD/PUD/PMD/PT level,
// allocating tables on demand from the global frame allocator. The
// physical address returned is what gets written into the parent entry.
type TableAllocator interface {
	AllocTable() (pa uintptr, err error)
}

type node struct {
	entries [PTECount]Entry
	pa uintptr
}

// Table is a rooted 4-level translation table.
type Table struct {
	root *node
	alloc TableAllocator
	byPA map[uintptr]*node
	onMutate func() // flush hook: DSB-ISH, TLBI VMALLE1IS, DSB-ISH, ISB
}

// NewTable allocates a root table via alloc. onMutate, if non-nil, is
// called after every Map/Unmap to perform the barrier+invalidate sequence
// an AArch64 translation-table update requires after any mutation.
func NewTable(alloc TableAllocator, onMutate func()) (*Table, error) {
	rootPA, err := alloc.AllocTable()
	if err != nil {
		return nil, err
	}
	root := &node{pa: rootPA}
	t := &Table{
		root: root,
		alloc: alloc,
		byPA: map[uintptr]*node{rootPA: root},
		onMutate: onMutate,
	}
	return t, nil
}

// RootPA is the physical address to program into TTBR0_EL1/TTBR1_EL1.
func (t *Table) RootPA() uintptr { return t.root.pa }

func indices(va uintptr) (l0, l1, l2, l3 int) {
	l0 = int((va >> L0Shift) & (PTECount - 1))
	l1 = int((va >> L1Shift) & (PTECount - 1))
	l2 = int((va >> L2Shift) & (PTECount - 1))
	l3 = int((va >> L3Shift) & (PTECount - 1))
	return
}

// childOf walks one level, creating the child table on demand if create is
// true and the slot is currently invalid.
func (t *Table) childOf(n *node, idx int, create bool) (*node, error) {
	e := n.entries[idx]
	if isValid(e) {
		if !isTable(e) {
			return nil, kerror.ErrInvalidArgument
		}
		child, ok := t.byPA[outputAddr(e)]
		if !ok {
			return nil, kerror.ErrInvalidArgument
		}
		return child, nil
	}
	if !create {
		return nil, nil
	}
	pa, err := t.alloc.AllocTable()
	if err != nil {
		return nil, err
	}
	child := &node{pa: pa}
	t.byPA[pa] = child
	n.entries[idx] = newTableDescriptor(pa)
	return child, nil
}

func aligned(v uintptr) bool { return v%kconfig.PageSize == 0 }

// Map installs 4 KiB leaf descriptors across [va, va+size), creating
// intermediate tables as needed.
func (t *Table) Map(va, pa uintptr, size uint64, attr MemAttr, ap AccessPerm, sh Shareability, xn XN) error {
	if !aligned(va) || !aligned(pa) || size%kconfig.PageSize != 0 {
		return kerror.ErrNotAligned
	}

	for off := uint64(0); off < size; off += kconfig.PageSize {
		curVA := va + uintptr(off)
		curPA := pa + uintptr(off)
		l0, l1, l2, l3 := indices(curVA)

		l1t, err := t.childOf(t.root, l0, true)
		if err != nil {
			return err
		}
		l2t, err := t.childOf(l1t, l1, true)
		if err != nil {
			return err
		}
		l3t, err := t.childOf(l2t, l2, true)
		if err != nil {
			return err
		}
		l3t.entries[l3] = newLeaf(curPA, attr, ap, sh, xn)
	}
	t.flush()
	return nil
}

// Unmap installs an invalid leaf across [va, va+size).
func (t *Table) Unmap(va uintptr, size uint64) error {
	if !aligned(va) || size%kconfig.PageSize != 0 {
		return kerror.ErrNotAligned
	}
	for off := uint64(0); off < size; off += kconfig.PageSize {
		curVA := va + uintptr(off)
		l0, l1, l2, l3 := indices(curVA)

		l1t, err := t.childOf(t.root, l0, false)
		if err != nil {
			return err
		}
		if l1t == nil {
			continue
		}
		l2t, err := t.childOf(l1t, l1, false)
		if err != nil {
			return err
		}
		if l2t == nil {
			continue
		}
		l3t, err := t.childOf(l2t, l2, false)
		if err != nil {
			return err
		}
		if l3t == nil {
			continue
		}
		l3t.entries[l3] = 0
	}
	t.flush()
	return nil
}

func (t *Table) flush() {
	if t.onMutate != nil {
		t.onMutate()
	}
}

// VirtToPhys walks the tree read-only, the engine-level counterpart of
// virt_to_phys_by_table: returns pa|(va&0xfff), or
// kerror.ErrNoSuchRegion ("not mapped") if any level is invalid.
func (t *Table) VirtToPhys(va uintptr) (uintptr, error) {
	l0, l1, l2, l3 := indices(va)

	l1t, err := t.childOf(t.root, l0, false)
	if err != nil || l1t == nil {
		return 0, kerror.ErrNoSuchRegion
	}
	l2t, err := t.childOf(l1t, l1, false)
	if err != nil || l2t == nil {
		return 0, kerror.ErrNoSuchRegion
	}
	l3t, err := t.childOf(l2t, l2, false)
	if err != nil || l3t == nil {
		return 0, kerror.ErrNoSuchRegion
	}
	leaf := l3t.entries[l3]
	if !isValid(leaf) {
		return 0, kerror.ErrNoSuchRegion
	}
	return outputAddr(leaf) | (va & (kconfig.PageSize - 1)), nil
}

// Permissions reports the access permission and exec-never bits currently
// installed at va, used by the fault handler to distinguish a read-only
// permission fault from a demand-paging translation fault.
func (t *Table) Permissions(va uintptr) (ap AccessPerm, xn XN, ok bool) {
	l0, l1, l2, l3 := indices(va)
	l1t, err := t.childOf(t.root, l0, false)
	if err != nil || l1t == nil {
		return
	}
	l2t, err := t.childOf(l1t, l1, false)
	if err != nil || l2t == nil {
		return
	}
	l3t, err := t.childOf(l2t, l2, false)
	if err != nil || l3t == nil {
		return
	}
	leaf := l3t.entries[l3]
	if !isValid(leaf) {
		return
	}
	apRaw := uint8((leaf & apMask) >> apShift)
	switch apRaw {
	case 0b00:
		ap = ReadWriteEL1EL0
	case 0b10:
		ap = ReadOnlyEL1EL0
	case 0b01:
		ap = ReadWriteEL1
	default:
		ap = ReadOnlyEL1
	}
	xn = XN{UXN: leaf&entryUXN != 0, PXN: leaf&entryPXN != 0}
	ok = true
	return
}
