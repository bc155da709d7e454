package memmap

import (
	"sort"
	"sync"

	"github.com/ppodds/osc2024/internal/kconfig"
	"github.com/ppodds/osc2024/internal/kerror"
	"github.com/ppodds/osc2024/internal/mmu"
)

// FrameSource is the physical-frame provider a Map uses to back owned
// regions and to grow its own page tables; buddy.Allocator satisfies it.
type FrameSource interface {
	Alloc(order int) (int64, error)
	Free(frameIndex int64, order int) error
}

type tableAllocatorOverFrames struct{ frames FrameSource }

func (t tableAllocatorOverFrames) AllocTable() (uintptr, error) {
	idx, err := t.frames.Alloc(0)
	if err != nil {
		return 0, err
	}
	return uintptr(idx) * kconfig.PageSize, nil
}

// Map is one task's memory map: an ordered, non-overlapping region list
// plus the page table those regions are lazily materialized into.
type Map struct {
	mu sync.Mutex
	regions []*Region
	table *mmu.Table
	frames FrameSource
	minVA uintptr
	maxVA uintptr
}

// NewMap creates an empty memory map over [minVA, maxVA). frames may be nil
// for purely host-side tests that never exercise real frame accounting.
func NewMap(frames FrameSource, minVA, maxVA uintptr) (*Map, error) {
	var alloc mmu.TableAllocator
	if frames != nil {
		alloc = tableAllocatorOverFrames{frames}
	} else {
		alloc = mmu.NewBumpAllocator(0x9000_0000)
	}
	table, err := mmu.NewTable(alloc, nil)
	if err != nil {
		return nil, err
	}
	return &Map{table: table, frames: frames, minVA: minVA, maxVA: maxVA}, nil
}

// Table exposes the underlying page table, e.g. so the scheduler can
// program TTBR0_EL1 from it on a context switch.
func (m *Map) Table() *mmu.Table { return m.table }

func (m *Map) indexForInsert(va uintptr) int {
	return sort.Search(len(m.regions), func(i int) bool { return m.regions[i].VStart >= va })
}

// MapPages creates a new region [va, va+size). Page-table entries are
// installed eagerly when pstart is non-nil or ownedBacking is set (the
// latter allocates the backing and physical frames here); otherwise the
// region is materialized lazily on first fault.
func (m *Map) MapPages(va uintptr, pstart *uintptr, size uint64, attr mmu.MemAttr, access mmu.AccessPerm, exec, allowUser, ownedBacking bool) (*Region, error) {
	if va%kconfig.PageSize != 0 || size%kconfig.PageSize != 0 {
		return nil, kerror.ErrNotAligned
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r := &Region{VStart: va, Size: size, Attr: attr, Access: access, Exec: exec, AllowUser: allowUser}
	if pstart != nil {
		p := *pstart
		r.PStart = &p
	}

	idx := m.indexForInsert(va)
	if idx > 0 && overlaps(m.regions[idx-1], r) {
		return nil, kerror.ErrOverlap
	}
	if idx < len(m.regions) && overlaps(m.regions[idx], r) {
		return nil, kerror.ErrOverlap
	}

	if ownedBacking {
		r.Backing = newBacking(size)
		if r.PStart == nil {
			pa, err := m.allocatePhys(size)
			if err != nil {
				return nil, err
			}
			r.PStart = &pa
		}
	}

	m.regions = append(m.regions, nil)
	copy(m.regions[idx+1:], m.regions[idx:])
	m.regions[idx] = r

	if r.PStart != nil {
		if err := m.installRegion(r, r.Access); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// UnmapPages removes the region whose VStart exactly matches va and tears
// down its page-table entries.
func (m *Map) UnmapPages(va uintptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, r := range m.regions {
		if r.VStart == va {
			if err := m.table.Unmap(r.VStart, r.Size); err != nil {
				return err
			}
			m.regions = append(m.regions[:i], m.regions[i+1:]...)
			return nil
		}
	}
	return kerror.ErrNoSuchRegion
}

// findCovering returns the region whose range contains va, i.e. the
// predecessor region in the ordered list.
func (m *Map) findCovering(va uintptr) *Region {
	idx := sort.Search(len(m.regions), func(i int) bool { return m.regions[i].VStart > va })
	if idx == 0 {
		return nil
	}
	r := m.regions[idx-1]
	if !r.contains(va) {
		return nil
	}
	return r
}

func (m *Map) installRegion(r *Region, ap mmu.AccessPerm) error {
	xn := mmu.XN{UXN: !r.Exec, PXN: !r.Exec}
	sh := mmu.ShareInner
	return m.table.Map(r.VStart, *r.PStart, r.Size, r.Attr, ap, sh, xn)
}

func (m *Map) allocatePhys(size uint64) (uintptr, error) {
	if m.frames == nil {
		return 0, nil
	}
	order := 0
	pages := (size + kconfig.PageSize - 1) / kconfig.PageSize
	for (uint64(1) << order) < pages {
		order++
	}
	idx, err := m.frames.Alloc(order)
	if err != nil {
		return 0, err
	}
	return uintptr(idx) * kconfig.PageSize, nil
}

// HandleTranslationFault implements the demand-paging path: locate the
// covering region; if it has no backing yet, allocate a
// zeroed buffer and take ownership, then install the whole region's leaf
// entries. Idempotent: a region that is already backed is just re-mapped
// (installing the same entries again is a no-op at the mmu layer).
func (m *Map) HandleTranslationFault(va uintptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.findCovering(va)
	if r == nil {
		return kerror.ErrNoSuchRegion
	}
	if r.Backing == nil {
		pa, err := m.allocatePhys(r.Size)
		if err != nil {
			return err
		}
		r.PStart = &pa
		r.Backing = newBacking(r.Size)
	}
	return m.installRegion(r, r.Access)
}

// HandlePermissionFault implements the copy-on-write path: a write into
// an owned, declared-read-write region whose page-table
// entry was downgraded to read-only by copy() triggers a private copy;
// a write into a declared-read-only region reports kerror.ErrReadOnlyRegion
// so the kernel can deliver SIGSEGV-equivalent.
func (m *Map) HandlePermissionFault(va uintptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.findCovering(va)
	if r == nil {
		return kerror.ErrNoSuchRegion
	}
	if r.Access != mmu.ReadWriteEL1EL0 {
		return kerror.ErrReadOnlyRegion
	}
	if r.Backing == nil {
		return kerror.ErrNoBacking
	}

	fresh := newBacking(r.Size)
	copy(fresh.Bytes, r.Backing.Bytes)
	r.Backing = fresh

	pa, err := m.allocatePhys(r.Size)
	if err != nil {
		return err
	}
	r.PStart = &pa
	return m.installRegion(r, mmu.ReadWriteEL1EL0)
}

// Copy clones the region list for fork(): every region whose backing is
// owned has both the original's and the clone's page-table entries
// rewritten read-only, sharing the same backing until the next write
// triggers HandlePermissionFault on either side.
func (m *Map) Copy() (*Map, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	child, err := NewMap(m.frames, m.minVA, m.maxVA)
	if err != nil {
		return nil, err
	}

	for _, r := range m.regions {
		clone := &Region{
			VStart: r.VStart, Size: r.Size, Attr: r.Attr,
			Access: r.Access, Exec: r.Exec, AllowUser: r.AllowUser,
		}
		if r.PStart != nil {
			p := *r.PStart
			clone.PStart = &p
		}

		effectiveAP := r.Access
		if r.Backing != nil {
			clone.Backing = r.Backing // shared until either side writes
			effectiveAP = mmu.ReadOnlyEL1EL0
			if r.PStart != nil {
				if err := m.installRegion(r, effectiveAP); err != nil {
					return nil, err
				}
			}
		}

		child.regions = append(child.regions, clone)
		if clone.PStart != nil {
			if err := child.installRegion(clone, effectiveAP); err != nil {
				return nil, err
			}
		}
	}
	return child, nil
}

// GetAvailableVirtAddr returns the first hole in the ordered region list
// large enough to fit size.
func (m *Map) GetAvailableVirtAddr(size uint64) (uintptr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cursor := m.minVA
	for _, r := range m.regions {
		if cursor+uintptr(size) <= r.VStart {
			return cursor, nil
		}
		if r.end() > cursor {
			cursor = r.end()
		}
	}
	if cursor+uintptr(size) <= m.maxVA {
		return cursor, nil
	}
	return 0, kerror.ErrOutOfMemory
}

// Regions returns a snapshot of the current region list, for tests and
// for exec()'s "map a fresh image" bookkeeping.
func (m *Map) Regions() []*Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Region, len(m.regions))
	copy(out, m.regions)
	return out
}

// Load simulates a user-mode load at va, driving HandleTranslationFault on
// a first touch the way the exception vector would. There is no real CPU
// in the logical layer, so tests use Load/Store in place of executing
// user code against the mapped region.
func (m *Map) Load(va uintptr) (byte, error) {
	r, err := m.touch(va)
	if err != nil {
		return 0, err
	}
	return r.Backing.Bytes[va-r.VStart], nil
}

// Store simulates a user-mode store at va: a first touch demand-pages the
// region, and a write into a COW-shared backing forks a private copy
// before the byte is written.
func (m *Map) Store(va uintptr, b byte) error {
	r, err := m.touch(va)
	if err != nil {
		return err
	}
	if !m.writable(r) {
		// Covers both a declared-read-only region (HandlePermissionFault
		// reports kerror.ErrReadOnlyRegion) and a COW-shared region
		// (HandlePermissionFault forks a private backing and returns nil).
		if err := m.HandlePermissionFault(va); err != nil {
			return err
		}
		m.mu.Lock()
		r = m.findCovering(va)
		m.mu.Unlock()
	}
	r.Backing.Bytes[va-r.VStart] = b
	return nil
}

// touch finds the covering region, demand-paging it in on first access.
func (m *Map) touch(va uintptr) (*Region, error) {
	m.mu.Lock()
	r := m.findCovering(va)
	m.mu.Unlock()
	if r == nil {
		return nil, kerror.ErrNoSuchRegion
	}
	if r.Backing == nil {
		if err := m.HandleTranslationFault(va); err != nil {
			return nil, err
		}
		m.mu.Lock()
		r = m.findCovering(va)
		m.mu.Unlock()
	}
	return r, nil
}

// writable reports whether r's page-table entry is currently installed
// read-write. False covers both a declared-read-only region and a
// COW-shared region whose entry Copy() downgraded to read-only.
func (m *Map) writable(r *Region) bool {
	ap, _, ok := m.table.Permissions(r.VStart)
	return ok && ap == mmu.ReadWriteEL1EL0
}
