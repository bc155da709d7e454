// Package memmap implements the per-task memory map: an ordered list of
// virtual regions with demand paging and copy-on-write, layered on
// internal/mmu.
package memmap

import "github.com/ppodds/osc2024/internal/mmu"

// Region is one entry in a task's memory map.
type Region struct {
	VStart uintptr
	Size uint64
	PStart *uintptr // set once materialized, nil while purely lazy

	Attr mmu.MemAttr
	Access mmu.AccessPerm // the region's *declared* access, for COW's read-only check
	Exec bool
	AllowUser bool

	// Backing is the region's owned content buffer, once materialized.
	// Shared between a parent and child after copy() until one side
	// writes.
	Backing *SharedBacking
}

// SharedBacking is the (possibly shared) content behind an owned region.
// Two regions sharing one *SharedBacking after copy() is exactly the
// "owned backings are now shared" state fork() step 3
// describes, before either side's first write triggers COW.
type SharedBacking struct {
	Bytes []byte
}

func newBacking(size uint64) *SharedBacking {
	return &SharedBacking{Bytes: make([]byte, size)}
}

func (r *Region) end() uintptr { return r.VStart + uintptr(r.Size) }

func (r *Region) contains(va uintptr) bool {
	return va >= r.VStart && va < r.end()
}

func overlaps(a, b *Region) bool {
	return a.VStart < b.end() && b.VStart < a.end()
}
