// Package buddy implements the kernel's physical page-frame allocator: a
// classic binary buddy system over fixed 4 KiB frames.
//
// This is the logical layer — host-testable, no unsafe pointers, no MMIO.
// Allocator keeps a flat metadata array indexed by frame number, with the
// free lists threaded through each frame's next/prev links rather than
// generic container types. It holds no lock of its own.
package buddy

import (
	"fmt"

	"github.com/ppodds/osc2024/internal/bitfield"
	"github.com/ppodds/osc2024/internal/kconfig"
	"github.com/ppodds/osc2024/internal/kerror"
)

const (
	MaxOrder = kconfig.MaxOrder
	FrameSize = kconfig.PageSize
	blockFrame = 1 << MaxOrder // frames in one "biggest part"
)

// frameMeta is the per-frame metadata word, packed via bitfield.FrameFlags.
type frameMeta struct {
	next, prev int32 // frame index, or -1; only meaningful while Free
	flags uint32
}

// Allocator is one managed physical range, partitioned into 2^MaxOrder-frame
// "biggest parts"
type Allocator struct {
	baseFrame int64 // first frame index covered by this allocator
	numFrames int64
	metas []frameMeta
	freeHead [MaxOrder + 1]int32 // frame index of freelist head per order, -1 if empty
}

// New partitions the page-aligned byte range [lo, hi) into 2^MaxOrder-frame
// blocks and seeds the top-order freelist, per Init in Any
// trailing remainder smaller than one max-order block is reserved (never
// handed out) rather than silently dropped.
func New(lo, hi uintptr) (*Allocator, error) {
	if lo%FrameSize != 0 || hi%FrameSize != 0 {
		return nil, kerror.ErrNotAligned
	}
	if hi <= lo {
		return nil, fmt.Errorf("buddy: empty or inverted range [%#x, %#x)", lo, hi)
	}

	baseFrame := int64(lo / FrameSize)
	numFrames := int64((hi - lo) / FrameSize)

	a := &Allocator{
		baseFrame: baseFrame,
		numFrames: numFrames,
		metas: make([]frameMeta, numFrames),
	}
	for i := range a.freeHead {
		a.freeHead[i] = -1
	}
	for i := range a.metas {
		a.metas[i] = frameMeta{next: -1, prev: -1}
	}

	var f int64
	for f+blockFrame <= numFrames {
		a.pushFree(MaxOrder, int32(f))
		f += blockFrame
	}
	// Remainder (< one max-order block) is marked reserved: never free,
	// never handed out, but still inside the managed range so
	// virt_to_phys-style lookups don't treat it as out-of-range.
	for ; f < numFrames; f++ {
		a.metas[f].flags = bitfield.PackFrameFlags(bitfield.FrameFlags{Reserved: true})
	}

	return a, nil
}

func (a *Allocator) frameOK(f int64) bool {
	return f >= 0 && f < a.numFrames
}

func (a *Allocator) pushFree(order int, f int32) {
	flags := bitfield.UnpackFrameFlags(a.metas[f].flags)
	flags.Free = true
	flags.Reserved = false
	flags.InUse = false
	flags.Order = uint32(order)
	a.metas[f].flags = bitfield.PackFrameFlags(flags)

	head := a.freeHead[order]
	a.metas[f].next = head
	a.metas[f].prev = -1
	if head != -1 {
		a.metas[head].prev = f
	}
	a.freeHead[order] = f
}

// popSpecific removes frame f from order's freelist, wherever it sits.
func (a *Allocator) popSpecific(order int, f int32) {
	m := &a.metas[f]
	if m.prev != -1 {
		a.metas[m.prev].next = m.next
	} else {
		a.freeHead[order] = m.next
	}
	if m.next != -1 {
		a.metas[m.next].prev = m.prev
	}
	m.next, m.prev = -1, -1
}

// popFront pops the LIFO head of order's freelist, or -1 if empty.
func (a *Allocator) popFront(order int) int32 {
	head := a.freeHead[order]
	if head == -1 {
		return -1
	}
	a.popSpecific(order, head)
	return head
}

// Alloc returns a 2^order-sized, order-aligned run of frames as an absolute
// frame index, splitting a larger free block (LIFO at each order) if no
// exact-order block is free.
func (a *Allocator) Alloc(order int) (int64, error) {
	if order < 0 || order > MaxOrder {
		return 0, kerror.ErrOrderTooLarge
	}

	splitFrom := -1
	for k := order; k <= MaxOrder; k++ {
		if a.freeHead[k] != -1 {
			splitFrom = k
			break
		}
	}
	if splitFrom == -1 {
		return 0, kerror.ErrOutOfMemory
	}

	f := a.popFront(splitFrom)
	for k := splitFrom; k > order; k-- {
		buddyOff := int32(1) << (k - 1)
		a.pushFree(k-1, f+buddyOff)
	}

	flags := bitfield.UnpackFrameFlags(a.metas[f].flags)
	flags.Free = false
	flags.InUse = true
	flags.Order = uint32(order)
	a.metas[f].flags = bitfield.PackFrameFlags(flags)

	return a.baseFrame + int64(f), nil
}

// Free returns a previously allocated 2^order block, then merges with its
// buddy repeatedly while the buddy is free at the same order, up to MaxOrder.
func (a *Allocator) Free(frameIndex int64, order int) error {
	if order < 0 || order > MaxOrder {
		return kerror.ErrOrderTooLarge
	}
	f := int32(frameIndex - a.baseFrame)
	if !a.frameOK(int64(f)) {
		return kerror.ErrOutOfRange
	}

	for order < MaxOrder {
		buddyIdx := f ^ (int32(1) << order)
		if !a.frameOK(int64(buddyIdx)) {
			break
		}
		bf := bitfield.UnpackFrameFlags(a.metas[buddyIdx].flags)
		if !bf.Free || int(bf.Order) != order {
			break
		}
		// Buddy is free at the same order: pop it and escalate.
		a.popSpecific(order, buddyIdx)
		if buddyIdx < f {
			f = buddyIdx
		}
		order++
	}
	a.pushFree(order, f)
	return nil
}

// Reserve carves the page-aligned byte range [lo, hi) out of the free pool
// before any Alloc call, recursively splitting any free block that only
// partially overlaps the reservation.
func (a *Allocator) Reserve(lo, hi uintptr) error {
	if lo%FrameSize != 0 || hi%FrameSize != 0 {
		return kerror.ErrNotAligned
	}
	rLo := int64(lo/FrameSize) - a.baseFrame
	rHi := int64(hi/FrameSize) - a.baseFrame
	if rLo < 0 || rHi > a.numFrames || rHi <= rLo {
		return kerror.ErrOutOfRange
	}
	a.reserveOrder(MaxOrder, rLo, rHi)
	return nil
}

func (a *Allocator) reserveOrder(order int, rLo, rHi int64) {
	if order < 0 {
		return
	}
	size := int64(1) << order
	head := a.freeHead[order]
	for cur := head; cur != -1; {
		next := a.metas[cur].next
		blockLo := int64(cur)
		blockHi := blockLo + size
		switch {
		case blockHi <= rLo || blockLo >= rHi:
			// no overlap
		case blockLo >= rLo && blockHi <= rHi:
			// fully covered: remove from free pool entirely
			a.popSpecific(order, int32(cur))
			flags := bitfield.UnpackFrameFlags(a.metas[cur].flags)
			flags.Free = false
			flags.Reserved = true
			a.metas[cur].flags = bitfield.PackFrameFlags(flags)
		default:
			// partial overlap: split into two order-1 halves and re-recurse
			a.popSpecific(order, int32(cur))
			half := size / 2
			a.pushFree(order-1, int32(blockLo))
			a.pushFree(order-1, int32(blockLo+half))
			a.reserveOrder(order-1, rLo, rHi)
		}
		cur = next
	}
	if order > 0 {
		// Lower orders may now contain blocks created by a split above, or
		// pre-existing smaller free blocks, that also intersect the range.
		a.reserveOrder(order-1, rLo, rHi)
	}
}

// Stats reports free-frame counts per order, useful for tests and
// debugging dumps as a structured snapshot.
func (a *Allocator) Stats() (freeByOrder [MaxOrder + 1]int) {
	for order := 0; order <= MaxOrder; order++ {
		for cur := a.freeHead[order]; cur != -1; cur = a.metas[cur].next {
			freeByOrder[order]++
		}
	}
	return
}
