// Package slab implements the kernel heap allocator: per-size-class
// freelists of blocks carved from 4 KiB frames obtained from the buddy
// allocator. It is the kernel's only malloc, so every Alloc/Free runs
// with interrupts conceptually masked (kconfig.WithIRQsMasked).
package slab

import (
	"unsafe"

	"github.com/ppodds/osc2024/internal/kconfig"
	"github.com/ppodds/osc2024/internal/kerror"
)

// FrameSource is the buddy allocator's contract, from the slab's point of
// view: hand back a zero-order (single 4 KiB frame) block on demand.
type FrameSource interface {
	Alloc(order int) (int64, error)
	Free(frameIndex int64, order int) error
}

// class is one size class's freelist, kept as a stack of slices into
// the backing frames; the block bytes themselves hold no link data.
type class struct {
	size uint32
	free [][]byte // backing slices for free blocks, head = free[len-1]
}

// Cache is the kernel heap: one freelist per size class, backed by frames
// obtained from buddy.
type Cache struct {
	frames FrameSource
	classes [len(kconfig.SlabSizeClasses)]class
	// blockOwner maps a handed-out block's identity (the address of its
	// first byte, from blockKey) to its size class index. Free still takes
	// the size from the caller and only drops the record.
	blockOwner map[uintptr]int
}

func NewCache(frames FrameSource) *Cache {
	c := &Cache{frames: frames, blockOwner: make(map[uintptr]int)}
	for i, sz := range kconfig.SlabSizeClasses {
		c.classes[i] = class{size: sz}
	}
	return c
}

func classIndexForSize(size uint32) (int, bool) {
	rounded := nextPow2(size)
	if rounded < 8 {
		rounded = 8
	}
	for i, sz := range kconfig.SlabSizeClasses {
		if sz == rounded {
			return i, true
		}
	}
	return 0, false
}

func nextPow2(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}

// Alloc rounds size up to the next power of two (floor 8). Sizes above
// 1024 bytes delegate straight to the buddy allocator at the smallest
// order that fits,
func (c *Cache) Alloc(size uint32) ([]byte, error) {
	if size > kconfig.SlabSizeClasses[len(kconfig.SlabSizeClasses)-1] {
		return c.allocFromBuddy(size)
	}

	var result []byte
	var allocErr error
	kconfig.WithIRQsMasked(func() {
		idx, ok := classIndexForSize(size)
		if !ok {
			allocErr = kerror.ErrInvalidArgument
			return
		}
		cl := &c.classes[idx]
		if len(cl.free) == 0 {
			if err := c.refill(cl); err != nil {
				allocErr = err
				return
			}
		}
		n := len(cl.free) - 1
		block := cl.free[n]
		cl.free = cl.free[:n]
		c.blockOwner[blockKey(block)] = idx
		result = block
	})
	return result, allocErr
}

// refill pulls one 4 KiB frame from the buddy allocator and threads it into
// a freelist of (frame_size / class_size) blocks.
func (c *Cache) refill(cl *class) error {
	frameIdx, err := c.frames.Alloc(0)
	if err != nil {
		return err
	}
	frame := make([]byte, kconfig.PageSize)
	_ = frameIdx // the logical layer keeps the byte-backed simulation; the
	// bare-metal binding maps frameIdx's physical address directly instead
	// of allocating a Go byte slice.
	count := kconfig.PageSize / cl.size
	for i := uint32(0); i < count; i++ {
		block := frame[i*cl.size : (i+1)*cl.size : (i+1)*cl.size]
		cl.free = append(cl.free, block)
	}
	return nil
}

func (c *Cache) allocFromBuddy(size uint32) ([]byte, error) {
	order := 0
	frames := (size + kconfig.PageSize - 1) / kconfig.PageSize
	for (1 << order) < frames {
		order++
	}
	if _, err := c.frames.Alloc(order); err != nil {
		return nil, err
	}
	return make([]byte, size), nil
}

// Free pushes p back to the head of its size class's freelist. size must
// match the size originally passed to Alloc (the caller is expected to
// track it, exactly as free(p, size) contract states).
func (c *Cache) Free(p []byte, size uint32) error {
	if size > kconfig.SlabSizeClasses[len(kconfig.SlabSizeClasses)-1] {
		return nil // buddy-backed allocation: nothing to do at this layer
	}

	var freeErr error
	kconfig.WithIRQsMasked(func() {
		idx, ok := classIndexForSize(size)
		if !ok {
			freeErr = kerror.ErrInvalidArgument
			return
		}
		cl := &c.classes[idx]
		delete(c.blockOwner, blockKey(p))
		cl.free = append(cl.free, p)
	})
	return freeErr
}

func blockKey(b []byte) uintptr {
	if cap(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[:1][0]))
}
