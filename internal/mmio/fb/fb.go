// Package fb negotiates a framebuffer with the VideoCore GPU over the
// mailbox property channel: physical/virtual screen size, bit depth,
// buffer allocation and pitch, in the fixed tag order the firmware
// expects. The resulting pixel buffer backs the framebuffer device
// file in internal/vfs/devfs.
package fb

import (
	"fmt"

	"github.com/ppodds/osc2024/internal/mmio/mailbox"
)

const responseCodeSuccess = 0x8000_0000

// tag indices into the fixed 31-word property buffer this package
// builds: [size, code, <one tag per property, each value-words wide>, end].
const (
	idxSize = 0
	idxCode = 1
)

// PropertyBuffer is the 16-byte-aligned, GPU-visible scratch memory the
// negotiation reads/writes tags into. The binding layer backs Words
// with real DMA-coherent memory and reports its VC-bus-visible address
// via Addr.
type PropertyBuffer interface {
	Words() []uint32
	Addr() uint32
}

// Mapper resolves a VC-bus bus address and byte length returned by the
// GPU's buffer-allocate tag into a Go byte slice over that physical
// memory. The binding layer supplies the real unsafe.Slice-based
// mapping; tests supply a plain backing array.
type Mapper func(busAddr uint32, size uint32) []byte

// Framebuffer is a negotiated pixel buffer.
type Framebuffer struct {
	Width, Height, Pitch, Depth uint32
	pixels []byte
}

// Pixels satisfies devfs.FramebufferBackend.
func (f *Framebuffer) Pixels() []byte { return f.pixels }

// Negotiate asks the GPU for a width x height framebuffer at the given
// bit depth, in the documented tag sequence: physical size, virtual
// size, depth, virtual offset, allocate buffer, get pitch.
func Negotiate(mb *mailbox.Mailbox, pb PropertyBuffer, width, height, depth uint32, mapPixels Mapper) (*Framebuffer, error) {
	w := pb.Words()
	n := 2
	put := func(tag uint32, values ...uint32) int {
		w[n] = tag
		n++
		w[n] = uint32(len(values)) * 4 // value buffer length in bytes
		n++
		w[n] = 0 // request/response code for this tag
		n++
		valueStart := n
		for _, v := range values {
			w[n] = v
			n++
		}
		return valueStart
	}

	put(mailbox.TagSetPhysicalSize, width, height)
	put(mailbox.TagSetVirtualSize, width, height)
	put(mailbox.TagSetDepth, depth)
	put(mailbox.TagSetVirtualOffset, 0, 0)
	allocValueAt := put(mailbox.TagAllocateBuffer, 16, 0) // alignment request, size placeholder
	pitchValueAt := put(mailbox.TagGetPitch, 0)
	w[n] = mailbox.TagEnd
	n++

	w[idxSize] = uint32(n) * 4
	w[idxCode] = mailbox.RequestCodeProcessRequest

	mb.Call(mailbox.PropertyChannel, pb.Addr())

	if w[idxCode] != responseCodeSuccess {
		return nil, fmt.Errorf("fb: property call failed, response code %#x", w[idxCode])
	}

	busAddr := w[allocValueAt]
	size := w[allocValueAt+1]
	pitch := w[pitchValueAt]

	return &Framebuffer{
		Width: width, Height: height, Pitch: pitch, Depth: depth,
		pixels: mapPixels(busAddr, size),
	}, nil
}
