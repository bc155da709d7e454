package fb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ppodds/osc2024/internal/mmio/mailbox"
)

type fakePropertyBuffer struct {
	words []uint32
}

func newFakePropertyBuffer() *fakePropertyBuffer {
	return &fakePropertyBuffer{words: make([]uint32, 64)}
}

func (b *fakePropertyBuffer) Words() []uint32 { return b.words }
func (b *fakePropertyBuffer) Addr() uint32    { return 0x1000 }

// fakeGPUBus simulates the GPU firmware processing the property buffer
// synchronously on Write32 to the write register: it locates the
// allocate-buffer and get-pitch tags by scanning the buffer and fills
// in a canned response, then marks the overall buffer as successful.
type fakeGPUBus struct {
	pb *fakePropertyBuffer
}

func (b *fakeGPUBus) Write32(offset uintptr, v uint32) {
	w := b.pb.words
	for i := 2; i+2 < len(w); {
		tag := w[i]
		if tag == mailbox.TagEnd {
			break
		}
		valueLen := w[i+1] / 4
		valueAt := i + 3
		if tag == mailbox.TagAllocateBuffer {
			w[valueAt] = 0x4000_0000 // bus address
			w[valueAt+1] = 1920 * 1080 * 4
		}
		if tag == mailbox.TagGetPitch {
			w[valueAt] = 1920 * 4
		}
		i = valueAt + int(valueLen)
	}
	w[1] = 0x8000_0000
}

func (b *fakeGPUBus) Read32(offset uintptr) uint32 { return 0 } // status never full/empty, read-back channel 0; mailbox's own protocol isn't under test here

func TestNegotiateBuildsTagSequenceAndReturnsAllocatedBuffer(t *testing.T) {
	pb := newFakePropertyBuffer()
	bus := &fakeGPUBus{pb: pb}
	mb := mailbox.New(bus)

	var mappedAddr, mappedSize uint32
	mapper := func(addr, size uint32) []byte {
		mappedAddr, mappedSize = addr, size
		return make([]byte, size)
	}

	f, err := Negotiate(mb, pb, 1920, 1080, 32, mapper)
	require.NoError(t, err)
	require.Equal(t, uint32(1920), f.Width)
	require.Equal(t, uint32(1080), f.Height)
	require.Equal(t, uint32(1920*4), f.Pitch)
	require.Equal(t, uint32(0x4000_0000), mappedAddr)
	require.Equal(t, uint32(1920*1080*4), mappedSize)
	require.Len(t, f.Pixels(), int(mappedSize))
}

func TestNegotiateReturnsErrorOnFailedResponseCode(t *testing.T) {
	pb := newFakePropertyBuffer()
	bus := &failingGPUBus{}
	mb := mailbox.New(bus)

	_, err := Negotiate(mb, pb, 640, 480, 32, func(uint32, uint32) []byte { return nil })
	require.Error(t, err)
}

type failingGPUBus struct{}

func (failingGPUBus) Write32(offset uintptr, v uint32) {}
func (failingGPUBus) Read32(offset uintptr) uint32     { return 0 }
