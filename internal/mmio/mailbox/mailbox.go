// Package mailbox drives the BCM283x VideoCore property-channel
// mailbox: a single-word read/write/status register triplet used to
// exchange tag-encoded request/response buffers with the GPU, most
// notably to negotiate the framebuffer used by internal/mmio/fb.
package mailbox

import "github.com/ppodds/osc2024/internal/mmio"

// Register offsets off kconfig.MailboxBase.
const (
	regRead = 0x00
	regStatus = 0x18
	regWrite = 0x20
)

const (
	statusFull = 1 << 31
	statusEmpty = 1 << 30

	channelMask = 0xF

	// PropertyChannel is the tag-based property interface channel used
	// for framebuffer setup and hardware queries.
	PropertyChannel = 8
)

// Property tag request/response codes and identifiers, used to build
// the property request buffers sent over PropertyChannel (internal/mmio/fb
// builds its framebuffer-setup buffer from the framebuffer tags).
const (
	RequestCodeProcessRequest = 0

	TagGetBoardRevision = 0x0001_0002
	TagGetARMMemory = 0x0001_0005
	TagSetPhysicalSize = 0x0004_8003
	TagSetVirtualSize = 0x0004_8004
	TagSetDepth = 0x0004_8005
	TagSetVirtualOffset = 0x0004_8009
	TagAllocateBuffer = 0x0004_0001
	TagGetPitch = 0x0004_0008
	TagEnd = 0
)

// Mailbox is the property-channel driver. A request buffer's address
// must be 16-byte aligned and resident in GPU-visible memory; building
// and placing that buffer is the caller's concern (cmd/ppos's boot
// sequencing owns the DMA-coherent region it lives in).
type Mailbox struct {
	Bus mmio.Bus
}

// New wraps bus as a mailbox driver.
func New(bus mmio.Bus) *Mailbox {
	return &Mailbox{Bus: bus}
}

func (m *Mailbox) isWritable() bool { return m.Bus.Read32(regStatus)&statusFull == 0 }
func (m *Mailbox) isReadable() bool { return m.Bus.Read32(regStatus)&statusEmpty == 0 }

func (m *Mailbox) write(channel uint8, bufAddr uint32) {
	for !m.isWritable() {
	}
	m.Bus.Write32(regWrite, (bufAddr&^channelMask)|uint32(channel))
}

// read polls until a response arrives for channel, accepting a
// property-channel response that comes back tagged on channel 0 (the
// VideoCore firmware's documented quirk for the property interface).
func (m *Mailbox) read(channel uint8) uint32 {
	for {
		for !m.isReadable() {
		}
		v := m.Bus.Read32(regRead)
		respChannel := uint8(v & channelMask)
		if respChannel == channel || (channel == PropertyChannel && respChannel == 0) {
			return v &^ channelMask
		}
	}
}

// Call writes bufAddr to channel and returns the matching response's
// data field (the buffer itself is mutated in place by the GPU; the
// caller re-reads it from memory after Call returns).
func (m *Mailbox) Call(channel uint8, bufAddr uint32) uint32 {
	m.write(channel, bufAddr)
	return m.read(channel)
}
