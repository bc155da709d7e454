// Package mmio defines the narrow interface every peripheral driver
// under internal/mmio/* talks through: a 32-bit register bus. Each
// driver package (uart, gpio, mailbox, fb, sdhost, watchdog) is a pure
// register-offset/bitfield decoder parametrized over a Bus, so it can
// be driven by an in-memory fake in tests and by the real hardware
// binding once wired into cmd/ppos.
package mmio

import _ "unsafe"

// Bus is a 32-bit-aligned memory-mapped register window.
type Bus interface {
	Read32(offset uintptr) uint32
	Write32(offset uintptr, value uint32)
}

// Live is the hardware binding: base is the virtual address the MMIO
// window is mapped at (Device memory attribute, strongly ordered), and
// every access goes through the linked assembly primitives rather than
// a plain Go load/store so ordering matches what the rest of the
// bare-metal image expects.
type Live struct {
	Base uintptr
}

//go:nosplit
func (l Live) Read32(offset uintptr) uint32 {
	return mmio_read(l.Base + offset)
}

//go:nosplit
func (l Live) Write32(offset uintptr, value uint32) {
	mmio_write(l.Base+offset, value)
}

//go:linkname mmio_write mmio_write
//go:nosplit
func mmio_write(reg uintptr, data uint32)

//go:linkname mmio_read mmio_read
//go:nosplit
func mmio_read(reg uintptr) uint32

//go:linkname delay delay
//go:nosplit
func delay(count int32)

// Delay busy-waits for roughly count cycles; used for the GPIO
// pull-up/down settle windows the BCM283x datasheet specifies.
func Delay(count int32) { delay(count) }
