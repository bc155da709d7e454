// Command bootloader is the second-stage, chain-loadable loader: bring
// up just enough of the peripheral set to talk over the mini-UART, then
// receive a fresh kernel image from the host transfer tool and jump to
// it. The host-side sender and the first-stage relocator's self-copy
// trick live outside this module's scope; this is only the receiving
// half of that protocol.
package main

import (
	"unsafe"

	"github.com/ppodds/osc2024/internal/kconfig"
	"github.com/ppodds/osc2024/internal/klog"
	"github.com/ppodds/osc2024/internal/mmio"
	"github.com/ppodds/osc2024/internal/mmio/gpio"
	"github.com/ppodds/osc2024/internal/mmio/uart"
)

// chunkSize is the transfer protocol's fixed per-chunk payload size.
const chunkSize = 1024

// interChunkDelayCycles approximates a 100ms settle window between
// chunks at the core's nominal clock, the same busy-wait idiom
// internal/mmio/gpio uses for its pull-up/down settle window.
const interChunkDelayCycles = 100_000_000

//go:linkname jumpToKernel jump_to_kernel
//go:nosplit
func jumpToKernel(addr uintptr, dtb uintptr)

// recvLength reads the transfer protocol's 8-byte little-endian length
// prefix.
func recvLength(u *uart.Driver) uint64 {
	var length uint64
	for i := 0; i < 8; i++ {
		length |= uint64(u.ReadByte()) << (8 * uint(i))
	}
	return length
}

// recvKernel reads length bytes in chunkSize chunks, writing each
// directly to the kernel's fixed load address, pausing interChunkDelayCycles
// between chunks so a slow host sender's next write has time to land.
func recvKernel(u *uart.Driver, length uint64) {
	dst := uintptr(kconfig.KernelImageLoadAddr)
	var received uint64
	for received < length {
		n := uint64(chunkSize)
		if remaining := length - received; remaining < n {
			n = remaining
		}
		for i := uint64(0); i < n; i++ {
			b := u.ReadByte()
			*(*byte)(unsafe.Pointer(dst + uintptr(received+i))) = b
		}
		received += n
		mmio.Delay(interChunkDelayCycles)
	}
}

// BootloaderMain is the entry point called from boot.s, exactly the way
// cmd/ppos's KernelMain is: dtb is the devicetree blob's physical address,
// passed straight through to the freshly-received kernel.
//
//go:nosplit
//go:noinline
func BootloaderMain(dtb uintptr) {
	gpioCtl := gpio.New(mmio.Live{Base: kconfig.GPIOBase})
	u := uart.New(mmio.Live{Base: kconfig.AUXBase}, gpioCtl)
	if err := u.Init(); err != nil {
		return
	}
	klog.SetSink(u)
	klog.Infof("bootloader", "started, waiting for kernel image over UART")

	length := recvLength(u)
	recvKernel(u, length)

	klog.Infof("bootloader", "received %d bytes, jumping to kernel", length)
	jumpToKernel(kconfig.KernelImageLoadAddr, dtb)
}

// Dummy main() function required by Go's c-archive build mode.
// This is never called - boot.s calls BootloaderMain directly.
// We call BootloaderMain here to ensure it's compiled and not optimized away.
func main() {
	BootloaderMain(0)
	for {
	}
}
