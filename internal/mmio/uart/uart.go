// Package uart drives the BCM283x mini-UART (the AUX peripheral, not
// the PL011 UART0): the auxiliary-enable bit, the 8250-like data/line-
// status/control registers, and the baud-rate divisor, reproduced
// bit-exact off the AUX_MU_* register layout. The driver keeps no receive
// or transmit buffer: ReadByte/WriteByte spin on the line-status register,
// and the interrupt-enable bits are only set and cleared.
package uart

import (
	"github.com/ppodds/osc2024/internal/mmio"
	"github.com/ppodds/osc2024/internal/mmio/gpio"
)

// Register offsets off kconfig.AUXBase.
const (
	regAUXEnable = 0x04
	regData = 0x40
	regInterruptEnable = 0x44
	regInterruptIdentify = 0x48
	regLineControl = 0x4c
	regModemControl = 0x50
	regLineStatus = 0x54
	regControl = 0x60
	regBaudrate = 0x68
)

const (
	auxEnableMiniUART = 1 << 0

	lcrDataSize8Bit = 1 << 0

	cntlReceiverEnable = 1 << 0
	cntlTransmitterEnable = 1 << 1

	ierEnableReceiveInterrupt = 1 << 0
	ierEnableTransmitInterrupt = 1 << 1

	iirClearReceiveFIFO = 0b01 << 1
	iirClearTransmitFIFO = 0b10 << 1

	lsrDataReady = 1 << 0
	lsrTransmitterEmpty = 1 << 5

	// Baudrate=270 at the mini-UART's fixed 250 MHz source clock yields
	// 115200 baud: system_clock_freq / (8 * (baudrate_reg + 1)).
	baudrate115200 = 270
)

// Driver is the mini-UART device driver. It satisfies
// devfs.UARTBackend.
type Driver struct {
	bus mmio.Bus
	gpioCtl *gpio.Controller
	async bool
}

// New wraps bus as a mini-UART driver; Init still needs to run before
// it's usable.
func New(bus mmio.Bus, gpioCtl *gpio.Controller) *Driver {
	return &Driver{bus: bus, async: true, gpioCtl: gpioCtl}
}

// Init routes GPIO 14/15 to the mini-UART's ALT5 function, then brings
// up the AUX peripheral: 8N1 at 115200 baud, FIFOs cleared, receive
// interrupt enabled. Satisfies driver.Driver.
func (d *Driver) Init() error {
	d.gpioCtl.SetupForMiniUART()
	d.bus.Write32(regAUXEnable, auxEnableMiniUART)
	d.bus.Write32(regControl, 0) // disable transmitter/receiver during configuration
	d.bus.Write32(regInterruptEnable, 0) // no interrupts during configuration
	d.bus.Write32(regLineControl, lcrDataSize8Bit)
	d.bus.Write32(regModemControl, 0)
	d.bus.Write32(regBaudrate, baudrate115200)
	d.bus.Write32(regInterruptIdentify, iirClearReceiveFIFO|iirClearTransmitFIFO)
	d.bus.Write32(regControl, cntlTransmitterEnable|cntlReceiverEnable)
	if d.async {
		d.bus.Write32(regInterruptEnable, ierEnableReceiveInterrupt)
	}
	return nil
}

func (d *Driver) isReadable() bool {
	return d.bus.Read32(regLineStatus)&lsrDataReady != 0
}

func (d *Driver) isWritable() bool {
	return d.bus.Read32(regLineStatus)&lsrTransmitterEmpty != 0
}

// ReadByte spins until a byte is available and returns it.
func (d *Driver) ReadByte() byte {
	for !d.isReadable() {
	}
	return byte(d.bus.Read32(regData))
}

// WriteByte spins until the transmit holding register is empty, then
// writes b.
func (d *Driver) WriteByte(b byte) {
	for !d.isWritable() {
	}
	d.bus.Write32(regData, uint32(b))
}

// Write satisfies io.Writer so the driver can be installed as klog's sink
// once the console is up.
func (d *Driver) Write(p []byte) (int, error) {
	for _, b := range p {
		d.WriteByte(b)
	}
	return len(p), nil
}

// SetAsyncMode toggles the receive-interrupt enable bit: devfs's UART
// read handle disables it for the duration of a synchronous spin-read
// so the IRQ handler doesn't steal bytes out of the line behind it, then
// re-enables it afterward.
func (d *Driver) SetAsyncMode(enabled bool) {
	d.async = enabled
	ier := d.bus.Read32(regInterruptEnable)
	if enabled {
		ier |= ierEnableReceiveInterrupt
	} else {
		ier &^= ierEnableReceiveInterrupt
	}
	d.bus.Write32(regInterruptEnable, ier)
}

// EnableTransmitInterrupt/DisableTransmitInterrupt set and clear the
// transmit-interrupt enable bit with a read-modify-write of the
// interrupt-enable register; no other driver state changes.
func (d *Driver) EnableTransmitInterrupt() {
	d.bus.Write32(regInterruptEnable, d.bus.Read32(regInterruptEnable)|ierEnableTransmitInterrupt)
}

func (d *Driver) DisableTransmitInterrupt() {
	d.bus.Write32(regInterruptEnable, d.bus.Read32(regInterruptEnable)&^ierEnableTransmitInterrupt)
}
