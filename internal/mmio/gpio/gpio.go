// Package gpio drives the BCM283x GPIO function-select and pull-up/down
// registers: just enough to route pins 14/15 to the mini-UART's ALT5
// function and quiesce their internal pull resistors, the one-time pin
// mux step every other peripheral's init depends on.
package gpio

import "github.com/ppodds/osc2024/internal/mmio"

// Register offsets off kconfig.GPIOBase.
const (
	regGPFSEL1 = 0x04
	regGPPUD = 0x94
	regGPPUDCLK0 = 0x98
)

// GPFSEL1 field layout: 3-bit alt-function selector per pin, pin 14 at
// bits[14:12], pin 15 at bits[17:15].
const (
	fsel14Shift = 12
	fsel15Shift = 15
	fselMask = 0x7

	AltFunc0 = 0b100
	AltFunc5 = 0b010
)

// Controller is the GPIO pin-mux driver.
type Controller struct {
	Bus mmio.Bus
}

// New wraps bus as a GPIO controller.
func New(bus mmio.Bus) *Controller {
	return &Controller{Bus: bus}
}

// disablePullUpDown14And15 runs the BCM283x-documented pull-resistor
// disable sequence for GPIO 14 and 15: write the control value to GPPUD,
// wait 150 cycles for it to settle on the line, assert it onto the two
// pins via GPPUDCLK0, wait again, then clear both registers.
func (c *Controller) disablePullUpDown14And15() {
	c.Bus.Write32(regGPPUD, 0)
	mmio.Delay(150)
	c.Bus.Write32(regGPPUDCLK0, (1<<14)|(1<<15))
	mmio.Delay(150)
	c.Bus.Write32(regGPPUD, 0)
	c.Bus.Write32(regGPPUDCLK0, 0)
}

// SetupForMiniUART routes GPIO 14 (TXD1) and 15 (RXD1) to the mini-UART's
// ALT5 function and disables their pull resistors.
func (c *Controller) SetupForMiniUART() {
	cur := c.Bus.Read32(regGPFSEL1)
	cur &^= fselMask << fsel14Shift
	cur &^= fselMask << fsel15Shift
	cur |= AltFunc5 << fsel14Shift
	cur |= AltFunc5 << fsel15Shift
	c.Bus.Write32(regGPFSEL1, cur)
	c.disablePullUpDown14And15()
}
