// Package gic drives the BCM283x peripheral interrupt controller (the
// package name mirrors this binding's QEMU-targeting counterpart,
// though the real Pi 3 hardware block is the simpler BCM peripheral IC,
// not an ARM GIC): the two 32-bit pending/enable register pairs
// spanning 64 peripheral IRQ lines, reproduced bit-exact off the
// peripheral interrupt controller's register layout.
package gic

import "github.com/ppodds/osc2024/internal/mmio"

// Register offsets off kconfig.PeripheralICBase.
const (
	regIRQBasicPending = 0x00
	regIRQPending1 = 0x04
	regIRQPending2 = 0x08

	regFIQControl = 0x0c
	regEnableIRQs1 = 0x10
	regEnableIRQs2 = 0x14
	regEnableBasicIRQs = 0x18
	regDisableIRQs1 = 0x1c
	regDisableIRQs2 = 0x20
	regDisableBasicIRQs = 0x24
)

// Controller is the peripheral IC binding. It reports the live pending
// bitmask and toggles per-line enable bits; internal/intc.Controller
// owns the priority queue and handler table this feeds.
type Controller struct {
	Bus mmio.Bus
}

func New(bus mmio.Bus) *Controller {
	return &Controller{Bus: bus}
}

// Enable unmasks peripheral IRQ line irq (0..63).
func (c *Controller) Enable(irq int) {
	reg := regEnableIRQs1
	bit := irq
	if irq >= 32 {
		reg = regEnableIRQs2
		bit = irq - 32
	}
	c.Bus.Write32(uintptr(reg), 1<<uint(bit))
}

// Disable masks peripheral IRQ line irq.
func (c *Controller) Disable(irq int) {
	reg := regDisableIRQs1
	bit := irq
	if irq >= 32 {
		reg = regDisableIRQs2
		bit = irq - 32
	}
	c.Bus.Write32(uintptr(reg), 1<<uint(bit))
}

// PendingMask returns the live 64-bit pending bitmask, IRQ 0 in bit 0.
func (c *Controller) PendingMask() uint64 {
	lo := uint64(c.Bus.Read32(regIRQPending1))
	hi := uint64(c.Bus.Read32(regIRQPending2))
	return hi<<32 | lo
}

// Dispatch reads the live pending mask and calls raise for every set
// bit, in ascending IRQ order — the binding-layer counterpart of
// intc.Controller.RaisePeripheral, which this is expected to call.
func (c *Controller) Dispatch(raise func(irq int)) {
	mask := c.PendingMask()
	for irq := 0; mask != 0; irq++ {
		if mask&1 != 0 {
			raise(irq)
		}
		mask >>= 1
	}
}
