// Package driver implements the driver manager: up to
// MaxDrivers registration slots, ordered init/post-init, and interrupt
// registration.
package driver

import (
	"github.com/ppodds/osc2024/internal/intc"
	"github.com/ppodds/osc2024/internal/kconfig"
	"github.com/ppodds/osc2024/internal/kerror"
)

// Driver is anything with an init step; PostInit and the interrupt wiring
// are optional.
type Driver interface {
	Init() error
}

// Descriptor is one registration: {driver, optional post-init callback,
// optional interrupt number}.
type Descriptor struct {
	Driver Driver
	PostInit func() error
	IRQ int
	HasIRQ bool
	IRQPriority uint
	Handler intc.Handler
	Prehook intc.Prehook
}

// Manager holds up to MaxDrivers descriptors in registration order.
type Manager struct {
	descriptors []Descriptor
}

func New() *Manager {
	return &Manager{}
}

// Register adds d, failing once MaxDrivers slots are full.
func (m *Manager) Register(d Descriptor) error {
	if len(m.descriptors) >= kconfig.MaxDrivers {
		return kerror.ErrTableFull
	}
	m.descriptors = append(m.descriptors, d)
	return nil
}

// InitDriversAndInterrupts runs Init then PostInit for each descriptor in
// registration order, then registers each descriptor's interrupt handler.
func (m *Manager) InitDriversAndInterrupts(controller *intc.Controller) error {
	for _, d := range m.descriptors {
		if err := d.Driver.Init(); err != nil {
			return err
		}
	}
	for _, d := range m.descriptors {
		if d.PostInit != nil {
			if err := d.PostInit(); err != nil {
				return err
			}
		}
	}
	for _, d := range m.descriptors {
		if !d.HasIRQ {
			continue
		}
		if err := controller.RegisterPeripheral(d.IRQ, d.IRQPriority, d.Handler, d.Prehook); err != nil {
			return err
		}
	}
	return nil
}

// Len is a test/introspection hook.
func (m *Manager) Len() int { return len(m.descriptors) }
