// Package intc implements the interrupt controller manager: the local
// (per-core) controller and the 64-entry peripheral controller are
// abstracted behind one pending-interrupt priority queue with a
// nested-dispatch discipline that lets a strictly higher priority
// handler preempt one already running.
package intc

import (
	"sync"

	"github.com/ppodds/osc2024/internal/kconfig"
	"github.com/ppodds/osc2024/internal/kerror"
)

const NoCurrentPriority = ^uint(0)

// Handler is run with interrupts re-enabled, allowing a strictly higher
// priority handler to preempt it.
type Handler func()

// Prehook runs with interrupts masked, before the descriptor is enqueued;
// its job is to acknowledge or quiesce the device.
type Prehook func()

// Descriptor is what a source translates its pending bit into.
type Descriptor struct {
	Handler Handler
	Priority uint // lower value preempts higher value
	Prehook Prehook
}

type entry struct {
	slot int
	prehook Prehook
	handler Handler
	priority uint
}

// Controller owns the single process-wide pending-interrupt queue plus
// the local/peripheral source tables.
type Controller struct {
	mu sync.Mutex

	local [4]*entry
	peripheral [kconfig.PeripheralIRQCount]*entry

	pending []*entry
	currentPriority uint
}

func New() *Controller {
	return &Controller{currentPriority: NoCurrentPriority}
}

// RegisterLocal installs a handler for one of the 4 local (generic-timer)
// sources.
func (c *Controller) RegisterLocal(source int, priority uint, h Handler, pre Prehook) error {
	if source < 0 || source >= len(c.local) {
		return kerror.ErrOutOfRange
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local[source] = &entry{slot: source, handler: h, priority: priority, prehook: pre}
	return nil
}

// RegisterPeripheral installs a handler in the 64-slot peripheral table.
func (c *Controller) RegisterPeripheral(irq int, priority uint, h Handler, pre Prehook) error {
	if irq < 0 || irq >= len(c.peripheral) {
		return kerror.ErrOutOfRange
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peripheral[irq] = &entry{slot: irq, handler: h, priority: priority, prehook: pre}
	return nil
}

// push inserts e in priority order (lower number first), after any
// pending entries of equal priority, so equal priorities run FIFO.
// Caller holds c.mu.
func (c *Controller) push(e *entry) {
	if e.prehook != nil {
		e.prehook()
	}
	i := 0
	for i < len(c.pending) && c.pending[i].priority <= e.priority {
		i++
	}
	c.pending = append(c.pending, nil)
	copy(c.pending[i+1:], c.pending[i:])
	c.pending[i] = e
}

// RaiseLocal simulates the local controller observing source as pending
// (production code derives this from the real pending bitmask register).
func (c *Controller) RaiseLocal(source int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.local[source]
	if e == nil {
		return kerror.ErrNotSupported
	}
	c.push(e)
	return nil
}

// RaisePeripheral simulates the peripheral controller observing irq as
// pending.
func (c *Controller) RaisePeripheral(irq int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.peripheral[irq]
	if e == nil {
		return kerror.ErrNotSupported
	}
	c.push(e)
	return nil
}

// RunPending drains the queue execution loop: with
// interrupts conceptually disabled, peek the head; if its priority isn't
// higher than current, stop. Else pop, set current = head.priority,
// "re-enable" (run the handler unmasked, permitting a recursive RunPending
// to model nested preemption), then restore current and loop.
func (c *Controller) RunPending() {
	for {
		c.mu.Lock()
		if len(c.pending) == 0 || c.pending[0].priority >= c.currentPriority {
			c.mu.Unlock()
			return
		}
		head := c.pending[0]
		c.pending = c.pending[1:]
		prevPriority := c.currentPriority
		c.currentPriority = head.priority
		c.mu.Unlock()

		head.handler()

		c.mu.Lock()
		c.currentPriority = prevPriority
		c.mu.Unlock()
	}
}

// CurrentPriority reports the priority of the handler presently executing,
// or NoCurrentPriority if none.
func (c *Controller) CurrentPriority() uint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentPriority
}

// PendingLen is a test/introspection hook.
func (c *Controller) PendingLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
