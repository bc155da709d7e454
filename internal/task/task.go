// Package task implements the task model: kernel/user
// stacks, fork/exec/exit, and signal delivery with the user-mode
// trampoline. It is the logical layer only — CPUContext holds the
// software-visible register set a real switch_to would save/restore;
// the actual assembly swap of callee-saved registers (fixed stack
// offsets {-16,-32,…,-88}) belongs to the not-yet-written binding layer
// this package is designed to be driven by.
package task

import (
	"sync"

	"github.com/ppodds/osc2024/internal/kconfig"
	"github.com/ppodds/osc2024/internal/kerror"
	"github.com/ppodds/osc2024/internal/memmap"
	"github.com/ppodds/osc2024/internal/mmu"
	"github.com/ppodds/osc2024/internal/sched"
	"github.com/ppodds/osc2024/internal/vfs"
)

// CPUContext is the software-visible thread state switch_to's first
// phase saves and restores: TPIDR_EL0/1, ELR_EL1, SP_EL0,
// SPSR_EL1, plus the user-facing program counter and stack pointer used
// by exec/fork to seed a fresh task.
type CPUContext struct {
	PC, SP uintptr
	TPIDREL0 uintptr
	ELR, SPSR uintptr
	UserSP uintptr
}

// SignalAction is a user-installed handler address, or the zero value for
// "no handler installed, run the default action".
type SignalAction struct {
	HandlerVA uintptr
	Installed bool
}

// SavedSignalContext is the one-entry "interrupted context" stashed while
// a signal handler runs, so sig_return can restore it.
type SavedSignalContext struct {
	Valid bool
	Context CPUContext
}

// Task is one schedulable unit.
type Task struct {
	mu sync.Mutex

	pid int
	state sched.State

	KernelStack []byte
	Context CPUContext
	Mem *memmap.Map
	Files *vfs.FDTable

	signalTable [kconfig.MaxSignalSlots]SignalAction
	pendingMask uint32
	doingSignal bool
	savedSignal SavedSignalContext

	cwd string
}

// New allocates a kernel-job task: a fresh KernelStackSize stack, pc set
// to job and sp to the stack top, so the first schedule into this task
// returns into job.
func New(pid int, job uintptr, mem *memmap.Map) *Task {
	stack := make([]byte, kconfig.KernelStackSize)
	return &Task{
		pid: pid,
		state: sched.StateRunning,
		KernelStack: stack,
		Context: CPUContext{
			PC: job,
			SP: uintptr(len(stack)), // offset into KernelStack; binding layer adds the real base
		},
		Mem: mem,
		Files: vfs.NewFDTable(),
		cwd: "/",
	}
}

func (t *Task) PID() int { return t.pid }

func (t *Task) State() sched.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) SetState(s sched.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

func (t *Task) Cwd() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cwd
}

func (t *Task) SetCwd(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cwd = path
}

// Exec maps image at VA 0 read-only+executable, a lazy user stack, and
// the mailbox MMIO window into user space, then points the task at the
// entry point with SP_EL0 at the user stack's end.
func (t *Task) Exec(image []byte, mboxPA uintptr, mboxSize uint64) error {
	fresh, err := memmap.NewMap(nil, 0, kconfig.UserStackEnd)
	if err != nil {
		return err
	}

	size := uint64((len(image) + kconfig.PageSize - 1) &^ (kconfig.PageSize - 1))
	if size == 0 {
		size = kconfig.PageSize
	}
	imgRegion, err := fresh.MapPages(0, nil, size, mmu.AttrNormal, mmu.ReadOnlyEL1EL0, true, true, true)
	if err != nil {
		return err
	}
	copy(imgRegion.Backing.Bytes, image)

	if _, err := fresh.MapPages(kconfig.UserStackStart, nil, kconfig.UserStackSize, mmu.AttrNormal, mmu.ReadWriteEL1EL0, false, true, false); err != nil {
		return err
	}

	pa := mboxPA
	if _, err := fresh.MapPages(uintptr(kconfig.UserStackStart-kconfig.PageSize-mboxSize), &pa, mboxSize, mmu.AttrDevice, mmu.ReadWriteEL1EL0, false, true, false); err != nil {
		return err
	}

	t.mu.Lock()
	t.Mem = fresh
	t.Context.PC = 0
	t.Context.UserSP = kconfig.UserStackEnd
	t.mu.Unlock()
	return nil
}

// Fork implements fork(): a fresh, zeroed kernel stack (none of the
// parent's stack contents are copied), a copy-on-write clone of the memory
// map, a clone of the fd table, and a copy of the parent's CPUContext with
// PC replaced by childEntry. No return-value register is set here.
func (t *Task) Fork(childPID int, childEntry uintptr) (*Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	childMem, err := t.Mem.Copy()
	if err != nil {
		return nil, err
	}

	child := &Task{
		pid: childPID,
		state: sched.StateRunning,
		KernelStack: make([]byte, kconfig.KernelStackSize),
		Mem: childMem,
		Files: t.Files.Clone(),
		cwd: t.cwd,
	}
	child.Context = t.Context
	child.Context.PC = childEntry
	return child, nil
}

// Exit marks the task Dead; the idle sweep reaps it.
func (t *Task) Exit() {
	t.SetState(sched.StateDead)
}

// SetSignalHandler installs handlerVA in slot signo.
func (t *Task) SetSignalHandler(signo int, handlerVA uintptr) error {
	if signo < 0 || signo >= kconfig.MaxSignalSlots {
		return kerror.ErrOutOfRange
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.signalTable[signo] = SignalAction{HandlerVA: handlerVA, Installed: true}
	return nil
}

// RaiseSignal sets signo's pending bit.
func (t *Task) RaiseSignal(signo int) error {
	if signo < 0 || signo >= kconfig.MaxSignalSlots {
		return kerror.ErrOutOfRange
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pendingMask |= 1 << uint(signo)
	return nil
}

// SignalDelivery is what DoPendingSignal reports back to the exception
// path: either "run this default action" or "ERET to the wrapper with
// this saved context", letting the binding layer do the actual ERET/stack
// remap while this package decides the policy.
type SignalDelivery struct {
	Signo int
	DefaultKill bool
	HandlerVA uintptr
	Saved CPUContext
}

// DoPendingSignal implements the signal delivery loop: for the lowest
// set pending bit, clear it and report either the default action or a
// handler dispatch. Reentrancy is blocked by doingSignal.
func (t *Task) DoPendingSignal() (SignalDelivery, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.doingSignal || t.pendingMask == 0 {
		return SignalDelivery{}, false
	}

	for signo := 0; signo < kconfig.MaxSignalSlots; signo++ {
		bit := uint32(1) << uint(signo)
		if t.pendingMask&bit == 0 {
			continue
		}
		t.pendingMask &^= bit

		action := t.signalTable[signo]
		if !action.Installed {
			return SignalDelivery{Signo: signo, DefaultKill: true}, true
		}

		t.doingSignal = true
		t.savedSignal = SavedSignalContext{Valid: true, Context: t.Context}
		return SignalDelivery{Signo: signo, HandlerVA: action.HandlerVA, Saved: t.Context}, true
	}
	return SignalDelivery{}, false
}

// SigReturn implements the SVC sig_return path: restores the saved
// context and clears the reentrancy guard.
func (t *Task) SigReturn() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.savedSignal.Valid {
		return kerror.ErrInvalidArgument
	}
	t.Context = t.savedSignal.Context
	t.savedSignal = SavedSignalContext{}
	t.doingSignal = false
	return nil
}
