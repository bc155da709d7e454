// Package exception implements the synchronous/IRQ routing logic:
// ESR-based classification and dispatch to syscall entry or the
// memory-map fault handlers. The actual 16-entry AArch64 vector table,
// VBAR_EL1 installation, and the full integer-register save/restore belong
// to the not-yet-written binding layer; this package is what that vector
// calls into once the ExceptionContext has been saved.
package exception

import (
	"github.com/ppodds/osc2024/internal/kerror"
	"github.com/ppodds/osc2024/internal/memmap"
	"github.com/ppodds/osc2024/internal/syscall"
)

// Exception classes this package recognises, ESR_EL1.EC values (ARMv8-A
// ARM D13.2.37).
const (
	ECSVC64 = 0x15
	ECInstrAbortLowerEL = 0x20
	ECDataAbortLowerEL = 0x24
	ECDataAbortSameEL = 0x25
)

// FaultClass is the abort sub-classification the fault handlers
// distinguish: a translation fault (never mapped yet — demand page it)
// versus a permission fault (mapped but not writable — COW or a genuine
// read-only violation).
type FaultClass int

const (
	FaultUnhandled FaultClass = iota
	FaultTranslation
	FaultPermission
)

// ClassifyDataAbort reads ESR_EL1's DFSC (bits [5:0]) the way the
// original hand-written fault path does: levels 04-07 are translation
// faults, 0c-0f are permission faults.
func ClassifyDataAbort(esr uint64) FaultClass {
	dfsc := esr & 0x3f
	switch {
	case dfsc >= 0x04 && dfsc <= 0x07:
		return FaultTranslation
	case dfsc >= 0x0c && dfsc <= 0x0f:
		return FaultPermission
	default:
		return FaultUnhandled
	}
}

// MemoryMap is the minimal surface the fault path needs from a task's
// memory map, satisfied by *memmap.Map.
type MemoryMap interface {
	HandleTranslationFault(va uintptr) error
	HandlePermissionFault(va uintptr) error
}

var _ MemoryMap = (*memmap.Map)(nil)

// Outcome is what HandleSynchronous reports back to the binding layer:
// whether the faulting instruction should be retried (ERET back to the
// same ELR), a syscall return value installed, or the task terminated
// with a diagnostic.
type Outcome struct {
	Retry bool
	SyscallRet uintptr
	IsSyscall bool
	Terminate bool
	Diagnostic string
}

// HandleSynchronous implements the synchronous-from-EL0 path: an
// SVC decodes to syscall dispatch, a data/instruction abort whose FAR
// lies in a known region goes to the fault handler, anything else is
// fatal to the task.
func HandleSynchronous(ec uint64, esr uint64, far uintptr, syscallNum int, args syscall.Args, table *syscall.Table, mem MemoryMap) Outcome {
	switch ec {
	case ECSVC64:
		ret, err := table.Dispatch(syscallNum, args)
		if err == kerror.ErrUnknownSyscall {
			return Outcome{Terminate: true, Diagnostic: err.Error()}
		}
		// Every other Dispatch error is an ordinary recoverable failure
		// (bad fd, missing file without O_CREAT, ...): the handler has
		// already encoded it as -1/NULL in ret, so it goes back to the
		// caller in x0 exactly like a successful call, never killing the
		// task.
		return Outcome{IsSyscall: true, SyscallRet: ret}

	case ECDataAbortLowerEL, ECInstrAbortLowerEL, ECDataAbortSameEL:
		switch ClassifyDataAbort(esr) {
		case FaultTranslation:
			if err := mem.HandleTranslationFault(far); err != nil {
				return terminateForFaultError(err)
			}
			return Outcome{Retry: true}
		case FaultPermission:
			if err := mem.HandlePermissionFault(far); err != nil {
				return terminateForFaultError(err)
			}
			return Outcome{Retry: true}
		default:
			return Outcome{Terminate: true, Diagnostic: "unhandled abort classification"}
		}

	default:
		return Outcome{Terminate: true, Diagnostic: "unhandled synchronous exception"}
	}
}

// terminateForFaultError distinguishes a genuine read-only violation
// (signal the task) from a structural fault-handler error (no such
// region at all — equally fatal to the task, just a different
// diagnostic).
func terminateForFaultError(err error) Outcome {
	if err == kerror.ErrReadOnlyRegion {
		return Outcome{Terminate: true, Diagnostic: "region is read-only"}
	}
	return Outcome{Terminate: true, Diagnostic: err.Error()}
}
