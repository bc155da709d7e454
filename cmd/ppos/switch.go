package main

import (
	_ "unsafe"

	"github.com/ppodds/osc2024/internal/sched"
	"github.com/ppodds/osc2024/internal/task"
)

// Link to the external assembly routines in switch.s: setTTBR0/invalidateTLB
// reprogram the translation base and flush stale entries, swapCalleeSaved
// swaps x19..x28/fp/lr/sp and returns on the incoming task's stack.
//
//go:linkname setTTBR0 set_ttbr0
//go:nosplit
func setTTBR0(pa uintptr)

//go:linkname invalidateTLB invalidate_tlb
//go:nosplit
func invalidateTLB()

//go:linkname swapCalleeSaved swap_callee_saved
//go:nosplit
func swapCalleeSaved(prevSP, nextSP *uintptr)

// cpuSwitcher is the binding layer's implementation of sched.Switcher:
// the software-visible state (TTBR0_EL1 plus its TLB invalidation) in
// SaveAndLoad, the callee-saved register swap in SwapCalleeSaved.
type cpuSwitcher struct{}

func (cpuSwitcher) SaveAndLoad(prev, next sched.Runnable) {
	nt := next.(*task.Task)
	setTTBR0(nt.Mem.Table().RootPA())
	invalidateTLB()
}

func (cpuSwitcher) SwapCalleeSaved(prev, next sched.Runnable) {
	nt := next.(*task.Task)
	var prevSP *uintptr
	if pt, ok := prev.(*task.Task); ok && pt != nil {
		prevSP = &pt.Context.SP
	}
	swapCalleeSaved(prevSP, &nt.Context.SP)
}
