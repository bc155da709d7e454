package main

import (
	"unsafe"

	"github.com/ppodds/osc2024/internal/kconfig"
	"github.com/ppodds/osc2024/internal/klog"
	"github.com/ppodds/osc2024/internal/task"
)

// KernelMain is the entry point called from boot.s: dtb is the physical
// address the bootloader left the devicetree blob at in x0. Boot parses
// it, brings up every subsystem, then starts the scheduler, which never
// returns on real hardware.
//
//go:nosplit
//go:noinline
func KernelMain(dtb uintptr) {
	// The devicetree blob's own header carries its total size; read just
	// enough of it through the kernel high half's 1:1 mapping to learn
	// that size before slicing the whole thing.
	headerView := unsafe.Slice((*byte)(unsafe.Pointer(kconfig.KernelHighHalfBias+dtb)), 40)
	totalSize := int(headerView[4])<<24 | int(headerView[5])<<16 | int(headerView[6])<<8 | int(headerView[7])
	blob := unsafe.Slice((*byte)(unsafe.Pointer(kconfig.KernelHighHalfBias+dtb)), totalSize)

	k, err := Boot(blob)
	if err != nil {
		klog.Fatalf("boot", "boot sequence failed: %v", err)
	}

	idle := k.newIdleTask()
	k.Sched.StartScheduler(idle)
	for {
		k.IntC.RunPending()
		for _, r := range k.Sched.ReapDead() {
			if t, ok := r.(*task.Task); ok {
				k.PIDTab.Reap(t.PID())
			}
		}
		if err := k.Sched.Schedule(); err != nil {
			klog.Fatalf("sched", "run queue empty: %v", err)
		}
	}
}

// Dummy main() function required by Go's c-archive build mode.
// This is never called - boot.s calls KernelMain directly.
// We call KernelMain here to ensure it's compiled and not optimized away.
func main() {
	KernelMain(0)
	for {
	}
}
