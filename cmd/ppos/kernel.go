// Command ppos is the kernel image: this file wires every internal/*
// subsystem together into one boot sequence, the way src/kernel.go's
// KernelMain once brought up a single UART and looped on getc/putc, only
// now bringing up a frame allocator, an MMU-backed kernel table, the
// BCM283x peripheral set, an in-memory VFS, and a schedulable task model.
package main

import (
	"sort"
	"strings"
	"unsafe"

	"github.com/ppodds/osc2024/internal/buddy"
	"github.com/ppodds/osc2024/internal/cpio"
	"github.com/ppodds/osc2024/internal/driver"
	"github.com/ppodds/osc2024/internal/fdt"
	"github.com/ppodds/osc2024/internal/intc"
	"github.com/ppodds/osc2024/internal/kconfig"
	"github.com/ppodds/osc2024/internal/klog"
	"github.com/ppodds/osc2024/internal/mmio"
	"github.com/ppodds/osc2024/internal/mmio/fb"
	"github.com/ppodds/osc2024/internal/mmio/gic"
	"github.com/ppodds/osc2024/internal/mmio/gpio"
	"github.com/ppodds/osc2024/internal/mmio/mailbox"
	"github.com/ppodds/osc2024/internal/mmio/uart"
	"github.com/ppodds/osc2024/internal/mmu"
	"github.com/ppodds/osc2024/internal/memmap"
	"github.com/ppodds/osc2024/internal/pidtab"
	"github.com/ppodds/osc2024/internal/sched"
	"github.com/ppodds/osc2024/internal/syscall"
	"github.com/ppodds/osc2024/internal/task"
	"github.com/ppodds/osc2024/internal/vfs"
	"github.com/ppodds/osc2024/internal/vfs/devfs"
	"github.com/ppodds/osc2024/internal/vfs/ramfs"
	"github.com/ppodds/osc2024/internal/vfs/tmpfs"
)

// uartPeripheralIRQ is the AUX peripheral's line in the 64-entry
// peripheral interrupt controller's map.
const uartPeripheralIRQ = 29

// defaultMemoryBytes is the fallback ARM-side memory split used when the
// devicetree blob carries no memory@0 node (synthetic boot images,
// GPU/ARM split not yet negotiated over the mailbox).
const defaultMemoryBytes = 0x3C00_0000 // 960 MiB

// Kernel is the fully booted collection of kernel subsystems.
type Kernel struct {
	Buddy *buddy.Allocator
	KernelTable *mmu.Table

	GPIO *gpio.Controller
	UART *uart.Driver
	Mailbox *mailbox.Mailbox
	GIC *gic.Controller
	FB *fb.Framebuffer

	Drivers *driver.Manager
	IntC *intc.Controller

	VFS *vfs.VFS
	PIDTab *pidtab.Table
	Sched *sched.Scheduler
	Syscalls *syscall.Table
}

// tableAllocator adapts a buddy.Allocator into an mmu.TableAllocator,
// handing out single-frame (order 0) tables.
type tableAllocator struct{ frames *buddy.Allocator }

func (t tableAllocator) AllocTable() (uintptr, error) {
	idx, err := t.frames.Alloc(0)
	if err != nil {
		return 0, err
	}
	return uintptr(idx) * kconfig.PageSize, nil
}

// mboxPropertyBuffer is the fixed-size, 16-byte-aligned scratch buffer the
// mailbox property-channel protocol reads/writes tags into; kept as
// static kernel bss so its address is stable and GPU-visible without a
// separate DMA allocation step.
type mboxPropertyBuffer struct {
	words [36]uint32
}

func (p *mboxPropertyBuffer) Words() []uint32 { return p.words[:] }
func (p *mboxPropertyBuffer) Addr() uint32 {
	return uint32(uintptr(unsafe.Pointer(&p.words[0])))
}

var mboxBuf mboxPropertyBuffer

// mapPhysPixels resolves a VideoCore bus address (its top two bits select
// the cache policy alias) into the kernel high half's identity-mapped
// byte slice over the same physical memory.
func mapPhysPixels(busAddr uint32, size uint32) []byte {
	pa := uintptr(busAddr &^ 0xC000_0000)
	ptr := (*byte)(unsafe.Pointer(kconfig.KernelHighHalfBias + pa))
	return unsafe.Slice(ptr, size)
}

// physSlice views a physical [pa, pa+size) range through the kernel high
// half's 1:1 mapping — used to read the initramfs out of the region the
// bootloader placed it in.
func physSlice(pa, size uint64) []byte {
	ptr := (*byte)(unsafe.Pointer(kconfig.KernelHighHalfBias + uintptr(pa)))
	return unsafe.Slice(ptr, size)
}

// Boot brings up every subsystem from the raw devicetree blob handed to
// KernelMain in x0, in dependency order: devicetree before memory
// discovery, memory before the frame allocator, the frame allocator
// before the kernel table, peripherals before the console logger's sink
// switch, and the VFS (with its mounts) before any driver that publishes
// a device node into it.
func Boot(dtbBlob []byte) (*Kernel, error) {
	hdr, err := fdt.ParseHeader(dtbBlob)
	if err != nil {
		return nil, err
	}
	tree, err := fdt.Parse(dtbBlob, hdr)
	if err != nil {
		return nil, err
	}

	memBase, memSize, ok := tree.MemoryReg()
	if !ok {
		memBase, memSize = 0, defaultMemoryBytes
	}

	k := &Kernel{}

	k.Buddy, err = buddy.New(uintptr(memBase), uintptr(memBase+memSize))
	if err != nil {
		return nil, err
	}
	// The kernel image and the devicetree/initramfs blob it was handed
	// live inside managed memory; carve them out before anything else
	// can allocate over them.
	if err := k.Buddy.Reserve(kconfig.KernelImageLoadAddr, kconfig.KernelImageLoadAddr+0x20_0000); err != nil {
		return nil, err
	}

	mmioRanges := []mmu.MMIORange{{Lo: kconfig.PeripheralBase, Hi: kconfig.PeripheralBase + 0x0100_0000}}
	k.KernelTable, err = mmu.NewKernelTable(tableAllocator{k.Buddy}, invalidateTLB, kconfig.KernelHighHalfBias, uintptr(memSize), mmioRanges)
	if err != nil {
		return nil, err
	}

	k.GPIO = gpio.New(mmio.Live{Base: kconfig.GPIOBase})
	k.UART = uart.New(mmio.Live{Base: kconfig.AUXBase}, k.GPIO)
	k.Mailbox = mailbox.New(mmio.Live{Base: kconfig.MailboxBase})
	k.GIC = gic.New(mmio.Live{Base: kconfig.PeripheralICBase})

	k.Drivers = driver.New()
	k.IntC = intc.New()
	if err := k.Drivers.Register(driver.Descriptor{
		Driver: k.UART,
		HasIRQ: true,
		IRQ: uartPeripheralIRQ,
		IRQPriority: 10,
		Handler: func() { klog.Debugf("uart", "peripheral interrupt serviced") },
	}); err != nil {
		return nil, err
	}
	if err := k.Drivers.InitDriversAndInterrupts(k.IntC); err != nil {
		return nil, err
	}
	k.GIC.Enable(uartPeripheralIRQ)

	klog.SetSink(k.UART)
	klog.Infof("boot", "mini-UART console up")

	k.FB, err = fb.Negotiate(k.Mailbox, &mboxBuf, 640, 480, 32, mapPhysPixels)
	if err != nil {
		klog.Warnf("boot", "framebuffer negotiation failed: %v", err)
	}

	if k.VFS, err = bootVFS(tree, k.UART, k.FB); err != nil {
		return nil, err
	}

	k.PIDTab = pidtab.New()
	k.Sched = sched.New(cpuSwitcher{})
	k.Syscalls = syscall.NewTable()
	k.registerSyscalls()

	return k, nil
}

// bootVFS mounts the tmpfs root, the read-only initramfs (if the
// devicetree carries one), and /dev with the UART and framebuffer device
// nodes.
func bootVFS(tree *fdt.Tree, uartDrv *uart.Driver, framebuffer *fb.Framebuffer) (*vfs.VFS, error) {
	v, err := vfs.New(tmpfs.Driver{})
	if err != nil {
		return nil, err
	}

	if start, end, ok := tree.InitrdRange(); ok {
		entries, perr := cpio.Parse(physSlice(start, end-start))
		if perr != nil {
			klog.Warnf("boot", "initramfs parse failed: %v", perr)
		} else if err := mountRamfs(v, entries); err != nil {
			return nil, err
		}
	}

	if _, err := v.Mkdir("/", "dev", 0o755, "/"); err != nil {
		return nil, err
	}
	devDentry, err := v.Lookup("/dev", "/")
	if err != nil {
		return nil, err
	}
	if _, err := v.AttachInode(devDentry, "uart", devfs.NewUARTInode(devDentry.Inode.SB, uartDrv)); err != nil {
		return nil, err
	}
	if framebuffer != nil {
		if _, err := v.AttachInode(devDentry, "fb0", devfs.NewFramebufferInode(devDentry.Inode.SB, framebuffer)); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// mountRamfs mounts a ramfs root at /initramfs and attaches every decoded
// CPIO entry into it, creating intermediate directory inodes for any path
// component the archive never stored an explicit record for — shallowest
// paths first, so a child's parent directory is always already wired.
func mountRamfs(v *vfs.VFS, entries []cpio.Entry) error {
	// The mountpoint dentry has to exist under root before Mount, the same
	// way /dev below is Mkdir'd before anything is attached under it —
	// Lookup only ever descends through cached child dentries, then
	// overlays v.mounts on top of whatever it found; it never discovers a
	// mount from v.mounts alone.
	if _, err := v.Mkdir("/", "initramfs", 0o755, "/"); err != nil {
		return err
	}
	if err := v.Mount("/initramfs", ramfs.Driver{}); err != nil {
		return err
	}
	root, err := v.Lookup("/initramfs", "/")
	if err != nil {
		return err
	}

	sort.Slice(entries, func(i, j int) bool {
		return strings.Count(entries[i].Name, "/") < strings.Count(entries[j].Name, "/")
	})

	dirs := map[string]*vfs.Dentry{"": root}

	for _, e := range entries {
		if e.Name == "" || e.Name == "." {
			continue
		}
		parentPath, name := splitParent(e.Name)
		parent, err := ensureDirRec(v, dirs, parentPath)
		if err != nil {
			return err
		}
		if e.IsDir() {
			if _, ok := dirs[e.Name]; !ok {
				d, err := v.AttachInode(parent, name, ramfs.NewDirInode(root.Inode.SB))
				if err != nil {
					return err
				}
				dirs[e.Name] = d
			}
			continue
		}
		if _, err := v.AttachInode(parent, name, ramfs.NewFileInode(root.Inode.SB, e.Content, e.Mode)); err != nil {
			return err
		}
	}
	return nil
}

// ensureDirRec is mountRamfs's ensureDir, factored out so it can recurse
// on a multi-component parent path before the closure over dirs exists.
func ensureDirRec(v *vfs.VFS, dirs map[string]*vfs.Dentry, path string) (*vfs.Dentry, error) {
	if d, ok := dirs[path]; ok {
		return d, nil
	}
	parentPath, name := splitParent(path)
	parent, err := ensureDirRec(v, dirs, parentPath)
	if err != nil {
		return nil, err
	}
	d, err := v.AttachInode(parent, name, ramfs.NewDirInode(parent.Inode.SB))
	if err != nil {
		return nil, err
	}
	dirs[path] = d
	return d, nil
}

func splitParent(path string) (parent, name string) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

// newIdleTask builds the scheduler's bootstrap task: the one the first
// Schedule() call "saves into". Its entry point is meaningless until the
// not-yet-written boot stub seeds Context.PC with the real reap-and-wfi
// loop address; StartScheduler only needs a Runnable to stand in for
// "whatever was running before the very first switch".
func (k *Kernel) newIdleTask() *task.Task {
	mem, err := memmap.NewMap(k.Buddy, 0, kconfig.UserStackEnd)
	if err != nil {
		klog.Fatalf("boot", "idle task memory map: %v", err)
	}
	pid := k.PIDTab.Allocate(nil)
	idle := task.New(pid, 0, mem)
	k.PIDTab.Set(pid, idle)
	k.Sched.Enqueue(idle)
	return idle
}
