package main

import (
	"strings"

	"github.com/ppodds/osc2024/internal/kconfig"
	"github.com/ppodds/osc2024/internal/kerror"
	"github.com/ppodds/osc2024/internal/memmap"
	"github.com/ppodds/osc2024/internal/mmu"
	"github.com/ppodds/osc2024/internal/syscall"
	"github.com/ppodds/osc2024/internal/task"
	"github.com/ppodds/osc2024/internal/vfs"
	"github.com/ppodds/osc2024/internal/vfs/ramfs"
	"github.com/ppodds/osc2024/internal/vfs/tmpfs"
)

// currentTask is every handler's entry point into the running task: the
// scheduler hands back a sched.Runnable, but every concrete instance in
// this kernel is a *task.Task.
func (k *Kernel) currentTask() *task.Task {
	return k.Sched.Current().(*task.Task)
}

// readUserBytes copies n bytes starting at va out of t's address space,
// one byte at a time through memmap.Map.Load so a first touch demand-pages
// the source region exactly like real user-mode access would.
func readUserBytes(mem *memmap.Map, va uintptr, n int) ([]byte, error) {
	buf := make([]byte, n)
	for i := range buf {
		b, err := mem.Load(va + uintptr(i))
		if err != nil {
			return nil, err
		}
		buf[i] = b
	}
	return buf, nil
}

// writeUserBytes is readUserBytes's inverse, through memmap.Map.Store.
func writeUserBytes(mem *memmap.Map, va uintptr, buf []byte) error {
	for i, b := range buf {
		if err := mem.Store(va+uintptr(i), b); err != nil {
			return err
		}
	}
	return nil
}

// maxUserString bounds readUserString's walk so a syscall never spins
// forever reading out of an unterminated or hostile buffer.
const maxUserString = 4096

func readUserString(mem *memmap.Map, va uintptr) (string, error) {
	var out []byte
	for i := 0; i < maxUserString; i++ {
		b, err := mem.Load(va + uintptr(i))
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(out), nil
		}
		out = append(out, b)
	}
	return "", kerror.ErrInvalidArgument
}

func splitParentName(path string) (parent, name string) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}
	if idx == 0 {
		return "/", path[1:]
	}
	return path[:idx], path[idx+1:]
}

// registerSyscalls installs every numbered syscall's Handler, bridging
// the untyped Args registers to the task/VFS/pidtab/mailbox operations
// those numbers' contracts describe.
func (k *Kernel) registerSyscalls() {
	k.Syscalls.Register(syscall.GetPID, k.sysGetPID)
	k.Syscalls.Register(syscall.UARTRead, k.sysUARTRead)
	k.Syscalls.Register(syscall.UARTWrite, k.sysUARTWrite)
	k.Syscalls.Register(syscall.Exec, k.sysExec)
	k.Syscalls.Register(syscall.Fork, k.sysFork)
	k.Syscalls.Register(syscall.Exit, k.sysExit)
	k.Syscalls.Register(syscall.MboxCall, k.sysMboxCall)
	k.Syscalls.Register(syscall.Kill, k.sysKill)
	k.Syscalls.Register(syscall.Signal, k.sysSignal)
	k.Syscalls.Register(syscall.KillWithSignal, k.sysKillWithSignal)
	k.Syscalls.Register(syscall.Mmap, k.sysMmap)
	k.Syscalls.Register(syscall.Open, k.sysOpen)
	k.Syscalls.Register(syscall.Close, k.sysClose)
	k.Syscalls.Register(syscall.Write, k.sysWrite)
	k.Syscalls.Register(syscall.Read, k.sysRead)
	k.Syscalls.Register(syscall.Mkdir, k.sysMkdir)
	k.Syscalls.Register(syscall.Mount, k.sysMount)
	k.Syscalls.Register(syscall.Chdir, k.sysChdir)
	k.Syscalls.Register(syscall.Lseek64, k.sysLseek64)
	k.Syscalls.Register(syscall.Ioctl, k.sysIoctl)
	k.Syscalls.Register(syscall.SigReturn, k.sysSigReturn)
}

func (k *Kernel) sysGetPID(a syscall.Args) (uintptr, error) {
	return uintptr(k.currentTask().PID()), nil
}

// sysUARTRead/sysUARTWrite are the raw, fd-less console syscalls: a[0] is
// the user buffer's VA, a[1] its length.
func (k *Kernel) sysUARTRead(a syscall.Args) (uintptr, error) {
	t := k.currentTask()
	n := int(a[1])
	k.UART.SetAsyncMode(false)
	defer k.UART.SetAsyncMode(true)
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = k.UART.ReadByte()
	}
	if err := writeUserBytes(t.Mem, a[0], buf); err != nil {
		return 0, err
	}
	return uintptr(n), nil
}

func (k *Kernel) sysUARTWrite(a syscall.Args) (uintptr, error) {
	t := k.currentTask()
	buf, err := readUserBytes(t.Mem, a[0], int(a[1]))
	if err != nil {
		return 0, err
	}
	for _, b := range buf {
		k.UART.WriteByte(b)
	}
	return uintptr(len(buf)), nil
}

// sysExec loads the image named by the NUL-terminated path at a[0] out of
// the VFS and replaces the current task's address space with it.
func (k *Kernel) sysExec(a syscall.Args) (uintptr, error) {
	t := k.currentTask()
	path, err := readUserString(t.Mem, a[0])
	if err != nil {
		return ^uintptr(0), err
	}
	d, err := k.VFS.Lookup(path, t.Cwd())
	if err != nil {
		return ^uintptr(0), err
	}
	idx, err := k.VFS.OpenGlobal(d)
	if err != nil {
		return ^uintptr(0), err
	}
	defer k.VFS.CloseGlobal(idx)
	h, err := k.VFS.Handle(idx)
	if err != nil {
		return ^uintptr(0), err
	}
	image := make([]byte, d.Inode.Size)
	if _, err := h.Read(image); err != nil {
		return ^uintptr(0), err
	}
	if err := t.Exec(image, kconfig.GPUMemoryMMIOBase, kconfig.PageSize); err != nil {
		return ^uintptr(0), err
	}
	return 0, nil
}

// sysFork reserves a PID before the child task exists (fork's contract
// needs it to seed the child's own task.New/Fork call), builds the child
// via task.Task.Fork, then backfills the PID table entry with the real
// handle and enqueues it for scheduling.
func (k *Kernel) sysFork(a syscall.Args) (uintptr, error) {
	t := k.currentTask()
	childPID := k.PIDTab.Allocate(nil)
	child, err := t.Fork(childPID, t.Context.PC)
	if err != nil {
		k.PIDTab.Reap(childPID)
		return ^uintptr(0), err
	}
	k.PIDTab.Set(childPID, child)
	k.Sched.Enqueue(child)
	return uintptr(childPID), nil
}

func (k *Kernel) sysExit(a syscall.Args) (uintptr, error) {
	t := k.currentTask()
	t.Exit()
	return 0, nil
}

// sysMboxCall translates the user-space buffer pointer through the
// current task's page table to a physical, GPU-visible address before
// handing it to the mailbox hardware — the property-channel protocol
// only ever sees physical addresses.
func (k *Kernel) sysMboxCall(a syscall.Args) (uintptr, error) {
	t := k.currentTask()
	pa, err := t.Mem.Table().VirtToPhys(a[1])
	if err != nil {
		return 0, err
	}
	ret := k.Mailbox.Call(uint8(a[0]), uint32(pa))
	return uintptr(ret), nil
}

func (k *Kernel) lookupTask(pid int) (*task.Task, error) {
	h, err := k.PIDTab.Lookup(pid)
	if err != nil {
		return nil, err
	}
	tk, ok := h.(*task.Task)
	if !ok || tk == nil {
		return nil, kerror.ErrNoSuchTask
	}
	return tk, nil
}

func (k *Kernel) sysKill(a syscall.Args) (uintptr, error) {
	tk, err := k.lookupTask(int(a[0]))
	if err != nil {
		return ^uintptr(0), err
	}
	tk.Exit()
	return 0, nil
}

func (k *Kernel) sysSignal(a syscall.Args) (uintptr, error) {
	t := k.currentTask()
	if err := t.SetSignalHandler(int(a[0]), a[1]); err != nil {
		return ^uintptr(0), err
	}
	return 0, nil
}

func (k *Kernel) sysKillWithSignal(a syscall.Args) (uintptr, error) {
	tk, err := k.lookupTask(int(a[0]))
	if err != nil {
		return ^uintptr(0), err
	}
	if err := tk.RaiseSignal(int(a[1])); err != nil {
		return ^uintptr(0), err
	}
	return 0, nil
}

// sysMmap implements anonymous mmap: a[1] is length, a[2] prot bits,
// a[3] flags. MAP_POPULATE eagerly backs and installs the region;
// otherwise it is left lazy for HandleTranslationFault to demand-page.
func (k *Kernel) sysMmap(a syscall.Args) (uintptr, error) {
	t := k.currentTask()
	size := (uint64(a[1]) + kconfig.PageSize - 1) &^ (kconfig.PageSize - 1)
	if size == 0 {
		size = kconfig.PageSize
	}
	va, err := t.Mem.GetAvailableVirtAddr(size)
	if err != nil {
		return ^uintptr(0), err
	}
	access := mmu.ReadOnlyEL1EL0
	if a[2]&syscall.ProtWrite != 0 {
		access = mmu.ReadWriteEL1EL0
	}
	exec := a[2]&syscall.ProtExec != 0
	populate := a[3]&syscall.MmapFlagPopulate != 0
	if _, err := t.Mem.MapPages(va, nil, size, mmu.AttrNormal, access, exec, true, populate); err != nil {
		return ^uintptr(0), err
	}
	return va, nil
}

// sysOpen resolves a[0]'s NUL-terminated path, creating it under
// OpenFlagCreate if it doesn't exist, then installs a fresh global
// open-file-table entry into the current task's fd table.
func (k *Kernel) sysOpen(a syscall.Args) (uintptr, error) {
	t := k.currentTask()
	path, err := readUserString(t.Mem, a[0])
	if err != nil {
		return ^uintptr(0), err
	}
	cwd := t.Cwd()
	d, err := k.VFS.Lookup(path, cwd)
	if err == kerror.ErrNoSuchFileOrDirectory && uintptr(a[1])&syscall.OpenFlagCreate != 0 {
		parent, name := splitParentName(path)
		d, err = k.VFS.Create(parent, name, uint32(a[2]), cwd)
	}
	if err != nil {
		return ^uintptr(0), err
	}
	idx, err := k.VFS.OpenGlobal(d)
	if err != nil {
		return ^uintptr(0), err
	}
	fd, err := t.Files.Install(idx)
	if err != nil {
		k.VFS.CloseGlobal(idx)
		return ^uintptr(0), err
	}
	return uintptr(fd), nil
}

func (k *Kernel) sysClose(a syscall.Args) (uintptr, error) {
	t := k.currentTask()
	idx, err := t.Files.Release(int(a[0]))
	if err != nil {
		return ^uintptr(0), err
	}
	if err := k.VFS.CloseGlobal(idx); err != nil {
		return ^uintptr(0), err
	}
	return 0, nil
}

func (k *Kernel) sysWrite(a syscall.Args) (uintptr, error) {
	t := k.currentTask()
	idx, err := t.Files.Resolve(int(a[0]))
	if err != nil {
		return ^uintptr(0), err
	}
	h, err := k.VFS.Handle(idx)
	if err != nil {
		return ^uintptr(0), err
	}
	buf, err := readUserBytes(t.Mem, a[1], int(a[2]))
	if err != nil {
		return ^uintptr(0), err
	}
	n, err := h.Write(buf)
	if err != nil {
		return ^uintptr(0), err
	}
	return uintptr(n), nil
}

func (k *Kernel) sysRead(a syscall.Args) (uintptr, error) {
	t := k.currentTask()
	idx, err := t.Files.Resolve(int(a[0]))
	if err != nil {
		return ^uintptr(0), err
	}
	h, err := k.VFS.Handle(idx)
	if err != nil {
		return ^uintptr(0), err
	}
	buf := make([]byte, int(a[2]))
	n, err := h.Read(buf)
	if err != nil {
		return ^uintptr(0), err
	}
	if err := writeUserBytes(t.Mem, a[1], buf[:n]); err != nil {
		return ^uintptr(0), err
	}
	return uintptr(n), nil
}

func (k *Kernel) sysMkdir(a syscall.Args) (uintptr, error) {
	t := k.currentTask()
	path, err := readUserString(t.Mem, a[0])
	if err != nil {
		return ^uintptr(0), err
	}
	parent, name := splitParentName(path)
	if _, err := k.VFS.Mkdir(parent, name, uint32(a[1]), t.Cwd()); err != nil {
		return ^uintptr(0), err
	}
	return 0, nil
}

// sysMount supports mounting a fresh tmpfs or ramfs at a[1]'s target
// path; a[2] names the filesystem type ("tmpfs" by default). Mounting
// onto a target that already has children is refused with ErrBusy rather
// than silently shadowing the existing dentry.
func (k *Kernel) sysMount(a syscall.Args) (uintptr, error) {
	t := k.currentTask()
	target, err := readUserString(t.Mem, a[1])
	if err != nil {
		return ^uintptr(0), err
	}
	fstype := "tmpfs"
	if a[2] != 0 {
		fstype, err = readUserString(t.Mem, a[2])
		if err != nil {
			return ^uintptr(0), err
		}
	}

	if existing, err := k.VFS.Lookup(target, t.Cwd()); err == nil && len(existing.Children) > 0 {
		return ^uintptr(0), kerror.ErrBusy
	}

	var driver vfs.Driver
	switch fstype {
	case "ramfs":
		driver = ramfs.Driver{}
	default:
		driver = tmpfs.Driver{}
	}
	if err := k.VFS.Mount(target, driver); err != nil {
		return ^uintptr(0), err
	}
	return 0, nil
}

// sysChdir sets the current task's cwd string. Relative paths are joined
// onto the existing cwd without "."/".." normalisation — resolution of
// those is deferred to Lookup at use time, same as every other path
// argument.
func (k *Kernel) sysChdir(a syscall.Args) (uintptr, error) {
	t := k.currentTask()
	path, err := readUserString(t.Mem, a[0])
	if err != nil {
		return ^uintptr(0), err
	}
	d, err := k.VFS.Lookup(path, t.Cwd())
	if err != nil {
		return ^uintptr(0), err
	}
	if d.Inode.Type != vfs.TypeDir {
		return ^uintptr(0), kerror.ErrNotADirectory
	}
	if strings.HasPrefix(path, "/") {
		t.SetCwd(path)
	} else if t.Cwd() == "/" {
		t.SetCwd("/" + path)
	} else {
		t.SetCwd(t.Cwd() + "/" + path)
	}
	return 0, nil
}

// sysLseek64 returns the offset-after-seek for every whence, including
// SEEK_SET, matching FileHandle.Seek's own return convention.
func (k *Kernel) sysLseek64(a syscall.Args) (uintptr, error) {
	t := k.currentTask()
	idx, err := t.Files.Resolve(int(a[0]))
	if err != nil {
		return ^uintptr(0), err
	}
	h, err := k.VFS.Handle(idx)
	if err != nil {
		return ^uintptr(0), err
	}
	np, err := h.Seek(int64(a[1]), int(a[2]))
	if err != nil {
		return ^uintptr(0), err
	}
	return uintptr(np), nil
}

func (k *Kernel) sysIoctl(a syscall.Args) (uintptr, error) {
	t := k.currentTask()
	idx, err := t.Files.Resolve(int(a[0]))
	if err != nil {
		return ^uintptr(0), err
	}
	h, err := k.VFS.Handle(idx)
	if err != nil {
		return ^uintptr(0), err
	}
	buf, err := readUserBytes(t.Mem, a[2], int(a[3]))
	if err != nil {
		return ^uintptr(0), err
	}
	n, err := h.Ioctl(int(a[1]), buf)
	if err != nil {
		return ^uintptr(0), err
	}
	if err := writeUserBytes(t.Mem, a[2], buf); err != nil {
		return ^uintptr(0), err
	}
	return uintptr(n), nil
}

func (k *Kernel) sysSigReturn(a syscall.Args) (uintptr, error) {
	t := k.currentTask()
	if err := t.SigReturn(); err != nil {
		return ^uintptr(0), err
	}
	return 0, nil
}
