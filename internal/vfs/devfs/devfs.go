// Package devfs implements the device-file inodes hosted under /dev: a
// UART file whose read bypasses the buffered async driver mode and
// spins, and a framebuffer file bounded by the inode's recorded size.
// Both are built over small injectable backends so they are
// host-testable without the real MMIO binding layer.
package devfs

import (
	"github.com/ppodds/osc2024/internal/kerror"
	"github.com/ppodds/osc2024/internal/vfs"
)

// UARTBackend is the minimal surface devfs needs from the mini-UART
// driver: synchronous, blocking byte I/O plus the buffered/async mode
// toggle the device file switches around a raw read.
type UARTBackend interface {
	ReadByte() byte // blocks until a byte is available
	WriteByte(b byte)
	SetAsyncMode(enabled bool)
}

// NewUARTInode builds a device-type inode whose Open returns a handle
// that spins reading characters up to len, restoring async mode
// afterward, and whose writes forward to the console.
func NewUARTInode(sb *vfs.SuperBlock, backend UARTBackend) *vfs.Inode {
	n := &vfs.Inode{Type: vfs.TypeDevice, Mode: 0o666, SB: sb}
	n.Ops = uartOps{backend: backend}
	return n
}

type uartOps struct{ backend UARTBackend }

func (uartOps) Create(name string, mode uint32) (*vfs.Inode, error) {
	return nil, kerror.ErrNotSupported
}
func (uartOps) Mkdir(name string, mode uint32) (*vfs.Inode, error) {
	return nil, kerror.ErrNotSupported
}
func (o uartOps) Open(self *vfs.Inode) (vfs.FileHandle, error) {
	return &uartHandle{backend: o.backend}, nil
}

type uartHandle struct{ backend UARTBackend }

// Read bypasses buffered async mode and spins reading characters into buf
// up to len(buf), then restores async mode.
func (h *uartHandle) Read(buf []byte) (int, error) {
	h.backend.SetAsyncMode(false)
	defer h.backend.SetAsyncMode(true)
	for i := range buf {
		buf[i] = h.backend.ReadByte()
	}
	return len(buf), nil
}

func (h *uartHandle) Write(buf []byte) (int, error) {
	for _, b := range buf {
		h.backend.WriteByte(b)
	}
	return len(buf), nil
}

// Seek is inert bookkeeping: a character device's writes ignore
// position, so lseek64 on a UART has nowhere meaningful to move.
func (h *uartHandle) Seek(offset int64, whence int) (int64, error) { return 0, nil }

func (h *uartHandle) Ioctl(req int, buf []byte) (int, error) {
	return 0, kerror.ErrNotSupported
}

func (h *uartHandle) Close() error { return nil }

// FramebufferBackend is the minimal surface devfs needs from the
// framebuffer driver: the MMIO-mapped pixel buffer as a byte slice.
type FramebufferBackend interface {
	Pixels() []byte
}

// NewFramebufferInode builds a device-type inode whose handle reads/writes
// against the pixel buffer, bounded by the inode-recorded size.
func NewFramebufferInode(sb *vfs.SuperBlock, backend FramebufferBackend) *vfs.Inode {
	n := &vfs.Inode{Type: vfs.TypeDevice, Mode: 0o666, SB: sb, Size: uint64(len(backend.Pixels()))}
	n.Ops = fbOps{backend: backend}
	return n
}

type fbOps struct{ backend FramebufferBackend }

func (fbOps) Create(name string, mode uint32) (*vfs.Inode, error) {
	return nil, kerror.ErrNotSupported
}
func (fbOps) Mkdir(name string, mode uint32) (*vfs.Inode, error) {
	return nil, kerror.ErrNotSupported
}
func (o fbOps) Open(self *vfs.Inode) (vfs.FileHandle, error) {
	return &fbHandle{pixels: o.backend.Pixels(), size: int64(self.Size)}, nil
}

type fbHandle struct {
	pixels []byte
	size int64
	pos int64
}

func (h *fbHandle) Read(buf []byte) (int, error) {
	if h.pos >= h.size {
		return 0, nil
	}
	end := h.pos + int64(len(buf))
	if end > h.size {
		end = h.size
	}
	n := copy(buf, h.pixels[h.pos:end])
	h.pos += int64(n)
	return n, nil
}

func (h *fbHandle) Write(buf []byte) (int, error) {
	if h.pos >= h.size {
		return 0, nil
	}
	end := h.pos + int64(len(buf))
	if end > h.size {
		end = h.size
	}
	n := copy(h.pixels[h.pos:end], buf)
	h.pos += int64(n)
	return n, nil
}

func (h *fbHandle) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case 0:
		base = 0
	case 1:
		base = h.pos
	case 2:
		base = h.size
	default:
		return 0, kerror.ErrInvalidArgument
	}
	np := base + offset
	if np < 0 || np > h.size {
		return 0, kerror.ErrInvalidArgument
	}
	h.pos = np
	return np, nil
}

func (h *fbHandle) Ioctl(req int, buf []byte) (int, error) {
	return 0, kerror.ErrNotSupported
}

func (h *fbHandle) Close() error { return nil }
