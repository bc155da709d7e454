// Package tmpfs implements an in-memory writable file system: file
// content stored as a lazily-allocated owned byte vector in the inode;
// read/write copy
// between this vector and user buffers with position tracking;
// mkdir/create allocate new inodes wired into the dentry tree by
// internal/vfs's core Mkdir/Create.
package tmpfs

import (
	"github.com/ppodds/osc2024/internal/kerror"
	"github.com/ppodds/osc2024/internal/vfs"
)

// Driver mounts a fresh, empty tmpfs root directory.
type Driver struct{}

func (Driver) Mount() (*vfs.SuperBlock, *vfs.Inode, error) {
	sb := &vfs.SuperBlock{FSName: "tmpfs"}
	root := &vfs.Inode{Type: vfs.TypeDir, Mode: 0o755, SB: sb}
	root.Ops = &ops{inode: root}
	return sb, root, nil
}

// ops is the InodeOps implementation shared by every tmpfs inode.
type ops struct {
	inode *vfs.Inode
	content []byte // owned, lazily allocated; nil until first write
}

func (o *ops) Create(name string, mode uint32) (*vfs.Inode, error) {
	n := &vfs.Inode{Type: vfs.TypeFile, Mode: mode, SB: o.inode.SB}
	n.Ops = &ops{inode: n}
	return n, nil
}

func (o *ops) Mkdir(name string, mode uint32) (*vfs.Inode, error) {
	n := &vfs.Inode{Type: vfs.TypeDir, Mode: mode, SB: o.inode.SB}
	n.Ops = &ops{inode: n}
	return n, nil
}

func (o *ops) Open(self *vfs.Inode) (vfs.FileHandle, error) {
	if self.Type != vfs.TypeFile {
		return nil, kerror.ErrIsADirectory
	}
	return &fileHandle{ops: o}, nil
}

type fileHandle struct {
	ops *ops
	pos int64
}

func (f *fileHandle) Read(buf []byte) (int, error) {
	if f.pos >= int64(len(f.ops.content)) {
		return 0, nil
	}
	n := copy(buf, f.ops.content[f.pos:])
	f.pos += int64(n)
	return n, nil
}

func (f *fileHandle) Write(buf []byte) (int, error) {
	end := f.pos + int64(len(buf))
	if end > int64(len(f.ops.content)) {
		grown := make([]byte, end)
		copy(grown, f.ops.content)
		f.ops.content = grown
		f.ops.inode.Size = uint64(end)
	}
	n := copy(f.ops.content[f.pos:end], buf)
	f.pos += int64(n)
	return n, nil
}

func (f *fileHandle) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case 0:
		base = 0
	case 1:
		base = f.pos
	case 2:
		base = int64(len(f.ops.content))
	default:
		return 0, kerror.ErrInvalidArgument
	}
	np := base + offset
	if np < 0 {
		return 0, kerror.ErrInvalidArgument
	}
	f.pos = np
	return np, nil
}

func (f *fileHandle) Ioctl(req int, buf []byte) (int, error) {
	return 0, kerror.ErrNotSupported
}

func (f *fileHandle) Close() error { return nil }
