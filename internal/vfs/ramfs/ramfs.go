// Package ramfs implements a read-only file system over the unpacked
// initramfs: content is the slice handed to NewFileInode (cpio.Parse's
// copy of the entry's bytes), held without copying; writes are not
// supported. Mount only builds the root inode — the
// caller attaches the rest of the decoded archive into the tree
// afterward, since populating dentries needs the owning *vfs.VFS.
package ramfs

import (
	"github.com/ppodds/osc2024/internal/kerror"
	"github.com/ppodds/osc2024/internal/vfs"
)

// Driver mounts a bare ramfs root; the Mount interface has no access to
// the *vfs.VFS doing the mounting, so it can't wire dentries itself — the
// caller populates the tree afterward via vfs.AttachInode (see
// cmd/ppos/kernel.go's mountRamfs), the same way NewDirInode/NewFileInode
// are built.
type Driver struct{}

func (d Driver) Mount() (*vfs.SuperBlock, *vfs.Inode, error) {
	sb := &vfs.SuperBlock{FSName: "ramfs"}
	root := &vfs.Inode{Type: vfs.TypeDir, Mode: 0o555, SB: sb}
	root.Ops = roDirOps{}
	return sb, root, nil
}

// roDirOps backs every ramfs directory inode: Create/Mkdir always fail,
// since ramfs is read-only.
type roDirOps struct{}

func (roDirOps) Create(name string, mode uint32) (*vfs.Inode, error) {
	return nil, kerror.ErrNotSupported
}

func (roDirOps) Mkdir(name string, mode uint32) (*vfs.Inode, error) {
	return nil, kerror.ErrNotSupported
}

func (roDirOps) Open(self *vfs.Inode) (vfs.FileHandle, error) {
	return nil, kerror.ErrIsADirectory
}

// roFileOps backs every ramfs file inode, holding the borrowed CPIO
// content slice.
type roFileOps struct{ content []byte }

func (roFileOps) Create(name string, mode uint32) (*vfs.Inode, error) {
	return nil, kerror.ErrNotSupported
}

func (roFileOps) Mkdir(name string, mode uint32) (*vfs.Inode, error) {
	return nil, kerror.ErrNotSupported
}

func (o roFileOps) Open(self *vfs.Inode) (vfs.FileHandle, error) {
	return &fileHandle{content: o.content}, nil
}

// NewDirInode builds an intermediate directory inode for a path
// component the archive never stored an explicit record for (CPIO
// archives commonly list only leaf files); population code attaches
// these via vfs.AttachInode the same way it attaches file inodes.
func NewDirInode(sb *vfs.SuperBlock) *vfs.Inode {
	n := &vfs.Inode{Type: vfs.TypeDir, Mode: 0o555, SB: sb}
	n.Ops = roDirOps{}
	return n
}

// NewFileInode wraps a borrowed content slice from the CPIO archive.
func NewFileInode(sb *vfs.SuperBlock, content []byte, mode uint32) *vfs.Inode {
	n := &vfs.Inode{Type: vfs.TypeFile, Mode: mode, Size: uint64(len(content)), SB: sb}
	n.Ops = roFileOps{content: content}
	return n
}

type fileHandle struct {
	content []byte
	pos int64
}

func (f *fileHandle) Read(buf []byte) (int, error) {
	if f.pos >= int64(len(f.content)) {
		return 0, nil
	}
	n := copy(buf, f.content[f.pos:])
	f.pos += int64(n)
	return n, nil
}

func (f *fileHandle) Write(buf []byte) (int, error) {
	return 0, kerror.ErrNotSupported
}

func (f *fileHandle) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case 0:
		base = 0
	case 1:
		base = f.pos
	case 2:
		base = int64(len(f.content))
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
