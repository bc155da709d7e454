// Package vfs implements an in-memory virtual file system: the
// superblock/inode/dentry/file-handle quartet, a name-keyed dentry
// cache, path resolution, and the process-wide open-file table with
// per-task descriptor tables layered on top.
package vfs

import (
	"strings"
	"sync"

	"github.com/ppodds/osc2024/internal/kconfig"
	"github.com/ppodds/osc2024/internal/kerror"
)

type InodeType int

const (
	TypeFile InodeType = iota
	TypeDir
	TypeDevice
)

// InodeOps is the polymorphic per-filesystem behavior an Inode delegates
// create/mkdir/open to. Lookup is folded into the core's dentry-cache
// scan since every concrete FS here populates its dentry subtree
// eagerly; there is no on-demand backing-store lookup to delegate to.
type InodeOps interface {
	Create(name string, mode uint32) (*Inode, error)
	Mkdir(name string, mode uint32) (*Inode, error)
	Open(self *Inode) (FileHandle, error)
}

// FileHandle is the (inode, byte position) pair produced by Inode.Open.
type FileHandle interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Ioctl(req int, buf []byte) (int, error)
	Close() error
}

// SuperBlock is the root of one mounted file system.
type SuperBlock struct {
	FSName string
	Root *Dentry
}

// Inode is (mode, uid, gid, three timestamps, size, back-pointer to
// super-block), polymorphic via Ops.
type Inode struct {
	Type InodeType
	Mode, UID, GID uint32
	ATime, MTime, CTime int64
	Size uint64
	SB *SuperBlock
	Ops InodeOps
}

// Dentry is (name, parent back-ref, inode back-ref, children list,
// super-block back-ref); names are unique per parent.
type Dentry struct {
	Name string
	Parent *Dentry
	Inode *Inode
	Children []*Dentry
	SB *SuperBlock
}

// dentryCache maps name -> candidate dentries; lookup by (parent, name)
// is a linear scan of the bucket comparing parent pointer identity.
type dentryCache struct {
	mu sync.Mutex
	buckets map[string][]*Dentry
}

func newDentryCache() *dentryCache {
	return &dentryCache{buckets: map[string][]*Dentry{}}
}

func (c *dentryCache) insert(d *Dentry) {
	kconfig.WithIRQsMasked(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.buckets[d.Name] = append(c.buckets[d.Name], d)
	})
}

func (c *dentryCache) find(parent *Dentry, name string) *Dentry {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cand := range c.buckets[name] {
		if cand.Parent == parent {
			return cand
		}
	}
	return nil
}

func (c *dentryCache) remove(d *Dentry) {
	kconfig.WithIRQsMasked(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		bucket := c.buckets[d.Name]
		for i, cand := range bucket {
			if cand == d {
				c.buckets[d.Name] = append(bucket[:i], bucket[i+1:]...)
				return
			}
		}
	})
}

// Rename removes d from its old name's bucket and re-adds it under
// newName.
func (v *VFS) Rename(d *Dentry, newName string) {
	v.cache.remove(d)
	d.Name = newName
	v.cache.insert(d)
}

// addDirectoryEntry wires a freshly-created child dentry into parent's
// children list and the dentry cache.
func (v *VFS) addDirectoryEntry(parent *Dentry, child *Dentry) {
	parent.Children = append(parent.Children, child)
	v.cache.insert(child)
}

// Driver is a registered file-system that produces a fresh superblock and
// root dentry when mounted.
type Driver interface {
	Mount() (*SuperBlock, *Inode, error)
}

// VFS is the process-wide file-system state: the mount table, dentry
// cache, and open-file table.
type VFS struct {
	mu sync.Mutex
	mounts map[string]*Dentry // absolute path -> mounted root dentry
	cache *dentryCache

	openFiles [kconfig.OpenFileTableSize]*openFileEntry
}

type openFileEntry struct {
	handle FileHandle
}

// New mounts root (tmpfs) at "/".
func New(root Driver) (*VFS, error) {
	sb, rootInode, err := root.Mount()
	if err != nil {
		return nil, err
	}
	rootDentry := &Dentry{Name: "", Inode: rootInode, SB: sb}
	sb.Root = rootDentry

	v := &VFS{
		mounts: map[string]*Dentry{"/": rootDentry},
		cache: newDentryCache(),
	}
	v.cache.insert(rootDentry)
	return v, nil
}

// Mount attaches driver's filesystem at the given absolute target path.
func (v *VFS) Mount(target string, driver Driver) error {
	sb, rootInode, err := driver.Mount()
	if err != nil {
		return err
	}
	rootDentry := &Dentry{Name: target, Inode: rootInode, SB: sb}
	sb.Root = rootDentry

	v.mu.Lock()
	v.mounts[target] = rootDentry
	v.mu.Unlock()
	v.cache.insert(rootDentry)
	return nil
}

func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// Lookup resolves path, starting from root if absolute or from cwd
// otherwise; "." is skipped, ".." ascends via parent (clamped at root),
// names resolve via the dentry cache.
func (v *VFS) Lookup(path, cwd string) (*Dentry, error) {
	if path == "" {
		path = "/"
	}

	v.mu.Lock()
	root := v.mounts["/"]
	v.mu.Unlock()

	cur := root
	accum := ""
	if !strings.HasPrefix(path, "/") {
		base, err := v.Lookup(cwd, "/")
		if err != nil {
			return nil, err
		}
		cur = base
		accum = cwd
	}

	for _, comp := range splitPath(path) {
		switch comp {
		case ".":
			continue
		case "..":
			if cur.Parent != nil {
				cur = cur.Parent
			}
			continue
		}
		next := v.cache.find(cur, comp)
		if next == nil {
			return nil, kerror.ErrNoSuchFileOrDirectory
		}
		cur = next
		if accum == "" || accum == "/" {
			accum = "/" + comp
		} else {
			accum = accum + "/" + comp
		}
		v.mu.Lock()
		if mounted, ok := v.mounts[accum]; ok {
			cur = mounted
		}
		v.mu.Unlock()
	}
	return cur, nil
}

// Mkdir resolves parentPath, asks its inode to allocate a child directory
// inode, and wires the resulting dentry into the tree.
func (v *VFS) Mkdir(parentPath, name string, mode uint32, cwd string) (*Dentry, error) {
	parent, err := v.Lookup(parentPath, cwd)
	if err != nil {
		return nil, err
	}
	if v.cache.find(parent, name) != nil {
		return nil, kerror.ErrExists
	}
	childInode, err := parent.Inode.Ops.Mkdir(name, mode)
	if err != nil {
		return nil, err
	}
	child := &Dentry{Name: name, Parent: parent, Inode: childInode, SB: parent.SB}
	v.addDirectoryEntry(parent, child)
	return child, nil
}

// Create resolves parentPath, asks its inode to allocate a child file
// inode, and wires the resulting dentry into the tree.
func (v *VFS) Create(parentPath, name string, mode uint32, cwd string) (*Dentry, error) {
	parent, err := v.Lookup(parentPath, cwd)
	if err != nil {
		return nil, err
	}
	if v.cache.find(parent, name) != nil {
		return nil, kerror.ErrExists
	}
	childInode, err := parent.Inode.Ops.Create(name, mode)
	if err != nil {
		return nil, err
	}
	child := &Dentry{Name: name, Parent: parent, Inode: childInode, SB: parent.SB}
	v.addDirectoryEntry(parent, child)
	return child, nil
}

// AttachInode wires a pre-built inode (e.g. a ramfs file unpacked from
// CPIO, or a devfs device node) into parent's children as name, bypassing
// parent.Inode.Ops.Create/Mkdir — used by population code that builds
// inodes directly rather than through a writable filesystem's allocator.
func (v *VFS) AttachInode(parent *Dentry, name string, inode *Inode) (*Dentry, error) {
	if v.cache.find(parent, name) != nil {
		return nil, kerror.ErrExists
	}
	child := &Dentry{Name: name, Parent: parent, Inode: inode, SB: parent.SB}
	v.addDirectoryEntry(parent, child)
	return child, nil
}

// OpenGlobal obtains a file handle from inode.Open and places it in the
// first free slot of the process-wide open-file table.
func (v *VFS) OpenGlobal(d *Dentry) (int, error) {
	h, err := d.Inode.Ops.Open(d.Inode)
	if err != nil {
		return 0, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, slot := range v.openFiles {
		if slot == nil {
			v.openFiles[i] = &openFileEntry{handle: h}
			return i, nil
		}
	}
	return 0, kerror.ErrTableFull
}

// CloseGlobal removes and invokes handle.Close() for the open-file table
// slot idx.
func (v *VFS) CloseGlobal(idx int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if idx < 0 || idx >= len(v.openFiles) || v.openFiles[idx] == nil {
		return kerror.ErrBadFD
	}
	slot := v.openFiles[idx]
	v.openFiles[idx] = nil
	return slot.handle.Close()
}

// Handle returns the handle stored at the global open-file index idx.
func (v *VFS) Handle(idx int) (FileHandle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if idx < 0 || idx >= len(v.openFiles) || v.openFiles[idx] == nil {
		return nil, kerror.ErrBadFD
	}
	return v.openFiles[idx].handle, nil
}

// FDTable is a task's small table mapping int FDs to indices in the
// global open-file table.
type FDTable struct {
	mu sync.Mutex
	fds [kconfig.MaxFDsPerTask]int // -1 = free
}

func NewFDTable() *FDTable {
	t := &FDTable{}
	for i := range t.fds {
		t.fds[i] = -1
	}
	return t
}

// Clone copies fd -> global-index mappings into a fresh table, so a
// forked child shares open-file positions with its parent the way
// POSIX fork duplicates file descriptors.
func (t *FDTable) Clone() *FDTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := &FDTable{fds: t.fds}
	return c
}

// Install places globalIdx in the first free FD slot and returns the fd.
func (t *FDTable) Install(globalIdx int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for fd, v := range t.fds {
		if v == -1 {
			t.fds[fd] = globalIdx
			return fd, nil
		}
	}
	return -1, kerror.ErrTableFull
}

// Resolve maps fd to its global open-file index.
func (t *FDTable) Resolve(fd int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd < 0 || fd >= len(t.fds) || t.fds[fd] == -1 {
		return 0, kerror.ErrBadFD
	}
	return t.fds[fd], nil
}

// Release frees fd, returning the global index it pointed to.
func (t *FDTable) Release(fd int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd < 0 || fd >= len(t.fds) || t.fds[fd] == -1 {
		return 0, kerror.ErrBadFD
	}
	idx := t.fds[fd]
	t.fds[fd] = -1
	return idx, nil
}
