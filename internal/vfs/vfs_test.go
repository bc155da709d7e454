package vfs_test

import (
	"testing"

	"github.com/ppodds/osc2024/internal/vfs"
	"github.com/ppodds/osc2024/internal/vfs/ramfs"
	"github.com/ppodds/osc2024/internal/vfs/tmpfs"
	"github.com/stretchr/testify/require"
)

func newTestVFS(t *testing.T) *vfs.VFS {
	t.Helper()
	v, err := vfs.New(tmpfs.Driver{})
	require.NoError(t, err)
	return v
}

func TestMkdirCreateAndLookup(t *testing.T) {
	v := newTestVFS(t)

	_, err := v.Mkdir("/", "home", 0o755, "/")
	require.NoError(t, err)
	_, err = v.Create("/home", "notes.txt", 0o644, "/")
	require.NoError(t, err)

	d, err := v.Lookup("/home/notes.txt", "/")
	require.NoError(t, err)
	require.Equal(t, "notes.txt", d.Name)
}

// Property 10: lookup of a missing component fails with
// kerror.ErrNoSuchFileOrDirectory.
func TestLookupMissingComponentFails(t *testing.T) {
	v := newTestVFS(t)
	_, err := v.Lookup("/nope/nothing", "/")
	require.Error(t, err)
}

func TestDotDotAscendsClampedAtRoot(t *testing.T) {
	v := newTestVFS(t)
	_, err := v.Mkdir("/", "a", 0o755, "/")
	require.NoError(t, err)
	_, err = v.Mkdir("/a", "b", 0o755, "/")
	require.NoError(t, err)

	d, err := v.Lookup("/a/b/../..//..", "/")
	require.NoError(t, err)
	require.Equal(t, "", d.Name, "ascending past root must clamp, not error")
}

func TestRelativeLookupUsesCwd(t *testing.T) {
	v := newTestVFS(t)
	_, err := v.Mkdir("/", "a", 0o755, "/")
	require.NoError(t, err)
	_, err = v.Create("/a", "f", 0o644, "/")
	require.NoError(t, err)

	d, err := v.Lookup("f", "/a")
	require.NoError(t, err)
	require.Equal(t, "f", d.Name)
}

func TestMkdirRejectsDuplicateName(t *testing.T) {
	v := newTestVFS(t)
	_, err := v.Mkdir("/", "dup", 0o755, "/")
	require.NoError(t, err)
	_, err = v.Mkdir("/", "dup", 0o755, "/")
	require.Error(t, err)
}

// Property 11: the global open-file table hands out the first free slot
// and close() frees it for reuse.
func TestOpenGlobalReusesFreedSlot(t *testing.T) {
	v := newTestVFS(t)
	d, err := v.Create("/", "f", 0o644, "/")
	require.NoError(t, err)

	idx1, err := v.OpenGlobal(d)
	require.NoError(t, err)
	require.NoError(t, v.CloseGlobal(idx1))

	idx2, err := v.OpenGlobal(d)
	require.NoError(t, err)
	require.Equal(t, idx1, idx2, "closing must free the slot for the next open")
}

// Property 12: per-task fd table maps small ints to global open-file
// indices, independent across tasks.
func TestFDTableIndependentPerTask(t *testing.T) {
	v := newTestVFS(t)
	d, err := v.Create("/", "shared", 0o644, "/")
	require.NoError(t, err)
	idx, err := v.OpenGlobal(d)
	require.NoError(t, err)

	fdsA := vfs.NewFDTable()
	fdsB := vfs.NewFDTable()

	fdA, err := fdsA.Install(idx)
	require.NoError(t, err)
	fdB, err := fdsB.Install(idx)
	require.NoError(t, err)
	require.Equal(t, fdA, fdB, "both tables start from fd 0 independently")

	gotA, err := fdsA.Resolve(fdA)
	require.NoError(t, err)
	require.Equal(t, idx, gotA)

	_, err = fdsB.Release(fdB)
	require.NoError(t, err)
	_, err = fdsB.Resolve(fdB)
	require.Error(t, err)

	gotA, err = fdsA.Resolve(fdA)
	require.NoError(t, err, "releasing B's fd must not affect A's table")
	require.Equal(t, idx, gotA)
}

func TestWriteThenReadRoundTripsThroughTmpfs(t *testing.T) {
	v := newTestVFS(t)
	d, err := v.Create("/", "data.bin", 0o644, "/")
	require.NoError(t, err)
	idx, err := v.OpenGlobal(d)
	require.NoError(t, err)
	h, err := v.Handle(idx)
	require.NoError(t, err)

	n, err := h.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	_, err = h.Seek(0, 0)
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err = h.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestMountAttachesRamfsAtTarget(t *testing.T) {
	v := newTestVFS(t)
	_, err := v.Mkdir("/", "initramfs", 0o755, "/")
	require.NoError(t, err)
	require.NoError(t, v.Mount("/initramfs", ramfs.Driver{}))

	ramRoot, err := v.Lookup("/initramfs", "/")
	require.NoError(t, err)

	fileInode := ramfs.NewFileInode(ramRoot.SB, []byte("payload"), 0o444)
	_, err = v.AttachInode(ramRoot, "init", fileInode)
	require.NoError(t, err)

	d, err := v.Lookup("/initramfs/init", "/")
	require.NoError(t, err)
	idx, err := v.OpenGlobal(d)
	require.NoError(t, err)
	h, err := v.Handle(idx)
	require.NoError(t, err)

	buf := make([]byte, 7)
	n, err := h.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "payload", string(buf[:n]))

	_, err = h.Write([]byte("x"))
	require.Error(t, err, "ramfs must reject writes")
}
