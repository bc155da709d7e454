package tmpfs_test

import (
	"testing"

	"github.com/ppodds/osc2024/internal/vfs"
	"github.com/ppodds/osc2024/internal/vfs/tmpfs"
	"github.com/stretchr/testify/require"
)

func TestFileHandleGrowsOnWritePastEnd(t *testing.T) {
	v, err := vfs.New(tmpfs.Driver{})
	require.NoError(t, err)

	d, err := v.Create("/", "f", 0o644, "/")
	require.NoError(t, err)
	idx, err := v.OpenGlobal(d)
	require.NoError(t, err)
	h, err := v.Handle(idx)
	require.NoError(t, err)

	_, err = h.Seek(10, 0)
	require.NoError(t, err)
	n, err := h.Write([]byte("x"))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = h.Seek(0, 0)
	require.NoError(t, err)
	buf := make([]byte, 11)
	n, err = h.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 11, n)
	require.Equal(t, byte('x'), buf[10])
}

func TestOpenDirectoryFails(t *testing.T) {
	v, err := vfs.New(tmpfs.Driver{})
	require.NoError(t, err)
	d, err := v.Mkdir("/", "dir", 0o755, "/")
	require.NoError(t, err)
	_, err = v.OpenGlobal(d)
	require.Error(t, err)
}
