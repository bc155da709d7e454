package fdt

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildBlob assembles a minimal well-formed FDT blob with one root node
// carrying the given properties, for tests only.
func buildBlob(t *testing.T, props map[string][]byte) []byte {
	t.Helper()
	be := binary.BigEndian

	var strings []byte
	nameOff := map[string]uint32{}
	for name := range props {
		nameOff[name] = uint32(len(strings))
		strings = append(strings, name...)
		strings = append(strings, 0)
	}

	var structBlock []byte
	putU32 := func(v uint32) {
		b := make([]byte, 4)
		be.PutUint32(b, v)
		structBlock = append(structBlock, b...)
	}
	putAligned := func(b []byte) {
		structBlock = append(structBlock, b...)
		for len(structBlock)%4 != 0 {
			structBlock = append(structBlock, 0)
		}
	}

	putU32(TokenBeginNode)
	putAligned(append([]byte("memory@0"), 0))
	for name, val := range props {
		putU32(TokenProp)
		putU32(uint32(len(val)))
		putU32(nameOff[name])
		putAligned(val)
	}
	putU32(TokenEndNode)
	putU32(TokenEnd)

	const headerSize = 40
	offStruct := uint32(headerSize)
	offStrings := offStruct + uint32(len(structBlock))

	blob := make([]byte, headerSize)
	be.PutUint32(blob[0:4], Magic)
	be.PutUint32(blob[8:12], offStruct)
	be.PutUint32(blob[12:16], offStrings)
	be.PutUint32(blob[36:40], uint32(len(structBlock)))
	blob = append(blob, structBlock...)
	blob = append(blob, strings...)
	be.PutUint32(blob[4:8], uint32(len(blob)))

	return blob
}

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	blob := make([]byte, 40)
	_, err := ParseHeader(blob)
	require.Error(t, err)
}

func TestParseHeaderRejectsTooShort(t *testing.T) {
	_, err := ParseHeader([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestParseWalksOneNodeWithProps(t *testing.T) {
	reg := make([]byte, 16)
	binary.BigEndian.PutUint64(reg[0:8], 0x0)
	binary.BigEndian.PutUint64(reg[8:16], 0x3c000000)
	blob := buildBlob(t, map[string][]byte{"reg": reg})

	h, err := ParseHeader(blob)
	require.NoError(t, err)

	tree, err := Parse(blob, h)
	require.NoError(t, err)
	require.Len(t, tree.Nodes, 1)
	require.Equal(t, "memory@0", tree.Nodes[0].Name)

	base, size, ok := tree.MemoryReg()
	require.True(t, ok)
	require.Equal(t, uint64(0), base)
	require.Equal(t, uint64(0x3c000000), size)
}

func TestInitrdRangeFoundWhenPresent(t *testing.T) {
	start := make([]byte, 8)
	end := make([]byte, 8)
	binary.BigEndian.PutUint64(start, 0x8000000)
	binary.BigEndian.PutUint64(end, 0x8100000)
	blob := buildBlob(t, map[string][]byte{
		"linux,initrd-start": start,
		"linux,initrd-end":   end,
	})

	h, err := ParseHeader(blob)
	require.NoError(t, err)
	tree, err := Parse(blob, h)
	require.NoError(t, err)

	s, e, ok := tree.InitrdRange()
	require.True(t, ok)
	require.Equal(t, uint64(0x8000000), s)
	require.Equal(t, uint64(0x8100000), e)
}

func TestInitrdRangeAbsentReturnsFalse(t *testing.T) {
	blob := buildBlob(t, map[string][]byte{"reg": make([]byte, 16)})
	h, err := ParseHeader(blob)
	require.NoError(t, err)
	tree, err := Parse(blob, h)
	require.NoError(t, err)

	_, _, ok := tree.InitrdRange()
	require.False(t, ok)
}

func TestParseRejectsTruncatedStructBlock(t *testing.T) {
	blob := buildBlob(t, map[string][]byte{"reg": make([]byte, 16)})
	h, err := ParseHeader(blob)
	require.NoError(t, err)
	h.SizeDTStruct = 1 << 20

	_, err = Parse(blob, h)
	require.Error(t, err)
}
