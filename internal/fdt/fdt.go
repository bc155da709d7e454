// Package fdt parses the flattened-devicetree blob the bootloader hands
// the kernel in x0: the bigendian header, the structure
// block's BEGIN_NODE/END_NODE/PROP/NOP/END token stream, and the handful
// of properties the kernel reads (memory@0/reg, linux,initrd-{start,end}).
// The memory reservation block and reserved-memory nodes are not read.
package fdt

import (
	"encoding/binary"

	"github.com/ppodds/osc2024/internal/kerror"
)

const Magic = 0xd00dfeed

const (
	TokenBeginNode = 1
	TokenEndNode = 2
	TokenProp = 3
	TokenNop = 4
	TokenEnd = 9
)

// Header is the 40-byte bigendian FDT header.
type Header struct {
	Magic uint32
	TotalSize uint32
	OffDTStruct uint32
	OffDTStrings uint32
	OffMemRsvMap uint32
	Version uint32
	LastCompVersion uint32
	BootCPUIDPhys uint32
	SizeDTStrings uint32
	SizeDTStruct uint32
}

func ParseHeader(blob []byte) (Header, error) {
	if len(blob) < 40 {
		return Header{}, kerror.ErrInvalidArgument
	}
	be := binary.BigEndian
	h := Header{
		Magic: be.Uint32(blob[0:4]),
		TotalSize: be.Uint32(blob[4:8]),
		OffDTStruct: be.Uint32(blob[8:12]),
		OffDTStrings: be.Uint32(blob[12:16]),
		OffMemRsvMap: be.Uint32(blob[16:20]),
		Version: be.Uint32(blob[20:24]),
		LastCompVersion: be.Uint32(blob[24:28]),
		BootCPUIDPhys: be.Uint32(blob[28:32]),
		SizeDTStrings: be.Uint32(blob[32:36]),
		SizeDTStruct: be.Uint32(blob[36:40]),
	}
	if h.Magic != Magic {
		return Header{}, kerror.ErrInvalidArgument
	}
	return h, nil
}

// Node is one devicetree node with its direct properties (children are
// not retained — the kernel only ever needs a handful of named
// properties, found by a flat walk).
type Node struct {
	Name string
	Props map[string][]byte
}

// Tree is the parsed structure block: every node encountered, in
// document order, flattened.
type Tree struct {
	Nodes []Node
}

func align4(off int) int { return (off + 3) &^ 3 }

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Parse walks the structure block starting at h.OffDTStruct, producing a
// flat Tree. Unknown/garbled streams fail closed with
// kerror.ErrInvalidArgument rather than reading out of bounds.
func Parse(blob []byte, h Header) (*Tree, error) {
	off := int(h.OffDTStruct)
	end := off + int(h.SizeDTStruct)
	if end > len(blob) {
		return nil, kerror.ErrInvalidArgument
	}
	be := binary.BigEndian
	strings := blob[h.OffDTStrings:]

	tree := &Tree{}
	var stack []*Node

	for off < end {
		if off+4 > len(blob) {
			return nil, kerror.ErrInvalidArgument
		}
		token := be.Uint32(blob[off : off+4])
		off += 4

		switch token {
		case TokenBeginNode:
			nameEnd := off
			for nameEnd < len(blob) && blob[nameEnd] != 0 {
				nameEnd++
			}
			n := Node{Name: string(blob[off:nameEnd]), Props: map[string][]byte{}}
			off = align4(nameEnd + 1)
			tree.Nodes = append(tree.Nodes, n)
			stack = append(stack, &tree.Nodes[len(tree.Nodes)-1])

		case TokenEndNode:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}

		case TokenProp:
			if off+8 > len(blob) {
				return nil, kerror.ErrInvalidArgument
			}
			length := be.Uint32(blob[off : off+4])
			nameOff := be.Uint32(blob[off+4 : off+8])
			off += 8
			if off+int(length) > len(blob) {
				return nil, kerror.ErrInvalidArgument
			}
			val := blob[off : off+int(length)]
			off = align4(off + int(length))

			name := cString(strings[nameOff:])
			if len(stack) > 0 {
				stack[len(stack)-1].Props[name] = val
			}

		case TokenNop:
			// no-op, nothing to advance beyond the token itself

		case TokenEnd:
			return tree, nil

		default:
			return nil, kerror.ErrInvalidArgument
		}
	}
	return tree, nil
}

// InitrdRange reads linux,initrd-start/-end (big-endian u64 or u32
// depending on producer; both are tried) from any node that carries them.
func (t *Tree) InitrdRange() (start, end uint64, ok bool) {
	for _, n := range t.Nodes {
		s, sok := n.Props["linux,initrd-start"]
		e, eok := n.Props["linux,initrd-end"]
		if sok && eok {
			return beUint(s), beUint(e), true
		}
	}
	return 0, 0, false
}

// MemoryReg reads memory@0's reg property: (base, size) pairs.
func (t *Tree) MemoryReg() (base, size uint64, ok bool) {
	for _, n := range t.Nodes {
		if n.Name != "memory@0" && n.Name != "memory" {
			continue
		}
		reg, rok := n.Props["reg"]
		if !rok || len(reg) < 16 {
			continue
		}
		return beUint(reg[0:8]), beUint(reg[8:16]), true
	}
	return 0, 0, false
}

func beUint(b []byte) uint64 {
	switch len(b) {
	case 4:
		return uint64(binary.BigEndian.Uint32(b))
	case 8:
		return binary.BigEndian.Uint64(b)
	default:
		return 0
	}
}
