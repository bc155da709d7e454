package bitfield

// FrameFlags is the packed metadata word for one physical frame. Order
// is the buddy order the frame currently heads (meaningful only while
// Free), Reserved
// marks frames carved out by buddy.Reserve before any Alloc, and InUse
// distinguishes a frame handed to a caller from one merely sitting in a
// freelist bucket of the wrong order during a merge.
type FrameFlags struct {
	Free     bool   `bitfield:",1"`
	Reserved bool   `bitfield:",1"`
	InUse    bool   `bitfield:",1"`
	Order    uint32 `bitfield:",5"`
}

var frameFlagsConfig = &Config{NumBits: 32}

func PackFrameFlags(f FrameFlags) uint32 {
	packed, _ := Pack(f, frameFlagsConfig)
	return uint32(packed)
}

func UnpackFrameFlags(packed uint32) FrameFlags {
	var f FrameFlags
	_ = Unpack(uint64(packed), &f)
	return f
}
