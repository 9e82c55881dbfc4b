//go:build linux

package v4l2

import "unsafe"

// Compile-time struct size assertions. The enumeration structs have the same
// layout on 32-bit and 64-bit kernels.
var (
	_ [104]byte = [unsafe.Sizeof(capability{})]byte{}
	_ [64]byte  = [unsafe.Sizeof(fmtdesc{})]byte{}
	_ [24]byte  = [unsafe.Sizeof(frmsizeStepwise{})]byte{}
	_ [44]byte  = [unsafe.Sizeof(frmsizeenum{})]byte{}
	_ [52]byte  = [unsafe.Sizeof(frmivalenum{})]byte{}
)

const (
	vidiocQuerycap           = 0x80685600
	vidiocEnumFmt            = 0xc0405602
	vidiocEnumFramesizes     = 0xc02c564a
	vidiocEnumFrameintervals = 0xc034564b
)

const (
	capVideoCapture = 0x00000001
	capDeviceCaps   = 0x80000000

	fmtFlagEmulated = 0x0002

	bufTypeVideoCapture = 1

	frmsizeTypeDiscrete   = 1
	frmsizeTypeContinuous = 2
	frmsizeTypeStepwise   = 3

	frmivalTypeDiscrete   = 1
	frmivalTypeContinuous = 2
	frmivalTypeStepwise   = 3
)

type capability struct {
	driver       [16]byte  // offset 0
	card         [32]byte  // offset 16
	busInfo      [32]byte  // offset 48
	version      uint32    // offset 80
	capabilities uint32    // offset 84
	deviceCaps   uint32    // offset 88
	reserved     [3]uint32 // offset 92
}

type fmtdesc struct {
	index       uint32    // offset 0
	typ         uint32    // offset 4
	flags       uint32    // offset 8
	description [32]byte  // offset 12
	pixelformat uint32    // offset 44
	mbusCode    uint32    // offset 48
	reserved    [3]uint32 // offset 52
}

type frmsizeDiscrete struct {
	width  uint32
	height uint32
}

type frmsizeStepwise struct {
	minWidth   uint32
	maxWidth   uint32
	stepWidth  uint32
	minHeight  uint32
	maxHeight  uint32
	stepHeight uint32
}

type frmsizeenum struct {
	index       uint32          // offset 0
	pixelFormat uint32          // offset 4
	typ         uint32          // offset 8
	discrete    frmsizeDiscrete // offset 12 (union with stepwise)
	_           [16]byte        // rest of the stepwise union
	reserved    [2]uint32       // offset 36
}

func (f *frmsizeenum) stepwise() *frmsizeStepwise {
	return (*frmsizeStepwise)(unsafe.Pointer(&f.discrete))
}

type fract struct {
	numerator   uint32
	denominator uint32
}

type frmivalenum struct {
	index       uint32    // offset 0
	pixelFormat uint32    // offset 4
	width       uint32    // offset 8
	height      uint32    // offset 12
	typ         uint32    // offset 16
	discrete    fract     // offset 20 (union with stepwise)
	_           [16]byte  // rest of the stepwise union
	reserved    [2]uint32 // offset 44
}
