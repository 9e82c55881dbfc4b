// Package yuv converts multi-plane camera samples into a single contiguous
// semi-planar 4:2:0 buffer (full-resolution luma followed by interleaved
// half-resolution chroma pairs).
package yuv

import (
	"errors"
	"fmt"
	"strings"
)

// neutralChroma is the mid-value written when chroma cannot be recovered.
const neutralChroma = 128

// ErrInvalidSample is returned for samples that cannot be converted at all.
var ErrInvalidSample = errors.New("invalid sample")

// Format tags the pixel layout a device reports for a sample.
type Format int

// Sample formats.
const (
	FormatUnknown Format = iota
	FormatYUV420
)

func (f Format) String() string {
	switch f {
	case FormatYUV420:
		return "yuv420"
	default:
		return "unknown"
	}
}

// Plane is one buffer of a RawSample with its stride metadata.
type Plane struct {
	Data        []byte
	RowStride   int
	PixelStride int
}

// RawSample is a frame as delivered by a capture device.
// Planes are ordered Y, U, V for three-plane samples and Y, chroma for
// two-plane samples.
type RawSample struct {
	Width  int
	Height int
	Format Format
	Planes []Plane
}

// ChromaOrder selects which chroma channel comes first in each interleaved pair.
type ChromaOrder int

// Chroma orders.
const (
	ChromaVU ChromaOrder = iota // NV21
	ChromaUV                    // NV12
)

func (o ChromaOrder) String() string {
	if o == ChromaUV {
		return "uv"
	}
	return "vu"
}

// ParseChromaOrder parses "vu"/"nv21" or "uv"/"nv12".
func ParseChromaOrder(s string) (ChromaOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "vu", "nv21":
		return ChromaVU, nil
	case "uv", "nv12":
		return ChromaUV, nil
	default:
		return ChromaVU, fmt.Errorf("unknown chroma order %q", s)
	}
}

// Frame is a contiguous semi-planar buffer: width*height luma bytes followed
// by width*height/2 bytes of interleaved chroma.
type Frame struct {
	Width       int
	Height      int
	Data        []byte
	ChromaOrder ChromaOrder
}

// FrameSize returns the exact buffer length of a Frame with the given dimensions.
func FrameSize(width, height int) int {
	return width*height + width*height/2
}

// Luma returns the luma region of the frame.
func (f Frame) Luma() []byte {
	return f.Data[:f.Width*f.Height]
}

// Chroma returns the interleaved chroma region of the frame.
func (f Frame) Chroma() []byte {
	return f.Data[f.Width*f.Height:]
}

// Clone returns a deep copy of the frame.
func (f Frame) Clone() Frame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	f.Data = data
	return f
}
