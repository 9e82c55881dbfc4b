// Package edge implements the grayscale and Sobel edge-detection transform
// over RGBA pixel buffers.
package edge

import (
	"errors"
	"fmt"
	"math"
)

// Threshold is the gradient magnitude above which a pixel is marked as an edge.
const Threshold = 50

// ErrBufferSize is returned when a pixel buffer does not match its dimensions.
var ErrBufferSize = errors.New("pixel buffer size mismatch")

// Apply returns a new RGBA buffer holding the grayscale image, or the binary
// Sobel edge map of it when enabled is true. Alpha is copied unchanged and
// the one-pixel border keeps its grayscale value. The input is not modified.
func Apply(pix []byte, width, height int, enabled bool) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrBufferSize, width, height)
	}
	if len(pix) != width*height*4 {
		return nil, fmt.Errorf("%w: got %d bytes for %dx%d", ErrBufferSize, len(pix), width, height)
	}

	out := make([]byte, len(pix))
	gray := make([]uint8, width*height)

	for i := range gray {
		o := i * 4
		g := toByte(0.299*float64(pix[o]) + 0.587*float64(pix[o+1]) + 0.114*float64(pix[o+2]))
		gray[i] = g
		out[o], out[o+1], out[o+2], out[o+3] = g, g, g, pix[o+3]
	}

	if !enabled || width < 3 || height < 3 {
		return out, nil
	}

	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			var v uint8
			if magnitude(gray, width, x, y) > Threshold {
				v = 255
			}
			o := (y*width + x) * 4
			out[o], out[o+1], out[o+2] = v, v, v
		}
	}

	return out, nil
}

// magnitude evaluates both 3x3 Sobel kernels around (x, y).
func magnitude(gray []uint8, width, x, y int) float64 {
	at := func(dx, dy int) int {
		return int(gray[(y+dy)*width+x+dx])
	}

	gx := -at(-1, -1) + at(1, -1) +
		-2*at(-1, 0) + 2*at(1, 0) +
		-at(-1, 1) + at(1, 1)
	gy := -at(-1, -1) - 2*at(0, -1) - at(1, -1) +
		at(-1, 1) + 2*at(0, 1) + at(1, 1)

	return math.Sqrt(float64(gx*gx + gy*gy))
}

// toByte clamps and rounds half to even, the way clamped byte arrays store floats.
func toByte(v float64) uint8 {
	r := math.RoundToEven(v)
	switch {
	case r <= 0:
		return 0
	case r >= 255:
		return 255
	default:
		return uint8(r)
	}
}
