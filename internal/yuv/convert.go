package yuv

import "fmt"

// Converter turns RawSamples into Frames with a fixed chroma order.
// It holds no per-frame state and is safe for concurrent use.
type Converter struct {
	order ChromaOrder
}

// NewConverter creates a converter producing frames in the given chroma order.
func NewConverter(order ChromaOrder) *Converter {
	return &Converter{order: order}
}

// Order returns the chroma order of produced frames.
func (c *Converter) Order() ChromaOrder {
	return c.order
}

// Convert copies the sample into a new contiguous Frame.
//
// Luma padding is stripped. Interleaved chroma (pixel stride 2) is copied row
// by row for height/2 rows, truncated to whatever the source plane holds.
// Any other chroma layout is replaced by neutral grey so luma stays intact.
// Convert never reads past a plane or writes past the destination.
func (c *Converter) Convert(s *RawSample) (Frame, error) {
	if s == nil {
		return Frame{}, fmt.Errorf("%w: nil sample", ErrInvalidSample)
	}
	if s.Width <= 0 || s.Height <= 0 {
		return Frame{}, fmt.Errorf("%w: dimensions %dx%d", ErrInvalidSample, s.Width, s.Height)
	}
	if len(s.Planes) == 0 {
		return Frame{}, fmt.Errorf("%w: no planes", ErrInvalidSample)
	}

	w, h := s.Width, s.Height
	out := make([]byte, FrameSize(w, h))

	copyLuma(out[:w*h], s.Planes[0], w, h)

	chroma := out[w*h:]
	if src, ok := c.chromaSource(s.Planes); ok {
		copyInterleaved(chroma, src, w, h/2)
	} else {
		for i := range chroma {
			chroma[i] = neutralChroma
		}
	}

	return Frame{Width: w, Height: h, Data: out, ChromaOrder: c.order}, nil
}

// chromaSource picks the plane whose first byte is the leading channel of the
// configured order, if that plane is interleaved.
func (c *Converter) chromaSource(planes []Plane) (Plane, bool) {
	var p Plane
	switch len(planes) {
	case 2:
		p = planes[1]
	case 3:
		if c.order == ChromaUV {
			p = planes[1]
		} else {
			p = planes[2]
		}
	default:
		return Plane{}, false
	}
	if p.PixelStride != 2 || p.RowStride <= 0 {
		return Plane{}, false
	}
	return p, true
}

func copyLuma(dst []byte, p Plane, w, h int) {
	if p.PixelStride > 1 {
		for row := 0; row < h; row++ {
			for col := 0; col < w; col++ {
				idx := row*p.RowStride + col*p.PixelStride
				if idx >= len(p.Data) {
					return
				}
				dst[row*w+col] = p.Data[idx]
			}
		}
		return
	}

	if p.RowStride == w || p.RowStride <= 0 {
		copy(dst, p.Data)
		return
	}

	for row := 0; row < h; row++ {
		offset := row * p.RowStride
		if offset >= len(p.Data) {
			return
		}
		end := min(offset+w, len(p.Data))
		copy(dst[row*w:(row+1)*w], p.Data[offset:end])
	}
}

func copyInterleaved(dst []byte, p Plane, w, rows int) {
	for row := 0; row < rows; row++ {
		offset := row * p.RowStride
		if offset >= len(p.Data) {
			return
		}
		n := min(w, len(p.Data)-offset)
		start := row * w
		if start >= len(dst) {
			return
		}
		n = min(n, len(dst)-start)
		copy(dst[start:start+n], p.Data[offset:offset+n])
	}
}
