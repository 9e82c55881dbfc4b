package edge

import (
	"fmt"
	"image"

	"github.com/smazurov/edgerelay/internal/yuv"
	"golang.org/x/image/draw"
)

// DefaultOutputWidth is the width every processed frame is scaled to.
const DefaultOutputWidth = 480

// Processed is an RGBA frame ready for display or upload.
type Processed struct {
	Width  int
	Height int
	Pix    []byte
}

// Clone returns a copy that shares no memory with p.
func (p Processed) Clone() Processed {
	pix := make([]byte, len(p.Pix))
	copy(pix, p.Pix)
	return Processed{Width: p.Width, Height: p.Height, Pix: pix}
}

// Image wraps the pixels as an *image.RGBA without copying.
func (p Processed) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    p.Pix,
		Stride: p.Width * 4,
		Rect:   image.Rect(0, 0, p.Width, p.Height),
	}
}

// Transformer is the per-frame processing boundary: a semi-planar frame in,
// an RGBA frame at the fixed output width out.
type Transformer interface {
	Transform(frame yuv.Frame, enabled bool) (Processed, error)
}

// OutputSize returns the scaled dimensions for a source frame.
func OutputSize(width, height, outputWidth int) (int, int) {
	if outputWidth <= 0 || width <= 0 {
		return width, height
	}
	h := height * outputWidth / width
	if h < 1 {
		h = 1
	}
	return outputWidth, h
}

// ScaleTransformer converts to RGBA, scales with nearest-neighbour sampling
// and then runs Apply.
type ScaleTransformer struct {
	outputWidth int
}

// NewTransformer creates a transformer scaling to outputWidth.
func NewTransformer(outputWidth int) *ScaleTransformer {
	if outputWidth <= 0 {
		outputWidth = DefaultOutputWidth
	}
	return &ScaleTransformer{outputWidth: outputWidth}
}

// Transform implements Transformer.
func (t *ScaleTransformer) Transform(frame yuv.Frame, enabled bool) (Processed, error) {
	if frame.Width <= 0 || frame.Height <= 0 {
		return Processed{}, fmt.Errorf("%w: frame %dx%d", ErrBufferSize, frame.Width, frame.Height)
	}
	if len(frame.Data) != yuv.FrameSize(frame.Width, frame.Height) {
		return Processed{}, fmt.Errorf("%w: frame holds %d bytes, want %d",
			ErrBufferSize, len(frame.Data), yuv.FrameSize(frame.Width, frame.Height))
	}

	src := toYCbCr(frame)
	w, h := OutputSize(frame.Width, frame.Height, t.outputWidth)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	pix, err := Apply(dst.Pix, w, h, enabled)
	if err != nil {
		return Processed{}, err
	}
	return Processed{Width: w, Height: h, Pix: pix}, nil
}

// toYCbCr splits the interleaved chroma into the separate planes image.YCbCr
// expects. Pairs missing from a truncated frame read as neutral grey.
func toYCbCr(frame yuv.Frame) *image.YCbCr {
	w, h := frame.Width, frame.Height
	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
	copy(img.Y, frame.Luma())

	chroma := frame.Chroma()
	cw, ch := (w+1)/2, (h+1)/2
	for row := 0; row < ch; row++ {
		for col := 0; col < cw; col++ {
			cb, cr := uint8(128), uint8(128)
			idx := row*w + col*2
			if idx+1 < len(chroma) {
				first, second := chroma[idx], chroma[idx+1]
				if frame.ChromaOrder == yuv.ChromaUV {
					cb, cr = first, second
				} else {
					cb, cr = second, first
				}
			}
			img.Cb[row*img.CStride+col] = cb
			img.Cr[row*img.CStride+col] = cr
		}
	}
	return img
}
