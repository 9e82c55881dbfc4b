package capture

import (
	"errors"
	"sync"

	"github.com/smazurov/edgerelay/internal/yuv"
)

var errForeignReader = errors.New("reader was not created by this device")

// RawReader splits a stream of packed NV21 frames (as written by
// `ffmpeg -f rawvideo -pix_fmt nv21`) into samples. It implements io.Writer
// and SampleReader. Samples expose the Android-style three-plane layout: the
// luma plane plus U and V views into the one interleaved chroma buffer.
type RawReader struct {
	size Size

	mu       sync.Mutex
	buf      []byte
	n        int
	frames   uint64
	listener SampleListener
	closed   bool
}

// NewRawReader creates a reader for frames of the given size.
func NewRawReader(size Size) *RawReader {
	return &RawReader{
		size: size,
		buf:  make([]byte, yuv.FrameSize(size.Width, size.Height)),
	}
}

// SetListener implements SampleReader.
func (r *RawReader) SetListener(l SampleListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = l
}

// Write accumulates bytes and delivers every complete frame. Bytes written
// after Close are discarded.
func (r *RawReader) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := len(p)
	if r.closed || len(r.buf) == 0 {
		return total, nil
	}
	for len(p) > 0 {
		c := copy(r.buf[r.n:], p)
		r.n += c
		p = p[c:]
		if r.n == len(r.buf) {
			r.n = 0
			r.frames++
			if r.listener != nil {
				r.listener(r.sample())
			}
		}
	}
	return total, nil
}

// sample wraps the frame buffer. The buffer is reused for the next frame, so
// listeners must copy before returning.
func (r *RawReader) sample() *yuv.RawSample {
	w, h := r.size.Width, r.size.Height
	lumaLen := w * h
	vu := r.buf[lumaLen:]

	planes := []yuv.Plane{{Data: r.buf[:lumaLen], RowStride: w, PixelStride: 1}}
	if len(vu) >= 2 {
		planes = append(planes,
			yuv.Plane{Data: vu[1:], RowStride: w, PixelStride: 2},          // U view
			yuv.Plane{Data: vu[:len(vu)-1], RowStride: w, PixelStride: 2}, // V view
		)
	}
	return &yuv.RawSample{Width: w, Height: h, Format: yuv.FormatYUV420, Planes: planes}
}

// Frames returns the number of complete frames delivered.
func (r *RawReader) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Close implements SampleReader.
func (r *RawReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.listener = nil
	return nil
}
