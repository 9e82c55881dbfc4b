package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/edgerelay/internal/yuv"
)

// Layout is the plane layout a TestSource delivers.
type Layout int

// Test source layouts.
const (
	LayoutSemiPlanarVU Layout = iota // NV21 views, as most phone sensors
	LayoutSemiPlanarUV               // NV12 views
	LayoutPlanar                     // I420, pixel stride 1
	LayoutPadded                     // NV21 views with row padding
)

// ParseLayout parses a layout name.
func ParseLayout(s string) Layout {
	switch s {
	case "uv", "nv12":
		return LayoutSemiPlanarUV
	case "planar", "i420":
		return LayoutPlanar
	case "padded":
		return LayoutPadded
	default:
		return LayoutSemiPlanarVU
	}
}

const (
	defaultTestFPS    = 30
	defaultRowPadding = 64
)

// DefaultTestSizes mimics the size list of a phone rear camera.
var DefaultTestSizes = []Size{
	{1920, 1080},
	{1280, 720},
	{1080, 1920},
	{720, 1280},
	{640, 480},
	{480, 640},
	{320, 240},
}

// TestSource is a synthetic device that renders moving vertical bars.
type TestSource struct {
	Sizes      []Size
	FPS        int
	Layout     Layout
	RowPadding int
}

// NewTestSource creates a test device delivering fps frames per second.
func NewTestSource(fps int) *TestSource {
	if fps <= 0 {
		fps = defaultTestFPS
	}
	return &TestSource{
		Sizes:      DefaultTestSizes,
		FPS:        fps,
		Layout:     LayoutSemiPlanarVU,
		RowPadding: defaultRowPadding,
	}
}

// Name implements Device.
func (t *TestSource) Name() string { return "test" }

// OutputSizes implements Device.
func (t *TestSource) OutputSizes(context.Context) ([]Size, error) {
	return append([]Size(nil), t.Sizes...), nil
}

// NewReader implements Device.
func (t *TestSource) NewReader(size Size) (SampleReader, error) {
	return &testReader{size: size}, nil
}

// Open implements Device.
func (t *TestSource) Open(context.Context) (Camera, error) {
	return &testCamera{src: t}, nil
}

type testReader struct {
	size     Size
	listener atomic.Pointer[SampleListener]
	closed   atomic.Bool
}

func (r *testReader) SetListener(l SampleListener) {
	r.listener.Store(&l)
}

func (r *testReader) deliver(s *yuv.RawSample) {
	if r.closed.Load() {
		return
	}
	if l := r.listener.Load(); l != nil && *l != nil {
		(*l)(s)
	}
}

func (r *testReader) Close() error {
	r.closed.Store(true)
	return nil
}

type testCamera struct {
	src *TestSource
}

func (c *testCamera) StartPreview(_ context.Context, reader SampleReader) (Session, error) {
	tr, ok := reader.(*testReader)
	if !ok {
		return nil, errForeignReader
	}
	s := &testSession{stop: make(chan struct{})}
	s.wg.Add(1)
	go s.run(c.src, tr)
	return s, nil
}

func (c *testCamera) Close() error { return nil }

type testSession struct {
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (s *testSession) run(src *TestSource, r *testReader) {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second / time.Duration(src.FPS))
	defer ticker.Stop()

	for n := 0; ; n++ {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			r.deliver(src.Sample(r.size, n))
		}
	}
}

func (s *testSession) Close() error {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
	return nil
}

// Sample renders frame n at the given size in the source's layout.
func (t *TestSource) Sample(size Size, n int) *yuv.RawSample {
	w, h := size.Width, size.Height
	pad := 0
	if t.Layout == LayoutPadded {
		pad = t.RowPadding
	}
	stride := w + pad

	luma := make([]byte, stride*h)
	for y := 0; y < h; y++ {
		row := luma[y*stride : y*stride+w]
		for x := range row {
			// 32px bars scrolling two pixels per frame
			if ((x+2*n)/32)%2 == 0 {
				row[x] = 235
			} else {
				row[x] = 16
			}
		}
	}
	u, v := byte(90+n%64), byte(160)

	sample := &yuv.RawSample{Width: w, Height: h, Format: yuv.FormatYUV420}
	yPlane := yuv.Plane{Data: luma, RowStride: stride, PixelStride: 1}

	if t.Layout == LayoutPlanar {
		cw, ch := w/2, h/2
		uPlane := make([]byte, cw*ch)
		vPlane := make([]byte, cw*ch)
		fill(uPlane, u)
		fill(vPlane, v)
		sample.Planes = []yuv.Plane{
			yPlane,
			{Data: uPlane, RowStride: cw, PixelStride: 1},
			{Data: vPlane, RowStride: cw, PixelStride: 1},
		}
		return sample
	}

	if h < 2 || w < 2 {
		sample.Planes = []yuv.Plane{yPlane}
		return sample
	}

	first, second := v, u
	if t.Layout == LayoutSemiPlanarUV {
		first, second = u, v
	}
	chroma := make([]byte, stride*(h/2))
	for row := 0; row < h/2; row++ {
		line := chroma[row*stride : row*stride+w]
		for i := 0; i+1 < len(line); i += 2 {
			line[i], line[i+1] = first, second
		}
	}
	// Two overlapping views into one buffer, each ending on its last sample.
	end := len(chroma) - pad
	a := yuv.Plane{Data: chroma[:end-1], RowStride: stride, PixelStride: 2}
	b := yuv.Plane{Data: chroma[1:end], RowStride: stride, PixelStride: 2}
	if t.Layout == LayoutSemiPlanarUV {
		sample.Planes = []yuv.Plane{yPlane, a, b} // U view, V view
	} else {
		sample.Planes = []yuv.Plane{yPlane, b, a}
	}
	return sample
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
