package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/edgerelay/internal/yuv"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDevice records lifecycle calls in order.
type fakeDevice struct {
	mu      sync.Mutex
	calls   []string
	sizes   []Size
	openErr error
	// openGate blocks Open until closed when set.
	openGate chan struct{}
	opening  chan struct{}
	reader   *fakeReader
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{sizes: []Size{{1280, 720}, {720, 1280}}}
}

func (d *fakeDevice) record(call string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
}

func (d *fakeDevice) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDevice) Name() string { return "fake" }

func (d *fakeDevice) OutputSizes(context.Context) ([]Size, error) {
	return d.sizes, nil
}

func (d *fakeDevice) NewReader(size Size) (SampleReader, error) {
	r := &fakeReader{dev: d, size: size}
	d.mu.Lock()
	d.reader = r
	d.mu.Unlock()
	return r, nil
}

func (d *fakeDevice) Open(ctx context.Context) (Camera, error) {
	if d.opening != nil {
		close(d.opening)
	}
	if d.openGate != nil {
		select {
		case <-d.openGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.record("open")
	return &fakeCamera{dev: d}, nil
}

type fakeReader struct {
	dev      *fakeDevice
	size     Size
	listener atomic.Pointer[SampleListener]
}

func (r *fakeReader) SetListener(l SampleListener) { r.listener.Store(&l) }

func (r *fakeReader) emit(s *yuv.RawSample) {
	if l := r.listener.Load(); l != nil {
		(*l)(s)
	}
}

func (r *fakeReader) Close() error {
	r.dev.record("close reader")
	return nil
}

type fakeCamera struct {
	dev *fakeDevice
}

func (c *fakeCamera) StartPreview(context.Context, SampleReader) (Session, error) {
	c.dev.record("start preview")
	return &fakeSession{dev: c.dev}, nil
}

func (c *fakeCamera) Close() error {
	c.dev.record("close camera")
	return nil
}

type fakeSession struct {
	dev *fakeDevice
}

func (s *fakeSession) Close() error {
	s.dev.record("close session")
	return nil
}

func equalCalls(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestControllerOpenClose(t *testing.T) {
	dev := newFakeDevice()
	var transitions []string
	c := NewController(Options{
		Device: dev,
		Logger: testLogger(),
		OnStateChange: func(_, to State) {
			transitions = append(transitions, to.String())
		},
	})

	var frames atomic.Int32
	if err := c.Open(context.Background(), func(f yuv.Frame) {
		if len(f.Data) == yuv.FrameSize(f.Width, f.Height) {
			frames.Add(1)
		}
	}); err != nil {
		t.Fatalf("Unexpected open error: %v", err)
	}

	if c.State() != StatePreviewing {
		t.Errorf("Expected previewing, got %v", c.State())
	}
	if c.PreviewSize() != (Size{720, 1280}) {
		t.Errorf("Expected preview size 720x1280, got %v", c.PreviewSize())
	}

	src := NewTestSource(30)
	dev.reader.emit(src.Sample(Size{8, 4}, 0))
	if frames.Load() != 1 {
		t.Errorf("Expected 1 converted frame, got %d", frames.Load())
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Unexpected close error: %v", err)
	}
	if c.State() != StateClosed {
		t.Errorf("Expected closed, got %v", c.State())
	}

	want := []string{"open", "start preview", "close session", "close camera", "close reader"}
	if got := dev.Calls(); !equalCalls(got, want) {
		t.Errorf("Expected calls %v, got %v", want, got)
	}
	wantStates := []string{"opening", "opened", "previewing", "closing", "closed"}
	if !equalCalls(transitions, wantStates) {
		t.Errorf("Expected transitions %v, got %v", wantStates, transitions)
	}
}

func TestControllerOpenTwice(t *testing.T) {
	c := NewController(Options{Device: newFakeDevice(), Logger: testLogger()})
	if err := c.Open(context.Background(), nil); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer c.Close()

	if err := c.Open(context.Background(), nil); !errors.Is(err, ErrSessionOpen) {
		t.Errorf("Expected ErrSessionOpen, got %v", err)
	}
}

func TestControllerOpenFailureAllowsRetry(t *testing.T) {
	dev := newFakeDevice()
	dev.openErr = errors.New("camera in use")
	c := NewController(Options{Device: dev, Logger: testLogger()})

	if err := c.Open(context.Background(), nil); err == nil {
		t.Fatal("Expected open error")
	}
	if c.State() != StateClosed {
		t.Errorf("Expected closed after failure, got %v", c.State())
	}
	if got := dev.Calls(); !equalCalls(got, []string{"close reader"}) {
		t.Errorf("Expected reader released after failure, got %v", got)
	}

	dev.openErr = nil
	if err := c.Open(context.Background(), nil); err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	_ = c.Close()
}

func TestControllerNoSizes(t *testing.T) {
	dev := newFakeDevice()
	dev.sizes = nil
	c := NewController(Options{Device: dev, Logger: testLogger()})

	if err := c.Open(context.Background(), nil); !errors.Is(err, ErrNoSizes) {
		t.Errorf("Expected ErrNoSizes, got %v", err)
	}
}

func TestControllerPermitTimeout(t *testing.T) {
	c := NewController(Options{Device: newFakeDevice(), Logger: testLogger(), OpenTimeout: 30 * time.Millisecond})
	held := c.permit.ForceAcquire()
	defer c.permit.Release(held)

	start := time.Now()
	err := c.Open(context.Background(), nil)
	if !errors.Is(err, ErrPermitTimeout) {
		t.Fatalf("Expected ErrPermitTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Open waited too long: %v", elapsed)
	}
	if c.State() != StateClosed {
		t.Errorf("Expected closed, got %v", c.State())
	}
}

func TestControllerCloseDuringOpen(t *testing.T) {
	dev := newFakeDevice()
	dev.openGate = make(chan struct{})
	dev.opening = make(chan struct{})
	c := NewController(Options{Device: dev, Logger: testLogger()})

	openErr := make(chan error, 1)
	go func() {
		openErr <- c.Open(context.Background(), nil)
	}()

	<-dev.opening
	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()

	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("Unexpected close error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close blocked on in-progress open")
	}

	close(dev.openGate)
	if err := <-openErr; !errors.Is(err, ErrDeviceClosed) {
		t.Errorf("Expected ErrDeviceClosed, got %v", err)
	}
	if c.State() != StateClosed {
		t.Errorf("Expected closed, got %v", c.State())
	}

	// Close tore down the reader; open released the camera it created late.
	want := []string{"close reader", "open", "close camera"}
	if got := dev.Calls(); !equalCalls(got, want) {
		t.Errorf("Expected calls %v, got %v", want, got)
	}

	dev.openGate = nil
	dev.opening = nil
	if err := c.Open(context.Background(), nil); err != nil {
		t.Fatalf("Expected open to work after forced close, got %v", err)
	}
	_ = c.Close()
}

func TestControllerCloseWhenClosed(t *testing.T) {
	dev := newFakeDevice()
	c := NewController(Options{Device: dev, Logger: testLogger()})
	if err := c.Close(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if len(dev.Calls()) != 0 {
		t.Errorf("Expected no device calls, got %v", dev.Calls())
	}
	if err := c.Open(context.Background(), nil); err != nil {
		t.Errorf("Expected open after idle close, got %v", err)
	}
	_ = c.Close()
}

func TestControllerWithTestSource(t *testing.T) {
	for _, layout := range []Layout{LayoutSemiPlanarVU, LayoutSemiPlanarUV, LayoutPlanar, LayoutPadded} {
		src := NewTestSource(200)
		src.Layout = layout
		src.Sizes = []Size{{64, 48}, {36, 64}}
		c := NewController(Options{Device: src, Logger: testLogger()})

		got := make(chan yuv.Frame, 1)
		err := c.Open(context.Background(), func(f yuv.Frame) {
			select {
			case got <- f.Clone():
			default:
			}
		})
		if err != nil {
			t.Fatalf("layout %d: open failed: %v", layout, err)
		}

		select {
		case f := <-got:
			if f.Width != 36 || f.Height != 64 {
				t.Errorf("layout %d: expected 36x64 frame, got %dx%d", layout, f.Width, f.Height)
			}
			if len(f.Data) != yuv.FrameSize(36, 64) {
				t.Errorf("layout %d: expected %d bytes, got %d", layout, yuv.FrameSize(36, 64), len(f.Data))
			}
		case <-time.After(2 * time.Second):
			t.Errorf("layout %d: no frame delivered", layout)
		}

		if err := c.Close(); err != nil {
			t.Errorf("layout %d: close failed: %v", layout, err)
		}
	}
}
