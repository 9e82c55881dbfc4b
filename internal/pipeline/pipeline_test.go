package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/edgerelay/internal/capture"
	"github.com/smazurov/edgerelay/internal/edge"
	"github.com/smazurov/edgerelay/internal/events"
	"github.com/smazurov/edgerelay/internal/upload"
	"github.com/smazurov/edgerelay/internal/yuv"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDevice() *capture.TestSource {
	src := capture.NewTestSource(200)
	src.Sizes = []capture.Size{{72, 128}}
	return src
}

type recordingTransformer struct {
	mu      sync.Mutex
	enabled []bool
	fail    bool
}

func (r *recordingTransformer) Transform(frame yuv.Frame, enabled bool) (edge.Processed, error) {
	r.mu.Lock()
	r.enabled = append(r.enabled, enabled)
	fail := r.fail
	r.mu.Unlock()
	if fail {
		return edge.Processed{}, errors.New("transform failed")
	}
	return edge.Processed{Width: 2, Height: 2, Pix: make([]byte, 16)}, nil
}

func (r *recordingTransformer) last() (bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.enabled) == 0 {
		return false, 0
	}
	return r.enabled[len(r.enabled)-1], len(r.enabled)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPipelineShowsFrames(t *testing.T) {
	sink := NewLatestSink()
	p := New(Options{
		Device:        testDevice(),
		OutputWidth:   36,
		EdgeDetection: true,
		Sink:          sink,
		Logger:        testLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitFor(t, "a shown frame", func() bool { return sink.Shown() > 0 })

	frame, ok := sink.Latest()
	if !ok {
		t.Fatal("Expected a frame")
	}
	if frame.Width != 36 || frame.Height != 64 {
		t.Errorf("Expected 36x64 output, got %dx%d", frame.Width, frame.Height)
	}
	if len(frame.Pix) != 36*64*4 {
		t.Errorf("Expected %d bytes, got %d", 36*64*4, len(frame.Pix))
	}

	snap := p.Snapshot()
	if snap.State != "previewing" || snap.PreviewSize != "72x128" {
		t.Errorf("Unexpected snapshot %+v", snap)
	}
	if snap.Upload != nil {
		t.Error("Expected no upload status without an uploader")
	}

	data, ok, err := sink.JPEG(80)
	if err != nil || !ok || len(data) == 0 {
		t.Errorf("Expected preview JPEG, got %d bytes, %v, %v", len(data), ok, err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Unexpected run error: %v", err)
	}
	if st := p.Snapshot().State; st != "closed" {
		t.Errorf("Expected closed after run, got %s", st)
	}
}

func TestPipelineToggleEdgeDetection(t *testing.T) {
	tr := &recordingTransformer{}
	p := New(Options{Device: testDevice(), Transformer: tr, EdgeDetection: true, Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitFor(t, "enabled transform", func() bool {
		enabled, n := tr.last()
		return n > 0 && enabled
	})
	p.SetEdgeDetection(false)
	waitFor(t, "disabled transform", func() bool {
		enabled, _ := tr.last()
		return !enabled
	})
	if p.EdgeDetection() {
		t.Error("Expected edge detection off")
	}

	cancel()
	<-done
}

func TestPipelineTransformErrorKeepsRunning(t *testing.T) {
	tr := &recordingTransformer{fail: true}
	p := New(Options{Device: testDevice(), Transformer: tr, Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitFor(t, "several failed frames", func() bool { return p.Snapshot().Dispatch.Failed >= 3 })
	if p.Snapshot().TransformError == "" {
		t.Error("Expected last transform error in snapshot")
	}

	cancel()
	<-done
}

func TestPipelineUploads(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u := upload.New(upload.Options{EveryN: 2, Logger: testLogger()})
	p := New(Options{
		Device:      testDevice(),
		OutputWidth: 36,
		Uploader:    u,
		Bus:         events.New(),
		Logger:      testLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	if hits.Load() != 0 {
		t.Fatal("Expected no uploads while disabled")
	}

	p.SetUploadTarget(true, srv.URL)
	waitFor(t, "an upload", func() bool { return hits.Load() > 0 })

	snap := p.Snapshot()
	if snap.Upload == nil || !snap.Upload.Enabled || snap.Upload.URL != srv.URL {
		t.Errorf("Unexpected upload status %+v", snap.Upload)
	}

	cancel()
	<-done
	if u.Enabled() {
		t.Error("Expected uploader closed after run")
	}
}

func TestPipelineOpenFailure(t *testing.T) {
	src := testDevice()
	src.Sizes = nil
	p := New(Options{Device: src, Logger: testLogger()})

	err := p.Run(context.Background())
	if !errors.Is(err, capture.ErrNoSizes) {
		t.Errorf("Expected ErrNoSizes, got %v", err)
	}
}

func TestLatestSinkLastWriteWins(t *testing.T) {
	s := NewLatestSink()
	if _, ok := s.Latest(); ok {
		t.Fatal("Expected empty sink")
	}
	if _, ok, _ := s.JPEG(80); ok {
		t.Error("Expected no JPEG from empty sink")
	}

	s.Show(edge.Processed{Width: 1, Height: 1, Pix: []byte{1, 1, 1, 255}})
	s.Show(edge.Processed{Width: 1, Height: 1, Pix: []byte{2, 2, 2, 255}})

	f, _ := s.Latest()
	if f.Pix[0] != 2 {
		t.Errorf("Expected latest frame, got %v", f.Pix)
	}
	if s.Shown() != 2 {
		t.Errorf("Expected 2 shown, got %d", s.Shown())
	}
}
