// Package pipeline wires capture, dispatch, transform, display and upload
// into one running frame flow.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/smazurov/edgerelay/internal/capture"
	"github.com/smazurov/edgerelay/internal/dispatch"
	"github.com/smazurov/edgerelay/internal/edge"
	"github.com/smazurov/edgerelay/internal/events"
	"github.com/smazurov/edgerelay/internal/logging"
	"github.com/smazurov/edgerelay/internal/metrics"
	"github.com/smazurov/edgerelay/internal/upload"
	"github.com/smazurov/edgerelay/internal/yuv"
	"golang.org/x/sync/errgroup"
)

const drainTimeout = 2 * time.Second

// Options configures a Pipeline.
type Options struct {
	Device      capture.Device
	ChromaOrder yuv.ChromaOrder
	OpenTimeout time.Duration
	// Transformer defaults to edge.NewTransformer(OutputWidth).
	Transformer   edge.Transformer
	OutputWidth   int
	EdgeDetection bool
	// Sink defaults to a LatestSink.
	Sink     DisplaySink
	Uploader *upload.Uploader
	Bus      *events.Bus
	Logger   *slog.Logger
}

// UploadStatus describes the uploader in a Snapshot.
type UploadStatus struct {
	Enabled   bool   `json:"enabled"`
	URL       string `json:"url,omitempty"`
	InFlight  bool   `json:"in_flight"`
	Attempts  uint64 `json:"attempts"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
}

// Snapshot is the operator-visible state of a running pipeline.
type Snapshot struct {
	Device         string         `json:"device"`
	State          string         `json:"state"`
	PreviewSize    string         `json:"preview_size"`
	EdgeDetection  bool           `json:"edge_detection"`
	FPS            float64        `json:"fps"`
	LatencyMs      float64        `json:"latency_ms"`
	Dispatch       dispatch.Stats `json:"dispatch"`
	Converted      uint64         `json:"converted"`
	ConvertFailed  uint64         `json:"convert_failed"`
	Shown          uint64         `json:"shown"`
	Upload         *UploadStatus  `json:"upload,omitempty"`
	TransformError string         `json:"transform_error,omitempty"`
}

// Pipeline owns one capture session and the frame flow behind it.
type Pipeline struct {
	device      string
	controller  *capture.Controller
	dispatcher  *dispatch.Dispatcher
	transformer edge.Transformer
	sink        DisplaySink
	uploader    *upload.Uploader
	bus         *events.Bus
	logger      *slog.Logger

	edgeEnabled atomic.Bool
	lastErr     atomic.Pointer[string]
}

// New builds a pipeline. Call Run to start it.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		transformer: opts.Transformer,
		sink:        opts.Sink,
		uploader:    opts.Uploader,
		bus:         opts.Bus,
		logger:      opts.Logger,
	}
	if p.logger == nil {
		p.logger = logging.GetLogger("pipeline")
	}
	if p.transformer == nil {
		p.transformer = edge.NewTransformer(opts.OutputWidth)
	}
	if p.sink == nil {
		p.sink = NewLatestSink()
	}
	if opts.Device != nil {
		p.device = opts.Device.Name()
	}
	p.edgeEnabled.Store(opts.EdgeDetection)

	p.controller = capture.NewController(capture.Options{
		Device:        opts.Device,
		ChromaOrder:   opts.ChromaOrder,
		OpenTimeout:   opts.OpenTimeout,
		Logger:        logging.GetLogger("capture").With("device", p.device),
		OnStateChange: p.stateChanged,
	})
	p.dispatcher = dispatch.New(dispatch.Options{
		Handler:   p.process,
		Logger:    logging.GetLogger("dispatch").With("device", p.device),
		OnReport:  p.report,
		OnOutcome: func(outcome string) { metrics.IncFrame(p.device, outcome) },
	})
	return p
}

// Run opens the capture session and processes frames until ctx is done. The
// session is always closed before Run returns.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.dispatcher.Run(gctx)
	})

	g.Go(func() error {
		if err := p.controller.Open(gctx, p.submit); err != nil {
			return err
		}
		p.logger.Info("Pipeline running",
			"device", p.device,
			"preview_size", p.controller.PreviewSize().String(),
			"edge_detection", p.edgeEnabled.Load())
		<-gctx.Done()
		return nil
	})

	err := g.Wait()

	closeErr := p.controller.Close()
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	_ = p.dispatcher.WaitIdle(drainCtx)
	if p.uploader != nil {
		_ = p.uploader.Close()
	}
	metrics.DeletePipelineMetrics(p.device)

	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return errors.Join(err, closeErr)
}

// submit runs on the capture delivery goroutine. Converted frames are
// freshly allocated, so the worker owns what it receives.
func (p *Pipeline) submit(frame yuv.Frame) {
	p.dispatcher.Submit(frame)
}

// process runs on the dispatcher worker.
func (p *Pipeline) process(_ context.Context, frame yuv.Frame) error {
	out, err := p.transformer.Transform(frame, p.edgeEnabled.Load())
	if err != nil {
		msg := err.Error()
		p.lastErr.Store(&msg)
		return err
	}

	if p.uploader != nil {
		p.uploader.Offer(out)
	}
	p.sink.Show(out)
	return nil
}

func (p *Pipeline) report(r dispatch.Report) {
	metrics.SetPipelineWindow(p.device, r.FPS, r.Latency.Seconds())
	stats := p.dispatcher.Stats()
	p.logger.Debug("Pipeline window",
		"fps", r.FPS,
		"latency_ms", r.Latency.Milliseconds(),
		"dropped", stats.Dropped)
	p.bus.Publish(events.PipelineStatsEvent{
		Device:    p.device,
		FPS:       r.FPS,
		LatencyMs: float64(r.Latency.Microseconds()) / 1000,
		Accepted:  stats.Accepted,
		Dropped:   stats.Dropped,
		Failed:    stats.Failed,
		Timestamp: r.At.Format(time.RFC3339),
	})
}

func (p *Pipeline) stateChanged(from, to capture.State) {
	p.bus.Publish(events.CaptureStateEvent{
		Device:    p.device,
		From:      from.String(),
		To:        to.String(),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// SetEdgeDetection switches the edge step on or off from the next frame.
func (p *Pipeline) SetEdgeDetection(enabled bool) {
	if p.edgeEnabled.Swap(enabled) != enabled {
		p.logger.Info("Edge detection toggled", "enabled", enabled)
	}
}

// EdgeDetection reports whether the edge step is applied.
func (p *Pipeline) EdgeDetection() bool {
	return p.edgeEnabled.Load()
}

// SetUploadTarget applies upload settings without restarting capture. It is
// a no-op when the pipeline was built without an uploader.
func (p *Pipeline) SetUploadTarget(enabled bool, url string) {
	if p.uploader == nil {
		return
	}
	if p.uploader.URL() != url {
		p.uploader.SetURL(url)
		p.logger.Info("Upload target changed", "url", url)
	}
	if p.uploader.Enabled() != enabled {
		p.uploader.SetEnabled(enabled)
		p.logger.Info("Upload toggled", "enabled", enabled)
	}
}

// Sink returns the display sink.
func (p *Pipeline) Sink() DisplaySink {
	return p.sink
}

// PreviewJPEG encodes the frame currently on display. ok is false until a
// frame has been shown or when the sink cannot serve previews.
func (p *Pipeline) PreviewJPEG(quality int) ([]byte, bool, error) {
	ls, ok := p.sink.(*LatestSink)
	if !ok {
		return nil, false, nil
	}
	return ls.JPEG(quality)
}

// Snapshot returns current pipeline state.
func (p *Pipeline) Snapshot() Snapshot {
	report := p.dispatcher.LastReport()
	converted, failed := p.controller.Converted()
	s := Snapshot{
		Device:        p.device,
		State:         p.controller.State().String(),
		PreviewSize:   p.controller.PreviewSize().String(),
		EdgeDetection: p.edgeEnabled.Load(),
		FPS:           report.FPS,
		LatencyMs:     float64(report.Latency.Microseconds()) / 1000,
		Dispatch:      p.dispatcher.Stats(),
		Converted:     converted,
		ConvertFailed: failed,
	}
	if ls, ok := p.sink.(*LatestSink); ok {
		s.Shown = ls.Shown()
	}
	if msg := p.lastErr.Load(); msg != nil {
		s.TransformError = *msg
	}
	if u := p.uploader; u != nil {
		stats := u.Stats()
		s.Upload = &UploadStatus{
			Enabled:   u.Enabled(),
			URL:       u.URL(),
			InFlight:  u.InFlight(),
			Attempts:  u.Attempts(),
			Succeeded: stats.Succeeded,
			Failed:    stats.Failed,
		}
	}
	return s
}
