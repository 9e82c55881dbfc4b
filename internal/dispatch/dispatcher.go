// Package dispatch hands converted frames to a single processing worker,
// dropping any frame that arrives while the previous one is still in flight.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/edgerelay/internal/yuv"
)

// ErrPanic wraps a panic recovered from the handler.
var ErrPanic = errors.New("frame handler panicked")

// Handler processes one frame on the worker goroutine.
type Handler func(ctx context.Context, frame yuv.Frame) error

// Options configures a Dispatcher.
type Options struct {
	Handler  Handler
	Logger   *slog.Logger
	Window   time.Duration
	OnReport func(Report)
	// OnOutcome is called for every submitted frame with "accepted",
	// "dropped" or "failed".
	OnOutcome func(outcome string)
	Now       func() time.Time
}

// Stats is a snapshot of the dispatcher counters.
type Stats struct {
	Accepted uint64 `json:"accepted"`
	Dropped  uint64 `json:"dropped"`
	Failed   uint64 `json:"failed"`
	InFlight bool   `json:"in_flight"`
}

// Dispatcher enforces at most one frame in processing at any time.
type Dispatcher struct {
	handler   Handler
	logger    *slog.Logger
	window    *Window
	onReport  func(Report)
	onOutcome func(string)
	now       func() time.Time

	inFlight atomic.Bool
	stopped  atomic.Bool
	slot     chan yuv.Frame
	accepted atomic.Uint64
	dropped  atomic.Uint64
	failed   atomic.Uint64

	idleMu sync.Mutex
	idle   *sync.Cond
}

// New creates a dispatcher. Call Run to start the worker.
func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		handler:   opts.Handler,
		logger:    opts.Logger,
		window:    NewWindow(opts.Window),
		onReport:  opts.OnReport,
		onOutcome: opts.OnOutcome,
		now:       opts.Now,
		slot:      make(chan yuv.Frame, 1),
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.handler == nil {
		d.handler = func(context.Context, yuv.Frame) error { return nil }
	}
	d.idle = sync.NewCond(&d.idleMu)
	return d
}

// Submit offers a frame without blocking. It returns false when the frame was
// dropped because another frame is still being processed or Run has stopped.
func (d *Dispatcher) Submit(frame yuv.Frame) bool {
	if !d.inFlight.CompareAndSwap(false, true) {
		d.drop()
		return false
	}

	select {
	case d.slot <- frame:
		if d.stopped.Load() {
			// No worker will take it; Run may already have.
			d.discardPending()
			d.drop()
			return false
		}
		d.accepted.Add(1)
		d.outcome("accepted")
		return true
	default:
		// The worker has not drained the previous frame yet.
		d.release()
		d.drop()
		return false
	}
}

// Run processes accepted frames until ctx is cancelled. A frame still
// waiting when it stops is discarded and the in-flight flag cleared.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.stopped.Store(false)
	d.logger.Debug("Dispatcher worker started")
	for {
		select {
		case <-ctx.Done():
			d.stopped.Store(true)
			if d.discardPending() {
				d.logger.Debug("Pending frame discarded on stop")
			}
			d.logger.Debug("Dispatcher worker stopped")
			return nil
		case frame := <-d.slot:
			d.process(ctx, frame)
		}
	}
}

// discardPending empties the slot. Whichever of Run and Submit takes the
// frame clears the flag.
func (d *Dispatcher) discardPending() bool {
	select {
	case <-d.slot:
		d.release()
		return true
	default:
		return false
	}
}

func (d *Dispatcher) process(ctx context.Context, frame yuv.Frame) {
	defer d.release()

	start := d.now()
	if err := d.invoke(ctx, frame); err != nil {
		d.failed.Add(1)
		d.outcome("failed")
		d.logger.Warn("Frame processing failed", "error", err)
		return
	}

	end := d.now()
	if report, ok := d.window.Record(end, end.Sub(start)); ok {
		d.logger.Debug("Pipeline window", "fps", fmt.Sprintf("%.1f", report.FPS), "latency", report.Latency)
		if d.onReport != nil {
			d.onReport(report)
		}
	}
}

func (d *Dispatcher) invoke(ctx context.Context, frame yuv.Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return d.handler(ctx, frame)
}

func (d *Dispatcher) release() {
	d.idleMu.Lock()
	d.inFlight.Store(false)
	d.idle.Broadcast()
	d.idleMu.Unlock()
}

func (d *Dispatcher) drop() {
	d.dropped.Add(1)
	d.outcome("dropped")
	d.logger.Debug("Frame dropped, processing in flight")
}

func (d *Dispatcher) outcome(o string) {
	if d.onOutcome != nil {
		d.onOutcome(o)
	}
}

// InFlight reports whether a frame is currently being processed.
func (d *Dispatcher) InFlight() bool {
	return d.inFlight.Load()
}

// WaitIdle blocks until no frame is in flight or ctx is done.
func (d *Dispatcher) WaitIdle(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		d.idleMu.Lock()
		d.idle.Broadcast()
		d.idleMu.Unlock()
	})
	defer stop()

	d.idleMu.Lock()
	defer d.idleMu.Unlock()
	for d.inFlight.Load() {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.idle.Wait()
	}
	return nil
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Accepted: d.accepted.Load(),
		Dropped:  d.dropped.Load(),
		Failed:   d.failed.Load(),
		InFlight: d.inFlight.Load(),
	}
}

// LastReport returns the most recent FPS/latency report.
func (d *Dispatcher) LastReport() Report {
	return d.window.Last()
}

// ResetStats zeroes the counters and the measurement window.
func (d *Dispatcher) ResetStats() {
	d.accepted.Store(0)
	d.dropped.Store(0)
	d.failed.Store(0)
	d.window.Reset()
}
