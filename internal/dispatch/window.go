package dispatch

import (
	"sync"
	"time"
)

// DefaultWindow is the wall-clock span of one FPS measurement.
const DefaultWindow = time.Second

// Report is one closed measurement window.
type Report struct {
	FPS     float64
	Latency time.Duration
	Frames  int
	At      time.Time
}

// Window is a rolling frame-rate and latency measurement.
type Window struct {
	mu       sync.Mutex
	span     time.Duration
	start    time.Time
	frames   int
	lastLat  time.Duration
	lastSeen Report
}

// NewWindow creates a window that reports every span of wall time.
func NewWindow(span time.Duration) *Window {
	if span <= 0 {
		span = DefaultWindow
	}
	return &Window{span: span}
}

// Record counts one completed frame. Once a full span has elapsed since the
// window opened it returns the report and starts a new window.
func (w *Window) Record(now time.Time, latency time.Duration) (Report, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.start.IsZero() {
		w.start = now
	}
	w.frames++
	w.lastLat = latency

	elapsed := now.Sub(w.start)
	if elapsed < w.span {
		return Report{}, false
	}

	r := Report{
		FPS:     float64(w.frames) / elapsed.Seconds(),
		Latency: w.lastLat,
		Frames:  w.frames,
		At:      now,
	}
	w.lastSeen = r
	w.start = now
	w.frames = 0
	return r, true
}

// Last returns the most recent report.
func (w *Window) Last() Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeen
}

// Reset discards the current window and the last report.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.start = time.Time{}
	w.frames = 0
	w.lastLat = 0
	w.lastSeen = Report{}
}
