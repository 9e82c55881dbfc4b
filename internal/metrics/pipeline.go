// Package metrics provides Prometheus metrics for the capture pipeline and the relay.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pipelineFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "edgerelay",
		Subsystem: "pipeline",
		Name:      "fps",
		Help:      "Processed frames per second over the last window",
	}, []string{"device"})

	pipelineLatency = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "edgerelay",
		Subsystem: "pipeline",
		Name:      "latency_seconds",
		Help:      "Processing latency of the most recently completed frame",
	}, []string{"device"})

	pipelineFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edgerelay",
		Subsystem: "pipeline",
		Name:      "frames_total",
		Help:      "Frames offered to the dispatcher by outcome",
	}, []string{"device", "outcome"})

	uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edgerelay",
		Subsystem: "upload",
		Name:      "attempts_total",
		Help:      "Upload attempts by result",
	}, []string{"device", "result"})

	uploadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "edgerelay",
		Subsystem: "upload",
		Name:      "duration_seconds",
		Help:      "Upload round-trip duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"device"})

	// Local cache for the stats endpoint.
	pipelineCache   = make(map[string]*PipelineMetrics)
	pipelineCacheMu sync.RWMutex
)

// Frame outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeDropped  = "dropped"
	OutcomeFailed   = "failed"
)

// PipelineMetrics holds current metric values for one capture device.
type PipelineMetrics struct {
	FPS            float64 `json:"fps"`
	LatencySeconds float64 `json:"latency_seconds"`
	Accepted       uint64  `json:"accepted"`
	Dropped        uint64  `json:"dropped"`
	Failed         uint64  `json:"failed"`
	UploadsOK      uint64  `json:"uploads_ok"`
	UploadsFailed  uint64  `json:"uploads_failed"`
}

// SetPipelineWindow records one FPS/latency report.
func SetPipelineWindow(device string, fps, latencySeconds float64) {
	pipelineFPS.WithLabelValues(device).Set(fps)
	pipelineLatency.WithLabelValues(device).Set(latencySeconds)
	updateCache(device, func(m *PipelineMetrics) {
		m.FPS = fps
		m.LatencySeconds = latencySeconds
	})
}

// IncFrame counts a frame by outcome.
func IncFrame(device, outcome string) {
	pipelineFrames.WithLabelValues(device, outcome).Inc()
	updateCache(device, func(m *PipelineMetrics) {
		switch outcome {
		case OutcomeAccepted:
			m.Accepted++
		case OutcomeDropped:
			m.Dropped++
		case OutcomeFailed:
			m.Failed++
		}
	})
}

// ObserveUpload records an upload result and its duration.
func ObserveUpload(device string, ok bool, seconds float64) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	uploads.WithLabelValues(device, result).Inc()
	uploadDuration.WithLabelValues(device).Observe(seconds)
	updateCache(device, func(m *PipelineMetrics) {
		if ok {
			m.UploadsOK++
		} else {
			m.UploadsFailed++
		}
	})
}

// GetPipelineMetrics returns a copy of the current values for a device.
func GetPipelineMetrics(device string) *PipelineMetrics {
	pipelineCacheMu.RLock()
	defer pipelineCacheMu.RUnlock()
	if m, ok := pipelineCache[device]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// DeletePipelineMetrics removes all series for a device.
func DeletePipelineMetrics(device string) {
	pipelineFPS.DeleteLabelValues(device)
	pipelineLatency.DeleteLabelValues(device)
	pipelineFrames.DeletePartialMatch(prometheus.Labels{"device": device})
	uploads.DeletePartialMatch(prometheus.Labels{"device": device})
	uploadDuration.DeleteLabelValues(device)

	pipelineCacheMu.Lock()
	delete(pipelineCache, device)
	pipelineCacheMu.Unlock()
}

func updateCache(device string, update func(*PipelineMetrics)) {
	pipelineCacheMu.Lock()
	defer pipelineCacheMu.Unlock()
	m, ok := pipelineCache[device]
	if !ok {
		m = &PipelineMetrics{}
		pipelineCache[device] = m
	}
	update(m)
}
