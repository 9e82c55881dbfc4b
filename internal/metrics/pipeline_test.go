package metrics

import (
	"sync"
	"testing"
)

func TestPipelineMetricsCache(t *testing.T) {
	device := "test-device-1"
	DeletePipelineMetrics(device)

	if m := GetPipelineMetrics(device); m != nil {
		t.Error("expected nil for unknown device")
	}

	SetPipelineWindow(device, 29.5, 0.012)
	IncFrame(device, OutcomeAccepted)
	IncFrame(device, OutcomeAccepted)
	IncFrame(device, OutcomeDropped)
	IncFrame(device, OutcomeFailed)
	ObserveUpload(device, true, 0.1)
	ObserveUpload(device, false, 5)

	m := GetPipelineMetrics(device)
	if m == nil {
		t.Fatal("expected non-nil metrics")
	}
	if m.FPS != 29.5 {
		t.Errorf("FPS = %v, want 29.5", m.FPS)
	}
	if m.LatencySeconds != 0.012 {
		t.Errorf("LatencySeconds = %v, want 0.012", m.LatencySeconds)
	}
	if m.Accepted != 2 || m.Dropped != 1 || m.Failed != 1 {
		t.Errorf("frames = %d/%d/%d, want 2/1/1", m.Accepted, m.Dropped, m.Failed)
	}
	if m.UploadsOK != 1 || m.UploadsFailed != 1 {
		t.Errorf("uploads = %d/%d, want 1/1", m.UploadsOK, m.UploadsFailed)
	}

	// Returned copy is independent
	m.FPS = 999
	if GetPipelineMetrics(device).FPS != 29.5 {
		t.Error("cache was modified through returned copy")
	}

	DeletePipelineMetrics(device)
	if GetPipelineMetrics(device) != nil {
		t.Error("expected nil after delete")
	}
}

func TestPipelineMetricsConcurrentAccess(t *testing.T) {
	device := "test-device-concurrent"
	defer DeletePipelineMetrics(device)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			IncFrame(device, OutcomeDropped)
		}()
		go func() {
			defer wg.Done()
			_ = GetPipelineMetrics(device)
		}()
	}
	wg.Wait()

	if got := GetPipelineMetrics(device).Dropped; got != 50 {
		t.Errorf("Dropped = %d, want 50", got)
	}
}
