package dispatch

import (
	"testing"
	"time"
)

func TestWindowReportsOncePerSpan(t *testing.T) {
	w := NewWindow(time.Second)
	start := time.Unix(0, 0)

	for i := 0; i < 30; i++ {
		now := start.Add(time.Duration(i) * 33 * time.Millisecond)
		if _, ok := w.Record(now, 5*time.Millisecond); ok {
			t.Fatalf("unexpected report at frame %d", i)
		}
	}

	r, ok := w.Record(start.Add(1200*time.Millisecond), 7*time.Millisecond)
	if !ok {
		t.Fatal("Expected report after span elapsed")
	}
	if r.Frames != 31 {
		t.Errorf("Expected 31 frames, got %d", r.Frames)
	}
	wantFPS := 31 / 1.2
	if diff := r.FPS - wantFPS; diff > 0.001 || diff < -0.001 {
		t.Errorf("Expected fps %.3f, got %.3f", wantFPS, r.FPS)
	}
	if r.Latency != 7*time.Millisecond {
		t.Errorf("Expected latency of last frame, got %v", r.Latency)
	}

	// Next window starts fresh.
	if _, ok := w.Record(start.Add(1300*time.Millisecond), time.Millisecond); ok {
		t.Error("Expected no report right after reset")
	}
}

func TestWindowReset(t *testing.T) {
	w := NewWindow(100 * time.Millisecond)
	start := time.Unix(0, 0)
	w.Record(start, time.Millisecond)
	w.Record(start.Add(200*time.Millisecond), time.Millisecond)

	if w.Last().Frames != 2 {
		t.Fatalf("Expected last report with 2 frames, got %+v", w.Last())
	}

	w.Reset()
	if w.Last() != (Report{}) {
		t.Errorf("Expected empty report after reset, got %+v", w.Last())
	}
	if _, ok := w.Record(start.Add(time.Hour), time.Millisecond); ok {
		t.Error("Expected first record after reset to open a new window")
	}
}
