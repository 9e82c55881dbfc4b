package edge

import (
	"errors"
	"testing"

	"github.com/smazurov/edgerelay/internal/yuv"
)

func uniformFrame(w, h int, luma byte, order yuv.ChromaOrder) yuv.Frame {
	data := make([]byte, yuv.FrameSize(w, h))
	for i := 0; i < w*h; i++ {
		data[i] = luma
	}
	for i := w * h; i < len(data); i++ {
		data[i] = 128
	}
	return yuv.Frame{Width: w, Height: h, Data: data, ChromaOrder: order}
}

func TestOutputSize(t *testing.T) {
	tests := []struct {
		w, h, out     int
		wantW, wantH int
	}{
		{720, 1280, 480, 480, 853},
		{1280, 720, 480, 480, 270},
		{480, 640, 480, 480, 640},
		{960, 1, 480, 480, 1},
		{640, 480, 0, 640, 480},
	}
	for _, tt := range tests {
		w, h := OutputSize(tt.w, tt.h, tt.out)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("OutputSize(%d, %d, %d) = %dx%d, want %dx%d", tt.w, tt.h, tt.out, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestTransformScalesToOutputWidth(t *testing.T) {
	tr := NewTransformer(480)
	out, err := tr.Transform(uniformFrame(720, 1280, 200, yuv.ChromaVU), false)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if out.Width != 480 || out.Height != 853 {
		t.Fatalf("Expected 480x853, got %dx%d", out.Width, out.Height)
	}
	if len(out.Pix) != 480*853*4 {
		t.Fatalf("Expected %d bytes, got %d", 480*853*4, len(out.Pix))
	}
	// Neutral chroma keeps the luma value through the RGB round trip.
	if out.Pix[0] != 200 || out.Pix[3] != 255 {
		t.Errorf("Expected gray 200 with opaque alpha, got %v", out.Pix[:4])
	}
}

func TestTransformUniformHasNoEdges(t *testing.T) {
	tr := NewTransformer(64)
	out, err := tr.Transform(uniformFrame(128, 96, 90, yuv.ChromaUV), true)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	for y := 1; y < out.Height-1; y++ {
		for x := 1; x < out.Width-1; x++ {
			if v := out.Pix[(y*out.Width+x)*4]; v != 0 {
				t.Fatalf("Expected no edge at (%d,%d), got %d", x, y, v)
			}
		}
	}
}

func TestTransformDetectsLumaStep(t *testing.T) {
	const w, h = 64, 32
	frame := uniformFrame(w, h, 16, yuv.ChromaVU)
	for y := 0; y < h; y++ {
		for x := w / 2; x < w; x++ {
			frame.Data[y*w+x] = 235
		}
	}

	out, err := NewTransformer(w).Transform(frame, true)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if v := out.Pix[(10*w+w/2)*4]; v != 255 {
		t.Errorf("Expected edge at step, got %d", v)
	}
	if v := out.Pix[(10*w+5)*4]; v != 0 {
		t.Errorf("Expected flat region clear, got %d", v)
	}
}

func TestTransformRejectsShortFrame(t *testing.T) {
	frame := yuv.Frame{Width: 4, Height: 4, Data: make([]byte, 10)}
	if _, err := NewTransformer(4).Transform(frame, true); !errors.Is(err, ErrBufferSize) {
		t.Errorf("Expected ErrBufferSize, got %v", err)
	}
}

func TestProcessedClone(t *testing.T) {
	p := Processed{Width: 1, Height: 1, Pix: []byte{1, 2, 3, 4}}
	c := p.Clone()
	c.Pix[0] = 9
	if p.Pix[0] != 1 {
		t.Error("Expected clone to own its buffer")
	}
}
