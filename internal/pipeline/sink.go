package pipeline

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"sync/atomic"

	"github.com/smazurov/edgerelay/internal/edge"
)

// DisplaySink presents processed frames. Show may be called again before the
// previous frame has been presented.
type DisplaySink interface {
	Show(frame edge.Processed)
}

// LatestSink keeps only the most recent frame; later writes win.
type LatestSink struct {
	current atomic.Pointer[edge.Processed]
	shown   atomic.Uint64
}

// NewLatestSink creates an empty sink.
func NewLatestSink() *LatestSink {
	return &LatestSink{}
}

// Show implements DisplaySink. The sink takes ownership of frame.
func (s *LatestSink) Show(frame edge.Processed) {
	s.current.Store(&frame)
	s.shown.Add(1)
}

// Latest returns the current frame. Callers must not modify its pixels.
func (s *LatestSink) Latest() (edge.Processed, bool) {
	p := s.current.Load()
	if p == nil {
		return edge.Processed{}, false
	}
	return *p, true
}

// Shown returns how many frames have been presented.
func (s *LatestSink) Shown() uint64 {
	return s.shown.Load()
}

// JPEG encodes the current frame. ok is false when nothing has been shown.
func (s *LatestSink) JPEG(quality int) (data []byte, ok bool, err error) {
	frame, ok := s.Latest()
	if !ok {
		return nil, false, nil
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image(), &jpeg.Options{Quality: quality}); err != nil {
		return nil, true, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), true, nil
}
