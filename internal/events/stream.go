package events

import (
	"sync"
	"sync/atomic"

	"github.com/kelindar/event"
)

// Stream merges events of several types into one buffered channel for a
// single reader. Publishing never blocks: events that find the buffer full
// are dropped and counted.
type Stream struct {
	ch      chan any
	mu      sync.Mutex
	unsubs  []func()
	closed  bool
	dropped atomic.Uint64
}

// NewStream creates a stream buffering up to size events.
func NewStream(size int) *Stream {
	if size <= 0 {
		size = 1
	}
	return &Stream{ch: make(chan any, size)}
}

// Listen adds events of type T from bus to s. It is a no-op on a closed
// stream or a nil bus.
func Listen[T Event](bus *Bus, s *Stream) {
	if bus == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.unsubs = append(s.unsubs, event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	}))
}

// C returns the channel events are delivered on.
func (s *Stream) C() <-chan any {
	return s.ch
}

// Dropped returns how many events were discarded because the reader was
// behind.
func (s *Stream) Dropped() uint64 {
	return s.dropped.Load()
}

// Close removes every subscription. The channel is left open so a reader
// selecting on it never sees a spurious zero value.
func (s *Stream) Close() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.closed = true
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}
