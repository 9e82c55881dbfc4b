// Package relay holds the relay's shared state: the single cached latest
// frame and the set of connected push channel subscribers.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smazurov/edgerelay/internal/events"
	"github.com/smazurov/edgerelay/internal/metrics"
)

var (
	// ErrEmptyImage rejects an upload without image data.
	ErrEmptyImage = errors.New("missing image (base64) in body")
	// ErrClosed is returned once the relay is shutting down.
	ErrClosed = errors.New("relay closed")
)

const storeTimeout = 2 * time.Second

// Sink is one fan-out destination.
type Sink interface {
	ID() string
	// Send queues msg without blocking. When the queue is full the oldest
	// queued message is discarded instead of msg. It reports false if a
	// message was lost or the sink is closed.
	Send(msg []byte) bool
	Close() error
}

// Options configures a State.
type Options struct {
	Store     FrameStore
	Bus       *events.Bus
	Logger    *slog.Logger
	QueueSize int

	// WriteTimeout bounds each write to a subscriber.
	WriteTimeout time.Duration
}

// Stats is a snapshot of relay activity.
type Stats struct {
	Subscribers    int       `json:"subscribers"`
	FramesReceived uint64    `json:"frames_received"`
	Rejected       uint64    `json:"rejected"`
	Dropped        uint64    `json:"dropped"`
	HasLatest      bool      `json:"has_latest"`
	LatestBytes    int       `json:"latest_bytes"`
	LastFrameAt    time.Time `json:"last_frame_at,omitzero"`
}

// State is the relay cache and subscriber set behind a single mutex.
type State struct {
	store     FrameStore
	bus       *events.Bus
	logger    *slog.Logger
	queueSize int
	writeWait time.Duration
	upgrader  websocket.Upgrader

	mu          sync.Mutex
	latest      string
	hasLatest   bool
	lastFrameAt time.Time
	seq         uint64
	subs        map[string]Sink
	closed      bool

	storeMu   sync.Mutex
	storedSeq uint64

	received atomic.Uint64
	rejected atomic.Uint64
	dropped  atomic.Uint64
}

// NewState creates an empty relay state.
func NewState(opts Options) *State {
	s := &State{
		store:     opts.Store,
		bus:       opts.Bus,
		logger:    opts.Logger,
		queueSize: opts.QueueSize,
		writeWait: opts.WriteTimeout,
		subs:      make(map[string]Sink),
	}
	if s.store == nil {
		s.store = NewMemoryStore()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.queueSize <= 0 {
		s.queueSize = defaultQueueSize
	}
	if s.writeWait <= 0 {
		s.writeWait = defaultWriteWait
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 << 10,
		CheckOrigin: func(*http.Request) bool {
			return true
		},
	}
	return s
}

// Restore seeds the cache from the store so late joiners of a restarted
// relay still get a frame.
func (s *State) Restore(ctx context.Context) error {
	image, ok, err := s.store.Load(ctx)
	if err != nil || !ok {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasLatest {
		s.latest, s.hasLatest = image, true
		s.logger.Info("Restored latest frame from store", "bytes", len(image))
	}
	return nil
}

// Publish replaces the cached frame and queues it for every subscriber.
// A subscriber with a full queue loses its oldest queued message, so it
// still ends on the newest frame; the others are unaffected.
func (s *State) Publish(image string) error {
	if strings.TrimSpace(image) == "" {
		return ErrEmptyImage
	}
	msg := FrameMessage(image)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.latest, s.hasLatest = image, true
	s.lastFrameAt = time.Now()
	s.seq++
	seq := s.seq
	queued := 0
	for _, sub := range s.subs {
		if sub.Send(msg) {
			queued++
			continue
		}
		s.dropped.Add(1)
		metrics.IncRelayDropped()
		s.logger.Debug("Subscriber queue full, oldest message dropped", "subscriber", sub.ID())
	}
	s.mu.Unlock()

	s.received.Add(1)
	metrics.IncRelayFrames()
	s.bus.Publish(events.FrameRelayedEvent{
		Bytes:       len(image),
		Subscribers: queued,
		Timestamp:   time.Now().Format(time.RFC3339),
	})

	s.persist(seq, image)
	return nil
}

// persist writes to the store, skipping frames older than one already saved.
func (s *State) persist(seq uint64, image string) {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	if seq <= s.storedSeq {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.store.Save(ctx, image); err != nil {
		s.logger.Warn("Failed to persist latest frame", "error", err)
		return
	}
	s.storedSeq = seq
}

// Reject counts an upload refused by validation.
func (s *State) Reject() {
	s.rejected.Add(1)
	metrics.IncRelayRejected()
}

// Latest returns the cached frame.
func (s *State) Latest() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.hasLatest
}

// Join registers sub. The greeting and, when present, the cached frame are
// queued before the subscriber becomes visible to Publish, so they always
// arrive first and in that order.
func (s *State) Join(sub Sink, remote string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	sub.Send(HelloMessage())
	if s.hasLatest {
		sub.Send(FrameMessage(s.latest))
	}
	s.subs[sub.ID()] = sub
	n := len(s.subs)
	s.mu.Unlock()

	metrics.SetRelaySubscribers(n)
	s.logger.Info("Subscriber connected", "subscriber", sub.ID(), "remote", remote, "subscribers", n)
	s.bus.Publish(events.SubscriberEvent{
		ID:          sub.ID(),
		Action:      "joined",
		Remote:      remote,
		Subscribers: n,
		Timestamp:   time.Now().Format(time.RFC3339),
	})
	return nil
}

// Leave removes a subscriber. Unknown ids are ignored.
func (s *State) Leave(id string) {
	s.mu.Lock()
	_, ok := s.subs[id]
	delete(s.subs, id)
	n := len(s.subs)
	s.mu.Unlock()
	if !ok {
		return
	}

	metrics.SetRelaySubscribers(n)
	s.logger.Info("Subscriber disconnected", "subscriber", id, "subscribers", n)
	s.bus.Publish(events.SubscriberEvent{
		ID:          id,
		Action:      "left",
		Subscribers: n,
		Timestamp:   time.Now().Format(time.RFC3339),
	})
}

// Subscribers returns the number of connected subscribers.
func (s *State) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Stats returns current counters.
func (s *State) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		Subscribers: len(s.subs),
		HasLatest:   s.hasLatest,
		LatestBytes: len(s.latest),
		LastFrameAt: s.lastFrameAt,
	}
	s.mu.Unlock()
	st.FramesReceived = s.received.Load()
	st.Rejected = s.rejected.Load()
	st.Dropped = s.dropped.Load()
	return st
}

// Close disconnects every subscriber and closes the store. Publish and Join
// fail with ErrClosed afterwards.
func (s *State) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := make([]Sink, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return s.store.Close()
}
