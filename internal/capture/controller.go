package capture

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

// DefaultOpenTimeout bounds the wait for the open/close permit.
const DefaultOpenTimeout = 2500 * time.Millisecond

var (
	// ErrSessionOpen is returned by Open when a session is already active.
	ErrSessionOpen = errors.New("capture session already open")
	// ErrDeviceClosed is returned by Open when Close ran while opening.
	ErrDeviceClosed = errors.New("capture device closed during open")
	// ErrNoSizes is returned when a device offers no output sizes.
	ErrNoSizes = errors.New("device offers no output sizes")
)

// State is the session lifecycle state.
type State int32

// Session states.
const (
	StateClosed State = iota
	StateOpening
	StateOpened
	StatePreviewing
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpened:
		return "opened"
	case StatePreviewing:
		return "previewing"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// FrameFunc receives converted frames. It runs on the capture delivery
// goroutine and must return quickly.
type FrameFunc func(frame yuv.Frame)

// Options configures a Controller.
type Options struct {
	Device        Device
	ChromaOrder   yuv.ChromaOrder
	OpenTimeout   time.Duration
	Logger        *slog.Logger
	OnStateChange func(from, to State)
}

// Controller drives one capture session at a time.
type Controller struct {
	device      Device
	converter   *yuv.Converter
	permit      *Permit
	openTimeout time.Duration
	logger      *slog.Logger
	onState     func(from, to State)

	mu      sync.Mutex
	state   State
	size    Size
	reader  SampleReader
	camera  Camera
	session Session

	converted     atomic.Uint64
	convertErrors atomic.Uint64
}

// NewController creates a controller in the closed state.
func NewController(opts Options) *Controller {
	c := &Controller{
		device:      opts.Device,
		converter:   yuv.NewConverter(opts.ChromaOrder),
		permit:      NewPermit(),
		openTimeout: opts.OpenTimeout,
		logger:      opts.Logger,
		onState:     opts.OnStateChange,
	}
	if c.openTimeout <= 0 {
		c.openTimeout = DefaultOpenTimeout
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Open chooses a preview size, opens the device and starts the preview.
// Every sample is converted and passed to onFrame. Failures leave the
// session closed and a later Open may be attempted.
func (c *Controller) Open(ctx context.Context, onFrame FrameFunc) error {
	ticket, err := c.permit.Acquire(ctx, c.openTimeout)
	if err != nil {
		c.logger.Error("Failed to acquire camera permit", "device", c.device.Name(), "error", err)
		return fmt.Errorf("open %s: %w", c.device.Name(), err)
	}
	defer c.permit.Release(ticket)

	busy := false
	if !c.commit(ticket, func() {
		if c.state != StateClosed {
			busy = true
			return
		}
		c.setStateLocked(StateOpening)
	}) {
		return ErrDeviceClosed
	}
	if busy {
		return ErrSessionOpen
	}

	if err := c.open(ctx, ticket, onFrame); err != nil {
		c.abort(ticket)
		c.logger.Error("Failed to open capture session", "device", c.device.Name(), "error", err)
		return fmt.Errorf("open %s: %w", c.device.Name(), err)
	}
	return nil
}

func (c *Controller) open(ctx context.Context, ticket Ticket, onFrame FrameFunc) error {
	sizes, err := c.device.OutputSizes(ctx)
	if err != nil {
		return fmt.Errorf("query output sizes: %w", err)
	}
	if len(sizes) == 0 {
		return ErrNoSizes
	}
	size := ChooseOptimalSize(sizes)
	c.logger.Debug("Chose preview size", "size", size, "choices", len(sizes))

	reader, err := c.device.NewReader(size)
	if err != nil {
		return fmt.Errorf("create reader: %w", err)
	}
	reader.SetListener(c.listener(onFrame))
	if !c.commit(ticket, func() { c.reader = reader }) {
		_ = reader.Close()
		return ErrDeviceClosed
	}

	camera, err := c.device.Open(ctx)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	if !c.commit(ticket, func() {
		c.camera = camera
		c.setStateLocked(StateOpened)
	}) {
		_ = camera.Close()
		return ErrDeviceClosed
	}

	session, err := camera.StartPreview(ctx, reader)
	if err != nil {
		return fmt.Errorf("start preview: %w", err)
	}
	if !c.commit(ticket, func() {
		c.session = session
		c.size = size
		c.setStateLocked(StatePreviewing)
	}) {
		_ = session.Close()
		return ErrDeviceClosed
	}

	c.logger.Info("Capture session previewing", "device", c.device.Name(), "size", size)
	return nil
}

func (c *Controller) listener(onFrame FrameFunc) SampleListener {
	return func(sample *yuv.RawSample) {
		frame, err := c.converter.Convert(sample)
		if err != nil {
			c.convertErrors.Add(1)
			c.logger.Debug("Dropping unconvertible sample", "error", err)
			return
		}
		c.converted.Add(1)
		if onFrame != nil {
			onFrame(frame)
		}
	}
}

// commit applies fn under the state lock only while ticket still holds the
// permit, so a concurrent Close sees either all or none of it.
func (c *Controller) commit(ticket Ticket, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.permit.Valid(ticket) {
		return false
	}
	fn()
	return true
}

// abort tears down a partially opened session unless Close already did.
func (c *Controller) abort(ticket Ticket) {
	c.mu.Lock()
	if !c.permit.Valid(ticket) {
		c.mu.Unlock()
		return
	}
	session, camera, reader := c.detachLocked()
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	if err := teardown(session, camera, reader); err != nil {
		c.logger.Warn("Error releasing failed session", "error", err)
	}
}

// Close stops the preview and releases the device. It never waits on an
// in-progress Open.
func (c *Controller) Close() error {
	ticket := c.permit.ForceAcquire()
	defer c.permit.Release(ticket)

	c.mu.Lock()
	if c.state == StateClosed && c.reader == nil {
		c.mu.Unlock()
		return nil
	}
	session, camera, reader := c.detachLocked()
	c.setStateLocked(StateClosing)
	c.mu.Unlock()

	err := teardown(session, camera, reader)

	c.mu.Lock()
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("Error closing capture session", "device", c.device.Name(), "error", err)
		return err
	}
	c.logger.Info("Capture session closed", "device", c.device.Name())
	return nil
}

func (c *Controller) detachLocked() (Session, Camera, SampleReader) {
	session, camera, reader := c.session, c.camera, c.reader
	c.session, c.camera, c.reader = nil, nil, nil
	c.size = Size{}
	return session, camera, reader
}

// teardown closes session, then camera, then reader.
func teardown(session Session, camera Camera, reader SampleReader) error {
	var errs []error
	if session != nil {
		if err := session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session: %w", err))
		}
	}
	if camera != nil {
		if err := camera.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close camera: %w", err))
		}
	}
	if reader != nil {
		if err := reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close reader: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) setStateLocked(s State) {
	prev := c.state
	c.state = s
	if prev != s && c.onState != nil {
		c.onState(prev, s)
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PreviewSize returns the active preview size, zero when not previewing.
func (c *Controller) PreviewSize() Size {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Converted returns how many samples were converted and how many failed.
func (c *Controller) Converted() (ok, failed uint64) {
	return c.converted.Load(), c.convertErrors.Load()
}
