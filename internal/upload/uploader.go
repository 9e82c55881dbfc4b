// Package upload sends a sampled subset of processed frames to a relay as
// JPEG data URLs. At most one upload is in flight at any time.
package upload

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/edgerelay/internal/edge"
	"github.com/smazurov/edgerelay/internal/events"
	"github.com/smazurov/edgerelay/internal/logging"
	"github.com/smazurov/edgerelay/internal/metrics"
	"github.com/smazurov/edgerelay/internal/version"
	"golang.org/x/image/draw"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultEveryN       = 30
	DefaultMaxDimension = 640
	DefaultQuality      = 80
	DefaultTimeout      = 5 * time.Second
)

// DataURLPrefix is prepended to the base64 JPEG payload.
const DataURLPrefix = "data:image/jpeg;base64,"

var (
	// ErrStatus is returned for a non-2xx relay response.
	ErrStatus = errors.New("unexpected response status")
	// ErrNoURL is returned when an upload triggers without a target.
	ErrNoURL = errors.New("no upload url configured")
)

// Payload is the JSON body posted to the relay.
type Payload struct {
	Image string `json:"image"`
}

// Options configures an Uploader.
type Options struct {
	URL          string
	Enabled      bool
	EveryN       int
	MaxDimension int
	Quality      int
	Timeout      time.Duration
	// Device labels metrics and events.
	Device    string
	Bus       *events.Bus
	Logger    *slog.Logger
	OnSuccess func()
	OnFailure func(error)
	Client    *http.Client
}

// Stats holds the upload counters.
type Stats struct {
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
}

// Uploader rate-limits and posts frames.
type Uploader struct {
	everyN       int
	maxDimension int
	quality      int
	timeout      time.Duration
	device       string
	bus          *events.Bus
	logger       *slog.Logger
	onSuccess    func()
	onFailure    func(error)
	client       *http.Client

	url     atomic.Pointer[string]
	enabled atomic.Bool

	inFlight atomic.Bool
	// counter is only touched while inFlight is held.
	counter int

	succeeded atomic.Uint64
	failed    atomic.Uint64
	attempts  atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	// mu orders wg.Add in Offer against wg.Wait in Close.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates an uploader.
func New(opts Options) *Uploader {
	u := &Uploader{
		everyN:       opts.EveryN,
		maxDimension: opts.MaxDimension,
		quality:      opts.Quality,
		timeout:      opts.Timeout,
		device:       opts.Device,
		bus:          opts.Bus,
		logger:       opts.Logger,
		onSuccess:    opts.OnSuccess,
		onFailure:    opts.OnFailure,
		client:       opts.Client,
	}
	if u.everyN <= 0 {
		u.everyN = DefaultEveryN
	}
	if u.maxDimension <= 0 {
		u.maxDimension = DefaultMaxDimension
	}
	if u.quality <= 0 || u.quality > 100 {
		u.quality = DefaultQuality
	}
	if u.timeout <= 0 {
		u.timeout = DefaultTimeout
	}
	if u.logger == nil {
		u.logger = logging.GetLogger("upload")
	}
	if u.client == nil {
		u.client = newClient(u.timeout)
	}
	u.url.Store(&opts.URL)
	u.enabled.Store(opts.Enabled)
	u.ctx, u.cancel = context.WithCancel(context.Background())
	return u
}

// newClient bounds connect, each request write and the response header by
// timeout.
func newClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				conn, err := dialer.DialContext(ctx, network, addr)
				if err != nil {
					return nil, err
				}
				return &writeDeadlineConn{Conn: conn, timeout: timeout}, nil
			},
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
			MaxIdleConns:          2,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// writeDeadlineConn fails any single write that stalls longer than timeout.
type writeDeadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *writeDeadlineConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}

// SetEnabled turns uploading on or off. Disabling does not cancel an upload
// already in flight.
func (u *Uploader) SetEnabled(enabled bool) {
	u.enabled.Store(enabled)
}

// Enabled reports whether frames are being offered for upload.
func (u *Uploader) Enabled() bool {
	return u.enabled.Load()
}

// SetURL changes the relay endpoint for future uploads.
func (u *Uploader) SetURL(url string) {
	u.url.Store(&url)
}

// URL returns the current relay endpoint.
func (u *Uploader) URL() string {
	return *u.url.Load()
}

// Offer considers a processed frame for upload. It returns true when the
// frame triggered an upload attempt. Only a triggering frame is copied, so
// the caller keeps ownership of frame.
func (u *Uploader) Offer(frame edge.Processed) bool {
	if !u.enabled.Load() {
		return false
	}
	if !u.inFlight.CompareAndSwap(false, true) {
		return false
	}

	u.counter++
	if u.counter < u.everyN {
		u.inFlight.Store(false)
		return false
	}
	u.counter = 0

	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		u.inFlight.Store(false)
		return false
	}
	u.wg.Add(1)
	u.mu.Unlock()

	u.attempts.Add(1)
	frame = frame.Clone()
	go func() {
		defer u.wg.Done()
		defer u.inFlight.Store(false)
		u.upload(frame)
	}()
	return true
}

func (u *Uploader) upload(frame edge.Processed) {
	start := time.Now()
	err := u.send(frame)
	elapsed := time.Since(start)

	if err != nil {
		failed := u.failed.Add(1)
		u.logger.Warn("Upload failed", "error", err, "errors", failed)
		u.report(false, err, elapsed)
		if u.onFailure != nil {
			u.onFailure(err)
		}
		return
	}

	total := u.succeeded.Add(1)
	u.logger.Debug("Frame uploaded", "total", total, "duration_ms", elapsed.Milliseconds())
	u.report(true, nil, elapsed)
	if u.onSuccess != nil {
		u.onSuccess()
	}
}

func (u *Uploader) report(ok bool, err error, elapsed time.Duration) {
	metrics.ObserveUpload(u.device, ok, elapsed.Seconds())
	ev := events.UploadResultEvent{
		Device:     u.device,
		Success:    ok,
		DurationMs: float64(elapsed.Microseconds()) / 1000,
		Succeeded:  u.succeeded.Load(),
		Failed:     u.failed.Load(),
		Timestamp:  time.Now().Format(time.RFC3339),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	u.bus.Publish(ev)
}

func (u *Uploader) send(frame edge.Processed) error {
	url := u.URL()
	if url == "" {
		return ErrNoURL
	}

	body, err := EncodePayload(frame, u.maxDimension, u.quality)
	if err != nil {
		return fmt.Errorf("failed to prepare payload: %w", err)
	}

	// Connect, each write and the response header get the timeout from the
	// transport; the context bounds the whole exchange.
	ctx, cancel := context.WithTimeout(u.ctx, 3*u.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyTimer := time.AfterFunc(u.timeout, cancel)
	defer bodyTimer.Stop()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}
	return nil
}

// EncodePayload downscales, compresses and wraps a frame as the JSON body.
func EncodePayload(frame edge.Processed, maxDimension, quality int) ([]byte, error) {
	dataURL, err := EncodeDataURL(frame, maxDimension, quality)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Payload{Image: dataURL})
}

// EncodeDataURL returns the frame as a base64 JPEG data URL.
func EncodeDataURL(frame edge.Processed, maxDimension, quality int) (string, error) {
	if frame.Width <= 0 || frame.Height <= 0 || len(frame.Pix) != frame.Width*frame.Height*4 {
		return "", fmt.Errorf("%w: %dx%d with %d bytes", edge.ErrBufferSize, frame.Width, frame.Height, len(frame.Pix))
	}

	img := Downscale(frame.Image(), maxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("jpeg encode: %w", err)
	}
	return DataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ScaledSize returns the dimensions after fitting the longer side to
// maxDimension. Sizes already within bounds are returned unchanged.
func ScaledSize(width, height, maxDimension int) (int, int) {
	if maxDimension <= 0 || (width <= maxDimension && height <= maxDimension) {
		return width, height
	}
	if width >= height {
		return maxDimension, max(height*maxDimension/width, 1)
	}
	return max(width*maxDimension/height, 1), maxDimension
}

// Downscale returns img unchanged when it fits, otherwise a bilinear
// resample at ScaledSize.
func Downscale(img *image.RGBA, maxDimension int) image.Image {
	b := img.Bounds()
	w, h := ScaledSize(b.Dx(), b.Dy(), maxDimension)
	if w == b.Dx() && h == b.Dy() {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Stats returns the success and failure counters.
func (u *Uploader) Stats() Stats {
	return Stats{Succeeded: u.succeeded.Load(), Failed: u.failed.Load()}
}

// Attempts returns how many uploads have been triggered.
func (u *Uploader) Attempts() uint64 {
	return u.attempts.Load()
}

// ResetStats zeroes the counters.
func (u *Uploader) ResetStats() {
	u.succeeded.Store(0)
	u.failed.Store(0)
	u.attempts.Store(0)
}

// InFlight reports whether an upload is awaiting a response.
func (u *Uploader) InFlight() bool {
	return u.inFlight.Load()
}

// Wait blocks until no upload goroutine is running.
func (u *Uploader) Wait() {
	u.wg.Wait()
}

// Close cancels any in-flight upload and waits for it to finish. Frames
// offered afterwards are ignored.
func (u *Uploader) Close() error {
	u.enabled.Store(false)
	u.mu.Lock()
	u.closed = true
	u.mu.Unlock()
	u.cancel()
	u.wg.Wait()
	u.client.CloseIdleConnections()
	return nil
}
