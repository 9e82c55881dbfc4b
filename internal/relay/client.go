package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotDataURL is returned for frame images that are not base64 data URLs.
var ErrNotDataURL = errors.New("not a base64 data url")

// WatchOptions configures Watch.
type WatchOptions struct {
	URL string
	// PingInterval between pings; the first ping is sent on connect. Zero
	// sends only that one.
	PingInterval time.Duration
	OnMessage    func(Message)
	Dialer       *websocket.Dialer
	Logger       *slog.Logger
}

// Watch subscribes to a relay push channel and hands every message to
// OnMessage until ctx is done or the relay closes the connection. A normal
// close or cancellation returns nil.
func Watch(ctx context.Context, opts WatchOptions) error {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, _, err := dialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", opts.URL, err)
	}
	defer conn.Close()
	logger.Info("Connected to relay", "url", opts.URL)

	// One goroutine writes pings and another reads, as gorilla allows.
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- pingLoop(pingCtx, conn, opts.PingInterval)
	}()

	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			msg, ok := ParseMessage(data)
			if !ok {
				logger.Debug("Ignoring malformed message", "bytes", len(data))
				continue
			}
			if opts.OnMessage != nil {
				opts.OnMessage(msg)
			}
		}
	}()

	select {
	case <-ctx.Done():
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(defaultWriteWait))
		return nil
	case err := <-writeErr:
		return err
	case err := <-readErr:
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			logger.Info("Relay closed the connection")
			return nil
		}
		return err
	}
}

func pingLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration) error {
	ping := func() error {
		_ = conn.SetWriteDeadline(time.Now().Add(defaultWriteWait))
		return conn.WriteJSON(Message{Type: TypePing})
	}
	if err := ping(); err != nil {
		return err
	}
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := ping(); err != nil {
				return err
			}
		}
	}
}

// DecodeDataURL splits a base64 data URL into its media type and payload.
func DecodeDataURL(s string) (mediaType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	mediaType, ok = strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode payload: %w", err)
	}
	return mediaType, data, nil
}
