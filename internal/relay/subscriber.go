package relay

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultQueueSize = 16

	defaultWriteWait = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMessageSize   = 64 << 10
)

// Subscriber is one push channel connection. Messages are queued by Send and
// written by a dedicated goroutine.
type Subscriber struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	once      sync.Once
	writeWait time.Duration
	logger    *slog.Logger
}

func newSubscriber(conn *websocket.Conn, queueSize int, writeWait time.Duration, logger *slog.Logger) *Subscriber {
	id := uuid.NewString()
	return &Subscriber{
		id:        id,
		conn:      conn,
		send:      make(chan []byte, queueSize),
		done:      make(chan struct{}),
		writeWait: writeWait,
		logger:    logger.With("subscriber", id),
	}
}

// ID implements Sink.
func (c *Subscriber) ID() string { return c.id }

// Send implements Sink. It never blocks: a full queue gives up its oldest
// message so the newest one is always queued.
func (c *Subscriber) Send(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	evicted := false
	for {
		select {
		case c.send <- msg:
			return !evicted
		default:
		}
		select {
		case <-c.send:
			evicted = true
		default:
		}
	}
}

// Close implements Sink. The write pump sends a close frame and the
// connection is torn down, which ends the read pump.
func (c *Subscriber) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// ServeHTTP upgrades the request to a push channel subscriber and blocks
// until it disconnects.
func (s *State) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		s.logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sub := newSubscriber(conn, s.queueSize, s.writeWait, s.logger)
	if err := s.Join(sub, r.RemoteAddr); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()), time.Now().Add(s.writeWait))
		_ = conn.Close()
		return
	}

	go sub.writePump()
	sub.readPump()

	s.Leave(sub.id)
	_ = sub.Close()
}

func (c *Subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("Write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("Ping failed", "error", err)
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(c.writeWait))
			return
		}
	}
}

// readPump answers pings and ignores everything else, including malformed
// JSON. It returns when the connection fails or closes.
func (c *Subscriber) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("Read failed", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, ok := ParseMessage(data)
		if !ok {
			continue
		}
		if msg.Type == TypePing {
			c.Send(PongMessage(time.Now()))
		}
	}
}
