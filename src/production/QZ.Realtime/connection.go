package realtime

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	config "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Config"
	logger "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Logger"
)

var errSinkClosed = errors.New("connection closed")
var errSinkSaturated = errors.New("send buffer full")

// WSConn adapts a gorilla websocket connection to the Sink interface.
// One read loop and one write loop per connection; the buffered send
// channel keeps Push non-blocking, and a slow client only ever loses
// its own frames.
type WSConn struct {
	conn   *websocket.Conn
	send   chan []byte
	pingCh chan struct{}
	closed chan struct{}

	open      atomic.Bool
	closeOnce sync.Once

	cfg    *config.RealtimeConfig
	logger *logger.Logger
}

func NewWSConn(conn *websocket.Conn, cfg *config.RealtimeConfig, log *logger.Logger) *WSConn {
	c := &WSConn{
		conn:   conn,
		send:   make(chan []byte, cfg.SendBufferSize),
		pingCh: make(chan struct{}, 1),
		closed: make(chan struct{}),
		cfg:    cfg,
		logger: log.WithComponent("ws_conn"),
	}
	c.open.Store(true)
	return c
}

// Push enqueues one frame for the write loop
func (c *WSConn) Push(payload []byte) error {
	if !c.open.Load() {
		return errSinkClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errSinkSaturated
	}
}

// Ping asks the write loop for a websocket ping control frame
func (c *WSConn) Ping() error {
	if !c.open.Load() {
		return errSinkClosed
	}
	select {
	case c.pingCh <- struct{}{}:
	default:
		// A ping is already queued
	}
	return nil
}

// IsOpen reports whether the connection still accepts frames
func (c *WSConn) IsOpen() bool {
	return c.open.Load()
}

// Close tears the connection down once. A best-effort close frame goes
// out first so well-behaved clients see a clean shutdown.
func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		close(c.closed)

		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.conn.Close()
	})
	return nil
}

// ReadLoop consumes inbound frames until the socket dies, then reports
// the disconnect to the router. Runs on the handler goroutine.
func (c *WSConn) ReadLoop(router *Router) {
	session := NewSession(c)
	defer func() {
		router.HandleDisconnect(session)
		_ = c.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxFrameSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		// Pong proves liveness: extend the deadline and bump activity
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		router.HandlePong(session)
		return nil
	})

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Debug("Read error: " + err.Error())
			}
			return
		}
		// Any inbound traffic counts as liveness too
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		if messageType == websocket.TextMessage {
			router.HandleFrame(session, raw)
		}
	}
}

// WriteLoop owns every data write on the socket
func (c *WSConn) WriteLoop() {
	defer func() {
		_ = c.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

			// Flush whatever queued up behind this frame
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-c.pingCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			return
		}
	}
}
