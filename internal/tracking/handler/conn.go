package handler

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"trackhub/internal/tracking/models"
	"trackhub/internal/tracking/ports"
)

// wsConn is the hub's view of one websocket. Frames are queued on out and
// written by a single pump goroutine; Send never blocks.
type wsConn struct {
	id     models.ConnectionID
	ws     *websocket.Conn
	out    chan []byte
	done   chan struct{}
	once   sync.Once
	reason models.DisconnectReason

	pingInterval time.Duration
	writeTimeout time.Duration
	onWriteError func()
	logger       *zap.Logger
}

func newWSConn(id models.ConnectionID, ws *websocket.Conn, opts Options, logger *zap.Logger) *wsConn {
	return &wsConn{
		id:           id,
		ws:           ws,
		out:          make(chan []byte, opts.SendBuffer),
		done:         make(chan struct{}),
		pingInterval: opts.PingInterval,
		writeTimeout: opts.WriteTimeout,
		onWriteError: func() {},
		logger:       logger,
	}
}

// Send queues frame. A closed connection or a full queue both mean the peer
// cannot keep up and the connection is reported dead.
func (c *wsConn) Send(frame []byte) error {
	select {
	case <-c.done:
		return ports.ErrConnectionDead
	default:
	}
	select {
	case c.out <- frame:
		return nil
	default:
		return ports.ErrConnectionDead
	}
}

// Close stops the write pump, which sends a close frame and releases the
// socket. Later calls are no-ops.
func (c *wsConn) Close(reason models.DisconnectReason) {
	c.once.Do(func() {
		c.reason = reason
		close(c.done)
	})
}

func (c *wsConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.out:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.writeFailed(err)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.writeFailed(err)
				return
			}
		case <-c.done:
			c.flush()
			msg := websocket.FormatCloseMessage(closeCode(c.reason), string(c.reason))
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
			return
		}
	}
}

// flush writes whatever is already queued so a graceful close does not drop
// the last replies.
func (c *wsConn) flush() {
	for {
		select {
		case frame := <-c.out:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *wsConn) write(messageType int, data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}

func (c *wsConn) writeFailed(err error) {
	c.logger.Debug("websocket write failed",
		zap.String("connection_id", c.id.String()),
		zap.Error(err),
	)
	c.onWriteError()
}

func closeCode(reason models.DisconnectReason) int {
	switch reason {
	case models.ReasonServerShutdown:
		return websocket.CloseGoingAway
	case models.ReasonDeadConnection:
		return websocket.CloseTryAgainLater
	default:
		return websocket.CloseNormalClosure
	}
}
