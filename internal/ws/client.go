package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// clientConn is one upgraded websocket. Only writePump writes to rawConn;
// everybody else goes through enqueue.
type clientConn struct {
	id      string
	rawConn *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// room the connection is subscribed to, guarded by Hub.mu
	roomID string
}

func newClientConn(id string, rawConn *websocket.Conn, queueSize int) *clientConn {
	return &clientConn{
		id:      id,
		rawConn: rawConn,
		send:    make(chan []byte, queueSize),
		done:    make(chan struct{}),
	}
}

// enqueue never blocks. A connection whose queue is full is too slow to keep
// up with its room and gets closed.
func (c *clientConn) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		zap.L().Warn("ws.slow_consumer_dropped", zap.String("conn_id", c.id))
		c.close()
		return false
	}
}

func (c *clientConn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *clientConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *clientConn) write(mt int, data []byte) error {
	_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.rawConn.WriteMessage(mt, data)
}

// writePump owns the write side of the socket: queued frames, pings and the
// final close frame.
func (c *clientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		_ = c.rawConn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				zap.L().Debug("ws.write_failed", zap.String("conn_id", c.id), zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.rawConn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				zap.L().Debug("ws.ping_failed", zap.String("conn_id", c.id), zap.Error(err))
				return
			}

		case <-c.done:
			c.flush()
			_ = c.rawConn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return
		}
	}
}

// flush writes whatever is still queued, without waiting for more.
func (c *clientConn) flush() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}
