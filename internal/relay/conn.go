package relay

import (
	"context"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

// newID returns a random 128-bit identity as 32 lowercase hex characters.
func newID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// conn is one WebSocket peer. Before binding only the accepting goroutine
// writes to ws; after start only sendLoop does.
type conn struct {
	id     string
	ws     *websocket.Conn
	logger hclog.Logger

	writeTimeout time.Duration
	queue        chan Envelope
	done         chan struct{}
	stopping     chan struct{}

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	closeOnce sync.Once
}

func newConn(id string, ws *websocket.Conn, queueSize int, writeTimeout time.Duration, logger hclog.Logger) *conn {
	return &conn{
		id:           id,
		ws:           ws,
		logger:       logger.With("conn", id),
		writeTimeout: writeTimeout,
		queue:        make(chan Envelope, queueSize),
		done:         make(chan struct{}),
		stopping:     make(chan struct{}),
	}
}

// writeDirect writes env synchronously. Only valid before start.
func (c *conn) writeDirect(env Envelope) error {
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteJSON(env)
}

// start launches the sender goroutine.
func (c *conn) start() {
	c.startOnce.Do(func() {
		c.started.Store(true)
		go c.sendLoop()
	})
}

// send queues env for delivery. It blocks while the queue is full.
func (c *conn) send(ctx context.Context, env Envelope) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.queue <- env:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *conn) sendLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.stopping:
			c.flush()
			return
		case env := <-c.queue:
			if !c.write(env) {
				return
			}
		}
	}
}

func (c *conn) write(env Envelope) bool {
	c.logger.Trace("send", "type", env.Type, "message", env.Message)
	if err := c.writeDirect(env); err != nil {
		c.logger.Debug("write failed", "error", err)
		c.close()
		return false
	}
	return true
}

// flush writes whatever is still queued, then a normal close frame.
func (c *conn) flush() {
	for {
		select {
		case env := <-c.queue:
			if !c.write(env) {
				return
			}
		default:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			c.close()
			return
		}
	}
}

// shutdown delivers queued envelopes before closing. It waits at most timeout.
func (c *conn) shutdown(timeout time.Duration) {
	if !c.started.Load() {
		c.close()
		return
	}
	c.stopOnce.Do(func() { close(c.stopping) })
	select {
	case <-c.done:
	case <-time.After(timeout):
		c.close()
	}
}

// abort closes the socket with a protocol error.
func (c *conn) abort(reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseProtocolError, reason)
	c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.close()
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}
