// Package relay pairs a controlling client with a target device over
// WebSocket and forwards messages between them.
//
// Every accepted connection is assigned a random id and waits in the pending
// set until a bind request pairs it. At most one pairing is active at a time.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/sweeney/dglab-voice/internal/event"
)

const (
	// DefaultHeartbeatInterval is how often both peers of a session receive a heartbeat.
	DefaultHeartbeatInterval = 25 * time.Second
	// DefaultBreakGrace delays ending a session after the client leaves.
	DefaultBreakGrace = time.Second
	// DefaultQueueSize bounds each connection's outbound queue.
	DefaultQueueSize = 256
	// DefaultWriteTimeout bounds a single socket write.
	DefaultWriteTimeout = 10 * time.Second

	readLimit = 64 << 10
)

var (
	// ErrConnClosed is returned when sending to a connection that has gone away.
	ErrConnClosed = errors.New("relay: connection closed")
	// ErrBindRejected wraps every reason a bind request is refused.
	ErrBindRejected = errors.New("relay: bind rejected")
)

// MessageHandler receives every message the target forwards to the client.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg string) error
}

// SessionState is the pairing state.
type SessionState int

const (
	SessionEmpty SessionState = iota
	SessionActive
)

func (s SessionState) String() string {
	if s == SessionActive {
		return "ACTIVE"
	}
	return "EMPTY"
}

// Options tunes a Relay. Zero values select defaults.
type Options struct {
	HeartbeatInterval time.Duration
	BreakGrace        time.Duration
	QueueSize         int
	WriteTimeout      time.Duration
	Logger            hclog.Logger
	Events            event.Sink
	Now               func() time.Time
}

type session struct {
	client *conn
	target *conn
	cancel context.CancelFunc
}

// Relay owns the pending set and the single active session.
type Relay struct {
	heartbeat    time.Duration
	grace        time.Duration
	queueSize    int
	writeTimeout time.Duration
	logger       hclog.Logger
	events       event.Sink
	now          func() time.Time
	upgrader     websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*conn
	live    map[*conn]struct{}
	session *session
	handler MessageHandler
}

// New creates a Relay.
func New(opts Options) *Relay {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.BreakGrace <= 0 {
		opts.BreakGrace = DefaultBreakGrace
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.Events == nil {
		opts.Events = event.Discard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		heartbeat:    opts.HeartbeatInterval,
		grace:        opts.BreakGrace,
		queueSize:    opts.QueueSize,
		writeTimeout: opts.WriteTimeout,
		logger:       opts.Logger,
		events:       opts.Events,
		now:          opts.Now,
		upgrader: websocket.Upgrader{
			// The device app connects from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]*conn),
		live:    make(map[*conn]struct{}),
	}
}

// SetHandler installs the handler for target messages.
func (r *Relay) SetHandler(h MessageHandler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

// Session reports the pairing state and, when active, the bound ids.
func (r *Relay) Session() (state SessionState, clientID, targetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return SessionEmpty, "", ""
	}
	return SessionActive, r.session.client.id, r.session.target.id
}

// Pending returns the number of connections awaiting a bind.
func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// ServeWS upgrades the request and serves the connection until it closes.
func (r *Relay) ServeWS(w http.ResponseWriter, req *http.Request) {
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Debug("upgrade failed", "error", err)
		return
	}
	r.serve(ws)
}

// ServeResume serves a reconnect addressed to id. It is only allowed while
// id is pending.
func (r *Relay) ServeResume(w http.ResponseWriter, req *http.Request, id string) {
	r.mu.Lock()
	_, ok := r.pending[id]
	r.mu.Unlock()
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	r.ServeWS(w, req)
}

func (r *Relay) serve(ws *websocket.Conn) {
	ws.SetReadLimit(readLimit)
	c := newConn(newID(), ws, r.queueSize, r.writeTimeout, r.logger)

	// Registered before the id is written so a peer that learns the id can
	// resume immediately. Nobody can bind c until it has seen the id.
	r.mu.Lock()
	if r.ctx.Err() != nil {
		r.mu.Unlock()
		c.close()
		return
	}
	r.pending[c.id] = c
	r.live[c] = struct{}{}
	n := len(r.pending)
	r.mu.Unlock()
	defer r.teardown(c)

	if err := c.writeDirect(Envelope{Type: TypeBind, ClientID: c.id, Message: "targetId"}); err != nil {
		c.logger.Debug("id write failed", "error", err)
		return
	}
	c.logger.Info("new connection", "pending", n)

	for {
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}
		if err := r.handle(c, env); err != nil {
			c.logger.Error("closing connection", "error", err)
			c.abort(err.Error())
			return
		}
	}
}

func (r *Relay) handle(c *conn, env Envelope) error {
	c.logger.Trace("recv", "type", env.Type, "message", env.Message)
	switch env.Type {
	case TypeBind:
		return r.bind(c, env.ClientID, env.TargetID)
	case TypeMsg:
		r.forward(c, env.text())
	}
	return nil
}

// bind pairs clientID with the requesting connection, which must be the target.
func (r *Relay) bind(c *conn, clientID, targetID string) error {
	r.mu.Lock()
	if r.ctx.Err() != nil {
		r.mu.Unlock()
		return ErrConnClosed
	}
	if r.session != nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: session already active", ErrBindRejected)
	}
	if targetID != c.id {
		r.mu.Unlock()
		return fmt.Errorf("%w: target %q is not the requester", ErrBindRejected, targetID)
	}
	if clientID == targetID {
		r.mu.Unlock()
		return fmt.Errorf("%w: client and target are the same", ErrBindRejected)
	}
	client, ok := r.pending[clientID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: unknown client %q", ErrBindRejected, clientID)
	}
	if _, ok := r.pending[targetID]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: target %q is not pending", ErrBindRejected, targetID)
	}
	delete(r.pending, clientID)
	delete(r.pending, targetID)
	ctx, cancel := context.WithCancel(r.ctx)
	s := &session{client: client, target: c, cancel: cancel}
	r.session = s
	r.wg.Add(1)
	r.mu.Unlock()

	client.start()
	c.start()
	go r.heartbeatLoop(ctx, s)

	r.logger.Info("bind", "client", client.id, "target", c.id)
	r.events.Emit(event.Event{Timestamp: r.now(), Type: event.TypeBind, ClientID: client.id, TargetID: c.id})

	ack := r.envelope(s, TypeBind, CodeBound)
	if err := c.send(ctx, ack); err != nil {
		c.logger.Debug("bind ack failed", "error", err)
	}
	if err := client.send(ctx, ack); err != nil {
		client.logger.Debug("bind ack failed", "error", err)
	}
	return nil
}

// forward relays a msg envelope to the other peer of the session. Target
// messages are also passed to the handler.
func (r *Relay) forward(c *conn, msg string) {
	r.mu.Lock()
	s := r.session
	h := r.handler
	r.mu.Unlock()
	if s == nil {
		return
	}

	switch c {
	case s.client:
		if err := s.target.send(r.ctx, r.envelope(s, TypeMsg, msg)); err != nil {
			c.logger.Debug("forward failed", "error", err)
		}
	case s.target:
		if err := s.client.send(r.ctx, r.envelope(s, TypeMsg, msg)); err != nil {
			c.logger.Debug("forward failed", "error", err)
		}
		if h != nil {
			if err := h.HandleMessage(r.ctx, msg); err != nil {
				r.logger.Error("handler failed", "message", msg, "error", err)
			}
		}
	}
}

// teardown removes c and, if it was bound, notifies its peer and ends the
// session. A departing client ends it after the grace delay.
func (r *Relay) teardown(c *conn) {
	r.mu.Lock()
	delete(r.pending, c.id)
	delete(r.live, c)
	s := r.session
	var peer *conn
	isClient := false
	if s != nil {
		switch c {
		case s.client:
			peer, isClient = s.target, true
		case s.target:
			peer = s.client
		}
	}
	r.mu.Unlock()

	c.close()
	c.logger.Info("connection closed")
	if peer == nil {
		return
	}

	if err := peer.send(r.ctx, r.envelope(s, TypeBreak, CodeBroken)); err != nil {
		peer.logger.Debug("break notify failed", "error", err)
	}
	if isClient {
		t := time.NewTimer(r.grace)
		select {
		case <-t.C:
		case <-r.ctx.Done():
			t.Stop()
		}
	}
	r.endSession(s)
}

func (r *Relay) endSession(s *session) {
	r.mu.Lock()
	ended := r.session == s
	if ended {
		r.session = nil
	}
	r.mu.Unlock()
	if !ended {
		return
	}
	s.cancel()
	r.logger.Info("break", "client", s.client.id, "target", s.target.id)
	r.events.Emit(event.Event{Timestamp: r.now(), Type: event.TypeBreak, ClientID: s.client.id, TargetID: s.target.id})
}

func (r *Relay) heartbeatLoop(ctx context.Context, s *session) {
	defer r.wg.Done()
	t := time.NewTicker(r.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			env := r.envelope(s, TypeHeartbeat, "")
			s.client.send(ctx, env)
			s.target.send(ctx, env)
		}
	}
}

func (r *Relay) envelope(s *session, typ MessageType, msg string) Envelope {
	return Envelope{Type: typ, ClientID: s.client.id, TargetID: s.target.id, Message: msg}
}

// FeedControl sends a device command to the bound target. It is a no-op
// without an active session.
func (r *Relay) FeedControl(ctx context.Context, data string) error {
	r.mu.Lock()
	s := r.session
	r.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.target.send(ctx, r.envelope(s, TypeMsg, data))
}

// FeedLog sends an informational line to the bound client. It is a no-op
// without an active session.
func (r *Relay) FeedLog(ctx context.Context, data string) error {
	r.mu.Lock()
	s := r.session
	r.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.client.send(ctx, r.envelope(s, TypeHeartbeat, data))
}

// Close stops the heartbeat, delivers already queued messages and closes
// every connection.
func (r *Relay) Close() error {
	r.mu.Lock()
	r.cancel()
	conns := make([]*conn, 0, len(r.live))
	for c := range r.live {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.shutdown(r.writeTimeout)
		}()
	}
	wg.Wait()
	r.wg.Wait()
	return nil
}
