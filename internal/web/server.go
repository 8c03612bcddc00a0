// Package web provides the HTTP surface of the dglab-voice daemon: the status
// page, the relay WebSocket endpoints and, optionally, the static control UI.
package web

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/sweeney/dglab-voice/internal/status"
)

// resumePath matches a reconnect addressed to a 32 hex character connection id.
var resumePath = regexp.MustCompile(`^/([0-9a-fA-F]{32})$`)

// Relay is the WebSocket side of the server.
type Relay interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	ServeResume(w http.ResponseWriter, r *http.Request, id string)
}

// Server serves the status page, the relay and static files over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	relay      Relay
	static     http.Handler
}

// New creates a Server that reads state from the given tracker. When client
// is non-nil its files are served at "/" and the status page moves to /status.
func New(addr string, tracker *status.Tracker, relay Relay, client http.FileSystem) *Server {
	s := &Server{tracker: tracker, relay: relay}
	if client != nil {
		s.static = http.FileServer(client)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/status", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/ws", relay.ServeWS)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server. Hijacked WebSocket connections
// are not tracked here; the relay closes them.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if m := resumePath.FindStringSubmatch(r.URL.Path); m != nil {
		s.relay.ServeResume(w, r, strings.ToLower(m[1]))
		return
	}
	if s.static != nil {
		s.static.ServeHTTP(w, r)
		return
	}
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	s.handleIndex(w, r)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}
