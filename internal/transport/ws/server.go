// Package ws exposes the duplex client connection: one WebSocket per
// client, carrying structured JSON commands in and events out.
package ws

import (
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mlanders/beacon-tv-remote-backend/internal/domain/nowplaying"
)

// DefaultMaxExternalConns caps concurrent non-localhost sessions.
const DefaultMaxExternalConns = 4

// Config wires a Server.
type Config struct {
	Registry   Registry
	NewPairing func() Pairing
	Connector  Connector
	Store      DeviceStore
	Apps       AppLister

	// MaxExternalConns caps non-localhost sessions; zero means the
	// default.
	MaxExternalConns int

	// ReconcilerOptions apply to every per-connection reconciler.
	ReconcilerOptions []nowplaying.Option
}

// Server accepts WebSocket connections and runs one Session per client.
type Server struct {
	cfg      Config
	limiter  *ConnectionLimiter
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewServer(cfg Config) *Server {
	maxExternal := cfg.MaxExternalConns
	if maxExternal <= 0 {
		maxExternal = DefaultMaxExternalConns
	}
	return &Server{
		cfg:     cfg,
		limiter: NewConnectionLimiter(maxExternal),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The backend serves the bundled UI on the same host; other
			// origins on the LAN are fine too.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*Session),
	}
}

// HandleWS upgrades the request and serves the session until the client
// disconnects.
func (srv *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("remote", r.RemoteAddr).Msg("Failed to upgrade to WebSocket")
		return
	}

	remoteIP := remoteIPOf(r.RemoteAddr)
	sess := newSession(conn, remoteIP,
		srv.cfg.Registry,
		srv.cfg.NewPairing(),
		srv.cfg.Connector,
		srv.cfg.Store,
		srv.cfg.Apps,
		srv.cfg.ReconcilerOptions,
	)

	if evicted := srv.limiter.TryAdd(sess.ID(), remoteIP); evicted != "" {
		srv.closeSession(evicted)
		log.Info().Str("evicted", evicted).Msg("Evicted oldest external session")
	}

	srv.mu.Lock()
	srv.sessions[sess.ID()] = sess
	srv.mu.Unlock()

	sess.run(r.Context())

	srv.mu.Lock()
	delete(srv.sessions, sess.ID())
	srv.mu.Unlock()
	srv.limiter.Remove(sess.ID())
}

// SessionCount reports the live sessions.
func (srv *Server) SessionCount() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.sessions)
}

// CloseAll tears down every session, for shutdown.
func (srv *Server) CloseAll() {
	srv.mu.Lock()
	all := make([]*Session, 0, len(srv.sessions))
	for _, sess := range srv.sessions {
		all = append(all, sess)
	}
	srv.mu.Unlock()

	for _, sess := range all {
		sess.cleanup()
	}
}

func (srv *Server) closeSession(id string) {
	srv.mu.Lock()
	sess := srv.sessions[id]
	srv.mu.Unlock()
	if sess != nil {
		sess.cleanup()
	}
}

func remoteIPOf(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
