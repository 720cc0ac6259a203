// Package signaling terminates room signaling WebSockets: it authenticates
// connections, decodes client events, and drives the room registry. All
// payload routing is enqueue-and-return; a slow consumer only ever loses its
// own events.
package signaling

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roomrelay/roomrelay/internal/auth"
	"github.com/roomrelay/roomrelay/internal/config"
	"github.com/roomrelay/roomrelay/internal/metrics"
	"github.com/roomrelay/roomrelay/internal/origin"
	"github.com/roomrelay/roomrelay/internal/protocol"
	"github.com/roomrelay/roomrelay/internal/ratelimit"
	"github.com/roomrelay/roomrelay/internal/room"
)

// Server upgrades signaling requests and hands each connection to a session.
type Server struct {
	cfg     config.Config
	log     *slog.Logger
	metrics *metrics.Metrics
	rooms   *room.Registry

	// verifier is nil when AuthMode is none.
	verifier auth.Verifier

	// Clock feeds the per-connection rate limiter; tests may replace it.
	Clock ratelimit.Clock

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*session]struct{}
	closed   bool
}

func NewServer(cfg config.Config, logger *slog.Logger, m *metrics.Metrics, rooms *room.Registry) (*Server, error) {
	var verifier auth.Verifier
	if cfg.AuthMode != config.AuthModeNone {
		v, err := auth.NewVerifier(cfg)
		if err != nil {
			return nil, err
		}
		verifier = v
	}

	s := &Server{
		cfg:      cfg,
		log:      logger,
		metrics:  m,
		rooms:    rooms,
		verifier: verifier,
		Clock:    ratelimit.RealClock{},
		sessions: map[*session]struct{}{},
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	return s, nil
}

// checkOrigin applies the allowlist policy before the upgrade completes. A
// request without an Origin header is a non-browser client and is admitted;
// auth still applies.
func (s *Server) checkOrigin(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Origin"))
	if header == "" {
		return true
	}
	normalized, host, ok := origin.Normalize(header)
	if !ok {
		return false
	}
	return origin.IsAllowed(normalized, host, r.Host, s.cfg.AllowedOrigins)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		return
	}

	sess := &session{
		srv:    s,
		conn:   conn,
		req:    r,
		connID: uuid.NewString(),
		out:    make(chan protocol.ServerMessage, s.sendQueueLength()),
		done:   make(chan struct{}),
		limiter: ratelimit.NewTokenBucket(
			s.Clock,
			int64(s.messagesPerSecond()),
			int64(s.messagesPerSecond()),
		),
	}

	if !s.addSession(sess) {
		_ = conn.Close()
		return
	}

	s.metrics.ConnectionsActive.Inc()
	s.log.Debug("connection opened", "conn", sess.connID, "remote", r.RemoteAddr)

	go sess.writePump()
	sess.run()
}

func (s *Server) addSession(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[sess] = struct{}{}
	return true
}

func (s *Server) removeSession(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

// Close tears down every live connection. New upgrades are refused once it
// has been called. Used on shutdown after the HTTP listener has drained.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.closeWith(websocket.CloseGoingAway, "server shutting down")
		sess.teardown()
	}
}

// Config accessors fall back to package defaults so a zero-value field never
// disables a protection outright.

func (s *Server) authTimeout() time.Duration {
	if s.cfg.SignalingAuthTimeout > 0 {
		return s.cfg.SignalingAuthTimeout
	}
	return config.DefaultSignalingAuthTimeout
}

func (s *Server) idleTimeout() time.Duration {
	if s.cfg.SignalingWSIdleTimeout > 0 {
		return s.cfg.SignalingWSIdleTimeout
	}
	return config.DefaultSignalingWSIdleTimeout
}

func (s *Server) pingInterval() time.Duration {
	if s.cfg.SignalingWSPingInterval > 0 {
		return s.cfg.SignalingWSPingInterval
	}
	return config.DefaultSignalingWSPingInterval
}

func (s *Server) maxMessageBytes() int64 {
	if s.cfg.MaxSignalingMessageBytes > 0 {
		return s.cfg.MaxSignalingMessageBytes
	}
	return config.DefaultMaxSignalingMessageBytes
}

func (s *Server) messagesPerSecond() int {
	if s.cfg.MaxSignalingMessagesPerSecond > 0 {
		return s.cfg.MaxSignalingMessagesPerSecond
	}
	return config.DefaultMaxSignalingMessagesPerSecond
}

func (s *Server) sendQueueLength() int {
	if s.cfg.SendQueueLength > 0 {
		return s.cfg.SendQueueLength
	}
	return config.DefaultSendQueueLength
}
