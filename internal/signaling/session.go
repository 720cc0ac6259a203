package signaling

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roomrelay/roomrelay/internal/auth"
	"github.com/roomrelay/roomrelay/internal/config"
	"github.com/roomrelay/roomrelay/internal/metrics"
	"github.com/roomrelay/roomrelay/internal/protocol"
	"github.com/roomrelay/roomrelay/internal/ratelimit"
	"github.com/roomrelay/roomrelay/internal/room"
)

const wsWriteWait = 1 * time.Second

// session is one signaling connection from upgrade to teardown.
//
// Outbound room events arrive on the buffered out channel via TrySend and are
// drained by writePump; direct protocol errors are written inline under
// writeMu. Teardown runs exactly once no matter how the connection dies.
type session struct {
	srv    *Server
	conn   *websocket.Conn
	req    *http.Request
	connID string

	out     chan protocol.ServerMessage
	done    chan struct{}
	limiter *ratelimit.TokenBucket

	writeMu sync.Mutex

	// Identity bound by a successful join. Guarded by bindMu because the
	// read loop binds while teardown may be clearing it from the write pump.
	bindMu sync.Mutex
	roomID string
	userID string

	closeOnce sync.Once
}

var _ room.Sender = (*session)(nil)

// TrySend enqueues an event for delivery and reports whether it was
// accepted. It never blocks: a full queue or a closed session drops the
// event and the connection stays healthy.
func (ws *session) TrySend(msg protocol.ServerMessage) bool {
	select {
	case <-ws.done:
		ws.srv.metrics.OutboundDroppedTotal.WithLabelValues(metrics.ReasonClosed).Inc()
		return false
	default:
	}
	select {
	case ws.out <- msg:
		return true
	default:
		ws.srv.metrics.OutboundDroppedTotal.WithLabelValues(metrics.ReasonQueueFull).Inc()
		return false
	}
}

func (ws *session) writePump() {
	ticker := time.NewTicker(ws.srv.pingInterval())
	defer ticker.Stop()

	for {
		select {
		case msg := <-ws.out:
			if err := ws.send(msg); err != nil {
				ws.teardown()
				return
			}
		case <-ticker.C:
			ws.writeMu.Lock()
			err := ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			ws.writeMu.Unlock()
			if err != nil {
				ws.teardown()
				return
			}
		case <-ws.done:
			return
		}
	}
}

func (ws *session) run() {
	defer ws.teardown()

	ws.conn.SetReadLimit(ws.srv.maxMessageBytes())

	idle := ws.srv.idleTimeout()
	ws.conn.SetPongHandler(func(string) error {
		return ws.conn.SetReadDeadline(time.Now().Add(idle))
	})

	authenticated, ok := ws.authFromQuery()
	if !ok {
		return
	}
	if authenticated {
		_ = ws.conn.SetReadDeadline(time.Now().Add(idle))
	} else {
		_ = ws.conn.SetReadDeadline(time.Now().Add(ws.srv.authTimeout()))
	}

	for {
		msgType, data, err := ws.conn.ReadMessage()
		if err != nil {
			if !authenticated && isTimeout(err) {
				ws.srv.metrics.AuthFailuresTotal.Inc()
				ws.closeWith(websocket.ClosePolicyViolation, "authentication timeout")
			}
			return
		}
		// The rate limit is applied after reading so the bytes already in the
		// TCP receive buffer are consumed. Closing with unread data pending
		// can turn into an abortive close (RST) and the client never sees the
		// close code.
		if !ws.limiter.Allow(1) {
			ws.srv.metrics.RateLimitedTotal.Inc()
			ws.fail("rate_limited", "rate limit exceeded", websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			ws.fail("bad_message", "expected text message", websocket.CloseUnsupportedData, "expected text message")
			return
		}

		msg, err := protocol.ParseClientMessage(data)
		if err != nil {
			ws.fail("bad_message", err.Error(), websocket.ClosePolicyViolation, "bad message")
			return
		}

		if !authenticated {
			if msg.Type != protocol.EventAuth {
				ws.srv.metrics.AuthFailuresTotal.Inc()
				ws.fail("unauthorized", "authentication required", websocket.ClosePolicyViolation, "authentication required")
				return
			}
			if !ws.authFromMessage(msg) {
				return
			}
			authenticated = true
			_ = ws.conn.SetReadDeadline(time.Now().Add(idle))
			continue
		}

		_ = ws.conn.SetReadDeadline(time.Now().Add(idle))

		switch msg.Type {
		case protocol.EventAuth:
			// Tolerated when already authenticated (query fallback or
			// AUTH_MODE=none).
			continue
		case protocol.EventJoinRoom:
			if !ws.handleJoin(msg) {
				return
			}
		case protocol.EventSendSignal:
			if !ws.handleSignal(msg) {
				return
			}
		case protocol.EventSendEmoji:
			if !ws.handleEmoji(msg) {
				return
			}
		case protocol.EventLeaveRoom:
			// A connection binds one identity for its whole life; after the
			// departure there is nothing left to do on this socket.
			ws.leaveRoom()
			ws.closeWith(websocket.CloseNormalClosure, "left room")
			return
		default:
			ws.fail("bad_message", "unexpected message type", websocket.ClosePolicyViolation, "bad message")
			return
		}
	}
}

// authFromQuery authenticates from upgrade query parameters when possible.
// ok=false means the connection was closed.
func (ws *session) authFromQuery() (authenticated, ok bool) {
	if ws.srv.cfg.AuthMode == config.AuthModeNone {
		return true, true
	}

	cred, err := auth.CredentialFromQuery(ws.srv.cfg.AuthMode, ws.req.URL.Query())
	if errors.Is(err, auth.ErrMissingCredentials) {
		// The client gets one auth message within the auth timeout.
		return false, true
	}
	if err != nil {
		ws.closeWith(websocket.CloseInternalServerErr, "invalid auth configuration")
		return false, false
	}
	if err := ws.srv.verifier.Verify(cred); err != nil {
		ws.srv.metrics.AuthFailuresTotal.Inc()
		ws.fail("unauthorized", "invalid credentials", websocket.ClosePolicyViolation, "invalid credentials")
		return false, false
	}
	return true, true
}

func (ws *session) authFromMessage(msg protocol.ClientMessage) bool {
	cred, err := auth.CredentialFromMessage(ws.srv.cfg.AuthMode, msg.APIKey, msg.Token)
	if err != nil {
		ws.srv.metrics.AuthFailuresTotal.Inc()
		ws.fail("unauthorized", "missing credentials", websocket.ClosePolicyViolation, "missing credentials")
		return false
	}
	if err := ws.srv.verifier.Verify(cred); err != nil {
		ws.srv.metrics.AuthFailuresTotal.Inc()
		ws.fail("unauthorized", "invalid credentials", websocket.ClosePolicyViolation, "invalid credentials")
		return false
	}
	return true
}

func (ws *session) handleJoin(msg protocol.ClientMessage) bool {
	ws.bindMu.Lock()
	joined := ws.roomID != ""
	ws.bindMu.Unlock()
	if joined {
		ws.fail("already_joined", "already in a room", websocket.ClosePolicyViolation, "already joined")
		return false
	}

	err := ws.srv.rooms.Join(msg.RoomID, msg.UserID, msg.UserName, ws)
	switch {
	case errors.Is(err, room.ErrRoomFull):
		// The connection stays open; the client may try another room.
		ws.TrySend(protocol.RoomFull())
		return true
	case errors.Is(err, room.ErrDuplicateUser):
		ws.fail("duplicate_user", "userId already present in room", websocket.ClosePolicyViolation, "duplicate user")
		return false
	case err != nil:
		ws.fail("internal_error", err.Error(), websocket.CloseInternalServerErr, "internal error")
		return false
	}

	ws.bindMu.Lock()
	ws.roomID = msg.RoomID
	ws.userID = msg.UserID
	ws.bindMu.Unlock()

	// Teardown may have run between the registry insert and the bind; its
	// leaveRoom saw an empty binding, so the departure must happen here or
	// the dead participant would hold a room slot forever.
	select {
	case <-ws.done:
		ws.leaveRoom()
		return false
	default:
	}

	ws.srv.log.Info("joined room", "conn", ws.connID, "room", msg.RoomID, "user", msg.UserID)
	return true
}

func (ws *session) handleSignal(msg protocol.ClientMessage) bool {
	roomID, userID, ok := ws.requireBound(msg.UserID)
	if !ok {
		return false
	}
	ws.srv.rooms.Route(roomID, userID, msg.To, msg.Signal)
	return true
}

func (ws *session) handleEmoji(msg protocol.ClientMessage) bool {
	roomID, userID, ok := ws.requireBound(msg.UserID)
	if !ok {
		return false
	}
	ws.srv.rooms.Relay(roomID, userID, msg.Emoji)
	return true
}

// requireBound checks that the connection has joined a room and that the
// claimed sender id matches the bound identity. A mismatch is a protocol
// violation, not a routing error.
func (ws *session) requireBound(claimedID string) (roomID, userID string, ok bool) {
	ws.bindMu.Lock()
	roomID, userID = ws.roomID, ws.userID
	ws.bindMu.Unlock()

	if roomID == "" {
		ws.fail("not_joined", "join a room first", websocket.ClosePolicyViolation, "not joined")
		return "", "", false
	}
	if claimedID != userID {
		ws.fail("sender_mismatch", "userId does not match this connection", websocket.ClosePolicyViolation, "sender mismatch")
		return "", "", false
	}
	return roomID, userID, true
}

// leaveRoom departs the current room, if any, clearing the binding in the
// same step. Shared with teardown, so an explicit leave followed by a
// disconnect broadcasts exactly once.
func (ws *session) leaveRoom() {
	ws.bindMu.Lock()
	roomID, userID := ws.roomID, ws.userID
	ws.roomID, ws.userID = "", ""
	ws.bindMu.Unlock()

	if roomID == "" {
		return
	}
	ws.srv.rooms.Leave(roomID, userID)
	ws.srv.log.Info("left room", "conn", ws.connID, "room", roomID, "user", userID)
}

func (ws *session) send(msg protocol.ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	_ = ws.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return ws.conn.WriteMessage(websocket.TextMessage, data)
}

// fail reports a protocol error to the client and closes the connection.
func (ws *session) fail(code, message string, closeCode int, closeReason string) {
	_ = ws.send(protocol.Error(code, message))
	ws.closeWith(closeCode, closeReason)
}

func (ws *session) closeWith(code int, reason string) {
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	_ = ws.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

// teardown is the reaper: it departs the room (broadcasting
// user-disconnected to the remaining members), stops the write pump, and
// closes the socket. Safe to call from either pump.
func (ws *session) teardown() {
	ws.closeOnce.Do(func() {
		ws.leaveRoom()
		close(ws.done)
		_ = ws.conn.Close()
		ws.srv.removeSession(ws)
		ws.srv.metrics.ConnectionsActive.Dec()
		ws.srv.log.Debug("connection closed", "conn", ws.connID)
	})
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
