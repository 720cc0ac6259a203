package httpserver

import (
	"net/http"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/roomrelay/roomrelay/internal/turnrest"
)

// handleICE serves the ICE server list clients use to build their
// RTCPeerConnection. With TURN REST configured, fresh ephemeral credentials
// are stamped onto every TURN entry per request.
func (s *Server) handleICE(w http.ResponseWriter, r *http.Request) {
	servers := s.cfg.ICEServers
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}

	resp := map[string]any{"iceServers": servers}
	if s.turnGen != nil {
		creds, err := s.turnGen.GenerateRandom()
		if err != nil {
			s.log.Error("turn rest credential generation failed", "err", err)
			WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to issue turn credentials"})
			return
		}
		resp["iceServers"] = withTURNCredentials(servers, creds)
		resp["ttlSeconds"] = s.cfg.TURNREST.TTLSeconds
	}

	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTURNCredentials(w http.ResponseWriter, r *http.Request) {
	if s.turnGen == nil {
		WriteJSON(w, http.StatusNotFound, map[string]any{"error": "turn rest credentials are not configured"})
		return
	}

	creds, err := s.turnGen.GenerateRandom()
	if err != nil {
		s.log.Error("turn rest credential generation failed", "err", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to issue turn credentials"})
		return
	}

	body := map[string]any{
		"username":   creds.Username,
		"credential": creds.Credential,
		"ttlSeconds": s.cfg.TURNREST.TTLSeconds,
		"expiresAt":  creds.ExpiryUnix,
	}
	if s.cfg.TURNREST.Realm != "" {
		body["realm"] = s.cfg.TURNREST.Realm
	}
	WriteJSON(w, http.StatusOK, body)
}

// withTURNCredentials copies the server list with username/credential set on
// every TURN entry. STUN entries are left untouched.
func withTURNCredentials(servers []webrtc.ICEServer, creds turnrest.Credentials) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if hasTURNURL(server) {
			out[i].Username = creds.Username
			out[i].Credential = creds.Credential
		}
	}
	return out
}

func hasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		u := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			return true
		}
	}
	return false
}
