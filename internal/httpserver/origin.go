package httpserver

import (
	"net/http"
	"strings"

	"github.com/roomrelay/roomrelay/internal/origin"
)

// withOriginPolicy rejects browser requests from disallowed origins. Requests
// without an Origin header are non-browser clients and pass through; CORS
// headers themselves are handled by the cors middleware.
func (s *Server) withOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Origin"))
		if header == "" {
			next(w, r)
			return
		}

		normalized, host, ok := origin.Normalize(header)
		if !ok || !origin.IsAllowed(normalized, host, r.Host, s.cfg.AllowedOrigins) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		next(w, r)
	}
}
