package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wireloop/agentplane/internal/auth"
)

// Server is the HTTP entry point that upgrades incoming requests to
// WebSocket connections and hands them to a Manager, per SPEC_FULL.md
// §4.5's per-connection lifecycle.
//
// Grounded on the teacher's internal/gateway/server.go HTTP mux wiring and
// ws_control_plane.go's upgrader configuration.
type Server struct {
	mgr      *Manager
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer builds a Server backed by mgr.
func NewServer(mgr *Manager) *Server {
	return &Server{
		mgr: mgr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: mgr.logger,
	}
}

// Handler returns the http.Handler to mount at the WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveWS)
}

// serveWS authenticates the incoming request (SPEC_FULL.md §4.5 step 1)
// before upgrading; a failed bearer token closes the socket with close
// code 1008 (policy violation), per spec.md §4.5.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(r)
	if !ok {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication required")
		_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newConnection(s.mgr, conn, userID)
	c.serve()
}

// authenticate extracts a bearer token from the Authorization header or
// the "token" query parameter and validates it. When the Manager's auth
// service is disabled (no secret configured), every connection is allowed
// through with an empty user id.
func (s *Server) authenticate(r *http.Request) (userID string, ok bool) {
	if s.mgr.auth == nil || !s.mgr.auth.Enabled() {
		return "", true
	}
	raw := r.Header.Get("Authorization")
	if raw == "" {
		raw = r.URL.Query().Get("token")
	}
	if raw == "" {
		return "", false
	}
	identity, err := s.mgr.auth.Validate(auth.BearerToken(raw))
	if err != nil {
		return "", false
	}
	return identity.UserID, true
}
