package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sessionpulse/backend/internal/config"
	"github.com/sessionpulse/backend/internal/hub"
)

// Server binds the dashboard's HTTP surface: the websocket upgrade, the
// ingest endpoint, and the read-only status/session APIs.
type Server struct {
	cfg            *config.Config
	hub            *hub.Hub
	snapshots      hub.SnapshotSource
	log            zerolog.Logger
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
}

func New(cfg *config.Config, h *hub.Hub, snapshots hub.SnapshotSource, log zerolog.Logger) *Server {
	s := &Server{
		cfg:            cfg,
		hub:            h,
		snapshots:      snapshots,
		log:            log.With().Str("component", "server").Logger(),
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.Server.AuthToken,
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.Handle("/ws", http.HandlerFunc(s.handleWS))
	mux.Handle("/api/session-update", securityHeaders(http.HandlerFunc(s.handleSessionUpdate)))
	mux.Handle("/api/status", securityHeaders(http.HandlerFunc(s.handleStatus)))
	mux.Handle("/api/sessions", securityHeaders(http.HandlerFunc(s.handleSessions)))
	mux.Handle("/api/history", securityHeaders(http.HandlerFunc(s.handleHistory)))
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// wsConn adapts a gorilla connection to hub.Conn. Only the client's write
// pump calls WriteMessage, so no extra locking is needed.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsConn) WriteMessage(data []byte) error {
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	id := s.hub.Accept(&wsConn{conn: conn, writeTimeout: s.cfg.Server.WriteTimeout})
	s.log.Info().Str("client", id).Str("remote", r.RemoteAddr).Msg("websocket client connected")

	go s.readLoop(id, conn, r.RemoteAddr)
}

// readLoop pumps inbound messages into the hub until the connection dies.
// The read deadline is refreshed on every frame and on transport-level
// pongs; application-level liveness is the hub heartbeat's job.
func (s *Server) readLoop(id string, conn *websocket.Conn, remote string) {
	defer func() {
		s.hub.Disconnect(id)
		s.log.Info().Str("client", id).Str("remote", remote).Msg("websocket client disconnected")
	}()

	readTimeout := s.cfg.Server.ReadTimeout
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Str("client", id).Msg("websocket read ended")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		s.hub.HandleInbound(id, data)
	}
}

type sessionUpdateRequest struct {
	Event     string          `json:"event"`
	Session   json.RawMessage `json:"session"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) handleSessionUpdate(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req sessionUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Event == "" {
		http.Error(w, "event is required", http.StatusBadRequest)
		return
	}

	notified := s.hub.Ingest(req.Event, req.Session)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":           "received",
		"clients_notified": notified,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	st := s.hub.Status()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":               "ok",
		"connected_clients":    st.ConnectedClients,
		"lifetime_connections": st.LifetimeConnections,
		"messages_sent":        st.MessagesSent,
		"uptime_seconds":       st.UptimeSeconds,
		"port":                 s.cfg.Server.Port,
		"timestamp":            time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	snap := s.snapshots.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"active_sessions": snap.ActiveSessions,
		"recent_sessions": snap.RecentSessions,
		"analytics":       snap.Analytics,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.hub.RecentHistory(limit))
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-SessionPulse-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

// Addr formats the listen address from config.
func Addr(cfg *config.Config) string {
	return fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
}
