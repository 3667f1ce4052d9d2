// Package gateway exposes the session lifecycle over HTTP and relays engine
// change events to websocket subscribers.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/ggbconnect/internal/observability"
	"github.com/harun/ggbconnect/pkg/session"
)

// Server is the public HTTP and websocket front end
type Server struct {
	host     string
	port     int
	server   *http.Server
	upgrader websocket.Upgrader
	clients  *ClientRegistry
	manager  *session.Manager
	logger   zerolog.Logger

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host    string
	Port    int
	Manager *session.Manager
	Logger  zerolog.Logger
}

// NewServer creates the gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Manager == nil {
		return nil, fmt.Errorf("session manager is required")
	}

	return &Server{
		host:    cfg.Host,
		port:    cfg.Port,
		clients: NewClientRegistry(),
		manager: cfg.Manager,
		logger:  cfg.Logger.With().Str("component", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}, nil
}

// Handler builds the route table. Exposed so tests can drive the server
// through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/handshake", s.handleHandshake)
	mux.HandleFunc("/command", s.handleCommand)
	mux.HandleFunc("/getCurrSession", s.handleGetCurrSession)
	mux.HandleFunc("/getPNG", s.handleGetPNG)
	mux.HandleFunc("/export", s.handleExport)
	mux.HandleFunc("/saveCurrSession", s.handleSaveCurrSession)
	mux.HandleFunc("/release", s.handleRelease)
	mux.HandleFunc("/session", s.handleWebSocket)
	mux.HandleFunc("/session/", s.handleWebSocket)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start starts the gateway server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: s.Handler(),
	}

	s.logger.Info().Str("host", s.host).Int("port", s.port).Msg("Starting gateway server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Stop gracefully stops the gateway server
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	// Wait for in-flight requests with timeout
	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	// Close all websocket connections
	for _, client := range s.clients.GetAll() {
		client.conn.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// GetConnectedClients returns information about all connected clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.GetConnectedClients()
}

// handleWebSocket upgrades a connection and runs its subscribe loop. The
// path may carry a session id ("/session/<id>"), in which case the client
// is subscribed immediately; a bare "/session" connection subscribes by
// sending subscribe messages.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		id:           clientID,
		conn:         conn,
		connectedAt:  time.Now(),
		lastActivity: time.Now(),
		ipAddress:    r.RemoteAddr,
	}
	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	if sessionID := sessionIDFromPath(r.URL.Path); sessionID != "" {
		s.subscribeClient(client, sessionID)
	}

	go s.handleClient(client)
}

func sessionIDFromPath(path string) string {
	rest := strings.TrimPrefix(path, "/session")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return ""
	}
	if unescaped, err := url.PathUnescape(rest); err == nil {
		return unescaped
	}
	return rest
}

// handleClient reads subscribe messages until the connection closes
func (s *Server) handleClient(client *Client) {
	defer func() {
		client.conn.Close()
		s.manager.Unsubscribe(client.id)
		s.clients.Remove(client.id)
		s.logger.Info().Str("clientId", client.id).Msg("Client disconnected")
	}()

	for {
		var req subscribeRequest
		if err := client.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.id).Msg("WebSocket error")
			}
			return
		}

		s.clients.UpdateActivity(client.id)

		if req.Action != "subscribe" {
			_ = client.WriteJSON(subscribeAck{
				Success: false,
				Error:   fmt.Sprintf("unknown action: %q", req.Action),
			})
			continue
		}

		s.subscribeClient(client, req.SessionID)
	}
}

// subscribeClient joins the client to a session's broadcast group and acks
func (s *Server) subscribeClient(client *Client, sessionID string) {
	if err := s.manager.Subscribe(sessionID, client); err != nil {
		s.logger.Debug().
			Str("clientId", client.id).
			Str("sessionId", sessionID).
			Err(err).
			Msg("Subscribe rejected")
		_ = client.WriteJSON(subscribeAck{
			Success: false,
			Error:   notFoundBody,
		})
		return
	}

	s.logger.Info().
		Str("clientId", client.id).
		Str("sessionId", sessionID).
		Msg("Client subscribed")

	_ = client.WriteJSON(subscribeAck{
		Event:     "subscribed",
		SessionID: sessionID,
		Success:   true,
	})
}
