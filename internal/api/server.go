package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/wlmirror/internal/config"
	"github.com/bryanchriswhite/wlmirror/internal/logger"
	"github.com/bryanchriswhite/wlmirror/internal/output"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

// OutputLister lists the known outputs. *output.Registry satisfies it.
type OutputLister interface {
	List() []output.Entry
}

// Server represents the HTTP status API server
type Server struct {
	router    *mux.Router
	hub       *Hub
	outputs   OutputLister
	configMgr *config.Manager
	upgrader  websocket.Upgrader
	http      *http.Server
}

// NewServer creates a new API server
func NewServer(hub *Hub, outputs OutputLister, configMgr *config.Manager) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		hub:       hub,
		outputs:   outputs,
		configMgr: configMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Local status endpoint
			},
		},
	}

	s.setupRoutes()
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Window state
	api.HandleFunc("/window", s.handleGetWindow).Methods("GET")
	api.HandleFunc("/window/stream", s.handleWindowStream)

	// Outputs
	api.HandleFunc("/outputs", s.handleGetOutputs).Methods("GET")

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config", s.handleUpdateConfig).Methods("PUT")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

// Handler returns the root handler, including CORS headers
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves the API on port until Shutdown is called. It returns nil
// without listening when Shutdown already ran.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)

	logger.WithComponent("api").Info().
		Str("addr", "http://localhost"+addr).
		Msg("Starting status API")

	s.http.Addr = addr
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server and ends open window streams
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.http.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HTTP Handlers

func (s *Server) handleGetWindow(w http.ResponseWriter, r *http.Request) {
	current := s.hub.Current()
	if current == nil {
		http.Error(w, "window not initialized", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, current)
}

func (s *Server) handleWindowStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	updates := s.hub.Subscribe()
	defer s.hub.Unsubscribe(updates)
	log.Debug().Int("subscribers", s.hub.Subscribers()).Msg("Window stream opened")

	// Clients never send anything; reading only notices the disconnect.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Send initial state
	if current := s.hub.Current(); current != nil {
		if err := conn.WriteJSON(current); err != nil {
			log.Debug().Err(err).Msg("WebSocket write error")
			return
		}
	}

	for {
		select {
		case <-gone:
			log.Debug().Msg("Window stream closed by client")
			return
		case snapshot, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(snapshot); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}

func (s *Server) handleGetOutputs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.outputs.List())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.configMgr.Get())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.configMgr.Get()
	if err := json.NewDecoder(r.Body).Decode(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.configMgr.Update(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]string{"status": "success"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	html := `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>wlmirror</title>
</head>
<body>
    <h1>wlmirror</h1>
    <ul>
        <li><a href="/api/health">/api/health</a> - Server health check</li>
        <li><a href="/api/window">/api/window</a> - Committed window state</li>
        <li><a href="/api/outputs">/api/outputs</a> - Known outputs</li>
        <li><a href="/api/config">/api/config</a> - View configuration</li>
        <li><code>/api/window/stream</code> - WebSocket stream of window commits</li>
    </ul>
</body>
</html>`

	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(html))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Failed to encode response")
	}
}
