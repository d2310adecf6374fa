package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/garp/internal/capture"
	"github.com/bryanchriswhite/garp/internal/config"
	"github.com/bryanchriswhite/garp/internal/logger"
	"github.com/bryanchriswhite/garp/internal/output"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Session is the part of *capture.Session the API drives.
type Session interface {
	ID() string
	Backend() string
	Output() capture.DuplicationDesc
	Running() bool
	HasFrame() bool
	Stats() capture.Stats
	Err() error
	OnFrame(h capture.FrameHandler) error
	Stop()
	CaptureOnce(ctx context.Context) (capture.Frame, error)
}

// ConfigSource provides the current configuration.
type ConfigSource interface {
	Get() *config.Config
}

// Server represents the HTTP API server
type Server struct {
	router      *mux.Router
	session     Session
	broadcaster *output.Broadcaster
	configs     ConfigSource
	upgrader    websocket.Upgrader

	mu         sync.Mutex
	httpServer *http.Server
}

// SessionStatus is the body of GET /api/session.
type SessionStatus struct {
	ID        string                  `json:"id"`
	Backend   string                  `json:"backend"`
	Output    capture.DuplicationDesc `json:"output"`
	Running   bool                    `json:"running"`
	HasFrame  bool                    `json:"has_frame"`
	Stats     capture.Stats           `json:"stats"`
	LastError string                  `json:"last_error,omitempty"`
	Broadcast output.BroadcastStats   `json:"broadcast"`
}

// NewServer creates a new API server
func NewServer(session Session, broadcaster *output.Broadcaster, configs ConfigSource) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		session:     session,
		broadcaster: broadcaster,
		configs:     configs,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins; listening is restricted by local_only
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Capture session
	api.HandleFunc("/session", s.handleGetSession).Methods("GET")
	api.HandleFunc("/session/start", s.handleStart).Methods("POST")
	api.HandleFunc("/session/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/session/probe", s.handleProbe).Methods("POST")

	// Frame feed
	api.HandleFunc("/frames", s.handleFrames)

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	logger.WithComponent("api").Info().
		Str("addr", ln.Addr().String()).
		Msg("API server listening")

	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for handlers to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// HTTP Handlers

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	st := SessionStatus{
		ID:        s.session.ID(),
		Backend:   s.session.Backend(),
		Output:    s.session.Output(),
		Running:   s.session.Running(),
		HasFrame:  s.session.HasFrame(),
		Stats:     s.session.Stats(),
		Broadcast: s.broadcaster.Stats(),
	}
	if err := s.session.Err(); err != nil {
		st.LastError = err.Error()
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	if !s.broadcaster.IsRunning() {
		if err := s.broadcaster.Start(); err != nil && !s.broadcaster.IsRunning() {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}

	err := s.session.OnFrame(output.Handler(s.broadcaster))
	switch {
	case errors.Is(err, capture.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err)
		return
	case errors.Is(err, capture.ErrClosed):
		writeError(w, http.StatusGone, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	log.Info().Str("session_id", s.session.ID()).Msg("Capture started via API")
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.session.Stop()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	f, err := s.session.CaptureOnce(r.Context())
	switch {
	case errors.Is(err, capture.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err)
		return
	case errors.Is(err, capture.ErrWaitTimeout):
		writeError(w, http.StatusGatewayTimeout, err)
		return
	case errors.Is(err, capture.ErrClosed):
		writeError(w, http.StatusGone, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	frames, cancel, err := s.broadcaster.Subscribe()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	// Drain client messages so a close from the peer ends the stream
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for f := range frames {
		if err := conn.WriteJSON(f); err != nil {
			log.Debug().Err(err).Msg("WebSocket write error")
			return
		}
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"),
		time.Now().Add(time.Second))
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.configs.Get())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

// Version is reported by the health endpoint.
var Version = "0.1.0"
