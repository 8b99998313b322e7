package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/r3labs/sse/v2"

	"github.com/openivr/flowpulse/pkg/config"
	"github.com/openivr/flowpulse/pkg/events"
	"github.com/openivr/flowpulse/pkg/monitor"
)

// sseStream is the single stream all envelopes are published on; clients
// filter by the channel field inside the envelope.
const sseStream = "events"

// Server is the relay HTTP server: WebSocket and SSE push, the live-data
// polling endpoint, and the workflow command API.
type Server struct {
	config   *config.Config
	router   *mux.Router
	server   *http.Server
	hub      *Hub
	sse      *sse.Server
	executor Executor
	store    SnapshotStore
	tokens   *TokenService
	logger   *slog.Logger

	// foldMu serializes read-modify-write cycles on the stored snapshot
	foldMu sync.Mutex
}

// NewServer creates a relay server.
func NewServer(cfg *config.Config, executor Executor, store SnapshotStore, logger *slog.Logger) *Server {
	sseServer := sse.New()
	sseServer.AutoReplay = false
	sseServer.CreateStream(sseStream)

	s := &Server{
		config:   cfg,
		router:   mux.NewRouter(),
		hub:      NewHub(logger),
		sse:      sseServer,
		executor: executor,
		store:    store,
		tokens:   NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiration),
		logger:   logger,
	}

	s.setupRoutes()
	return s
}

// Tokens exposes the relay's token service.
func (s *Server) Tokens() *TokenService {
	return s.tokens
}

// Handler returns the relay's HTTP handler, for embedding in tests or an
// existing server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming endpoints manage their own deadlines
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting relay server", slog.String("addr", addr))

	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the HTTP server gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.sse.Close()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Publish folds an event into the stored snapshot and fans it out to push
// subscribers, so polling and push observers agree on state.
func (s *Server) Publish(channel, event string, payload interface{}) error {
	env, err := events.NewEnvelope(channel, event, payload)
	if err != nil {
		return err
	}

	s.foldMu.Lock()
	ctx := context.Background()
	snap, err := s.store.Load(ctx)
	if err == nil {
		next, reduceErr := monitor.Reduce(snap, env, time.Now())
		if reduceErr != nil {
			s.logger.Warn("event not foldable into snapshot",
				slog.String("event", event), slog.Any("error", reduceErr))
		} else if next != snap {
			if saveErr := s.store.Save(ctx, next); saveErr != nil {
				s.logger.Warn("failed to save snapshot", slog.Any("error", saveErr))
			}
		}
	} else {
		s.logger.Warn("failed to load snapshot", slog.Any("error", err))
	}
	s.foldMu.Unlock()

	s.hub.Broadcast(env)

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	s.sse.Publish(sseStream, &sse.Event{Data: data})
	return nil
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	api.Handle("/ws", s.tokens.Authenticate(http.HandlerFunc(s.hub.HandleWebSocket))).Methods(http.MethodGet)
	api.Handle("/sse", s.tokens.Authenticate(http.HandlerFunc(s.handleSSE))).Methods(http.MethodGet)

	workflow := api.PathPrefix("/workflow").Subrouter()
	workflow.Use(s.tokens.Authenticate)
	workflow.HandleFunc("/live-data", s.handleLiveData).Methods(http.MethodGet, http.MethodOptions)
	workflow.HandleFunc("/execute", s.handleExecute).Methods(http.MethodPost, http.MethodOptions)
	workflow.HandleFunc("/pause", s.handlePause).Methods(http.MethodPost, http.MethodOptions)
	workflow.HandleFunc("/resume", s.handleResume).Methods(http.MethodPost, http.MethodOptions)
	workflow.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost, http.MethodOptions)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	// The sse library routes by ?stream=; clients address the relay by
	// channel list instead, so pin the stream here.
	q := r.URL.Query()
	q.Set("stream", sseStream)
	r.URL.RawQuery = q.Encode()
	s.sse.ServeHTTP(w, r)
}

// handleLiveData returns the raw view-model snapshot (no envelope); this is
// the polling fallback's fetch target.
func (s *Server) handleLiveData(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Load(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load live data")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// commandRequest is the body shared by the workflow command endpoints.
type commandRequest struct {
	WorkflowID string                 `json:"workflow_id"`
	InputData  map[string]interface{} `json:"input_data,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeCommand(w, r)
	if !ok {
		return
	}
	handle, err := s.executor.Execute(r.Context(), req.WorkflowID, req.InputData)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeSuccess(w, handle)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.handleSimpleCommand(w, r, s.executor.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.handleSimpleCommand(w, r, s.executor.Resume)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.handleSimpleCommand(w, r, s.executor.Stop)
}

func (s *Server) handleSimpleCommand(w http.ResponseWriter, r *http.Request, cmd func(context.Context, string) error) {
	req, ok := s.decodeCommand(w, r)
	if !ok {
		return
	}
	if err := cmd(r.Context(), req.WorkflowID); err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeSuccess(w, nil)
}

func (s *Server) decodeCommand(w http.ResponseWriter, r *http.Request) (commandRequest, bool) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.WorkflowID == "" {
		s.writeError(w, http.StatusBadRequest, "workflow_id is required")
		return req, false
	}
	return req, true
}

func (s *Server) writeSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
