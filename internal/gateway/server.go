// Package gateway exposes the agent driver's event stream to clients:
// newline-delimited JSON or SSE over plain HTTP, and a websocket
// transport for clients that keep a connection open across runs.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arcflow/agentcore/internal/agent"
	"github.com/arcflow/agentcore/internal/config"
	"github.com/arcflow/agentcore/internal/observability"
	"github.com/arcflow/agentcore/internal/orchestrator"
)

// Driver is the slice of AgentDriver the gateway needs; tests swap in a
// fake that replays canned events.
type Driver interface {
	Run(ctx context.Context, threadID, projectID string, cfg orchestrator.DriverConfig) <-chan orchestrator.StreamEvent
}

// Config holds the gateway's listen address, auth keys, and per-run
// driver defaults.
type Config struct {
	Host      string
	Port      int
	APIKeys   []config.APIKeyConfig
	RunConfig orchestrator.DriverConfig
}

// Server is the HTTP surface for starting runs and consuming their
// event streams.
type Server struct {
	driver Driver
	store  agent.ThreadStore
	logger *observability.Logger
	cfg    Config

	httpServer *http.Server
}

// NewServer constructs a gateway server. logger may be nil.
func NewServer(driver Driver, store agent.ThreadStore, logger *observability.Logger, cfg Config) *Server {
	s := &Server{driver: driver, store: store, logger: logger, cfg: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/threads/{thread_id}/messages", s.withAuth(s.handleAddMessage))
	mux.HandleFunc("POST /api/threads/{thread_id}/run", s.withAuth(s.handleRun))
	mux.HandleFunc("GET /api/threads/{thread_id}/stream", s.withAuth(s.handleWS))
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.cfg.APIKeys) == 0 {
			next(w, r)
			return
		}
		key := bearerToken(r)
		for _, entry := range s.cfg.APIKeys {
			if entry.Key != "" && entry.Key == key {
				next(w, r)
				return
			}
		}
		s.jsonError(w, http.StatusUnauthorized, "invalid or missing API key")
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return r.URL.Query().Get("api_key")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

type addMessageRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread_id")
	var req addMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.jsonError(w, http.StatusBadRequest, "content is required")
		return
	}

	content, _ := json.Marshal(req.Content)
	id, err := s.store.AddMessage(r.Context(), threadID, agent.MessageKindUser, content, true)
	if err != nil {
		s.logError(r.Context(), "add message failed", err)
		s.jsonError(w, http.StatusInternalServerError, "failed to persist message")
		return
	}
	s.jsonResponse(w, http.StatusCreated, map[string]string{"message_id": id})
}

type runRequest struct {
	ProjectID string `json:"project_id"`
	Model     string `json:"model,omitempty"`
}

// handleRun starts an agent run and streams its events until the driver
// loop exits. The response is SSE when the client asks for
// text/event-stream, newline-delimited JSON otherwise.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread_id")

	var req runRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		s.jsonError(w, http.StatusBadRequest, "project_id is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.jsonError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sse := strings.Contains(r.Header.Get("Accept"), "text/event-stream")
	if sse {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
	} else {
		w.Header().Set("Content-Type", "application/x-ndjson")
	}
	w.WriteHeader(http.StatusOK)

	runCfg := s.cfg.RunConfig
	if req.Model != "" {
		runCfg.Model = req.Model
	}
	runCfg.Stream = true

	ctx := observability.AddRequestID(r.Context(), uuid.NewString())
	events := s.driver.Run(ctx, threadID, req.ProjectID, runCfg)
	for event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if sse {
			fmt.Fprintf(w, "data: %s\n\n", payload)
		} else {
			fmt.Fprintf(w, "%s\n", payload)
		}
		flusher.Flush()
	}
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

func (s *Server) logError(ctx context.Context, msg string, err error) {
	if s.logger != nil {
		s.logger.Error(ctx, msg, "error", err)
	}
}
