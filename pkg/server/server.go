// Package server exposes projects, conversations and their sandboxes over
// HTTP and websockets.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/nstogner/forge/pkg/agent"
	"github.com/nstogner/forge/pkg/model"
	"github.com/nstogner/forge/pkg/sandbox"
	"github.com/nstogner/forge/pkg/store"
	"github.com/nstogner/forge/pkg/tool"
)

// HistoryLimit is how many stored messages are loaded as exchange history.
const HistoryLimit = 50

// Server serves the REST API and chat websocket.
type Server struct {
	projects store.ProjectStore
	messages store.MessageStore
	agent    *agent.Agent
	provider model.Provider
	sandbox  sandbox.Manager
	tools    []tool.Declaration
	srv      *http.Server
}

// New creates a new Server. sb may be nil, in which case sandbox tools,
// apply and the preview proxy are unavailable. tools are offered to every
// exchange in addition to the sandbox tools.
func New(
	projects store.ProjectStore,
	messages store.MessageStore,
	ag *agent.Agent,
	provider model.Provider,
	sb sandbox.Manager,
	tools []tool.Declaration,
) *Server {
	return &Server{
		projects: projects,
		messages: messages,
		agent:    ag,
		provider: provider,
		sandbox:  sb,
		tools:    tools,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Projects
	mux.HandleFunc("GET /api/projects", s.handleListProjects)
	mux.HandleFunc("POST /api/projects", s.handleCreateProject)
	mux.HandleFunc("GET /api/projects/{id}", s.handleGetProject)
	mux.HandleFunc("DELETE /api/projects/{id}", s.handleDeleteProject)

	// Messages
	mux.HandleFunc("GET /api/projects/{id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/projects/{id}/messages", s.handleSendMessage)
	mux.HandleFunc("POST /api/projects/{id}/messages/{messageID}/apply", s.handleApplyMessage)

	// Sandbox
	mux.HandleFunc("GET /api/projects/{id}/sandbox/status", s.handleSandboxStatus)
	mux.HandleFunc("/api/proxy/{id}/{path...}", s.handleProxy)

	// Models
	mux.HandleFunc("GET /api/models", s.handleListModels)

	// WebSocket
	mux.HandleFunc("/api/projects/{id}/chat", s.handleChatWebSocket)

	return s.corsMiddleware(mux)
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting web server", "addr", addr)
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, err error) {
	slog.Error("API Error", "status", status, "error", err)
	s.jsonResponse(w, status, map[string]string{"error": err.Error()})
}

// storeError maps store errors to a status code.
func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, err)
		return
	}
	s.errorResponse(w, http.StatusInternalServerError, err)
}
