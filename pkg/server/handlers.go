package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nstogner/forge/pkg/action"
	"github.com/nstogner/forge/pkg/agent"
	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/sandbox"
)

// sandboxCreateTimeout bounds the background start of a new project's
// container, which may include an image pull.
const sandboxCreateTimeout = 5 * time.Minute

var errNoSandbox = errors.New("sandbox is disabled")

// projectView is a project with its sandbox state.
type projectView struct {
	domain.Project
	Status     string `json:"status"`
	PreviewURL string `json:"preview_url,omitempty"`
}

// messageView is a stored message with its tokenized content.
type messageView struct {
	domain.StoredMessage
	Segments []action.Segment `json:"segments,omitempty"`
}

// --- Projects ---

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.projects.ListProjects(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if projects == nil {
		projects = []domain.Project{}
	}
	s.jsonResponse(w, http.StatusOK, projects)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var p domain.Project
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(p.Name) == "" {
		s.errorResponse(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	p.ID = uuid.New().String()
	if err := s.projects.CreateProject(r.Context(), &p); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}

	if s.sandbox != nil {
		go func(id string) {
			ctx, cancel := context.WithTimeout(context.Background(), sandboxCreateTimeout)
			defer cancel()
			if _, err := s.sandbox.Create(ctx, id); err != nil {
				slog.Error("Failed to start sandbox", "projectID", id, "error", err)
			}
		}(p.ID)
	}
	s.jsonResponse(w, http.StatusCreated, p)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.projects.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, err)
		return
	}

	view := projectView{Project: *p, Status: sandbox.StatusUnknown}
	if s.sandbox != nil {
		if status, err := s.sandbox.Status(r.Context(), p.ID); err == nil {
			view.Status = status
		}
		if view.Status == sandbox.StatusRunning {
			view.PreviewURL = "/api/proxy/" + p.ID + "/"
		}
	}
	s.jsonResponse(w, http.StatusOK, view)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.projects.GetProject(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}
	if s.sandbox != nil {
		if err := s.sandbox.Remove(r.Context(), id); err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err)
			return
		}
	}
	if err := s.projects.DeleteProject(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Messages ---

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.projects.GetProject(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}
	msgs, err := s.messages.ListMessages(r.Context(), id, 0)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}

	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		v := messageView{StoredMessage: m}
		if m.Role == domain.RoleAssistant {
			v.Segments = action.TokenizeComplete(m.Content)
		}
		views = append(views, v)
	}
	s.jsonResponse(w, http.StatusOK, views)
}

// handleSendMessage runs an exchange and streams the answer as plain text.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.projects.GetProject(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}

	ex, err := s.startExchange(r.Context(), id, req.Content, "")
	if errors.Is(err, agent.ErrEmptyMessage) {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Exchange-ID", ex.ID())
	w.Header().Set("Trailer", "X-Message-ID, X-Error")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for chunk := range ex.Text() {
		if _, err := w.Write([]byte(chunk)); err != nil {
			break
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	msg, err := s.finishExchange(r.Context(), id, ex)
	if err != nil {
		w.Header().Set("X-Error", err.Error())
		return
	}
	w.Header().Set("X-Message-ID", msg.ID)
}

// handleApplyMessage dispatches a stored answer's actions to the sandbox.
func (s *Server) handleApplyMessage(w http.ResponseWriter, r *http.Request) {
	if s.sandbox == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, errNoSandbox)
		return
	}

	id := r.PathValue("id")
	msg, err := s.messages.GetMessage(r.Context(), id, r.PathValue("messageID"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	if msg.Role != domain.RoleAssistant {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("message %s is not an assistant message", msg.ID))
		return
	}

	outcomes := sandbox.Apply(r.Context(), s.sandbox, id, action.TokenizeComplete(msg.Content))
	if outcomes == nil {
		outcomes = []sandbox.Outcome{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"outcomes": outcomes})
}

// --- Sandbox ---

func (s *Server) handleSandboxStatus(w http.ResponseWriter, r *http.Request) {
	if s.sandbox == nil {
		s.jsonResponse(w, http.StatusOK, map[string]string{"status": sandbox.StatusUnknown})
		return
	}
	status, err := s.sandbox.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": status})
}

// --- Models ---

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.provider.List(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, models)
}
