package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"draftforge/internal/util"
	"draftforge/pkg/domain"
	"draftforge/pkg/events"
	"draftforge/pkg/status"
	"draftforge/pkg/store"
	"draftforge/pkg/workflow"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	Store     store.Store
	Bus       events.Bus
	Projector *status.Projector
}

// Server exposes the project workflow HTTP endpoints.
type Server struct {
	store     store.Store
	bus       events.Bus
	projector *status.Projector
	mux       *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		store:     cfg.Store,
		bus:       cfg.Bus,
		projector: cfg.Projector,
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("draftforge", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/outline/defaults", s.handleDefaultOutline)
	s.mux.HandleFunc("/api/projects", s.handleProjects)
	s.mux.HandleFunc("/api/projects/", s.handleProjectByID)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDefaultOutline serves the seed outline clients show before any
// generated outline exists.
func (s *Server) handleDefaultOutline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chapters": workflow.FallbackOutline()})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateProject(w, r)
	case http.MethodGet:
		s.handleListProjects(w, r)
	default:
		methodNotAllowed(w)
	}
}

// /api/projects/{id} or /api/projects/{id}/{answers|content|status}
func (s *Server) handleProjectByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/projects/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleGetProject(w, r, id)
		return
	}
	switch parts[1] {
	case "answers":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleSubmitAnswers(w, r, id)
	case "content":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleRequestContent(w, r, id)
	case "status":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleProjectStatus(w, r, id)
	default:
		notFound(w, "not found")
	}
}

type createProjectRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Domain      string `json:"domain"`
	OwnerID     string `json:"ownerId"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	req.Domain = strings.TrimSpace(req.Domain)
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	if req.Title == "" || req.Description == "" || req.Domain == "" || req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "title, description, domain and ownerId are required")
		return
	}

	now := time.Now().UTC()
	project := domain.Project{
		ID:          util.NewID(),
		Title:       req.Title,
		Description: req.Description,
		Domain:      req.Domain,
		OwnerID:     req.OwnerID,
		Stage:       domain.StageQuestions,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateProject(project); err != nil {
		util.LoggerFromContext(r.Context()).Error("create project", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := s.publish(r, events.ProjectStart, project.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enqueue generation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "project": project})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	ownerID := strings.TrimSpace(r.URL.Query().Get("ownerId"))
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "ownerId is required")
		return
	}
	projects, err := s.store.ListProjectsByOwner(ownerID)
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("list projects", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": projects,
		"count": len(projects),
	})
}

// handleGetProject returns the project record merged with the artifact
// content and a signed download URL when content exists.
func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request, id string) {
	snap, err := s.projector.Project(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound(w, "project not found")
			return
		}
		util.LoggerFromContext(r.Context()).Error("get project", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"project":    snap.Project,
		"content":    snap.Content,
		"contentUrl": snap.ContentURL,
	})
}

type submitAnswersRequest struct {
	Answers []domain.Answer `json:"answers"`
}

func (s *Server) handleSubmitAnswers(w http.ResponseWriter, r *http.Request, id string) {
	var req submitAnswersRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Answers) == 0 {
		writeError(w, http.StatusBadRequest, "answers are required")
		return
	}
	for _, a := range req.Answers {
		if strings.TrimSpace(a.Question) == "" {
			writeError(w, http.StatusBadRequest, "every answer needs its question")
			return
		}
	}

	project, err := s.store.UpdateAnswers(id, req.Answers)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if err := s.store.SetStage(id, domain.StageChapters); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	project.Stage = domain.StageChapters
	if err := s.publish(r, events.QuestionsSubmitted, id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enqueue generation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "project": project})
}

type requestContentRequest struct {
	Chapters []domain.ChapterOutline `json:"chapters"`
}

// handleRequestContent persists the (possibly edited) outline and queues
// content generation. The chapter cap applies here, at the editing boundary,
// not inside the pipeline.
func (s *Server) handleRequestContent(w http.ResponseWriter, r *http.Request, id string) {
	var req requestContentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	project, ok, err := s.store.GetProject(id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if !ok {
		notFound(w, "project not found")
		return
	}

	if len(req.Chapters) > 0 {
		if len(req.Chapters) > domain.MaxChapters {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d chapters are allowed", domain.MaxChapters))
			return
		}
		for i, ch := range req.Chapters {
			if strings.TrimSpace(ch.Title) == "" || strings.TrimSpace(ch.Description) == "" {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("chapter %d needs a title and description", i+1))
				return
			}
		}
		if project, err = s.store.UpdateChapters(id, req.Chapters); err != nil {
			s.writeStoreError(w, r, err)
			return
		}
	} else if len(project.Chapters) == 0 {
		writeError(w, http.StatusBadRequest, "project has no chapter outline")
		return
	}

	if err := s.publish(r, events.ContentRequested, id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enqueue generation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "project": project})
}

func (s *Server) handleProjectStatus(w http.ResponseWriter, r *http.Request, id string) {
	snap, err := s.projector.Project(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound(w, "project not found")
			return
		}
		util.LoggerFromContext(r.Context()).Error("project status", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	// Once content exists, the artifact's embedded snapshot is the
	// authoritative project payload: it carries the chapter prose the DB
	// record never stores.
	var project any = snap.Project
	if snap.Content != nil {
		project = snap.Content
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  snap,
		"project": project,
	})
}

func (s *Server) publish(r *http.Request, name, projectID string) error {
	_, err := s.bus.Publish(r.Context(), events.Event{Name: name, ProjectID: projectID})
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("publish event", "event", name, "project_id", projectID, "err", err)
	}
	return err
}

func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		notFound(w, "project not found")
		return
	}
	util.LoggerFromContext(r.Context()).Error("store error", "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForProject(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForProject(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "project not found":
		return "PROJECT_NOT_FOUND"
	case message == "invalid json body":
		return "PROJECT_INVALID_REQUEST"
	case message == "failed to enqueue generation":
		return "PROJECT_ENQUEUE_FAILED"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "PROJECT_INVALID_REQUEST"
	case http.StatusNotFound:
		return "PROJECT_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
