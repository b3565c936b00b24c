// Package server exposes the case service over HTTP. Routing follows the
// plain ServeMux + path-splitting convention used across the services.
package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"casedesk/internal/identity"
	"casedesk/internal/ratelimit"
	"casedesk/internal/util"
	"casedesk/pkg/domain"
	"casedesk/services/case/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App      *app.App
	Verifier *identity.Verifier
	Limiter  *ratelimit.FixedWindowLimiter
}

// Server exposes HTTP endpoints for the case service.
type Server struct {
	app      *app.App
	verifier *identity.Verifier
	limiter  *ratelimit.FixedWindowLimiter
	mux      *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	s := &Server{
		app:      cfg.App,
		verifier: cfg.Verifier,
		limiter:  cfg.Limiter,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("case", util.WithSecurityHeaders(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	protected := func(h actorHandler) http.Handler {
		return identity.WithActor(s.verifier,
			ratelimit.WithMutationLimit(s.limiter, s.withActor(h)))
	}
	s.mux.Handle("/cases", protected(s.handleCases))
	s.mux.Handle("/cases/", protected(s.handleCaseByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type actorHandler func(http.ResponseWriter, *http.Request, domain.Actor)

func (s *Server) withActor(next actorHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := identity.ActorFromContext(r.Context())
		if !ok {
			writeDomainError(w, r, domain.ErrUnauthorized)
			return
		}
		next(w, r, actor)
	})
}

func (s *Server) handleCases(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateCase(w, r, actor)
	case http.MethodGet:
		s.handleListCases(w, r, actor)
	default:
		methodNotAllowed(w)
	}
}

// /cases/{id} and everything below it.
func (s *Server) handleCaseByID(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	rest := strings.TrimPrefix(r.URL.Path, "/cases/")
	parts := strings.Split(rest, "/")
	caseID := parts[0]
	if caseID == "" {
		notFound(w)
		return
	}
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleGetCase(w, r, actor, caseID)
	case len(parts) == 2 && parts[1] == "transition":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleTransition(w, r, actor, caseID)
	case len(parts) == 2 && parts[1] == "priority":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleSetPriority(w, r, actor, caseID)
	case len(parts) == 2 && parts[1] == "notes":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleAddNote(w, r, actor, caseID)
	case len(parts) == 2 && parts[1] == "feed":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleFeed(w, r, actor, caseID)
	case len(parts) == 2 && parts[1] == "documents":
		s.handleDocuments(w, r, actor, caseID)
	case len(parts) == 3 && parts[1] == "documents":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		s.handleDetachDocument(w, r, actor, caseID, parts[2])
	case len(parts) == 4 && parts[1] == "documents" && parts[3] == "download":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleDocumentDownload(w, r, actor, caseID, parts[2])
	default:
		notFound(w)
	}
}

type createCaseRequest struct {
	Category string         `json:"category"`
	Fields   map[string]any `json:"fields"`
}

func (s *Server) handleCreateCase(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	var req createCaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.app.CreateCase(r.Context(), actor, req.Category, req.Fields)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	cases, err := s.app.ListCases(r.Context(), actor)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": cases,
		"count": len(cases),
	})
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request, actor domain.Actor, caseID string) {
	c, err := s.app.GetCase(r.Context(), actor, caseID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type transitionRequest struct {
	To string `json:"to"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, actor domain.Actor, caseID string) {
	var req transitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.app.Transition(r.Context(), actor, caseID, domain.CaseStatus(req.To))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type priorityRequest struct {
	Priority string `json:"priority"`
}

func (s *Server) handleSetPriority(w http.ResponseWriter, r *http.Request, actor domain.Actor, caseID string) {
	var req priorityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.app.SetPriority(r.Context(), actor, caseID, domain.Priority(req.Priority))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type noteRequest struct {
	Body       string `json:"body"`
	Visibility string `json:"visibility"`
}

func (s *Server) handleAddNote(w http.ResponseWriter, r *http.Request, actor domain.Actor, caseID string) {
	var req noteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	visibility := domain.Visibility(req.Visibility)
	if req.Visibility == "" {
		visibility = domain.VisibilityPublic
	}
	upd, err := s.app.AddNote(r.Context(), actor, caseID, req.Body, visibility)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, upd)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request, actor domain.Actor, caseID string) {
	updates, err := s.app.ListFeed(r.Context(), actor, caseID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": updates,
		"count": len(updates),
	})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, actor domain.Actor, caseID string) {
	switch r.Method {
	case http.MethodPost:
		s.handleAttachDocument(w, r, actor, caseID)
	case http.MethodGet:
		s.handleListDocuments(w, r, actor, caseID)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAttachDocument(w http.ResponseWriter, r *http.Request, actor domain.Actor, caseID string) {
	// The ceiling check proper happens in the core against the declared
	// size; MaxBytesReader just stops an oversized body from streaming in.
	r.Body = http.MaxBytesReader(w, r.Body, s.app.MaxDocumentBytes()+(1<<20))
	if err := r.ParseMultipartForm(4 << 20); err != nil {
		writeDomainError(w, r, domain.ErrPayloadTooLarge)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "file is required (field: file)", "schema_violation")
		return
	}
	defer file.Close()
	contentType := header.Header.Get("Content-Type")
	doc, err := s.app.AttachDocument(r.Context(), actor, caseID, header.Filename, contentType, header.Size, file)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request, actor domain.Actor, caseID string) {
	docs, err := s.app.ListDocuments(r.Context(), actor, caseID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": docs,
		"count": len(docs),
	})
}

func (s *Server) handleDetachDocument(w http.ResponseWriter, r *http.Request, actor domain.Actor, caseID, docID string) {
	if err := s.app.DetachDocument(r.Context(), actor, caseID, docID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleDocumentDownload(w http.ResponseWriter, r *http.Request, actor domain.Actor, caseID, docID string) {
	url, filename, err := s.app.DocumentURL(r.Context(), actor, caseID, docID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"url":      url,
		"filename": filename,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body", "schema_violation")
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed", Code: "method_not_allowed"})
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found", Code: "not_found"})
}
