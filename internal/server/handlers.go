package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rickgao/trader-chat/internal/chat"
	"github.com/rickgao/trader-chat/internal/model"
	"github.com/rickgao/trader-chat/internal/version"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 * 1024

type sendRequest struct {
	Content string `json:"content"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// check is one dependency result in the health response.
type check struct {
	Status  string `json:"status"` // "pass" or "fail"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Sessions  int              `json:"sessions"`
	Checks    map[string]check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:    "healthy",
		Version:   version.Version,
		Sessions:  s.sessions.Len(),
		Checks:    make(map[string]check, len(s.checks)),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	for name, c := range s.checks {
		start := time.Now()
		if err := c.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", "check", name, "error", err)
			resp.Checks[name] = check{Status: "fail", Message: "connection failed"}
			resp.Status = "degraded"
			continue
		}
		resp.Checks[name] = check{Status: "pass", Latency: time.Since(start).String()}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create()
	s.logger.Debug("session created", "session", sess.ID())
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

// session resolves {id} or writes a 404.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*chat.Session, bool) {
	sess, ok := s.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
	}
	return sess, ok
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Remove(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelectProvider(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var p model.Provider
	if err := decodeBody(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p.Address = strings.TrimSpace(p.Address)
	if p.Address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	if err := sess.SelectProvider(p); err != nil {
		if errors.Is(err, chat.ErrSendInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info("provider selected", "session", sess.ID(), "provider", p.Address, "model", p.Model)
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req sendRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.SendTimeout)
	defer cancel()

	if err := s.sender.Send(ctx, sess, req.Content); err != nil {
		if errors.Is(err, chat.ErrSendInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("send failed", "session", sess.ID(), "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, sess.Snapshot())
}
