package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/cuemby/lobby/pkg/alerts"
	"github.com/cuemby/lobby/pkg/auth"
	"github.com/cuemby/lobby/pkg/engine"
	"github.com/cuemby/lobby/pkg/types"
	"github.com/gorilla/mux"
)

const maxBodyBytes = 64 << 10

// RegisterRequest is the visitor registration body
type RegisterRequest struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// RegisterResponse carries the id the visitor must use from now on
type RegisterResponse struct {
	ID    string             `json:"id"`
	State types.VisitorState `json:"state"`
}

// LoginRequest is the operator login body
type LoginRequest struct {
	Password string `json:"password"`
}

// ApproveRequest optionally names the content to show
type ApproveRequest struct {
	ContentRef string `json:"contentRef,omitempty"`
}

// AlertRequest creates an alert from an external producer
type AlertRequest struct {
	Type     string              `json:"type"`
	Message  string              `json:"message"`
	Severity types.AlertSeverity `json:"severity,omitempty"`
}

// ErrorResponse is the body of every non-2xx JSON reply
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	meta := make(map[string]string, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta["ip"] = auth.ClientIP(r)
	if _, ok := meta["userAgent"]; !ok {
		meta["userAgent"] = r.UserAgent()
	}

	visitor, err := s.engine.Register(r.Context(), req.ID, meta)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RegisterResponse{ID: visitor.ID, State: visitor.State})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.Status(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := s.auth.Login(auth.ClientIP(r), req.Password)
	switch {
	case errors.Is(err, auth.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleListVisitors(w http.ResponseWriter, r *http.Request) {
	visitors, err := s.engine.List(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if visitors == nil {
		visitors = []*types.Visitor{}
	}
	writeJSON(w, http.StatusOK, visitors)
}

func (s *Server) handleGetVisitor(w http.ResponseWriter, r *http.Request) {
	visitor, err := s.engine.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, visitor)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ref := strings.TrimSpace(req.ContentRef)
	if ref != "" && s.content != nil && !s.content.Has(ref) {
		writeError(w, http.StatusBadRequest, "unknown content ref "+ref)
		return
	}

	visitor, err := s.engine.Approve(r.Context(), mux.Vars(r)["id"], ref)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, visitor)
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	visitor, err := s.engine.Block(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, visitor)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handlePages(w http.ResponseWriter, r *http.Request) {
	pages := []*types.Page{}
	if s.content != nil {
		pages = s.content.List()
	}
	writeJSON(w, http.StatusOK, pages)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	list, err := s.alerts.List(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if list == nil {
		list = []*types.Alert{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req AlertRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	alert, err := s.alerts.Publish(r.Context(), req.Type, req.Message, req.Severity)
	if err != nil {
		if errors.Is(err, alerts.ErrInvalidAlert) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, alert)
}

func (s *Server) handleReadAllAlerts(w http.ResponseWriter, r *http.Request) {
	if err := s.alerts.MarkAllRead(r.Context()); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReadAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.alerts.MarkRead(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.alerts.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeEngineError maps NotFound to 404 and everything else to 500
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	if errors.Is(err, engine.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.logger.Error().Err(err).Msg("Request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

// decodeBody decodes a JSON body into v. An empty body is accepted when
// optional is set.
func decodeBody(r *http.Request, v interface{}, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
