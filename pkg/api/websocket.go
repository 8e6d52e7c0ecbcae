package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/cuemby/lobby/pkg/engine"
	"github.com/cuemby/lobby/pkg/push"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// handleVisitorSocket opens the visitor push channel. Unknown ids are
// rejected before the upgrade so the client falls back to registering. The
// attach itself runs under the record lock; a delete that lands during the
// handshake closes the socket with "not found" instead.
func (s *Server) handleVisitorSocket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.engine.Exists(r.Context(), id) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		s.logger.Debug().Err(err).Str("visitor_id", id).Msg("Visitor websocket upgrade failed")
		return
	}
	ws.SetReadLimit(maxInboundFrame)

	var conn *push.Conn
	err = s.engine.AttachChannel(r.Context(), id, func() {
		conn = s.push.AttachVisitor(id, ws)
	})
	if err != nil {
		code, reason := websocket.CloseInternalServerErr, "internal error"
		if errors.Is(err, engine.ErrNotFound) {
			code, reason = websocket.ClosePolicyViolation, push.ReasonNotFound
		} else {
			s.logger.Error().Err(err).Str("visitor_id", id).Msg("Failed to attach visitor channel")
		}
		deadline := time.Now().Add(time.Second)
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = ws.Close()
		return
	}

	conn.Serve()
}

// handleAdminSocket opens an operator push channel. The auth middleware has
// already validated the session token.
func (s *Server) handleAdminSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Operator websocket upgrade failed")
		return
	}
	ws.SetReadLimit(maxInboundFrame)

	s.push.AttachOperator(ws).Serve()
}
