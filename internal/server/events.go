package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/wesm/transferview/internal/monitor"
	"github.com/wesm/transferview/internal/parser"
)

// handleWatchSession streams a session's events. The stream opens
// with a snapshot and, once the session finishes, ends with a
// final snapshot and a done event.
func (s *Server) handleWatchSession(
	w http.ResponseWriter, r *http.Request,
) {
	id := r.PathValue("id")
	if !parser.IsValidSessionID(id) {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	m, err := s.monitors.Get(id)
	if errors.Is(err, monitor.ErrNoSession) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	stream, err := NewSSEStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError,
			"streaming not supported")
		return
	}

	subID, events := m.Subscribe()
	defer m.Unsubscribe(subID)

	if !stream.SendJSON("snapshot", m.Snapshot()) {
		return
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				stream.SendJSON("snapshot", m.Snapshot())
				stream.Send("done", string(m.State()))
				return
			}
			if !stream.SendJSON(string(ev.Kind()), ev) {
				return
			}
		case <-heartbeat.C:
			stream.Send("heartbeat",
				time.Now().Format(time.RFC3339))
		}
	}
}
