package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/wesm/transferview/internal/db"
	"github.com/wesm/transferview/internal/monitor"
	"github.com/wesm/transferview/internal/parser"
	"github.com/wesm/transferview/internal/transfer"
)

func (s *Server) handleListSessions(
	w http.ResponseWriter, r *http.Request,
) {
	q := r.URL.Query()

	limit, ok := parseIntParam(w, r, "limit")
	if !ok {
		return
	}
	limit = clampLimit(limit, db.DefaultSessionLimit, db.MaxSessionLimit)

	state := q.Get("state")
	if state != "" && !transfer.SessionState(state).Valid() {
		writeError(w, http.StatusBadRequest, "invalid state")
		return
	}

	page, err := s.db.ListSessions(r.Context(), db.SessionFilter{
		State:  state,
		Cursor: q.Get("cursor"),
		Limit:  limit,
	})
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		if errors.Is(err, db.ErrInvalidCursor) {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// resolveSnapshot returns the live snapshot when the session's
// logs are on disk, else the stored one. Both nil means the
// session is unknown.
func (s *Server) resolveSnapshot(
	ctx context.Context, id string,
) (*transfer.Snapshot, *monitor.Monitor, error) {
	m, err := s.monitors.Get(id)
	if err == nil {
		snap := m.Snapshot()
		return &snap, m, nil
	}
	if !errors.Is(err, monitor.ErrNoSession) {
		return nil, nil, err
	}
	snap, err := s.db.GetSnapshot(ctx, id)
	return snap, nil, err
}

// sessionFromRequest validates the id path value and resolves its
// snapshot, writing the error response itself when it returns
// false.
func (s *Server) sessionFromRequest(
	w http.ResponseWriter, r *http.Request,
) (*transfer.Snapshot, *monitor.Monitor, bool) {
	id := r.PathValue("id")
	if !parser.IsValidSessionID(id) {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return nil, nil, false
	}
	snap, m, err := s.resolveSnapshot(r.Context(), id)
	if err != nil {
		if handleContextError(w, err) {
			return nil, nil, false
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, nil, false
	}
	if snap == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, nil, false
	}
	return snap, m, true
}

func (s *Server) handleGetSession(
	w http.ResponseWriter, r *http.Request,
) {
	snap, _, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// reportResponse is the session report plus raw error log lines.
type reportResponse struct {
	SessionID  string                `json:"session_id"`
	State      transfer.SessionState `json:"state"`
	Summary    []string              `json:"summary"`
	Lines      []transfer.ReportLine `json:"lines"`
	ErrorLines []string              `json:"error_lines,omitempty"`
}

func (s *Server) handleGetReport(
	w http.ResponseWriter, r *http.Request,
) {
	snap, m, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	resp := reportResponse{
		SessionID: snap.SessionID,
		State:     snap.State,
		Summary:   snap.Report.Summary,
		Lines:     snap.Report.Lines,
	}
	if resp.Summary == nil {
		resp.Summary = []string{}
	}
	if resp.Lines == nil {
		resp.Lines = []transfer.ReportLine{}
	}
	if m != nil {
		resp.ErrorLines = m.ErrorLines()
	}
	writeJSON(w, http.StatusOK, resp)
}

// liveSession is a session directory found on disk.
type liveSession struct {
	ID        string                `json:"id"`
	ModTime   time.Time             `json:"mod_time"`
	Monitored bool                  `json:"monitored"`
	State     transfer.SessionState `json:"state,omitempty"`
}

func (s *Server) handleListLive(
	w http.ResponseWriter, _ *http.Request,
) {
	found, err := s.monitors.Discover()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]liveSession, 0, len(found))
	for _, d := range found {
		ls := liveSession{ID: d.ID, ModTime: d.ModTime}
		if m, ok := s.monitors.Lookup(d.ID); ok {
			ls.Monitored = true
			ls.State = m.State()
		}
		out = append(out, ls)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions_dir": s.monitors.SessionsDir(),
		"sessions":     out,
	})
}
