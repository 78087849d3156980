package server

import (
	"errors"
	"log"
	"net/http"
	"os"

	"github.com/wesm/transferview/internal/parser"
	"github.com/wesm/transferview/internal/transfer"
)

// childLog is a worker log rendered to display lines.
type childLog struct {
	SessionID string               `json:"session_id"`
	File      string               `json:"file"`
	Lines     []transfer.ChildLine `json:"lines"`
	Percent   *int                 `json:"percent,omitempty"`
}

// renderChildLog renders a finished worker log. Progress-dot lines
// that replace their predecessor are collapsed.
func renderChildLog(path, file string) (childLog, error) {
	out := childLog{File: file, Lines: []transfer.ChildLine{}}
	renderer := transfer.NewChildRenderer("", 0, file)
	emit := func(ev transfer.Event) {
		switch e := ev.(type) {
		case transfer.ChildLine:
			if e.Replace && len(out.Lines) > 0 {
				out.Lines[len(out.Lines)-1] = e
				return
			}
			out.Lines = append(out.Lines, e)
		case transfer.TailProgress:
			pct := e.Percent
			out.Percent = &pct
		}
	}
	err := parser.ParseFile(path, func(msg transfer.Message) error {
		if err := renderer.Render(msg, emit); err != nil {
			log.Printf("server: rendering %s: %v", file, err)
		}
		return nil
	})
	return out, err
}

func (s *Server) handleGetLog(
	w http.ResponseWriter, r *http.Request,
) {
	id := r.PathValue("id")
	if !parser.IsValidSessionID(id) {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	file := r.URL.Query().Get("file")
	if !parser.ValidLogName(file) {
		writeError(w, http.StatusBadRequest, "invalid log file name")
		return
	}

	dir := parser.FindSessionDir(s.monitors.SessionsDir(), id)
	if dir == "" {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	path, err := parser.LogPath(dir, file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := renderChildLog(path, file)
	if errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusNotFound, "log not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out.SessionID = id
	writeJSON(w, http.StatusOK, out)
}
