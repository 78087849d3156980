package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesm/transferview/internal/config"
	"github.com/wesm/transferview/internal/db"
	"github.com/wesm/transferview/internal/monitor"
	"github.com/wesm/transferview/internal/parser"
	"github.com/wesm/transferview/internal/server"
	"github.com/wesm/transferview/internal/testlog"
	"github.com/wesm/transferview/internal/transfer"
)

// testEnv is a server over a temporary sessions dir and database.
type testEnv struct {
	srv         *server.Server
	handler     http.Handler
	db          *db.DB
	sessionsDir string
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	database, err := db.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	sessionsDir := filepath.Join(dir, "sessions")
	require.NoError(t, os.MkdirAll(sessionsDir, 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	mgr := monitor.NewManager(ctx, sessionsDir, 20*time.Millisecond, database)
	t.Cleanup(func() {
		cancel()
		mgr.Close()
	})

	cfg := config.Config{
		Host:         "127.0.0.1",
		SessionsDir:  sessionsDir,
		DataDir:      dir,
		DBPath:       dbPath,
		WriteTimeout: 5 * time.Second,
	}
	srv := server.New(cfg, database, mgr,
		server.WithVersion(server.VersionInfo{Version: "v1.2.3"}),
		server.WithHeartbeat(50*time.Millisecond),
	)
	return &testEnv{
		srv:         srv,
		handler:     srv.Handler(),
		db:          database,
		sessionsDir: sessionsDir,
	}
}

func (te *testEnv) writeSession(
	t *testing.T, id string, files map[string]string,
) string {
	t.Helper()
	dir := filepath.Join(te.sessionsDir, id)
	require.NoError(t, testlog.WriteSession(dir, files))
	return dir
}

func (te *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	te.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func finishedTransfer() map[string]string {
	return map[string]string{
		parser.MasterLogName: testlog.Lines(
			testlog.QueueCount("TRANSFER", 2),
			testlog.QueueSize("TRANSFER", 300),
			testlog.StartItem("TRANSFER", "a.log", 100),
			testlog.StartItem("TRANSFER", "b.log", 200),
			testlog.ProcessItem("TRANSFER", 1, "a.log", "Account", "alice"),
			testlog.FinishItem("success-item", "TRANSFER", "a.log",
				"Account", "alice", nil),
			testlog.ProcessItem("TRANSFER", 1, "b.log", "Account", "bob"),
			testlog.FinishItem("warning-item", "TRANSFER", "b.log",
				"Account", "bob", map[string]any{"message": "slow"}),
			testlog.Finish("complete", "TRANSFER", 1),
			testlog.Finish("complete", "", 0),
		),
		"a.log": testlog.Lines(
			testlog.Section("start_restore_files", "Restoring", "files"),
			testlog.Text("out", "copying", "files"),
			testlog.Section("end_restore_files", "done"),
			testlog.Percentage(100),
		),
		"b.log": testlog.Lines(
			testlog.Text("warn", "disk is slow"),
		),
		parser.ErrorLogName: "oops\n",
	}
}

func TestGetSessionLive(t *testing.T) {
	te := setup(t)
	te.writeSession(t, "done", finishedTransfer())

	w := te.get(t, "/api/v1/sessions/done")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	snap := decode[transfer.Snapshot](t, w)
	assert.Equal(t, "done", snap.SessionID)
	assert.Equal(t, transfer.StateCompleted, snap.State)
	q, ok := snap.Queue("TRANSFER")
	require.True(t, ok)
	assert.Equal(t, 100, q.Percent)

	stored, err := te.db.GetSnapshot(context.Background(), "done")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, transfer.StateCompleted, stored.State)
}

func TestGetSessionFromStore(t *testing.T) {
	te := setup(t)
	require.NoError(t, te.db.SaveSnapshot(transfer.Snapshot{
		SessionID: "archived",
		State:     transfer.StateAborted,
	}))

	w := te.get(t, "/api/v1/sessions/archived")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	snap := decode[transfer.Snapshot](t, w)
	assert.Equal(t, transfer.StateAborted, snap.State)
}

func TestGetSessionErrors(t *testing.T) {
	te := setup(t)
	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/sessions/missing", http.StatusNotFound},
		{"/api/v1/sessions/bad.id", http.StatusBadRequest},
		{"/api/v1/sessions/missing/report", http.StatusNotFound},
		{"/api/v1/sessions/bad.id/report", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := te.get(t, tt.path)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestListSessions(t *testing.T) {
	te := setup(t)
	te.writeSession(t, "done", finishedTransfer())
	require.Equal(t, http.StatusOK, te.get(t, "/api/v1/sessions/done").Code)
	require.NoError(t, te.db.SaveSnapshot(transfer.Snapshot{
		SessionID: "old", State: transfer.StateFailed,
	}))

	w := te.get(t, "/api/v1/sessions")
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[db.SessionPage](t, w)
	assert.Equal(t, 2, page.Total)

	w = te.get(t, "/api/v1/sessions?state=COMPLETED")
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[db.SessionPage](t, w)
	require.Len(t, page.Sessions, 1)
	assert.Equal(t, "done", page.Sessions[0].ID)
	assert.Equal(t, 100, page.Sessions[0].Percent)

	w = te.get(t, "/api/v1/sessions?limit=1")
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[db.SessionPage](t, w)
	require.Len(t, page.Sessions, 1)
	require.NotEmpty(t, page.NextCursor)

	w = te.get(t, "/api/v1/sessions?limit=1&cursor="+page.NextCursor)
	require.Equal(t, http.StatusOK, w.Code)
	next := decode[db.SessionPage](t, w)
	require.Len(t, next.Sessions, 1)
	assert.NotEqual(t, page.Sessions[0].ID, next.Sessions[0].ID)

	for _, bad := range []string{
		"/api/v1/sessions?state=DONE",
		"/api/v1/sessions?cursor=garbage",
		"/api/v1/sessions?limit=x",
	} {
		assert.Equal(t, http.StatusBadRequest, te.get(t, bad).Code, bad)
	}
}

func TestGetReport(t *testing.T) {
	te := setup(t)
	te.writeSession(t, "done", finishedTransfer())

	w := te.get(t, "/api/v1/sessions/done/report")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		State      transfer.SessionState `json:"state"`
		Summary    []string              `json:"summary"`
		Lines      []transfer.ReportLine `json:"lines"`
		ErrorLines []string              `json:"error_lines"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, transfer.StateCompleted, resp.State)
	assert.Equal(t,
		[]string{"TRANSFER: 2 completed, 1 had warnings, and 0 failed."},
		resp.Summary)
	require.Len(t, resp.Lines, 1)
	assert.Equal(t, "warningmsg", resp.Lines[0].Class)
	assert.Equal(t, []string{"oops"}, resp.ErrorLines)
}

func TestGetLog(t *testing.T) {
	te := setup(t)
	te.writeSession(t, "done", finishedTransfer())

	w := te.get(t, "/api/v1/sessions/done/log?file=a.log")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		File    string               `json:"file"`
		Lines   []transfer.ChildLine `json:"lines"`
		Percent *int                 `json:"percent"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "a.log", resp.File)
	require.Len(t, resp.Lines, 2)
	assert.True(t, resp.Lines[0].Header)
	assert.Equal(t, 0, resp.Lines[0].Depth)
	assert.Equal(t, "copying files", resp.Lines[1].Text)
	assert.Equal(t, 1, resp.Lines[1].Depth)
	require.NotNil(t, resp.Percent)
	assert.Equal(t, 100, *resp.Percent)

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/sessions/done/log?file=nope.log", http.StatusNotFound},
		{"/api/v1/sessions/done/log?file=..%2Fdone%2Fa.log", http.StatusBadRequest},
		{"/api/v1/sessions/done/log", http.StatusBadRequest},
		{"/api/v1/sessions/missing/log?file=a.log", http.StatusNotFound},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, te.get(t, tt.path).Code, tt.path)
	}
}

func TestListLive(t *testing.T) {
	te := setup(t)
	te.writeSession(t, "done", finishedTransfer())
	te.writeSession(t, "fresh", map[string]string{parser.MasterLogName: ""})
	require.Equal(t, http.StatusOK, te.get(t, "/api/v1/sessions/done").Code)

	w := te.get(t, "/api/v1/live")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		SessionsDir string `json:"sessions_dir"`
		Sessions    []struct {
			ID        string `json:"id"`
			Monitored bool   `json:"monitored"`
			State     string `json:"state"`
		} `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, te.sessionsDir, resp.SessionsDir)
	require.Len(t, resp.Sessions, 2)
	states := make(map[string]string)
	for _, s := range resp.Sessions {
		if s.Monitored {
			states[s.ID] = s.State
		}
	}
	assert.Equal(t, map[string]string{"done": "COMPLETED"}, states)
}

func TestGetVersion(t *testing.T) {
	te := setup(t)
	w := te.get(t, "/api/v1/version")
	require.Equal(t, http.StatusOK, w.Code)
	v := decode[server.VersionInfo](t, w)
	assert.Equal(t, "v1.2.3", v.Version)
}

// readEvents collects SSE event names until the stream ends or
// stop returns true.
func readEvents(
	t *testing.T, url string, stop func(event string) bool,
) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		name, ok := strings.CutPrefix(scanner.Text(), "event: ")
		if !ok {
			continue
		}
		events = append(events, name)
		if stop != nil && stop(name) {
			break
		}
	}
	return events
}

func TestWatchFinishedSession(t *testing.T) {
	te := setup(t)
	te.writeSession(t, "done", finishedTransfer())
	ts := httptest.NewServer(te.handler)
	defer ts.Close()

	events := readEvents(t, ts.URL+"/api/v1/sessions/done/watch", nil)
	assert.Equal(t, []string{"snapshot", "snapshot", "done"}, events)
}

func TestWatchLiveSession(t *testing.T) {
	te := setup(t)
	dir := te.writeSession(t, "live", map[string]string{
		parser.MasterLogName: testlog.Lines(
			testlog.QueueCount("RESTORE", 1),
			testlog.QueueSize("RESTORE", 10),
			testlog.StartItem("RESTORE", "r.log", 10),
			testlog.ProcessItem("RESTORE", 1, "r.log", "Account", "bob"),
		),
	})
	ts := httptest.NewServer(te.handler)
	defer ts.Close()

	go func() {
		time.Sleep(200 * time.Millisecond)
		f, err := os.OpenFile(filepath.Join(dir, parser.MasterLogName),
			os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		defer f.Close()
		f.WriteString(testlog.Lines(
			testlog.FinishItem("success-item", "RESTORE", "r.log",
				"Account", "bob", nil),
			testlog.Finish("complete", "", 0),
		))
	}()

	events := readEvents(t, ts.URL+"/api/v1/sessions/live/watch",
		func(e string) bool { return e == "done" })
	require.NotEmpty(t, events)
	assert.Equal(t, "snapshot", events[0])
	assert.Contains(t, events, string(transfer.KindItemFinished))
	assert.Contains(t, events, string(transfer.KindSummary))
	assert.Equal(t, "done", events[len(events)-1])
}
