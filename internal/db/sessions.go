package db

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wesm/transferview/internal/transfer"
)

// ErrInvalidCursor is returned when a cursor cannot be decoded or verified.
var ErrInvalidCursor = errors.New("invalid cursor")

// sessionCols is the column list for session list queries.
// Keep in sync with scanSessionRow.
const sessionCols = `s.id, s.state, s.source, s.producer_version,
	s.created_at, s.updated_at,
	(SELECT COUNT(*) FROM queues q WHERE q.session_id = s.id),
	COALESCE((SELECT CAST(AVG(q.percent) AS INTEGER)
		FROM queues q WHERE q.session_id = s.id), 0),
	(SELECT COUNT(*) FROM report_lines r WHERE r.session_id = s.id)`

const (
	// DefaultSessionLimit is the default number of sessions returned.
	DefaultSessionLimit = 100
	// MaxSessionLimit is the maximum number of sessions returned.
	MaxSessionLimit = 500
)

const nowExpr = `strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`

// rowScanner is satisfied by both *sql.Row and *sql.Rows,
// allowing a single scan helper for both.
type rowScanner interface {
	Scan(dest ...any) error
}

// Session is a persisted session summary row.
type Session struct {
	ID              string  `json:"id"`
	State           string  `json:"state"`
	Source          *string `json:"source,omitempty"`
	ProducerVersion *string `json:"producer_version,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
	QueueCount      int     `json:"queue_count"`
	Percent         int     `json:"percent"`
	ReportLines     int     `json:"report_lines"`
}

func scanSessionRow(rs rowScanner) (Session, error) {
	var s Session
	err := rs.Scan(
		&s.ID, &s.State, &s.Source, &s.ProducerVersion,
		&s.CreatedAt, &s.UpdatedAt,
		&s.QueueCount, &s.Percent, &s.ReportLines,
	)
	return s, err
}

func scanSessionRows(rows *sql.Rows) ([]Session, error) {
	var sessions []Session
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// SessionCursor is the opaque pagination token.
type SessionCursor struct {
	UpdatedAt string `json:"u"`
	ID        string `json:"i"`
	Total     int    `json:"t,omitempty"`
}

// EncodeCursor returns a signed, base64-encoded cursor string.
func (db *DB) EncodeCursor(updatedAt, id string, total int) string {
	c := SessionCursor{UpdatedAt: updatedAt, ID: id, Total: total}
	data, _ := json.Marshal(c)

	db.cursorMu.RLock()
	mac := hmac.New(sha256.New, db.cursorSecret)
	db.cursorMu.RUnlock()

	mac.Write(data)
	sig := mac.Sum(nil)

	return base64.RawURLEncoding.EncodeToString(data) + "." +
		base64.RawURLEncoding.EncodeToString(sig)
}

// DecodeCursor parses and verifies a cursor string.
func (db *DB) DecodeCursor(s string) (SessionCursor, error) {
	payload, sigStr, ok := strings.Cut(s, ".")
	if !ok {
		return SessionCursor{}, fmt.Errorf("%w: invalid format", ErrInvalidCursor)
	}

	data, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return SessionCursor{}, fmt.Errorf("%w: invalid payload: %v", ErrInvalidCursor, err)
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigStr)
	if err != nil {
		return SessionCursor{}, fmt.Errorf("%w: invalid signature encoding: %v", ErrInvalidCursor, err)
	}

	db.cursorMu.RLock()
	mac := hmac.New(sha256.New, db.cursorSecret)
	db.cursorMu.RUnlock()

	mac.Write(data)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return SessionCursor{}, fmt.Errorf("%w: signature mismatch", ErrInvalidCursor)
	}

	var c SessionCursor
	if err := json.Unmarshal(data, &c); err != nil {
		return SessionCursor{}, fmt.Errorf("%w: invalid json: %v", ErrInvalidCursor, err)
	}
	return c, nil
}

// SessionFilter specifies how to query sessions.
type SessionFilter struct {
	State  string // exact state, e.g. COMPLETED
	Cursor string // opaque cursor from previous page
	Limit  int
}

// SessionPage is a page of session results.
type SessionPage struct {
	Sessions   []Session `json:"sessions"`
	NextCursor string    `json:"next_cursor,omitempty"`
	Total      int       `json:"total"`
}

// ListSessions returns sessions, most recently updated first.
func (db *DB) ListSessions(
	ctx context.Context, f SessionFilter,
) (SessionPage, error) {
	if f.Limit <= 0 || f.Limit > MaxSessionLimit {
		f.Limit = DefaultSessionLimit
	}

	where := "1=1"
	var args []any
	if f.State != "" {
		where += " AND s.state = ?"
		args = append(args, f.State)
	}

	var total int
	var cur SessionCursor
	if f.Cursor != "" {
		var err error
		cur, err = db.DecodeCursor(f.Cursor)
		if err != nil {
			return SessionPage{}, err
		}
		total = cur.Total
	}
	if total <= 0 {
		if err := db.reader.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sessions s WHERE "+where, args...,
		).Scan(&total); err != nil {
			return SessionPage{}, fmt.Errorf("counting sessions: %w", err)
		}
	}

	pageWhere := where
	pageArgs := append([]any{}, args...)
	if f.Cursor != "" {
		pageWhere += " AND (s.updated_at, s.id) < (?, ?)"
		pageArgs = append(pageArgs, cur.UpdatedAt, cur.ID)
	}
	pageArgs = append(pageArgs, f.Limit+1)

	rows, err := db.reader.QueryContext(ctx,
		"SELECT "+sessionCols+" FROM sessions s WHERE "+pageWhere+`
		ORDER BY s.updated_at DESC, s.id DESC
		LIMIT ?`, pageArgs...)
	if err != nil {
		return SessionPage{}, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	sessions, err := scanSessionRows(rows)
	if err != nil {
		return SessionPage{}, err
	}

	page := SessionPage{Sessions: sessions, Total: total}
	if len(sessions) > f.Limit {
		page.Sessions = sessions[:f.Limit]
		last := page.Sessions[f.Limit-1]
		page.NextCursor = db.EncodeCursor(last.UpdatedAt, last.ID, total)
	}
	return page, nil
}

// GetSession returns a single session row, or nil if absent.
func (db *DB) GetSession(
	ctx context.Context, id string,
) (*Session, error) {
	row := db.reader.QueryRowContext(ctx,
		"SELECT "+sessionCols+" FROM sessions s WHERE s.id = ?", id)
	s, err := scanSessionRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}
	return &s, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// SaveSnapshot replaces the stored state of a session.
func (db *DB) SaveSnapshot(snap transfer.Snapshot) error {
	summary := snap.Report.Summary
	if summary == nil {
		summary = []string{}
	}
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}

	return db.Update(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO sessions (
				id, state, source, producer_version, summary,
				updated_at
			) VALUES (?, ?, ?, ?, ?, `+nowExpr+`)
			ON CONFLICT(id) DO UPDATE SET
				state = excluded.state,
				source = excluded.source,
				producer_version = excluded.producer_version,
				summary = excluded.summary,
				updated_at = excluded.updated_at`,
			snap.SessionID, string(snap.State),
			nullStr(snap.Source), nullStr(snap.ProducerVersion),
			string(summaryJSON),
		); err != nil {
			return fmt.Errorf("upserting session %s: %w", snap.SessionID, err)
		}

		if err := replaceQueues(tx, snap); err != nil {
			return err
		}
		return replaceReportLines(tx, snap)
	})
}

func replaceQueues(tx *sql.Tx, snap transfer.Snapshot) error {
	if _, err := tx.Exec(
		"DELETE FROM queues WHERE session_id = ?", snap.SessionID,
	); err != nil {
		return fmt.Errorf("clearing queues: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO queues (
			session_id, name, item_count, success, warnings,
			failed, processed, size_completed, size_total,
			percent, open_items
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing queue insert: %w", err)
	}
	defer stmt.Close()

	for _, q := range snap.Queues {
		if _, err := stmt.Exec(
			snap.SessionID, q.Name, q.ItemCount,
			q.Status.Success, q.Status.Warnings, q.Status.Failed,
			q.Processed, q.Size.Completed, q.Size.Total,
			q.Percent, q.OpenItems,
		); err != nil {
			return fmt.Errorf("inserting queue %s: %w", q.Name, err)
		}
	}
	return nil
}

func replaceReportLines(tx *sql.Tx, snap transfer.Snapshot) error {
	if _, err := tx.Exec(
		"DELETE FROM report_lines WHERE session_id = ?", snap.SessionID,
	); err != nil {
		return fmt.Errorf("clearing report lines: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO report_lines (
			session_id, ordinal, queue, class, text,
			log_title, log_url, details
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing report insert: %w", err)
	}
	defer stmt.Close()

	for i, line := range snap.Report.Lines {
		details := line.Details
		if details == nil {
			details = []transfer.ReportDetail{}
		}
		detailsJSON, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("encoding report details: %w", err)
		}
		var title, url *string
		if line.Log != nil {
			title, url = &line.Log.Title, &line.Log.URL
		}
		if _, err := stmt.Exec(
			snap.SessionID, i, line.Queue, line.Class, line.Text,
			title, url, string(detailsJSON),
		); err != nil {
			return fmt.Errorf("inserting report line %d: %w", i, err)
		}
	}
	return nil
}

// GetSnapshot loads a stored session, or nil if absent.
func (db *DB) GetSnapshot(
	ctx context.Context, id string,
) (*transfer.Snapshot, error) {
	var (
		state, summaryJSON      string
		source, producerVersion *string
	)
	err := db.reader.QueryRowContext(ctx, `
		SELECT state, source, producer_version, summary
		FROM sessions WHERE id = ?`, id,
	).Scan(&state, &source, &producerVersion, &summaryJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting snapshot %s: %w", id, err)
	}

	snap := &transfer.Snapshot{
		SessionID:       id,
		State:           transfer.SessionState(state),
		Source:          derefStr(source),
		ProducerVersion: derefStr(producerVersion),
	}
	if err := json.Unmarshal([]byte(summaryJSON), &snap.Report.Summary); err != nil {
		return nil, fmt.Errorf("decoding summary of %s: %w", id, err)
	}
	if len(snap.Report.Summary) == 0 {
		snap.Report.Summary = nil
	}

	if snap.Queues, err = db.loadQueues(ctx, id); err != nil {
		return nil, err
	}
	if snap.Report.Lines, err = db.loadReportLines(ctx, id); err != nil {
		return nil, err
	}
	return snap, nil
}

func (db *DB) loadQueues(
	ctx context.Context, id string,
) ([]transfer.QueueSnapshot, error) {
	rows, err := db.reader.QueryContext(ctx, `
		SELECT name, item_count, success, warnings, failed,
			processed, size_completed, size_total, percent,
			open_items
		FROM queues WHERE session_id = ?
		ORDER BY name`, id)
	if err != nil {
		return nil, fmt.Errorf("querying queues: %w", err)
	}
	defer rows.Close()

	queues := make([]transfer.QueueSnapshot, 0)
	for rows.Next() {
		var q transfer.QueueSnapshot
		if err := rows.Scan(
			&q.Name, &q.ItemCount,
			&q.Status.Success, &q.Status.Warnings, &q.Status.Failed,
			&q.Processed, &q.Size.Completed, &q.Size.Total,
			&q.Percent, &q.OpenItems,
		); err != nil {
			return nil, fmt.Errorf("scanning queue: %w", err)
		}
		queues = append(queues, q)
	}
	return queues, rows.Err()
}

func (db *DB) loadReportLines(
	ctx context.Context, id string,
) ([]transfer.ReportLine, error) {
	rows, err := db.reader.QueryContext(ctx, `
		SELECT queue, class, text, log_title, log_url, details
		FROM report_lines WHERE session_id = ?
		ORDER BY ordinal`, id)
	if err != nil {
		return nil, fmt.Errorf("querying report lines: %w", err)
	}
	defer rows.Close()

	var lines []transfer.ReportLine
	for rows.Next() {
		var (
			line        transfer.ReportLine
			title, url  *string
			detailsJSON string
		)
		if err := rows.Scan(
			&line.Queue, &line.Class, &line.Text,
			&title, &url, &detailsJSON,
		); err != nil {
			return nil, fmt.Errorf("scanning report line: %w", err)
		}
		if url != nil {
			line.Log = &transfer.LogLink{Title: derefStr(title), URL: *url}
		}
		if err := json.Unmarshal([]byte(detailsJSON), &line.Details); err != nil {
			return nil, fmt.Errorf("decoding report details: %w", err)
		}
		if len(line.Details) == 0 {
			line.Details = nil
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// PruneFilter selects stored sessions to delete.
type PruneFilter struct {
	Before string // updated_at < date (YYYY-MM-DD)
	State  string // exact state
}

// HasFilters reports whether at least one filter is set.
func (f PruneFilter) HasFilters() bool {
	return f.Before != "" || f.State != ""
}

// FindPruneCandidates returns sessions matching all filter
// criteria.
func (db *DB) FindPruneCandidates(
	ctx context.Context, f PruneFilter,
) ([]Session, error) {
	if !f.HasFilters() {
		return nil, fmt.Errorf("at least one filter is required")
	}

	where := "1=1"
	var args []any
	if f.Before != "" {
		where += " AND s.updated_at < ?"
		args = append(args, f.Before)
	}
	if f.State != "" {
		where += " AND s.state = ?"
		args = append(args, f.State)
	}

	rows, err := db.reader.QueryContext(ctx,
		"SELECT "+sessionCols+" FROM sessions s WHERE "+where+`
		ORDER BY s.updated_at DESC, s.id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("finding prune candidates: %w", err)
	}
	defer rows.Close()
	return scanSessionRows(rows)
}

// DeleteSessions removes multiple sessions by ID in a single
// transaction. Batches DELETEs in groups of 500 to stay under
// SQLite variable limits. Returns count of deleted rows.
func (db *DB) DeleteSessions(ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	total := 0
	err := db.Update(func(tx *sql.Tx) error {
		const batchSize = 500
		for i := 0; i < len(ids); i += batchSize {
			end := min(i+batchSize, len(ids))
			batch := ids[i:end]

			args := make([]any, len(batch))
			for j, id := range batch {
				args[j] = id
			}
			placeholders := strings.Repeat(",?", len(batch))[1:]

			res, err := tx.Exec(
				"DELETE FROM sessions WHERE id IN ("+placeholders+")",
				args...,
			)
			if err != nil {
				return fmt.Errorf("deleting batch: %w", err)
			}
			n, _ := res.RowsAffected()
			total += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
