package transfer

import (
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"
)

// Outcome is the terminal result of one item.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeWarning
	OutcomeFailed
)

// Class returns the display class used for rows of this outcome.
func (o Outcome) Class() string {
	switch o {
	case OutcomeWarning:
		return "warningmsg"
	case OutcomeFailed:
		return "errormsg"
	}
	return "okmsg"
}

// fallback is the row text when the item message carries none.
func (o Outcome) fallback() string {
	switch o {
	case OutcomeWarning:
		return "Warnings"
	case OutcomeFailed:
		return "Failed"
	}
	return "Success"
}

// LogLink points at the rendered log of one item.
type LogLink struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// ActionLink is a follow-up action attached to a log entry.
type ActionLink struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// ItemRow is one line in a queue's output.
type ItemRow struct {
	Class string   `json:"class"`
	Text  string   `json:"text"`
	Log   *LogLink `json:"log,omitempty"`
}

// ReportDetail is a single warning or failure entry under a
// report line.
type ReportDetail struct {
	Class  string      `json:"class"`
	Text   string      `json:"text"`
	Action *ActionLink `json:"action,omitempty"`
}

// ReportLine is a warning or failure recorded in the session
// report.
type ReportLine struct {
	Queue   string         `json:"queue"`
	Class   string         `json:"class"`
	Text    string         `json:"text"`
	Log     *LogLink       `json:"log,omitempty"`
	Details []ReportDetail `json:"details,omitempty"`
}

// Report is the session report: summary lines first, then the
// per-item warning and failure lines.
type Report struct {
	Summary []string     `json:"summary"`
	Lines   []ReportLine `json:"lines"`
}

// detailKinds lists the item message keys that carry report
// details, with their display class and child-log label.
var detailKinds = []struct {
	key   string
	class string
	label string
}{
	{"warnings", "warningmsg", "Warning"},
	{"skipped_items", "warningmsg", "Skipped"},
	{"dangerous_items", "errormsg", "Dangerous"},
	{"altered_items", "warningmsg", "Altered"},
}

func detailClass(key string) (string, bool) {
	for _, k := range detailKinds {
		if k.key == key {
			return k.class, true
		}
	}
	return "", false
}

// summaryLine renders one queue's final tally.
func summaryLine(queue string, s ItemStatus) string {
	return fmt.Sprintf(
		"%s: %d completed, %d had warnings, and %d failed.",
		queue, s.Success+s.Warnings, s.Warnings, s.Failed,
	)
}

// itemLabel renders `name “item”` or `name “item” → “local”`.
func itemLabel(c Contents) string {
	if c.renamed() {
		return fmt.Sprintf("%s “%s” → “%s”",
			c.ItemName, c.Item, c.LocalItem)
	}
	return fmt.Sprintf("%s “%s”", c.ItemName, c.Item)
}

// tailLabel renders the worker window label for process-item.
func tailLabel(c Contents) string {
	if c.renamed() {
		return fmt.Sprintf("%s: “%s” → “%s”",
			c.ItemName, c.Item, c.LocalItem)
	}
	return fmt.Sprintf("%s: “%s”", c.ItemName, c.Item)
}

// LogURL returns the relative URL of an item's rendered log.
func LogURL(sessionID, logfile string) string {
	v := url.Values{}
	v.Set("transfer_session_id", sessionID)
	v.Set("log_file", logfile)
	return "render_transfer_log?" + v.Encode()
}

func logLink(queue, sessionID, logfile string) *LogLink {
	if logfile == "" {
		return nil
	}
	title := "View this restoration’s log."
	if queue == "TRANSFER" {
		title = "View this transfer’s log."
	}
	return &LogLink{Title: title, URL: LogURL(sessionID, logfile)}
}

// actionLink decodes an entry's [label, path, query] triple.
func actionLink(r gjson.Result) *ActionLink {
	if !r.IsArray() {
		return nil
	}
	parts := r.Array()
	if len(parts) < 2 {
		return nil
	}
	q := url.Values{}
	if len(parts) > 2 {
		parts[2].ForEach(func(k, v gjson.Result) bool {
			q.Set(k.String(), v.String())
			return true
		})
	}
	u := ".." + parts[1].String()
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	return &ActionLink{Label: parts[0].String(), URL: u}
}

// reportDetails extracts detail entries from an item message's
// "contents" object, in the order the keys appear.
func reportDetails(contents gjson.Result) []ReportDetail {
	var details []ReportDetail
	contents.ForEach(func(key, entries gjson.Result) bool {
		class, ok := detailClass(key.String())
		if !ok || !entries.IsArray() {
			return true
		}
		entries.ForEach(func(_, entry gjson.Result) bool {
			text := entry.Get("1").String()
			if text == "" {
				text = entry.Get("msg.0").String()
			}
			details = append(details, ReportDetail{
				Class:  class + " subitem_status",
				Text:   text,
				Action: actionLink(entry.Get("2")),
			})
			return true
		})
		return true
	})
	return details
}
