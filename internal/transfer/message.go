package transfer

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Message types seen on the wire. Only control messages drive the
// master log processor; the rest are rendered in child logs.
const (
	TypeControl      = "control"
	TypeModuleStatus = "modulestatus"
	TypeWarn         = "warn"
	TypeError        = "error"
	TypeFailed       = "failed"
	TypeSuccess      = "success"
)

// ChildNumber identifies one worker of a queue. Zero means the
// message is about the whole session rather than a single child.
type ChildNumber int

// Message is one decoded log line.
type Message struct {
	Type string
	// Source is set on lines relayed from the remote server.
	Source   string
	Contents Contents
}

// Contents holds the fields of a message's "contents" object.
// Msg is kept undecoded because its shape depends on the action
// (a count, a size, a logfile name, or an object).
type Contents struct {
	Action      string
	Queue       string
	ChildNumber ChildNumber
	Msg         gjson.Result
	Logfile     string
	Item        string
	ItemName    string
	LocalItem   string

	// Raw is the whole contents object, for action-specific
	// fields such as "percentage" or "warnings".
	Raw gjson.Result
}

// HasChild reports whether the message names a single worker.
// Any non-empty string counts, so "0" names a child even though
// its ChildNumber is 0.
func (c Contents) HasChild() bool {
	if c.ChildNumber != 0 {
		return true
	}
	v := c.Raw.Get("child_number")
	return v.Type == gjson.String && v.Str != ""
}

// renamed reports whether the item is restored under a different
// local name.
func (c Contents) renamed() bool {
	return c.LocalItem != "" && c.LocalItem != c.Item
}

// IntValue converts a JSON number or numeric string to an integer,
// reading leading digits the way the log producer's consumers
// always have ("12abc" is 12, "abc" is 0).
func IntValue(r gjson.Result) int64 {
	switch r.Type {
	case gjson.Number:
		return int64(r.Num)
	case gjson.String:
		return leadingInt(r.Str)
	case gjson.True:
		return 1
	}
	return 0
}

func leadingInt(s string) int64 {
	s = strings.TrimSpace(s)
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	var n int64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int64(c-'0')
	}
	if neg {
		return -n
	}
	return n
}

// truthy mirrors the loose truthiness the log format relies on:
// absent, null, false, 0 and "" are false; objects and arrays are
// true even when empty.
func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null:
		return false
	case gjson.False:
		return false
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != ""
	}
	return r.Exists()
}

// joinText renders a msg field that is either an array of parts or
// a single scalar.
func joinText(r gjson.Result) string {
	if !r.IsArray() {
		return r.String()
	}
	var parts []string
	r.ForEach(func(_, v gjson.Result) bool {
		parts = append(parts, v.String())
		return true
	})
	return strings.Join(parts, " ")
}
