// Package testlog provides shared log-line fixture builders for
// master and child transfer logs. Used by the parser, transfer,
// monitor and server test packages.
package testlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Control returns a control message with the given action. fields
// are merged into the contents object.
func Control(action string, fields map[string]any) string {
	contents := map[string]any{"action": action}
	for k, v := range fields {
		contents[k] = v
	}
	return mustMarshal(map[string]any{
		"type":     "control",
		"contents": contents,
	})
}

// QueueCount announces a queue and its item count.
func QueueCount(queue string, count int) string {
	return Control("queue_count", map[string]any{
		"queue": queue,
		"msg":   count,
	})
}

// QueueSize sets a queue's total relative size.
func QueueSize(queue string, size int) string {
	return Control("queue_size", map[string]any{
		"queue": queue,
		"msg":   size,
	})
}

// StartItem registers an in-flight item of the given size.
func StartItem(queue, logfile string, size int) string {
	return Control("start-item", map[string]any{
		"queue":   queue,
		"logfile": logfile,
		"msg":     map[string]any{"size": size},
	})
}

// ProcessItem binds a child log to a worker window.
func ProcessItem(
	queue string, child int, logfile, itemName, item string,
) string {
	return Control("process-item", map[string]any{
		"queue":        queue,
		"child_number": child,
		"msg":          logfile,
		"item_name":    itemName,
		"item":         item,
	})
}

// FinishItem returns a success-item, warning-item or failed-item
// message. msg may be nil.
func FinishItem(
	action, queue, logfile, itemName, item string,
	msg map[string]any,
) string {
	if msg == nil {
		msg = map[string]any{}
	}
	return Control(action, map[string]any{
		"queue":     queue,
		"logfile":   logfile,
		"item_name": itemName,
		"item":      item,
		"msg":       msg,
	})
}

// Finish returns complete/abort/fail for a queue. child 0 omits
// child_number, finishing the whole session.
func Finish(action, queue string, child int) string {
	fields := map[string]any{"queue": queue}
	if child != 0 {
		fields["child_number"] = child
	}
	return Control(action, fields)
}

// State returns a session-control action such as pause or resume.
func State(action string) string {
	return Control(action, nil)
}

// Percentage returns a child-log percentage update.
func Percentage(pct int) string {
	return Control("percentage", map[string]any{
		"percentage": pct,
	})
}

// Text returns a child-log text line of the given message type.
func Text(typ string, parts ...string) string {
	return mustMarshal(map[string]any{
		"type":     typ,
		"contents": map[string]any{"msg": parts},
	})
}

// Section returns a start_<name> or end_<name> child-log line.
func Section(action string, parts ...string) string {
	return mustMarshal(map[string]any{
		"type": "out",
		"contents": map[string]any{
			"action": action,
			"msg":    parts,
		},
	})
}

// Lines joins log lines into file content with a trailing newline.
func Lines(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

// WriteSession writes files into dir, creating it if needed.
// Keys are file names relative to dir.
func WriteSession(dir string, files map[string]string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func mustMarshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
