// Package parser decodes transfer session log lines into
// transfer.Message values.
package parser

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/wesm/transferview/internal/transfer"
)

const (
	initialScanBufSize = 64 * 1024        // 64KB
	MaxLineSize        = 20 * 1024 * 1024 // 20MB
)

// ErrNotJSON is returned for lines that are not a JSON object.
var ErrNotJSON = errors.New("log line is not a JSON object")

// ParseLine decodes one log line of the form
// {"type": ..., "source": ..., "contents": {...}}.
func ParseLine(line string) (transfer.Message, error) {
	line = strings.TrimSpace(line)
	if !gjson.Valid(line) {
		return transfer.Message{}, ErrNotJSON
	}
	root := gjson.Parse(line)
	if !root.IsObject() {
		return transfer.Message{}, ErrNotJSON
	}

	contents := root.Get("contents")
	return transfer.Message{
		Type:   root.Get("type").String(),
		Source: root.Get("source").String(),
		Contents: transfer.Contents{
			Action: contents.Get("action").String(),
			Queue:  contents.Get("queue").String(),
			ChildNumber: transfer.ChildNumber(
				transfer.IntValue(contents.Get("child_number")),
			),
			Msg:       contents.Get("msg"),
			Logfile:   contents.Get("logfile").String(),
			Item:      contents.Get("item").String(),
			ItemName:  contents.Get("item_name").String(),
			LocalItem: contents.Get("local_item").String(),
			Raw:       contents,
		},
	}, nil
}

// ParseReader decodes every line of r and calls fn for each
// message in order. Lines that are not JSON are logged and
// skipped. Iteration stops at the first error returned by fn.
func ParseReader(r io.Reader, fn func(transfer.Message) error) error {
	lr := newLineReader(r, MaxLineSize)
	for {
		line, lineNo, ok := lr.next()
		if !ok {
			break
		}
		msg, err := ParseLine(line)
		if err != nil {
			log.Printf("parser: skipping line %d: %v", lineNo, err)
			continue
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
	if n := lr.Skipped(); n > 0 {
		log.Printf("parser: skipped %d lines over %d bytes", n, MaxLineSize)
	}
	if err := lr.Err(); err != nil {
		return fmt.Errorf("reading log: %w", err)
	}
	return nil
}

// ParseFile decodes a whole log file.
func ParseFile(path string, fn func(transfer.Message) error) error {
	f, err := openNoFollow(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ParseReader(f, fn)
}
