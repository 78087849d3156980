// Package tail follows the log files of one transfer session
// directory and hands each new line to a per-file callback.
package tail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/wesm/transferview/internal/parser"
	"github.com/wesm/transferview/internal/transfer"
)

const (
	readChunkSize = 64 * 1024

	// DefaultDebounce is how long a file must be quiet before
	// a write notification triggers a poll.
	DefaultDebounce = 100 * time.Millisecond
)

// LineFunc receives one raw line, without the trailing newline.
type LineFunc func(line string)

// MessageFunc receives one decoded log message.
type MessageFunc func(msg transfer.Message)

type follower struct {
	name    string
	path    string
	fn      LineFunc
	offset  int64
	partial []byte
	// skipping is set while discarding the rest of an
	// oversized line.
	skipping bool
	// closing followers are read to EOF once more and then
	// dropped.
	closing bool
	// final is closing as of the last read.
	final bool
}

// Tail follows a set of logs in one directory. Poll and the line
// callbacks run on the caller's goroutine; callbacks may call
// AddLog and DelLog.
type Tail struct {
	dir     string
	maxLine int

	mu    sync.Mutex
	logs  map[string]*follower
	order []*follower
}

// New returns a Tail for a session directory.
func New(dir string) *Tail {
	return &Tail{
		dir:     dir,
		maxLine: parser.MaxLineSize,
		logs:    make(map[string]*follower),
	}
}

// Dir returns the followed directory.
func (t *Tail) Dir() string {
	return t.dir
}

// AddLog starts following a JSON log. Lines that do not decode
// are logged and skipped.
func (t *Tail) AddLog(name string, fn MessageFunc) error {
	return t.AddRawLog(name, func(line string) {
		msg, err := parser.ParseLine(line)
		if err != nil {
			log.Printf("tail: %s: %v", name, err)
			return
		}
		fn(msg)
	})
}

// AddRawLog starts following a log whose lines are passed
// through undecoded. Adding a log that is already followed
// replaces its callback and keeps the read position.
func (t *Tail) AddRawLog(name string, fn LineFunc) error {
	path, err := parser.LogPath(t.dir, name)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if f, ok := t.logs[name]; ok {
		f.fn = fn
		f.closing = false
		return nil
	}
	f := &follower{name: name, path: path, fn: fn}
	t.logs[name] = f
	t.order = append(t.order, f)
	return nil
}

// DelLog stops following a log after whatever it already holds
// has been delivered by the next Poll.
func (t *Tail) DelLog(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f, ok := t.logs[name]; ok {
		f.closing = true
	}
}

// Logs returns the names of followed logs in the order they
// were added.
func (t *Tail) Logs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.order))
	for _, f := range t.order {
		names = append(names, f.name)
	}
	return names
}

// follows reports whether name is an active log.
func (t *Tail) follows(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.logs[name]
	return ok
}

// Poll reads new data from every followed log in the order the
// logs were added. Logs added by callbacks during the pass are
// read in the same pass. It returns the number of lines
// delivered. Missing files are not an error; the log may not
// have been created yet.
func (t *Tail) Poll() (int, error) {
	seen := make(map[*follower]bool)
	total := 0
	var errs []error
	for {
		f := t.nextUnseen(seen)
		if f == nil {
			break
		}
		seen[f] = true
		t.mu.Lock()
		f.final = f.closing
		t.mu.Unlock()
		n, err := t.read(f)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	t.dropClosed(seen)
	return total, errors.Join(errs...)
}

func (t *Tail) nextUnseen(seen map[*follower]bool) *follower {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range t.order {
		if !seen[f] {
			return f
		}
	}
	return nil
}

// dropClosed removes closing followers whose final read happened
// in this pass. One marked closing after it was read stays until
// the next pass so nothing it holds is lost.
func (t *Tail) dropClosed(seen map[*follower]bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.order[:0]
	for _, f := range t.order {
		if seen[f] && f.final && f.closing {
			delete(t.logs, f.name)
			continue
		}
		f.final = false
		kept = append(kept, f)
	}
	t.order = kept
}

// read delivers every complete line appended since the last read.
func (t *Tail) read(f *follower) (int, error) {
	file, err := parser.OpenLog(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("tail %s: %w", f.name, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("tail %s: %w", f.name, err)
	}
	if info.Size() < f.offset {
		log.Printf("tail: %s truncated, reading from start", f.name)
		f.offset = 0
		f.partial = nil
		f.skipping = false
	}
	if info.Size() == f.offset {
		return 0, nil
	}
	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("tail %s: %w", f.name, err)
	}

	n := 0
	buf := make([]byte, readChunkSize)
	for {
		m, rerr := file.Read(buf)
		if m > 0 {
			f.offset += int64(m)
			n += t.consume(f, buf[:m])
		}
		if rerr == io.EOF {
			return n, nil
		}
		if rerr != nil {
			return n, fmt.Errorf("tail %s: %w", f.name, rerr)
		}
	}
}

// consume splits data into lines, buffering an incomplete
// trailing line and discarding lines longer than maxLine.
func (t *Tail) consume(f *follower, data []byte) int {
	n := 0
	for len(data) > 0 {
		idx := bytes.IndexByte(data, '\n')
		chunk := data
		if idx >= 0 {
			chunk = data[:idx]
			data = data[idx+1:]
		} else {
			data = nil
		}

		if !f.skipping {
			f.partial = append(f.partial, chunk...)
			if len(f.partial) > t.maxLine {
				log.Printf("tail: %s: skipping line over %d bytes",
					f.name, t.maxLine)
				f.partial = nil
				f.skipping = true
			}
		}
		if idx < 0 {
			break
		}

		if f.skipping {
			f.skipping = false
			continue
		}
		line := string(bytes.TrimSuffix(f.partial, []byte("\r")))
		f.partial = nil
		if line == "" {
			continue
		}
		n++
		f.fn(line)
	}
	return n
}

// Run polls until ctx is done. Polls are triggered by writes in
// the directory and, as a fallback, every interval. afterPoll,
// if non-nil, is called after each poll with the number of lines
// delivered.
func (t *Tail) Run(
	ctx context.Context, interval time.Duration, afterPoll func(n int),
) error {
	var changes <-chan struct{}
	w, err := NewWatcher(t.dir, DefaultDebounce, t.follows)
	if err != nil {
		log.Printf("tail: file watching unavailable, polling only: %v", err)
	} else {
		w.Start()
		defer w.Stop()
		changes = w.Changes()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := t.Poll()
		if err != nil {
			log.Printf("tail: %v", err)
		}
		if afterPoll != nil {
			afterPoll(n)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
		case <-ticker.C:
		}
	}
}
