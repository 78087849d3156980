// Package monitor runs one transfer.Processor per session, feeding
// it from the session's logs and publishing its events.
package monitor

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wesm/transferview/internal/parser"
	"github.com/wesm/transferview/internal/tail"
	"github.com/wesm/transferview/internal/transfer"
)

const (
	// subscriberBuffer is the per-subscriber event backlog.
	subscriberBuffer = 256

	// maxErrorLines bounds the master.error_log lines kept in
	// memory.
	maxErrorLines = 1000
)

// KindErrorLine is the event kind of a master.error_log line.
const KindErrorLine transfer.EventKind = "error_line"

// ErrorLine is one raw line from master.error_log.
type ErrorLine struct {
	Text string `json:"text"`
}

func (ErrorLine) Kind() transfer.EventKind { return KindErrorLine }

// Store persists session snapshots.
type Store interface {
	SaveSnapshot(snap transfer.Snapshot) error
}

// Monitor owns the processor of one session. Processor calls are
// serialized by mu; the tail callbacks run on the Run goroutine.
type Monitor struct {
	id     string
	dir    string
	tail   *tail.Tail
	store  Store
	broker *Broker

	mu       sync.Mutex
	proc     *transfer.Processor
	errLines []string

	// catchUp guards the first drain done by Manager.Get.
	catchUp sync.Once

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a monitor for the session in dir. store may be nil.
func New(id, dir string, store Store) (*Monitor, error) {
	m := &Monitor{
		id:     id,
		dir:    dir,
		tail:   tail.New(dir),
		store:  store,
		broker: NewBroker(subscriberBuffer),
	}
	m.proc = transfer.NewProcessor(id, m.handle)

	if err := m.tail.AddLog(parser.MasterLogName, m.renderMaster); err != nil {
		return nil, err
	}
	if err := m.tail.AddRawLog(parser.ErrorLogName, m.recordError); err != nil {
		return nil, err
	}
	if info, err := os.Stat(filepath.Join(dir, parser.MasterLogName)); err == nil &&
		info.Size() == 0 {
		m.proc.SetState(transfer.StatePending)
	}
	return m, nil
}

// ID returns the session id.
func (m *Monitor) ID() string {
	return m.id
}

// handle runs with mu held, from inside a processor call.
func (m *Monitor) handle(ev transfer.Event) {
	switch e := ev.(type) {
	case transfer.TailStart:
		logfile := e.Logfile
		err := m.tail.AddLog(logfile, func(msg transfer.Message) {
			m.renderChild(logfile, msg)
		})
		if err != nil {
			log.Printf("monitor: session %s: %v", m.id, err)
		}
	case transfer.TailStop:
		m.tail.DelLog(e.Logfile)
	}
	m.broker.Publish(ev)
}

func (m *Monitor) renderMaster(msg transfer.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.proc.Render(msg); err != nil {
		log.Printf("monitor: session %s: %v", m.id, err)
	}
}

func (m *Monitor) renderChild(logfile string, msg transfer.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.proc.RenderChild(logfile, msg); err != nil {
		log.Printf("monitor: session %s: %v", m.id, err)
	}
}

func (m *Monitor) recordError(line string) {
	m.mu.Lock()
	m.errLines = append(m.errLines, line)
	if len(m.errLines) > maxErrorLines {
		m.errLines = m.errLines[len(m.errLines)-maxErrorLines:]
	}
	m.mu.Unlock()
	m.broker.Publish(ErrorLine{Text: line})
}

// Drain reads every log until no new lines arrive and returns
// the number of lines processed.
func (m *Monitor) Drain() int {
	total := 0
	for {
		n, err := m.tail.Poll()
		if err != nil {
			log.Printf("monitor: session %s: %v", m.id, err)
		}
		total += n
		if n == 0 {
			return total
		}
	}
}

// Snapshot returns a copy of the session state.
func (m *Monitor) Snapshot() transfer.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.proc.Snapshot()
}

// State returns the current session state.
func (m *Monitor) State() transfer.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.proc.State()
}

// ErrorLines returns the master.error_log lines seen so far.
func (m *Monitor) ErrorLines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.errLines...)
}

// Subscribe returns a subscriber id and its event channel.
func (m *Monitor) Subscribe() (string, <-chan transfer.Event) {
	return m.broker.Subscribe()
}

// Unsubscribe closes a subscription.
func (m *Monitor) Unsubscribe(id string) {
	m.broker.Unsubscribe(id)
}

// Save persists the current snapshot.
func (m *Monitor) Save() {
	if m.store == nil {
		return
	}
	snap := m.Snapshot()
	if err := m.store.SaveSnapshot(snap); err != nil {
		log.Printf("monitor: saving session %s: %v", m.id, err)
	}
}

// Start follows the session logs in the background until Stop is
// called or the session reaches a terminal state. Starting a
// running or finished monitor is a no-op.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.done != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		defer m.broker.Close()
		_ = m.tail.Run(ctx, interval, func(n int) {
			if n == 0 {
				return
			}
			if m.State().Terminal() {
				m.Drain()
				m.Save()
				log.Printf("monitor: session %s finished as %s",
					m.id, m.State())
				m.cancel()
				return
			}
			m.Save()
		})
	}()
}

// Done is closed when the background loop exits. It is nil
// before Start.
func (m *Monitor) Done() <-chan struct{} {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.done
}

// Stop ends the background loop and waits for it.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	cancel, done := m.cancel, m.done
	m.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
