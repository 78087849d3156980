// Package transfer implements the transfer/restore session log
// processor: it consumes decoded master and child log messages and
// maintains session state, per-queue progress and the session
// report, emitting events for whatever renders them.
//
// A Processor is not safe for concurrent use. One processor serves
// one session and is confined to the goroutine feeding it.
package transfer

import (
	"errors"
	"fmt"
	"log"
)

var (
	// ErrOutOfOrder means a message referenced a queue that has
	// not been announced by queue_count yet.
	ErrOutOfOrder = errors.New("message out of order")

	// ErrUnknownLog means a child log line arrived for a logfile
	// that no process-item bound.
	ErrUnknownLog = errors.New("unknown child log")
)

// Processor demultiplexes one session's log stream.
type Processor struct {
	sessionID string
	state     SessionState
	source    string
	version   string

	queues   map[string]*Queue
	logfiles map[string]*ChildRenderer

	summary []string
	report  []ReportLine

	emit EmitFunc
}

// NewProcessor creates a processor for a session. emit receives
// every event; nil discards them.
func NewProcessor(sessionID string, emit EmitFunc) *Processor {
	if emit == nil {
		emit = func(Event) {}
	}
	return &Processor{
		sessionID: sessionID,
		state:     StateUnknown,
		queues:    make(map[string]*Queue),
		logfiles:  make(map[string]*ChildRenderer),
		emit:      emit,
	}
}

// SessionID returns the transfer session id.
func (p *Processor) SessionID() string {
	return p.sessionID
}

// State returns the current session state.
func (p *Processor) State() SessionState {
	return p.state
}

// Source returns the remote host reported by the log, if any.
func (p *Processor) Source() string {
	return p.source
}

// ProducerVersion returns the version announced by the log.
func (p *Processor) ProducerVersion() string {
	return p.version
}

// SetState records a new session state and emits StateChanged.
// It always succeeds.
func (p *Processor) SetState(s SessionState) bool {
	p.state = s
	p.emit(StateChanged{State: s})
	return true
}

// Queue returns the named queue.
func (p *Processor) Queue(name string) (*Queue, bool) {
	q, ok := p.queues[name]
	return q, ok
}

// Render processes one master log message. Only control messages
// have an effect. An error means the message could not be applied
// and nothing was changed.
func (p *Processor) Render(msg Message) error {
	if msg.Type != TypeControl {
		return nil
	}
	c := msg.Contents
	action := ParseAction(c.Action)

	switch action {
	case ActionProcessItem:
		return p.startItemTail(c)
	case ActionRemoteHost:
		p.source = c.Msg.String()
		p.emit(SourceHost{Host: p.source})
	case ActionPause, ActionPausing, ActionAborting, ActionResume:
		p.SetState(transitions[action])
	case ActionComplete, ActionAbort, ActionFail:
		if err := p.completeQueue(c); err != nil {
			return err
		}
		if !c.HasChild() {
			p.SetState(finalStates[action])
		}
	case ActionQueueCount:
		p.setupQueue(c.Queue, int(IntValue(c.Msg)))
	case ActionQueueSize:
		return p.trackQueueSize(c)
	case ActionStartItem:
		return p.startItem(c)
	case ActionSuccessItem, ActionWarningItem, ActionFailedItem:
		return p.finishItem(action, c)
	case ActionVersion:
		p.version = c.Msg.String()
		if !SupportedVersion(p.version) {
			log.Printf(
				"transfer: session %s produced by unsupported version %q",
				p.sessionID, p.version,
			)
		}
	case ActionInitiator, ActionStart, ActionChildFailed:
	default:
		log.Printf("transfer: unhandled action %q in session %s",
			c.Action, p.sessionID)
	}
	return nil
}

// RenderChild processes one line of a child log bound by an
// earlier process-item message.
func (p *Processor) RenderChild(logfile string, msg Message) error {
	r, ok := p.logfiles[logfile]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLog, logfile)
	}
	return r.Render(msg, p.emit)
}

// UpdateProgress applies an item percent to its queue. Updates
// for items that already finished are ignored.
func (p *Processor) UpdateProgress(
	queue, itemID string, pct float64,
) error {
	q, err := p.requireQueue(queue)
	if err != nil {
		return err
	}
	if !q.updateProgress(itemID, pct) {
		return nil
	}
	p.emit(QueueProgress{Queue: queue, Percent: q.Percent()})
	return nil
}

func (p *Processor) requireQueue(name string) (*Queue, error) {
	q, ok := p.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w for queue %q", ErrOutOfOrder, name)
	}
	return q, nil
}

// tailWindow returns the window for (queue, child), opening it on
// first use.
func (p *Processor) tailWindow(
	queue string, child ChildNumber,
) (*tailWindow, error) {
	q, err := p.requireQueue(queue)
	if err != nil {
		return nil, err
	}
	w, _ := q.tail(child)
	return w, nil
}

// setupQueue registers a queue. A repeat for a known queue is a
// no-op, which is what a resumed session replaying its log needs.
func (p *Processor) setupQueue(name string, itemCount int) {
	if _, ok := p.queues[name]; ok {
		return
	}
	p.queues[name] = newQueue(name, itemCount)
}

func (p *Processor) trackQueueSize(c Contents) error {
	q, err := p.requireQueue(c.Queue)
	if err != nil {
		return err
	}
	q.Size = RelativeSize{Total: float64(IntValue(c.Msg))}
	return nil
}

func (p *Processor) startItem(c Contents) error {
	q, err := p.requireQueue(c.Queue)
	if err != nil {
		return err
	}
	q.startItem(c.Logfile, float64(IntValue(c.Msg.Get("size"))))
	return nil
}

func (p *Processor) startItemTail(c Contents) error {
	w, err := p.tailWindow(c.Queue, c.ChildNumber)
	if err != nil {
		return err
	}
	logfile := c.Msg.String()

	if w.logfile != "" {
		p.emit(TailStop{Queue: c.Queue, Child: c.ChildNumber, Logfile: w.logfile})
	}
	r := NewChildRenderer(c.Queue, c.ChildNumber, logfile)
	r.onPercent = func(pct float64) error {
		return p.UpdateProgress(c.Queue, logfile, pct)
	}
	p.logfiles[logfile] = r
	w.logfile = logfile

	p.emit(TailItem{Queue: c.Queue, Child: c.ChildNumber, Text: tailLabel(c)})
	p.emit(TailProgress{Queue: c.Queue, Child: c.ChildNumber, Percent: 0})
	p.emit(TailStart{Queue: c.Queue, Child: c.ChildNumber, Logfile: logfile})
	return nil
}

func (p *Processor) finishItem(action Action, c Contents) error {
	q, err := p.requireQueue(c.Queue)
	if err != nil {
		return err
	}
	outcome, _ := action.outcome()

	q.Processed++
	if c.Queue == "RESTORE" && q.Processed >= q.ItemCount-1 {
		p.emit(StateButtonHidden{})
	}

	if q.updateProgress(c.Logfile, 100) {
		p.emit(QueueProgress{Queue: c.Queue, Percent: q.Percent()})
	}

	switch outcome {
	case OutcomeSuccess:
		q.Status.Success++
	case OutcomeWarning:
		q.Status.Warnings++
	case OutcomeFailed:
		q.Status.Failed++
	}

	text := c.Msg.Get("failure").String()
	if text == "" {
		text = c.Msg.Get("message").String()
	}
	if text == "" {
		text = outcome.fallback()
	}
	link := logLink(c.Queue, p.sessionID, c.Logfile)

	p.emit(ItemFinished{
		Queue: c.Queue,
		Row: ItemRow{
			Class: outcome.Class(),
			Text:  itemLabel(c) + ": " + text,
			Log:   link,
		},
	})

	if outcome == OutcomeSuccess {
		return nil
	}
	line := ReportLine{
		Queue:   c.Queue,
		Class:   outcome.Class(),
		Text:    c.Queue + ": " + itemLabel(c) + ": " + text,
		Log:     link,
		Details: reportDetails(c.Msg.Get("contents")),
	}
	p.report = append(p.report, line)
	p.emit(ReportAdded{Line: line})
	return nil
}

// completeQueue closes one worker's window when a child number is
// given, otherwise it produces the cross-queue summary.
func (p *Processor) completeQueue(c Contents) error {
	if !c.HasChild() {
		p.completeSummary()
		return nil
	}
	w, err := p.tailWindow(c.Queue, c.ChildNumber)
	if err != nil {
		return err
	}
	if w.logfile != "" {
		p.emit(TailStop{Queue: c.Queue, Child: c.ChildNumber, Logfile: w.logfile})
	}
	p.emit(TailItem{Queue: c.Queue, Child: c.ChildNumber, Text: c.Action})
	p.emit(TailClosed{Queue: c.Queue, Child: c.ChildNumber, Action: c.Action})
	return nil
}

func (p *Processor) completeSummary() {
	lines := make([]string, 0, len(p.queues))
	for _, name := range sortedQueueNames(p.queues) {
		lines = append(lines, summaryLine(name, p.queues[name].Status))
	}
	p.summary = append(lines, p.summary...)
	p.emit(SummaryReady{Lines: lines})
}

// Report returns the summary and report lines accumulated so far.
func (p *Processor) Report() Report {
	return Report{
		Summary: append([]string(nil), p.summary...),
		Lines:   append([]ReportLine(nil), p.report...),
	}
}
