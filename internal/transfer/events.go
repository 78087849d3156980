package transfer

// EventKind names an event for consumers such as the SSE stream.
type EventKind string

const (
	KindState             EventKind = "state"
	KindSource            EventKind = "source"
	KindQueueProgress     EventKind = "queue_progress"
	KindTailItem          EventKind = "tail_item"
	KindTailProgress      EventKind = "tail_progress"
	KindTailStart         EventKind = "tail_start"
	KindTailStop          EventKind = "tail_stop"
	KindTailClosed        EventKind = "tail_closed"
	KindItemFinished      EventKind = "item_finished"
	KindReport            EventKind = "report"
	KindSummary           EventKind = "summary"
	KindStateButtonHidden EventKind = "state_button_hidden"
	KindChildLine         EventKind = "child_line"
)

// Event is a presentation-facing change produced by the processor.
// The processor holds no rendering logic; consumers turn events
// into whatever display they maintain.
type Event interface {
	Kind() EventKind
}

// EmitFunc receives events in the order they are produced.
type EmitFunc func(Event)

// StateChanged is emitted on every SetState call.
type StateChanged struct {
	State SessionState `json:"state"`
}

// SourceHost carries the transfer's source host. Empty means a
// local restore.
type SourceHost struct {
	Host string `json:"host"`
}

// QueueProgress is the queue-level display percent.
type QueueProgress struct {
	Queue   string `json:"queue"`
	Percent int    `json:"percent"`
}

// TailItem sets the label of a worker window.
type TailItem struct {
	Queue string      `json:"queue"`
	Child ChildNumber `json:"child"`
	Text  string      `json:"text"`
}

// TailProgress is a worker window's item percent.
type TailProgress struct {
	Queue   string      `json:"queue"`
	Child   ChildNumber `json:"child"`
	Percent int         `json:"percent"`
}

// TailStart asks the log source to start following Logfile.
type TailStart struct {
	Queue   string      `json:"queue"`
	Child   ChildNumber `json:"child"`
	Logfile string      `json:"logfile"`
}

// TailStop asks the log source to stop following Logfile.
type TailStop struct {
	Queue   string      `json:"queue"`
	Child   ChildNumber `json:"child"`
	Logfile string      `json:"logfile"`
}

// TailClosed marks a worker window as finished.
type TailClosed struct {
	Queue  string      `json:"queue"`
	Child  ChildNumber `json:"child"`
	Action string      `json:"action"`
}

// ItemFinished appends a row to a queue's output.
type ItemFinished struct {
	Queue string  `json:"queue"`
	Row   ItemRow `json:"row"`
}

// ReportAdded appends a warning or failure line to the session
// report.
type ReportAdded struct {
	Line ReportLine `json:"line"`
}

// SummaryReady carries the per-queue summary lines shown above
// the report once the whole session finishes.
type SummaryReady struct {
	Lines []string `json:"lines"`
}

// StateButtonHidden tells the UI to hide pause/abort controls
// because the session is about to finish.
type StateButtonHidden struct{}

// ChildLine is one rendered line from a worker's log.
type ChildLine struct {
	Queue   string      `json:"queue,omitempty"`
	Child   ChildNumber `json:"child,omitempty"`
	Logfile string      `json:"logfile"`
	Depth   int         `json:"depth"`
	Class   string      `json:"class,omitempty"`
	Text    string      `json:"text"`
	// Header marks the opening line of a nested section.
	Header bool `json:"header,omitempty"`
	// Replace means the line overwrites the previous one
	// (progress dots such as "..3..").
	Replace bool        `json:"replace,omitempty"`
	Action  *ActionLink `json:"action,omitempty"`
}

func (StateChanged) Kind() EventKind      { return KindState }
func (SourceHost) Kind() EventKind        { return KindSource }
func (QueueProgress) Kind() EventKind     { return KindQueueProgress }
func (TailItem) Kind() EventKind          { return KindTailItem }
func (TailProgress) Kind() EventKind      { return KindTailProgress }
func (TailStart) Kind() EventKind         { return KindTailStart }
func (TailStop) Kind() EventKind          { return KindTailStop }
func (TailClosed) Kind() EventKind        { return KindTailClosed }
func (ItemFinished) Kind() EventKind      { return KindItemFinished }
func (ReportAdded) Kind() EventKind       { return KindReport }
func (SummaryReady) Kind() EventKind      { return KindSummary }
func (StateButtonHidden) Kind() EventKind { return KindStateButtonHidden }
func (ChildLine) Kind() EventKind         { return KindChildLine }
