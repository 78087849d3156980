package transfer

import (
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// progressDots matches repeated progress lines such as "..3.." or
// "…12…", which overwrite each other instead of stacking up.
var progressDots = regexp.MustCompile(
	`^(?:…+|\.\.+) ?[0-9]+.*?(?:…+|\.\.+)`,
)

// ChildRenderer turns the lines of one worker log into ChildLine
// and TailProgress events. It tracks section nesting opened by
// start_* / end_* actions.
type ChildRenderer struct {
	queue   string
	child   ChildNumber
	logfile string

	depth    int
	lastDots bool

	// onPercent receives item percentages; nil when rendering
	// a log outside a live session.
	onPercent func(pct float64) error
}

// NewChildRenderer returns a renderer for a log that is not bound
// to a live processor, such as a finished log viewed on demand.
func NewChildRenderer(
	queue string, child ChildNumber, logfile string,
) *ChildRenderer {
	return &ChildRenderer{queue: queue, child: child, logfile: logfile}
}

// Depth returns the current section nesting level.
func (r *ChildRenderer) Depth() int {
	return r.depth
}

// Render handles one child log message.
func (r *ChildRenderer) Render(msg Message, emit EmitFunc) error {
	c := msg.Contents
	switch {
	case !c.Raw.Exists():
		log.Printf("transfer: unexpected child log line in %s",
			r.logfile)
	case truthy(c.Msg):
		r.renderText(msg, emit)
	case msg.Type == TypeModuleStatus:
		r.renderModuleStatus(c, emit)
	case msg.Type == TypeControl:
		return r.renderControl(c, emit)
	default:
		log.Printf("transfer: unhandled child message type %q in %s",
			msg.Type, r.logfile)
	}
	return nil
}

func (r *ChildRenderer) line(class, text string) ChildLine {
	return ChildLine{
		Queue:   r.queue,
		Child:   r.child,
		Logfile: r.logfile,
		Depth:   r.depth,
		Class:   class,
		Text:    text,
	}
}

func (r *ChildRenderer) renderText(msg Message, emit EmitFunc) {
	c := msg.Contents
	if c.Action != "" {
		switch {
		case strings.HasPrefix(c.Action, "start_"):
			l := r.line(c.Action+"_header", joinText(c.Msg))
			l.Header = true
			emit(l)
			r.depth++
			r.lastDots = false
		case strings.HasPrefix(c.Action, "end_"):
			if r.depth > 0 {
				r.depth--
			}
			r.lastDots = false
		}
		return
	}

	text := joinText(c.Msg)
	dots := progressDots.MatchString(text)
	l := r.line(textClass(msg, text), text)
	l.Replace = dots && r.lastDots
	r.lastDots = dots
	emit(l)
}

var (
	remoteError = regexp.MustCompile(`^ERROR:`)
	remoteWarn  = regexp.MustCompile(`warn \[[^\]]*\]`)
)

func textClass(msg Message, text string) string {
	if msg.Source != "" {
		switch {
		case msg.Type == TypeError || remoteError.MatchString(text):
			return "error_source_remote"
		case msg.Type == TypeWarn || remoteWarn.MatchString(text):
			return "warn_source_remote"
		}
		return "source_remote"
	}
	switch msg.Type {
	case TypeWarn, TypeError, TypeFailed, TypeSuccess:
		return msg.Type
	}
	return ""
}

func (r *ChildRenderer) renderModuleStatus(c Contents, emit EmitFunc) {
	status := c.Raw.Get("status").String()
	text := c.Raw.Get("module").String()
	if sm := c.Raw.Get("statusmsg").String(); sm != "" {
		text += ": " + sm
	}
	r.lastDots = false
	emit(r.line("modulestatus modulestatus_"+status, text))
}

func (r *ChildRenderer) renderControl(c Contents, emit EmitFunc) error {
	switch ParseAction(c.Action) {
	case ActionPercentage:
		pct := IntValue(c.Raw.Get("percentage"))
		emit(TailProgress{
			Queue:   r.queue,
			Child:   r.child,
			Percent: clampPercent(int(pct)),
		})
		if r.onPercent != nil {
			return r.onPercent(float64(pct))
		}
	case ActionSummary:
		r.renderSummary(c.Raw, emit)
	case ActionStartItem:
		r.lastDots = false
		emit(r.line("transfer_item",
			fmt.Sprintf("%s: %s", c.ItemName, c.Item)))
	default:
		log.Printf("transfer: unhandled child action %q in %s",
			c.Action, r.logfile)
	}
	return nil
}

// renderSummary emits one line per warning, skipped, dangerous
// or altered entry. Entries are [[module, func, line], text, action].
func (r *ChildRenderer) renderSummary(raw gjson.Result, emit EmitFunc) {
	for _, kind := range detailKinds {
		raw.Get(kind.key).ForEach(func(_, entry gjson.Result) bool {
			l := r.line(
				"summarymsg "+kind.class,
				kind.label+": "+entry.Get("1").String(),
			)
			l.Action = actionLink(entry.Get("2"))
			emit(l)
			return true
		})
	}
	r.lastDots = false
}
