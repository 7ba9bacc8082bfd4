// Package tracker watches lines produced by accepted autocomplete
// suggestions and reports when a human later edits one of them.
//
// Acceptances populate a Registry keyed by document and line. Selection
// changes drive detection: when the cursor leaves a tracked line whose live
// text no longer matches the recorded text, a per-line debounce timer is
// (re)started. When the quiet window elapses the modification is reported
// once and the line is retired.
package tracker

import (
	"sync"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"

	"github.com/large-farva/heimdall/internal/telemetry"
)

// DefaultQuietWindow is the debounce window applied before a modification
// is reported.
const DefaultQuietWindow = 5 * time.Second

// TextSource reads the live content of a document line from the editor.
type TextSource interface {
	LineText(document string, line int) (string, error)
}

// Reporter receives metric events. Implementations must not block the
// caller for the duration of a network call.
type Reporter interface {
	Report(ev telemetry.MetricEvent)
}

// Options configures a Tracker.
type Options struct {
	Source      TextSource
	Reporter    Reporter
	Clock       Clock
	QuietWindow time.Duration
	TTL         time.Duration
	Logger      *zap.Logger
}

// Tracker is the insertion tracking core. All registry, timer and cursor
// state is guarded by one mutex because debounce timers fire on their own
// goroutines.
type Tracker struct {
	src   TextSource
	rep   Reporter
	clock Clock
	log   *zap.Logger
	dmp   *diffmatchpatch.DiffMatchPatch

	mu       sync.Mutex
	registry *Registry
	timers   *Debouncer[DocLine]
	last     DocLine
	hasLast  bool
	quiet    time.Duration
	ttl      time.Duration
}

func New(opts Options) *Tracker {
	clock := opts.Clock
	if clock == nil {
		clock = WallClock()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	quiet := opts.QuietWindow
	if quiet <= 0 {
		quiet = DefaultQuietWindow
	}
	return &Tracker{
		src:      opts.Source,
		rep:      opts.Reporter,
		clock:    clock,
		log:      log,
		dmp:      diffmatchpatch.New(),
		registry: NewRegistry(),
		timers:   NewDebouncer[DocLine](clock),
		quiet:    quiet,
		ttl:      opts.TTL,
	}
}

// Accept records the text an accepted suggestion inserted starting at
// startLine and reports the acceptance. Empty text or a negative start line
// is ignored. It returns the number of lines now tracked for the span.
func (t *Tracker) Accept(document string, startLine, endLine int, text string) int {
	if text == "" || startLine < 0 {
		t.log.Debug("skipping acceptance", zap.String("document", document), zap.Int("start_line", startLine))
		return 0
	}

	fragments := splitLines(text)
	now := t.clock.Now()

	t.mu.Lock()
	for i, frag := range fragments {
		key := DocLine{Document: document, Line: startLine + i}
		// A fresh acceptance supersedes any modification still settling.
		t.timers.Cancel(key)
		t.registry.Record(key, frag, now)
	}
	t.mu.Unlock()

	t.log.Debug("acceptance recorded",
		zap.String("document", document),
		zap.Int("start_line", startLine),
		zap.Int("end_line", endLine),
		zap.Int("lines", len(fragments)))

	t.report(telemetry.MetricAutoComplete, telemetry.AutoCompletePayload{
		StartLine:   startLine + 1,
		EndLine:     endLine + 1,
		TextBetween: text,
		Timestamp:   now.UTC().Format(time.RFC3339Nano),
		Document:    document,
	})
	return len(fragments)
}

// SelectionChanged handles the cursor moving to line in document. The line
// being left is checked against the registry before the new position is
// remembered.
func (t *Tracker) SelectionChanged(document string, line int) {
	if line < 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.hasLast {
		t.checkLeftLine(t.last)
	}
	t.last = DocLine{Document: document, Line: line}
	t.hasLast = true
}

// checkLeftLine schedules a modification report for key when its live text
// diverges from the recorded text. Callers hold t.mu.
func (t *Tracker) checkLeftLine(key DocLine) {
	entry, ok := t.registry.Get(key)
	if !ok {
		return
	}
	live, err := t.src.LineText(key.Document, key.Line)
	if err != nil {
		t.log.Debug("line unreadable", zap.String("document", key.Document), zap.Int("line", key.Line), zap.Error(err))
		return
	}
	if live == entry.Text {
		return
	}

	t.log.Debug("generated line edited",
		zap.String("document", key.Document),
		zap.Int("line", key.Line),
		zap.Int("edit_distance", t.editDistance(entry.Text, live)),
		zap.Duration("quiet_window", t.quiet))
	gen := entry.Gen
	t.timers.Schedule(key, t.quiet, func(key DocLine) { t.onQuiet(key, gen) })
}

// onQuiet runs when a line's quiet window elapses. gen is the entry
// generation the check was scheduled for; a line re-accepted since then is
// left alone.
func (t *Tracker) onQuiet(key DocLine, gen uint64) {
	t.mu.Lock()
	if e, ok := t.registry.Get(key); !ok || e.Gen != gen {
		t.mu.Unlock()
		return
	}
	live, err := t.src.LineText(key.Document, key.Line)
	t.registry.Remove(key)
	t.timers.Cancel(key)
	t.mu.Unlock()

	if err != nil {
		t.log.Warn("dropping tracked line, live text unavailable",
			zap.String("document", key.Document), zap.Int("line", key.Line), zap.Error(err))
		return
	}

	t.report(telemetry.MetricLineChanged, telemetry.LineChangedPayload{
		Line:     key.Line,
		LineText: live,
		Document: key.Document,
	})
}

func (t *Tracker) report(eventType string, payload any) {
	if t.rep == nil {
		return
	}
	t.rep.Report(telemetry.NewMetricEvent(eventType, payload))
}

func (t *Tracker) editDistance(a, b string) int {
	return t.dmp.DiffLevenshtein(t.dmp.DiffMain(a, b, false))
}

// Sweep evicts entries recorded more than the TTL before now that have no
// pending report. It returns the number evicted; a zero TTL disables it.
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ttl <= 0 {
		return 0
	}
	evicted := 0
	for _, key := range t.registry.RecordedBefore(now.Add(-t.ttl)) {
		if t.timers.Pending(key) {
			continue
		}
		t.registry.Remove(key)
		evicted++
	}
	if evicted > 0 {
		t.log.Debug("evicted stale tracked lines", zap.Int("count", evicted))
	}
	return evicted
}

// Forget drops every tracked line of document along with its pending
// reports. Used when the editor closes the document.
func (t *Tracker) Forget(document string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := t.registry.InDocument(document)
	for _, key := range keys {
		t.timers.Cancel(key)
		t.registry.Remove(key)
	}
	if t.hasLast && t.last.Document == document {
		t.hasLast = false
	}
	return len(keys)
}

// SetQuietWindow changes the debounce window for timers scheduled from now
// on. Non-positive values are ignored.
func (t *Tracker) SetQuietWindow(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	t.quiet = d
	t.mu.Unlock()
}

func (t *Tracker) SetTTL(d time.Duration) {
	t.mu.Lock()
	t.ttl = d
	t.mu.Unlock()
}

// LineView is a tracked line as shown by the daemon API.
type LineView struct {
	Document     string    `json:"document"`
	Line         int       `json:"line"`
	Text         string    `json:"text"`
	RecordedAt   time.Time `json:"recorded_at"`
	Pending      bool      `json:"pending"`
	LiveText     string    `json:"live_text,omitempty"`
	EditDistance int       `json:"edit_distance"`
}

// Lines lists every tracked line along with its live text, when readable.
func (t *Tracker) Lines() []LineView {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := t.registry.Snapshot()
	out := make([]LineView, 0, len(snap))
	for _, s := range snap {
		v := LineView{
			Document:   s.Document,
			Line:       s.Line,
			Text:       s.Text,
			RecordedAt: s.RecordedAt,
			Pending:    t.timers.Pending(s.DocLine),
		}
		if live, err := t.src.LineText(s.Document, s.Line); err == nil {
			v.LiveText = live
			v.EditDistance = t.editDistance(s.Text, live)
		}
		out = append(out, v)
	}
	return out
}

// Stats returns the number of tracked lines and pending reports.
func (t *Tracker) Stats() (tracked, pending int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registry.Len(), t.timers.Len()
}

// Close abandons pending reports.
func (t *Tracker) Close() {
	t.timers.Stop()
}
