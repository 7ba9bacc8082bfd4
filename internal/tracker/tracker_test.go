package tracker

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/heimdall/internal/telemetry"
)

const doc = "file:///src/main.go"

type fixture struct {
	clock *manualClock
	docs  *fakeDocs
	rep   *recordingReporter
	tr    *Tracker
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		clock: newManualClock(),
		docs:  newFakeDocs(),
		rep:   &recordingReporter{},
	}
	opts.Clock = f.clock
	opts.Source = f.docs
	opts.Reporter = f.rep
	f.tr = New(opts)
	t.Cleanup(f.tr.Close)
	return f
}

func (f *fixture) registry() map[int]string {
	out := make(map[int]string)
	for _, s := range f.tr.registry.Snapshot() {
		out[s.Line] = s.Text
	}
	return out
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"lf", "foo\nbar\nbaz", []string{"foo", "bar", "baz"}},
		{"crlf", "foo\r\nbar", []string{"foo", "bar"}},
		{"cr", "foo\rbar", []string{"foo", "bar"}},
		{"single line", "foo", []string{"foo"}},
		{"trailing break", "foo\n", []string{"foo", ""}},
		// Mixed styles split on the winning separator only.
		{"mixed crlf wins", "a\r\nb\nc", []string{"a", "b\nc"}},
		{"mixed lf before cr", "a\nb\rc", []string{"a", "b\rc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitLines(tt.in))
		})
	}
}

func TestAcceptRecordsEveryLine(t *testing.T) {
	f := newFixture(t, Options{})

	n := f.tr.Accept(doc, 4, 5, "foo\nbar")
	require.Equal(t, 2, n)
	assert.Equal(t, map[int]string{4: "foo", 5: "bar"}, f.registry())

	events := f.rep.ofType(telemetry.MetricAutoComplete)
	require.Len(t, events, 1)
	want := telemetry.AutoCompletePayload{
		StartLine:   5,
		EndLine:     6,
		TextBetween: "foo\nbar",
		Document:    doc,
	}
	got := events[0].Payload.(telemetry.AutoCompletePayload)
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(telemetry.AutoCompletePayload{}, "Timestamp")); diff != "" {
		t.Errorf("acceptance payload mismatch (-want +got):\n%s", diff)
	}
	_, err := time.Parse(time.RFC3339Nano, got.Timestamp)
	assert.NoError(t, err)
}

func TestAcceptSpanningKLines(t *testing.T) {
	f := newFixture(t, Options{})

	f.tr.Accept(doc, 10, 13, "a\r\nb\r\nc\r\nd")
	assert.Equal(t, map[int]string{10: "a", 11: "b", 12: "c", 13: "d"}, f.registry())
}

func TestAcceptOverwrites(t *testing.T) {
	f := newFixture(t, Options{})

	f.tr.Accept(doc, 4, 6, "one\ntwo\nthree")
	f.tr.Accept(doc, 4, 5, "uno\ndos")
	assert.Equal(t, map[int]string{4: "uno", 5: "dos", 6: "three"}, f.registry())
	assert.Len(t, f.rep.ofType(telemetry.MetricAutoComplete), 2)
}

func TestAcceptEmptyIsIgnored(t *testing.T) {
	f := newFixture(t, Options{})

	assert.Zero(t, f.tr.Accept(doc, 4, 4, ""))
	assert.Zero(t, f.tr.Accept(doc, -1, 2, "foo"))
	assert.Empty(t, f.registry())
	assert.Empty(t, f.rep.events)
}

func TestModificationReportedAfterQuietWindow(t *testing.T) {
	f := newFixture(t, Options{})

	f.tr.Accept(doc, 4, 5, "foo\nbar")
	f.docs.Set(doc, 4, "foobaz")
	f.docs.Set(doc, 5, "bar")

	f.tr.SelectionChanged(doc, 4)
	f.tr.SelectionChanged(doc, 9) // leave line 4
	assert.True(t, f.tr.timers.Pending(DocLine{doc, 4}))

	f.clock.Advance(4 * time.Second)
	assert.Empty(t, f.rep.ofType(telemetry.MetricLineChanged))

	f.clock.Advance(time.Second)
	events := f.rep.ofType(telemetry.MetricLineChanged)
	require.Len(t, events, 1)
	assert.Equal(t, telemetry.LineChangedPayload{Line: 4, LineText: "foobaz", Document: doc}, events[0].Payload)

	assert.Equal(t, map[int]string{5: "bar"}, f.registry())
	assert.False(t, f.tr.timers.Pending(DocLine{doc, 4}))

	// Revisiting the retired line finds nothing to report.
	f.tr.SelectionChanged(doc, 4)
	f.tr.SelectionChanged(doc, 9)
	f.clock.Advance(time.Minute)
	assert.Len(t, f.rep.ofType(telemetry.MetricLineChanged), 1)
}

func TestNoReportWhenTextUnchanged(t *testing.T) {
	f := newFixture(t, Options{})

	f.tr.Accept(doc, 4, 4, "foo")
	f.docs.Set(doc, 4, "foo")

	f.tr.SelectionChanged(doc, 4)
	f.tr.SelectionChanged(doc, 5)
	f.clock.Advance(time.Minute)

	assert.Empty(t, f.rep.ofType(telemetry.MetricLineChanged))
	assert.Equal(t, map[int]string{4: "foo"}, f.registry())
}

func TestReturningToLineRestartsWindow(t *testing.T) {
	f := newFixture(t, Options{})

	f.tr.Accept(doc, 4, 4, "foo")
	f.docs.Set(doc, 4, "foob")

	f.tr.SelectionChanged(doc, 4)
	f.tr.SelectionChanged(doc, 5)
	f.clock.Advance(3 * time.Second)

	f.docs.Set(doc, 4, "foobar")
	f.tr.SelectionChanged(doc, 4)
	f.tr.SelectionChanged(doc, 5)

	f.clock.Advance(3 * time.Second)
	assert.Empty(t, f.rep.ofType(telemetry.MetricLineChanged))

	f.clock.Advance(2 * time.Second)
	events := f.rep.ofType(telemetry.MetricLineChanged)
	require.Len(t, events, 1)
	assert.Equal(t, "foobar", events[0].Payload.(telemetry.LineChangedPayload).LineText)
}

func TestFireReadsTextAtFireTime(t *testing.T) {
	f := newFixture(t, Options{QuietWindow: time.Second})

	f.tr.Accept(doc, 2, 2, "x := 1")
	f.docs.Set(doc, 2, "x := 2")
	f.tr.SelectionChanged(doc, 2)
	f.tr.SelectionChanged(doc, 3)

	f.docs.Set(doc, 2, "x := 42")
	f.clock.Advance(time.Second)

	events := f.rep.ofType(telemetry.MetricLineChanged)
	require.Len(t, events, 1)
	assert.Equal(t, "x := 42", events[0].Payload.(telemetry.LineChangedPayload).LineText)
}

func TestDocumentsDoNotCollide(t *testing.T) {
	f := newFixture(t, Options{})
	other := "file:///src/other.go"

	f.tr.Accept(doc, 4, 4, "foo")
	f.docs.Set(doc, 4, "foo")
	f.docs.Set(other, 4, "something else")

	f.tr.SelectionChanged(other, 4)
	f.tr.SelectionChanged(other, 5)
	f.clock.Advance(time.Minute)
	assert.Empty(t, f.rep.ofType(telemetry.MetricLineChanged))

	// Switching documents counts as leaving the line.
	f.docs.Set(doc, 4, "fooo")
	f.tr.SelectionChanged(doc, 4)
	f.tr.SelectionChanged(other, 0)
	f.clock.Advance(5 * time.Second)
	assert.Len(t, f.rep.ofType(telemetry.MetricLineChanged), 1)
}

func TestUnreadableLineIsNotScheduled(t *testing.T) {
	f := newFixture(t, Options{})

	f.tr.Accept(doc, 100, 100, "foo")
	f.tr.SelectionChanged(doc, 100)
	f.tr.SelectionChanged(doc, 1)

	tracked, pending := f.tr.Stats()
	assert.Equal(t, 1, tracked)
	assert.Zero(t, pending)
}

func TestReacceptCancelsPendingReport(t *testing.T) {
	f := newFixture(t, Options{})

	f.tr.Accept(doc, 4, 4, "foo")
	f.docs.Set(doc, 4, "fooz")
	f.tr.SelectionChanged(doc, 4)
	f.tr.SelectionChanged(doc, 5)

	f.tr.Accept(doc, 4, 4, "fooz")
	f.clock.Advance(time.Minute)
	assert.Empty(t, f.rep.ofType(telemetry.MetricLineChanged))
	assert.Equal(t, map[int]string{4: "fooz"}, f.registry())
}

func TestQuietCheckSkipsLineReacceptedAfterScheduling(t *testing.T) {
	f := newFixture(t, Options{})
	key := DocLine{Document: doc, Line: 4}

	f.tr.Accept(doc, 4, 4, "foo")
	f.docs.Set(doc, 4, "fooz")
	f.tr.SelectionChanged(doc, 4)
	f.tr.SelectionChanged(doc, 5)
	stale, ok := f.tr.registry.Get(key)
	require.True(t, ok)

	// The timer has already been taken off the debouncer when the line is
	// accepted again, so only the generation check stands in the way.
	require.True(t, f.tr.timers.Cancel(key))
	f.tr.Accept(doc, 4, 4, "fooz")
	f.tr.onQuiet(key, stale.Gen)

	assert.Empty(t, f.rep.ofType(telemetry.MetricLineChanged))
	assert.Equal(t, map[int]string{4: "fooz"}, f.registry())
}

func TestSweepEvictsStaleEntries(t *testing.T) {
	f := newFixture(t, Options{TTL: 10 * time.Minute})

	f.tr.Accept(doc, 1, 2, "a\nb")
	f.clock.Advance(6 * time.Minute)
	f.tr.Accept(doc, 8, 8, "c")
	f.clock.Advance(4*time.Minute + time.Second)

	// Line 2 has a report pending and must survive the sweep.
	f.docs.Set(doc, 2, "bb")
	f.tr.SelectionChanged(doc, 2)
	f.tr.SelectionChanged(doc, 3)

	assert.Equal(t, 1, f.tr.Sweep(f.clock.Now()))
	assert.Equal(t, map[int]string{2: "b", 8: "c"}, f.registry())
}

func TestForgetDropsDocument(t *testing.T) {
	f := newFixture(t, Options{})
	other := "file:///src/other.go"

	f.tr.Accept(doc, 0, 1, "a\nb")
	f.tr.Accept(other, 0, 0, "z")
	f.docs.Set(doc, 0, "aa")
	f.tr.SelectionChanged(doc, 0)
	f.tr.SelectionChanged(doc, 1)

	assert.Equal(t, 2, f.tr.Forget(doc))
	f.clock.Advance(time.Minute)

	assert.Empty(t, f.rep.ofType(telemetry.MetricLineChanged))
	tracked, pending := f.tr.Stats()
	assert.Equal(t, 1, tracked)
	assert.Zero(t, pending)
}

func TestSweepDisabledWithoutTTL(t *testing.T) {
	f := newFixture(t, Options{})

	f.tr.Accept(doc, 1, 1, "a")
	f.clock.Advance(24 * time.Hour)
	assert.Zero(t, f.tr.Sweep(f.clock.Now()))
}

func TestSetQuietWindow(t *testing.T) {
	f := newFixture(t, Options{})
	f.tr.SetQuietWindow(time.Second)
	f.tr.SetQuietWindow(0)

	f.tr.Accept(doc, 0, 0, "a")
	f.docs.Set(doc, 0, "ab")
	f.tr.SelectionChanged(doc, 0)
	f.tr.SelectionChanged(doc, 1)

	f.clock.Advance(time.Second)
	assert.Len(t, f.rep.ofType(telemetry.MetricLineChanged), 1)
}

func TestLinesView(t *testing.T) {
	f := newFixture(t, Options{})

	f.tr.Accept(doc, 0, 1, "abc\ndef")
	f.docs.Set(doc, 0, "abXc")

	lines := f.tr.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "abc", lines[0].Text)
	assert.Equal(t, "abXc", lines[0].LiveText)
	assert.Equal(t, 1, lines[0].EditDistance)
	assert.Empty(t, lines[1].LiveText)
}
