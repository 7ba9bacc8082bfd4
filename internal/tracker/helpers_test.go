package tracker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/large-farva/heimdall/internal/telemetry"
)

// manualClock only advances when told to. Due callbacks run synchronously
// on the goroutine calling Advance.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward by d and runs every callback that became due,
// in deadline order.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fn()
	}
}

// fakeDocs is an in-memory editor buffer set.
type fakeDocs struct {
	mu    sync.Mutex
	lines map[string]map[int]string
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{lines: make(map[string]map[int]string)}
}

func (f *fakeDocs) Set(doc string, line int, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lines[doc] == nil {
		f.lines[doc] = make(map[int]string)
	}
	f.lines[doc][line] = text
}

func (f *fakeDocs) LineText(doc string, line int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	text, ok := f.lines[doc][line]
	if !ok {
		return "", fmt.Errorf("%s:%d out of range", doc, line)
	}
	return text, nil
}

type recordingReporter struct {
	mu     sync.Mutex
	events []telemetry.MetricEvent
}

func (r *recordingReporter) Report(ev telemetry.MetricEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingReporter) ofType(eventType string) []telemetry.MetricEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []telemetry.MetricEvent
	for _, ev := range r.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}
