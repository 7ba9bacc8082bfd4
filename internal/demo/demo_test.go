package demo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/heimdall/internal/editor"
	"github.com/large-farva/heimdall/internal/telemetry"
	"github.com/large-farva/heimdall/internal/tracker"
)

type recorder struct {
	mu     sync.Mutex
	events []telemetry.MetricEvent
}

func (r *recorder) Report(ev telemetry.MetricEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

func newRunner(t *testing.T) (*Runner, *tracker.Tracker, *recorder) {
	t.Helper()
	mirror := editor.NewMirror()
	rec := &recorder{}
	tr := tracker.New(tracker.Options{Source: mirror, Reporter: rec, QuietWindow: 20 * time.Millisecond})
	t.Cleanup(tr.Close)
	return New(editor.NewRouter(mirror, tr, nil), nil), tr, rec
}

func TestRoundWithEditReportsChange(t *testing.T) {
	r, tr, rec := newRunner(t)
	r.EditChance = 1

	r.Round(context.Background())

	assert.Equal(t, 1, rec.count(telemetry.MetricAutoComplete))
	assert.Eventually(t, func() bool {
		return rec.count(telemetry.MetricLineChanged) == 1
	}, time.Second, 5*time.Millisecond)

	tracked, _ := tr.Stats()
	assert.Equal(t, 1, tracked)
}

func TestRoundWithoutEditOnlyAccepts(t *testing.T) {
	r, tr, rec := newRunner(t)
	r.EditChance = 0

	r.Round(context.Background())
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, 1, rec.count(telemetry.MetricAutoComplete))
	assert.Zero(t, rec.count(telemetry.MetricLineChanged))
	tracked, pending := tr.Stats()
	assert.Equal(t, 2, tracked)
	assert.Zero(t, pending)
}

func TestNextRoundClosesPreviousDocument(t *testing.T) {
	r, tr, _ := newRunner(t)
	r.EditChance = 0

	r.Round(context.Background())
	r.Round(context.Background())

	var docs []string
	for _, l := range tr.Lines() {
		docs = append(docs, l.Document)
	}
	require.NotEmpty(t, docs)
	for _, d := range docs {
		assert.Equal(t, "demo://session-2/main.go", d)
	}
}
