package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/large-farva/heimdall/internal/metricclient"
	"github.com/large-farva/heimdall/internal/telemetry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type call struct {
	method  string
	message any
}

type fakeSender struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeSender) SendMessage(_ context.Context, method string, message any) (*metricclient.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{method, message})
	if f.err != nil {
		return nil, f.err
	}
	return &metricclient.Response{Status: "success", Message: "ok"}, nil
}

type note struct {
	level telemetry.Level
	msg   string
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []note
}

func (f *fakeNotifier) Notify(level telemetry.Level, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, note{level, msg})
}

func TestSendMetricWrapsEnvelope(t *testing.T) {
	sender := &fakeSender{}
	notifier := &fakeNotifier{}
	d := New(Options{Sender: sender, Notifier: notifier})
	defer d.Close()

	resp, err := d.SendMetric(context.Background(), telemetry.MetricLineChanged, telemetry.LineChangedPayload{Line: 4, LineText: "foobaz"})
	require.NoError(t, err)
	assert.Equal(t, "success", resp.Status)

	require.Len(t, sender.calls, 1)
	assert.Equal(t, MethodSendMetric, sender.calls[0].method)
	env := sender.calls[0].message.(telemetry.Envelope)
	assert.Equal(t, telemetry.MetricLineChanged, env.EventType)
	assert.JSONEq(t, `{"line":4,"lineText":"foobaz"}`, env.Data)

	require.Len(t, notifier.notes, 1)
	assert.Equal(t, telemetry.LevelInfo, notifier.notes[0].level)
	assert.Contains(t, notifier.notes[0].msg, telemetry.MetricLineChanged)
}

func TestSendFailureIsSurfacedNotRetried(t *testing.T) {
	sender := &fakeSender{err: errors.New("connection refused")}
	notifier := &fakeNotifier{}
	d := New(Options{Sender: sender, Notifier: notifier})
	defer d.Close()

	_, err := d.SendMetric(context.Background(), "x", map[string]int{"a": 1})
	require.Error(t, err)

	assert.Len(t, sender.calls, 1)
	require.Len(t, notifier.notes, 1)
	assert.Equal(t, telemetry.LevelError, notifier.notes[0].level)
	assert.Contains(t, notifier.notes[0].msg, "connection refused")
}

func TestDegradedModeFailsGracefully(t *testing.T) {
	var results []error
	notifier := &fakeNotifier{}
	d := New(Options{Notifier: notifier, OnResult: func(_ telemetry.MetricEvent, err error) { results = append(results, err) }})
	defer d.Close()

	assert.True(t, d.Degraded())
	_, err := d.SendMetric(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrNoTransport)

	d.Report(telemetry.NewMetricEvent("y", nil))
	d.Wait()
	require.Len(t, results, 2)
	assert.ErrorIs(t, results[1], ErrNoTransport)

	require.Len(t, notifier.notes, 2)
	for _, n := range notifier.notes {
		assert.Equal(t, telemetry.LevelError, n.level)
		assert.Contains(t, n.msg, ErrNoTransport.Error())
	}
}

func TestReportIsAsynchronous(t *testing.T) {
	sender := &fakeSender{}
	var mu sync.Mutex
	var seen []string
	d := New(Options{
		Sender: sender,
		OnResult: func(ev telemetry.MetricEvent, err error) {
			mu.Lock()
			defer mu.Unlock()
			assert.NoError(t, err)
			seen = append(seen, ev.ID)
		},
	})

	ev := telemetry.NewMetricEvent(telemetry.MetricAutoComplete, telemetry.AutoCompletePayload{StartLine: 5, EndLine: 6})
	d.Report(ev)
	d.Close()

	assert.Equal(t, []string{ev.ID}, seen)
	assert.Len(t, sender.calls, 1)
}

func TestUnencodablePayload(t *testing.T) {
	sender := &fakeSender{}
	notifier := &fakeNotifier{}
	d := New(Options{Sender: sender, Notifier: notifier})
	defer d.Close()

	_, err := d.SendMetric(context.Background(), "x", func() {})
	assert.Error(t, err)
	assert.Empty(t, sender.calls)
	assert.Len(t, notifier.notes, 1)
}
