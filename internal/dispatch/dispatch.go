// Package dispatch turns metric events into SendMetric calls and tells the
// user how each one went. Delivery is best-effort: failures are logged and
// surfaced, never retried or queued.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/large-farva/heimdall/internal/metricclient"
	"github.com/large-farva/heimdall/internal/telemetry"
)

// MethodSendMetric is the collector RPC every metric is sent through.
const MethodSendMetric = "SendMetric"

// ErrNoTransport is returned while running without a metric client.
var ErrNoTransport = errors.New("metric transport unavailable")

// Sender issues one RPC. *metricclient.Client satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, method string, message any) (*metricclient.Response, error)
}

// Notifier shows a transient message to the user.
type Notifier interface {
	Notify(level telemetry.Level, message string)
}

// Options configures a Dispatcher. A nil Sender puts the dispatcher in
// degraded mode, where every send fails fast with ErrNoTransport.
type Options struct {
	Sender   Sender
	Notifier Notifier
	Logger   *zap.Logger
	// OnResult, if set, observes every attempted send.
	OnResult func(ev telemetry.MetricEvent, err error)
}

type Dispatcher struct {
	sender   Sender
	notifier Notifier
	log      *zap.Logger
	onResult func(telemetry.MetricEvent, error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options) *Dispatcher {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		sender:   opts.Sender,
		notifier: opts.Notifier,
		log:      log,
		onResult: opts.OnResult,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Degraded reports whether the dispatcher has no transport.
func (d *Dispatcher) Degraded() bool {
	return d.sender == nil
}

// SendMetric wraps data in a transport envelope and sends it, blocking until
// the call completes.
func (d *Dispatcher) SendMetric(ctx context.Context, eventType string, data any) (*metricclient.Response, error) {
	return d.send(ctx, telemetry.NewMetricEvent(eventType, data))
}

// Report sends ev in the background. It never blocks the caller.
func (d *Dispatcher) Report(ev telemetry.MetricEvent) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_, _ = d.send(d.ctx, ev)
	}()
}

func (d *Dispatcher) send(ctx context.Context, ev telemetry.MetricEvent) (resp *metricclient.Response, err error) {
	defer func() {
		if d.onResult != nil {
			d.onResult(ev, err)
		}
	}()

	if d.sender == nil {
		d.log.Debug("metric dropped, no transport", zap.String("event_type", ev.Type))
		d.notify(telemetry.LevelError, fmt.Sprintf("Failed to send metric %q: %v", ev.Type, ErrNoTransport))
		return nil, ErrNoTransport
	}

	env, err := telemetry.Seal(ev.Type, ev.Payload)
	if err != nil {
		d.log.Warn("metric not encodable", zap.String("event_type", ev.Type), zap.Error(err))
		d.notify(telemetry.LevelError, fmt.Sprintf("Failed to encode metric %q: %v", ev.Type, err))
		return nil, err
	}

	resp, err = d.sender.SendMessage(ctx, MethodSendMetric, env)
	if err != nil {
		d.log.Warn("metric send failed",
			zap.String("event_id", ev.ID),
			zap.String("event_type", ev.Type),
			zap.Error(err))
		d.notify(telemetry.LevelError, fmt.Sprintf("Failed to send metric %q: %v", ev.Type, err))
		return nil, err
	}

	d.log.Info("metric sent",
		zap.String("event_id", ev.ID),
		zap.String("event_type", ev.Type),
		zap.String("status", resp.Status))
	d.notify(telemetry.LevelInfo, fmt.Sprintf("Event: %s, Data: %s", env.EventType, env.Data))
	return resp, nil
}

func (d *Dispatcher) notify(level telemetry.Level, msg string) {
	if d.notifier != nil {
		d.notifier.Notify(level, msg)
	}
}

// Close abandons in-flight background sends and waits for them to return.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

// Wait blocks until every background send has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
