// Package app wires together the HTTP server, WebSocket hub, insertion
// tracker, metric dispatcher and the optional Neovim host. It owns the
// daemon's lifecycle and is the single source of truth for the current
// operating state.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/large-farva/heimdall/internal/config"
	"github.com/large-farva/heimdall/internal/demo"
	"github.com/large-farva/heimdall/internal/dispatch"
	"github.com/large-farva/heimdall/internal/editor"
	"github.com/large-farva/heimdall/internal/logging"
	"github.com/large-farva/heimdall/internal/metricclient"
	"github.com/large-farva/heimdall/internal/nvimhost"
	"github.com/large-farva/heimdall/internal/telemetry"
	"github.com/large-farva/heimdall/internal/tracker"
	"github.com/large-farva/heimdall/internal/ws"
)

// Operating states.
const (
	StateBooting  = "BOOTING"
	StateIdle     = "IDLE"
	StateDegraded = "DEGRADED"
)

const heartbeatInterval = 10 * time.Second

// ClientFactory builds the metric client. The default returns the
// process-wide instance.
type ClientFactory func(ctx context.Context, opts metricclient.Options) (*metricclient.Client, error)

// Options holds everything the App needs from the caller.
type Options struct {
	Logger     *zap.Logger
	Level      zap.AtomicLevel
	Cfg        config.Config
	ConfigPath string
	Bind       string
	NewClient  ClientFactory
}

// App is the top-level daemon process.
type App struct {
	log        *zap.Logger
	level      zap.AtomicLevel
	bind       string
	newClient  ClientFactory
	ownsClient bool

	cfgMu      sync.RWMutex
	cfg        config.Config
	configPath string

	startedAt time.Time
	state     atomic.Value
	ready     chan struct{}
	addr      atomic.Value

	wsHub      *ws.Hub
	mirror     *editor.Mirror
	router     *editor.Router
	tracker    *tracker.Tracker
	dispatcher *dispatch.Dispatcher
	client     *metricclient.Client
	nvim       atomic.Pointer[nvimhost.Host]

	// bootFailure is the startup error editors are told about on attach.
	bootFailure atomic.Pointer[string]
}

// New creates an App in the BOOTING state. Call Run to start serving.
func New(opts Options) *App {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{
		log:        log,
		level:      opts.Level,
		bind:       opts.Bind,
		newClient:  opts.NewClient,
		cfg:        opts.Cfg,
		configPath: opts.ConfigPath,
		startedAt:  time.Now(),
		ready:      make(chan struct{}),
		mirror:     editor.NewMirror(),
	}
	if a.level == (zap.AtomicLevel{}) {
		a.level = zap.NewAtomicLevel()
	}
	if a.newClient == nil {
		a.newClient = metricclient.GetInstance
		a.ownsClient = true
	}
	a.state.Store(StateBooting)
	a.addr.Store("")
	a.wsHub = ws.NewHub(a.handleInbound, log.Named("ws"))
	a.wsHub.SetWelcome(a.welcome)
	return a
}

// Run builds the metric pipeline, starts the HTTP server, WebSocket hub,
// heartbeat and sweep loops, the config watcher and, when configured, the
// Neovim host and demo runner. It blocks until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	cfg := a.getConfig()

	bind := a.bind
	if bind == "" {
		bind = cfg.Server.Bind
	}

	mux := http.NewServeMux()
	a.routes(mux)
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}
	a.addr.Store(ln.Addr().String())
	a.log.Info("listening", zap.String("addr", "http://"+ln.Addr().String()))

	a.buildPipeline(ctx, cfg)
	defer a.teardown()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.wsHub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.heartbeatLoop(gctx)
		return nil
	})
	g.Go(func() error {
		a.sweepLoop(gctx)
		return nil
	})
	if a.configPath != "" {
		g.Go(func() error {
			if err := config.Watch(gctx, a.configPath, a.log.Named("config"), a.applyConfig); err != nil {
				a.log.Warn("config watcher unavailable", zap.Error(err))
			}
			return nil
		})
	}
	if cfg.Demo.Enabled {
		r := demo.New(a.router, a.log.Named("demo"))
		r.Interval = cfg.Demo.Interval()
		g.Go(func() error {
			r.Run(gctx)
			return nil
		})
	}
	if cfg.Neovim.Socket != "" {
		g.Go(func() error {
			a.serveNvim(gctx, cfg.Neovim.Socket)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		close(a.ready)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	return g.Wait()
}

// buildPipeline wires tracker -> dispatcher -> metric client. A client that
// cannot be built leaves the daemon DEGRADED: acceptances are still tracked
// but nothing is sent.
func (a *App) buildPipeline(ctx context.Context, cfg config.Config) {
	client, err := a.newClient(ctx, metricclient.Options{
		Address:      cfg.Collector.Address,
		Schema:       cfg.Collector.Schema,
		Namespace:    cfg.Collector.Namespace,
		Service:      cfg.Collector.Service,
		CallTimeout:  cfg.Collector.CallTimeout(),
		ReadyTimeout: cfg.Collector.ReadyTimeout(),
		Compression:  cfg.Collector.Compression,
		MaxInFlight:  cfg.Collector.MaxInFlight,
		Logger:       a.log.Named("grpc"),
	})

	dopts := dispatch.Options{
		Notifier: a,
		Logger:   a.log.Named("dispatch"),
		OnResult: a.publishResult,
	}
	if err != nil {
		a.log.Error("failed to initialize gRPC client", zap.Error(err))
		msg := "Failed to initialize gRPC client: " + err.Error()
		a.bootFailure.Store(&msg)
		a.Notify(telemetry.LevelError, msg)
	} else {
		a.client = client
		dopts.Sender = client
	}
	a.dispatcher = dispatch.New(dopts)

	a.tracker = tracker.New(tracker.Options{
		Source:      textSource{a},
		Reporter:    a.dispatcher,
		QuietWindow: cfg.Tracker.QuietWindow(),
		TTL:         cfg.Tracker.TTL(),
		Logger:      a.log.Named("tracker"),
	})
	a.router = editor.NewRouter(a.mirror, a.tracker, a.log.Named("editor"))

	if a.client == nil {
		a.transition(StateDegraded)
	} else {
		a.transition(StateIdle)
	}
}

func (a *App) teardown() {
	a.tracker.Close()
	a.dispatcher.Close()
	if a.client == nil {
		return
	}
	if a.ownsClient {
		metricclient.Shutdown()
	} else {
		_ = a.client.Close()
	}
}

// serveNvim attaches to Neovim. Losing the connection is logged; the
// WebSocket protocol keeps working without it.
func (a *App) serveNvim(ctx context.Context, socket string) {
	log := a.log.Named("nvim")
	host, err := nvimhost.Dial(ctx, socket, log)
	if err != nil {
		log.Warn("neovim unavailable", zap.Error(err))
		return
	}
	host.Attach(a.tracker)
	if msg := a.bootFailure.Load(); msg != nil {
		host.Notify(telemetry.LevelError, *msg)
	}
	a.nvim.Store(host)
	defer a.nvim.Store(nil)

	if err := host.Serve(ctx); err != nil {
		log.Warn("neovim detached", zap.Error(err))
	}
}

// welcome replays the startup failure, if any, to a newly connected client.
func (a *App) welcome() []any {
	msg := a.bootFailure.Load()
	if msg == nil {
		return nil
	}
	return []any{telemetry.Notification{
		Event:   telemetry.Event{Type: telemetry.EventNotification, TS: telemetry.NowTS()},
		Level:   telemetry.LevelError,
		Message: *msg,
	}}
}

// handleInbound routes a WebSocket frame to the editor protocol. Frames
// arriving before the pipeline exists are rejected.
func (a *App) handleInbound(raw []byte) error {
	select {
	case <-a.ready:
	default:
		return errors.New("daemon is still booting")
	}
	return a.router.HandleRaw(raw)
}

// textSource reads live line text from whichever editor owns the document.
type textSource struct{ a *App }

func (s textSource) LineText(document string, line int) (string, error) {
	if _, err := nvimhost.ParseDocument(document); err == nil {
		host := s.a.nvim.Load()
		if host == nil {
			return "", fmt.Errorf("read %s: neovim not attached", document)
		}
		return host.LineText(document, line)
	}
	return s.a.mirror.LineText(document, line)
}

// Notify shows a notification in every attached editor.
func (a *App) Notify(level telemetry.Level, message string) {
	a.wsHub.Notify(level, message)
	if host := a.nvim.Load(); host != nil {
		host.Notify(level, message)
	}
}

func (a *App) publishResult(ev telemetry.MetricEvent, err error) {
	out := telemetry.MetricSent{
		Event:     telemetry.Event{Type: telemetry.EventMetric, TS: telemetry.NowTS()},
		EventID:   ev.ID,
		EventType: ev.Type,
		OK:        err == nil,
	}
	if err != nil {
		out.Error = err.Error()
	}
	a.wsHub.BroadcastJSON(out)
}

// applyConfig installs a reloaded config. Logging and tracker settings take
// effect immediately; collector and server changes need a restart.
func (a *App) applyConfig(next config.Config) {
	a.cfgMu.Lock()
	prev := a.cfg
	a.cfg = next
	a.cfgMu.Unlock()

	a.level.SetLevel(logging.ParseLevel(next.Logging.Level))
	if a.tracker != nil {
		a.tracker.SetQuietWindow(next.Tracker.QuietWindow())
		a.tracker.SetTTL(next.Tracker.TTL())
	}
	if prev.Collector != next.Collector || prev.Server != next.Server || prev.Neovim != next.Neovim || prev.Demo != next.Demo {
		a.log.Warn("collector, server, neovim and demo changes apply after restart")
	}

	a.log.Info("configuration applied",
		zap.String("level", next.Logging.Level),
		zap.Duration("quiet_window", next.Tracker.QuietWindow()),
		zap.Duration("ttl", next.Tracker.TTL()))
	a.wsHub.BroadcastJSON(telemetry.LogMessage{
		Event:   telemetry.Event{Type: telemetry.EventLog, TS: telemetry.NowTS()},
		Level:   telemetry.LevelInfo,
		Message: "configuration reloaded",
	})
}

func (a *App) getConfig() config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

// transition atomically updates the daemon state and broadcasts the change
// to all connected WebSocket clients.
func (a *App) transition(newState string) {
	old := a.state.Swap(newState).(string)
	if old == newState {
		return
	}
	a.log.Info("state", zap.String("from", old), zap.String("to", newState))
	a.wsHub.BroadcastJSON(telemetry.StateTransition{
		Event: telemetry.Event{Type: telemetry.EventState, TS: telemetry.NowTS()},
		From:  old,
		To:    newState,
	})
}

// heartbeatLoop sends a periodic heartbeat event so clients can detect
// connectivity and track uptime without polling.
func (a *App) heartbeatLoop(ctx context.Context) {
	t := time.NewTicker(heartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			tracked, pending := a.tracker.Stats()
			a.wsHub.BroadcastJSON(telemetry.Heartbeat{
				Event:         telemetry.Event{Type: telemetry.EventHeartbeat, TS: telemetry.NowTS()},
				State:         a.State(),
				UptimeSeconds: int64(time.Since(a.startedAt).Seconds()),
				Tracked:       tracked,
				Pending:       pending,
			})
		}
	}
}

// sweepLoop evicts stale tracked lines. The interval is re-read after every
// tick so reloads apply without a restart.
func (a *App) sweepLoop(ctx context.Context) {
	for {
		interval := a.getConfig().Tracker.SweepInterval()
		if interval <= 0 {
			interval = time.Minute
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case now := <-t.C:
			a.tracker.Sweep(now)
		}
	}
}

// State returns the current operating state.
func (a *App) State() string {
	return a.state.Load().(string)
}

// Ready is closed once the pipeline is built and the server is accepting.
func (a *App) Ready() <-chan struct{} {
	return a.ready
}

// Addr returns the listener address once Run has bound it.
func (a *App) Addr() string {
	return a.addr.Load().(string)
}
