// Package nvimhost attaches the tracker to a running Neovim over its RPC
// socket. The editor-side plugin calls rpcnotify with heimdall_accept and
// heimdall_selection; line text is read back with nvim_buf_get_lines and
// notifications are shown through vim.notify.
package nvimhost

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/neovim/go-client/nvim"
	"go.uber.org/zap"

	"github.com/large-farva/heimdall/internal/telemetry"
)

const (
	MethodAccept    = "heimdall_accept"
	MethodSelection = "heimdall_selection"

	documentPrefix = "nvim://buffer/"
)

var ErrNotNvimDocument = errors.New("not a neovim buffer document")

// Tracker is the part of the insertion tracker the host drives.
type Tracker interface {
	Accept(document string, startLine, endLine int, text string) int
	SelectionChanged(document string, line int)
}

// client is the subset of *nvim.Nvim the host uses.
type client interface {
	RegisterHandler(method string, fn any) error
	BufferLines(buffer nvim.Buffer, start, end int, strict bool) ([][]byte, error)
	ExecLua(code string, result any, args ...any) error
	Serve() error
	Close() error
}

type notice struct {
	level   telemetry.Level
	message string
}

type event struct {
	method     string
	buf        int
	start, end int
	text       string
}

// Host relays Neovim notifications to a Tracker.
type Host struct {
	v      client
	socket string
	log    *zap.Logger
	events chan event

	mu      sync.Mutex
	tracker Tracker
	serving bool
	queued  []notice // notifications held until Serve starts reading
}

// Dial connects to the Neovim listening on socket. The RPC read loop is
// started by Serve, after the handlers are registered.
func Dial(ctx context.Context, socket string, log *zap.Logger) (*Host, error) {
	return dial(ctx, socket, log)
}

func dial(ctx context.Context, socket string, log *zap.Logger, opts ...nvim.DialOption) (*Host, error) {
	if log == nil {
		log = zap.NewNop()
	}
	sugar := log.Sugar()
	opts = append([]nvim.DialOption{
		nvim.DialContext(ctx),
		nvim.DialServe(false),
		nvim.DialLogf(sugar.Debugf),
	}, opts...)
	v, err := nvim.Dial(socket, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial neovim %s: %w", socket, err)
	}
	return newHost(v, socket, log), nil
}

func newHost(v client, socket string, log *zap.Logger) *Host {
	if log == nil {
		log = zap.NewNop()
	}
	return &Host{
		v:      v,
		socket: socket,
		log:    log.With(zap.String("socket", socket)),
		events: make(chan event, 64),
	}
}

// Attach sets the tracker that receives editor events. It must be called
// before Serve.
func (h *Host) Attach(t Tracker) {
	h.mu.Lock()
	h.tracker = t
	h.mu.Unlock()
}

// Serve registers the notification handlers and processes events until ctx
// is cancelled or the connection drops.
func (h *Host) Serve(ctx context.Context) error {
	if err := h.v.RegisterHandler(MethodAccept, func(buf, start, end int, text string) {
		h.enqueue(ctx, event{method: MethodAccept, buf: buf, start: start, end: end, text: text})
	}); err != nil {
		return fmt.Errorf("register %s: %w", MethodAccept, err)
	}
	if err := h.v.RegisterHandler(MethodSelection, func(buf, line int) {
		h.enqueue(ctx, event{method: MethodSelection, buf: buf, start: line})
	}); err != nil {
		return fmt.Errorf("register %s: %w", MethodSelection, err)
	}

	served := make(chan error, 1)
	go func() { served <- h.v.Serve() }()
	h.log.Info("attached to neovim")

	h.mu.Lock()
	h.serving = true
	pending := h.queued
	h.queued = nil
	h.mu.Unlock()
	for _, n := range pending {
		h.notify(n.level, n.message)
	}

	// Handlers only enqueue; the tracker runs here so its reads back into
	// Neovim never happen on the RPC read loop.
	for {
		select {
		case <-ctx.Done():
			_ = h.v.Close()
			<-served
			return nil
		case err := <-served:
			if err != nil {
				return fmt.Errorf("neovim connection: %w", err)
			}
			return nil
		case ev := <-h.events:
			h.dispatch(ev)
		}
	}
}

func (h *Host) enqueue(ctx context.Context, ev event) {
	select {
	case h.events <- ev:
	case <-ctx.Done():
	}
}

func (h *Host) dispatch(ev event) {
	h.mu.Lock()
	t := h.tracker
	h.mu.Unlock()
	if t == nil {
		return
	}

	doc := Document(ev.buf)
	switch ev.method {
	case MethodAccept:
		t.Accept(doc, ev.start, ev.end, ev.text)
	case MethodSelection:
		t.SelectionChanged(doc, ev.start)
	}
}

// LineText reads one 0-based line of the buffer document names.
func (h *Host) LineText(document string, line int) (string, error) {
	buf, err := ParseDocument(document)
	if err != nil {
		return "", err
	}
	lines, err := h.v.BufferLines(nvim.Buffer(buf), line, line+1, true)
	if err != nil {
		return "", fmt.Errorf("read %s:%d: %w", document, line, err)
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("read %s:%d: no such line", document, line)
	}
	return string(lines[0]), nil
}

// Notify shows message in Neovim with vim.notify. Messages sent before
// Serve is running are delivered once it starts.
func (h *Host) Notify(level telemetry.Level, message string) {
	h.mu.Lock()
	if !h.serving {
		h.queued = append(h.queued, notice{level, message})
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	h.notify(level, message)
}

func (h *Host) notify(level telemetry.Level, message string) {
	const code = `local msg, lvl = ...; vim.notify(msg, vim.log.levels[lvl])`
	if err := h.v.ExecLua(code, nil, message, luaLevel(level)); err != nil {
		h.log.Debug("vim.notify failed", zap.Error(err))
	}
}

func luaLevel(l telemetry.Level) string {
	switch l {
	case telemetry.LevelWarn:
		return "WARN"
	case telemetry.LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Document names a Neovim buffer as a tracker document.
func Document(buf int) string {
	return documentPrefix + strconv.Itoa(buf)
}

// ParseDocument is the inverse of Document.
func ParseDocument(document string) (int, error) {
	rest, ok := strings.CutPrefix(document, documentPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNotNvimDocument, document)
	}
	buf, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrNotNvimDocument, document)
	}
	return buf, nil
}

// Socket returns the address the host is attached to.
func (h *Host) Socket() string {
	return h.socket
}
