// Package ws provides the daemon's WebSocket hub.
// Components broadcast JSON events through the hub and every connected client
// receives them in real time. Frames sent by clients are handed to an inbound
// handler, which is how editor plugins feed acceptances and cursor moves to
// the tracker. The hub also handles ping/pong keepalives so stale
// connections get cleaned up automatically.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/large-farva/heimdall/internal/telemetry"
)

const (
	pingInterval = 20 * time.Second
	readTimeout  = 60 * time.Second
	maxFrameSize = 1 << 20
)

// InboundFunc handles one text frame received from a client. A returned
// error is logged and reported back to the sending client only.
type InboundFunc func(raw []byte) error

// Hub manages WebSocket client connections and fans out broadcast messages
// to all of them. It is safe for concurrent use; register, unregister, and
// broadcast all go through channels.
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte
	direct     chan directMsg
	upgrader   websocket.Upgrader

	inbound InboundFunc
	welcome func() []any
	log     *zap.Logger
	count   atomic.Int64
	dropped atomic.Int64
}

type directMsg struct {
	conn *websocket.Conn
	msg  []byte
}

// NewHub allocates a hub with buffered channels. inbound may be nil, in
// which case client frames are read and discarded.
// Call Run in a goroutine to start the event loop.
func NewHub(inbound InboundFunc, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn, 16),
		unregister: make(chan *websocket.Conn, 16),
		broadcast:  make(chan []byte, 256),
		direct:     make(chan directMsg, 64),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		inbound: inbound,
		log:     log,
	}
}

// SetWelcome installs fn to produce messages sent to each client as it
// connects. It must be called before Run.
func (h *Hub) SetWelcome(fn func() []any) {
	h.welcome = fn
}

// Run processes registrations, unregistrations, broadcasts, and keepalive
// pings in a single select loop. It closes all clients when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				_ = c.Close()
			}
			h.count.Store(0)
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			h.greet(c)

		case c := <-h.unregister:
			h.drop(c)

		case msg := <-h.broadcast:
			for c := range h.clients {
				h.write(c, websocket.TextMessage, msg, 3*time.Second)
			}

		case d := <-h.direct:
			if _, ok := h.clients[d.conn]; ok {
				h.write(d.conn, websocket.TextMessage, d.msg, 3*time.Second)
			}

		case <-ping.C:
			for c := range h.clients {
				h.write(c, websocket.PingMessage, nil, 2*time.Second)
			}
		}
	}
}

func (h *Hub) greet(c *websocket.Conn) {
	if h.welcome == nil {
		return
	}
	for _, v := range h.welcome() {
		b, err := json.Marshal(v)
		if err != nil {
			continue
		}
		h.write(c, websocket.TextMessage, b, 3*time.Second)
	}
}

func (h *Hub) write(c *websocket.Conn, kind int, msg []byte, timeout time.Duration) {
	_ = c.SetWriteDeadline(time.Now().Add(timeout))
	if err := c.WriteMessage(kind, msg); err != nil {
		h.drop(c)
	}
}

func (h *Hub) drop(c *websocket.Conn) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	_ = c.Close()
	h.count.Store(int64(len(h.clients)))
}

// Handler returns an http.Handler that upgrades incoming requests to
// WebSocket connections and registers them with the hub.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "websocket upgrade failed", http.StatusBadRequest)
			return
		}
		h.register <- conn

		go h.readLoop(conn)
	})
}

func (h *Hub) readLoop(conn *websocket.Conn) {
	defer func() { h.unregister <- conn }()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		kind, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if kind != websocket.TextMessage || h.inbound == nil {
			continue
		}
		if err := h.inbound(raw); err != nil {
			h.log.Warn("rejected client message", zap.Error(err))
			h.sendTo(conn, telemetry.Notification{
				Event:   telemetry.Event{Type: telemetry.EventNotification, TS: telemetry.NowTS()},
				Level:   telemetry.LevelError,
				Message: err.Error(),
			})
		}
	}
}

// BroadcastJSON marshals v to JSON and queues it for delivery to all
// connected clients. If the broadcast channel is full the message is
// dropped to avoid blocking the caller.
func (h *Hub) BroadcastJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- b:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hub) sendTo(conn *websocket.Conn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case h.direct <- directMsg{conn: conn, msg: b}:
	default:
		h.dropped.Add(1)
	}
}

// Notify broadcasts a user-facing notification. Editor plugins show it as
// a toast.
func (h *Hub) Notify(level telemetry.Level, message string) {
	h.BroadcastJSON(telemetry.Notification{
		Event:   telemetry.Event{Type: telemetry.EventNotification, TS: telemetry.NowTS()},
		Level:   level,
		Message: message,
	})
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Dropped returns how many outbound messages were discarded because the
// hub was backed up.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
