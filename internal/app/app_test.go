package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/large-farva/heimdall/internal/collector"
	"github.com/large-farva/heimdall/internal/config"
	"github.com/large-farva/heimdall/internal/metricclient"
	"github.com/large-farva/heimdall/internal/schema"
	"github.com/large-farva/heimdall/internal/telemetry"
)

func startCollector(t *testing.T) (string, *collector.MemoryStore) {
	t.Helper()
	sd, err := schema.Load(context.Background(), "", "heimdall", "metricService")
	require.NoError(t, err)

	store := collector.NewMemoryStore()
	srv, err := collector.NewServer(sd, store, nil)
	require.NoError(t, err)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	gs := grpc.NewServer()
	srv.Register(gs)
	go gs.Serve(lis) //nolint:errcheck
	t.Cleanup(gs.Stop)
	return lis.Addr().String(), store
}

func startApp(t *testing.T, opts Options) *App {
	t.Helper()
	opts.Bind = "127.0.0.1:0"
	if opts.NewClient == nil {
		opts.NewClient = metricclient.New
	}
	a := New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	select {
	case <-a.Ready():
	case err := <-done:
		t.Fatalf("run: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("app never became ready")
	}
	return a
}

func testConfig(addr string) config.Config {
	cfg := config.Default()
	cfg.Collector.Address = addr
	cfg.Collector.CallTimeoutMS = 2000
	cfg.Collector.ReadyTimeoutMS = 2000
	cfg.Tracker.QuietWindowMS = 50
	return cfg
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestStatusReportsIdle(t *testing.T) {
	addr, _ := startCollector(t)
	a := startApp(t, Options{Cfg: testConfig(addr)})
	base := "http://" + a.Addr()

	assert.Equal(t, StateIdle, a.State())

	var status map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, base+"/api/status", &status))
	assert.Equal(t, StateIdle, status["state"])
	assert.Equal(t, addr, status["collector_address"])
	assert.Equal(t, false, status["degraded"])

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEditorSessionShipsMetrics(t *testing.T) {
	addr, store := startCollector(t)
	a := startApp(t, Options{Cfg: testConfig(addr)})

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+a.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	const doc = "file:///tmp/main.go"
	frames := []map[string]any{
		{"type": "lines", "document": doc, "lines": []string{"", "", "", "", "foo", "bar"}},
		{"type": "accept", "document": doc, "start_line": 4, "end_line": 5, "text": "foo\nbar"},
		{"type": "selection", "document": doc, "line": 4},
		{"type": "line", "document": doc, "line": 4, "text": "foobaz"},
		{"type": "selection", "document": doc, "line": 5},
	}
	for _, f := range frames {
		require.NoError(t, conn.WriteJSON(f))
	}

	require.Eventually(t, func() bool {
		recs, _ := store.Recent(context.Background(), 10)
		return len(recs) == 2
	}, 5*time.Second, 20*time.Millisecond)

	recs, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	byType := map[string]string{}
	for _, r := range recs {
		byType[r.EventType] = r.Message
	}
	assert.JSONEq(t, `{"line":4,"lineText":"foobaz","document":"`+doc+`"}`, byType[telemetry.MetricLineChanged])
	assert.Contains(t, byType[telemetry.MetricAutoComplete], `"startLine":5`)

	var tracked struct {
		Lines []map[string]any `json:"lines"`
	}
	getJSON(t, "http://"+a.Addr()+"/api/tracked?document="+doc, &tracked)
	require.Len(t, tracked.Lines, 1)
	assert.Equal(t, "bar", tracked.Lines[0]["text"])
}

func TestManualSend(t *testing.T) {
	addr, store := startCollector(t)
	a := startApp(t, Options{Cfg: testConfig(addr)})

	var out map[string]any
	code := postJSON(t, "http://"+a.Addr()+"/api/send", map[string]any{
		"event_type": "test_connection",
		"data":       map[string]string{"test": "data"},
	}, &out)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Metric received: test_connection", out["message"])

	recs, err := store.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.JSONEq(t, `{"test":"data"}`, recs[0].Message)

	code = postJSON(t, "http://"+a.Addr()+"/api/send", map[string]any{"data": 1}, &out)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestDegradedWithoutClient(t *testing.T) {
	a := startApp(t, Options{
		Cfg: testConfig("127.0.0.1:1"),
		NewClient: func(context.Context, metricclient.Options) (*metricclient.Client, error) {
			return nil, schema.ErrServiceNotFound
		},
	})

	assert.Equal(t, StateDegraded, a.State())

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+a.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readFrame(t, conn)
	assert.Equal(t, "notification", first["type"])
	assert.Equal(t, "error", first["level"])
	assert.Contains(t, first["message"], "Failed to initialize gRPC client")

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "accept", "document": "file:///tmp/x.go", "start_line": 0, "text": "x",
	}))
	var sendFailed bool
	for i := 0; i < 4 && !sendFailed; i++ {
		f := readFrame(t, conn)
		msg, _ := f["message"].(string)
		sendFailed = f["type"] == "notification" && strings.Contains(msg, "metric transport unavailable")
	}
	assert.True(t, sendFailed, "failed send should reach the editor as a notification")

	var out map[string]any
	code := postJSON(t, "http://"+a.Addr()+"/api/send", map[string]any{"event_type": "x"}, &out)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, false, out["ok"])

	req, err := http.NewRequest(http.MethodGet, "http://"+a.Addr()+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f map[string]any
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestReloadAppliesConfig(t *testing.T) {
	addr, _ := startCollector(t)
	path := filepath.Join(t.TempDir(), "heimdall.toml")
	require.NoError(t, os.WriteFile(path, []byte("[collector]\naddress = \""+addr+"\"\n"), 0o644))

	a := startApp(t, Options{Cfg: testConfig(addr), ConfigPath: path})
	base := "http://" + a.Addr()

	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"debug\"\n[tracker]\nquiet_window_ms = 750\n"), 0o644))

	var out map[string]any
	require.Equal(t, http.StatusOK, postJSON(t, base+"/api/reload", struct{}{}, &out))
	assert.Equal(t, true, out["ok"])

	var cfg config.Config
	getJSON(t, base+"/api/config", &cfg)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 750, cfg.Tracker.QuietWindowMS)
}

func TestReloadWithoutPath(t *testing.T) {
	addr, _ := startCollector(t)
	a := startApp(t, Options{Cfg: testConfig(addr)})

	var out map[string]any
	assert.Equal(t, http.StatusConflict, postJSON(t, "http://"+a.Addr()+"/api/reload", struct{}{}, &out))
}

func TestRunFailsOnBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	a := New(Options{Cfg: testConfig("127.0.0.1:1"), Bind: ln.Addr().String()})
	err = a.Run(context.Background())
	var opErr *net.OpError
	assert.True(t, errors.As(err, &opErr))
}
