package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/large-farva/heimdall/internal/config"
	"github.com/large-farva/heimdall/internal/dispatch"
	"github.com/large-farva/heimdall/internal/tracker"
)

func (a *App) routes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/version", a.handleVersion)
	mux.HandleFunc("/api/config", a.handleConfig)
	mux.HandleFunc("/api/tracked", a.handleTracked)
	mux.HandleFunc("/api/reload", a.handleReload)
	mux.HandleFunc("/api/send", a.handleSend)
	mux.Handle("/ws", a.wsHub.Handler())
}

// ---------------------------------------------------------------------------
// Core handlers
// ---------------------------------------------------------------------------

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	// If the client asks for JSON, return component-level health checks.
	if r.Header.Get("Accept") == "application/json" {
		a.handleHealthDetailed(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := a.getConfig()
	tracked, pending := a.tracker.Stats()

	resp := map[string]any{
		"name":              "heimdall",
		"state":             a.State(),
		"uptime_seconds":    int64(time.Since(a.startedAt).Seconds()),
		"collector_address": cfg.Collector.Address,
		"connected":         a.client != nil && a.client.Connected(),
		"degraded":          a.dispatcher.Degraded(),
		"tracked":           tracked,
		"pending":           pending,
		"clients":           a.wsHub.Clients(),
		"documents":         a.mirror.Documents(),
		"demo":              cfg.Demo.Enabled,
	}
	if host := a.nvim.Load(); host != nil {
		resp["neovim"] = host.Socket()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    Version,
		"go_version": GoVersion,
		"built_at":   BuiltAt,
		"runtime":    runtime.Version(),
	})
}

func (a *App) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.getConfig())
}

func (a *App) handleTracked(w http.ResponseWriter, r *http.Request) {
	lines := a.tracker.Lines()
	if doc := r.URL.Query().Get("document"); doc != "" {
		filtered := lines[:0]
		for _, l := range lines {
			if l.Document == doc {
				filtered = append(filtered, l)
			}
		}
		lines = filtered
	}
	if lines == nil {
		lines = []tracker.LineView{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func (a *App) handleHealthDetailed(w http.ResponseWriter, _ *http.Request) {
	cfg := a.getConfig()
	checks := map[string]any{}
	allOK := true

	switch {
	case a.client == nil:
		checks["collector"] = map[string]any{"ok": false, "error": "no gRPC client", "address": cfg.Collector.Address}
		allOK = false
	case !a.client.Connected():
		checks["collector"] = map[string]any{"ok": false, "error": "not connected", "address": cfg.Collector.Address}
		allOK = false
	default:
		checks["collector"] = map[string]any{"ok": true, "address": cfg.Collector.Address}
	}

	if cfg.Neovim.Socket != "" {
		if a.nvim.Load() == nil {
			checks["neovim"] = map[string]any{"ok": false, "error": "not attached", "socket": cfg.Neovim.Socket}
			allOK = false
		} else {
			checks["neovim"] = map[string]any{"ok": true, "socket": cfg.Neovim.Socket}
		}
	}

	if a.configPath != "" {
		if _, err := os.Stat(a.configPath); err != nil {
			checks["config_file"] = map[string]any{"ok": false, "error": err.Error()}
			allOK = false
		} else {
			checks["config_file"] = map[string]any{"ok": true, "path": a.configPath}
		}
	}

	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy": allOK,
		"checks":  checks,
	})
}

// ---------------------------------------------------------------------------
// Control
// ---------------------------------------------------------------------------

func (a *App) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.configPath == "" {
		jsonError(w, "no config file path set", http.StatusConflict)
		return
	}

	next, err := config.Load(a.configPath)
	if err != nil {
		jsonError(w, "config reload failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	a.applyConfig(next)

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"message": "configuration reloaded from " + a.configPath,
	})
}

// handleSend ships a hand-built metric, mostly for checking the collector
// path end to end.
func (a *App) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		EventType string          `json:"event_type"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.EventType == "" {
		jsonError(w, "event_type is required", http.StatusBadRequest)
		return
	}
	if len(req.Data) == 0 {
		req.Data = json.RawMessage("{}")
	}

	resp, err := a.dispatcher.SendMetric(r.Context(), req.EventType, req.Data)
	switch {
	case errors.Is(err, dispatch.ErrNoTransport):
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		a.log.Warn("manual send failed", zap.Error(err))
		jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      resp.Status == "success",
		"status":  resp.Status,
		"message": resp.Message,
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]any{
		"ok":    false,
		"error": msg,
	})
}
