package ctl

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/large-farva/heimdall/internal/config"
)

// Config fetches and displays the daemon's running configuration.
func Config(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var raw json.RawMessage
	if err := getJSON(baseURL, "/api/config", &raw); err != nil {
		return err
	}

	if jsonOutput {
		var v any
		_ = json.Unmarshal(raw, &v)
		return printJSON(v)
	}

	var cfg config.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, header("  DAEMON CONFIGURATION"))
	fmt.Fprintln(out, rule(50))

	section := func(name string) {
		fmt.Fprintf(out, "\n  %s\n", colorize(bold, "["+name+"]"))
	}
	field := func(key string, val any) {
		fmt.Fprintf(out, "    %-24s %v\n", colorize(dim, key+":"), val)
	}

	section("logging")
	field("level", cfg.Logging.Level)
	field("encoding", cfg.Logging.Encoding)

	section("server")
	field("bind", cfg.Server.Bind)

	section("collector")
	field("address", cfg.Collector.Address)
	field("schema", orBuiltin(cfg.Collector.Schema))
	field("namespace", cfg.Collector.Namespace)
	field("service", cfg.Collector.Service)
	field("call_timeout_ms", cfg.Collector.CallTimeoutMS)
	field("ready_timeout_ms", cfg.Collector.ReadyTimeoutMS)
	field("compression", orNone(cfg.Collector.Compression))
	field("max_in_flight", cfg.Collector.MaxInFlight)

	section("tracker")
	field("quiet_window_ms", cfg.Tracker.QuietWindowMS)
	field("ttl_minutes", cfg.Tracker.TTLMinutes)
	field("sweep_interval_seconds", cfg.Tracker.SweepIntervalSeconds)

	section("neovim")
	field("socket", orNone(cfg.Neovim.Socket))

	section("demo")
	field("enabled", cfg.Demo.Enabled)
	field("interval_seconds", cfg.Demo.IntervalSeconds)

	fmt.Fprintln(out)

	return nil
}

func orBuiltin(s string) string {
	if s == "" {
		return "(built-in)"
	}
	return s
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
