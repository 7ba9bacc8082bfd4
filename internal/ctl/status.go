package ctl

import (
	"fmt"
	"strings"
	"time"
)

// StatusResponse mirrors the JSON returned by GET /api/status.
type StatusResponse struct {
	Name             string `json:"name"`
	State            string `json:"state"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	CollectorAddress string `json:"collector_address"`
	Connected        bool   `json:"connected"`
	Degraded         bool   `json:"degraded"`
	Tracked          int    `json:"tracked"`
	Pending          int    `json:"pending"`
	Clients          int    `json:"clients"`
	Documents        int    `json:"documents"`
	Neovim           string `json:"neovim,omitempty"`
}

// Status fetches the daemon status and prints a formatted summary.
func Status(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var s StatusResponse
	if err := getJSON(baseURL, "/api/status", &s); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(s)
	}

	uptime := formatDuration(time.Duration(s.UptimeSeconds) * time.Second)
	neovim := s.Neovim
	if neovim == "" {
		neovim = colorize(dim, "not attached")
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, header("  HEIMDALL STATUS"))
	fmt.Fprintln(out, rule(38))
	fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Daemon:"), s.Name)
	fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "State:"), colorize(stateColor(s.State), s.State))
	fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Uptime:"), uptime)
	fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Collector:"), s.CollectorAddress)
	fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Connected:"), yesNo(s.Connected))
	fmt.Fprintf(out, "  %-12s %d (%d pending)\n", colorize(dim, "Tracked:"), s.Tracked, s.Pending)
	fmt.Fprintf(out, "  %-12s %d clients, %d documents\n", colorize(dim, "Editors:"), s.Clients, s.Documents)
	fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Neovim:"), neovim)
	fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Host:"), baseURL)
	fmt.Fprintln(out)

	return nil
}
