package ctl

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SendOptions configures the send command.
type SendOptions struct {
	EventType string
	Data      string // JSON document; empty sends {}
	JSON      bool
}

// Send asks the daemon to ship a hand-built metric to the collector.
func Send(baseURL string, opts SendOptions) error {
	if opts.EventType == "" {
		return fmt.Errorf("event type is required")
	}
	data := strings.TrimSpace(opts.Data)
	if data == "" {
		data = "{}"
	}
	if !json.Valid([]byte(data)) {
		return fmt.Errorf("--data is not valid JSON: %s", data)
	}

	body := map[string]any{
		"event_type": opts.EventType,
		"data":       json.RawMessage(data),
	}
	var result struct {
		OK      bool   `json:"ok"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := postJSON(baseURL, "/api/send", body, &result); err != nil {
		return err
	}

	if opts.JSON {
		return printJSON(result)
	}
	if result.OK {
		fmt.Fprintf(out, "\n  %s  %s\n\n", colorize(green, "SENT"), result.Message)
	} else {
		fmt.Fprintf(out, "\n  %s  %s\n\n", colorize(red, strings.ToUpper(result.Status)), result.Message)
	}
	return nil
}
