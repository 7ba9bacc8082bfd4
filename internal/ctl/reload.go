package ctl

import (
	"fmt"
	"strings"
)

// Reload tells the daemon to re-read its config file from disk.
func Reload(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var result struct {
		OK      bool   `json:"ok"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := postJSON(baseURL, "/api/reload", nil, &result); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(result)
	}

	if result.OK {
		fmt.Fprintf(out, "\n  %s  %s\n\n", colorize(green, "RELOADED"), result.Message)
	} else {
		fmt.Fprintf(out, "\n  %s  %s\n\n", colorize(red, "ERROR"), result.Error)
	}
	return nil
}
