package ctl

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// HealthOptions configures the health command.
type HealthOptions struct {
	Detailed bool
	JSON     bool
}

// Health checks daemon liveness via GET /healthz. With Detailed set it asks
// for the per-component checks instead.
func Health(baseURL string, opts HealthOptions) error {
	baseURL = strings.TrimRight(baseURL, "/")

	accept := ""
	if opts.Detailed {
		accept = "application/json"
	}
	status, body, err := getRaw(baseURL, "/healthz", accept)
	if err != nil {
		if opts.JSON {
			return printJSON(map[string]any{"healthy": false, "url": baseURL, "error": err.Error()})
		}
		return err
	}

	healthy := status == 200

	var detail struct {
		Healthy bool                      `json:"healthy"`
		Checks  map[string]map[string]any `json:"checks"`
	}
	if opts.Detailed {
		if err := json.Unmarshal(body, &detail); err != nil {
			return fmt.Errorf("decode health checks: %w", err)
		}
	}

	if opts.JSON {
		resp := map[string]any{"healthy": healthy, "url": baseURL}
		if opts.Detailed {
			resp["checks"] = detail.Checks
		}
		return printJSON(resp)
	}

	fmt.Fprintln(out)
	if healthy {
		fmt.Fprintf(out, "  %s  heimdalld is reachable at %s\n", colorize(green, "HEALTHY"), colorize(dim, baseURL))
	} else {
		fmt.Fprintf(out, "  %s  heimdalld returned HTTP %d at %s\n", colorize(red, "UNHEALTHY"), status, colorize(dim, baseURL))
	}

	names := make([]string, 0, len(detail.Checks))
	for name := range detail.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := detail.Checks[name]
		ok, _ := check["ok"].(bool)
		line := fmt.Sprintf("    %s %s", padRight(name, 12), yesNo(ok))
		if msg, _ := check["error"].(string); msg != "" {
			line += "  " + colorize(dim, msg)
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out)

	return nil
}
