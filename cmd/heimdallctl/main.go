// Heimdallctl is the command-line client for monitoring and controlling a
// running heimdalld instance. It connects over HTTP and WebSocket to query
// status, inspect tracked lines and stream live events from the daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/large-farva/heimdall/internal/ctl"
)

func main() {
	var (
		host    = pflag.StringP("host", "H", "http://127.0.0.1:8750", "Heimdall daemon URL")
		jsonOut = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
		filter  = pflag.StringSlice("filter", nil, "Event types to show in watch (e.g. --filter metric,notification)")
	)

	// Stop parsing global flags at the first non-flag argument (the command
	// name), so subcommand-specific flags like --data are not rejected.
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cmd := pflag.Arg(0)
	subArgs := pflag.Args()[1:]

	var err error
	switch cmd {
	// ── Query commands ────────────────────────────────────────────
	case "status":
		err = ctl.Status(*host, *jsonOut)

	case "health":
		opts := ctl.HealthOptions{JSON: *jsonOut}
		healthFlags := pflag.NewFlagSet("health", pflag.ContinueOnError)
		healthFlags.BoolVar(&opts.Detailed, "detailed", false, "Show per-component checks")
		_ = healthFlags.Parse(subArgs)
		err = ctl.Health(*host, opts)

	case "version":
		err = ctl.VersionInfo(*host, *jsonOut)

	case "config":
		err = ctl.Config(*host, *jsonOut)

	case "tracked":
		opts := ctl.TrackedOptions{JSON: *jsonOut}
		trackedFlags := pflag.NewFlagSet("tracked", pflag.ContinueOnError)
		trackedFlags.StringVar(&opts.Document, "document", "", "Only show lines of this document")
		_ = trackedFlags.Parse(subArgs)
		err = ctl.Tracked(*host, opts)

	// ── Control commands ──────────────────────────────────────────
	case "reload":
		err = ctl.Reload(*host, *jsonOut)

	case "send":
		opts := ctl.SendOptions{JSON: *jsonOut}
		sendFlags := pflag.NewFlagSet("send", pflag.ContinueOnError)
		sendFlags.StringVar(&opts.Data, "data", "", "Metric payload as a JSON document")
		_ = sendFlags.Parse(subArgs)
		if sendFlags.NArg() > 0 {
			opts.EventType = sendFlags.Arg(0)
		}
		err = ctl.Send(*host, opts)

	// ── Live streaming ────────────────────────────────────────────
	case "watch":
		err = ctl.Watch(*host, ctl.WatchOptions{
			Filter: *filter,
			JSON:   *jsonOut,
		})

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`
  heimdallctl: Heimdall control CLI

  USAGE
    heimdallctl [flags] <command> [command-flags]

  COMMANDS (query)
    status          Show daemon state, collector link and tracking counts
    health          Check daemon and component health
    version         Show CLI and daemon version information
    config          Show the daemon's running configuration
    tracked         List generated lines currently being watched

  COMMANDS (control)
    reload          Reload configuration from disk
    send TYPE       Send a hand-built metric through the daemon

  COMMANDS (live)
    watch           Stream live events from the daemon (Ctrl-C to stop)

  GLOBAL FLAGS
    -H, --host URL      Daemon base URL (default: http://127.0.0.1:8750)
        --json          Output raw JSON instead of formatted text
        --filter TYPE   Event types to show in watch (comma-separated)

  COMMAND FLAGS
    health:
        --detailed          Show per-component checks

    tracked:
        --document URI      Only show lines of this document

    send:
        --data JSON         Metric payload (default: {})

  EXAMPLES
    heimdallctl status
    heimdallctl --json status
    heimdallctl health --detailed
    heimdallctl tracked --document file:///home/me/src/main.go
    heimdallctl send test_connection --data '{"test":"data"}'
    heimdallctl watch --filter metric,notification

`)
}
