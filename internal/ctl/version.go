package ctl

import (
	"fmt"
	"runtime"
)

// Build-time variables set via -ldflags.
var (
	Version   = "dev"
	GoVersion = "unknown"
)

// BuildInfo is one side of the version report.
type BuildInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	BuiltAt   string `json:"built_at,omitempty"`
	Runtime   string `json:"runtime,omitempty"`
}

// VersionReport pairs the CLI build with the daemon's, when reachable.
type VersionReport struct {
	CLI         BuildInfo  `json:"cli"`
	Daemon      *BuildInfo `json:"daemon,omitempty"`
	DaemonError string     `json:"daemon_error,omitempty"`
	Mismatch    bool       `json:"mismatch"`
}

func versionReport(baseURL string) VersionReport {
	rep := VersionReport{CLI: BuildInfo{Version: Version, GoVersion: GoVersion, Runtime: runtime.Version()}}

	var daemon BuildInfo
	if err := getJSON(baseURL, "/api/version", &daemon); err != nil {
		rep.DaemonError = err.Error()
		return rep
	}
	rep.Daemon = &daemon
	// Dev builds are never compared.
	rep.Mismatch = Version != "dev" && daemon.Version != "dev" && daemon.Version != Version
	return rep
}

// VersionInfo reports the CLI version next to the daemon's from
// GET /api/version. An unreachable daemon is shown, not returned as an error.
func VersionInfo(baseURL string, jsonOutput bool) error {
	rep := versionReport(baseURL)
	if jsonOutput {
		return printJSON(rep)
	}

	row := func(label, value string) {
		fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, label+":"), value)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, header("  HEIMDALL VERSION"))
	fmt.Fprintln(out, rule(38))
	row("heimdallctl", fmt.Sprintf("%s (%s)", rep.CLI.Version, rep.CLI.GoVersion))
	if rep.Daemon == nil {
		row("heimdalld", colorize(red, "unreachable: "+rep.DaemonError))
		fmt.Fprintln(out)
		return nil
	}
	row("heimdalld", fmt.Sprintf("%s (%s)", rep.Daemon.Version, rep.Daemon.GoVersion))
	row("built", rep.Daemon.BuiltAt)
	row("runtime", rep.Daemon.Runtime)
	if rep.Mismatch {
		fmt.Fprintf(out, "\n  %s CLI and daemon versions differ\n", colorize(yellow, "!"))
	}
	fmt.Fprintln(out)
	return nil
}
