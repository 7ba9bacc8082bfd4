package ctl

import (
	"fmt"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"
)

// TrackedOptions configures the tracked command.
type TrackedOptions struct {
	Document string
	JSON     bool
}

// TrackedLine mirrors one entry of GET /api/tracked.
type TrackedLine struct {
	Document     string    `json:"document"`
	Line         int       `json:"line"`
	Text         string    `json:"text"`
	RecordedAt   time.Time `json:"recorded_at"`
	Pending      bool      `json:"pending"`
	LiveText     string    `json:"live_text,omitempty"`
	EditDistance int       `json:"edit_distance"`
}

// Tracked lists the generated lines the daemon is currently watching.
func Tracked(baseURL string, opts TrackedOptions) error {
	path := "/api/tracked"
	if opts.Document != "" {
		path += "?document=" + url.QueryEscape(opts.Document)
	}

	var resp struct {
		Lines []TrackedLine `json:"lines"`
	}
	if err := getJSON(baseURL, path, &resp); err != nil {
		return err
	}
	if opts.JSON {
		return printJSON(resp)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, header("  TRACKED LINES"))
	fmt.Fprintln(out, rule(60))
	if len(resp.Lines) == 0 {
		fmt.Fprintln(out, colorize(dim, "  nothing tracked"))
		fmt.Fprintln(out)
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  DOCUMENT\tLINE\tAGE\tEDITS\tSTATE\tTEXT")
	for _, l := range resp.Lines {
		state := "clean"
		switch {
		case l.Pending:
			state = "settling"
		case l.EditDistance > 0:
			state = "edited"
		}
		fmt.Fprintf(tw, "  %s\t%d\t%s\t%d\t%s\t%s\n",
			truncate(l.Document, 32),
			l.Line+1,
			formatDuration(time.Since(l.RecordedAt)),
			l.EditDistance,
			state,
			truncate(strings.TrimSpace(l.Text), 40),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(out)
	return nil
}
