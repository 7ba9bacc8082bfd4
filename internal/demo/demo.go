// Package demo simulates an editor session so the daemon, CLI, and
// collector can be tested end-to-end without an editor attached.
// Each round opens a small Go file, accepts a generated suggestion, and
// sometimes edits one of the generated lines so both metric kinds show up
// in the event stream.
package demo

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/large-farva/heimdall/internal/editor"
)

// Editor applies editor protocol messages. *editor.Router satisfies it.
type Editor interface {
	Handle(msg editor.Message) error
}

// suggestion is one canned completion with a plausible human edit.
type suggestion struct {
	lines []string
	edit  string // replacement for lines[0]
}

var suggestions = []suggestion{
	{
		lines: []string{`	fmt.Println("hello")`, `	fmt.Println("world")`},
		edit:  `	fmt.Println("hello, heimdall")`,
	},
	{
		lines: []string{`	for i := 0; i < 10; i++ {`, `		total += i`, `	}`},
		edit:  `	for i := range 10 {`,
	},
	{
		lines: []string{`	if err != nil {`, `		return err`, `	}`},
		edit:  `	if err != nil && !errors.Is(err, io.EOF) {`,
	},
}

var preamble = []string{"package main", "", "func main() {", "}"}

// Runner plays one simulated session per interval.
type Runner struct {
	Editor   Editor
	Interval time.Duration // time between simulated sessions
	Log      *zap.Logger

	// EditChance is the probability that a round edits a generated line.
	EditChance float64

	round   int
	lastDoc string
}

// New creates a demo runner with a sensible default interval.
func New(ed Editor, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		Editor:     ed,
		Interval:   30 * time.Second,
		Log:        log,
		EditChance: 0.6,
	}
}

// Run kicks off the demo loop. It plays one session immediately, then
// repeats on the configured interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	r.Log.Info("demo mode active, simulating editor sessions", zap.Duration("interval", r.Interval))

	if !sleepOrCancel(ctx, 2*time.Second) {
		return
	}
	r.Round(ctx)

	t := time.NewTicker(r.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Round(ctx)
		}
	}
}

// Round plays a single session: close the previous document, open a new
// one, accept a suggestion, and possibly edit its first line before moving
// the cursor away.
func (r *Runner) Round(ctx context.Context) {
	if r.lastDoc != "" {
		r.send(editor.Message{Type: editor.TypeClose, Document: r.lastDoc})
	}

	sug := suggestions[r.round%len(suggestions)]
	r.round++
	doc := fmt.Sprintf("demo://session-%d/main.go", r.round)
	r.lastDoc = doc

	// The suggestion lands just inside func main.
	start := len(preamble) - 1
	end := start + len(sug.lines) - 1

	r.send(editor.Message{Type: editor.TypeLines, Document: doc, StartLine: 0, Lines: preamble})
	r.send(editor.Message{Type: editor.TypeLines, Document: doc, StartLine: start, EndLine: editor.IntPtr(start), Lines: sug.lines})
	r.send(editor.Message{Type: editor.TypeAccept, Document: doc, StartLine: start, EndLine: editor.IntPtr(end), Text: strings.Join(sug.lines, "\n")})
	r.send(editor.Message{Type: editor.TypeSelection, Document: doc, Line: start})

	edited := rand.Float64() < r.EditChance
	if edited {
		if !sleepOrCancel(ctx, 500*time.Millisecond) {
			return
		}
		r.send(editor.Message{Type: editor.TypeLine, Document: doc, Line: start, Text: sug.edit})
	}
	r.send(editor.Message{Type: editor.TypeSelection, Document: doc, Line: end + 1})

	r.Log.Info("demo round",
		zap.String("document", doc),
		zap.Int("lines", len(sug.lines)),
		zap.Bool("edited", edited))
}

func (r *Runner) send(msg editor.Message) {
	if err := r.Editor.Handle(msg); err != nil {
		r.Log.Warn("demo message rejected", zap.String("type", string(msg.Type)), zap.Error(err))
	}
}

func sleepOrCancel(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
