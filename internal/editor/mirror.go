package editor

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrUnknownDocument = errors.New("document not mirrored")
	ErrLineOutOfRange  = errors.New("line out of range")
)

// Limits on how far a sync may grow a document. Editors send lines they
// display, so a line far past the end is a bad frame, not a real document.
const (
	MaxGap   = 4096
	MaxLines = 1 << 20
)

// Mirror holds the last synced content of each open document. It serves as
// the tracker's text source for WebSocket-connected editors.
type Mirror struct {
	mu   sync.RWMutex
	docs map[string][]string
}

func NewMirror() *Mirror {
	return &Mirror{docs: make(map[string][]string)}
}

// LineText returns the mirrored text of a 0-based line.
func (m *Mirror) LineText(document string, line int) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lines, ok := m.docs[document]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownDocument, document)
	}
	if line < 0 || line >= len(lines) {
		return "", fmt.Errorf("%w: %s:%d (document has %d lines)", ErrLineOutOfRange, document, line, len(lines))
	}
	return lines[line], nil
}

// SetLine overwrites one line, padding the document with empty lines when
// line lies past its end. Lines more than MaxGap past the end, or beyond
// MaxLines, are rejected with ErrLineOutOfRange.
func (m *Mirror) SetLine(document string, line int, text string) error {
	if line < 0 {
		return fmt.Errorf("%w: %s:%d", ErrLineOutOfRange, document, line)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	lines := m.docs[document]
	if err := checkGrowth(document, len(lines), line, line+1); err != nil {
		return err
	}
	for len(lines) <= line {
		lines = append(lines, "")
	}
	lines[line] = text
	m.docs[document] = lines
	return nil
}

// Replace swaps lines [start, end) for repl. A negative end means the end
// of the document. Out-of-range bounds are clamped, except that start may
// not lie more than MaxGap past the end and the result may not exceed
// MaxLines.
func (m *Mirror) Replace(document string, start, end int, repl []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lines := m.docs[document]
	if start < 0 {
		start = 0
	}
	if end < 0 || end > len(lines) {
		end = len(lines)
	}
	if end < start {
		end = start
	}
	removed := 0
	if end > start && start < len(lines) {
		removed = end - start
	}
	if err := checkGrowth(document, len(lines), start, max(len(lines), start)-removed+len(repl)); err != nil {
		return err
	}

	for len(lines) < start {
		lines = append(lines, "")
	}

	out := make([]string, 0, len(lines)-(end-start)+len(repl))
	out = append(out, lines[:start]...)
	out = append(out, repl...)
	out = append(out, lines[end:]...)
	m.docs[document] = out
	return nil
}

func checkGrowth(document string, have, line, total int) error {
	if line > have+MaxGap {
		return fmt.Errorf("%w: %s:%d is more than %d lines past the end (%d lines)", ErrLineOutOfRange, document, line, MaxGap, have)
	}
	if total > MaxLines {
		return fmt.Errorf("%w: %s would grow to %d lines (limit %d)", ErrLineOutOfRange, document, total, MaxLines)
	}
	return nil
}

// Close forgets document.
func (m *Mirror) Close(document string) {
	m.mu.Lock()
	delete(m.docs, document)
	m.mu.Unlock()
}

// Documents returns the number of mirrored documents.
func (m *Mirror) Documents() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
