// Package editor speaks the JSON protocol editor plugins use over the
// daemon's WebSocket. It keeps a mirror of the documents the plugins sync
// and routes acceptance and cursor events into the tracker.
package editor

import "encoding/json"

// MessageType names an inbound editor message.
type MessageType string

const (
	TypeAccept    MessageType = "accept"
	TypeSelection MessageType = "selection"
	TypeLine      MessageType = "line"
	TypeLines     MessageType = "lines"
	TypeClose     MessageType = "close"
)

// Message is the union of every inbound message. Line numbers are 0-based.
type Message struct {
	Type      MessageType `json:"type"`
	Document  string      `json:"document"`
	StartLine int         `json:"start_line,omitempty"`
	// EndLine bounds a "lines" replacement, exclusive. Absent means the end
	// of the document. For "accept" it is the last line the suggestion
	// covered, inclusive.
	EndLine *int     `json:"end_line,omitempty"`
	Line    int      `json:"line,omitempty"`
	Text    string   `json:"text,omitempty"`
	Lines   []string `json:"lines,omitempty"`
}

// Decode parses one inbound frame.
func Decode(raw []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(raw, &m)
	return m, err
}

// IntPtr is a convenience for building messages with an EndLine.
func IntPtr(v int) *int { return &v }
