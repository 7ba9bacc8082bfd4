package editor

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var ErrUnknownMessage = errors.New("unknown message type")

// Tracker is the part of the insertion tracker the router drives.
type Tracker interface {
	Accept(document string, startLine, endLine int, text string) int
	SelectionChanged(document string, line int)
	Forget(document string) int
}

// Router applies inbound editor messages to a Mirror and a Tracker.
type Router struct {
	mirror  *Mirror
	tracker Tracker
	log     *zap.Logger
}

func NewRouter(mirror *Mirror, tracker Tracker, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{mirror: mirror, tracker: tracker, log: log}
}

// HandleRaw decodes and applies one frame.
func (r *Router) HandleRaw(raw []byte) error {
	msg, err := Decode(raw)
	if err != nil {
		return fmt.Errorf("decode editor message: %w", err)
	}
	return r.Handle(msg)
}

// Handle applies msg. Text syncs land in the mirror before any tracker call
// so the tracker always compares against the latest content.
func (r *Router) Handle(msg Message) error {
	if msg.Document == "" {
		return fmt.Errorf("%s message without document", msg.Type)
	}

	switch msg.Type {
	case TypeAccept:
		end := msg.StartLine
		if msg.EndLine != nil {
			end = *msg.EndLine
		}
		n := r.tracker.Accept(msg.Document, msg.StartLine, end, msg.Text)
		r.log.Debug("accept", zap.String("document", msg.Document), zap.Int("tracked", n))

	case TypeSelection:
		r.tracker.SelectionChanged(msg.Document, msg.Line)

	case TypeLine:
		return r.mirror.SetLine(msg.Document, msg.Line, msg.Text)

	case TypeLines:
		end := -1
		if msg.EndLine != nil {
			end = *msg.EndLine
		}
		return r.mirror.Replace(msg.Document, msg.StartLine, end, msg.Lines)

	case TypeClose:
		r.mirror.Close(msg.Document)
		n := r.tracker.Forget(msg.Document)
		r.log.Debug("document closed", zap.String("document", msg.Document), zap.Int("forgotten", n))

	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
	return nil
}
