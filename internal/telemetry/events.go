// Package telemetry defines the typed events Heimdall produces: the metric
// events shipped to the collector, and the envelopes that flow over the
// WebSocket connection between heimdalld and its clients.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Metric event labels as understood by the collector.
const (
	MetricAutoComplete = "Auto-Complete Triggered!"
	MetricLineChanged  = "There was change detected on a generated line."
)

// EventType identifies the kind of WebSocket event.
type EventType string

const (
	EventHeartbeat    EventType = "heartbeat"
	EventState        EventType = "state"
	EventLog          EventType = "log"
	EventNotification EventType = "notification"
	EventMetric       EventType = "metric"
)

// Level is the severity of a user-facing notification.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is the base envelope shared by every WebSocket event.
type Event struct {
	Type EventType `json:"type"`
	TS   string    `json:"ts"`
}

// NowTS returns the current UTC time as an RFC 3339 nano string, matching the
// timestamp format used across all events.
func NowTS() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Heartbeat is sent periodically so clients can detect connectivity and
// monitor daemon uptime.
type Heartbeat struct {
	Event
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Tracked       int    `json:"tracked"`
	Pending       int    `json:"pending"`
}

// StateTransition is emitted whenever the daemon moves between operating
// states (e.g. IDLE -> DEGRADED).
type StateTransition struct {
	Event
	From string `json:"from"`
	To   string `json:"to"`
}

// LogMessage carries a daemon log line worth showing to watching clients,
// such as a config reload.
type LogMessage struct {
	Event
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Notification is the transient, user-visible message an editor shows as a
// toast.
type Notification struct {
	Event
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// MetricSent mirrors a dispatched metric to WebSocket observers.
type MetricSent struct {
	Event
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// MetricEvent is a named, timestamped record bound for the collector. It is
// not modified after construction.
type MetricEvent struct {
	ID        string
	Type      string
	Payload   any
	Timestamp time.Time
}

// NewMetricEvent stamps payload with a fresh id and the current time.
func NewMetricEvent(eventType string, payload any) MetricEvent {
	return MetricEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Envelope is the transport-level shape of a metric: the payload travels
// as a JSON-encoded string.
type Envelope struct {
	EventType string `json:"eventType"`
	Data      string `json:"data"`
}

// Seal serializes a payload into the transport envelope.
func Seal(eventType string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %q payload: %w", eventType, err)
	}
	return Envelope{EventType: eventType, Data: string(b)}, nil
}

// AutoCompletePayload describes an accepted inline suggestion. Lines are
// 1-based.
type AutoCompletePayload struct {
	StartLine   int    `json:"startLine"`
	EndLine     int    `json:"endLine"`
	TextBetween string `json:"textBetween"`
	Timestamp   string `json:"timestamp"`
	Document    string `json:"document,omitempty"`
}

// LineChangedPayload reports a human edit on a generated line. Line is
// 0-based.
type LineChangedPayload struct {
	Line     int    `json:"line"`
	LineText string `json:"lineText"`
	Document string `json:"document,omitempty"`
}
