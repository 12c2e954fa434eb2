package history

import (
	"context"
	"time"
)

// EventType defines the kind of report event.
type EventType string

const (
	EventSessionInitialized EventType = "session_initialized"
	EventNodeStarted        EventType = "node_started"
	EventNodeSkipped        EventType = "node_skipped"
	EventNodeFinished       EventType = "node_finished"
	EventSessionTerminated  EventType = "session_terminated"
)

// Event is a lifecycle event exported to analytics systems after it has
// been written to the report database.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	SessionID  int64     `json:"session_id"`
	Node       string    `json:"node,omitempty"`
	Status     string    `json:"status,omitempty"`
	Error      string    `json:"error,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// Sink is a destination for report events.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
