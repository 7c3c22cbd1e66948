package history

import (
	"context"
	"time"
)

// EventType defines the kind of session event.
type EventType string

const (
	EventLaunch    EventType = "launch"
	EventRefresh   EventType = "refresh"
	EventMutation  EventType = "mutation"
	EventTerminate EventType = "terminate"
	EventExit      EventType = "exit"
)

// Record describes the emulated game session an event belongs to.
type Record struct {
	SessionID string    `json:"session_id"`
	AppID     uint32    `json:"app_id"`
	PID       int       `json:"pid"`
	State     string    `json:"state"`
	Detail    string    `json:"detail,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Event represents a session event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
