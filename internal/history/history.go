// Package history records the backend's lifecycle for later diagnosis.
package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart       EventType = "start"
	EventSpawnFailed EventType = "spawn_failed"
	EventStop        EventType = "stop"
	EventExit        EventType = "exit"
)

// Record is the process snapshot attached to an event.
type Record struct {
	Name   string `json:"name"`
	PID    int    `json:"pid"`
	Code   *int   `json:"code,omitempty"`
	Signal *int   `json:"signal,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Event is one lifecycle entry.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }
