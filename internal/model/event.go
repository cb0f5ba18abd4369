package model

import (
	"time"
)

// EventType represents the kind of conversation log mutation.
type EventType string

const (
	EventTypeTurn    EventType = "turn"
	EventTypeCleared EventType = "cleared"
)

// TurnEvent is emitted after every log mutation. Turn is set for
// EventTypeTurn; Sequence is the 1-based log position after the mutation.
type TurnEvent struct {
	Type      EventType `json:"type"`
	Namespace string    `json:"namespace"`
	Turn      *Turn     `json:"turn,omitempty"`
	Sequence  int       `json:"sequence"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrorEvent represents an error event on the SSE stream.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// ReplayCompleteEvent marks the end of the initial log replay on a stream.
type ReplayCompleteEvent struct {
	TurnCount int `json:"turn_count"`
}
