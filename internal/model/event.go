package model

import (
	"time"
)

// EventType represents the type of stream event.
type EventType string

const (
	EventTypeFragment  EventType = "fragment"
	EventTypeDone      EventType = "done"
	EventTypeError     EventType = "error"
	EventTypeCancelled EventType = "cancelled"
)

// StreamEvent is published for every mutation a stream task applies to the
// conversation tree.
type StreamEvent struct {
	SessionID string    `json:"session_id"`
	MessageID string    `json:"message_id"`
	ModelID   string    `json:"model"`
	Type      EventType `json:"type"`
	Fragment  string    `json:"fragment,omitempty"`
	Index     int       `json:"index"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Terminal reports whether the event ends its stream.
func (e StreamEvent) Terminal() bool {
	return e.Type != EventTypeFragment
}
