// Package model defines data structures for the chat core.
package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// File is a reference to a file attached to a user message.
type File struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	URL  string `json:"url,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// MessageError is the terminal error payload of a failed stream.
type MessageError struct {
	Content string `json:"content"`
}

// Message is a node of the conversation tree.
type Message struct {
	// Tree links
	ID          string   `json:"id"`
	ParentID    string   `json:"parent_id,omitempty"`
	ChildrenIDs []string `json:"children_ids"`

	// Content
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Files   []File `json:"files,omitempty"`

	// Models the user turn was fanned out to (user messages only)
	Models []string `json:"models,omitempty"`

	// Generation state (assistant messages only)
	ModelID   string        `json:"model,omitempty"`
	ModelName string        `json:"model_name,omitempty"`
	Done      bool          `json:"done"`
	Error     *MessageError `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() Message {
	out := *m
	if m.ChildrenIDs != nil {
		out.ChildrenIDs = append([]string(nil), m.ChildrenIDs...)
	}
	if m.Files != nil {
		out.Files = append([]File(nil), m.Files...)
	}
	if m.Models != nil {
		out.Models = append([]string(nil), m.Models...)
	}
	if m.Error != nil {
		e := *m.Error
		out.Error = &e
	}
	return out
}

// SubmitRequest is the request to submit a user turn.
type SubmitRequest struct {
	Content string   `json:"content"`
	Files   []File   `json:"files,omitempty"`
	Models  []string `json:"models,omitempty"`
}

// SubmitResponse is the response after a user turn was accepted.
type SubmitResponse struct {
	Message   Message  `json:"message"`
	Responses []string `json:"responses"`
	ActiveID  string   `json:"active_id"`
}

// HistoryResponse is the renderable state of a conversation.
type HistoryResponse struct {
	Messages   map[string]Message `json:"messages"`
	ActiveID   string             `json:"active_id,omitempty"`
	ActivePath []Message          `json:"active_path"`
	Running    []string           `json:"running,omitempty"`
}

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
