// Package conversation implements the in-memory conversation tree.
//
// A History maps message ids to messages and tracks the active leaf, the tip
// of the conversation the user sees. Messages link to their parent through
// ParentID and to their children through ChildrenIDs, so a user turn can have
// several assistant responses (one per model) and, later, edited or
// regenerated branches.
//
// Every operation is atomic with respect to the history lock, and readers only
// ever receive copies, so a reader never observes a partially applied
// mutation.
package conversation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/chat-orchestrator/internal/model"
)

// History is the authoritative conversation tree of one session.
type History struct {
	mu       sync.RWMutex
	messages map[string]*model.Message
	activeID string

	now func() time.Time
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{
		messages: make(map[string]*model.Message),
		now:      time.Now,
	}
}

// MessageOption customizes a message before it is inserted.
type MessageOption func(*model.Message)

// WithID sets the message id instead of generating one.
func WithID(id string) MessageOption {
	return func(m *model.Message) {
		m.ID = id
	}
}

// WithFiles attaches file references to a user message.
func WithFiles(files []model.File) MessageOption {
	return func(m *model.Message) {
		if len(files) > 0 {
			m.Files = append([]model.File(nil), files...)
		}
	}
}

// WithModels records the models a user turn was sent to.
func WithModels(modelIDs []string) MessageOption {
	return func(m *model.Message) {
		if len(modelIDs) > 0 {
			m.Models = append([]string(nil), modelIDs...)
		}
	}
}

// WithModel marks the message as generated by modelID.
func WithModel(modelID, name string) MessageOption {
	return func(m *model.Message) {
		m.ModelID = modelID
		m.ModelName = name
	}
}

// WithTimestamp overrides the creation time.
func WithTimestamp(ts time.Time) MessageOption {
	return func(m *model.Message) {
		m.Timestamp = ts
	}
}

// CreateRootMessage inserts a new message under parentID (or as a root when
// parentID is empty) and makes it the active message.
func (h *History) CreateRootMessage(role model.Role, content, parentID string, opts ...MessageOption) (model.Message, error) {
	msg := &model.Message{
		ParentID: parentID,
		Role:     role,
		Content:  content,
	}
	for _, opt := range opts {
		opt(msg)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.insert(msg)
}

// AppendChild inserts partial as a child of parentID and makes it the active
// message. Calling it repeatedly with the same parent creates siblings.
func (h *History) AppendChild(parentID string, partial model.Message) (model.Message, error) {
	msg := partial.Clone()
	msg.ParentID = parentID
	msg.ChildrenIDs = nil

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.insert(&msg)
}

func (h *History) insert(msg *model.Message) (model.Message, error) {
	var parent *model.Message
	if msg.ParentID != "" {
		p, ok := h.messages[msg.ParentID]
		if !ok {
			return model.Message{}, &InvalidParentError{ParentID: msg.ParentID}
		}
		parent = p
	}

	if msg.ID == "" {
		msg.ID = uuid.Must(uuid.NewV7()).String()
	}
	if _, exists := h.messages[msg.ID]; exists {
		return model.Message{}, fmt.Errorf("%w: %s", ErrDuplicateID, msg.ID)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now()
	}
	if msg.ChildrenIDs == nil {
		msg.ChildrenIDs = []string{}
	}

	h.messages[msg.ID] = msg
	if parent != nil {
		parent.ChildrenIDs = append(parent.ChildrenIDs, msg.ID)
	}
	h.activeID = msg.ID

	return msg.Clone(), nil
}

// MutateContent appends fragment to the content of message id. It reports
// whether the message changed: done messages and unknown ids are left alone,
// since a stream may outlive a reset conversation.
func (h *History) MutateContent(id, fragment string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg, ok := h.messages[id]
	if !ok || msg.Done {
		return false
	}
	msg.Content += fragment
	return true
}

// MarkDone moves message id to its terminal state, attaching streamErr when
// non-nil. Only the first call has an effect.
func (h *History) MarkDone(id string, streamErr *model.MessageError) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg, ok := h.messages[id]
	if !ok || msg.Done {
		return false
	}
	msg.Done = true
	if streamErr != nil {
		e := *streamErr
		msg.Error = &e
	}
	return true
}

// Reset drops every message and clears the active id.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = make(map[string]*model.Message)
	h.activeID = ""
}

// SetActive moves the active tip to an existing message.
func (h *History) SetActive(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.messages[id]; !ok {
		return ErrNotFound
	}
	h.activeID = id
	return nil
}

// Get returns a copy of message id.
func (h *History) Get(id string) (model.Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	msg, ok := h.messages[id]
	if !ok {
		return model.Message{}, false
	}
	return msg.Clone(), true
}

// ActiveID returns the id of the active message, or "" when empty.
func (h *History) ActiveID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.activeID
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Path linearizes the history from fromID back to its root.
func (h *History) Path(fromID string) ([]model.Message, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.path(fromID)
}

// ActivePath linearizes the history from the active message.
func (h *History) ActivePath() ([]model.Message, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.path(h.activeID)
}

func (h *History) path(fromID string) ([]model.Message, error) {
	nodes, err := Linearize(h.messages, fromID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Message, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out, nil
}

// Snapshot is a consistent copy of a history.
type Snapshot struct {
	Messages map[string]model.Message
	ActiveID string
}

// Snapshot copies all messages and the active id under one read lock.
func (h *History) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	msgs := make(map[string]model.Message, len(h.messages))
	for id, m := range h.messages {
		msgs[id] = m.Clone()
	}
	return Snapshot{Messages: msgs, ActiveID: h.activeID}
}
