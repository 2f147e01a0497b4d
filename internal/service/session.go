package service

import (
	"sync"
	"time"

	"github.com/capitalize-ai/chat-orchestrator/internal/conversation"
	"github.com/capitalize-ai/chat-orchestrator/internal/events"
	"github.com/capitalize-ai/chat-orchestrator/internal/model"
	"github.com/capitalize-ai/chat-orchestrator/internal/orchestrator"
	"github.com/capitalize-ai/chat-orchestrator/internal/suggest"
)

// Session is one conversation and the machinery streaming into it.
type Session struct {
	ID        string
	CreatedAt time.Time

	History      *conversation.History
	Orchestrator *orchestrator.Orchestrator
	Events       *events.Broadcaster
	Suggestions  *suggest.Picker

	mu       sync.Mutex
	selected []string
}

// Selected returns the models the next turn goes to when none are given.
func (s *Session) Selected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.selected...)
}

func (s *Session) setSelected(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = append([]string{}, ids...)
}

// View returns the public description of the session.
func (s *Session) View() *model.Session {
	return &model.Session{
		ID:             s.ID,
		CreatedAt:      s.CreatedAt,
		SelectedModels: s.Selected(),
		ActiveID:       s.History.ActiveID(),
		MessageCount:   s.History.Len(),
		Running:        s.Orchestrator.Running(),
	}
}

func (s *Session) close() {
	s.Orchestrator.Close()
	s.Events.Close()
}
