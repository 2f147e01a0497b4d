// Package service provides session management for the chat orchestrator.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/capitalize-ai/chat-orchestrator/internal/catalog"
	"github.com/capitalize-ai/chat-orchestrator/internal/conversation"
	"github.com/capitalize-ai/chat-orchestrator/internal/events"
	"github.com/capitalize-ai/chat-orchestrator/internal/llm"
	"github.com/capitalize-ai/chat-orchestrator/internal/model"
	"github.com/capitalize-ai/chat-orchestrator/internal/orchestrator"
	"github.com/capitalize-ai/chat-orchestrator/internal/suggest"
	"github.com/capitalize-ai/chat-orchestrator/pkg/logger"
	"github.com/capitalize-ai/chat-orchestrator/pkg/metrics"
)

// Options tunes a ChatService.
type Options struct {
	// DefaultModels is the preferred selection for new sessions.
	DefaultModels []string

	// MaxConcurrentStreams bounds open streams across all sessions. Zero
	// means unbounded.
	MaxConcurrentStreams int

	// MaxTokens is the completion limit sent to providers.
	MaxTokens int

	// Publisher receives every session's events in addition to the
	// session's own broadcaster.
	Publisher events.Publisher
}

// ChatService owns the open sessions.
type ChatService struct {
	client  llm.Client
	catalog *catalog.Catalog
	opts    Options
	slots   *semaphore.Weighted
	logger  *logger.Logger

	// In-memory storage; sessions end with the process.
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewChatService creates a chat service.
func NewChatService(client llm.Client, cat *catalog.Catalog, opts Options, log *logger.Logger) *ChatService {
	if cat == nil {
		cat = catalog.FromClient(client)
	}
	s := &ChatService{
		client:   client,
		catalog:  cat,
		opts:     opts,
		logger:   log,
		sessions: make(map[string]*Session),
	}
	if opts.MaxConcurrentStreams > 0 {
		s.slots = semaphore.NewWeighted(int64(opts.MaxConcurrentStreams))
	}
	return s
}

// Catalog returns the model catalog.
func (s *ChatService) Catalog() *catalog.Catalog {
	return s.catalog
}

// DefaultSelection returns the models a new session starts with.
func (s *ChatService) DefaultSelection() []string {
	return s.catalog.DefaultSelection(s.opts.DefaultModels)
}

// Create opens a new session with an empty conversation.
func (s *ChatService) Create(ctx context.Context) (*Session, error) {
	id := uuid.Must(uuid.NewV7()).String()
	history := conversation.NewHistory()
	broadcaster := events.NewBroadcaster(events.DefaultBuffer)

	sess := &Session{
		ID:          id,
		CreatedAt:   time.Now(),
		History:     history,
		Events:      broadcaster,
		Suggestions: suggest.NewPicker(s.catalog.Suggestions, time.Now().UnixNano()),
		selected:    s.DefaultSelection(),
	}
	sess.Orchestrator = orchestrator.New(history, s.client,
		orchestrator.WithSessionID(id),
		orchestrator.WithLogger(s.logger),
		orchestrator.WithPublisher(events.Multi(broadcaster, s.opts.Publisher)),
		orchestrator.WithStreamSlots(s.slots),
		orchestrator.WithMaxTokens(s.opts.MaxTokens),
		orchestrator.WithModelNames(s.catalog.DisplayName),
	)

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	metrics.SessionsActive.Inc()
	s.logger.Info("session created", zap.String("session_id", id))

	return sess, nil
}

// Get retrieves a session by ID.
func (s *ChatService) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Delete stops the session's streams and forgets it.
func (s *ChatService) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	sess.close()
	metrics.SessionsActive.Dec()
	s.logger.Info("session deleted", zap.String("session_id", id))
	return nil
}

// Reset starts a new chat in the session: running streams are stopped, the
// tree is emptied and the model selection returns to the default.
func (s *ChatService) Reset(ctx context.Context, id string) (*Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	sess.Orchestrator.Reset()
	sess.setSelected(s.DefaultSelection())

	s.logger.Info("session reset", zap.String("session_id", id))
	return sess, nil
}

// Submit fans a user turn out to the requested models, or to the session's
// current selection when none are given.
func (s *ChatService) Submit(ctx context.Context, id string, req *model.SubmitRequest) (*model.SubmitResponse, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	models := req.Models
	if len(models) == 0 {
		models = sess.Selected()
	}

	sub, err := sess.Orchestrator.Submit(ctx, orchestrator.SubmitRequest{
		Text:     req.Content,
		Files:    req.Files,
		ModelIDs: models,
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrValidation) {
			return nil, err
		}
		return nil, fmt.Errorf("submit to session %s: %w", id, err)
	}
	sess.setSelected(models)

	return &model.SubmitResponse{
		Message:   sub.UserMessage,
		Responses: sub.MessageIDs(),
		ActiveID:  sess.History.ActiveID(),
	}, nil
}

// Stop cancels one streaming message.
func (s *ChatService) Stop(ctx context.Context, id, messageID string) (bool, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return sess.Orchestrator.Stop(messageID), nil
}

// StopAll cancels every stream in the session.
func (s *ChatService) StopAll(ctx context.Context, id string) (int, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return sess.Orchestrator.StopAll(), nil
}

// History returns a consistent copy of the session's tree and active path.
func (s *ChatService) History(ctx context.Context, id string) (*model.HistoryResponse, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	snap := sess.History.Snapshot()
	path, err := conversation.Linearize(snapshotIndex(snap), snap.ActiveID)
	if err != nil {
		s.logger.Error("failed to linearize history", zap.String("session_id", id), zap.Error(err))
		return nil, fmt.Errorf("history of session %s: %w", id, err)
	}

	active := make([]model.Message, len(path))
	for i, m := range path {
		active[i] = *m
	}

	return &model.HistoryResponse{
		Messages:   snap.Messages,
		ActiveID:   snap.ActiveID,
		ActivePath: active,
		Running:    sess.Orchestrator.Running(),
	}, nil
}

func snapshotIndex(snap conversation.Snapshot) map[string]*model.Message {
	idx := make(map[string]*model.Message, len(snap.Messages))
	for id := range snap.Messages {
		m := snap.Messages[id]
		idx[id] = &m
	}
	return idx
}

// Suggestions filters the session's prompt suggestions.
func (s *ChatService) Suggestions(ctx context.Context, id, query string) ([]suggest.Suggestion, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess.Suggestions.Filter(query), nil
}

// Close stops every session. Used on shutdown.
func (s *ChatService) Close() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		sessions = append(sessions, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
		metrics.SessionsActive.Dec()
	}
}
