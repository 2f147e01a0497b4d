package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-orchestrator/internal/events"
	"github.com/capitalize-ai/chat-orchestrator/internal/model"
	"github.com/capitalize-ai/chat-orchestrator/pkg/logger"
	"github.com/capitalize-ai/chat-orchestrator/pkg/metrics"
)

const (
	// StreamName is the name of the chat events stream.
	StreamName = "CHAT_EVENTS"

	// SubjectPrefix is the prefix for all chat event subjects.
	SubjectPrefix = "chat"

	// EventRetention is how long events stay readable for late followers.
	EventRetention = time.Hour
)

// EnsureStream ensures the chat events stream exists.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      EventRetention,
		Storage:     jetstream.MemoryStorage,
		Replicas:    1,
		Discard:     jetstream.DiscardOld,
		Description: "Streamed chat fragments and terminal events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EventSubject returns the subject for an event.
func EventSubject(event model.StreamEvent) string {
	return fmt.Sprintf("%s.%s.%s.%s", SubjectPrefix, token(event.SessionID), token(event.MessageID), event.Type)
}

// SessionFilter returns the filter subject for every event of a session.
func SessionFilter(sessionID string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, token(sessionID))
}

// token keeps an id usable as a single subject token.
func token(id string) string {
	if id == "" {
		return "_"
	}
	out := []byte(id)
	for i, c := range out {
		switch c {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			out[i] = '_'
		}
	}
	return string(out)
}

// Encode marshals an event into its wire payload.
func Encode(event model.StreamEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

// Publisher forwards stream events to JetStream without waiting for acks.
type Publisher struct {
	js     jetstream.JetStream
	logger *logger.Logger
}

var _ events.Publisher = (*Publisher)(nil)

// NewPublisher creates a publisher on client's JetStream context.
func NewPublisher(client *Client, log *logger.Logger) *Publisher {
	return &Publisher{js: client.JetStream(), logger: log}
}

// Publish sends event asynchronously. Failures are logged and counted; they
// never reach the stream task.
func (p *Publisher) Publish(_ context.Context, event model.StreamEvent) {
	data, err := Encode(event)
	if err != nil {
		p.fail(event, err)
		return
	}

	if _, err := p.js.PublishAsync(EventSubject(event), data); err != nil {
		p.fail(event, err)
	}
}

func (p *Publisher) fail(event model.StreamEvent, err error) {
	metrics.EventsPublishErrorsTotal.WithLabelValues("nats").Inc()
	p.logger.Warn("failed to publish stream event",
		zap.String("session_id", event.SessionID),
		zap.String("message_id", event.MessageID),
		zap.String("type", string(event.Type)),
		zap.Error(err),
	)
}
