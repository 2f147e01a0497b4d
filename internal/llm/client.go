// Package llm provides the completion client boundary and its provider
// implementations.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest represents a streaming completion request.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// Stream is a lazy sequence of text fragments in generation order.
//
// Recv blocks until the next fragment is available. It returns io.EOF once the
// sequence is exhausted and a *StreamError when the transport or the provider
// fails. Cancelling the context the stream was opened with makes Recv return
// promptly.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Client is the interface for LLM providers.
type Client interface {
	// OpenStream starts a streaming completion.
	OpenStream(ctx context.Context, req *CompletionRequest) (Stream, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// ErrUnknownModel is returned when no provider serves a model id.
var ErrUnknownModel = errors.New("unknown model")

// StreamError is a transport or protocol failure of a completion stream.
type StreamError struct {
	Provider string
	Model    string
	Err      error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s stream for %s failed: %v", e.Provider, e.Model, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

func streamError(provider, model string, err error) error {
	var serr *StreamError
	if errors.As(err, &serr) {
		return err
	}
	return &StreamError{Provider: provider, Model: model, Err: err}
}

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return nil, fmt.Errorf("unsupported provider %q", provider)
	}
}
