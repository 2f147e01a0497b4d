package llm

import (
	"context"
	"errors"
	"io"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIClient is the OpenAI LLM client. It also serves OpenAI-compatible
// endpoints when created with a base URL.
type OpenAIClient struct {
	client *openai.Client
	models []string
}

// OpenAIOption customizes an OpenAIClient.
type OpenAIOption func(*openai.ClientConfig, *OpenAIClient)

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(baseURL string) OpenAIOption {
	return func(cfg *openai.ClientConfig, _ *OpenAIClient) {
		if baseURL != "" {
			cfg.BaseURL = baseURL
		}
	}
}

// WithModels replaces the advertised model list.
func WithModels(models ...string) OpenAIOption {
	return func(_ *openai.ClientConfig, c *OpenAIClient) {
		if len(models) > 0 {
			c.models = models
		}
	}
}

// NewOpenAIClient creates a new OpenAI client. The API key may be empty only
// for a custom base URL, since local OpenAI-compatible servers rarely check it.
func NewOpenAIClient(apiKey string, opts ...OpenAIOption) (*OpenAIClient, error) {
	cfg := openai.DefaultConfig(apiKey)
	c := &OpenAIClient{
		models: []string{
			"gpt-4o",
			"gpt-4o-mini",
			"gpt-4-turbo",
			"gpt-4",
			"gpt-3.5-turbo",
		},
	}
	for _, opt := range opts {
		opt(&cfg, c)
	}
	if apiKey == "" && cfg.BaseURL == openai.DefaultConfig("").BaseURL {
		return nil, errors.New("OpenAI API key is required")
	}
	c.client = openai.NewClientWithConfig(cfg)

	return c, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return string(ProviderOpenAI)
}

// Models returns available models.
func (c *OpenAIClient) Models() []string {
	return append([]string(nil), c.models...)
}

// OpenStream sends a streaming completion request.
func (c *OpenAIClient) OpenStream(ctx context.Context, req *CompletionRequest) (Stream, error) {
	model := req.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	// Convert messages to OpenAI format
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	// Open the stream; fragments are pulled with Recv
	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(req.Temperature),
		Stream:      true,
	})
	if err != nil {
		return nil, streamError(c.Name(), model, err)
	}

	return &openAIStream{stream: stream, model: model}, nil
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
	model  string
}

func (s *openAIStream) Recv() (string, error) {
	for {
		response, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", streamError(string(ProviderOpenAI), s.model, err)
		}

		// Extract content
		if len(response.Choices) == 0 {
			continue
		}
		// Role-only and finish chunks carry no text
		if delta := response.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}
