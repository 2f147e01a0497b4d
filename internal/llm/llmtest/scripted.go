// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/capitalize-ai/chat-orchestrator/internal/llm"
)

const scriptBuffer = 256

type step struct {
	fragment string
	err      error
}

// Script feeds one stream. Fragments are delivered in the order they are
// sent; End closes the stream cleanly and Fail ends it with an error.
type Script struct {
	steps  chan step
	once   sync.Once
	closed chan struct{}
	hold   chan struct{}
}

// NewScript creates an open script.
func NewScript() *Script {
	return &Script{
		steps:  make(chan step, scriptBuffer),
		closed: make(chan struct{}),
	}
}

// Fixed creates a script that yields fragments and then ends.
func Fixed(fragments ...string) *Script {
	s := NewScript()
	for _, f := range fragments {
		s.Send(f)
	}
	s.End()
	return s
}

// Failing creates a script that yields fragments and then fails with err.
func Failing(err error, fragments ...string) *Script {
	s := NewScript()
	for _, f := range fragments {
		s.Send(f)
	}
	s.Fail(err)
	return s
}

// Send queues a fragment.
func (s *Script) Send(fragment string) {
	s.steps <- step{fragment: fragment}
}

// Fail queues a terminal error.
func (s *Script) Fail(err error) {
	s.steps <- step{err: err}
	s.End()
}

// End closes the script.
func (s *Script) End() {
	s.once.Do(func() {
		close(s.steps)
	})
}

// HoldClose makes the consumer's Close block until the returned release is
// called. Call it before the script is enqueued.
func (s *Script) HoldClose() (release func()) {
	s.hold = make(chan struct{})
	var once sync.Once
	return func() {
		once.Do(func() { close(s.hold) })
	}
}

// Closed is closed when the consumer closed the stream reading this script.
func (s *Script) Closed() <-chan struct{} {
	return s.closed
}

// Client is a scripted llm.Client. Each OpenStream call for a model consumes
// the next script queued for it with Enqueue.
type Client struct {
	name   string
	models []string

	mu       sync.Mutex
	scripts  map[string][]*Script
	openErr  map[string]error
	requests []llm.CompletionRequest
}

var _ llm.Client = (*Client)(nil)

// NewClient creates a scripted client advertising models.
func NewClient(name string, models ...string) *Client {
	return &Client{
		name:    name,
		models:  models,
		scripts: make(map[string][]*Script),
		openErr: make(map[string]error),
	}
}

// Enqueue registers script for the next stream opened for model.
func (c *Client) Enqueue(model string, script *Script) *Script {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[model] = append(c.scripts[model], script)
	return script
}

// FailOpen makes OpenStream for model fail with err.
func (c *Client) FailOpen(model string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openErr[model] = err
}

// Requests returns a copy of every request received.
func (c *Client) Requests() []llm.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.CompletionRequest(nil), c.requests...)
}

// Name returns the provider name.
func (c *Client) Name() string {
	return c.name
}

// Models returns available models.
func (c *Client) Models() []string {
	return append([]string(nil), c.models...)
}

// OpenStream pops the next script for req.Model.
func (c *Client) OpenStream(ctx context.Context, req *llm.CompletionRequest) (llm.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := *req
	cp.Messages = append([]llm.ChatMessage(nil), req.Messages...)
	c.requests = append(c.requests, cp)

	if err, ok := c.openErr[req.Model]; ok {
		return nil, &llm.StreamError{Provider: c.name, Model: req.Model, Err: err}
	}
	queue := c.scripts[req.Model]
	if len(queue) == 0 {
		return nil, &llm.StreamError{Provider: c.name, Model: req.Model, Err: llm.ErrUnknownModel}
	}
	c.scripts[req.Model] = queue[1:]

	return &stream{ctx: ctx, script: queue[0], provider: c.name, model: req.Model}, nil
}

type stream struct {
	ctx      context.Context
	script   *Script
	provider string
	model    string
	once     sync.Once
}

func (s *stream) Recv() (string, error) {
	select {
	case st, ok := <-s.script.steps:
		if !ok {
			return "", io.EOF
		}
		if st.err != nil {
			return "", &llm.StreamError{Provider: s.provider, Model: s.model, Err: st.err}
		}
		return st.fragment, nil
	case <-s.ctx.Done():
		return "", &llm.StreamError{Provider: s.provider, Model: s.model, Err: s.ctx.Err()}
	}
}

func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.script.closed)
	})
	if s.script.hold != nil {
		<-s.script.hold
	}
	return nil
}

// ErrBackend is a canned backend failure.
var ErrBackend = errors.New("backend unavailable")
