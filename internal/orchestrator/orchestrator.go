// Package orchestrator fans one user turn out to one or more models and
// merges their streamed fragments into the conversation tree.
package orchestrator

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/capitalize-ai/chat-orchestrator/internal/conversation"
	"github.com/capitalize-ai/chat-orchestrator/internal/events"
	"github.com/capitalize-ai/chat-orchestrator/internal/llm"
	"github.com/capitalize-ai/chat-orchestrator/internal/model"
	"github.com/capitalize-ai/chat-orchestrator/pkg/logger"
	"github.com/capitalize-ai/chat-orchestrator/pkg/metrics"
	"github.com/capitalize-ai/chat-orchestrator/pkg/tracing"
)

const (
	statusSuccess   = "success"
	statusError     = "error"
	statusCancelled = "cancelled"
)

// SubmitRequest is one user turn.
type SubmitRequest struct {
	Text     string
	Files    []model.File
	ModelIDs []string
}

// Submission describes the messages created by Submit.
type Submission struct {
	UserMessage model.Message
	Tasks       []*Task
}

// MessageIDs returns the placeholder ids in model order.
func (s *Submission) MessageIDs() []string {
	out := make([]string, len(s.Tasks))
	for i, t := range s.Tasks {
		out[i] = t.MessageID
	}
	return out
}

// Task is one running stream bound to one assistant message.
type Task struct {
	MessageID string
	ModelID   string

	token *Token
	done  chan struct{}
}

// Done is closed once the target message reached its terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Cancelled reports whether the task was stopped.
func (t *Task) Cancelled() bool {
	return t.token.Cancelled()
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher sets the sink for stream events.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSessionID tags events and logs with the owning session.
func WithSessionID(id string) Option {
	return func(o *Orchestrator) {
		o.sessionID = id
	}
}

// WithMaxConcurrentStreams bounds how many streams are open at once. Zero
// means unbounded.
func WithMaxConcurrentStreams(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithStreamSlots shares a stream slot limit between orchestrators.
func WithStreamSlots(slots *semaphore.Weighted) Option {
	return func(o *Orchestrator) {
		o.slots = slots
	}
}

// WithMaxTokens sets the completion token limit sent to providers.
func WithMaxTokens(n int) Option {
	return func(o *Orchestrator) {
		o.maxTokens = n
	}
}

// WithModelNames resolves display names for placeholders.
func WithModelNames(fn func(modelID string) string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.nameOf = fn
		}
	}
}

// Orchestrator runs the stream tasks of one conversation.
type Orchestrator struct {
	sessionID string
	history   *conversation.History
	client    llm.Client
	publisher events.Publisher
	logger    *logger.Logger
	slots     *semaphore.Weighted
	maxTokens int
	nameOf    func(string) string

	ctx    context.Context
	cancel context.CancelFunc

	// submitMu serializes Submit and Reset so a turn is never split by a
	// reset.
	submitMu sync.Mutex

	mu    sync.Mutex
	tasks map[string]*Task
	wg    sync.WaitGroup
}

// New creates an orchestrator over history using client for completions.
func New(history *conversation.History, client llm.Client, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		history:   history,
		client:    client,
		publisher: events.Nop,
		logger:    logger.Global(),
		nameOf:    func(id string) string { return id },
		ctx:       ctx,
		cancel:    cancel,
		tasks:     make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.sessionID != "" {
		o.logger = o.logger.WithSession(o.sessionID)
	}
	return o
}

// History returns the conversation tree the orchestrator writes to.
func (o *Orchestrator) History() *conversation.History {
	return o.history
}

func validate(req SubmitRequest) error {
	if req.Text == "" && len(req.Files) == 0 {
		return ErrEmptyInput
	}
	if len(req.ModelIDs) == 0 {
		return ErrNoModelSelected
	}
	for _, id := range req.ModelIDs {
		if id == "" {
			return ErrNoModelSelected
		}
	}
	return nil
}

// Submit appends a user turn under the active message and starts one stream
// task per model id. It returns once the tasks are started; their progress is
// visible through the history and the publisher.
//
// Validation failures wrap ErrValidation and leave the tree untouched. Any
// other error is fatal to the turn: no Submission is returned and streams
// started for it are stopped.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*Submission, error) {
	if err := validate(req); err != nil {
		metrics.SubmissionsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	o.submitMu.Lock()
	defer o.submitMu.Unlock()

	if o.ctx.Err() != nil {
		return nil, ErrClosed
	}

	prev, err := o.history.ActivePath()
	if err != nil {
		o.logger.Error("failed to linearize active path", zap.Error(err))
		metrics.SubmissionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	outgoing := make([]llm.ChatMessage, 0, len(prev)+1)
	for _, m := range prev {
		outgoing = append(outgoing, llm.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	outgoing = append(outgoing, llm.ChatMessage{Role: string(model.RoleUser), Content: req.Text})

	parentID := ""
	if len(prev) > 0 {
		parentID = prev[len(prev)-1].ID
	}

	user, err := o.history.CreateRootMessage(model.RoleUser, req.Text, parentID,
		conversation.WithFiles(req.Files),
		conversation.WithModels(req.ModelIDs),
	)
	if err != nil {
		o.logger.Error("failed to create user message", zap.String("parent_id", parentID), zap.Error(err))
		metrics.SubmissionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues(string(model.RoleUser)).Inc()

	// Tasks follow the orchestrator lifetime, not the caller's; only the
	// trace parent is carried over.
	parent := trace.ContextWithSpan(o.ctx, trace.SpanFromContext(ctx))

	sub := &Submission{UserMessage: user}
	for _, modelID := range req.ModelIDs {
		placeholder, err := o.history.AppendChild(user.ID, model.Message{
			Role:      model.RoleAssistant,
			ModelID:   modelID,
			ModelName: o.nameOf(modelID),
		})
		if err != nil {
			o.logger.Error("failed to create response placeholder", zap.String("model", modelID), zap.Error(err))
			metrics.SubmissionsTotal.WithLabelValues("error").Inc()
			// Streams already started for this turn are stopped.
			for _, task := range sub.Tasks {
				task.token.Cancel()
			}
			return nil, err
		}
		metrics.MessagesTotal.WithLabelValues(string(model.RoleAssistant)).Inc()
		sub.Tasks = append(sub.Tasks, o.start(parent, placeholder.ID, modelID, outgoing))
	}

	metrics.SubmissionsTotal.WithLabelValues(statusSuccess).Inc()
	o.logger.Info("turn submitted",
		zap.String("message_id", user.ID),
		zap.Strings("models", req.ModelIDs),
	)
	return sub, nil
}

func (o *Orchestrator) start(parent context.Context, messageID, modelID string, outgoing []llm.ChatMessage) *Task {
	task := &Task{
		MessageID: messageID,
		ModelID:   modelID,
		token:     newToken(o.ctx),
		done:      make(chan struct{}),
	}

	o.mu.Lock()
	o.tasks[messageID] = task
	o.mu.Unlock()

	metrics.StreamsActive.Inc()
	o.wg.Add(1)
	go o.run(parent, task, outgoing)
	return task
}

func (o *Orchestrator) run(parent context.Context, task *Task, outgoing []llm.ChatMessage) {
	defer o.wg.Done()

	log := o.logger.WithStream(task.MessageID, task.ModelID)
	started := time.Now()

	_, span := tracing.Tracer().Start(parent, "orchestrator.stream",
		trace.WithAttributes(
			attribute.String("session.id", o.sessionID),
			attribute.String("message.id", task.MessageID),
			attribute.String("llm.model", task.ModelID),
		),
	)
	defer span.End()

	log.Info("stream started")

	ctx := trace.ContextWithSpan(task.token.Context(), span)
	fragments, exhausted, err := o.consume(ctx, task, outgoing)

	status := o.finish(task, exhausted, err)
	duration := time.Since(started)
	metrics.RecordStream(task.ModelID, status, duration.Seconds(), fragments)
	span.SetAttributes(
		attribute.String("stream.status", status),
		attribute.Int("stream.fragments", fragments),
	)

	fields := []zap.Field{
		zap.String("status", status),
		zap.Int("fragments", fragments),
		zap.Duration("duration", duration),
	}
	if status == statusError {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("stream failed", append(fields, zap.Error(err))...)
		return
	}
	log.Info("stream finished", fields...)
}

// consume pulls fragments until the stream ends, fails or the task is
// cancelled. It returns how many fragments were applied and whether the
// stream was read to the end before any cancellation.
func (o *Orchestrator) consume(ctx context.Context, task *Task, outgoing []llm.ChatMessage) (int, bool, error) {
	if o.slots != nil {
		if err := o.slots.Acquire(ctx, 1); err != nil {
			return 0, false, err
		}
		defer o.slots.Release(1)
	}

	stream, err := o.client.OpenStream(ctx, &llm.CompletionRequest{
		Model:     task.ModelID,
		Messages:  outgoing,
		MaxTokens: o.maxTokens,
	})
	if err != nil {
		return 0, false, err
	}
	defer stream.Close()

	n := 0
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return n, task.token.settle(), nil
		}
		if err != nil {
			return n, false, err
		}

		var mutated bool
		if !task.token.Guard(func() {
			mutated = o.history.MutateContent(task.MessageID, fragment)
		}) {
			return n, false, nil
		}
		if !mutated {
			// The message is gone or already final; nothing left to write.
			return n, false, nil
		}

		o.publish(ctx, model.StreamEvent{
			MessageID: task.MessageID,
			ModelID:   task.ModelID,
			Type:      model.EventTypeFragment,
			Fragment:  fragment,
			Index:     n,
		})
		n++
	}
}

// finish performs the single terminal transition of a task.
func (o *Orchestrator) finish(task *Task, exhausted bool, err error) string {
	status := statusSuccess
	event := model.StreamEvent{
		MessageID: task.MessageID,
		ModelID:   task.ModelID,
		Type:      model.EventTypeDone,
	}

	var streamErr *model.MessageError
	switch {
	case exhausted && err == nil:
	case task.token.Cancelled():
		status = statusCancelled
		event.Type = model.EventTypeCancelled
	case err != nil:
		status = statusError
		streamErr = &model.MessageError{Content: err.Error()}
		event.Type = model.EventTypeError
		event.Error = streamErr.Content
	}

	o.history.MarkDone(task.MessageID, streamErr)

	o.mu.Lock()
	delete(o.tasks, task.MessageID)
	o.mu.Unlock()

	task.token.release()
	close(task.done)
	metrics.StreamsActive.Dec()

	o.publish(context.WithoutCancel(o.ctx), event)
	return status
}

func (o *Orchestrator) publish(ctx context.Context, event model.StreamEvent) {
	event.SessionID = o.sessionID
	event.CreatedAt = time.Now()
	o.publisher.Publish(ctx, event)
}

// Stop cancels the task writing messageID. It reports whether a running task
// was cancelled; stopping a finished or unknown message is a no-op.
func (o *Orchestrator) Stop(messageID string) bool {
	o.mu.Lock()
	task, ok := o.tasks[messageID]
	o.mu.Unlock()

	if !ok {
		return false
	}
	stopped := task.token.Cancel()
	if stopped {
		o.logger.Info("stream stop requested", zap.String("message_id", messageID))
	}
	return stopped
}

// StopAll cancels every running task and returns how many were cancelled.
func (o *Orchestrator) StopAll() int {
	o.mu.Lock()
	tasks := make([]*Task, 0, len(o.tasks))
	for _, t := range o.tasks {
		tasks = append(tasks, t)
	}
	o.mu.Unlock()

	n := 0
	for _, t := range tasks {
		if t.token.Cancel() {
			n++
		}
	}
	if n > 0 {
		o.logger.Info("all streams stopped", zap.Int("count", n))
	}
	return n
}

// Running returns the ids of messages that are still streaming, sorted.
func (o *Orchestrator) Running() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	ids := make([]string, 0, len(o.tasks))
	for id := range o.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Wait blocks until every started task has reached its terminal state.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Reset stops every stream and starts a new, empty conversation.
func (o *Orchestrator) Reset() {
	o.submitMu.Lock()
	defer o.submitMu.Unlock()

	o.StopAll()
	o.history.Reset()
}

// Close cancels all tasks, waits for them and rejects later submissions.
func (o *Orchestrator) Close() {
	o.submitMu.Lock()
	o.cancel()
	o.submitMu.Unlock()

	o.wg.Wait()
}
