package main

import (
	"context"
	"fmt"
	"io"

	"github.com/capitalize-ai/chat-orchestrator/internal/catalog"
	"github.com/capitalize-ai/chat-orchestrator/internal/conversation"
	"github.com/capitalize-ai/chat-orchestrator/internal/events"
	"github.com/capitalize-ai/chat-orchestrator/internal/llm"
	"github.com/capitalize-ai/chat-orchestrator/internal/model"
	"github.com/capitalize-ai/chat-orchestrator/internal/orchestrator"
	"github.com/capitalize-ai/chat-orchestrator/pkg/logger"
)

// chat is one terminal conversation.
type chat struct {
	history *conversation.History
	orch    *orchestrator.Orchestrator
	events  *events.Broadcaster
	catalog *catalog.Catalog
	out     io.Writer
}

type chatOptions struct {
	maxTokens            int
	maxConcurrentStreams int
}

func newChat(client llm.Client, cat *catalog.Catalog, opts chatOptions, log *logger.Logger, out io.Writer) *chat {
	history := conversation.NewHistory()
	broadcaster := events.NewBroadcaster(4096)
	return &chat{
		history: history,
		events:  broadcaster,
		catalog: cat,
		out:     out,
		orch: orchestrator.New(history, client,
			orchestrator.WithLogger(log),
			orchestrator.WithPublisher(broadcaster),
			orchestrator.WithModelNames(cat.DisplayName),
			orchestrator.WithMaxTokens(opts.maxTokens),
			orchestrator.WithMaxConcurrentStreams(opts.maxConcurrentStreams),
		),
	}
}

func (c *chat) close() {
	c.orch.Close()
	c.events.Close()
}

// turn submits text and renders the answers. The active response streams as
// it arrives; sibling responses are printed whole once the active one ends.
// Cancelling ctx stops every stream of the turn.
func (c *chat) turn(ctx context.Context, text string, models []string) error {
	ch, unsubscribe := c.events.Subscribe()
	defer unsubscribe()

	sub, err := c.orch.Submit(context.WithoutCancel(ctx), orchestrator.SubmitRequest{Text: text, ModelIDs: models})
	if err != nil {
		return err
	}

	allDone := make(chan struct{})
	go func() {
		for _, t := range sub.Tasks {
			<-t.Done()
		}
		close(allDone)
	}()

	stop := ctx.Done()
	primary := c.history.ActiveID()
	r := &renderer{chat: c, primary: primary, tasks: sub.Tasks, printed: make(map[string]bool)}
	if len(sub.Tasks) > 1 {
		r.header(primary)
	}

	for {
		select {
		case <-stop:
			c.orch.StopAll()
			stop = nil
		case ev := <-ch:
			r.handle(ev)
		case <-allDone:
			r.drain(ch)
			r.finish()
			return nil
		}
	}
}

type renderer struct {
	*chat
	primary     string
	primaryDone bool
	written     int
	tasks       []*orchestrator.Task
	printed     map[string]bool
	pending     []string
}

func (r *renderer) header(id string) {
	msg, _ := r.history.Get(id)
	name := msg.ModelName
	if name == "" {
		name = msg.ModelID
	}
	fmt.Fprintf(r.out, "── %s ──\n", name)
}

func (r *renderer) handle(ev model.StreamEvent) {
	if ev.MessageID == r.primary {
		if ev.Type == model.EventTypeFragment {
			r.catchUp()
			return
		}
		r.endPrimary()
		return
	}
	if !ev.Terminal() {
		return
	}
	if !r.primaryDone {
		r.pending = append(r.pending, ev.MessageID)
		return
	}
	r.sibling(ev.MessageID)
}

// catchUp prints the part of the active response not written yet. Content is
// read from the tree, so fragments dropped by a full subscriber are not lost.
func (r *renderer) catchUp() model.Message {
	msg, _ := r.history.Get(r.primary)
	if len(msg.Content) > r.written {
		fmt.Fprint(r.out, msg.Content[r.written:])
		r.written = len(msg.Content)
	}
	return msg
}

func (r *renderer) endPrimary() {
	if r.primaryDone {
		return
	}
	r.primaryDone = true
	msg := r.catchUp()
	fmt.Fprintln(r.out)
	r.status(msg)
	r.printed[r.primary] = true

	for _, id := range r.pending {
		r.sibling(id)
	}
	r.pending = nil
}

func (r *renderer) sibling(id string) {
	if r.printed[id] {
		return
	}
	r.printed[id] = true
	msg, _ := r.history.Get(id)
	fmt.Fprintln(r.out)
	r.header(id)
	fmt.Fprintln(r.out, msg.Content)
	r.status(msg)
}

func (r *renderer) status(msg model.Message) {
	switch {
	case msg.Error != nil:
		fmt.Fprintf(r.out, "[error] %s\n", msg.Error.Content)
	case r.cancelled(msg.ID):
		fmt.Fprintln(r.out, "[stopped]")
	}
}

func (r *renderer) cancelled(id string) bool {
	for _, t := range r.tasks {
		if t.MessageID == id {
			return t.Cancelled()
		}
	}
	return false
}

// drain handles events that were buffered when the last task ended.
func (r *renderer) drain(ch <-chan model.StreamEvent) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			r.handle(ev)
		default:
			return
		}
	}
}

// finish prints whatever the event stream did not deliver.
func (r *renderer) finish() {
	if !r.primaryDone {
		r.endPrimary()
	}
	for _, t := range r.tasks {
		r.sibling(t.MessageID)
	}
}
