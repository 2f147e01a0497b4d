package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chat-orchestrator/internal/conversation"
	"github.com/capitalize-ai/chat-orchestrator/internal/llm"
	"github.com/capitalize-ai/chat-orchestrator/internal/llm/llmtest"
	"github.com/capitalize-ai/chat-orchestrator/internal/model"
	"github.com/capitalize-ai/chat-orchestrator/pkg/logger"
)

type recorder struct {
	mu     sync.Mutex
	events []model.StreamEvent
}

func (r *recorder) Publish(_ context.Context, ev model.StreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) forMessage(id string) []model.StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.StreamEvent
	for _, ev := range r.events {
		if ev.MessageID == id {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	history *conversation.History
	client  *llmtest.Client
	events  *recorder
	orch    *Orchestrator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		history: conversation.NewHistory(),
		client:  llmtest.NewClient("scripted", "model-a", "model-b", "model-c"),
		events:  &recorder{},
	}
	opts = append([]Option{
		WithLogger(logger.NewNop()),
		WithPublisher(f.events),
		WithSessionID("session-1"),
	}, opts...)
	f.orch = New(f.history, f.client, opts...)
	t.Cleanup(f.orch.Close)
	return f
}

func (f *fixture) message(t *testing.T, id string) model.Message {
	t.Helper()
	msg, ok := f.history.Get(id)
	require.True(t, ok, "message %s", id)
	return msg
}

func (f *fixture) contentEventually(t *testing.T, id, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		msg, _ := f.history.Get(id)
		return msg.Content == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSubmit_SingleModel(t *testing.T) {
	f := newFixture(t)
	f.client.Enqueue("model-a", llmtest.Fixed("Hel", "lo", " world"))

	sub, err := f.orch.Submit(context.Background(), SubmitRequest{Text: "hi", ModelIDs: []string{"model-a"}})
	require.NoError(t, err)
	require.Len(t, sub.Tasks, 1)
	f.orch.Wait()

	user := f.message(t, sub.UserMessage.ID)
	assert.Equal(t, model.RoleUser, user.Role)
	assert.Equal(t, "hi", user.Content)
	assert.Empty(t, user.ParentID)
	assert.Equal(t, []string{"model-a"}, user.Models)

	reply := f.message(t, sub.Tasks[0].MessageID)
	assert.Equal(t, model.RoleAssistant, reply.Role)
	assert.Equal(t, user.ID, reply.ParentID)
	assert.Equal(t, "model-a", reply.ModelID)
	assert.Equal(t, "Hello world", reply.Content)
	assert.True(t, reply.Done)
	assert.Nil(t, reply.Error)

	path, err := f.history.ActivePath()
	require.NoError(t, err)
	require.Len(t, path, 2)
	assert.Equal(t, user.ID, path[0].ID)
	assert.Equal(t, reply.ID, path[1].ID)

	reqs := f.client.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, []llm.ChatMessage{{Role: "user", Content: "hi"}}, reqs[0].Messages)
	assert.Empty(t, f.orch.Running())
}

func TestSubmit_FanOut(t *testing.T) {
	f := newFixture(t)
	f.client.Enqueue("model-a", llmtest.Fixed("a1", "a2"))
	f.client.Enqueue("model-b", llmtest.Fixed("b1"))
	f.client.Enqueue("model-c", llmtest.Fixed("c1", "c2", "c3"))

	sub, err := f.orch.Submit(context.Background(), SubmitRequest{
		Text:     "compare",
		ModelIDs: []string{"model-a", "model-b", "model-c"},
	})
	require.NoError(t, err)
	f.orch.Wait()

	ids := sub.MessageIDs()
	require.Len(t, ids, 3)

	user := f.message(t, sub.UserMessage.ID)
	assert.Equal(t, ids, user.ChildrenIDs)
	assert.Equal(t, ids[2], f.history.ActiveID())

	want := map[string]string{"model-a": "a1a2", "model-b": "b1", "model-c": "c1c2c3"}
	for _, id := range ids {
		msg := f.message(t, id)
		assert.Equal(t, user.ID, msg.ParentID)
		assert.Equal(t, want[msg.ModelID], msg.Content)
		assert.True(t, msg.Done)
	}
}

func TestSubmit_DuplicateModels(t *testing.T) {
	f := newFixture(t)
	f.client.Enqueue("model-a", llmtest.Fixed("one"))
	f.client.Enqueue("model-a", llmtest.Fixed("two"))

	sub, err := f.orch.Submit(context.Background(), SubmitRequest{Text: "hi", ModelIDs: []string{"model-a", "model-a"}})
	require.NoError(t, err)
	f.orch.Wait()

	require.Len(t, sub.Tasks, 2)
	assert.NotEqual(t, sub.Tasks[0].MessageID, sub.Tasks[1].MessageID)
	got := []string{f.message(t, sub.Tasks[0].MessageID).Content, f.message(t, sub.Tasks[1].MessageID).Content}
	assert.ElementsMatch(t, []string{"one", "two"}, got)
}

func TestSubmit_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  SubmitRequest
		want error
	}{
		{name: "empty prompt", req: SubmitRequest{ModelIDs: []string{"model-a"}}, want: ErrEmptyInput},
		{name: "no models", req: SubmitRequest{Text: "hi"}, want: ErrNoModelSelected},
		{name: "empty model id", req: SubmitRequest{Text: "hi", ModelIDs: []string{"model-a", ""}}, want: ErrNoModelSelected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.orch.Submit(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, 0, f.history.Len())
			assert.Empty(t, f.client.Requests())
		})
	}
}

func TestSubmit_WhitespacePromptIsSent(t *testing.T) {
	f := newFixture(t)
	f.client.Enqueue("model-a", llmtest.Fixed("ok"))

	sub, err := f.orch.Submit(context.Background(), SubmitRequest{Text: "   ", ModelIDs: []string{"model-a"}})
	require.NoError(t, err)
	f.orch.Wait()

	assert.Equal(t, "   ", f.message(t, sub.UserMessage.ID).Content)
	reqs := f.client.Requests()
	require.Len(t, reqs, 1)
	last := reqs[0].Messages[len(reqs[0].Messages)-1]
	assert.Equal(t, "   ", last.Content)
	assert.Equal(t, "ok", f.message(t, sub.Tasks[0].MessageID).Content)
}

func TestSubmit_FilesWithoutText(t *testing.T) {
	f := newFixture(t)
	f.client.Enqueue("model-a", llmtest.Fixed("ok"))

	files := []model.File{{Name: "notes.txt", Type: "file"}}
	sub, err := f.orch.Submit(context.Background(), SubmitRequest{Files: files, ModelIDs: []string{"model-a"}})
	require.NoError(t, err)
	f.orch.Wait()

	assert.Equal(t, files, f.message(t, sub.UserMessage.ID).Files)
}

func TestSubmit_FollowUpCarriesActivePath(t *testing.T) {
	f := newFixture(t)
	f.client.Enqueue("model-a", llmtest.Fixed("first a"))
	f.client.Enqueue("model-b", llmtest.Fixed("first b"))

	first, err := f.orch.Submit(context.Background(), SubmitRequest{Text: "q1", ModelIDs: []string{"model-a", "model-b"}})
	require.NoError(t, err)
	f.orch.Wait()

	f.client.Enqueue("model-a", llmtest.Fixed("second"))
	second, err := f.orch.Submit(context.Background(), SubmitRequest{Text: "q2", ModelIDs: []string{"model-a"}})
	require.NoError(t, err)
	f.orch.Wait()

	// The follow-up hangs off the active leaf, the last model's response.
	assert.Equal(t, first.Tasks[1].MessageID, second.UserMessage.ParentID)

	reqs := f.client.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, []llm.ChatMessage{
		{Role: "user", Content: "q1"},
		{Role: "assistant", Content: "first b"},
		{Role: "user", Content: "q2"},
	}, reqs[2].Messages)
}

func TestStop_HaltsMutation(t *testing.T) {
	f := newFixture(t)
	script := f.client.Enqueue("model-a", llmtest.NewScript())

	sub, err := f.orch.Submit(context.Background(), SubmitRequest{Text: "hi", ModelIDs: []string{"model-a"}})
	require.NoError(t, err)
	id := sub.Tasks[0].MessageID

	script.Send("one ")
	script.Send("two ")
	f.contentEventually(t, id, "one two ")

	assert.True(t, f.orch.Stop(id))
	script.Send("three ")
	script.Send("four ")
	script.Send("five")
	script.End()
	f.orch.Wait()

	msg := f.message(t, id)
	assert.Equal(t, "one two ", msg.Content)
	assert.True(t, msg.Done)
	assert.Nil(t, msg.Error)
	assert.True(t, sub.Tasks[0].Cancelled())

	evs := f.events.forMessage(id)
	require.Len(t, evs, 3)
	assert.Equal(t, model.EventTypeCancelled, evs[2].Type)

	<-script.Closed()
}

func TestStop_LeavesSiblingsRunning(t *testing.T) {
	f := newFixture(t)
	a := f.client.Enqueue("model-a", llmtest.NewScript())
	b := f.client.Enqueue("model-b", llmtest.NewScript())

	sub, err := f.orch.Submit(context.Background(), SubmitRequest{Text: "hi", ModelIDs: []string{"model-a", "model-b"}})
	require.NoError(t, err)
	idA, idB := sub.Tasks[0].MessageID, sub.Tasks[1].MessageID

	a.Send("a")
	b.Send("b")
	f.contentEventually(t, idA, "a")
	f.contentEventually(t, idB, "b")

	require.True(t, f.orch.Stop(idA))
	<-sub.Tasks[0].Done()
	assert.Equal(t, []string{idB}, f.orch.Running())

	b.Send("b")
	b.End()
	a.End()
	f.orch.Wait()

	assert.Equal(t, "a", f.message(t, idA).Content)
	assert.Equal(t, "bb", f.message(t, idB).Content)
	assert.False(t, sub.Tasks[1].Cancelled())
}

func TestStop_NoOpWhenFinishedOrUnknown(t *testing.T) {
	f := newFixture(t)
	f.client.Enqueue("model-a", llmtest.Fixed("done"))

	sub, err := f.orch.Submit(context.Background(), SubmitRequest{Text: "hi", ModelIDs: []string{"model-a"}})
	require.NoError(t, err)
	f.orch.Wait()

	id := sub.Tasks[0].MessageID
	assert.False(t, f.orch.Stop(id))
	assert.False(t, f.orch.Stop("unknown"))

	msg := f.message(t, id)
	assert.Equal(t, "done", msg.Content)
	assert.Nil(t, msg.Error)
	assert.Len(t, f.events.forMessage(id), 2)
}

func TestStop_AfterStreamEndedIsNoOp(t *testing.T) {
	f := newFixture(t)
	script := llmtest.Fixed("all ", "there")
	release := script.HoldClose()
	t.Cleanup(release)
	f.client.Enqueue("model-a", script)

	sub, err := f.orch.Submit(context.Background(), SubmitRequest{Text: "hi", ModelIDs: []string{"model-a"}})
	require.NoError(t, err)
	id := sub.Tasks[0].MessageID

	// The stream has been read to the end and is closing; the task has not
	// finished yet.
	select {
	case <-script.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not closed")
	}
	assert.False(t, f.orch.Stop(id))

	release()
	f.orch.Wait()

	msg := f.message(t, id)
	assert.True(t, msg.Done)
	assert.Nil(t, msg.Error)
	assert.Equal(t, "all there", msg.Content)
	assert.False(t, sub.Tasks[0].Cancelled())

	evs := f.events.forMessage(id)
	require.Len(t, evs, 3)
	assert.Equal(t, model.EventTypeDone, evs[2].Type)
}

func TestStop_Twice(t *testing.T) {
	f := newFixture(t)
	script := f.client.Enqueue("model-a", llmtest.NewScript())

	sub, err := f.orch.Submit(context.Background(), SubmitRequest{Text: "hi", ModelIDs: []string{"model-a"}})
	require.NoError(t, err)
	id := sub.Tasks[0].MessageID

	assert.True(t, f.orch.Stop(id))
	assert.False(t, f.orch.Stop(id))
	script.End()
	f.orch.Wait()

	evs := f.events.forMessage(id)
	require.Len(t, evs, 1)
	assert.Equal(t, model.EventTypeCancelled, evs[0].Type)
}

func TestStopAll(t *testing.T) {
	f := newFixture(t)
	a := f.client.Enqueue("model-a", llmtest.NewScript())
	b := f.client.Enqueue("model-b", llmtest.NewScript())

	sub, err := f.orch.Submit(context.Background(), SubmitRequest{Text: "hi", ModelIDs: []string{"model-a", "model-b"}})
	require.NoError(t, err)

	assert.Equal(t, 2, f.orch.StopAll())
	a.End()
	b.End()
	f.orch.Wait()

	for _, id := range sub.MessageIDs() {
		msg := f.message(t, id)
		assert.True(t, msg.Done)
		assert.Nil(t, msg.Error)
	}
	assert.Equal(t, 0, f.orch.StopAll())
}

func TestStreamError_IsolatedToItsMessage(t *testing.T) {
	f := newFixture(t)
	f.client.Enqueue("model-a", llmtest.Failing(llmtest.ErrBackend, "partial"))
	f.client.Enqueue("model-b", llmtest.Fixed("fine"))

	sub, err := f.orch.Submit(context.Background(), SubmitRequest{Text: "hi", ModelIDs: []string{"model-a", "model-b"}})
	require.NoError(t, err)
	f.orch.Wait()

	failed := f.message(t, sub.Tasks[0].MessageID)
	assert.True(t, failed.Done)
	assert.Equal(t, "partial", failed.Content)
	require.NotNil(t, failed.Error)
	assert.Contains(t, failed.Error.Content, llmtest.ErrBackend.Error())

	ok := f.message(t, sub.Tasks[1].MessageID)
	assert.Equal(t, "fine", ok.Content)
	assert.Nil(t, ok.Error)

	evs := f.events.forMessage(failed.ID)
	require.Len(t, evs, 2)
	assert.Equal(t, model.EventTypeError, evs[1].Type)
	assert.NotEmpty(t, evs[1].Error)
}

func TestStreamError_OpenFailure(t *testing.T) {
	f := newFixture(t)
	f.client.FailOpen("model-a", llmtest.ErrBackend)

	sub, err := f.orch.Submit(context.Background(), SubmitRequest{Text: "hi", ModelIDs: []string{"model-a"}})
	require.NoError(t, err)
	f.orch.Wait()

	msg := f.message(t, sub.Tasks[0].MessageID)
	assert.True(t, msg.Done)
	assert.Empty(t, msg.Content)
	require.NotNil(t, msg.Error)
}

func TestUnknownModel_FailsOnlyThatMessage(t *testing.T) {
	f := newFixture(t)
	f.client.Enqueue("model-a", llmtest.Fixed("hello"))

	sub, err := f.orch.Submit(context.Background(), SubmitRequest{Text: "hi", ModelIDs: []string{"model-a", "ghost"}})
	require.NoError(t, err)
	f.orch.Wait()

	ghost := f.message(t, sub.Tasks[1].MessageID)
	assert.Equal(t, "ghost", ghost.ModelID)
	assert.True(t, ghost.Done)
	require.NotNil(t, ghost.Error)
	assert.Contains(t, ghost.Error.Content, llm.ErrUnknownModel.Error())

	assert.Equal(t, "hello", f.message(t, sub.Tasks[0].MessageID).Content)
}

func TestEvents_OrderedWithOneTerminal(t *testing.T) {
	f := newFixture(t)
	f.client.Enqueue("model-a", llmtest.Fixed("x", "y", "z"))

	sub, err := f.orch.Submit(context.Background(), SubmitRequest{Text: "hi", ModelIDs: []string{"model-a"}})
	require.NoError(t, err)
	f.orch.Wait()

	evs := f.events.forMessage(sub.Tasks[0].MessageID)
	require.Len(t, evs, 4)
	for i, frag := range []string{"x", "y", "z"} {
		assert.Equal(t, model.EventTypeFragment, evs[i].Type)
		assert.Equal(t, frag, evs[i].Fragment)
		assert.Equal(t, i, evs[i].Index)
		assert.Equal(t, "session-1", evs[i].SessionID)
		assert.Equal(t, "model-a", evs[i].ModelID)
	}
	assert.Equal(t, model.EventTypeDone, evs[3].Type)
	assert.True(t, evs[3].Terminal())
}

func TestStreamSlots_BoundOpenStreams(t *testing.T) {
	f := newFixture(t, WithMaxConcurrentStreams(1))
	a := f.client.Enqueue("model-a", llmtest.NewScript())
	b := f.client.Enqueue("model-b", llmtest.NewScript())

	_, err := f.orch.Submit(context.Background(), SubmitRequest{Text: "hi", ModelIDs: []string{"model-a", "model-b"}})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(f.client.Requests()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, f.client.Requests(), 1)
	assert.Len(t, f.orch.Running(), 2)

	a.End()
	b.End()
	f.orch.Wait()
	assert.Len(t, f.client.Requests(), 2)
}

func TestStreamSlots_StopWhileWaiting(t *testing.T) {
	f := newFixture(t, WithMaxConcurrentStreams(1))
	scripts := map[string]*llmtest.Script{
		"model-a": f.client.Enqueue("model-a", llmtest.NewScript()),
		"model-b": f.client.Enqueue("model-b", llmtest.NewScript()),
	}

	sub, err := f.orch.Submit(context.Background(), SubmitRequest{Text: "hi", ModelIDs: []string{"model-a", "model-b"}})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.client.Requests()) == 1 }, 2*time.Second, 5*time.Millisecond)

	holder := f.client.Requests()[0].Model
	waiting := sub.Tasks[0]
	if waiting.ModelID == holder {
		waiting = sub.Tasks[1]
	}

	require.True(t, f.orch.Stop(waiting.MessageID))
	<-waiting.Done()

	msg := f.message(t, waiting.MessageID)
	assert.True(t, msg.Done)
	assert.Nil(t, msg.Error)
	assert.Len(t, f.client.Requests(), 1)

	scripts[holder].End()
	f.orch.Wait()
}

func TestReset_StopsStreamsAndClearsTree(t *testing.T) {
	f := newFixture(t)
	script := f.client.Enqueue("model-a", llmtest.NewScript())

	sub, err := f.orch.Submit(context.Background(), SubmitRequest{Text: "hi", ModelIDs: []string{"model-a"}})
	require.NoError(t, err)

	f.orch.Reset()
	script.Send("late")
	script.End()
	<-sub.Tasks[0].Done()

	assert.Equal(t, 0, f.history.Len())
	assert.Empty(t, f.history.ActiveID())

	f.client.Enqueue("model-a", llmtest.Fixed("fresh"))
	next, err := f.orch.Submit(context.Background(), SubmitRequest{Text: "again", ModelIDs: []string{"model-a"}})
	require.NoError(t, err)
	f.orch.Wait()
	assert.Empty(t, next.UserMessage.ParentID)
	assert.Equal(t, "fresh", f.message(t, next.Tasks[0].MessageID).Content)
}

func TestSubmit_OutlivesCallerContext(t *testing.T) {
	f := newFixture(t)
	script := f.client.Enqueue("model-a", llmtest.NewScript())

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := f.orch.Submit(ctx, SubmitRequest{Text: "hi", ModelIDs: []string{"model-a"}})
	require.NoError(t, err)
	cancel()

	script.Send("still here")
	script.End()
	f.orch.Wait()

	msg := f.message(t, sub.Tasks[0].MessageID)
	assert.Equal(t, "still here", msg.Content)
	assert.False(t, sub.Tasks[0].Cancelled())
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	f.client.Enqueue("model-a", llmtest.NewScript())

	sub, err := f.orch.Submit(context.Background(), SubmitRequest{Text: "hi", ModelIDs: []string{"model-a"}})
	require.NoError(t, err)

	f.orch.Close()
	msg := f.message(t, sub.Tasks[0].MessageID)
	assert.True(t, msg.Done)
	assert.Nil(t, msg.Error)

	_, err = f.orch.Submit(context.Background(), SubmitRequest{Text: "hi", ModelIDs: []string{"model-a"}})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWithModelNames(t *testing.T) {
	f := newFixture(t, WithModelNames(func(id string) string { return "Name of " + id }))
	f.client.Enqueue("model-a", llmtest.Fixed("x"))

	sub, err := f.orch.Submit(context.Background(), SubmitRequest{Text: "hi", ModelIDs: []string{"model-a"}})
	require.NoError(t, err)
	f.orch.Wait()

	assert.Equal(t, "Name of model-a", f.message(t, sub.Tasks[0].MessageID).ModelName)
}

func TestSubmit_PlaceholderFailureStopsStartedStreams(t *testing.T) {
	var f *fixture
	f = newFixture(t, WithModelNames(func(id string) string {
		if id == "model-b" {
			// Drops the user message before its second placeholder is added.
			f.history.Reset()
		}
		return id
	}))
	script := f.client.Enqueue("model-a", llmtest.NewScript())

	sub, err := f.orch.Submit(context.Background(), SubmitRequest{Text: "hi", ModelIDs: []string{"model-a", "model-b"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, conversation.ErrInvalidParent)
	assert.Nil(t, sub)

	select {
	case <-script.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("started stream was not stopped")
	}
	f.orch.Wait()
	assert.Empty(t, f.orch.Running())
}
