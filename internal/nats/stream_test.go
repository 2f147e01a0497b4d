package nats

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chat-orchestrator/internal/model"
)

func TestEventSubject(t *testing.T) {
	tests := []struct {
		name  string
		event model.StreamEvent
		want  string
	}{
		{
			name:  "fragment",
			event: model.StreamEvent{SessionID: "s1", MessageID: "m1", Type: model.EventTypeFragment},
			want:  "chat.s1.m1.fragment",
		},
		{
			name:  "terminal",
			event: model.StreamEvent{SessionID: "s1", MessageID: "m1", Type: model.EventTypeCancelled},
			want:  "chat.s1.m1.cancelled",
		},
		{
			name:  "reserved characters",
			event: model.StreamEvent{SessionID: "a.b", MessageID: "c*d>", Type: model.EventTypeDone},
			want:  "chat.a_b.c_d_.done",
		},
		{
			name:  "missing session",
			event: model.StreamEvent{MessageID: "m1", Type: model.EventTypeError},
			want:  "chat._.m1.error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EventSubject(tt.event))
		})
	}
}

func TestSessionFilter(t *testing.T) {
	assert.Equal(t, "chat.s1.>", SessionFilter("s1"))
}

func TestEncode(t *testing.T) {
	ev := model.StreamEvent{
		SessionID: "s1",
		MessageID: "m1",
		ModelID:   "gpt-4o",
		Type:      model.EventTypeFragment,
		Fragment:  "Hel",
		Index:     0,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	data, err := Encode(ev)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "gpt-4o", wire["model"])
	assert.Equal(t, "fragment", wire["type"])
	assert.Equal(t, "Hel", wire["fragment"])
	assert.NotContains(t, wire, "error")
}
