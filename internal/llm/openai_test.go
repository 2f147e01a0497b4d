package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunk(t *testing.T, content string) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion.chunk",
		"created": 1,
		"model":   "gpt-4o",
		"choices": []map[string]any{
			{"index": 0, "delta": map[string]any{"content": content}},
		},
	})
	require.NoError(t, err)
	return string(data)
}

func TestOpenAIClient_StreamsFragmentsInOrder(t *testing.T) {
	var got struct {
		Model    string        `json:"model"`
		Stream   bool          `json:"stream"`
		Messages []ChatMessage `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		// Role-only chunk first, as the real API does
		fmt.Fprintf(w, "data: %s\n\n", chunk(t, ""))
		for _, f := range []string{"Hel", "lo", " world"} {
			fmt.Fprintf(w, "data: %s\n\n", chunk(t, f))
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c, err := NewOpenAIClient("test-key", WithBaseURL(srv.URL+"/v1"), WithModels("local-model"))
	require.NoError(t, err)
	assert.Equal(t, []string{"local-model"}, c.Models())

	stream, err := c.OpenStream(context.Background(), &CompletionRequest{
		Model:    "local-model",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	defer stream.Close()

	var fragments []string
	for {
		f, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		fragments = append(fragments, f)
	}

	assert.Equal(t, []string{"Hel", "lo", " world"}, fragments)
	assert.Equal(t, "local-model", got.Model)
	assert.True(t, got.Stream)
	assert.Equal(t, []ChatMessage{{Role: "user", Content: "hi"}}, got.Messages)
}

func TestOpenAIClient_HTTPErrorIsStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer srv.Close()

	c, err := NewOpenAIClient("test-key", WithBaseURL(srv.URL+"/v1"))
	require.NoError(t, err)

	_, err = c.OpenStream(context.Background(), &CompletionRequest{Model: "gpt-4o"})
	require.Error(t, err)

	var serr *StreamError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "openai", serr.Provider)
	assert.Equal(t, "gpt-4o", serr.Model)
}

func TestOpenAIClient_CancelStopsRecv(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", chunk(t, "first"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewOpenAIClient("test-key", WithBaseURL(srv.URL+"/v1"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := c.OpenStream(ctx, &CompletionRequest{Model: "gpt-4o"})
	require.NoError(t, err)
	defer stream.Close()

	f, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "first", f)

	cancel()
	_, err = stream.Recv()
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}

func TestNewOpenAIClient_KeyRequirement(t *testing.T) {
	_, err := NewOpenAIClient("")
	assert.Error(t, err)

	c, err := NewOpenAIClient("", WithBaseURL("http://localhost:11434/v1"))
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Name())
}
