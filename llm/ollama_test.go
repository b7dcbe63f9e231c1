package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newOllamaTestClient(t *testing.T, handler http.HandlerFunc) StreamClient {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewOllamaClient(Options{
		Model:       "test-model",
		OllamaHost:  ts.URL,
		Temperature: 0.2,
		MaxTokens:   64,
	})
}

func TestOllamaGenerate(t *testing.T) {
	var got ollamaChatRequest
	client := newOllamaTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaChatMessage{Role: RoleAssistant, Content: "hello"},
			Done:    true,
		})
	})

	answer, err := client.Generate(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
	})
	require.NoError(t, err)
	require.Equal(t, "hello", answer)

	require.Equal(t, "test-model", got.Model)
	require.False(t, got.Stream)
	require.Len(t, got.Messages, 2)
	require.Equal(t, RoleUser, got.Messages[1].Role)
	require.InDelta(t, 0.2, got.Options["temperature"], 1e-6)
	require.EqualValues(t, 64, got.Options["num_predict"])
}

func TestOllamaGenerateStream(t *testing.T) {
	client := newOllamaTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.True(t, req.Stream)

		enc := json.NewEncoder(w)
		enc.Encode(ollamaChatResponse{Message: ollamaChatMessage{Content: "Hel"}})
		enc.Encode(ollamaChatResponse{Message: ollamaChatMessage{Content: "lo"}, Done: true})
	})

	var deltas []string
	answer, err := client.GenerateStream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, func(d string) {
		deltas = append(deltas, d)
	})
	require.NoError(t, err)
	require.Equal(t, "Hello", answer)
	require.Equal(t, []string{"Hel", "lo"}, deltas)
}

func TestOllamaGenerateErrorStatus(t *testing.T) {
	client := newOllamaTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	})

	_, err := client.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "model not found")
}

func TestOllamaGenerateErrorPayload(t *testing.T) {
	client := newOllamaTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaChatResponse{Error: "out of memory"})
	})

	_, err := client.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "out of memory")
}

func TestOllamaStreamErrorMidway(t *testing.T) {
	client := newOllamaTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		enc.Encode(ollamaChatResponse{Message: ollamaChatMessage{Content: "par"}})
		enc.Encode(ollamaChatResponse{Error: "connection reset"})
	})

	_, err := client.GenerateStream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection reset")
}

func TestOllamaHostDefaultsAndTrimsSlash(t *testing.T) {
	c, ok := NewOllamaClient(Options{Model: "m"}).(*ollamaClient)
	require.True(t, ok)
	require.Equal(t, "http://localhost:11434", c.host)

	c, ok = NewOllamaClient(Options{Model: "m", OllamaHost: "http://box:11434/"}).(*ollamaClient)
	require.True(t, ok)
	require.Equal(t, "http://box:11434", c.host)
}

func TestOllamaOmitsOptionsWhenUnset(t *testing.T) {
	c := &ollamaClient{}
	require.Nil(t, c.requestOptions())

	c = &ollamaClient{temperature: 0.5}
	opts := c.requestOptions()
	require.Len(t, opts, 1)
	require.Contains(t, fmt.Sprint(opts["temperature"]), "0.5")
}
