package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nichescout/nichescout/internal/config"
)

func newTestOllama(t *testing.T, handler http.HandlerFunc) *Ollama {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	o, err := NewOllama(config.LLMConfig{BaseURL: srv.URL, Model: "gpt-oss:20b", Temperature: 0.7})
	require.NoError(t, err)
	return o
}

func TestNewOllamaValidates(t *testing.T) {
	_, err := NewOllama(config.LLMConfig{BaseURL: "not a url", Model: "m"})
	assert.Error(t, err)

	_, err = NewOllama(config.LLMConfig{BaseURL: "http://localhost:11434"})
	assert.Error(t, err)
}

func TestOllamaChatRequestShape(t *testing.T) {
	var got ollamaRequest
	o := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(ollamaResponse{
			Model:   "gpt-oss:20b",
			Message: ollamaMessage{Role: "assistant", Content: `{"next":"market","reason":"sizing"}`},
			Done:    true,
		})
	})

	schema := json.RawMessage(`{"type":"object"}`)
	resp, err := o.Chat(context.Background(), ChatRequest{
		Messages: []Message{
			System("route"),
			Human("research", "competitors found"),
		},
		Format: schema,
		Tools:  []ToolDefinition{{Name: "web_search", Description: "search", Parameters: map[string]any{"type": "object"}}},
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-oss:20b", got.Model)
	assert.False(t, got.Stream)
	assert.JSONEq(t, `{"type":"object"}`, string(got.Format))
	require.NotNil(t, got.Options)
	assert.Equal(t, 0.7, got.Options.Temperature)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "[research]\ncompetitors found", got.Messages[1].Content)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "function", got.Tools[0].Type)

	assert.Equal(t, RoleAssistant, resp.Message.Role)
	assert.Equal(t, `{"next":"market","reason":"sizing"}`, resp.Message.Content)
}

func TestOllamaChatToolCalls(t *testing.T) {
	o := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"m","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"web_search","arguments":{"query":"pet boxes"}}}]},"done":true}`))
	})

	resp, err := o.Chat(context.Background(), ChatRequest{Model: "other", Messages: []Message{Human("", "hi")}})
	require.NoError(t, err)
	require.Len(t, resp.Message.ToolCalls, 1)
	call := resp.Message.ToolCalls[0]
	assert.Equal(t, "call_0", call.ID)
	assert.Equal(t, "web_search", call.Name)
	assert.Equal(t, "pet boxes", call.Arguments["query"])
}

func TestOllamaChatErrorStatus(t *testing.T) {
	o := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	})

	_, err := o.Chat(context.Background(), ChatRequest{Messages: []Message{Human("", "hi")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestOllamaPing(t *testing.T) {
	o := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models":[{"name":"llama3.2:latest"},{"name":"gpt-oss:20b"}]}`))
	})
	assert.NoError(t, o.Ping(context.Background()))

	missing := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[{"name":"llama3.2:latest"}]}`))
	})
	assert.Error(t, missing.Ping(context.Background()))
}

func TestTruncateErrorBody(t *testing.T) {
	body := strings.Repeat("ü", 200)
	got := truncate(body, 301)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("ü", 150)+"...", got)
}
