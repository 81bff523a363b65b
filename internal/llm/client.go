package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	ErrEmptyResponse = errors.New("empty response")
	ErrNotObject     = errors.New("structured output is not a JSON object")
	ErrCircuitOpen   = errors.New("circuit open")
)

// Client is the single capability the rest of the service needs from a
// language model. One instance is built at startup and shared by the router,
// the workers and the analysis tools.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

type ChatRequest struct {
	// Model overrides the client's default model when set.
	Model    string
	Messages []Message
	Tools    []ToolDefinition
	// Format constrains the reply to a JSON schema.
	Format      json.RawMessage
	Temperature *float64
}

type ChatResponse struct {
	Model            string
	Message          Message
	PromptTokens     int
	CompletionTokens int
	Duration         time.Duration
}

// Complete runs a free-text completion and returns the reply content.
func Complete(ctx context.Context, c Client, msgs []Message) (string, error) {
	resp, err := c.Chat(ctx, ChatRequest{Messages: msgs})
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

// CompleteStructured asks for a reply conforming to schema and decodes it.
// The reply must be a JSON object.
func CompleteStructured(ctx context.Context, c Client, msgs []Message, schema json.RawMessage) (map[string]any, error) {
	resp, err := c.Chat(ctx, ChatRequest{Messages: msgs, Format: schema})
	if err != nil {
		return nil, err
	}

	raw := stripCodeFences(resp.Message.Content)
	if raw == "" {
		return nil, ErrEmptyResponse
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decode structured output: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotObject, v)
	}
	return obj, nil
}

var codeFenceRe = regexp.MustCompile("(?si)^```(?:json)?\\s*(.*?)\\s*```$")

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return s
}
