// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/nichescout/nichescout/internal/llm"
)

// Reply is one scripted answer. Err takes precedence over content.
type Reply struct {
	Content   string
	ToolCalls []llm.ToolCall
	Err       error
}

// Client answers Chat calls from Handler when set, otherwise from the
// scripted replies in order. Every request is recorded.
type Client struct {
	Handler func(req llm.ChatRequest) Reply

	mu       sync.Mutex
	replies  []Reply
	requests []llm.ChatRequest
}

var ErrExhausted = errors.New("llmtest: no scripted reply left")

func New(replies ...Reply) *Client {
	return &Client{replies: replies}
}

func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.requests = append(c.requests, req)
	var r Reply
	switch {
	case c.Handler != nil:
		c.mu.Unlock()
		r = c.Handler(req)
	case len(c.replies) > 0:
		r = c.replies[0]
		c.replies = c.replies[1:]
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		return nil, ErrExhausted
	}

	if r.Err != nil {
		return nil, r.Err
	}
	return &llm.ChatResponse{
		Model: "fake",
		Message: llm.Message{
			Role:      llm.RoleAssistant,
			Content:   r.Content,
			ToolCalls: r.ToolCalls,
		},
	}, nil
}

func (c *Client) Requests() []llm.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.ChatRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}
