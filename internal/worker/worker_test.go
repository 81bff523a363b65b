package worker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nichescout/nichescout/internal/conversation"
	"github.com/nichescout/nichescout/internal/llm"
	"github.com/nichescout/nichescout/internal/llm/llmtest"
	"github.com/nichescout/nichescout/internal/tools"
)

func echoTool(calls *[]string) tools.Tool {
	return tools.Tool{
		Name:  "web_search",
		Param: "query",
		Fn: func(_ context.Context, q string) (string, error) {
			*calls = append(*calls, q)
			return "found: " + q, nil
		},
	}
}

func TestRunPlainAnswer(t *testing.T) {
	client := llmtest.New(llmtest.Reply{Content: "Ideas ranked.\n{\"summary\": \"ok\"}"})
	a := New("saas_finder", client, nil, Options{SystemPrompt: "you scout ideas", Model: "m1"})

	msg := a.Run(context.Background(), conversation.New("pet grooming"))
	if msg.Name != "saas_finder" || msg.Role != llm.RoleUser {
		t.Fatalf("unexpected message attribution: %+v", msg)
	}
	if !strings.HasPrefix(msg.Content, "Ideas ranked.") {
		t.Errorf("content = %q", msg.Content)
	}

	reqs := client.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	if reqs[0].Model != "m1" {
		t.Errorf("model = %q", reqs[0].Model)
	}
	if reqs[0].Messages[0].Role != llm.RoleSystem || reqs[0].Messages[0].Content != "you scout ideas" {
		t.Errorf("first message should be the system prompt: %+v", reqs[0].Messages[0])
	}
	if reqs[0].Messages[1].Content != "pet grooming" {
		t.Errorf("history not forwarded: %+v", reqs[0].Messages[1])
	}
}

func TestRunToolLoop(t *testing.T) {
	var calls []string
	client := llmtest.New(
		llmtest.Reply{ToolCalls: []llm.ToolCall{{ID: "1", Name: "web_search", Arguments: map[string]any{"query": "groomers"}}}},
		llmtest.Reply{Content: "There are many groomers."},
	)
	a := New("research", client, tools.NewSet(echoTool(&calls)), Options{})

	msg := a.Run(context.Background(), conversation.New("pet grooming"))
	if msg.Content != "There are many groomers." {
		t.Fatalf("content = %q", msg.Content)
	}
	if len(calls) != 1 || calls[0] != "groomers" {
		t.Fatalf("tool calls = %v", calls)
	}

	reqs := client.Requests()
	second := reqs[1].Messages
	last := second[len(second)-1]
	if last.Role != llm.RoleTool || last.ToolName != "web_search" || last.Content != "found: groomers" {
		t.Errorf("tool result not fed back: %+v", last)
	}
	if len(reqs[0].Tools) != 1 {
		t.Errorf("tools not offered: %+v", reqs[0].Tools)
	}
}

func TestRunUnknownTool(t *testing.T) {
	client := llmtest.New(
		llmtest.Reply{ToolCalls: []llm.ToolCall{{Name: "chart", Arguments: map[string]any{}}}},
		llmtest.Reply{Content: "done"},
	)
	a := New("market", client, nil, Options{})

	msg := a.Run(context.Background(), conversation.New("x"))
	if msg.Content != "done" {
		t.Fatalf("content = %q", msg.Content)
	}
	msgs := client.Requests()[1].Messages
	if got := msgs[len(msgs)-1].Content; got != "Error in chart: unknown tool" {
		t.Errorf("tool error = %q", got)
	}
}

func TestRunMaxIterations(t *testing.T) {
	var calls []string
	client := &llmtest.Client{}
	client.Handler = func(req llm.ChatRequest) llmtest.Reply {
		if len(req.Tools) == 0 {
			return llmtest.Reply{Content: "final without tools"}
		}
		return llmtest.Reply{ToolCalls: []llm.ToolCall{{Name: "web_search", Arguments: map[string]any{"query": "again"}}}}
	}
	a := New("research", client, tools.NewSet(echoTool(&calls)), Options{MaxIterations: 3})

	msg := a.Run(context.Background(), conversation.New("x"))
	if msg.Content != "final without tools" {
		t.Fatalf("content = %q", msg.Content)
	}
	if client.Calls() != 4 {
		t.Errorf("expected 3 tool rounds plus a final call, got %d", client.Calls())
	}
	if len(calls) != 3 {
		t.Errorf("tool ran %d times", len(calls))
	}
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name  string
		reply llmtest.Reply
		want  string
	}{
		{"chat error", llmtest.Reply{Err: errors.New("connection refused")}, "market failed: chat: connection refused"},
		{"empty", llmtest.Reply{Content: "   "}, "market failed: " + llm.ErrEmptyResponse.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New("market", llmtest.New(tt.reply), nil, Options{})
			msg := a.Run(context.Background(), conversation.New("x"))
			if msg.Name != "market" {
				t.Errorf("failure must still be named for the worker, got %q", msg.Name)
			}
			if msg.Content != tt.want {
				t.Errorf("content = %q, want %q", msg.Content, tt.want)
			}
		})
	}
}

func TestRunDoesNotMutateState(t *testing.T) {
	state := conversation.New("x")
	a := New("market", llmtest.New(llmtest.Reply{Content: "ok"}), nil, Options{})
	a.Run(context.Background(), state)
	if state.Len() != 1 {
		t.Errorf("state grew to %d", state.Len())
	}
}
