// Package worker runs one domain agent turn: a bounded tool-calling loop
// against the LLM whose final answer is appended to the run as a message
// named after the worker.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nichescout/nichescout/internal/conversation"
	"github.com/nichescout/nichescout/internal/extract"
	"github.com/nichescout/nichescout/internal/llm"
	"github.com/nichescout/nichescout/internal/tools"
	"github.com/nichescout/nichescout/internal/tracer"
)

const defaultMaxIterations = 8

type Options struct {
	Model         string
	SystemPrompt  string
	MaxIterations int
}

type Agent struct {
	id            string
	client        llm.Client
	tools         *tools.Set
	model         string
	prompt        string
	maxIterations int
}

func New(id string, client llm.Client, set *tools.Set, opts Options) *Agent {
	if set == nil {
		set = tools.NewSet()
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = defaultMaxIterations
	}
	return &Agent{
		id:            id,
		client:        client,
		tools:         set,
		model:         opts.Model,
		prompt:        opts.SystemPrompt,
		maxIterations: opts.MaxIterations,
	}
}

func (a *Agent) ID() string {
	return a.id
}

// Run executes one turn over the run's history. It always returns a message
// named after the worker; failures are reported in its content.
func (a *Agent) Run(ctx context.Context, state *conversation.State) llm.Message {
	ctx, span := tracer.StartSpan(ctx, "worker.run")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("worker.id", a.id))

	content, err := a.loop(ctx, state.Messages())
	if err == nil && strings.TrimSpace(content) == "" {
		err = llm.ErrEmptyResponse
	}
	if err != nil {
		slog.Error("worker failed", "worker", a.id, "error", err)
		tracer.RecordError(span, err)
		return llm.Human(a.id, fmt.Sprintf("%s failed: %v", a.id, err))
	}

	if _, ok := extract.TrailingJSON(content); !ok {
		slog.Warn("worker output has no trailing JSON summary", "worker", a.id)
	}
	tracer.SetOK(span)
	return llm.Human(a.id, content)
}

func (a *Agent) loop(ctx context.Context, history []llm.Message) (string, error) {
	msgs := make([]llm.Message, 0, len(history)+1)
	if a.prompt != "" {
		msgs = append(msgs, llm.System(a.prompt))
	}
	msgs = append(msgs, history...)
	defs := a.tools.Definitions()

	for i := 0; i < a.maxIterations; i++ {
		resp, err := a.client.Chat(ctx, llm.ChatRequest{Model: a.model, Messages: msgs, Tools: defs})
		if err != nil {
			return "", fmt.Errorf("chat: %w", err)
		}
		if len(resp.Message.ToolCalls) == 0 {
			return resp.Message.Content, nil
		}

		slog.Debug("worker tool calls", "worker", a.id, "iteration", i, "calls", len(resp.Message.ToolCalls))
		msgs = append(msgs, resp.Message)
		for _, tc := range resp.Message.ToolCalls {
			msgs = append(msgs, llm.ToolResult(tc.Name, a.invoke(ctx, tc)))
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}

	slog.Warn("worker reached max iterations, asking for a final answer", "worker", a.id, "max_iterations", a.maxIterations)
	resp, err := a.client.Chat(ctx, llm.ChatRequest{Model: a.model, Messages: msgs})
	if err != nil {
		return "", fmt.Errorf("final chat: %w", err)
	}
	return resp.Message.Content, nil
}

func (a *Agent) invoke(ctx context.Context, tc llm.ToolCall) string {
	tool, ok := a.tools.Lookup(tc.Name)
	if !ok {
		return fmt.Sprintf("Error in %s: unknown tool", tc.Name)
	}
	ctx, span := tracer.StartSpan(ctx, "tool."+tc.Name)
	defer span.End()
	return tool.Invoke(ctx, tc.Arguments)
}
