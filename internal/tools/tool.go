// Package tools implements the functions workers can call during a turn:
// web search variants and LLM-backed idea analysis.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/nichescout/nichescout/internal/llm"
)

// Func runs a tool on its single string argument.
type Func func(ctx context.Context, arg string) (string, error)

type Tool struct {
	Name        string
	Description string
	// Param names the single string argument the model must supply.
	Param string
	Fn    Func
}

func (t Tool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				t.Param: map[string]any{"type": "string"},
			},
			"required": []string{t.Param},
		},
	}
}

// Invoke runs the tool with model-supplied arguments. Failures are returned
// as text so the model can read them and carry on.
func (t Tool) Invoke(ctx context.Context, args map[string]any) string {
	arg, ok := argument(args, t.Param)
	if !ok {
		return fmt.Sprintf("Error in %s: missing %q argument", t.Name, t.Param)
	}

	out, err := t.Fn(ctx, arg)
	if err != nil {
		slog.Warn("tool failed", "tool", t.Name, "error", err)
		return fmt.Sprintf("Error in %s: %v", t.Name, err)
	}
	return out
}

// argument returns args[param], or the only string argument when the model
// used a different key.
func argument(args map[string]any, param string) (string, bool) {
	if v, ok := args[param].(string); ok && v != "" {
		return v, true
	}
	var found []string
	for _, v := range args {
		if s, ok := v.(string); ok && s != "" {
			found = append(found, s)
		}
	}
	if len(found) == 1 {
		return found[0], true
	}
	return "", false
}

// Set is the tool belt of one worker.
type Set struct {
	tools  []Tool
	byName map[string]Tool
}

func NewSet(tools ...Tool) *Set {
	s := &Set{byName: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		s.tools = append(s.tools, t)
		s.byName[t.Name] = t
	}
	return s
}

func (s *Set) Lookup(name string) (Tool, bool) {
	t, ok := s.byName[name]
	return t, ok
}

func (s *Set) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(s.tools))
	for _, t := range s.tools {
		defs = append(defs, t.Definition())
	}
	return defs
}

// Names returns the tool names sorted alphabetically.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.byName))
	for n := range s.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *Set) Len() int {
	return len(s.tools)
}
