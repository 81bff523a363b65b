package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kaptinlin/jsonschema"

	"github.com/nichescout/nichescout/internal/conversation"
	"github.com/nichescout/nichescout/internal/extract"
	"github.com/nichescout/nichescout/internal/llm"
	"github.com/nichescout/nichescout/internal/prompts"
	"github.com/nichescout/nichescout/internal/tracer"
)

// Path records which stage of the decision procedure produced a decision.
type Path string

const (
	PathStructured Path = "structured"
	PathExtracted  Path = "extracted"
	PathKeyword    Path = "keyword"
	PathLoop       Path = "loop"
	PathBudget     Path = "budget"
)

type Decision struct {
	Destination Destination `json:"destination"`
	Reason      string      `json:"reason"`
	Path        Path        `json:"path"`
}

// Outcome is the result of one supervisor turn. Report is set only when the
// decision is Finish and must be appended to the run's state.
type Outcome struct {
	Decision Decision
	Report   *llm.Message
}

type Config struct {
	Workers         []Destination
	MaxSteps        int
	LoopWindow      int
	LoopThreshold   int
	SystemPrompt    string
	SynthesisPrompt string
}

// Router is the supervisor. It holds no per-run state: every call to Decide
// works only from the state it is handed, so one Router serves any number of
// concurrent runs.
type Router struct {
	client    llm.Client
	cfg       Config
	schema    json.RawMessage
	validator *jsonschema.Schema
}

func New(client llm.Client, cfg Config) (*Router, error) {
	if client == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if len(cfg.Workers) == 0 {
		return nil, fmt.Errorf("no workers configured")
	}
	for _, w := range cfg.Workers {
		if !w.IsWorker() {
			return nil, fmt.Errorf("%s is not a worker", w)
		}
	}
	if cfg.MaxSteps <= 0 || cfg.LoopWindow <= 0 || cfg.LoopThreshold <= 0 {
		return nil, fmt.Errorf("max steps, loop window and loop threshold must be positive")
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = prompts.Supervisor(names(cfg.Workers), nil)
	}
	if cfg.SynthesisPrompt == "" {
		cfg.SynthesisPrompt = prompts.Synthesis
	}

	schema, err := routeSchema(cfg.Workers)
	if err != nil {
		return nil, err
	}
	validator, err := jsonschema.NewCompiler().Compile(schema)
	if err != nil {
		return nil, fmt.Errorf("compile route schema: %w", err)
	}

	return &Router{client: client, cfg: cfg, schema: schema, validator: validator}, nil
}

func (r *Router) Workers() []Destination {
	out := make([]Destination, len(r.cfg.Workers))
	copy(out, r.cfg.Workers)
	return out
}

func (r *Router) MaxSteps() int {
	return r.cfg.MaxSteps
}

// Schema returns the JSON schema sent with structured routing requests.
func (r *Router) Schema() json.RawMessage {
	return r.schema
}

// Decide picks the next destination for the run. It never modifies state.
// The only error it returns is the context's.
func (r *Router) Decide(ctx context.Context, state *conversation.State) (Outcome, error) {
	ctx, span := tracer.StartSpan(ctx, "router.decide")
	defer span.End()

	history := state.Messages()
	d := r.primary(ctx, withSystem(r.cfg.SystemPrompt, history))
	if err := ctx.Err(); err != nil {
		tracer.RecordError(span, err)
		return Outcome{}, err
	}

	d = apply(d, "loop avoidance", r.avoidLoop(history, d))
	d = apply(d, "step budget", r.enforceBudget(history, d))

	span.SetAttributes(
		tracer.StringAttr("route.next", d.Destination.String()),
		tracer.StringAttr("route.path", string(d.Path)),
		tracer.IntAttr("route.steps", r.Steps(history)),
	)

	out := Outcome{Decision: d}
	if d.Destination == Finish {
		slog.Info("supervisor decided to finish, synthesizing final report", "reason", d.Reason)
		report := r.synthesize(ctx, history)
		if err := ctx.Err(); err != nil {
			tracer.RecordError(span, err)
			return Outcome{}, err
		}
		out.Report = &report
	} else {
		slog.Info("routing", "next", d.Destination.String(), "path", d.Path, "reason", d.Reason)
	}

	tracer.SetOK(span)
	return out, nil
}

// Steps counts completed worker turns: messages whose producer name is a
// configured worker id.
func (r *Router) Steps(history []llm.Message) int {
	n := 0
	for _, m := range history {
		for _, w := range r.cfg.Workers {
			if m.Name == w.String() {
				n++
				break
			}
		}
	}
	return n
}

func (r *Router) primary(ctx context.Context, msgs []llm.Message) Decision {
	d, err := r.structured(ctx, msgs)
	if err == nil {
		return d
	}
	if ctx.Err() != nil {
		return Decision{}
	}
	slog.Warn("structured routing failed, falling back to raw output", "error", err)

	raw, err := llm.Complete(ctx, r.client, msgs)
	if err != nil {
		slog.Warn("raw routing completion failed", "error", err)
		raw = ""
	}
	slog.Debug("supervisor raw output", "text", raw)

	if d, ok := r.fromJSON(raw); ok {
		return d
	}
	return r.fromKeywords(raw)
}

func (r *Router) structured(ctx context.Context, msgs []llm.Message) (Decision, error) {
	obj, err := llm.CompleteStructured(ctx, r.client, msgs, r.schema)
	if err != nil {
		return Decision{}, err
	}
	if res := r.validator.Validate(obj); !res.IsValid() {
		return Decision{}, fmt.Errorf("route output does not match schema: %v", res.Error())
	}

	next := extract.String(obj, "next")
	dest, ok := r.option(next)
	if !ok {
		return Decision{}, fmt.Errorf("unknown destination %q", next)
	}
	return Decision{Destination: dest, Reason: extract.String(obj, "reason"), Path: PathStructured}, nil
}

func (r *Router) fromJSON(raw string) (Decision, bool) {
	obj, ok := extract.TrailingJSON(raw)
	if !ok {
		return Decision{}, false
	}
	dest, ok := r.option(extract.String(obj, "next"))
	if !ok {
		return Decision{}, false
	}
	reason := extract.String(obj, "reason")
	if reason == "" {
		reason = "(extracted from raw output)"
	}
	return Decision{Destination: dest, Reason: reason, Path: PathExtracted}, true
}

func (r *Router) fromKeywords(raw string) Decision {
	text := strings.ToLower(raw)

	var d Decision
	switch {
	case strings.Contains(text, "market"):
		d = Decision{Destination: Market, Reason: "Parsed 'market' from raw output"}
	case strings.Contains(text, "saas_finder"), strings.Contains(text, "saas finder"), strings.Contains(text, "idea"):
		d = Decision{Destination: SaaSFinder, Reason: "Parsed 'saas_finder' from raw output"}
	case strings.Contains(text, "research"), strings.Contains(text, "competitor"):
		d = Decision{Destination: Research, Reason: "Parsed 'research' from raw output"}
	default:
		d = Decision{Destination: SaaSFinder, Reason: "Defaulting to saas_finder due to parse failure"}
	}
	d.Path = PathKeyword

	if !r.configured(d.Destination) {
		first := r.cfg.Workers[0]
		d.Reason = fmt.Sprintf("%s; %s is not configured, using %s", d.Reason, d.Destination, first)
		d.Destination = first
	}
	return d
}

// option resolves an exact destination name among FINISH and the
// configured workers.
func (r *Router) option(name string) (Destination, bool) {
	d, ok := ParseDestination(strings.TrimSpace(name))
	if !ok {
		return Finish, false
	}
	if d == Finish || r.configured(d) {
		return d, true
	}
	return Finish, false
}

func (r *Router) configured(d Destination) bool {
	for _, w := range r.cfg.Workers {
		if w == d {
			return true
		}
	}
	return false
}

func (r *Router) synthesize(ctx context.Context, history []llm.Message) llm.Message {
	ctx, span := tracer.StartSpan(ctx, "router.synthesize")
	defer span.End()

	var content string
	resp, err := r.client.Chat(ctx, llm.ChatRequest{Messages: withSystem(r.cfg.SynthesisPrompt, history)})
	if err != nil {
		slog.Warn("synthesis failed", "error", err)
		tracer.RecordError(span, err)
	} else {
		content = llm.TextOf(resp)
	}

	if strings.TrimSpace(content) == "" {
		slog.Warn("synthesis returned empty content, falling back to raw messages")
		content = llm.JoinContents(history)
	}
	return llm.Human(ReportName, content)
}

func withSystem(prompt string, history []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history)+1)
	out = append(out, llm.System(prompt))
	return append(out, history...)
}

func routeSchema(workers []Destination) (json.RawMessage, error) {
	options := append([]string{Finish.String()}, names(workers)...)
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"next":   map[string]any{"type": "string", "enum": options},
			"reason": map[string]any{"type": "string"},
		},
		"required": []string{"next"},
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal route schema: %w", err)
	}
	return data, nil
}

func names(ds []Destination) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.String())
	}
	return out
}
