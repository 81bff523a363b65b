package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nichescout/nichescout/internal/config"
)

type ollamaRequest struct {
	Model     string          `json:"model"`
	Messages  []ollamaMessage `json:"messages"`
	Stream    bool            `json:"stream"`
	Tools     []ollamaTool    `json:"tools,omitempty"`
	Format    json.RawMessage `json:"format,omitempty"`
	Options   *ollamaOptions  `json:"options,omitempty"`
	KeepAlive string          `json:"keep_alive,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type ollamaToolCall struct {
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason"`
	TotalDuration   int64         `json:"total_duration"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error"`
}

// Ollama talks to the native /api/chat endpoint. Structured output uses the
// request's format field, tool calling uses its tools field.
type Ollama struct {
	baseURL     string
	model       string
	temperature float64
	keepAlive   string
	http        *http.Client
}

func NewOllama(cfg config.LLMConfig) (*Ollama, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid llm base url %q", cfg.BaseURL)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm model is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}

	return &Ollama{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		keepAlive:   cfg.KeepAlive,
		http:        newHTTPClient(timeout),
	}, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func (o *Ollama) Name() string {
	return "ollama:" + o.model
}

func (o *Ollama) Model() string {
	return o.model
}

func (o *Ollama) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := o.buildRequest(req)
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama chat: status %d: %s", resp.StatusCode, truncate(string(raw), 300))
	}

	var out ollamaResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("ollama chat: %s", out.Error)
	}

	return &ChatResponse{
		Model:            out.Model,
		Message:          fromWire(out.Message),
		PromptTokens:     out.PromptEvalCount,
		CompletionTokens: out.EvalCount,
		Duration:         time.Since(start),
	}, nil
}

// Ping checks that the server answers and knows the configured model.
func (o *Ollama) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create tags request: %w", err)
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return fmt.Errorf("ollama tags: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama tags: status %d", resp.StatusCode)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("decode tags: %w", err)
	}
	for _, m := range tags.Models {
		if m.Name == o.model || strings.TrimSuffix(m.Name, ":latest") == o.model {
			return nil
		}
	}
	return fmt.Errorf("model %q is not available on %s", o.model, o.baseURL)
}

func (o *Ollama) buildRequest(req ChatRequest) *ollamaRequest {
	model := req.Model
	if model == "" {
		model = o.model
	}
	temp := o.temperature
	if req.Temperature != nil {
		temp = *req.Temperature
	}

	out := &ollamaRequest{
		Model:     model,
		Messages:  make([]ollamaMessage, 0, len(req.Messages)),
		Stream:    false,
		Format:    req.Format,
		Options:   &ollamaOptions{Temperature: temp},
		KeepAlive: o.keepAlive,
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, toWire(m))
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, ollamaTool{
			Type: "function",
			Function: ollamaToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// toWire converts a message to the Ollama shape. Ollama drops the name
// field, so attributed user messages carry their producer inline.
func toWire(m Message) ollamaMessage {
	content := m.Content
	if m.Role == RoleUser && m.Name != "" {
		content = "[" + m.Name + "]\n" + content
	}
	w := ollamaMessage{
		Role:     string(m.Role),
		Content:  content,
		ToolName: m.ToolName,
	}
	for _, tc := range m.ToolCalls {
		var call ollamaToolCall
		call.ID = tc.ID
		call.Function.Name = tc.Name
		call.Function.Arguments = tc.Arguments
		w.ToolCalls = append(w.ToolCalls, call)
	}
	return w
}

func fromWire(w ollamaMessage) Message {
	m := Message{
		Role:    Role(w.Role),
		Content: w.Content,
	}
	if m.Role == "" {
		m.Role = RoleAssistant
	}
	for i, tc := range w.ToolCalls {
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		m.ToolCalls = append(m.ToolCalls, ToolCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return m
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
