package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nichescout/nichescout/internal/config"
)

type stubClient struct {
	content string
	err     error
	calls   int
	last    ChatRequest
}

func (s *stubClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.calls++
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &ChatResponse{Message: Message{Role: RoleAssistant, Content: s.content}}, nil
}

func TestCompleteStructured(t *testing.T) {
	stub := &stubClient{content: "```json\n{\"next\":\"research\",\"reason\":\"need competitors\"}\n```"}
	got, err := CompleteStructured(context.Background(), stub, []Message{System("route")}, []byte(`{"type":"object"}`))
	require.NoError(t, err)
	assert.Equal(t, "research", got["next"])
	assert.NotEmpty(t, stub.last.Format)
}

func TestCompleteStructuredRejectsNonObject(t *testing.T) {
	stub := &stubClient{content: `["market"]`}
	_, err := CompleteStructured(context.Background(), stub, nil, []byte(`{}`))
	assert.ErrorIs(t, err, ErrNotObject)

	stub = &stubClient{content: "  "}
	_, err = CompleteStructured(context.Background(), stub, nil, []byte(`{}`))
	assert.ErrorIs(t, err, ErrEmptyResponse)

	stub = &stubClient{content: "route to market"}
	_, err = CompleteStructured(context.Background(), stub, nil, []byte(`{}`))
	assert.Error(t, err)
}

func TestComplete(t *testing.T) {
	stub := &stubClient{content: "plain text"}
	got, err := Complete(context.Background(), stub, []Message{Human("", "hi")})
	require.NoError(t, err)
	assert.Equal(t, "plain text", got)
	assert.Empty(t, stub.last.Format)
}

func TestTextOf(t *testing.T) {
	assert.Equal(t, "", TextOf(nil))
	assert.Equal(t, "plain", TextOf("plain"))
	assert.Equal(t, "from content", TextOf(map[string]any{"content": "from content"}))
	assert.Equal(t, "from text", TextOf(map[string]any{"text": "from text"}))
	assert.Equal(t, "", TextOf(map[string]any{"other": 1}))
	assert.Equal(t, "msg", TextOf(Message{Content: "msg"}))
	assert.Equal(t, "resp", TextOf(&ChatResponse{Message: Message{Content: "resp"}}))
	assert.Equal(t, "42", TextOf(42))
}

func TestJoinContents(t *testing.T) {
	got := JoinContents([]Message{{Content: "a"}, {Content: "b"}})
	assert.Equal(t, "a\n\nb", got)
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	stub := &stubClient{err: errors.New("connection refused")}
	b := NewBreaker(stub, "test", config.CircuitBreakerConfig{MaxFailures: 2})

	for i := 0; i < 2; i++ {
		_, err := b.Chat(context.Background(), ChatRequest{})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}

	_, err := b.Chat(context.Background(), ChatRequest{})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, stub.calls)
	assert.Equal(t, "open", b.State())
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	stub := &stubClient{err: context.Canceled}
	b := NewBreaker(stub, "test", config.CircuitBreakerConfig{MaxFailures: 1})

	for i := 0; i < 3; i++ {
		_, err := b.Chat(context.Background(), ChatRequest{})
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, 3, stub.calls)
}
