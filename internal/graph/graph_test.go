package graph

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nichescout/nichescout/internal/conversation"
	"github.com/nichescout/nichescout/internal/llm"
	"github.com/nichescout/nichescout/internal/llm/llmtest"
	"github.com/nichescout/nichescout/internal/prompts"
	"github.com/nichescout/nichescout/internal/router"
	"github.com/nichescout/nichescout/internal/worker"
)

var order = []router.Destination{router.SaaSFinder, router.Market, router.Research}

type recorder struct {
	mu        sync.Mutex
	decisions []router.Decision
	appended  []llm.Message
}

func (r *recorder) Routed(d router.Decision, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
}

func (r *recorder) Appended(m llm.Message, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appended = append(r.appended, m)
}

// stubbornModel always routes to market, answers workers with a short
// finding and writes a fixed report.
func stubbornModel() *llmtest.Client {
	c := &llmtest.Client{}
	c.Handler = func(req llm.ChatRequest) llmtest.Reply {
		switch {
		case len(req.Format) > 0:
			return llmtest.Reply{Content: `{"next": "market", "reason": "more numbers"}`}
		case req.Messages[0].Content == prompts.Synthesis:
			return llmtest.Reply{Content: "# Pet grooming subscription boxes opportunity report"}
		default:
			return llmtest.Reply{Content: "finding\n{\"summary\": \"ok\"}"}
		}
	}
	return c
}

func newRunner(t *testing.T, client llm.Client) *Runner {
	t.Helper()
	rt, err := router.New(client, router.Config{Workers: order, MaxSteps: 15, LoopWindow: 12, LoopThreshold: 2})
	require.NoError(t, err)

	var workers []Worker
	for _, d := range order {
		workers = append(workers, worker.New(d.String(), client, nil, worker.Options{}))
	}
	r, err := NewRunner(rt, order, workers)
	require.NoError(t, err)
	return r
}

func TestRunEndToEnd(t *testing.T) {
	r := newRunner(t, stubbornModel())
	rec := &recorder{}
	state := conversation.New("pet grooming subscription boxes")

	res, err := r.Run(context.Background(), state, rec)
	require.NoError(t, err)

	assert.LessOrEqual(t, res.Steps, 15)
	assert.Equal(t, router.ReportName, res.Report.Name)
	assert.Equal(t, "# Pet grooming subscription boxes opportunity report", res.Report.Content)
	assert.Len(t, state.Named(router.ReportName), 1)
	assert.Equal(t, router.Finish.String(), state.Next())

	last, _ := state.Last()
	assert.Equal(t, router.ReportName, last.Name)

	// One decision per worker turn plus the final one.
	assert.Len(t, rec.decisions, res.Steps+1)
	assert.Len(t, rec.appended, res.Steps+1)

	// The stubborn supervisor never gets market twice in a row past the threshold.
	var sawLoop bool
	for _, d := range rec.decisions {
		if d.Path == router.PathLoop {
			sawLoop = true
		}
	}
	assert.True(t, sawLoop, "loop avoidance should have redirected at least once")
}

func TestRunImmediateFinish(t *testing.T) {
	client := llmtest.New(
		llmtest.Reply{Content: `{"next": "FINISH", "reason": "nothing to do"}`},
		llmtest.Reply{Content: "empty report"},
	)
	r := newRunner(t, client)
	state := conversation.New("niche")

	res, err := r.Run(context.Background(), state, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Steps)
	assert.Equal(t, "empty report", res.Report.Content)
	assert.Equal(t, 2, state.Len())
}

func TestRunWorkerFailureContinues(t *testing.T) {
	client := &llmtest.Client{}
	routed := 0
	client.Handler = func(req llm.ChatRequest) llmtest.Reply {
		switch {
		case len(req.Format) > 0:
			routed++
			if routed == 1 {
				return llmtest.Reply{Content: `{"next": "research"}`}
			}
			return llmtest.Reply{Content: `{"next": "FINISH"}`}
		case req.Messages[0].Content == prompts.Synthesis:
			return llmtest.Reply{Content: "report"}
		default:
			return llmtest.Reply{Err: assert.AnError}
		}
	}
	r := newRunner(t, client)
	state := conversation.New("niche")

	res, err := r.Run(context.Background(), state, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Steps)

	turns := state.Named("research")
	require.Len(t, turns, 1)
	assert.True(t, strings.HasPrefix(turns[0].Content, "research failed: "))
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newRunner(t, stubbornModel())
	_, err := r.Run(ctx, conversation.New("niche"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunConcurrentRuns(t *testing.T) {
	r := newRunner(t, stubbornModel())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state := conversation.New("niche")
			res, err := r.Run(context.Background(), state, nil)
			assert.NoError(t, err)
			if res != nil {
				assert.Len(t, state.Named(router.ReportName), 1)
			}
		}()
	}
	wg.Wait()
}

func TestNewRunnerValidates(t *testing.T) {
	client := llmtest.New()
	rt, err := router.New(client, router.Config{Workers: order, MaxSteps: 15, LoopWindow: 12, LoopThreshold: 2})
	require.NoError(t, err)

	_, err = NewRunner(rt, order, []Worker{worker.New("market", client, nil, worker.Options{})})
	assert.ErrorContains(t, err, "saas_finder is routed to but not provided")

	_, err = NewRunner(rt, order, []Worker{worker.New("sales", client, nil, worker.Options{})})
	assert.ErrorContains(t, err, "unknown worker")

	_, err = NewRunner(nil, order, nil)
	assert.Error(t, err)
}

func TestMermaid(t *testing.T) {
	m := Mermaid(order)
	assert.True(t, strings.HasPrefix(m, "graph TD;"))
	for _, d := range order {
		assert.Contains(t, m, "supervisor -.-> "+d.String()+";")
		assert.Contains(t, m, d.String()+" --> supervisor;")
	}
	assert.Contains(t, m, "supervisor -.->|FINISH| __end__;")

	dir := filepath.Join(t.TempDir(), "graphs")
	path, err := WriteMermaid(dir, order)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, MermaidFile), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, m, string(data))
}
