package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nichescout/nichescout/internal/config"
	"github.com/nichescout/nichescout/internal/graph"
	"github.com/nichescout/nichescout/internal/llm"
	"github.com/nichescout/nichescout/internal/llm/llmtest"
	"github.com/nichescout/nichescout/internal/natsbus"
	"github.com/nichescout/nichescout/internal/prompts"
	"github.com/nichescout/nichescout/internal/research"
	"github.com/nichescout/nichescout/internal/router"
	"github.com/nichescout/nichescout/internal/scheduler"
	"github.com/nichescout/nichescout/internal/store"
	"github.com/nichescout/nichescout/internal/worker"
)

var order = []router.Destination{router.SaaSFinder, router.Market, router.Research}

func finishingModel() *llmtest.Client {
	c := &llmtest.Client{}
	c.Handler = func(req llm.ChatRequest) llmtest.Reply {
		switch {
		case len(req.Format) > 0:
			for _, m := range req.Messages {
				if m.Name == "saas_finder" {
					return llmtest.Reply{Content: `{"next": "FINISH"}`}
				}
			}
			return llmtest.Reply{Content: `{"next": "saas_finder", "reason": "find ideas"}`}
		case req.Messages[0].Content == prompts.Synthesis:
			return llmtest.Reply{Content: "# Report"}
		default:
			return llmtest.Reply{Content: "three ideas"}
		}
	}
	return c
}

type testEnv struct {
	srv   *Server
	http  *httptest.Server
	coord *research.Coordinator
	store *store.Store
}

func newTestEnv(t *testing.T, auth string) *testEnv {
	t.Helper()
	dir := t.TempDir()

	s, err := store.New(config.StoreConfig{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	client := finishingModel()
	rt, err := router.New(client, router.Config{Workers: order, MaxSteps: 15, LoopWindow: 12, LoopThreshold: 2})
	if err != nil {
		t.Fatalf("create router: %v", err)
	}
	var workers []graph.Worker
	for _, d := range order {
		workers = append(workers, worker.New(d.String(), client, nil, worker.Options{}))
	}
	runner, err := graph.NewRunner(rt, order, workers)
	if err != nil {
		t.Fatalf("create runner: %v", err)
	}

	coord := research.NewCoordinator(runner, s, nil, filepath.Join(dir, "reports"))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = coord.Shutdown(ctx)
	})
	sched := scheduler.New(s, coord, nil, config.SchedulerConfig{})

	srv := NewServer(s, nil, coord, sched, order, config.WebConfig{Auth: auth}, "test")
	handler, err := srv.Handler()
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	return &testEnv{srv: srv, http: ts, coord: coord, store: s}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestRunsAPI(t *testing.T) {
	env := newTestEnv(t, "")
	done := make(chan store.Run, 1)
	env.coord.OnComplete(func(r store.Run) { done <- r })

	if resp := env.do(t, "POST", "/api/runs", `{"niche": "  "}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty niche: expected 400, got %d", resp.StatusCode)
	}

	resp := env.do(t, "POST", "/api/runs", `{"niche": "pet grooming"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var created map[string]any
	decode(t, resp, &created)
	id, _ := created["id"].(string)
	if id == "" || created["status"] != store.RunQueued {
		t.Fatalf("unexpected created run: %v", created)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for run")
	}

	var run map[string]any
	decode(t, env.do(t, "GET", "/api/runs/"+id, ""), &run)
	if run["status"] != store.RunCompleted || run["final_report"] != "# Report" {
		t.Errorf("unexpected run: %v", run)
	}

	var msgs []map[string]any
	decode(t, env.do(t, "GET", "/api/runs/"+id+"/messages", ""), &msgs)
	if len(msgs) != 3 || msgs[1]["name"] != "saas_finder" || msgs[1]["reason"] != "find ideas" {
		t.Errorf("unexpected messages: %v", msgs)
	}

	resp = env.do(t, "GET", "/api/runs/"+id+"/report", "")
	body, _ := io.ReadAll(resp.Body)
	if resp.Header.Get("Content-Type") != "text/markdown; charset=utf-8" || string(body) != "# Report" {
		t.Errorf("unexpected report response: %s %q", resp.Header.Get("Content-Type"), body)
	}

	var list []map[string]any
	decode(t, env.do(t, "GET", "/api/runs", ""), &list)
	if len(list) != 1 || list[0]["message_count"] != float64(3) {
		t.Errorf("unexpected list: %v", list)
	}

	if resp := env.do(t, "POST", "/api/runs/"+id+"/cancel", ""); resp.StatusCode != http.StatusConflict {
		t.Errorf("cancel finished run: expected 409, got %d", resp.StatusCode)
	}
	if resp := env.do(t, "DELETE", "/api/runs/"+id, ""); resp.StatusCode != http.StatusOK {
		t.Errorf("delete: expected 200, got %d", resp.StatusCode)
	}
	if resp := env.do(t, "GET", "/api/runs/"+id, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("deleted run: expected 404, got %d", resp.StatusCode)
	}
}

func TestSchedulesAPI(t *testing.T) {
	env := newTestEnv(t, "")

	if resp := env.do(t, "POST", "/api/schedules", `{"schedule": "nope", "niche": "pets"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid schedule: expected 400, got %d", resp.StatusCode)
	}

	resp := env.do(t, "POST", "/api/schedules", `{"name": "weekly", "schedule": "0 9 * * 1", "niche": "pet grooming"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var sch map[string]any
	decode(t, resp, &sch)
	id := sch["id"].(string)
	if sch["enabled"] != true || sch["schedule_display"] != "cron 0 9 * * 1" {
		t.Errorf("unexpected schedule: %v", sch)
	}

	var updated map[string]any
	decode(t, env.do(t, "PUT", "/api/schedules/"+id, `{"enabled": false, "schedule": "every 12h"}`), &updated)
	if updated["enabled"] != false || updated["schedule_display"] != "every 12 hours" {
		t.Errorf("unexpected update: %v", updated)
	}

	if resp := env.do(t, "PUT", "/api/schedules/missing", `{}`); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing schedule: expected 404, got %d", resp.StatusCode)
	}

	env.do(t, "DELETE", "/api/schedules/"+id, "")
	var list []map[string]any
	decode(t, env.do(t, "GET", "/api/schedules", ""), &list)
	if len(list) != 0 {
		t.Errorf("expected no schedules, got %v", list)
	}
}

func TestGraphAndStatus(t *testing.T) {
	env := newTestEnv(t, "")

	var g map[string]any
	decode(t, env.do(t, "GET", "/api/graph", ""), &g)
	mermaid, _ := g["mermaid"].(string)
	if !strings.HasPrefix(mermaid, "graph TD;") || !strings.Contains(mermaid, "market") {
		t.Errorf("unexpected mermaid: %q", mermaid)
	}

	var status map[string]any
	decode(t, env.do(t, "GET", "/api/status", ""), &status)
	if status["status"] != "ok" || status["version"] != "test" || status["nats"] != "disabled" {
		t.Errorf("unexpected status: %v", status)
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, "s3cret")

	if resp := env.do(t, "GET", "/api/runs", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without auth, got %d", resp.StatusCode)
	}
	if resp := env.do(t, "POST", "/api/login", `{"password": "wrong"}`); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong password, got %d", resp.StatusCode)
	}

	resp := env.do(t, "POST", "/api/login", `{"password": "s3cret"}`)
	var session *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName {
			session = c
		}
	}
	if session == nil {
		t.Fatal("expected session cookie")
	}

	req, _ := http.NewRequest("GET", env.http.URL+"/api/runs", nil)
	req.AddCookie(session)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with session, got %d", resp2.StatusCode)
	}

	req, _ = http.NewRequest("GET", env.http.URL+"/api/status", nil)
	req.SetBasicAuth("", "s3cret")
	resp3, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with basic auth, got %d", resp3.StatusCode)
	}
}

func TestWebSocketRunFilter(t *testing.T) {
	env := newTestEnv(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.srv.hub.Run(ctx)

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/ws"
	all, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer all.Close()
	one, _, err := websocket.DefaultDialer.Dial(wsURL+"?run=r2", nil)
	if err != nil {
		t.Fatalf("dial filtered: %v", err)
	}
	defer one.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.srv.hub.Len() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	env.srv.hub.Broadcast(natsbus.NewRunEvent(natsbus.EventRunRouted, "r1", nil))
	env.srv.hub.Broadcast(natsbus.NewRunEvent(natsbus.EventRunRouted, "r2", nil))

	read := func(c *websocket.Conn) natsbus.Event {
		t.Helper()
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		var e natsbus.Event
		if err := c.ReadJSON(&e); err != nil {
			t.Fatalf("read: %v", err)
		}
		return e
	}

	if e := read(all); e.RunID != "r1" {
		t.Errorf("unfiltered client: expected r1 first, got %s", e.RunID)
	}
	if e := read(all); e.RunID != "r2" {
		t.Errorf("unfiltered client: expected r2, got %s", e.RunID)
	}
	if e := read(one); e.RunID != "r2" {
		t.Errorf("filtered client: expected only r2, got %s", e.RunID)
	}
}
