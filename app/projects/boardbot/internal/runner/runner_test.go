package runner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/components/http_client"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/cache"
	bizConfig "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/config"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/errs"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/model"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/publisher"
	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

const chatFlow = `{"data":{"nodes":[{"id":"ChatInput-1","data":{"node":{"template":{"input_value":{"value":""}}}}}]}}`

var (
	projectP = snowflake.ID(101)
	cardC    = snowflake.ID(202)
	botB     = snowflake.ID(303)
)

type stubBots map[snowflake.ID]*model.Bot

func (s stubBots) Get(_ context.Context, id snowflake.ID) (*model.Bot, error) {
	b, ok := s[id]
	if !ok {
		return nil, errs.NotFound("bot.get", "bot %s", id)
	}
	return b, nil
}

func (s stubBots) GetMany(_ context.Context, ids []snowflake.ID) (map[snowflake.ID]*model.Bot, error) {
	out := map[snowflake.ID]*model.Bot{}
	for _, id := range ids {
		if b, ok := s[id]; ok {
			out[id] = b
		}
	}
	return out, nil
}

type memLogs struct {
	mu   sync.Mutex
	logs map[snowflake.ID]*model.BotLog
}

func (m *memLogs) Create(_ context.Context, l *model.BotLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.logs == nil {
		m.logs = map[snowflake.ID]*model.BotLog{}
	}
	if l.ID.IsZero() {
		l.ID = snowflake.Next()
	}
	c := *l
	m.logs[l.ID] = &c
	return nil
}

func (m *memLogs) Finish(_ context.Context, id snowflake.ID, status model.BotLogStatus, message string, records model.JSONList) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[id]
	if !ok {
		return errs.NotFound("bot_log.finish", "%s", id)
	}
	l.Status, l.Message, l.Records = status, message, records
	return nil
}

func (m *memLogs) get(id snowflake.ID) model.BotLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.logs[id]
}

type recPub struct {
	mu     sync.Mutex
	frames []publisher.Frame
}

func (p *recPub) Put(_ context.Context, data map[string]any, models ...publisher.PublishModel) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range models {
		p.frames = append(p.frames, publisher.Project(data, m))
	}
	return "k"
}

func (p *recPub) all() []publisher.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publisher.Frame(nil), p.frames...)
}

type fixture struct {
	runner *Runner
	logs   *memLogs
	pub    *recPub
	bots   stubBots
}

func newFixture(t *testing.T, flows FlowClient, cfg bizConfig.BotConfig) *fixture {
	t.Helper()
	c, err := cache.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	f := &fixture{
		logs: &memLogs{},
		pub:  &recPub{},
		bots: stubBots{botB: {Base: model.Base{ID: botB}, Name: "helper", Platform: model.BotPlatformLangflow, FlowJSON: chatFlow}},
	}
	f.runner = NewWith(cfg, c, f.bots, f.logs, f.pub, flows)
	return f
}

func httpFlows(t *testing.T, url string, trials int) *HTTPFlowClient {
	t.Helper()
	ic := http_client.NewInstrumentedClient("flows", &http_client.HTTPClientConfig{BaseURL: url})
	fc := NewHTTPFlowClient(ic, bizConfig.BotConfig{AIRequestTimeout: 5, AIRequestTrials: trials})
	fc.base = time.Millisecond
	fc.max = 5 * time.Millisecond
	return fc
}

func cardRequest() Request {
	return Request{BotID: botB, ProjectID: projectP, TargetType: model.ScopeCard, TargetID: cardC}
}

func TestStreamCancelledAfterOneEventClearsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: add_message\ndata: {\"text\":\"hello\"}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	f := newFixture(t, httpFlows(t, srv.URL, 1), bizConfig.BotConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var events []Event
	res, err := f.runner.Stream(ctx, cardRequest(), func(ev Event) error {
		events = append(events, ev)
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, events, 1)
	assert.Equal(t, "hello", events[0].Data["text"])

	assert.Eventually(t, func() bool {
		return len(f.runner.Status().Bots(context.Background(), projectP, model.ScopeCard, cardC)) == 0
	}, time.Second, 10*time.Millisecond)

	frames := f.pub.all()
	require.Len(t, frames, 2)
	assert.Equal(t, "running", frames[0].Data["status"])
	last := frames[1]
	assert.Equal(t, publisher.TopicBoard, last.Topic)
	assert.Equal(t, projectP.String(), last.TopicID)
	assert.Equal(t, "board:bot:status:changed:"+projectP.String(), last.Event)
	assert.Equal(t, map[string]any{"bot_uid": botB, "card_uid": cardC, "status": "stopped"}, last.Data)

	assert.Equal(t, model.BotLogError, f.logs.get(res.LogID).Status)
}

func TestRunToCompletionAppliesTweaks(t *testing.T) {
	var seen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen.Store(string(body))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"outputs":{"text":"done"}}`)
	}))
	defer srv.Close()

	f := newFixture(t, httpFlows(t, srv.URL, 1), bizConfig.BotConfig{})
	f.bots[botB].APIKey = "secret"
	req := cardRequest()
	req.Tweaks = map[string]any{"ChatInput-1": map[string]any{"input_value": "summarise"}}
	req.Payload = map[string]any{"card_uid": cardC}

	res, err := f.runner.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "done"}, res.Outputs["outputs"])

	body := seen.Load().(string)
	assert.Equal(t, "summarise", gjson.Get(body, "flow.data.nodes.0.data.node.template.input_value.value").String())
	assert.Equal(t, cardC.String(), gjson.Get(body, "inputs.payload.card_uid").String())
	assert.Equal(t, model.BotLogSuccess, f.logs.get(res.LogID).Status)
	assert.Empty(t, f.runner.Status().Bots(context.Background(), projectP, model.ScopeCard, cardC))
}

func TestPlatformFailureIsRetriedThenLogged(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "flow crashed", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newFixture(t, httpFlows(t, srv.URL, 3), bizConfig.BotConfig{})
	res, err := f.runner.Run(context.Background(), cardRequest())
	require.ErrorIs(t, err, errs.ErrPlatform)
	assert.Equal(t, http.StatusInternalServerError, errs.HTTPStatus(err))
	assert.EqualValues(t, 3, hits.Load())

	l := f.logs.get(res.LogID)
	assert.Equal(t, model.BotLogError, l.Status)
	assert.Contains(t, l.Message, "502")
	assert.Empty(t, f.runner.Status().Bots(context.Background(), projectP, model.ScopeCard, cardC))
}

func TestStreamErrorEventEndsRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: token\ndata: {\"chunk\":\"a\"}\n\n")
		fmt.Fprint(w, "event: error\ndata: {\"message\":\"boom\"}\n\n")
	}))
	defer srv.Close()

	f := newFixture(t, httpFlows(t, srv.URL, 3), bizConfig.BotConfig{})
	var types []string
	_, err := f.runner.Stream(context.Background(), cardRequest(), func(ev Event) error {
		types = append(types, ev.Type)
		return nil
	})
	require.ErrorIs(t, err, errs.ErrPlatform)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []string{"token", "error"}, types)
}

func TestDefaultPlatformLoadsDefaultFlow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"data":{"nodes":[]},"name":"default"}`), 0o644))

	flows := &fakeFlows{}
	f := newFixture(t, flows, bizConfig.BotConfig{DefaultFlowPath: path})
	f.bots[botB].Platform = model.BotPlatformDefault

	_, err := f.runner.Run(context.Background(), cardRequest())
	require.NoError(t, err)
	require.Len(t, flows.calls(), 1)
	assert.Equal(t, "default", gjson.GetBytes(flows.calls()[0].Flow, "name").String())
}

func TestRunErrorsMapToKinds(t *testing.T) {
	flows := &fakeFlows{}
	f := newFixture(t, flows, bizConfig.BotConfig{DefaultFlowPath: filepath.Join(t.TempDir(), "absent.json")})

	_, err := f.runner.Run(context.Background(), Request{BotID: botB})
	assert.Equal(t, 400, errs.HTTPStatus(err))

	missing := cardRequest()
	missing.BotID = snowflake.ID(999)
	_, err = f.runner.Run(context.Background(), missing)
	assert.Equal(t, 404, errs.HTTPStatus(err))

	bad := cardRequest()
	bad.Tweaks = map[string]any{"Nope-1.input_value": "x"}
	_, err = f.runner.Run(context.Background(), bad)
	assert.ErrorIs(t, err, errs.ErrInvalid)

	f.bots[botB].Platform = model.BotPlatformDefault
	_, err = f.runner.Run(context.Background(), cardRequest())
	assert.ErrorIs(t, err, errs.ErrNotFound)

	assert.Empty(t, flows.calls())
	assert.Empty(t, f.runner.Status().Project(context.Background(), projectP))
}

func TestMissingRequiredTweakIsInvalid(t *testing.T) {
	flows := &fakeFlows{}
	f := newFixture(t, flows, bizConfig.BotConfig{})
	f.bots[botB].FlowJSON = `{"data":{"nodes":[{"id":"Prompt-1","data":{"node":{"template":{"topic":{"required":true}}}}}]}}`

	_, err := f.runner.Run(context.Background(), cardRequest())
	require.ErrorIs(t, err, errs.ErrInvalid)
	assert.Contains(t, err.Error(), "Prompt-1.topic")

	req := cardRequest()
	req.Tweaks = map[string]any{"Prompt-1.topic": "release notes"}
	_, err = f.runner.Run(context.Background(), req)
	require.NoError(t, err)
}

func TestConcurrentRunsOfSameBotKeepStatusUntilLast(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	flows := &fakeFlows{block: release, started: started}
	f := newFixture(t, flows, bizConfig.BotConfig{})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.runner.Run(context.Background(), cardRequest())
		}()
	}
	<-started
	<-started
	ctx := context.Background()
	assert.Equal(t, []snowflake.ID{botB}, f.runner.Status().Bots(ctx, projectP, model.ScopeCard, cardC))

	close(release)
	wg.Wait()
	assert.Empty(t, f.runner.Status().Bots(ctx, projectP, model.ScopeCard, cardC))
	require.NoError(t, f.runner.Drain(ctx))
}

type fakeFlows struct {
	mu      sync.Mutex
	seen    []FlowCall
	block   chan struct{}
	started chan struct{}
}

func (f *fakeFlows) record(call FlowCall) {
	f.mu.Lock()
	f.seen = append(f.seen, call)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
}

func (f *fakeFlows) Run(_ context.Context, call FlowCall) (map[string]any, error) {
	f.record(call)
	return map[string]any{"ok": true}, nil
}

func (f *fakeFlows) Stream(_ context.Context, call FlowCall, emit func(Event) error) error {
	f.record(call)
	return emit(Event{Type: EventEnd, Data: map[string]any{}})
}

func (f *fakeFlows) calls() []FlowCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FlowCall(nil), f.seen...)
}
