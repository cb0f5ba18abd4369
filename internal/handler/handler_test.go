package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbit-ai/chat-with-data/internal/llm"
	"github.com/flowbit-ai/chat-with-data/internal/model"
	"github.com/flowbit-ai/chat-with-data/internal/service"
	"github.com/flowbit-ai/chat-with-data/internal/store"
	"github.com/flowbit-ai/chat-with-data/pkg/logger"
)

// stubUpstream answers every question with the same result. When gate is
// set, Probe blocks until it is closed.
type stubUpstream struct {
	mu       sync.Mutex
	gate     chan struct{}
	probeErr error
	result   *model.QueryResult
	full     []model.Row
}

func (s *stubUpstream) Probe(ctx context.Context) (*model.HealthStatus, error) {
	s.mu.Lock()
	gate, err := s.gate, s.probeErr
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &model.HealthStatus{OK: true, StatusCode: http.StatusOK}, nil
}

func (s *stubUpstream) Diagnose(ctx context.Context) *model.HealthStatus {
	if _, err := s.Probe(ctx); err != nil {
		return &model.HealthStatus{URL: s.BaseURL() + "/health", Error: err.Error()}
	}
	return &model.HealthStatus{OK: true, StatusCode: http.StatusOK, URL: s.BaseURL() + "/health", Body: "ok"}
}

func (s *stubUpstream) Query(_ context.Context, _ string, fetchAll bool) (*model.QueryResult, error) {
	if fetchAll {
		return &model.QueryResult{SQL: s.result.SQL, Rows: s.full}, nil
	}
	return s.result, nil
}

func (s *stubUpstream) BaseURL() string     { return "http://localhost:8000" }
func (s *stubUpstream) ServiceName() string { return "Vanna AI" }
func (s *stubUpstream) ErrorPrefix() string { return "Vanna AI service error:" }

type stubLLM struct{}

func (stubLLM) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Content: "Lists vendors.", Model: "stub"}, nil
}

func (stubLLM) Name() string { return "stub" }

func rows(t *testing.T, raw string) []model.Row {
	t.Helper()
	var out []model.Row
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

func newUpstream(t *testing.T) *stubUpstream {
	return &stubUpstream{
		result: &model.QueryResult{
			SQL:  "SELECT vendor, total FROM invoices",
			Rows: rows(t, `[{"vendor":"Acme","total":"100"}]`),
		},
		full: rows(t, `[{"vendor":"Acme","total":"100"},{"vendor":"Beta","total":"50"}]`),
	}
}

type testEnv struct {
	chat   *service.ChatService
	router http.Handler
}

func newEnv(t *testing.T, up *stubUpstream, restore bool, cfg RouterConfig, explainer *service.Explainer) *testEnv {
	t.Helper()
	log := logger.NewNop()

	chat := service.NewChatService(up, store.NewMemory(), nil, service.ChatConfig{Namespace: "test", InlineRows: 50}, log)
	t.Cleanup(chat.Close)
	if restore {
		require.NoError(t, chat.Restore(context.Background()))
	}

	return &testEnv{
		chat:   chat,
		router: NewRouter(cfg, Deps{Chat: chat, Explainer: explainer, Upstream: up, Logger: log}),
	}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestAskWait(t *testing.T) {
	env := newEnv(t, newUpstream(t), true, RouterConfig{}, nil)

	rec := env.do(http.MethodPost, "/api/v1/chat/questions?wait=true", `{"question":"  spend by vendor "}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp model.AskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Accepted)
	assert.Equal(t, string(service.StateIdle), resp.State)
	require.NotNil(t, resp.Turn)
	assert.Equal(t, model.RoleAssistant, resp.Turn.Role)
	assert.Equal(t, "SELECT vendor, total FROM invoices", resp.Turn.SQL)

	rec = env.do(http.MethodGet, "/api/v1/chat/turns", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list model.ListTurnsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 2, list.Total)
	assert.Equal(t, "spend by vendor", list.Turns[0].Content)
	assert.Equal(t, model.RoleAssistant, list.Turns[1].Role)
}

func TestAskValidation(t *testing.T) {
	env := newEnv(t, newUpstream(t), true, RouterConfig{}, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"question":`},
		{"blank", `{"question":"   "}`},
		{"missing", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/v1/chat/questions", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	turns, err := env.chat.Turns()
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestAskBeforeRestore(t *testing.T) {
	env := newEnv(t, newUpstream(t), false, RouterConfig{}, nil)

	rec := env.do(http.MethodPost, "/api/v1/chat/questions", `{"question":"q"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(http.MethodGet, "/api/v1/chat/turns", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAskAsyncSingleFlight(t *testing.T) {
	up := newUpstream(t)
	up.gate = make(chan struct{})
	env := newEnv(t, up, true, RouterConfig{}, nil)

	rec := env.do(http.MethodPost, "/api/v1/chat/questions", `{"question":"first"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/chat/questions", `{"question":"second"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp model.AskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Accepted)
	assert.Equal(t, string(service.StateAwaitingHealthCheck), resp.State)

	close(up.gate)
	assert.Eventually(t, func() bool {
		return env.chat.Status().Turns == 2
	}, time.Second, 5*time.Millisecond)

	turns, err := env.chat.Turns()
	require.NoError(t, err)
	assert.Equal(t, "first", turns[0].Content)
}

func TestCancelInflight(t *testing.T) {
	up := newUpstream(t)
	up.gate = make(chan struct{})
	env := newEnv(t, up, true, RouterConfig{}, nil)

	rec := env.do(http.MethodDelete, "/api/v1/chat/inflight", "")
	assert.JSONEq(t, `{"cancelled":false}`, rec.Body.String())

	require.Equal(t, http.StatusAccepted, env.do(http.MethodPost, "/api/v1/chat/questions", `{"question":"q"}`).Code)

	rec = env.do(http.MethodDelete, "/api/v1/chat/inflight", "")
	assert.JSONEq(t, `{"cancelled":true}`, rec.Body.String())
	assert.Equal(t, service.StateIdle, env.chat.Status().State)
}

func TestExport(t *testing.T) {
	env := newEnv(t, newUpstream(t), true, RouterConfig{}, nil)

	rec := env.do(http.MethodGet, "/api/v1/chat/export", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/v1/chat/questions?wait=true", `{"question":"spend by vendor"}`).Code)

	rec = env.do(http.MethodGet, "/api/v1/chat/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="results.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, service.SourceRefetch, rec.Header().Get("X-Export-Source"))
	assert.Equal(t, "vendor,total\nAcme,100\nBeta,50\n", rec.Body.String())
}

func TestClear(t *testing.T) {
	env := newEnv(t, newUpstream(t), true, RouterConfig{}, nil)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/v1/chat/questions?wait=true", `{"question":"q"}`).Code)

	rec := env.do(http.MethodDelete, "/api/v1/chat", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodGet, "/api/v1/chat/state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status service.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Ready)
	assert.Equal(t, 0, status.Turns)
}

func TestContextAndExplain(t *testing.T) {
	t.Run("without provider", func(t *testing.T) {
		env := newEnv(t, newUpstream(t), true, RouterConfig{}, nil)

		rec := env.do(http.MethodPost, "/api/v1/chat/explain", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)

		require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/v1/chat/questions?wait=true", `{"question":"q"}`).Code)

		rec = env.do(http.MethodPost, "/api/v1/chat/explain", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("with provider", func(t *testing.T) {
		explainer := service.NewExplainer(stubLLM{}, "", logger.NewNop())
		env := newEnv(t, newUpstream(t), true, RouterConfig{}, explainer)
		require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/v1/chat/questions?wait=true", `{"question":"q"}`).Code)

		rec := env.do(http.MethodGet, "/api/v1/chat/context", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var c model.ContextResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
		assert.Equal(t, "SELECT vendor, total FROM invoices", c.SQL)
		assert.Equal(t, service.QuickActions, c.Actions)

		rec = env.do(http.MethodPost, "/api/v1/chat/explain", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp model.ExplainResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Lists vendors.", resp.Explanation)
		assert.Equal(t, c.SQL, resp.SQL)
	})
}

func TestHealthAndReady(t *testing.T) {
	up := newUpstream(t)
	env := newEnv(t, up, false, RouterConfig{}, nil)

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, env.do(http.MethodGet, "/ready", "").Code)

	require.NoError(t, env.chat.Restore(context.Background()))
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/ready", "").Code)

	up.mu.Lock()
	up.probeErr = errors.New("connection refused")
	up.mu.Unlock()

	rec := env.do(http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "upstream unavailable")

	rec = env.do(http.MethodGet, "/api/v1/debug/upstream", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status model.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.OK)
	assert.Equal(t, "connection refused", status.Error)
}

func TestAuthEnabled(t *testing.T) {
	env := newEnv(t, newUpstream(t), true, RouterConfig{JWTSecret: "secret"}, nil)

	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/v1/chat/turns", "").Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/health", "").Code)
}

func TestStream(t *testing.T) {
	env := newEnv(t, newUpstream(t), true, RouterConfig{Heartbeat: time.Hour}, nil)
	_, _, err := env.chat.Ask(context.Background(), "before")
	require.NoError(t, err)

	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/chat/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 16)
	go func() {
		defer close(events)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
				events <- name
			}
		}
	}()

	next := func() string {
		select {
		case ev := <-events:
			return ev
		case <-time.After(2 * time.Second):
			return "timeout"
		}
	}

	assert.Equal(t, "connected", next())
	assert.Equal(t, "turn", next())
	assert.Equal(t, "turn", next())
	assert.Equal(t, "replay_complete", next())

	require.NoError(t, env.chat.Clear(context.Background()))
	assert.Equal(t, "cleared", next())

	_, _, err = env.chat.Ask(context.Background(), "after")
	require.NoError(t, err)
	assert.Equal(t, "turn", next())
	assert.Equal(t, "turn", next())
}

func TestStreamOutlivesWriteTimeout(t *testing.T) {
	const writeTimeout = 300 * time.Millisecond
	env := newEnv(t, newUpstream(t), true, RouterConfig{Heartbeat: 50 * time.Millisecond}, nil)

	srv := httptest.NewUnstartedServer(env.router)
	srv.Config.WriteTimeout = writeTimeout
	srv.Start()
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/chat/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	start := time.Now()
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if sc.Text() == "event: heartbeat" && time.Since(start) > 2*writeTimeout {
			return
		}
	}
	t.Fatalf("stream ended after %s: %v", time.Since(start), sc.Err())
}
