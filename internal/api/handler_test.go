//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/catalyze/internal/domain"
	"github.com/ashureev/catalyze/internal/generation"
	"github.com/ashureev/catalyze/internal/identity"
	"github.com/ashureev/catalyze/internal/router"
	"github.com/ashureev/catalyze/internal/store"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

type fakeRouter struct {
	mu      sync.Mutex
	queries []domain.Query
}

func (f *fakeRouter) Process(_ context.Context, q domain.Query) domain.RouterResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return domain.RouterResult{Success: true, Response: "echo: " + q.Text, Intent: "research", Confidence: 0.9, ThreadID: q.Context.ThreadID}
}

func (f *fakeRouter) Status() router.Status {
	return router.Status{Router: "active", IntentClassifier: "active", Handlers: map[string]string{"research": "available"}}
}

type fakePipeline struct {
	req generation.Request
}

func (f *fakePipeline) Run(_ context.Context, req generation.Request, observe generation.Observer) (*domain.GenerationSession, error) {
	f.req = req
	s := domain.NewGenerationSession("gen-42", req.Instructions, req.Platform, 3)
	for _, a := range []domain.GenerationAttempt{
		{Code: "bad", Validation: domain.NewValidationResult([]string{"missing tiprack"}, nil, nil)},
		{Code: "good", Validation: domain.NewValidationResult(nil, nil, nil)},
	} {
		if err := s.Append(a); err != nil {
			return s, err
		}
		if observe != nil {
			observe(s.Attempts[len(s.Attempts)-1])
		}
	}
	_ = s.Finish(domain.StatusSuccess, "")
	return s, nil
}

func (f *fakePipeline) MaxRetries() int { return 3 }

type fakeStore struct {
	sessions map[string]*domain.GenerationSession
	threads  map[string]bool
}

func (f *fakeStore) GetGenerationSession(_ context.Context, id string) (*domain.GenerationSession, error) {
	if s, ok := f.sessions[id]; ok {
		return s, nil
	}
	return nil, store.ErrSessionNotFound
}

func (f *fakeStore) Clear(_ context.Context, id string) error {
	if !f.threads[id] {
		return store.ErrThreadNotFound
	}
	delete(f.threads, id)
	return nil
}

type testServer struct {
	router   *fakeRouter
	pipeline *fakePipeline
	store    *fakeStore
	handler  http.Handler
}

func newTestServer(t *testing.T, limiter *RateLimiter) *testServer {
	t.Helper()
	ts := &testServer{
		router:   &fakeRouter{},
		pipeline: &fakePipeline{},
		store: &fakeStore{
			sessions: map[string]*domain.GenerationSession{"gen-1": domain.NewGenerationSession("gen-1", "x", domain.PlatformOT2, 3)},
			threads:  map[string]bool{"thread-1": true},
		},
	}
	h := NewHandler(Options{
		Router:         ts.router,
		Pipeline:       ts.pipeline,
		Sessions:       ts.store,
		Threads:        ts.store,
		Limiter:        limiter,
		MaxBodyBytes:   1024,
		AllowedOrigins: []string{"*"},
	})
	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	h.RegisterRoutes(r)
	ts.handler = r
	return ts
}

func (ts *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func TestHandleChat(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodPost, "/api/chat", `{"query":"  What is caffeine?  ","context":{"platform_hint":"flex"}}`,
		map[string]string{identity.ThreadHeaderName: "thread-9"})
	require.Equal(t, http.StatusOK, w.Code)

	var res domain.RouterResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, "echo: What is caffeine?", res.Response)
	assert.Equal(t, "thread-9", res.ThreadID)

	require.Len(t, ts.router.queries, 1)
	assert.Equal(t, "flex", ts.router.queries[0].Context.PlatformHint)
}

func TestHandleChatRejectsBadBodies(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/chat", `{`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/chat", `{"query":"   "}`, nil).Code)

	big := `{"query":"` + strings.Repeat("a", 2048) + `"}`
	assert.Equal(t, http.StatusRequestEntityTooLarge, ts.do(http.MethodPost, "/api/chat", big, nil).Code)
	assert.Empty(t, ts.router.queries)
}

func TestHandleChatRateLimited(t *testing.T) {
	limiter := NewRateLimiter(0.001, 1, time.Minute)
	defer limiter.Close()
	ts := newTestServer(t, limiter)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/chat", `{"query":"q"}`, nil).Code)
	w := ts.do(http.MethodPost, "/api/chat", `{"query":"q"}`, map[string]string{identity.ThreadHeaderName: "rotated"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestHandleGenerateStream(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodPost, "/api/generate/stream", `{"instructions":"transfer 50uL A1 to B1 on the flex","max_retries":2}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	assert.Equal(t, domain.PlatformFlex, ts.pipeline.req.Platform)
	assert.Equal(t, 2, ts.pipeline.req.MaxRetries)

	var events []string
	var lastData string
	sc := bufio.NewScanner(w.Body)
	for sc.Scan() {
		line := sc.Text()
		if ev, ok := strings.CutPrefix(line, "event: "); ok {
			events = append(events, ev)
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			lastData = data
		}
	}
	assert.Equal(t, []string{"attempt", "attempt", "result"}, events)

	var s domain.GenerationSession
	require.NoError(t, json.Unmarshal([]byte(lastData), &s))
	assert.Equal(t, domain.StatusSuccess, s.Status)
	assert.Len(t, s.Attempts, 2)
}

func TestHandleGenerateStreamValidation(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/generate/stream", `{"instructions":""}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/generate/stream", `{"instructions":"x","max_retries":99}`, nil).Code)

	w := ts.do(http.MethodPost, "/api/generate/stream", `{"instructions":"transfer 10uL"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, -1, ts.pipeline.req.MaxRetries)
	assert.Equal(t, domain.PlatformOT2, ts.pipeline.req.Platform)
}

func TestHandleGetGeneration(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodGet, "/api/generations/gen-1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"gen-1"`)

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/generations/missing", "", nil).Code)
}

func TestHandleDeleteThread(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodDelete, "/api/threads/thread-1", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, "/api/threads/thread-1", "", nil).Code)
}

func TestHandleStatus(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodGet, "/api/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st router.Status
	require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
	assert.Equal(t, "available", st.Handlers["research"])
}

func TestWebSocketChat(t *testing.T) {
	ts := newTestServer(t, nil)
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/chat?thread_id=ws-thread", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	roundTrip := func(frame string) wsReply {
		t.Helper()
		require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(frame)))
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var reply wsReply
		require.NoError(t, json.Unmarshal(data, &reply))
		return reply
	}

	assert.Equal(t, "pong", roundTrip(`{"type":"ping"}`).Type)

	reply := roundTrip(`{"type":"query","query":"Is acetone flammable?"}`)
	require.Equal(t, "result", reply.Type)
	require.NotNil(t, reply.Result)
	assert.Equal(t, "echo: Is acetone flammable?", reply.Result.Response)
	assert.Equal(t, "ws-thread", reply.Result.ThreadID)

	assert.Equal(t, "error", roundTrip(`not json`).Type)
	assert.Equal(t, "error", roundTrip(`{"type":"query","query":""}`).Type)
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	rl := NewRateLimiter(10, 1, time.Hour)
	defer rl.Close()

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))
	assert.Equal(t, 2, rl.size())

	rl.evict(time.Now().Add(time.Second))
	assert.Equal(t, 0, rl.size())
}

func TestOriginPatterns(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"*"}, originPatterns([]string{"https://a.example.com", "*"}))
	assert.Equal(t, []string{"lab.example.com", "localhost:5173"}, originPatterns([]string{"https://lab.example.com", "http://localhost:5173"}))
}
