package http

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/DocRefine/backend/internal/domain/document"
	"github.com/GriffinCanCode/DocRefine/backend/internal/domain/jobs"
	"github.com/GriffinCanCode/DocRefine/backend/internal/domain/orchestrator"
	"github.com/GriffinCanCode/DocRefine/backend/internal/domain/suggestion"
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/cache"
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/DocRefine/backend/internal/providers/completion"
	"github.com/GriffinCanCode/DocRefine/backend/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiFixture struct {
	engine   *gin.Engine
	client   *testutil.MockCompletionClient
	breakers *resilience.Registry
	metrics  *monitoring.Metrics
}

func newAPI(t *testing.T, opts ...Option) *apiFixture {
	t.Helper()
	logger := zap.NewNop()

	client := new(testutil.MockCompletionClient)
	breakers := resilience.NewRegistry(resilience.Settings{Threshold: 5, Timeout: time.Minute}, nil)
	runner := jobs.NewRunner(jobs.NewStore(time.Hour, logger), jobs.RunnerConfig{Workers: 2, QueueSize: 8}, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runner.Shutdown(ctx)
	})

	res := orchestrator.Resilience{
		Breakers: breakers,
		Cache:    cache.New(cache.Options{MaxEntries: 100}, nil, logger),
		Jobs:     runner,
		Retry:    resilience.Policy{BackoffBase: time.Millisecond, Jitter: resilience.NoJitter},
	}
	metrics := monitoring.NewMetrics()

	router, err := orchestrator.NewRouter(orchestrator.Config{AsyncThresholdBytes: 2000}, res,
		suggestion.NewEngine(client, nil, suggestion.Config{}, logger), logger,
		orchestrator.WithObserver(metrics))
	require.NoError(t, err)

	engine := gin.New()
	engine.Use(monitoring.Middleware(metrics))
	NewHandlers(router, document.NewExtractor(10_000), metrics, logger, opts...).Register(engine)

	return &apiFixture{engine: engine, client: client, breakers: breakers, metrics: metrics}
}

func (f *apiFixture) do(method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errorKind(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, w)
	e, ok := body["error"].(map[string]interface{})
	require.True(t, ok, w.Body.String())
	return e["kind"].(string)
}

func (f *apiFixture) waitForStatus(t *testing.T, jobID string, status jobs.Status) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.Eventually(t, func() bool {
		w := f.do(http.MethodGet, "/v1/jobs/"+jobID, "", "")
		if w.Code != http.StatusOK {
			return false
		}
		body = nil
		if err := sonic.Unmarshal(w.Body.Bytes(), &body); err != nil {
			return false
		}
		return body["status"] == string(status)
	}, 5*time.Second, 10*time.Millisecond)
	return body
}

func TestSuggestInline(t *testing.T) {
	f := newAPI(t)
	f.client.On("Complete", mock.Anything, mock.Anything).Return(testutil.SuggestionList(2), nil)

	w := f.do(http.MethodPost, "/v1/suggestions", "application/json",
		`{"mode":"enhance","content":"The memo was written by the team.","options":{"tone":"formal"}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "enhance", body["mode"])
	assert.Equal(t, false, body["cache_hit"])
	assert.Equal(t, orchestrator.StrategyPrimary, body["strategy"])
	assert.Len(t, body["suggestions"], 2)

	w = f.do(http.MethodPost, "/v1/suggestions", "application/json",
		`{"mode":"enhance","content":"The memo was written by the team.","options":{"tone":"formal"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["cache_hit"])
}

func TestSuggestErrors(t *testing.T) {
	f := newAPI(t)

	tests := []struct {
		name   string
		body   string
		status int
		kind   string
	}{
		{"malformed json", `{"mode":`, http.StatusBadRequest, "invalid_request"},
		{"missing content", `{"mode":"fast"}`, http.StatusBadRequest, "invalid_request"},
		{"blank content", `{"mode":"fast","content":"   "}`, http.StatusBadRequest, "invalid_request"},
		{"unknown mode", `{"mode":"turbo","content":"x"}`, http.StatusBadRequest, "unknown_mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/v1/suggestions", "application/json", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.kind, errorKind(t, w))
		})
	}

	w := f.do(http.MethodPost, "/v1/suggestions", "application/json", `{"mode":"turbo","content":"x"}`)
	supported := decode(t, w)["error"].(map[string]interface{})["supported"]
	assert.Equal(t, []interface{}{"fast", "enhance", "document", "optimize"}, supported)
}

func TestSuggestAsyncJobLifecycle(t *testing.T) {
	f := newAPI(t)
	f.client.On("Complete", mock.Anything, mock.Anything).Return(testutil.SuggestionList(1), nil)

	content := testutil.LargeDocument(2500)
	payload, err := sonic.Marshal(map[string]interface{}{"mode": "fast", "content": content})
	require.NoError(t, err)

	w := f.do(http.MethodPost, "/v1/suggestions", "application/json", string(payload))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	body := decode(t, w)
	jobID := body["job_id"].(string)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, "/v1/jobs/"+jobID, w.Header().Get("Location"))

	job := f.waitForStatus(t, jobID, jobs.StatusCompleted)
	assert.Nil(t, job["error"])
	require.NotNil(t, job["result"])
	assert.EqualValues(t, 100, job["progress_pct"])

	w = f.do(http.MethodPost, "/v1/jobs/"+jobID+"/cancel", "", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "job_terminal", errorKind(t, w))
}

func TestJobNotFound(t *testing.T) {
	f := newAPI(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/jobs/nope"},
		{http.MethodPost, "/v1/jobs/nope/cancel"},
		{http.MethodGet, "/v1/jobs/nope/events"},
	} {
		w := f.do(tc.method, tc.path, "", "")
		assert.Equal(t, http.StatusNotFound, w.Code, tc.path)
		assert.Equal(t, "job_not_found", errorKind(t, w))
	}
}

func TestCancelJob(t *testing.T) {
	f := newAPI(t)
	started := make(chan struct{}, 1)
	f.client.On("Complete", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			select {
			case started <- struct{}{}:
			default:
			}
			<-args.Get(0).(context.Context).Done()
		}).
		Return("", context.Canceled)

	w := f.do(http.MethodPost, "/v1/suggestions", "application/json", `{"mode":"document","content":"Long running."}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := decode(t, w)["job_id"].(string)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not start")
	}

	w = f.do(http.MethodPost, "/v1/jobs/"+jobID+"/cancel", "", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, true, decode(t, w)["cancel_requested"])

	job := f.waitForStatus(t, jobID, jobs.StatusFailed)
	assert.Equal(t, jobs.ErrCancelled.Error(), job["error"])
}

func TestSubmitDocument(t *testing.T) {
	f := newAPI(t)
	f.client.On("Complete", mock.Anything, mock.Anything).Return(testutil.SuggestionList(1), nil)

	html := `<html><head><title>Policy</title><script>x()</script></head><body><p>Staff must file reports weekly.</p></body></html>`
	w := f.do(http.MethodPost, "/v1/documents?tone=plain", "text/html; charset=utf-8", html)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	body := decode(t, w)
	doc := body["document"].(map[string]interface{})
	assert.Equal(t, "Policy", doc["title"])
	assert.Equal(t, "text/html", doc["media_type"])

	resp := body["response"].(map[string]interface{})
	assert.Equal(t, "document", resp["mode"])
	f.waitForStatus(t, resp["job_id"].(string), jobs.StatusCompleted)
}

func TestSubmitDocumentRejections(t *testing.T) {
	f := newAPI(t)

	png := string([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'})
	tests := []struct {
		name   string
		body   string
		status int
		kind   string
	}{
		{"empty", "  \n ", http.StatusBadRequest, "invalid_request"},
		{"binary", png, http.StatusUnsupportedMediaType, "unsupported_media_type"},
		{"too large", strings.Repeat("a", 10_001), http.StatusRequestEntityTooLarge, "payload_too_large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/v1/documents", "", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.kind, errorKind(t, w))
		})
	}
}

func TestJobEventsStream(t *testing.T) {
	f := newAPI(t, WithHeartbeat(time.Hour))
	f.client.On("Complete", mock.Anything, mock.Anything).Return(testutil.SuggestionList(1), nil)

	srv := httptest.NewServer(f.engine)
	defer srv.Close()

	w := f.do(http.MethodPost, "/v1/suggestions", "application/json", `{"mode":"document","content":"Stream me."}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := decode(t, w)["job_id"].(string)

	resp, err := http.Get(srv.URL + "/v1/jobs/" + jobID + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event:"); ok {
			events = append(events, strings.TrimSpace(name))
		}
	}
	require.NotEmpty(t, events)
	assert.Equal(t, "progress", events[0])
	assert.Equal(t, "complete", events[len(events)-1])
}

func TestHealth(t *testing.T) {
	f := newAPI(t, WithCheck("vector-search", func(context.Context) error { return errors.New("connection refused") }))

	w := f.do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, StatusDegraded, body["status"])
	deps := body["dependencies"].(map[string]interface{})
	assert.Equal(t, false, deps["vector-search"].(map[string]interface{})["healthy"])
}

func TestHealthReportsOpenBreaker(t *testing.T) {
	f := newAPI(t)

	w := f.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, StatusHealthy, decode(t, w)["status"])

	b := f.breakers.Get(completion.Dependency)
	for i := 0; i < 5; i++ {
		_, _ = resilience.Call(context.Background(), b, func(context.Context) (int, error) {
			return 0, errors.New("down")
		})
	}

	w = f.do(http.MethodGet, "/health", "", "")
	body := decode(t, w)
	assert.Equal(t, StatusDegraded, body["status"])
	breakers := body["breakers"].([]interface{})
	require.Len(t, breakers, 1)
	assert.Equal(t, "open", breakers[0].(map[string]interface{})["state"])
}

func TestStatsAndMetrics(t *testing.T) {
	f := newAPI(t)
	f.client.On("Complete", mock.Anything, mock.Anything).Return(testutil.SuggestionList(1), nil)

	for i := 0; i < 2; i++ {
		f.do(http.MethodPost, "/v1/suggestions", "application/json", `{"mode":"fast","content":"Same text."}`)
	}

	w := f.do(http.MethodGet, "/v1/stats", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	requests := body["requests"].(map[string]interface{})
	assert.EqualValues(t, 2, requests["total_requests"])
	assert.EqualValues(t, 1, requests["cache_hits"])
	assert.EqualValues(t, 0.5, body["summary"].(map[string]interface{})["cache_hit_rate"])

	w = f.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `docrefine_routed_requests_total{mode="fast",outcome="ok",path="cache"} 1`)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind orchestrator.Kind
		want int
	}{
		{orchestrator.KindInvalidRequest, http.StatusBadRequest},
		{orchestrator.KindUnknownMode, http.StatusBadRequest},
		{orchestrator.KindBreakerOpen, http.StatusServiceUnavailable},
		{orchestrator.KindRetryExhausted, http.StatusBadGateway},
		{orchestrator.KindFallbackExhausted, http.StatusServiceUnavailable},
		{orchestrator.KindTimeout, http.StatusGatewayTimeout},
		{orchestrator.KindCancelled, StatusClientClosedRequest},
		{orchestrator.KindJobNotFound, http.StatusNotFound},
		{orchestrator.KindJobTerminal, http.StatusConflict},
		{orchestrator.KindQueueFull, http.StatusServiceUnavailable},
		{orchestrator.KindWorkerFault, http.StatusInternalServerError},
		{orchestrator.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.kind))
		})
	}
}

func TestErrorBodyHidesInternalDetail(t *testing.T) {
	status, body := ErrorBody(fmt.Errorf("db password is hunter2: %w", errors.New("boom")))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal error", body["error"].(gin.H)["message"])
}
