package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/DocRefine/backend/internal/domain/jobs"
	"github.com/GriffinCanCode/DocRefine/backend/internal/domain/suggestion"
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/cache"
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/DocRefine/backend/internal/providers/completion"
	"github.com/GriffinCanCode/DocRefine/backend/internal/testutil"
)

type routeCall struct {
	mode, path, outcome string
}

type recordingObserver struct {
	mu      sync.Mutex
	routes  []routeCall
	retries int
	shadows []string
}

func (o *recordingObserver) RecordRoute(mode, path, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routes = append(o.routes, routeCall{mode, path, outcome})
}

func (o *recordingObserver) RecordRetry(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
}

func (o *recordingObserver) RecordFallbackStep(string, string, string) {}

func (o *recordingObserver) RecordShadow(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.shadows = append(o.shadows, outcome)
}

type fixture struct {
	router   *Router
	client   *testutil.MockCompletionClient
	cache    *cache.Tiered
	breakers *resilience.Registry
	runner   *jobs.Runner
	observer *recordingObserver
}

type fixtureOptions struct {
	cfg        Config
	threshold  uint32
	maxRetries int
	shadow     func(engine *suggestion.Engine, breakers *resilience.Registry, obs Observer) *Shadow
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	logger := zap.NewNop()

	if opts.threshold == 0 {
		opts.threshold = 5
	}

	client := new(testutil.MockCompletionClient)
	breakers := resilience.NewRegistry(resilience.Settings{Threshold: opts.threshold, Timeout: time.Minute}, nil)
	c := cache.New(cache.Options{MaxEntries: 100}, nil, logger)
	runner := jobs.NewRunner(jobs.NewStore(time.Hour, logger), jobs.RunnerConfig{Workers: 2, QueueSize: 8, JobTimeout: 10 * time.Second}, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runner.Shutdown(ctx)
	})

	res := Resilience{
		Breakers: breakers,
		Cache:    c,
		Jobs:     runner,
		Retry: resilience.Policy{
			MaxRetries:  opts.maxRetries,
			BackoffBase: time.Millisecond,
			Jitter:      resilience.NoJitter,
		},
	}

	engine := suggestion.NewEngine(client, nil, suggestion.Config{}, logger)
	observer := &recordingObserver{}

	routerOpts := []Option{WithObserver(observer)}
	if opts.shadow != nil {
		routerOpts = append(routerOpts, WithShadow(opts.shadow(engine, breakers, observer)))
	}

	router, err := NewRouter(opts.cfg, res, engine, logger, routerOpts...)
	require.NoError(t, err)

	return &fixture{router: router, client: client, cache: c, breakers: breakers, runner: runner, observer: observer}
}

func (f *fixture) waitForJob(t *testing.T, jobID string, status jobs.Status) jobs.Job {
	t.Helper()
	var job jobs.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = f.router.Job(jobID)
		return err == nil && job.Status == status
	}, 5*time.Second, 5*time.Millisecond)
	return job
}

var errUpstream = resilience.Transient(errors.New("upstream 503"))

func TestNewRouterRequiresComponents(t *testing.T) {
	engine := suggestion.NewEngine(new(testutil.MockCompletionClient), nil, suggestion.Config{}, zap.NewNop())
	_, err := NewRouter(Config{}, Resilience{}, engine, zap.NewNop())
	assert.Error(t, err)
}

func TestHandleRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t, fixtureOptions{cfg: Config{MaxContentBytes: 10}})

	tests := []struct {
		name string
		req  Request
		kind Kind
	}{
		{"unknown mode", Request{Mode: "turbo", Content: "x"}, KindUnknownMode},
		{"empty content", Request{Mode: "fast", Content: "   "}, KindInvalidRequest},
		{"too large", Request{Mode: "fast", Content: strings.Repeat("a", 11)}, KindInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.router.Handle(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, Classify(err))
		})
	}
	f.client.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestInlineRetriesThenSucceedsAndCaches(t *testing.T) {
	f := newFixture(t, fixtureOptions{maxRetries: 3})

	f.client.On("Complete", mock.Anything, testutil.TierMatcher(completion.TierPrimary)).Return("", errUpstream).Twice()
	f.client.On("Complete", mock.Anything, testutil.TierMatcher(completion.TierPrimary)).Return(testutil.SuggestionList(2), nil).Once()

	req := Request{Mode: "enhance", Content: "The draft was written quickly."}
	resp, err := f.router.Handle(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, resp.CacheHit)
	assert.Equal(t, StrategyPrimary, resp.Strategy)
	assert.Len(t, resp.Suggestions, 2)
	f.client.AssertNumberOfCalls(t, "Complete", 3)

	snap := f.breakers.Get(completion.Dependency).Snapshot()
	assert.Equal(t, resilience.StateClosed, snap.State)
	assert.Zero(t, snap.FailureCount)
	assert.Equal(t, 2, f.observer.retries)

	// Second identical request is served from cache without a downstream call
	resp, err = f.router.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.CacheHit)
	assert.Equal(t, StrategyCache, resp.Strategy)
	assert.Len(t, resp.Suggestions, 2)
	f.client.AssertNumberOfCalls(t, "Complete", 3)
	assert.Equal(t, uint64(1), f.cache.Stats().Hits)
}

func TestInlineFallsBackToSecondary(t *testing.T) {
	f := newFixture(t, fixtureOptions{maxRetries: 1})

	f.client.On("Complete", mock.Anything, testutil.TierMatcher(completion.TierPrimary)).Return("", errUpstream)
	f.client.On("Complete", mock.Anything, testutil.TierMatcher(completion.TierSecondary)).Return(testutil.SuggestionList(1), nil)

	resp, err := f.router.Handle(context.Background(), Request{Mode: "optimize", Content: "Make this shorter please."})
	require.NoError(t, err)

	assert.Equal(t, StrategySecondary, resp.Strategy)
	assert.Len(t, resp.Suggestions, 1)
	// Primary used its retry, secondary succeeded first time
	f.client.AssertNumberOfCalls(t, "Complete", 3)
}

func TestInlineDegradesWithoutCaching(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	f.client.On("Complete", mock.Anything, mock.Anything).Return("", errors.New("invalid api key"))

	req := Request{Mode: "fast", Content: "The report was reviewed by the the board."}
	resp, err := f.router.Handle(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, StrategyDegraded, resp.Strategy)
	require.NotEmpty(t, resp.Suggestions)
	assert.Equal(t, suggestion.SourceHeuristic, resp.Suggestions[0].Source)

	resp, err = f.router.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.CacheHit)
}

func TestOpenBreakerSkipsRemoteSteps(t *testing.T) {
	f := newFixture(t, fixtureOptions{threshold: 1})

	f.client.On("Complete", mock.Anything, mock.Anything).Return("", errors.New("boom"))

	resp, err := f.router.Handle(context.Background(), Request{Mode: "enhance", Content: "first request"})
	require.NoError(t, err)
	assert.Equal(t, StrategyDegraded, resp.Strategy)
	assert.Equal(t, resilience.StateOpen, f.breakers.Get(completion.Dependency).State())
	f.client.AssertNumberOfCalls(t, "Complete", 1)

	resp, err = f.router.Handle(context.Background(), Request{Mode: "enhance", Content: "second request"})
	require.NoError(t, err)
	assert.Equal(t, StrategyDegraded, resp.Strategy)
	f.client.AssertNumberOfCalls(t, "Complete", 1)
}

func TestInlineTimeout(t *testing.T) {
	f := newFixture(t, fixtureOptions{cfg: Config{InlineTimeout: 50 * time.Millisecond}})

	f.client.On("Complete", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return("", context.DeadlineExceeded)

	start := time.Now()
	_, err := f.router.Handle(context.Background(), Request{Mode: "fast", Content: "slow path"})
	require.Error(t, err)

	assert.Equal(t, KindTimeout, Classify(err))
	assert.Less(t, time.Since(start), 2*time.Second)

	f.observer.mu.Lock()
	defer f.observer.mu.Unlock()
	require.NotEmpty(t, f.observer.routes)
	assert.Equal(t, routeCall{"fast", pathInline, string(KindTimeout)}, f.observer.routes[len(f.observer.routes)-1])
}

func TestInlineCallerCancellation(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.client.On("Complete", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			cancel()
			<-args.Get(0).(context.Context).Done()
		}).
		Return("", context.Canceled)

	_, err := f.router.Handle(ctx, Request{Mode: "fast", Content: "The caller leaves early."})
	require.Error(t, err)
	assert.Equal(t, KindCancelled, Classify(err))

	f.observer.mu.Lock()
	defer f.observer.mu.Unlock()
	require.NotEmpty(t, f.observer.routes)
	assert.Equal(t, routeCall{"fast", pathInline, string(KindCancelled)}, f.observer.routes[len(f.observer.routes)-1])
}

func TestConcurrentIdenticalRequestsShareOneCall(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.client.On("Complete", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { time.Sleep(100 * time.Millisecond) }).
		Return(testutil.SuggestionList(2), nil)

	responses := make([]*Response, 5)
	var wg sync.WaitGroup
	for i := range responses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.router.Handle(context.Background(), Request{Mode: "fast", Content: "Same text."})
			assert.NoError(t, err)
			responses[i] = resp
		}(i)
	}
	wg.Wait()

	f.client.AssertNumberOfCalls(t, "Complete", 1)
	for _, resp := range responses {
		require.NotNil(t, resp)
		assert.Len(t, resp.Suggestions, 2)
	}
}

func TestConcurrentDegradedRequestsAreNotCached(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.client.On("Complete", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { time.Sleep(50 * time.Millisecond) }).
		Return("", errors.New("invalid api key"))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.router.Handle(context.Background(), Request{Mode: "fast", Content: "The report was reviewed by the the board."})
			assert.NoError(t, err)
			if assert.NotNil(t, resp) {
				assert.Equal(t, StrategyDegraded, resp.Strategy)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, f.cache.Stats().Entries)
}

func TestLargeDocumentRunsAsJob(t *testing.T) {
	f := newFixture(t, fixtureOptions{cfg: Config{AsyncThresholdBytes: 1000, ChunkBytes: 400}})

	f.client.On("Complete", mock.Anything, mock.Anything).Return(testutil.SuggestionList(2), nil)

	content := testutil.LargeDocument(1500)
	resp, err := f.router.Handle(context.Background(), Request{Mode: "fast", Content: content})
	require.NoError(t, err)

	require.NotEmpty(t, resp.JobID)
	assert.Equal(t, jobs.StatusQueued, resp.Status)
	assert.Empty(t, resp.Suggestions)

	job := f.waitForJob(t, resp.JobID, jobs.StatusCompleted)
	require.NotNil(t, job.Result)
	assert.Nil(t, job.Error)
	assert.Equal(t, 100, job.ProgressPct)

	result, ok := job.Result.(Result)
	require.True(t, ok)
	assert.Equal(t, StrategyChunked, result.Strategy)
	assert.Greater(t, result.Chunks, 1)
	assert.Len(t, result.Suggestions, 2*result.Chunks)

	// The merged result is cached for the same content and mode
	resp, err = f.router.Handle(context.Background(), Request{Mode: "fast", Content: content})
	require.NoError(t, err)
	assert.True(t, resp.CacheHit)
	assert.Len(t, resp.Suggestions, len(result.Suggestions))
}

func TestDocumentModeAlwaysAsync(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.client.On("Complete", mock.Anything, mock.Anything).Return(testutil.SuggestionList(1), nil)

	resp, err := f.router.Handle(context.Background(), Request{Mode: "document", Content: "Short doc."})
	require.NoError(t, err)
	require.NotEmpty(t, resp.JobID)

	f.waitForJob(t, resp.JobID, jobs.StatusCompleted)
}

func TestAsyncOptionForcesJob(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.client.On("Complete", mock.Anything, mock.Anything).Return(testutil.SuggestionList(1), nil)

	resp, err := f.router.Handle(context.Background(), Request{Mode: "fast", Content: "tiny", Options: Options{Async: true}})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.JobID)
}

func TestCancelRunningJob(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	started := make(chan struct{})
	var once sync.Once
	f.client.On("Complete", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			once.Do(func() { close(started) })
			<-args.Get(0).(context.Context).Done()
		}).
		Return("", context.Canceled)

	resp, err := f.router.Handle(context.Background(), Request{Mode: "document", Content: "Please review this."})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never reached the completion call")
	}

	require.NoError(t, f.router.Cancel(resp.JobID))

	job := f.waitForJob(t, resp.JobID, jobs.StatusFailed)
	require.NotNil(t, job.Error)
	assert.Equal(t, jobs.ErrCancelled.Error(), *job.Error)
	assert.Nil(t, job.Result)

	err = f.router.Cancel(resp.JobID)
	assert.Equal(t, KindJobTerminal, Classify(err))
}

func TestJobLookupErrors(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	_, err := f.router.Job("missing")
	assert.Equal(t, KindJobNotFound, Classify(err))

	_, err = f.router.Subscribe(context.Background(), "missing")
	assert.Equal(t, KindJobNotFound, Classify(err))
}

func TestSubscribeStreamsJobEvents(t *testing.T) {
	f := newFixture(t, fixtureOptions{cfg: Config{AsyncThresholdBytes: 100, ChunkBytes: 150}})
	f.client.On("Complete", mock.Anything, mock.Anything).Return(testutil.SuggestionList(1), nil)

	resp, err := f.router.Handle(context.Background(), Request{Mode: "enhance", Content: testutil.LargeDocument(300)})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	events, err := f.router.Subscribe(ctx, resp.JobID)
	require.NoError(t, err)

	var last jobs.Event
	seq := -1
	for ev := range events {
		assert.Greater(t, ev.Seq, seq)
		seq = ev.Seq
		last = ev
	}
	assert.Equal(t, jobs.EventComplete, last.Type)
}
