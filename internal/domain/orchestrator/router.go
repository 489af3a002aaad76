package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/DocRefine/backend/internal/domain/jobs"
	"github.com/GriffinCanCode/DocRefine/backend/internal/domain/suggestion"
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/cache"
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/DocRefine/backend/internal/providers/completion"
	"github.com/GriffinCanCode/DocRefine/backend/internal/providers/vectorsearch"
)

// Route paths reported to the observer
const (
	pathCache  = "cache"
	pathInline = "inline"
	pathAsync  = "async"
)

// Config holds routing thresholds
type Config struct {
	InlineTimeout       time.Duration
	CodeVersion         string
	AsyncThresholdBytes int
	MaxContentBytes     int
	ChunkBytes          int
}

// DefaultConfig returns routing defaults
func DefaultConfig() Config {
	return Config{
		InlineTimeout:       30 * time.Second,
		CodeVersion:         "v1",
		AsyncThresholdBytes: 8000,
		MaxContentBytes:     1_000_000,
		ChunkBytes:          4000,
	}
}

// Option configures optional router collaborators
type Option func(*Router)

// WithShadow enables shadow mirroring
func WithShadow(s *Shadow) Option {
	return func(r *Router) { r.shadow = s }
}

// WithObserver sets the telemetry sink
func WithObserver(o Observer) Option {
	return func(r *Router) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithTracer enables spans around routing steps
func WithTracer(t *tracing.Tracer) Option {
	return func(r *Router) { r.tracer = t }
}

// Router decides per request between cache, inline execution and a
// background job.
type Router struct {
	cfg      Config
	res      Resilience
	engine   *suggestion.Engine
	shadow   *Shadow
	observer Observer
	tracer   *tracing.Tracer
	logger   *zap.Logger
}

// NewRouter creates a router
func NewRouter(cfg Config, res Resilience, engine *suggestion.Engine, logger *zap.Logger, opts ...Option) (*Router, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}
	if engine == nil {
		return nil, errors.New("orchestrator: suggestion engine is required")
	}

	defaults := DefaultConfig()
	if cfg.InlineTimeout <= 0 {
		cfg.InlineTimeout = defaults.InlineTimeout
	}
	if cfg.CodeVersion == "" {
		cfg.CodeVersion = defaults.CodeVersion
	}
	if cfg.AsyncThresholdBytes <= 0 {
		cfg.AsyncThresholdBytes = defaults.AsyncThresholdBytes
	}
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = defaults.MaxContentBytes
	}
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = defaults.ChunkBytes
	}

	r := &Router{
		cfg:      cfg,
		res:      res,
		engine:   engine,
		observer: noopObserver{},
		logger:   logger.Named("router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resilience returns the injected shared state
func (r *Router) Resilience() Resilience {
	return r.res
}

// Handle serves req from the cache, inline, or by submitting a job. The
// shadow sample is decided from the fingerprint before the request is
// routed, so inline and background requests are mirrored alike; cache
// hits are never mirrored.
func (r *Router) Handle(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	mode, err := ParseMode(req.Mode)
	if err != nil {
		return nil, newError(KindUnknownMode, err.Error(), err)
	}
	if err := r.validate(req); err != nil {
		return nil, err
	}

	policy := mode.policy()
	key := r.fingerprint(mode, req)
	sampled := r.shadow != nil && r.shadow.Sampled(key)
	logger := r.logger.With(append(tracing.Fields(ctx), zap.String("mode", mode.String()))...)

	if policy.async || req.Options.Async || len(req.Content) > r.cfg.AsyncThresholdBytes {
		span, cctx := r.startSpan(ctx, "router.cache")
		cached, hit := cache.GetJSON[Result](cctx, r.res.Cache, key)
		r.endSpan(span, nil)
		if hit {
			return r.cacheHit(mode, cached, start), nil
		}
		return r.submit(mode, req, key, sampled, start, logger)
	}

	result, hit, ran, err := r.inline(ctx, mode, req, key)
	if hit {
		return r.cacheHit(mode, result, start), nil
	}
	if err != nil {
		oe := AsError(err)
		r.observer.RecordRoute(mode.String(), pathInline, string(oe.Kind), time.Since(start))
		logger.Warn("inline request failed", zap.String("kind", string(oe.Kind)), zap.Error(err))
		if sampled && ran && oe.Kind != KindCancelled {
			r.shadow.Mirror(mode, req, key, Result{}, oe, time.Since(start))
		}
		return nil, oe
	}
	r.observer.RecordRoute(mode.String(), pathInline, "ok", time.Since(start))

	if sampled && ran {
		r.shadow.Mirror(mode, req, key, result, nil, time.Since(start))
	}

	return &Response{
		Mode:        mode,
		Strategy:    result.Strategy,
		Suggestions: result.Suggestions,
		DurationMs:  time.Since(start).Milliseconds(),
	}, nil
}

func (r *Router) cacheHit(mode Mode, cached Result, start time.Time) *Response {
	r.observer.RecordRoute(mode.String(), pathCache, "ok", time.Since(start))
	return &Response{
		Mode:        mode,
		CacheHit:    true,
		Strategy:    StrategyCache,
		Suggestions: cached.Suggestions,
		DurationMs:  time.Since(start).Milliseconds(),
	}
}

func (r *Router) validate(req Request) error {
	if strings.TrimSpace(req.Content) == "" {
		return newError(KindInvalidRequest, "content must not be empty", nil)
	}
	if len(req.Content) > r.cfg.MaxContentBytes {
		return newError(KindInvalidRequest,
			fmt.Sprintf("content is %d bytes; the limit is %d", len(req.Content), r.cfg.MaxContentBytes), nil)
	}
	return nil
}

func (r *Router) fingerprint(mode Mode, req Request) string {
	return cache.Fingerprint(req.Content, r.cfg.CodeVersion, mode.String(), req.Options.Tone, req.Options.Audience)
}

// inline runs the fallback stack under the inline deadline. Concurrent
// identical misses share one run through the cache; a remote answer is
// cached with the mode's TTL class and a degraded one is not. ran reports
// whether this caller's run reached the fallback stack.
func (r *Router) inline(ctx context.Context, mode Mode, req Request, key string) (result Result, hit, ran bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.InlineTimeout)
	defer cancel()

	ttl := r.res.Cache.TTL(mode.policy().ttl)
	result, hit, err = cache.GetOrCompute(ctx, r.res.Cache, key, ttl, func(ctx context.Context) (Result, error) {
		ran = true
		out, err := r.execute(ctx, mode, req.Content, req.Options)
		if err == nil && out.Strategy == StrategyDegraded {
			return out, cache.ErrSkipStore
		}
		return out, err
	})

	switch {
	case err == nil:
		return result, hit, ran, nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return Result{}, false, ran, newError(KindTimeout,
			fmt.Sprintf("request exceeded the %s inline deadline; retry with options.async", r.cfg.InlineTimeout), err)
	case errors.Is(ctx.Err(), context.Canceled), errors.Is(err, context.Canceled):
		return Result{}, false, ran, newError(KindCancelled, "request cancelled by the caller", err)
	}
	return Result{}, false, ran, err
}

// execute builds and runs the fallback chain for one piece of content
func (r *Router) execute(ctx context.Context, mode Mode, content string, opts Options) (Result, error) {
	policy := mode.policy()
	params := suggestion.Params{Mode: mode.String(), Tone: opts.Tone, Audience: opts.Audience}

	var examples []vectorsearch.Example
	if policy.retrieval && r.engine.HasRetrieval() {
		examples = r.retrieve(ctx, content)
	}

	chain := resilience.NewChain[[]suggestion.Suggestion]("suggest:"+mode.String(), r.logger).
		OnStepFailure(func(label string, err error) {
			r.observer.RecordFallbackStep("suggest", label, "failed")
		})

	chain.Add(tierLabel(policy.leadTier), r.remoteStep(params, policy.leadTier, content, examples))
	chain.Add(tierLabel(policy.fallbackTier()), r.remoteStep(params, policy.fallbackTier(), content, examples))
	chain.Add(StrategyDegraded, func(context.Context) ([]suggestion.Suggestion, error) {
		out := suggestion.Degraded(content, policy.maxSuggestions)
		if len(out) == 0 {
			return nil, suggestion.ErrEmptyContent
		}
		return out, nil
	})

	span, ctx := r.startSpan(ctx, "router.chain")
	out, label, err := chain.Execute(ctx)
	r.endSpan(span, err)
	if err != nil {
		return Result{}, err
	}

	r.observer.RecordFallbackStep("suggest", label, "ok")
	return Result{Strategy: label, Suggestions: out}, nil
}

// remoteStep is Breaker(Retry(completion call)) for one tier
func (r *Router) remoteStep(params suggestion.Params, tier completion.Tier, content string, examples []vectorsearch.Example) resilience.Step[[]suggestion.Suggestion] {
	return func(ctx context.Context) ([]suggestion.Suggestion, error) {
		span, ctx := r.startSpan(ctx, "completion."+string(tier))
		out, err := guarded(ctx, r, completion.Dependency, func(ctx context.Context) ([]suggestion.Suggestion, error) {
			return r.engine.Suggest(ctx, tier, content, params, examples)
		})
		r.endSpan(span, err)
		return out, err
	}
}

// retrieve fetches style examples; failures degrade to none
func (r *Router) retrieve(ctx context.Context, content string) []vectorsearch.Example {
	span, ctx := r.startSpan(ctx, "vectorsearch.related")
	examples, err := guarded(ctx, r, vectorsearch.Dependency, func(ctx context.Context) ([]vectorsearch.Example, error) {
		return r.engine.Retrieve(ctx, content)
	})
	r.endSpan(span, err)
	if err != nil {
		r.logger.Debug("retrieval skipped", zap.Error(err))
		return nil
	}
	return examples
}

// guarded composes Breaker(Retry(op)) for dependency. A remote call that
// fails on its final permitted attempt is marked ErrRetryExhausted.
func guarded[T any](ctx context.Context, r *Router, dependency string, op func(context.Context) (T, error)) (T, error) {
	policy := r.res.Policy(dependency)
	userHook := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		r.observer.RecordRetry(dependency)
		r.logger.Debug("retrying dependency call",
			zap.String("dependency", dependency),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if userHook != nil {
			userHook(attempt, err, delay)
		}
	}

	attempts := 0
	return resilience.Guard(ctx, r.res.Breakers, dependency, func(ctx context.Context) (T, error) {
		return resilience.Do(ctx, policy, func(ctx context.Context) (T, error) {
			attempts++
			out, err := op(ctx)
			if err != nil && policy.MaxRetries > 0 && attempts > policy.MaxRetries && resilience.IsRetryable(err) {
				return out, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, err)
			}
			return out, err
		})
	})
}

func tierLabel(t completion.Tier) string {
	if t == completion.TierSecondary {
		return StrategySecondary
	}
	return StrategyPrimary
}

// submit enqueues a chunked document job and returns its handle
func (r *Router) submit(mode Mode, req Request, key string, sampled bool, start time.Time, logger *zap.Logger) (*Response, error) {
	payload := jobPayload{Mode: mode, Content: req.Content, Options: req.Options, Fingerprint: key}

	work := r.documentWork(payload)
	if sampled {
		work = r.mirrorJob(mode, req, key, work)
	}

	job, err := r.res.Jobs.Submit(mode.String(), payload, work)
	if err != nil {
		oe := AsError(err)
		r.observer.RecordRoute(mode.String(), pathAsync, string(oe.Kind), time.Since(start))
		return nil, oe
	}

	r.observer.RecordRoute(mode.String(), pathAsync, "ok", time.Since(start))
	logger.Info("job submitted", zap.String("job_id", job.ID), zap.Int("bytes", len(req.Content)))

	return &Response{
		Mode:       mode,
		JobID:      job.ID,
		Status:     jobs.StatusQueued,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// documentWork processes content chunk by chunk, checkpointing between
// chunks so cancellation is observed, and caches the merged result.
func (r *Router) documentWork(p jobPayload) jobs.WorkFunc {
	return func(ctx context.Context, progress *jobs.Progress) (interface{}, error) {
		chunks := suggestion.Chunk(p.Content, r.cfg.ChunkBytes)
		if len(chunks) == 0 {
			return nil, suggestion.ErrEmptyContent
		}

		span, ctx := r.startSpan(ctx, "job."+p.Mode.String())
		if span != nil {
			span.SetTag("job_id", progress.JobID())
		}
		defer r.endSpan(span, nil)

		merged := Result{Strategy: StrategyChunked, Chunks: len(chunks)}
		remote := false
		for i, chunk := range chunks {
			pct := i * 100 / len(chunks)
			if err := progress.Checkpoint(pct, fmt.Sprintf("processing chunk %d of %d", i+1, len(chunks))); err != nil {
				return nil, err
			}

			chunkCtx, cancel := context.WithTimeout(ctx, r.cfg.InlineTimeout)
			result, err := r.execute(chunkCtx, p.Mode, chunk, p.Options)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, fmt.Errorf("chunk %d: %w", i+1, err)
			}

			merged.Suggestions = append(merged.Suggestions, result.Suggestions...)
			merged.Strategies = append(merged.Strategies, result.Strategy)
			if result.Strategy != StrategyDegraded {
				remote = true
			}
		}

		if err := progress.Checkpoint(99, "merging suggestions"); err != nil {
			return nil, err
		}

		if remote {
			ttl := r.res.Cache.TTL(p.Mode.policy().ttl)
			if err := cache.SetJSON(ctx, r.res.Cache, p.Fingerprint, merged, ttl); err != nil {
				r.logger.Warn("failed to cache document result", zap.String("job_id", progress.JobID()), zap.Error(err))
			}
		}
		return merged, nil
	}
}

// mirrorJob mirrors a sampled job once its own run has finished, whether
// it completed or failed. Cancelled jobs are not mirrored.
func (r *Router) mirrorJob(mode Mode, req Request, key string, work jobs.WorkFunc) jobs.WorkFunc {
	return func(ctx context.Context, progress *jobs.Progress) (interface{}, error) {
		start := time.Now()
		out, err := work(ctx, progress)
		if errors.Is(err, jobs.ErrCancelled) || errors.Is(err, context.Canceled) {
			return out, err
		}
		primary, _ := out.(Result)
		r.shadow.Mirror(mode, req, key, primary, err, time.Since(start))
		return out, err
	}
}

// Job returns a job snapshot
func (r *Router) Job(jobID string) (jobs.Job, error) {
	job, err := r.res.Jobs.Store().Get(jobID)
	if err != nil {
		return jobs.Job{}, AsError(err)
	}
	return job, nil
}

// Cancel requests cooperative cancellation of a job
func (r *Router) Cancel(jobID string) error {
	if err := r.res.Jobs.Store().Cancel(jobID); err != nil {
		return AsError(err)
	}
	return nil
}

// Subscribe streams a job's events
func (r *Router) Subscribe(ctx context.Context, jobID string) (<-chan jobs.Event, error) {
	ch, err := r.res.Jobs.Store().Subscribe(ctx, jobID)
	if err != nil {
		return nil, AsError(err)
	}
	return ch, nil
}

func (r *Router) startSpan(ctx context.Context, name string) (*tracing.Span, context.Context) {
	if r.tracer == nil {
		return nil, ctx
	}
	return r.tracer.StartSpan(ctx, name)
}

func (r *Router) endSpan(span *tracing.Span, err error) {
	if r.tracer == nil || span == nil {
		return
	}
	r.tracer.End(span, err)
}
